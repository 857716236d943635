package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// DefaultWarmTimeout bounds each precompute query.
const DefaultWarmTimeout = 2 * time.Second

// DefaultWarmWorkers bounds concurrent precompute searches.
const DefaultWarmWorkers = 4

// DefaultWarmRate bounds precompute searches per second, keeping warm-up
// traffic from starving live requests.
const DefaultWarmRate = 10

// WarmJob is one precompute unit: the cache key it would populate and the
// search that populates it.
type WarmJob struct {
	Key string
	Run func(ctx context.Context) error
}

// WarmReport counts precompute outcomes. Timed-out queries are skipped and
// counted, not retried within the batch.
type WarmReport struct {
	Warmed   int `json:"warmed"`
	Cached   int `json:"already_cached"`
	TimedOut int `json:"timed_out"`
	Failed   int `json:"failed"`
}

// Precomputer warms the cache for a list of queries through the live search
// path, with bounded workers, a rate limit, and a per-query timeout.
type Precomputer struct {
	cache   *Cache
	workers int
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewPrecomputer creates a precomputer with default bounds.
func NewPrecomputer(c *Cache, logger *zap.Logger) *Precomputer {
	return &Precomputer{
		cache:   c,
		workers: DefaultWarmWorkers,
		timeout: DefaultWarmTimeout,
		limiter: rate.NewLimiter(rate.Limit(DefaultWarmRate), DefaultWarmWorkers),
		logger:  logger,
	}
}

// WithTimeout overrides the per-query timeout.
func (p *Precomputer) WithTimeout(d time.Duration) *Precomputer {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// WithWorkers overrides the worker bound.
func (p *Precomputer) WithWorkers(n int) *Precomputer {
	if n > 0 {
		p.workers = n
	}
	return p
}

// Warm runs the jobs whose keys are not already cached. Blocking; callers
// wanting fire-and-forget run it on a goroutine.
func (p *Precomputer) Warm(ctx context.Context, jobs []WarmJob) WarmReport {
	var report WarmReport
	results := make([]int, len(jobs)) // 0=warmed 1=cached 2=timeout 3=failed

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for i, job := range jobs {
		g.Go(func() error {
			results[i] = p.warmOne(gctx, job)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r {
		case 0:
			report.Warmed++
		case 1:
			report.Cached++
		case 2:
			report.TimedOut++
		default:
			report.Failed++
		}
	}

	p.logger.Info("cache warm-up finished",
		zap.Int("warmed", report.Warmed),
		zap.Int("already_cached", report.Cached),
		zap.Int("timed_out", report.TimedOut),
		zap.Int("failed", report.Failed),
	)
	return report
}

func (p *Precomputer) warmOne(ctx context.Context, job WarmJob) int {
	if p.cache.Has(ctx, job.Key) {
		return 1
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return 2
	}

	jctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := job.Run(jctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		p.logger.Warn("precompute query timed out", zap.String("key", job.Key))
		return 2
	default:
		p.logger.Warn("precompute query failed", zap.String("key", job.Key), zap.Error(err))
		return 3
	}
}
