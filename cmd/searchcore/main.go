package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/cache"
	"github.com/pressfeed/searchcore/internal/config"
	"github.com/pressfeed/searchcore/internal/db"
	dbRedis "github.com/pressfeed/searchcore/internal/db/redis"
	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/search/request"
	"github.com/pressfeed/searchcore/internal/index"
	logpkg "github.com/pressfeed/searchcore/internal/logger"
	"github.com/pressfeed/searchcore/internal/metrics"
	"github.com/pressfeed/searchcore/internal/ranker"
	"github.com/pressfeed/searchcore/internal/repository/embcache"
	vectorrepo "github.com/pressfeed/searchcore/internal/repository/vector"
	"github.com/pressfeed/searchcore/internal/retriever"
	chiTransport "github.com/pressfeed/searchcore/internal/transport/chi"
	openaiEmb "github.com/pressfeed/searchcore/internal/transport/openai"
	cacheadminuc "github.com/pressfeed/searchcore/internal/usecase/cacheadmin"
	contentuc "github.com/pressfeed/searchcore/internal/usecase/content"
	healthuc "github.com/pressfeed/searchcore/internal/usecase/health"
	searchuc "github.com/pressfeed/searchcore/internal/usecase/search"
	"github.com/pressfeed/searchcore/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting searchcore API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.Bool("store_enabled", cfg.Store.Enabled()),
		zap.Bool("embedding_enabled", cfg.Embedding.Enabled()),
	)

	metrics.RegisterCoreMetrics()

	// Shared Redis store — optional. Without it the service runs on the
	// in-process cache tier and local retrieval fallbacks.
	var store db.Store
	if cfg.Store.Enabled() {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Store.Addrs,
			Password: cfg.Store.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create store", zap.Error(err))
		}
		defer store.Close()

		ctx := context.Background()
		readiness := time.Duration(cfg.Store.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, readiness); err != nil {
			logger.Fatal("Store not ready", zap.Error(err))
		}
		logger.Info("Connected to shared store")
	}

	embedder := buildEmbedder(cfg, store, logger)

	// Remote vector index mirror needs both the store and a fixed vector
	// dimension for the FT schema.
	var mirror index.Mirror
	var remote retriever.Remote
	if store != nil && cfg.Embedding.Enabled() && cfg.Embedding.Dimensions > 0 {
		repo := vectorrepo.New(store, cfg.Store.KeyPrefix, cfg.Embedding.Dimensions)
		if err := repo.EnsureIndex(context.Background()); err != nil {
			logger.Warn("Vector index unavailable, using local retrieval", zap.Error(err))
		} else {
			mirror = repo
			remote = repo
		}
	}

	idx := index.New(embedder, mirror, logger)
	retr := retriever.New(embedder, remote, logger).
		WithAlpha(cfg.Search.Alpha).
		WithTimeout(time.Duration(cfg.Search.EmbedTimeoutMS) * time.Millisecond)
	rank := ranker.New().
		WithWeights(ranker.Weights{
			Retrieval: cfg.Ranking.RetrievalWeight,
			Recency:   cfg.Ranking.RecencyWeight,
			Quality:   cfg.Ranking.QualityWeight,
			Title:     cfg.Ranking.TitleWeight,
		}).
		WithHalfLife(time.Duration(cfg.Ranking.HalfLifeHours) * time.Hour)

	// Tiered cache. The shared store doubles as the shared tier when present.
	var tiered *cache.Cache
	if !cfg.Cache.Disabled {
		var sharedTier cache.SharedStore
		if store != nil {
			sharedTier = store
		}
		tiered, err = cache.New(sharedTier, cache.Options{
			Capacity:      cfg.Cache.Capacity,
			SharedTimeout: time.Duration(cfg.Cache.SharedTimeoutMS) * time.Millisecond,
			KeyPrefix:     cfg.Store.KeyPrefix,
			TTLs: map[cache.Category]time.Duration{
				cache.CategorySearch:  time.Duration(cfg.Cache.SearchTTLSec) * time.Second,
				cache.CategoryFacets:  time.Duration(cfg.Cache.FacetsTTLSec) * time.Second,
				cache.CategorySuggest: time.Duration(cfg.Cache.SuggestTTLSec) * time.Second,
				cache.CategoryPopular: time.Duration(cfg.Cache.PopularTTLSec) * time.Second,
			},
			OpsTotal: metrics.CacheOpsTotal,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to create cache", zap.Error(err))
		}
	}

	// Use case services
	var resultCache searchuc.ResultCache
	if tiered != nil {
		resultCache = tiered
	}
	searchSvc := searchuc.New(idx, retr, rank, resultCache, logger)

	var invalidator contentuc.Invalidator
	if tiered != nil {
		invalidator = tiered
	}
	contentSvc := contentuc.New(idx, invalidator, logger)

	var cacheAdminSvc *cacheadminuc.Service
	if tiered != nil {
		warmer := cache.NewPrecomputer(tiered, logger).
			WithWorkers(cfg.Cache.WarmWorkers).
			WithTimeout(time.Duration(cfg.Cache.WarmTimeoutSec) * time.Second)
		cacheAdminSvc = cacheadminuc.New(tiered, searchSvc, warmer, logger)
	}

	var storePinger healthuc.StorePinger
	if store != nil {
		storePinger = store
	}
	// Pass nil interface (not typed nil pointer!) if embedding is not configured.
	var embChecker healthuc.EmbeddingChecker
	if c := newEmbeddingHealthChecker(embedder); c != nil {
		embChecker = c
	}
	healthSvc := healthuc.New(storePinger, embChecker, idx)

	server := chiTransport.NewServer(searchSvc, contentSvc, cacheAdminSvc, healthSvc, logger).
		WithPageLimits(request.Limits{
			DefaultPageSize: cfg.Search.DefaultPageSize,
			MaxPageSize:     cfg.Search.MaxPageSize,
		})

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder assembles the embedder chain: OpenAI -> Cached. Returns nil
// when no provider is configured; the service then answers keyword-only.
func buildEmbedder(cfg config.Config, store db.Store, logger *zap.Logger) domain.Embedder {
	if !cfg.Embedding.Enabled() {
		logger.Warn("No embedding provider configured, semantic retrieval disabled")
		return nil
	}

	base := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "openai",
		Logger:     logger,
	})

	if store != nil {
		return embcache.New(base, store, cfg.Store.KeyPrefix, metrics.EmbeddingCacheTotal, logger)
	}
	return base
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	if embedder == nil {
		return nil
	}
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
