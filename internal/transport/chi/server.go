// Package chi is the HTTP transport: routing, DTO mapping, and domain error
// translation.
package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pressfeed/searchcore/internal/domain"
	"github.com/pressfeed/searchcore/internal/domain/search/mode"
	"github.com/pressfeed/searchcore/internal/domain/search/request"
	logpkg "github.com/pressfeed/searchcore/internal/logger"
	cacheadminuc "github.com/pressfeed/searchcore/internal/usecase/cacheadmin"
	contentuc "github.com/pressfeed/searchcore/internal/usecase/content"
	healthuc "github.com/pressfeed/searchcore/internal/usecase/health"
	searchuc "github.com/pressfeed/searchcore/internal/usecase/search"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server is the HTTP API server.
type Server struct {
	search        *searchuc.Service
	content       *contentuc.Service
	cacheAdmin    *cacheadminuc.Service
	health        *healthuc.Service
	pageLimits    request.Limits
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server. cacheAdmin may be nil when caching
// is disabled; its routes then answer 404.
func NewServer(
	search *searchuc.Service,
	content *contentuc.Service,
	cacheAdmin *cacheadminuc.Service,
	health *healthuc.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		search:     search,
		content:    content,
		cacheAdmin: cacheAdmin,
		health:     health,
		logger:     logger,
	}
	s.errorHandlers = []errorHandler{
		validationHandler,
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrEmbeddingUnavailable, http.StatusBadGateway, codeEmbeddingUnavailable),
	}
	return s
}

// WithPageLimits overrides the pagination limits applied to search requests.
func (s *Server) WithPageLimits(l request.Limits) *Server {
	s.pageLimits = l
	return s
}

// Routes registers all API routes on the router.
func (s *Server) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/search", s.handleSearch)

		r.Route("/content", func(r chi.Router) {
			r.Post("/", s.handleAddContent)
			r.Get("/{id}", s.handleGetContent)
			r.Put("/{id}", s.handleUpsertContent)
			r.Delete("/{id}", s.handleRemoveContent)
		})

		if s.cacheAdmin != nil {
			r.Route("/cache", func(r chi.Router) {
				r.Delete("/", s.handleClearCache)
				r.Delete("/{category}", s.handleInvalidateCategory)
				r.Post("/invalidate", s.handleInvalidatePattern)
				r.Get("/stats", s.handleCacheStats)
				r.Post("/precompute", s.handlePrecompute)
			})
		}
	})

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var dto searchRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	req, err := searchRequestFromDTO(dto, s.pageLimits)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp, err := s.search.Search(r.Context(), &req)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddContent(w http.ResponseWriter, r *http.Request) {
	var dto contentItemDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	item, err := itemFromDTO(dto.ID, dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	if err := s.content.Add(r.Context(), item); err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/content/"+item.ID())
	writeJSON(w, http.StatusCreated, itemToDTO(item))
}

func (s *Server) handleGetContent(w http.ResponseWriter, r *http.Request) {
	item, err := s.content.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, itemToDTO(item))
}

func (s *Server) handleUpsertContent(w http.ResponseWriter, r *http.Request) {
	var dto contentItemDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	// The path id is authoritative; a mismatched body id is rejected.
	id := chi.URLParam(r, "id")
	if dto.ID != "" && dto.ID != id {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "body id does not match path id")
		return
	}

	item, err := itemFromDTO(id, dto)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeValidationFailed, err.Error())
		return
	}

	created, err := s.content.Upsert(r.Context(), item)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		w.Header().Set("Location", "/v1/content/"+id)
	}
	writeJSON(w, status, itemToDTO(item))
}

func (s *Server) handleRemoveContent(w http.ResponseWriter, r *http.Request) {
	if err := s.content.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	n := s.cacheAdmin.Clear(r.Context())
	writeJSON(w, http.StatusOK, invalidateResponseDTO{Invalidated: n})
}

func (s *Server) handleInvalidateCategory(w http.ResponseWriter, r *http.Request) {
	n, err := s.cacheAdmin.InvalidateCategory(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponseDTO{Invalidated: n})
}

func (s *Server) handleInvalidatePattern(w http.ResponseWriter, r *http.Request) {
	var dto invalidateRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	n, err := s.cacheAdmin.InvalidatePattern(r.Context(), dto.Pattern)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invalidateResponseDTO{Invalidated: n})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cacheAdmin.Stats())
}

func (s *Server) handlePrecompute(w http.ResponseWriter, r *http.Request) {
	var dto precomputeRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "invalid request body: "+err.Error())
		return
	}

	report, err := s.cacheAdmin.Precompute(r.Context(), dto.Queries, mode.Mode(dto.Mode))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, precomputeResponseDTO{
		Warmed:   report.Warmed,
		Cached:   report.Cached,
		TimedOut: report.TimedOut,
		Failed:   report.Failed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	// Degraded still answers 200: search keeps working on local fallbacks.
	writeJSON(w, http.StatusOK, healthResponseDTO{
		Status:       string(report.Status),
		Checks:       checks,
		IndexedItems: report.IndexedItems,
	})
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	logpkg.FromContext(r.Context()).Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	sentinels := []error{
		domain.ErrNotFound,
		domain.ErrValidation,
		domain.ErrEmbeddingUnavailable,
		domain.ErrIndexUnavailable,
		domain.ErrSearchFailed,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

// validationHandler surfaces the offending field for validation failures.
func validationHandler(w http.ResponseWriter, err error, msg string) bool {
	if !errors.Is(err, domain.ErrValidation) {
		return false
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":    codeValidationFailed,
			"message": msg,
			"field":   verr.Field,
		})
		return true
	}
	writeError(w, http.StatusBadRequest, codeValidationFailed, msg)
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
