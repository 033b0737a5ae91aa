// Package api provides the HTTP adapter for the affnet engine.
// It exposes referral intake, commission calculation, the inactivity pass
// and configuration administration as JSON endpoints.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/affnet-network/affnet/internal/app/engine"
	"github.com/affnet-network/affnet/internal/domain"
	"github.com/affnet-network/affnet/internal/infra/observability"
)

// Server is the affnet HTTP API server.
type Server struct {
	svc            *engine.Service
	runner         *engine.Runner // nil when the daily runner is disabled
	log            *zap.Logger
	version        string
	metricsEnabled bool
	now            func() time.Time
}

// NewServer creates a new API server. version is reported by /api/version.
func NewServer(svc *engine.Service, log *zap.Logger, version string) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, log: log.Named("api"), version: version, now: time.Now}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetRunner exposes the daily runner's stats on /api/status.
func (s *Server) SetRunner(r *engine.Runner) { s.runner = r }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(traceMiddleware)
	r.Use(s.logMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
	})
	r.Get("/api/status", s.handleStatus)

	r.Route("/api/config", func(r chi.Router) {
		r.Get("/", s.handleConfigCurrent)
		r.Put("/", s.handleConfigApply)
		r.Post("/validate", s.handleConfigValidate)
		r.Get("/versions/{version}", s.handleConfigVersion)
	})

	r.Route("/api/affiliates", func(r chi.Router) {
		r.Post("/", s.handleRegister)
		r.Get("/{id}", s.handleAffiliate)
		r.Get("/{id}/progress", s.handleProgress)
		r.Get("/{id}/level-ups", s.handleLevelUps)
		r.Get("/{id}/chain", s.handleChain)
		r.Post("/{id}/reset", s.handleManualReset)
		r.Post("/{id}/approve", s.handleApprove)
	})

	r.Post("/api/referrals", s.handleReferral)
	r.Post("/api/rules/evaluate", s.handleEvaluate)
	r.Get("/api/tiers/resolve", s.handleResolveLevel)

	r.Post("/api/ngr", s.handleNgr)
	r.Post("/api/distribute", s.handleDistribute)
	r.Post("/api/settle", s.handleSettle)

	r.Route("/api/inactivity", func(r chi.Router) {
		r.Post("/pass", s.handlePass)
		r.Post("/retry", s.handleRetry)
		r.Get("/runs", s.handleRuns)
		r.Get("/failures", s.handleFailures)
	})

	r.Get("/api/traces", s.handleTraces)

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "affnet is running"}
	if cur, err := s.svc.CurrentConfig(); err == nil {
		resp["snapshot_version"] = cur.Version
	} else {
		resp["snapshot_version"] = nil
	}
	if s.runner != nil {
		resp["runner"] = s.runner.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	writeJSON(w, http.StatusOK, map[string]any{
		"spans": s.svc.Tracer().Spans(limit),
		"count": s.svc.Tracer().SpanCount(),
	})
}

// ─── Middleware ─────────────────────────────────────────────────────────────

// traceMiddleware makes the request ID the trace ID of every span the
// request records.
func traceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(observability.WithTraceID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errorType(status),
		},
	})
}

// writeDomainError maps engine errors onto HTTP statuses.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownAffiliate),
		errors.Is(err, domain.ErrSnapshotNotFound),
		errors.Is(err, domain.ErrUnknownCategory),
		errors.Is(err, domain.ErrUnknownLevel):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAffiliateExists),
		errors.Is(err, domain.ErrDuplicateReferral),
		errors.Is(err, domain.ErrNotEligible),
		errors.Is(err, domain.ErrAlreadyActive):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidReferral):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrManualResetDisabled):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNoSnapshot):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrTierRangeGap),
		errors.Is(err, domain.ErrTierRangeOverlap),
		errors.Is(err, domain.ErrInvalidCatalog),
		errors.Is(err, domain.ErrInvalidRule),
		errors.Is(err, domain.ErrNoActiveRule),
		errors.Is(err, domain.ErrMultipleActiveRules),
		errors.Is(err, domain.ErrInvalidSettings),
		errors.Is(err, domain.ErrInvalidSchedule),
		errors.Is(err, domain.ErrReferralCycle),
		errors.Is(err, domain.ErrChainTooLong),
		errors.Is(err, domain.ErrReferralsNotIncreased):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func errorType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusUnprocessableEntity:
		return "invalid_configuration"
	case http.StatusServiceUnavailable:
		return "unavailable"
	}
	return "error"
}

// decode reads a JSON body into v, rejecting unknown fields.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}
