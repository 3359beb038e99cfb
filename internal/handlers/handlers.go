// Package handlers provides HTTP handlers for the negotiator service.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/verdictlabs/negotiator/internal/engine"
	"github.com/verdictlabs/negotiator/internal/errs"
	"github.com/verdictlabs/negotiator/internal/metrics"
	"github.com/verdictlabs/negotiator/internal/middleware"
	"github.com/verdictlabs/negotiator/pkg/config"
	"github.com/verdictlabs/negotiator/pkg/logger"
	"github.com/verdictlabs/negotiator/pkg/models"
)

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// BuildInfo contains build information.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// Config holds the handler configuration.
type Config struct {
	Engine    *engine.Engine
	Config    *config.Config
	Logger    *logger.Logger
	Metrics   *metrics.Metrics
	BuildInfo BuildInfo
}

// Handler provides HTTP handlers for the negotiator.
type Handler struct {
	engine    *engine.Engine
	cfg       *config.Config
	log       *logger.Logger
	metrics   *metrics.Metrics
	buildInfo BuildInfo
}

// New creates a new Handler.
func New(cfg Config) *Handler {
	return &Handler{
		engine:    cfg.Engine,
		cfg:       cfg.Config,
		log:       cfg.Logger.WithComponent("handlers"),
		metrics:   cfg.Metrics,
		buildInfo: cfg.BuildInfo,
	}
}

// Router returns the HTTP router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.loggingMiddleware)
	r.Use(chimw.Timeout(h.cfg.API.RequestTimeout))

	r.Get("/health", h.healthCheck)
	r.Get("/ready", h.readyCheck)

	if h.cfg.Metrics.Enabled && h.metrics != nil {
		r.Method(http.MethodGet, h.cfg.Metrics.Path, h.metrics.Handler())
	}

	auth := middleware.RequireAPIKey(h.cfg.API.AuthKey, h.log)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/outcomes", h.listOutcomes)
		r.Get("/weights", h.getWeights)

		// Assessment and the mutating operations require the API key when
		// one is configured.
		r.Group(func(r chi.Router) {
			r.Use(auth)
			r.Post("/assess", h.assess)
			r.Post("/outcomes", h.recordOutcome)
			r.Post("/tune", h.tuneNow)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

// =============================================================================
// Health Endpoints
// =============================================================================

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"service":   "negotiator",
		"version":   h.buildInfo.Version,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) readyCheck(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"store": "ok",
	}

	status := http.StatusOK
	if err := h.engine.Ready(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}

	h.respond(w, status, map[string]any{
		"ready":  status == http.StatusOK,
		"checks": checks,
	})
}

// =============================================================================
// Assessment Endpoint
// =============================================================================

func (h *Handler) assess(w http.ResponseWriter, r *http.Request) {
	var dctx models.DeploymentContext
	if err := json.NewDecoder(r.Body).Decode(&dctx); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if dctx.DeploymentID == "" {
		dctx.DeploymentID = uuid.NewString()
	}

	response, err := h.engine.Assess(r.Context(), &dctx)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	h.respond(w, http.StatusOK, response)
}

// =============================================================================
// Outcome Endpoints
// =============================================================================

// RecordOutcomeRequest is the request body for outcome recording. When only
// a deployment id is supplied, a minimal context is synthesized server-side.
type RecordOutcomeRequest struct {
	DeploymentID               string                    `json:"deployment_id"`
	Context                    *models.DeploymentContext `json:"context,omitempty"`
	ActualErrorRatePercent     float64                   `json:"actual_error_rate_percent"`
	ActualLatencyChangePercent float64                   `json:"actual_latency_change_percent"`
	RollbackTriggered          bool                      `json:"rollback_triggered"`
}

// RecordOutcomeResponse confirms a persisted outcome.
type RecordOutcomeResponse struct {
	Status       string    `json:"status"`
	DeploymentID string    `json:"deployment_id"`
	FinalScore   float64   `json:"final_score"`
	Timestamp    time.Time `json:"timestamp"`
}

func (h *Handler) recordOutcome(w http.ResponseWriter, r *http.Request) {
	var req RecordOutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	dctx := req.Context
	if dctx == nil {
		minimal := models.MinimalContext(req.DeploymentID)
		dctx = &minimal
	} else if dctx.DeploymentID == "" {
		dctx.DeploymentID = req.DeploymentID
	}

	outcome, err := h.engine.RecordOutcome(
		r.Context(),
		dctx,
		req.ActualErrorRatePercent,
		req.ActualLatencyChangePercent,
		req.RollbackTriggered,
	)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	h.respond(w, http.StatusOK, RecordOutcomeResponse{
		Status:       "success",
		DeploymentID: outcome.DeploymentID,
		FinalScore:   outcome.FinalScore,
		Timestamp:    outcome.Timestamp,
	})
}

// ListOutcomesResponse is the recent-outcomes listing.
type ListOutcomesResponse struct {
	Total    int64                      `json:"total"`
	Outcomes []models.DeploymentOutcome `json:"outcomes"`
}

func (h *Handler) listOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > maxListLimit {
			h.respondError(w, http.StatusBadRequest, "limit must be an integer between 0 and 500", err)
			return
		}
		limit = parsed
	}

	outcomes, err := h.engine.RecentOutcomes(r.Context(), limit)
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	total, err := h.engine.OutcomeCount(r.Context())
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	h.respond(w, http.StatusOK, ListOutcomesResponse{
		Total:    total,
		Outcomes: outcomes,
	})
}

// =============================================================================
// Tuning Endpoints
// =============================================================================

func (h *Handler) getWeights(w http.ResponseWriter, r *http.Request) {
	weights := h.engine.Weights()

	response := map[string]any{
		"heuristic_weight": weights.HeuristicWeight,
		"ml_weight":        weights.MLWeight,
	}
	if last := h.engine.LastTune(); last != nil {
		response["last_tune"] = last
	}

	h.respond(w, http.StatusOK, response)
}

func (h *Handler) tuneNow(w http.ResponseWriter, r *http.Request) {
	result, err := h.engine.TuneNow(r.Context())
	if err != nil {
		h.respondEngineError(w, err)
		return
	}

	h.respond(w, http.StatusOK, result)
}

// =============================================================================
// Response Helpers
// =============================================================================

func (h *Handler) respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, status int, message string, err error) {
	if status >= http.StatusInternalServerError {
		h.log.Error(message, "error", err)
	} else {
		h.log.Debug(message, "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil && !h.cfg.IsProduction() {
		response["details"] = err.Error()
	}

	if encErr := json.NewEncoder(w).Encode(response); encErr != nil {
		h.log.Error("failed to encode error response", "error", encErr)
	}
}

// respondEngineError maps the engine error taxonomy onto HTTP statuses.
func (h *Handler) respondEngineError(w http.ResponseWriter, err error) {
	var (
		validationErr *errs.ValidationError
		storageErr    *errs.StorageError
		notReadyErr   *errs.NotReadyError
		timeoutErr    *errs.TimeoutError
	)

	switch {
	case errors.As(err, &validationErr):
		h.respondError(w, http.StatusBadRequest, validationErr.Error(), nil)
	case errors.As(err, &notReadyErr):
		h.respondError(w, http.StatusServiceUnavailable, "engine not ready", err)
	case errors.As(err, &storageErr):
		h.respondError(w, http.StatusServiceUnavailable, "outcome store unavailable", err)
	case errors.As(err, &timeoutErr):
		h.respondError(w, http.StatusGatewayTimeout, "request deadline exceeded", err)
	default:
		h.respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}
