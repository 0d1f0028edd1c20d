package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/paceline/paceline/internal/core"
	"github.com/paceline/paceline/internal/core/engine"
	"github.com/paceline/paceline/internal/core/store"
	"github.com/paceline/paceline/internal/core/tasks"
	apperrors "github.com/paceline/paceline/internal/errors"
	"github.com/paceline/paceline/internal/metrics"
	"github.com/paceline/paceline/internal/observability"
)

const (
	maxRunBody          = 1 << 20
	defaultHistoryLimit = 20
)

// runRequest is the POST /api/v1/runs payload. The body is parsed as YAML,
// which accepts JSON bodies as well.
type runRequest struct {
	Tasks    []tasks.Spec `json:"tasks" yaml:"tasks"`
	FailFast bool         `json:"fail_fast,omitempty" yaml:"fail_fast,omitempty"`
}

type listRunsResponse struct {
	Runs  []core.RunSummary `json:"runs"`
	Count int               `json:"count"`
}

// RunsHandler executes submitted task queues and serves stored history.
// Only one run drains at a time; a second submission while one is in flight
// is rejected with a conflict instead of interleaving, so queue order stays
// strict and the shared limiter is never contended.
type RunsHandler struct {
	limiter *engine.TokenBucketPair
	limits  engine.Limits
	builder *tasks.Builder
	store   *store.Store

	mu     sync.Mutex
	active bool
}

// NewRunsHandler wires the limiter, task builder, and optional store. A nil
// store disables history routes with a 503 rather than failing requests.
func NewRunsHandler(limiter *engine.TokenBucketPair, limits engine.Limits, builder *tasks.Builder, db *store.Store) *RunsHandler {
	return &RunsHandler{limiter: limiter, limits: limits, builder: builder, store: db}
}

func (h *RunsHandler) begin() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		return false
	}
	h.active = true
	return true
}

func (h *RunsHandler) end() {
	h.mu.Lock()
	h.active = false
	h.mu.Unlock()
}

// Create drains a submitted queue and returns the run report. Captured task
// failures are carried inside the report; the request itself only fails for
// invalid input or when another run is already draining.
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRunBody))
	if err != nil {
		respondWithError(w, r, apperrors.NewInvalidInputError("unable to read request body"))
		return
	}

	var req runRequest
	if err := yaml.Unmarshal(body, &req); err != nil {
		respondWithError(w, r, apperrors.NewValidationError("invalid run request: "+err.Error()))
		return
	}
	specs, err := tasks.NormalizeSpecs(req.Tasks)
	if err != nil {
		respondWithError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	if !h.begin() {
		respondWithError(w, r, apperrors.NewConflictError("a run is already draining; retry once it completes"))
		return
	}
	defer h.end()

	queue, err := h.builder.Build(specs)
	if err != nil {
		respondWithError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}

	drainer := &engine.Drainer{Limiter: h.limiter, Limits: h.limits, FailFast: req.FailFast}
	report, runErr := drainer.Run(r.Context(), queue, nil)
	metrics.RecordRunReport(report)

	if h.store != nil {
		// Persist even when the client went away mid-drain.
		saveCtx := context.WithoutCancel(r.Context())
		if err := h.store.SaveRun(saveCtx, report); err != nil && observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Failed to persist run report",
				zap.String("run_id", report.RunID),
				zap.Error(err))
		}
	}

	if runErr != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Run ended before the queue drained",
			zap.String("run_id", report.RunID),
			zap.Int("completed", len(report.Outcomes)),
			zap.Int("queued", report.TaskCount),
			zap.Error(runErr))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(report)
}

// List serves stored run summaries, most recent first.
func (h *RunsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondWithError(w, r, gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "run store not configured"))
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondWithError(w, r, apperrors.NewInvalidInputError("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	summaries, err := h.store.ListRuns(r.Context(), limit)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "unable to list runs"))
		return
	}
	if summaries == nil {
		summaries = []core.RunSummary{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(listRunsResponse{Runs: summaries, Count: len(summaries)})
}

// Show serves the full stored report for one run.
func (h *RunsHandler) Show(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		respondWithError(w, r, gferrors.NewErrorEnvelope("SERVICE_UNAVAILABLE", "run store not configured"))
		return
	}

	runID := chi.URLParam(r, "runID")
	report, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "unable to load run"))
		return
	}
	if report == nil {
		respondWithError(w, r, apperrors.NewNotFoundError("run "+runID+" not found"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(report)
}
