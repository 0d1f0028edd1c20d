package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/paceline/paceline/internal/core"
	"github.com/paceline/paceline/internal/core/engine"
)

// SnapshotProvider reports live token state without consuming any.
type SnapshotProvider interface {
	Snapshot() core.Snapshot
}

// LimiterHandler serves the pull-based view of the dual-window limiter.
type LimiterHandler struct {
	limiter SnapshotProvider
	limits  engine.Limits
}

// NewLimiterHandler wires the live limiter and its configured limits.
func NewLimiterHandler(limiter SnapshotProvider, limits engine.Limits) *LimiterHandler {
	return &LimiterHandler{limiter: limiter, limits: limits}
}

// Show reports the configured caps, the effective capacities after the
// buffer, and the current token snapshot. Reading never consumes tokens, so
// polling this endpoint cannot affect a drain in progress.
func (h *LimiterHandler) Show(w http.ResponseWriter, r *http.Request) {
	view := core.LimitsView{
		PerSecondRaw:       h.limits.PerSecond,
		PerMinuteRaw:       h.limits.PerMinute,
		BufferPct:          h.limits.BufferPct,
		PerSecondEffective: engine.EffectiveCapacity(h.limits.PerSecond, h.limits.BufferPct),
		PerMinuteEffective: engine.EffectiveCapacity(h.limits.PerMinute, h.limits.BufferPct),
	}
	if h.limiter != nil {
		snap := h.limiter.Snapshot()
		view.Snapshot = &snap
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(view)
}
