package core

import (
	"context"
	"time"
)

// OutcomeStatus identifies how a drained task finished.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// TaskResult carries the producer-visible result of one invocation.
type TaskResult struct {
	Message    string         `json:"message,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	ExtraData  map[string]any `json:"extra_data,omitempty"`
}

// Producer executes one unit of queued work. Producers receive the run
// context and must honor cancellation; they are invoked at most once.
type Producer func(ctx context.Context) (*TaskResult, error)

// Task is a single queued unit of work, drained under rate control.
type Task struct {
	Name string
	Run  Producer
}

// Outcome records the drained result for one task, in queue order.
type Outcome struct {
	Index      int            `json:"index"`
	Name       string         `json:"name"`
	Status     OutcomeStatus  `json:"status"`
	Message    string         `json:"message,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	ExtraData  map[string]any `json:"extra_data,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	DurationMS int64          `json:"duration_ms"`
	WaitedMS   int64          `json:"waited_ms"`
}

// Snapshot is a side-effect-free view of the bucket pair: remaining tokens
// per window plus the countdown to each window's next refill, floored at 0.
type Snapshot struct {
	SecondRemaining        float64 `json:"tokens_per_second_remaining"`
	MinuteRemaining        float64 `json:"tokens_per_minute_remaining"`
	SecondCountdownSeconds float64 `json:"per_second_countdown_seconds"`
	MinuteCountdownSeconds float64 `json:"per_minute_countdown_seconds"`
}

// RunReport summarizes one drain run.
type RunReport struct {
	RunID      string    `json:"run_id"`
	Outcomes   []Outcome `json:"outcomes"`
	TaskCount  int       `json:"task_count"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	PerSecond  int       `json:"per_second"`
	PerMinute  int       `json:"per_minute"`
	BufferPct  float64   `json:"buffer_pct"`
	Cancelled  bool      `json:"cancelled,omitempty"`
}

// LimitsView pairs the configured windows with their effective capacities
// and, when a limiter is live, the current snapshot.
type LimitsView struct {
	PerSecondRaw       int       `json:"per_second_raw"`
	PerMinuteRaw       int       `json:"per_minute_raw"`
	BufferPct          float64   `json:"buffer_pct"`
	PerSecondEffective float64   `json:"per_second_effective"`
	PerMinuteEffective float64   `json:"per_minute_effective"`
	Snapshot           *Snapshot `json:"snapshot,omitempty"`
}

// RunSummary is the outcome-free view of a stored run for history listings.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	TaskCount  int       `json:"task_count"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	ElapsedMS  int64     `json:"elapsed_ms"`
	PerSecond  int       `json:"per_second"`
	PerMinute  int       `json:"per_minute"`
	BufferPct  float64   `json:"buffer_pct"`
	Cancelled  bool      `json:"cancelled,omitempty"`
}
