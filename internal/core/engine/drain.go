package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/paceline/paceline/internal/core"
)

var errNoProducer = errors.New("task has no producer")

// Acquirer grants one unit of combined rate budget per call.
type Acquirer interface {
	AcquireOne(ctx context.Context) error
}

// ProgressFunc receives the completed and pending counts after each task
// finishes. Calls are synchronous and strictly ordered.
type ProgressFunc func(completed, pending int)

// Drainer processes a task queue strictly in input order, one task at a
// time, acquiring from the limiter before each invocation. A failing task
// is captured as a failed outcome and the drain continues unless FailFast
// is set; cancellation returns the outcomes completed so far.
type Drainer struct {
	Limiter  Acquirer
	Limits   Limits
	Clock    func() time.Time
	FailFast bool
}

// Drain runs every queued task in order and returns their outcomes. The
// returned slice always reflects exactly the tasks that finished, in queue
// order, and the progress callback fires once per finished task with a
// strictly increasing completed count.
func (d *Drainer) Drain(ctx context.Context, tasks []core.Task, onProgress ProgressFunc) ([]core.Outcome, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	outcomes := make([]core.Outcome, 0, len(tasks))

	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}

		waitStart := d.now()
		if d.Limiter != nil {
			if err := d.Limiter.AcquireOne(ctx); err != nil {
				return outcomes, err
			}
		}
		waited := d.now().Sub(waitStart)

		startedAt := d.now()
		result, err := d.invoke(ctx, task)
		finishedAt := d.now()

		outcome := core.Outcome{
			Index:      i,
			Name:       task.Name,
			Status:     core.OutcomeSucceeded,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
			DurationMS: finishedAt.Sub(startedAt).Milliseconds(),
			WaitedMS:   waited.Milliseconds(),
		}
		if result != nil {
			outcome.Message = result.Message
			outcome.StatusCode = result.StatusCode
			outcome.ExtraData = result.ExtraData
		}
		if err != nil {
			outcome.Status = core.OutcomeFailed
			outcome.Message = err.Error()
		}

		outcomes = append(outcomes, outcome)
		if onProgress != nil {
			onProgress(len(outcomes), len(tasks)-len(outcomes))
		}

		if err != nil && d.FailFast {
			return outcomes, err
		}
	}

	return outcomes, nil
}

// Run drains the queue and assembles a run report around the outcomes. On
// cancellation the report carries the partial outcomes and is returned
// together with the cancellation error.
func (d *Drainer) Run(ctx context.Context, tasks []core.Task, onProgress ProgressFunc) (*core.RunReport, error) {
	startedAt := d.now()
	outcomes, err := d.Drain(ctx, tasks, onProgress)
	finishedAt := d.now()

	report := &core.RunReport{
		RunID:      uuid.New().String(),
		Outcomes:   outcomes,
		TaskCount:  len(tasks),
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
		ElapsedMS:  finishedAt.Sub(startedAt).Milliseconds(),
		PerSecond:  d.Limits.PerSecond,
		PerMinute:  d.Limits.PerMinute,
		BufferPct:  d.Limits.BufferPct,
	}
	for _, outcome := range outcomes {
		switch outcome.Status {
		case core.OutcomeFailed:
			report.Failed++
		default:
			report.Succeeded++
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		report.Cancelled = true
	}

	return report, err
}

func (d *Drainer) invoke(ctx context.Context, task core.Task) (*core.TaskResult, error) {
	if task.Run == nil {
		return nil, errNoProducer
	}
	return task.Run(ctx)
}

func (d *Drainer) now() time.Time {
	if d != nil && d.Clock != nil {
		return d.Clock()
	}
	return time.Now().UTC()
}
