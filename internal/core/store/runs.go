package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/paceline/paceline/internal/core"
)

// SaveRun persists a run report and its outcomes in one transaction.
func (s *Store) SaveRun(ctx context.Context, report *core.RunReport) error {
	if s == nil || s.DB == nil {
		return errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if report == nil {
		return errors.New("run report is required")
	}

	runID := strings.TrimSpace(report.RunID)
	if runID == "" {
		return errors.New("run id is required")
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin run save: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	cancelledValue := 0
	if report.Cancelled {
		cancelledValue = 1
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, task_count, succeeded, failed, cancelled, per_second, per_minute, buffer_pct, started_at, finished_at, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, report.TaskCount, report.Succeeded, report.Failed, cancelledValue,
		report.PerSecond, report.PerMinute, report.BufferPct,
		report.StartedAt.UTC().UnixMilli(), report.FinishedAt.UTC().UnixMilli(), report.ElapsedMS)
	if err != nil {
		return fmt.Errorf("store run: %w", err)
	}

	for _, outcome := range report.Outcomes {
		var extraJSON sql.NullString
		if outcome.ExtraData != nil {
			payload, err := json.Marshal(outcome.ExtraData)
			if err != nil {
				return fmt.Errorf("encode outcome data: %w", err)
			}
			extraJSON = sql.NullString{String: string(payload), Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_outcomes (run_id, task_index, name, status, message, status_code, extra_data, started_at, finished_at, duration_ms, waited_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, runID, outcome.Index, outcome.Name, string(outcome.Status), outcome.Message, outcome.StatusCode, extraJSON,
			outcome.StartedAt.UTC().UnixMilli(), outcome.FinishedAt.UTC().UnixMilli(), outcome.DurationMS, outcome.WaitedMS)
		if err != nil {
			return fmt.Errorf("store run outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run save: %w", err)
	}

	return nil
}

// GetRun returns a stored run with its outcomes in queue order.
// Returns nil when the run does not exist.
func (s *Store) GetRun(ctx context.Context, runID string) (*core.RunReport, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, errors.New("run id is required")
	}

	var (
		taskCount  int
		succeeded  int
		failed     int
		cancelled  int
		perSecond  int
		perMinute  int
		bufferPct  float64
		startedAt  int64
		finishedAt int64
		elapsedMS  int64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT task_count, succeeded, failed, cancelled, per_second, per_minute, buffer_pct, started_at, finished_at, elapsed_ms
		FROM runs
		WHERE id = ?
	`, runID)

	if err := row.Scan(&taskCount, &succeeded, &failed, &cancelled, &perSecond, &perMinute, &bufferPct, &startedAt, &finishedAt, &elapsedMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch run: %w", err)
	}

	report := &core.RunReport{
		RunID:      runID,
		TaskCount:  taskCount,
		Succeeded:  succeeded,
		Failed:     failed,
		Cancelled:  cancelled == 1,
		PerSecond:  perSecond,
		PerMinute:  perMinute,
		BufferPct:  bufferPct,
		StartedAt:  time.UnixMilli(startedAt).UTC(),
		FinishedAt: time.UnixMilli(finishedAt).UTC(),
		ElapsedMS:  elapsedMS,
	}

	outcomes, err := s.runOutcomes(ctx, runID)
	if err != nil {
		return nil, err
	}
	report.Outcomes = outcomes

	return report, nil
}

func (s *Store) runOutcomes(ctx context.Context, runID string) ([]core.Outcome, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT task_index, name, status, message, status_code, extra_data, started_at, finished_at, duration_ms, waited_ms
		FROM run_outcomes
		WHERE run_id = ?
		ORDER BY task_index
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("list run outcomes: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var outcomes []core.Outcome
	for rows.Next() {
		var (
			index      int
			name       string
			status     string
			message    sql.NullString
			statusCode sql.NullInt64
			extraJSON  sql.NullString
			startedAt  int64
			finishedAt int64
			durationMS int64
			waitedMS   int64
		)
		if err := rows.Scan(&index, &name, &status, &message, &statusCode, &extraJSON, &startedAt, &finishedAt, &durationMS, &waitedMS); err != nil {
			return nil, fmt.Errorf("list run outcomes: %w", err)
		}

		outcome := core.Outcome{
			Index:      index,
			Name:       name,
			Status:     core.OutcomeStatus(status),
			Message:    message.String,
			StatusCode: int(statusCode.Int64),
			StartedAt:  time.UnixMilli(startedAt).UTC(),
			FinishedAt: time.UnixMilli(finishedAt).UTC(),
			DurationMS: durationMS,
			WaitedMS:   waitedMS,
		}

		if extraJSON.Valid && extraJSON.String != "" {
			var extra map[string]any
			if err := json.Unmarshal([]byte(extraJSON.String), &extra); err != nil {
				return nil, fmt.Errorf("decode outcome data: %w", err)
			}
			outcome.ExtraData = extra
		}

		outcomes = append(outcomes, outcome)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run outcomes: %w", err)
	}

	return outcomes, nil
}

// ListRuns returns stored run summaries, most recent first.
// A limit of 0 or less returns all runs.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]core.RunSummary, error) {
	if s == nil || s.DB == nil {
		return nil, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	query := `
		SELECT id, task_count, succeeded, failed, cancelled, per_second, per_minute, buffer_pct, started_at, finished_at, elapsed_ms
		FROM runs
		ORDER BY started_at DESC, id
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup on SQL rows

	var summaries []core.RunSummary
	for rows.Next() {
		var (
			runID      string
			taskCount  int
			succeeded  int
			failed     int
			cancelled  int
			perSecond  int
			perMinute  int
			bufferPct  float64
			startedAt  int64
			finishedAt int64
			elapsedMS  int64
		)
		if err := rows.Scan(&runID, &taskCount, &succeeded, &failed, &cancelled, &perSecond, &perMinute, &bufferPct, &startedAt, &finishedAt, &elapsedMS); err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}

		summaries = append(summaries, core.RunSummary{
			RunID:      runID,
			TaskCount:  taskCount,
			Succeeded:  succeeded,
			Failed:     failed,
			Cancelled:  cancelled == 1,
			PerSecond:  perSecond,
			PerMinute:  perMinute,
			BufferPct:  bufferPct,
			StartedAt:  time.UnixMilli(startedAt).UTC(),
			FinishedAt: time.UnixMilli(finishedAt).UTC(),
			ElapsedMS:  elapsedMS,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	return summaries, nil
}

// RunStats aggregates the stored history: how many runs and tasks the store
// holds and the time range they span.
type RunStats struct {
	Runs           int
	Cancelled      int
	Tasks          int
	Succeeded      int
	Failed         int
	FirstStartedAt time.Time
	LastFinishedAt time.Time
}

// Stats summarizes the stored run history in one query.
func (s *Store) Stats(ctx context.Context) (RunStats, error) {
	if s == nil || s.DB == nil {
		return RunStats{}, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var (
		stats        RunStats
		firstStarted sql.NullInt64
		lastFinished sql.NullInt64
	)

	row := s.DB.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(cancelled), 0), COALESCE(SUM(task_count), 0),
			COALESCE(SUM(succeeded), 0), COALESCE(SUM(failed), 0),
			MIN(started_at), MAX(finished_at)
		FROM runs
	`)
	if err := row.Scan(&stats.Runs, &stats.Cancelled, &stats.Tasks, &stats.Succeeded, &stats.Failed, &firstStarted, &lastFinished); err != nil {
		return RunStats{}, fmt.Errorf("summarize runs: %w", err)
	}

	if firstStarted.Valid {
		stats.FirstStartedAt = time.UnixMilli(firstStarted.Int64).UTC()
	}
	if lastFinished.Valid {
		stats.LastFinishedAt = time.UnixMilli(lastFinished.Int64).UTC()
	}

	return stats, nil
}

// PruneRuns deletes all but the most recent keep runs and their outcomes.
// Returns the number of runs removed.
func (s *Store) PruneRuns(ctx context.Context, keep int) (int, error) {
	if s == nil || s.DB == nil {
		return 0, errors.New("store is not initialized")
	}

	if ctx == nil {
		ctx = context.Background()
	}

	if keep < 0 {
		keep = 0
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin run prune: %w", err)
	}
	defer tx.Rollback() // nolint:errcheck // no-op after commit

	res, err := tx.ExecContext(ctx, `
		DELETE FROM runs
		WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM run_outcomes
		WHERE run_id NOT IN (SELECT id FROM runs)
	`)
	if err != nil {
		return 0, fmt.Errorf("prune run outcomes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit run prune: %w", err)
	}

	return int(removed), nil
}
