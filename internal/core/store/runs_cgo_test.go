//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/paceline/paceline/internal/config"
	"github.com/paceline/paceline/internal/core"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func sampleReport(runID string, startedAt time.Time) *core.RunReport {
	finished := startedAt.Add(3 * time.Second)

	return &core.RunReport{
		RunID:      runID,
		TaskCount:  2,
		Succeeded:  1,
		Failed:     1,
		PerSecond:  60,
		PerMinute:  1000,
		BufferPct:  10,
		StartedAt:  startedAt,
		FinishedAt: finished,
		ElapsedMS:  3000,
		Outcomes: []core.Outcome{
			{
				Index:      0,
				Name:       "example.com/ping",
				Status:     core.OutcomeSucceeded,
				Message:    "200 OK",
				StatusCode: 200,
				ExtraData:  map[string]any{"attempt": "first"},
				StartedAt:  startedAt,
				FinishedAt: startedAt.Add(time.Second),
				DurationMS: 1000,
				WaitedMS:   0,
			},
			{
				Index:      1,
				Name:       "example.com/missing",
				Status:     core.OutcomeFailed,
				Message:    "request failed with status 503",
				StatusCode: 503,
				StartedAt:  startedAt.Add(time.Second),
				FinishedAt: finished,
				DurationMS: 2000,
				WaitedMS:   250,
			},
		},
	}
}

func TestSaveAndGetRun(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 250_000_000, time.UTC)
	report := sampleReport("run-123", startedAt)

	require.NoError(t, store.SaveRun(ctx, report))

	fetched, err := store.GetRun(ctx, "run-123")
	require.NoError(t, err)
	require.NotNil(t, fetched)

	require.Equal(t, report.RunID, fetched.RunID)
	require.Equal(t, report.TaskCount, fetched.TaskCount)
	require.Equal(t, report.Succeeded, fetched.Succeeded)
	require.Equal(t, report.Failed, fetched.Failed)
	require.False(t, fetched.Cancelled)
	require.Equal(t, report.PerSecond, fetched.PerSecond)
	require.Equal(t, report.PerMinute, fetched.PerMinute)
	require.Equal(t, report.BufferPct, fetched.BufferPct)
	require.Equal(t, report.StartedAt, fetched.StartedAt)
	require.Equal(t, report.FinishedAt, fetched.FinishedAt)
	require.Equal(t, report.ElapsedMS, fetched.ElapsedMS)

	require.Len(t, fetched.Outcomes, 2)
	require.Equal(t, report.Outcomes[0], fetched.Outcomes[0])
	require.Equal(t, report.Outcomes[1], fetched.Outcomes[1])
}

func TestGetRunMissing(t *testing.T) {
	store := openTestStore(t)

	fetched, err := store.GetRun(context.Background(), "no-such-run")
	require.NoError(t, err)
	require.Nil(t, fetched)
}

func TestSaveRunMarksCancellation(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	startedAt := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	report := sampleReport("run-cancelled", startedAt)
	report.Cancelled = true

	require.NoError(t, store.SaveRun(ctx, report))

	fetched, err := store.GetRun(ctx, "run-cancelled")
	require.NoError(t, err)
	require.NotNil(t, fetched)
	require.True(t, fetched.Cancelled)
}

func TestListRunsMostRecentFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, sampleReport("run-a", base)))
	require.NoError(t, store.SaveRun(ctx, sampleReport("run-b", base.Add(time.Hour))))
	require.NoError(t, store.SaveRun(ctx, sampleReport("run-c", base.Add(2*time.Hour))))

	summaries, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 3)
	require.Equal(t, "run-c", summaries[0].RunID)
	require.Equal(t, "run-b", summaries[1].RunID)
	require.Equal(t, "run-a", summaries[2].RunID)

	limited, err := store.ListRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "run-c", limited[0].RunID)
	require.Equal(t, "run-b", limited[1].RunID)
}

func TestPruneRunsKeepsMostRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, sampleReport("run-a", base)))
	require.NoError(t, store.SaveRun(ctx, sampleReport("run-b", base.Add(time.Hour))))
	require.NoError(t, store.SaveRun(ctx, sampleReport("run-c", base.Add(2*time.Hour))))

	removed, err := store.PruneRuns(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	summaries, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, "run-c", summaries[0].RunID)

	// Outcomes for pruned runs are removed as well.
	gone, err := store.GetRun(ctx, "run-a")
	require.NoError(t, err)
	require.Nil(t, gone)

	kept, err := store.GetRun(ctx, "run-c")
	require.NoError(t, err)
	require.NotNil(t, kept)
	require.Len(t, kept.Outcomes, 2)
}

func TestMigrateIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx))

	startedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveRun(ctx, sampleReport("run-after-remigrate", startedAt)))
}
