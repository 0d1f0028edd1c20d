package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paceline/paceline/internal/core/engine"
)

func TestOverrideLimits(t *testing.T) {
	base := engine.Limits{PerSecond: 60, PerMinute: 1000, BufferPct: 10}

	t.Run("UnsetFlagsKeepConfig", func(t *testing.T) {
		limits := overrideLimits(base, 0, 0, -1)
		assert.Equal(t, base, limits)
	})

	t.Run("FlagsWin", func(t *testing.T) {
		limits := overrideLimits(base, 5, 50, 20)
		assert.Equal(t, 5, limits.PerSecond)
		assert.Equal(t, 50, limits.PerMinute)
		assert.Equal(t, 20.0, limits.BufferPct)
	})

	t.Run("ExplicitZeroBufferApplies", func(t *testing.T) {
		limits := overrideLimits(base, 0, 0, 0)
		assert.Equal(t, 0.0, limits.BufferPct)
		assert.Equal(t, base.PerSecond, limits.PerSecond)
	})
}

func TestSyntheticTasks(t *testing.T) {
	ctx := context.Background()

	t.Run("NamesAreOrdinal", func(t *testing.T) {
		queue := syntheticTasks(3, 0, 0)
		require.Len(t, queue, 3)
		assert.Equal(t, "task-001", queue[0].Name)
		assert.Equal(t, "task-003", queue[2].Name)
	})

	t.Run("FailEveryNth", func(t *testing.T) {
		queue := syntheticTasks(4, 0, 2)

		for i, task := range queue {
			result, err := task.Run(ctx)
			if (i+1)%2 == 0 {
				require.Error(t, err, "task %d should fail", i+1)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "simulated", result.Message)
			}
		}
	})

	t.Run("CancelledContextStopsDelay", func(t *testing.T) {
		queue := syntheticTasks(1, 100*time.Millisecond, 0)

		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		_, err := queue[0].Run(cancelled)
		require.ErrorIs(t, err, context.Canceled)
	})
}
