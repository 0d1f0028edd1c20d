package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(at *time.Time) func() time.Time {
	return func() time.Time { return *at }
}

func newTestPair(t *testing.T, limits Limits, clock func() time.Time) *TokenBucketPair {
	t.Helper()

	pair, err := NewTokenBucketPair(limits)
	require.NoError(t, err)
	if clock != nil {
		pair.Clock = clock
	}

	now := pair.now()
	pair.nextSecondRefill = now.Add(pair.secondWindow)
	pair.nextMinuteRefill = now.Add(pair.minuteWindow)
	return pair
}

func scaleWindows(pair *TokenBucketPair, second, minute time.Duration) {
	pair.mu.Lock()
	defer pair.mu.Unlock()

	pair.secondWindow = second
	pair.minuteWindow = minute
	now := pair.now()
	pair.nextSecondRefill = now.Add(second)
	pair.nextMinuteRefill = now.Add(minute)
}

func TestNewTokenBucketPairValidation(t *testing.T) {
	cases := []struct {
		name   string
		limits Limits
	}{
		{"zero per-second", Limits{PerSecond: 0, PerMinute: 100, BufferPct: 10}},
		{"negative per-minute", Limits{PerSecond: 10, PerMinute: -1, BufferPct: 10}},
		{"buffer at 100", Limits{PerSecond: 10, PerMinute: 100, BufferPct: 100}},
		{"negative buffer", Limits{PerSecond: 10, PerMinute: 100, BufferPct: -5}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTokenBucketPair(tc.limits)
			require.Error(t, err)
		})
	}
}

func TestEffectiveCapacityBuffer(t *testing.T) {
	require.InDelta(t, 54, EffectiveCapacity(60, 10), 1e-9)
	require.InDelta(t, 900, EffectiveCapacity(1000, 10), 1e-9)
	require.InDelta(t, 5, EffectiveCapacity(5, 0), 1e-9)
}

func TestCapacitiesAfterBuffer(t *testing.T) {
	pair, err := NewTokenBucketPair(Limits{PerSecond: 60, PerMinute: 1000, BufferPct: 10})
	require.NoError(t, err)

	perSecond, perMinute := pair.Capacities()
	require.InDelta(t, 54, perSecond, 1e-9)
	require.InDelta(t, 900, perMinute, 1e-9)
}

func TestAcquireDecrementsBothWindows(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pair := newTestPair(t, Limits{PerSecond: 5, PerMinute: 100, BufferPct: 0}, fixedClock(&at))

	require.NoError(t, pair.AcquireOne(context.Background()))

	snap := pair.Snapshot()
	require.InDelta(t, 4, snap.SecondRemaining, 1e-9)
	require.InDelta(t, 99, snap.MinuteRemaining, 1e-9)
}

func TestBurstHonorsSecondWindow(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pair := newTestPair(t, Limits{PerSecond: 5, PerMinute: 100, BufferPct: 0}, fixedClock(&at))

	grantsPerWindow := make([]int, 0, 3)
	granted := 0
	for granted < 12 {
		count := 0
		for granted < 12 {
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			err := pair.AcquireOne(ctx)
			cancel()
			if err != nil {
				require.ErrorIs(t, err, context.DeadlineExceeded)
				break
			}
			count++
			granted++
		}
		grantsPerWindow = append(grantsPerWindow, count)
		at = at.Add(time.Second)
	}

	require.Equal(t, []int{5, 5, 2}, grantsPerWindow)

	snap := pair.Snapshot()
	require.GreaterOrEqual(t, snap.SecondRemaining, 0.0)
	require.GreaterOrEqual(t, snap.MinuteRemaining, 0.0)
}

func TestMinuteWindowGatesAcquire(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pair := newTestPair(t, Limits{PerSecond: 100, PerMinute: 5, BufferPct: 0}, fixedClock(&at))

	for i := 0; i < 5; i++ {
		require.NoError(t, pair.AcquireOne(context.Background()))
	}

	// Fresh second tokens alone do not help while the minute window is dry.
	at = at.Add(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	err := pair.AcquireOne(ctx)
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	at = at.Add(time.Minute)
	require.NoError(t, pair.AcquireOne(context.Background()))
}

func TestMinuteRefillResetsSecondWindow(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pair := newTestPair(t, Limits{PerSecond: 5, PerMinute: 100, BufferPct: 0}, fixedClock(&at))

	for i := 0; i < 5; i++ {
		require.NoError(t, pair.AcquireOne(context.Background()))
	}
	snap := pair.Snapshot()
	require.Zero(t, snap.SecondRemaining)
	require.InDelta(t, 95, snap.MinuteRemaining, 1e-9)

	// Force a pure minute refill with the second window's tick still ahead.
	pair.mu.Lock()
	pair.nextMinuteRefill = at
	pair.advanceLocked(at)
	pair.mu.Unlock()

	snap = pair.Snapshot()
	require.InDelta(t, 5, snap.SecondRemaining, 1e-9)
	require.InDelta(t, 100, snap.MinuteRemaining, 1e-9)

	// The minute refill reset the second counter but not the second
	// window's schedule, so its own tick still fires and refills again.
	require.InDelta(t, 1.0, snap.SecondCountdownSeconds, 1e-9)

	require.NoError(t, pair.AcquireOne(context.Background()))
	at = at.Add(time.Second)
	pair.mu.Lock()
	pair.advanceLocked(at)
	pair.mu.Unlock()

	snap = pair.Snapshot()
	require.InDelta(t, 5, snap.SecondRemaining, 1e-9)
	require.InDelta(t, 99, snap.MinuteRemaining, 1e-9)
}

func TestSnapshotIdempotent(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pair := newTestPair(t, Limits{PerSecond: 5, PerMinute: 100, BufferPct: 0}, fixedClock(&at))

	first := pair.Snapshot()
	require.Equal(t, first, pair.Snapshot())
	require.Equal(t, first, pair.Snapshot())

	require.InDelta(t, 1.0, first.SecondCountdownSeconds, 1e-9)
	require.InDelta(t, 60.0, first.MinuteCountdownSeconds, 1e-9)
}

func TestSnapshotHasNoSideEffects(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pair := newTestPair(t, Limits{PerSecond: 5, PerMinute: 100, BufferPct: 0}, fixedClock(&at))

	require.NoError(t, pair.AcquireOne(context.Background()))

	// Move past both refill boundaries; a snapshot must not apply them.
	at = at.Add(2 * time.Minute)
	snap := pair.Snapshot()
	require.InDelta(t, 4, snap.SecondRemaining, 1e-9)
	require.InDelta(t, 99, snap.MinuteRemaining, 1e-9)
	require.Zero(t, snap.SecondCountdownSeconds)
	require.Zero(t, snap.MinuteCountdownSeconds)
}

func TestAcquireHonorsCancelledContext(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	pair := newTestPair(t, Limits{PerSecond: 5, PerMinute: 100, BufferPct: 0}, fixedClock(&at))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, pair.AcquireOne(ctx), context.Canceled)

	// A cancelled acquire consumes nothing.
	snap := pair.Snapshot()
	require.InDelta(t, 5, snap.SecondRemaining, 1e-9)
	require.InDelta(t, 100, snap.MinuteRemaining, 1e-9)
}

func TestAcquireSpansRefillCycles(t *testing.T) {
	pair, err := NewTokenBucketPair(Limits{PerSecond: 2, PerMinute: 100, BufferPct: 0})
	require.NoError(t, err)

	window := 40 * time.Millisecond
	scaleWindows(pair, window, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pair.Start(ctx)

	started := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, pair.AcquireOne(ctx))
	}
	elapsed := time.Since(started)

	// Five grants at two per window need at least two refills.
	require.GreaterOrEqual(t, elapsed, 2*window-5*time.Millisecond)
}

func TestStarvationHookFiresOnce(t *testing.T) {
	pair, err := NewTokenBucketPair(Limits{PerSecond: 1, PerMinute: 1, BufferPct: 0})
	require.NoError(t, err)
	scaleWindows(pair, 10*time.Millisecond, 10*time.Second)

	var mu sync.Mutex
	var waits []time.Duration
	pair.StarveAfter = 30 * time.Millisecond
	pair.OnStarvation = func(waited time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, waited)
	}

	require.NoError(t, pair.AcquireOne(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, pair.AcquireOne(ctx), context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, waits, 1)
	require.GreaterOrEqual(t, waits[0], 30*time.Millisecond)
}

func TestConcurrentAcquiresStayWithinBounds(t *testing.T) {
	pair, err := NewTokenBucketPair(Limits{PerSecond: 3, PerMinute: 100, BufferPct: 0})
	require.NoError(t, err)
	scaleWindows(pair, 30*time.Millisecond, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pair.Start(ctx)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			snap := pair.Snapshot()
			if snap.SecondRemaining < 0 || snap.SecondRemaining > 3 ||
				snap.MinuteRemaining < 0 || snap.MinuteRemaining > 100 {
				t.Errorf("snapshot out of bounds: %+v", snap)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				if err := pair.AcquireOne(ctx); err != nil {
					t.Errorf("acquire failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
	cancel()
	<-done
}
