package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/paceline/paceline/internal/core"
)

// Limits holds the raw configured caps and the safety buffer.
type Limits struct {
	PerSecond int
	PerMinute int
	BufferPct float64
}

// Validate rejects limits that cannot produce a usable bucket pair.
func (l Limits) Validate() error {
	if l.PerSecond <= 0 {
		return fmt.Errorf("per-second limit must be positive, got %d", l.PerSecond)
	}
	if l.PerMinute <= 0 {
		return fmt.Errorf("per-minute limit must be positive, got %d", l.PerMinute)
	}
	if l.BufferPct < 0 || l.BufferPct >= 100 {
		return fmt.Errorf("buffer percentage must be in [0, 100), got %g", l.BufferPct)
	}
	return nil
}

// EffectiveCapacity applies the safety buffer to one raw cap.
func EffectiveCapacity(rawMax int, bufferPct float64) float64 {
	return float64(rawMax) * (1 - bufferPct/100)
}

// TokenBucketPair enforces a per-second and a per-minute cap together. Each
// window holds a counter that refills to capacity on its own wall-clock
// cadence; an acquire consumes one unit from both. The counters are the only
// shared mutable state and are guarded by a single mutex, so a refill can
// never interleave with a check-then-decrement.
type TokenBucketPair struct {
	mu sync.Mutex

	secondCapacity  float64
	minuteCapacity  float64
	secondRemaining float64
	minuteRemaining float64

	secondWindow time.Duration
	minuteWindow time.Duration

	nextSecondRefill time.Time
	nextMinuteRefill time.Time

	// refilled is closed and replaced on every refill so that waiters wake
	// immediately instead of polling on a fixed interval.
	refilled chan struct{}

	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time

	// OnStarvation fires once per acquire that has waited at least
	// StarveAfter without being granted. Waiting continues either way.
	OnStarvation func(waited time.Duration)
	StarveAfter  time.Duration
}

// NewTokenBucketPair derives effective capacities from the raw limits and
// returns a pair with both windows full and refills scheduled one window out.
func NewTokenBucketPair(limits Limits) (*TokenBucketPair, error) {
	if err := limits.Validate(); err != nil {
		return nil, err
	}

	b := &TokenBucketPair{
		secondCapacity: EffectiveCapacity(limits.PerSecond, limits.BufferPct),
		minuteCapacity: EffectiveCapacity(limits.PerMinute, limits.BufferPct),
		secondWindow:   time.Second,
		minuteWindow:   time.Minute,
		refilled:       make(chan struct{}),
		StarveAfter:    10 * time.Second,
	}
	b.secondRemaining = b.secondCapacity
	b.minuteRemaining = b.minuteCapacity

	now := b.now()
	b.nextSecondRefill = now.Add(b.secondWindow)
	b.nextMinuteRefill = now.Add(b.minuteWindow)

	return b, nil
}

// Capacities returns the effective per-window capacities after the buffer.
func (b *TokenBucketPair) Capacities() (perSecond, perMinute float64) {
	if b == nil {
		return 0, 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.secondCapacity, b.minuteCapacity
}

// Start runs the refill scheduler until ctx is cancelled. Refills also
// happen lazily inside AcquireOne, so Start is only required when waiters
// must wake on refill boundaries or snapshots must stay fresh without an
// acquire in flight.
func (b *TokenBucketPair) Start(ctx context.Context) {
	if b == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go b.runRefills(ctx)
}

func (b *TokenBucketPair) runRefills(ctx context.Context) {
	for {
		b.mu.Lock()
		next := b.nextSecondRefill
		if b.nextMinuteRefill.Before(next) {
			next = b.nextMinuteRefill
		}
		b.mu.Unlock()

		wait := next.Sub(b.now())
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		b.mu.Lock()
		b.advanceLocked(b.now())
		b.mu.Unlock()
	}
}

// advanceLocked applies every refill due at or before now, in schedule
// order. A minute refill resets both counters but leaves the second
// window's own schedule untouched, so the next second tick after a minute
// boundary refills the second window again. That double refill is a
// deliberate parity choice and is covered by tests; both counters still
// gate every acquire, so neither cap can be exceeded.
func (b *TokenBucketPair) advanceLocked(now time.Time) {
	notify := false
	for {
		secondDue := !now.Before(b.nextSecondRefill)
		minuteDue := !now.Before(b.nextMinuteRefill)

		switch {
		case minuteDue && (!secondDue || !b.nextMinuteRefill.After(b.nextSecondRefill)):
			b.minuteRemaining = b.minuteCapacity
			b.secondRemaining = b.secondCapacity
			b.nextMinuteRefill = b.nextMinuteRefill.Add(b.minuteWindow)
			notify = true
		case secondDue:
			b.secondRemaining = b.secondCapacity
			b.nextSecondRefill = b.nextSecondRefill.Add(b.secondWindow)
			notify = true
		default:
			if notify {
				close(b.refilled)
				b.refilled = make(chan struct{})
			}
			return
		}
	}
}

// AcquireOne blocks until both windows hold at least one token, then takes
// one from each atomically. It never drives either counter negative and
// never returns while a counter is zero or below. Cancelling ctx returns
// its error without consuming anything.
func (b *TokenBucketPair) AcquireOne(ctx context.Context) error {
	if b == nil {
		return fmt.Errorf("bucket pair is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	start := b.now()
	warned := false

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.mu.Lock()
		b.advanceLocked(b.now())
		if b.secondRemaining > 0 && b.minuteRemaining > 0 {
			b.secondRemaining--
			b.minuteRemaining--
			if b.secondRemaining < 0 {
				b.secondRemaining = 0
			}
			if b.minuteRemaining < 0 {
				b.minuteRemaining = 0
			}
			b.mu.Unlock()
			return nil
		}
		refilled := b.refilled
		next := b.nextSecondRefill
		if b.nextMinuteRefill.Before(next) {
			next = b.nextMinuteRefill
		}
		b.mu.Unlock()

		if !warned && b.OnStarvation != nil && b.StarveAfter > 0 {
			if waited := b.now().Sub(start); waited >= b.StarveAfter {
				b.OnStarvation(waited)
				warned = true
			}
		}

		wait := next.Sub(b.now())
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-refilled:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Snapshot reports remaining tokens and the countdown to each window's next
// refill, floored at zero. It never mutates state; repeated calls without an
// intervening acquire or refill return identical values.
func (b *TokenBucketPair) Snapshot() core.Snapshot {
	if b == nil {
		return core.Snapshot{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	return core.Snapshot{
		SecondRemaining:        b.secondRemaining,
		MinuteRemaining:        b.minuteRemaining,
		SecondCountdownSeconds: flooredSeconds(b.nextSecondRefill.Sub(now)),
		MinuteCountdownSeconds: flooredSeconds(b.nextMinuteRefill.Sub(now)),
	}
}

func (b *TokenBucketPair) now() time.Time {
	if b != nil && b.Clock != nil {
		return b.Clock()
	}
	return time.Now().UTC()
}

func flooredSeconds(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return d.Seconds()
}
