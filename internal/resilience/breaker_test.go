package resilience

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testBreaker(clock *fakeClock) *Breaker {
	b := NewBreaker(BreakerConfig{
		Window:       30 * time.Second,
		Cooldown:     15 * time.Second,
		FailureRatio: 0.5,
		MinCalls:     4,
	})
	b.now = clock.Now
	return b
}

func tripBreaker(t *testing.T, b *Breaker) {
	t.Helper()
	for range 4 {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	require.Equal(t, StateOpen, b.State())
}

func TestBreaker_StaysClosedBelowMinCalls(t *testing.T) {
	b := testBreaker(newFakeClock())

	// Three failures at 100% ratio, still below MinCalls.
	for range 3 {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_OpensAtFailureRatio(t *testing.T) {
	b := testBreaker(newFakeClock())

	// 2 successes + 2 failures = 50% at MinCalls, which meets the ratio.
	for range 2 {
		require.True(t, b.Allow())
		b.RecordSuccess()
	}
	for range 2 {
		require.True(t, b.Allow())
		b.RecordFailure()
	}

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreaker_StaysClosedBelowRatio(t *testing.T) {
	b := testBreaker(newFakeClock())

	for range 3 {
		require.True(t, b.Allow())
		b.RecordSuccess()
	}
	require.True(t, b.Allow())
	b.RecordFailure() // 1 of 4 = 25%

	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)
	tripBreaker(t, b)

	assert.False(t, b.Allow(), "still cooling down")

	clock.Advance(15 * time.Second)

	assert.True(t, b.Allow(), "cooldown elapsed admits one trial")
	assert.Equal(t, StateHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one trial in flight")
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)
	tripBreaker(t, b)

	clock.Advance(15 * time.Second)
	require.True(t, b.Allow())
	b.RecordSuccess()

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)
	tripBreaker(t, b)

	clock.Advance(15 * time.Second)
	require.True(t, b.Allow())
	b.RecordFailure()

	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())

	// Another full cooldown earns another trial.
	clock.Advance(15 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreaker_WindowRotationDropsStaleCounters(t *testing.T) {
	clock := newFakeClock()
	b := testBreaker(clock)

	// Three failures, then the window rolls over before the fourth.
	for range 3 {
		require.True(t, b.Allow())
		b.RecordFailure()
	}
	clock.Advance(31 * time.Second)

	require.True(t, b.Allow())
	b.RecordFailure()

	// The stale failures were dropped, so this is 1 call in a fresh window.
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	b := testBreaker(newFakeClock())

	var wg sync.WaitGroup
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if b.Allow() {
					b.RecordSuccess()
				}
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
}
