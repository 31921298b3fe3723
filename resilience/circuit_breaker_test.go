package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/cogniflow/core"
)

// fakeClock lets tests move the breaker through its sleep window without
// sleeping.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(t *testing.T) (*CircuitBreaker, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "agent-under-test"
	cfg.VolumeThreshold = 4
	cfg.ErrorThreshold = 0.5
	cfg.SleepWindow = 10 * time.Second
	cfg.HalfOpenProbes = 2

	cb, err := NewCircuitBreaker(cfg)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Now()}
	cb.now = clock.Now
	return cb, clock
}

func TestCircuitBreaker_RequiresNameAndSaneThreshold(t *testing.T) {
	_, err := NewCircuitBreaker(Config{ErrorThreshold: 0.5})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)

	_, err = NewCircuitBreaker(Config{Name: "x", ErrorThreshold: 1.5})
	assert.ErrorIs(t, err, core.ErrInvalidConfiguration)
}

func TestCircuitBreaker_OpensAtErrorThresholdAfterVolume(t *testing.T) {
	cb, _ := newTestBreaker(t)

	// Below the volume threshold, failures alone never open the breaker.
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	assert.True(t, cb.CanExecute())

	cb.RecordSuccess()
	cb.RecordFailure() // 3 failures / 4 total = 0.75 >= 0.5
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreaker_HalfOpenProbesThenClose(t *testing.T) {
	cb, clock := newTestBreaker(t)
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	require.Equal(t, StateOpen, cb.State())

	// Still inside the sleep window: rejected.
	assert.False(t, cb.CanExecute())

	clock.advance(11 * time.Second)
	assert.True(t, cb.CanExecute(), "sleep window elapsed admits a probe")
	assert.Equal(t, StateHalfOpen, cb.State())

	// Second probe admitted, a third exceeds the probe budget.
	assert.True(t, cb.CanExecute())
	assert.False(t, cb.CanExecute())

	cb.RecordSuccess()
	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State(), "enough probe successes close the breaker")
	assert.True(t, cb.CanExecute())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb, clock := newTestBreaker(t)
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	clock.advance(11 * time.Second)
	require.True(t, cb.CanExecute())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute(), "a fresh sleep window starts after a failed probe")
}

func TestCircuitBreaker_WindowExpiresOldOutcomes(t *testing.T) {
	cb, clock := newTestBreaker(t)
	cb.RecordFailure()
	cb.RecordFailure()

	// Outcomes older than the rolling window stop counting.
	clock.advance(time.Duration(cb.cfg.WindowBuckets+1) * cb.cfg.BucketWidth)
	cb.RecordSuccess()

	successes, failures := cb.Counts()
	assert.Equal(t, 1, successes)
	assert.Equal(t, 0, failures)
	assert.Equal(t, StateClosed, cb.State())
}
