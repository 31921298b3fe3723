// Package resilience wraps agent invocations in a per-agent circuit breaker
// and a retrying executor, so one misbehaving agent degrades to fast
// failure instead of holding workflow steps on a dead dependency.
package resilience

import (
	"fmt"
	"sync"
	"time"

	"github.com/meridianlabs/cogniflow/core"
)

// State is the circuit breaker's position.
type State string

const (
	// StateClosed: requests flow; failures are counted.
	StateClosed State = "closed"
	// StateOpen: requests are refused until the sleep window elapses.
	StateOpen State = "open"
	// StateHalfOpen: a limited number of probe requests are admitted; one
	// failure re-opens, enough successes re-close.
	StateHalfOpen State = "half_open"
)

// MetricsCollector receives breaker lifecycle events. TelemetryMetrics is
// the OTel-backed implementation; a nil collector disables emission.
type MetricsCollector interface {
	OnStateChange(name string, from, to State)
	OnExecution(name string, state State, success bool)
	OnRejection(name string)
}

// Config configures a CircuitBreaker.
type Config struct {
	// Name labels the breaker in logs and metrics; the executor uses the
	// agent id.
	Name string

	// ErrorThreshold is the failure ratio in the rolling window at which
	// the breaker opens, once VolumeThreshold requests have been seen.
	ErrorThreshold float64

	// VolumeThreshold is the minimum request count in the window before
	// the error ratio is meaningful enough to act on.
	VolumeThreshold int

	// SleepWindow is how long the breaker stays open before admitting
	// half-open probes.
	SleepWindow time.Duration

	// HalfOpenProbes is how many consecutive probe successes close the
	// breaker again.
	HalfOpenProbes int

	// WindowBuckets and BucketWidth shape the rolling window; the window
	// spans WindowBuckets * BucketWidth.
	WindowBuckets int
	BucketWidth   time.Duration

	Logger  core.Logger
	Metrics MetricsCollector
}

// DefaultConfig returns a breaker tuned for agent invocations: a 10-second
// rolling window, opening at 50% failures over at least 10 requests, with
// a 30-second sleep before probing.
func DefaultConfig() Config {
	return Config{
		ErrorThreshold:  0.5,
		VolumeThreshold: 10,
		SleepWindow:     30 * time.Second,
		HalfOpenProbes:  3,
		WindowBuckets:   10,
		BucketWidth:     time.Second,
	}
}

// bucket is one slice of the rolling window.
type bucket struct {
	start     time.Time
	successes int
	failures  int
}

// CircuitBreaker tracks one agent's recent outcomes in a rolling window of
// time buckets and refuses execution while the failure ratio is above the
// configured threshold.
type CircuitBreaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	buckets       []bucket
	openedAt      time.Time
	probeSuccesses int
	probesInFlight int

	now func() time.Time // swappable for tests
}

// NewCircuitBreaker validates cfg and returns a closed breaker.
func NewCircuitBreaker(cfg Config) (*CircuitBreaker, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("resilience: breaker name is required: %w", core.ErrInvalidConfiguration)
	}
	if cfg.ErrorThreshold <= 0 || cfg.ErrorThreshold > 1 {
		return nil, fmt.Errorf("resilience: error threshold must be in (0,1]: %w", core.ErrInvalidConfiguration)
	}
	def := DefaultConfig()
	if cfg.VolumeThreshold <= 0 {
		cfg.VolumeThreshold = def.VolumeThreshold
	}
	if cfg.SleepWindow <= 0 {
		cfg.SleepWindow = def.SleepWindow
	}
	if cfg.HalfOpenProbes <= 0 {
		cfg.HalfOpenProbes = def.HalfOpenProbes
	}
	if cfg.WindowBuckets <= 0 {
		cfg.WindowBuckets = def.WindowBuckets
	}
	if cfg.BucketWidth <= 0 {
		cfg.BucketWidth = def.BucketWidth
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &CircuitBreaker{
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}, nil
}

// CanExecute reports whether a request may proceed right now. In the open
// state it also performs the open -> half-open transition once the sleep
// window has elapsed; in half-open it admits up to HalfOpenProbes requests.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cfg.SleepWindow {
			if cb.cfg.Metrics != nil {
				cb.cfg.Metrics.OnRejection(cb.cfg.Name)
			}
			return false
		}
		cb.transition(StateHalfOpen)
		cb.probeSuccesses = 0
		cb.probesInFlight = 1
		return true
	case StateHalfOpen:
		if cb.probesInFlight >= cb.cfg.HalfOpenProbes {
			if cb.cfg.Metrics != nil {
				cb.cfg.Metrics.OnRejection(cb.cfg.Name)
			}
			return false
		}
		cb.probesInFlight++
		return true
	}
	return false
}

// RecordSuccess counts a successful execution against the current window.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.cfg.Metrics != nil {
		cb.cfg.Metrics.OnExecution(cb.cfg.Name, cb.state, true)
	}

	switch cb.state {
	case StateHalfOpen:
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.cfg.HalfOpenProbes {
			cb.transition(StateClosed)
			cb.buckets = nil
		}
	default:
		cb.currentBucket().successes++
	}
}

// RecordFailure counts a failed execution; in half-open a single failure
// re-opens the breaker immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.cfg.Metrics != nil {
		cb.cfg.Metrics.OnExecution(cb.cfg.Name, cb.state, false)
	}

	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
		cb.openedAt = cb.now()
	case StateClosed:
		cb.currentBucket().failures++
		successes, failures := cb.windowCounts()
		total := successes + failures
		if total >= cb.cfg.VolumeThreshold &&
			float64(failures)/float64(total) >= cb.cfg.ErrorThreshold {
			cb.transition(StateOpen)
			cb.openedAt = cb.now()
		}
	}
}

// State returns the breaker's current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns the rolling window's success and failure totals, for
// status surfaces and tests.
func (cb *CircuitBreaker) Counts() (successes, failures int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.windowCounts()
}

// currentBucket returns the bucket covering now, rotating expired buckets
// out of the window. Callers hold cb.mu.
func (cb *CircuitBreaker) currentBucket() *bucket {
	now := cb.now()
	cutoff := now.Add(-time.Duration(cb.cfg.WindowBuckets) * cb.cfg.BucketWidth)

	kept := cb.buckets[:0]
	for i := range cb.buckets {
		if cb.buckets[i].start.After(cutoff) {
			kept = append(kept, cb.buckets[i])
		}
	}
	cb.buckets = kept

	if n := len(cb.buckets); n > 0 && now.Sub(cb.buckets[n-1].start) < cb.cfg.BucketWidth {
		return &cb.buckets[n-1]
	}
	cb.buckets = append(cb.buckets, bucket{start: now})
	return &cb.buckets[len(cb.buckets)-1]
}

func (cb *CircuitBreaker) windowCounts() (successes, failures int) {
	cutoff := cb.now().Add(-time.Duration(cb.cfg.WindowBuckets) * cb.cfg.BucketWidth)
	for i := range cb.buckets {
		if !cb.buckets[i].start.After(cutoff) {
			continue
		}
		successes += cb.buckets[i].successes
		failures += cb.buckets[i].failures
	}
	return successes, failures
}

// transition changes state, logging and emitting the change. Callers hold
// cb.mu.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	cb.cfg.Logger.Info("circuit breaker state change", map[string]interface{}{
		"breaker": cb.cfg.Name,
		"from":    string(from),
		"to":      string(to),
	})
	if cb.cfg.Metrics != nil {
		cb.cfg.Metrics.OnStateChange(cb.cfg.Name, from, to)
	}
}
