// Package learning implements the adaptive learning loop: the Performance
// Tracker, Pattern Analyzer, Parameter Optimizer, Behavior
// Modifier, and Learning Integrator.
package learning

import (
	"math"
	"sort"
	"sync"

	"github.com/meridianlabs/cogniflow/core"
)

// SystemSnapshot aggregates every agent's window: execution and error
// totals over the whole window, response time and memory from each agent's
// latest sample.
type SystemSnapshot struct {
	TotalAgents       int
	TotalExecutions   int
	AvgResponseTimeMs float64
	AvgMemoryMB       float64
	TotalErrors       int
	SystemEfficiency  float64
}

// Tracker is the Performance Tracker: a bounded ring of
// PerformanceSamples per agent, protected by one tracker-wide mutex that is
// held only briefly.
type Tracker struct {
	mu         sync.Mutex
	windowSize int
	windows    map[string][]core.PerformanceSample
	history    []SystemSnapshot
}

// NewTracker creates a Performance Tracker with the given ring capacity
// per agent.
func NewTracker(windowSize int) *Tracker {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &Tracker{
		windowSize: windowSize,
		windows:    make(map[string][]core.PerformanceSample),
	}
}

// Record appends a sample to its agent's ring, evicting the oldest entry
// once the ring is full. Implements core.SampleRecorder.
func (t *Tracker) Record(sample core.PerformanceSample) {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.windows[sample.AgentID]
	window = append(window, sample)
	if len(window) > t.windowSize {
		window = window[len(window)-t.windowSize:]
	}
	t.windows[sample.AgentID] = window
}

// AgentWindow returns a copy of the agent's current sample ring, oldest
// first.
func (t *Tracker) AgentWindow(agentID string) []core.PerformanceSample {
	t.mu.Lock()
	defer t.mu.Unlock()

	window := t.windows[agentID]
	out := make([]core.PerformanceSample, len(window))
	copy(out, window)
	return out
}

// AgentIDs returns every agent id with at least one recorded sample, in a
// stable (sorted) order — used by the snapshot operation, which reads the
// agents' windows one at a time in id order.
func (t *Tracker) AgentIDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := make([]string, 0, len(t.windows))
	for id := range t.windows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SystemSnapshot sums executions and errors over every agent's window,
// averages response time and memory over each agent's latest sample,
// derives an efficiency score (0 when nothing has executed), and appends
// the result to the bounded trend history.
func (t *Tracker) SystemSnapshot() SystemSnapshot {
	ids := t.AgentIDs()

	var totalExec, totalErrors int
	var sumResponse, sumMemory float64
	agentsWithData := 0

	for _, id := range ids {
		window := t.AgentWindow(id)
		if len(window) == 0 {
			continue
		}
		agentsWithData++
		latest := window[len(window)-1]
		totalExec += len(window)
		for _, s := range window {
			if !s.Success {
				totalErrors++
			}
		}
		sumResponse += latest.ExecutionTimeMs
		sumMemory += latest.ResourceUsage.MemoryMB
	}

	snapshot := SystemSnapshot{TotalAgents: len(ids), TotalExecutions: totalExec, TotalErrors: totalErrors}
	if agentsWithData > 0 {
		snapshot.AvgResponseTimeMs = sumResponse / float64(agentsWithData)
		snapshot.AvgMemoryMB = sumMemory / float64(agentsWithData)
	}

	if totalExec > 0 {
		errorRate := float64(totalErrors) / float64(totalExec)
		efficiency := (1 - errorRate) * (1 / (1 + snapshot.AvgResponseTimeMs/1000))
		snapshot.SystemEfficiency = clamp01(efficiency)
	}

	t.mu.Lock()
	t.history = append(t.history, snapshot)
	if len(t.history) > 500 {
		t.history = t.history[len(t.history)-500:]
	}
	t.mu.Unlock()

	return snapshot
}

// AgentStats aggregates one agent's current window: counters, timing
// (avg, p95, max), quality scores, and resource totals.
type AgentStats struct {
	TotalExecutions      int
	SuccessfulExecutions int
	FailedExecutions     int

	AvgTimeMs float64
	P95TimeMs float64
	MaxTimeMs float64

	AvgConfidence      float64
	AvgCoherence       float64
	AvgSatisfaction    float64

	AvgMemoryMB      float64
	TotalCPUMs       float64
	ExternalCalls    int
	EstimatedCostUSD float64
}

// AgentStats computes the aggregate view of an agent's sample window,
// the performance payload of the agent status surface. An agent with no
// samples yields the zero value.
func (t *Tracker) AgentStats(agentID string) AgentStats {
	window := t.AgentWindow(agentID)
	stats := AgentStats{TotalExecutions: len(window)}
	if len(window) == 0 {
		return stats
	}

	times := make([]float64, len(window))
	var sumTime, sumConf, sumCoherence, sumSatisfaction, sumMemory float64
	for i, s := range window {
		if s.Success {
			stats.SuccessfulExecutions++
		} else {
			stats.FailedExecutions++
		}
		times[i] = s.ExecutionTimeMs
		sumTime += s.ExecutionTimeMs
		if s.ExecutionTimeMs > stats.MaxTimeMs {
			stats.MaxTimeMs = s.ExecutionTimeMs
		}
		sumConf += s.Confidence
		sumCoherence += s.CoherenceScore
		sumSatisfaction += s.UserSatisfactionScore
		sumMemory += s.ResourceUsage.MemoryMB
		stats.TotalCPUMs += s.ResourceUsage.CPUMs
		stats.ExternalCalls += s.ResourceUsage.ExternalCalls
		stats.EstimatedCostUSD += s.ResourceUsage.EstimatedCostUSD
	}

	n := float64(len(window))
	stats.AvgTimeMs = sumTime / n
	stats.P95TimeMs = percentile(times, 0.95)
	stats.AvgConfidence = sumConf / n
	stats.AvgCoherence = sumCoherence / n
	stats.AvgSatisfaction = sumSatisfaction / n
	stats.AvgMemoryMB = sumMemory / n
	return stats
}

// percentile computes the nearest-rank percentile over an unsorted copy
// of values.
func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

// SnapshotHistory returns the bounded trend history of past snapshots.
func (t *Tracker) SnapshotHistory() []SystemSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SystemSnapshot, len(t.history))
	copy(out, t.history)
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
