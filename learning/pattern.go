package learning

import (
	"math"
	"strconv"
	"time"

	"github.com/meridianlabs/cogniflow/core"
)

// PatternType classifies a DetectedPattern.
type PatternType string

const (
	PatternPerformance  PatternType = "performance"
	PatternFailure      PatternType = "failure"
	PatternResource     PatternType = "resource"
	PatternInteraction  PatternType = "interaction"
	PatternOptimization PatternType = "optimization"
)

// DetectedPattern is produced by the Pattern Analyzer.
type DetectedPattern struct {
	ID               string
	Type             PatternType
	Strength         float64
	Confidence       float64
	OccurrenceCount  int
	AgentIDs         []string
	FirstObservedAt  time.Time
	LastObservedAt   time.Time
	PredictedOutcome []string
	PeriodSamples    int // populated by the temporal detector, else 0
}

// AnalyzerConfig holds the detector thresholds, all tunable through
// LearningConfig rather than hard-coded in the detectors.
type AnalyzerConfig struct {
	ConfidenceThreshold          float64
	FailureErrorRateMultiple     float64
	ResponseTimeSigmaK           float64
	CorrelationOverlapRatio      float64
	TemporalCorrelationThreshold float64
}

// Analyzer is the Pattern Analyzer: a fixed set of detector families
// run over per-agent windows, filtered to a confidence threshold, then
// enriched with cross-pattern correlations and a temporal autocorrelation
// pass.
type Analyzer struct {
	cfg AnalyzerConfig
	seq int
}

// NewAnalyzer creates a Pattern Analyzer with the given detector
// configuration.
func NewAnalyzer(cfg AnalyzerConfig) *Analyzer {
	return &Analyzer{cfg: cfg}
}

func (a *Analyzer) nextID(prefix string) string {
	a.seq++
	return prefix + "-" + strconv.Itoa(a.seq)
}

// Analyze runs every detector family over the supplied per-agent windows
// and the system snapshot, returning the detector patterns at or above the
// confidence threshold, the correlations among them, and any temporal
// patterns; temporal patterns are gated by TemporalCorrelationThreshold
// alone, not by the confidence threshold.
func (a *Analyzer) Analyze(windows map[string][]core.PerformanceSample, snapshot SystemSnapshot) []DetectedPattern {
	var patterns []DetectedPattern

	patterns = append(patterns, a.detectFailure(windows, snapshot)...)
	patterns = append(patterns, a.detectPerformanceAnomaly(windows)...)
	patterns = append(patterns, a.detectResourceGrowth(windows)...)
	patterns = append(patterns, a.detectInteractionRetries(windows)...)

	filtered := make([]DetectedPattern, 0, len(patterns))
	for _, p := range patterns {
		if p.Confidence >= a.cfg.ConfidenceThreshold {
			filtered = append(filtered, p)
		}
	}

	filtered = append(filtered, a.correlate(filtered)...)
	filtered = append(filtered, a.detectTemporal(windows)...)

	return filtered
}

// detectFailure flags any agent whose error rate over its window exceeds
// FailureErrorRateMultiple times the system mean error rate.
func (a *Analyzer) detectFailure(windows map[string][]core.PerformanceSample, snapshot SystemSnapshot) []DetectedPattern {
	systemErrorRate := 0.0
	if snapshot.TotalExecutions > 0 {
		systemErrorRate = float64(snapshot.TotalErrors) / float64(snapshot.TotalExecutions)
	}
	if systemErrorRate == 0 {
		return nil
	}

	var out []DetectedPattern
	for agentID, window := range windows {
		if len(window) == 0 {
			continue
		}
		errors := 0
		for _, s := range window {
			if !s.Success {
				errors++
			}
		}
		agentErrorRate := float64(errors) / float64(len(window))
		if agentErrorRate > a.cfg.FailureErrorRateMultiple*systemErrorRate {
			strength := clamp01(agentErrorRate)
			out = append(out, DetectedPattern{
				ID:              a.nextID("failure"),
				Type:            PatternFailure,
				Strength:        strength,
				Confidence:      clamp01(0.6 + strength*0.4),
				OccurrenceCount: errors,
				AgentIDs:        []string{agentID},
				FirstObservedAt: window[0].RecordedAt,
				LastObservedAt:  window[len(window)-1].RecordedAt,
			})
		}
	}
	return out
}

// detectPerformanceAnomaly flags agents whose avg response time deviates
// more than k*sigma from their own historical mean.
func (a *Analyzer) detectPerformanceAnomaly(windows map[string][]core.PerformanceSample) []DetectedPattern {
	var out []DetectedPattern
	for agentID, window := range windows {
		if len(window) < 3 {
			continue
		}
		times := make([]float64, len(window))
		for i, s := range window {
			times[i] = s.ExecutionTimeMs
		}
		mean, stddev := meanStdDev(times)
		if stddev == 0 {
			continue
		}
		latest := times[len(times)-1]
		deviation := math.Abs(latest-mean) / stddev
		if deviation > a.cfg.ResponseTimeSigmaK {
			out = append(out, DetectedPattern{
				ID:              a.nextID("perf"),
				Type:            PatternPerformance,
				Strength:        clamp01(deviation / (a.cfg.ResponseTimeSigmaK * 2)),
				Confidence:      clamp01(0.5 + deviation*0.1),
				OccurrenceCount: 1,
				AgentIDs:        []string{agentID},
				FirstObservedAt: window[0].RecordedAt,
				LastObservedAt:  window[len(window)-1].RecordedAt,
			})
		}
	}
	return out
}

// detectResourceGrowth flags sustained memory growth across the window:
// the per-sample memory series is monotonically non-decreasing over at
// least three quarters of its transitions.
func (a *Analyzer) detectResourceGrowth(windows map[string][]core.PerformanceSample) []DetectedPattern {
	var out []DetectedPattern
	for agentID, window := range windows {
		if len(window) < 4 {
			continue
		}
		increases, total := 0, 0
		for i := 1; i < len(window); i++ {
			total++
			if window[i].ResourceUsage.MemoryMB >= window[i-1].ResourceUsage.MemoryMB {
				increases++
			}
		}
		ratio := float64(increases) / float64(total)
		grew := window[len(window)-1].ResourceUsage.MemoryMB > window[0].ResourceUsage.MemoryMB
		if ratio >= 0.75 && grew {
			out = append(out, DetectedPattern{
				ID:              a.nextID("resource"),
				Type:            PatternResource,
				Strength:        clamp01(ratio),
				Confidence:      clamp01(0.5 + (ratio-0.75)*2),
				OccurrenceCount: increases,
				AgentIDs:        []string{agentID},
				FirstObservedAt: window[0].RecordedAt,
				LastObservedAt:  window[len(window)-1].RecordedAt,
			})
		}
	}
	return out
}

// detectInteractionRetries flags repeated user-session retry sequences:
// approximated here as three or more consecutive failures followed by a
// success within the same agent's window, a proxy for a user retrying the
// same request until it lands.
func (a *Analyzer) detectInteractionRetries(windows map[string][]core.PerformanceSample) []DetectedPattern {
	var out []DetectedPattern
	for agentID, window := range windows {
		run := 0
		for _, s := range window {
			if !s.Success {
				run++
				continue
			}
			if run >= 3 {
				out = append(out, DetectedPattern{
					ID:              a.nextID("interaction"),
					Type:            PatternInteraction,
					Strength:        clamp01(float64(run) / 5.0),
					Confidence:      clamp01(0.5 + float64(run)*0.05),
					OccurrenceCount: run,
					AgentIDs:        []string{agentID},
					FirstObservedAt: time.Now(),
					LastObservedAt:  time.Now(),
				})
			}
			run = 0
		}
	}
	return out
}

// correlate emits additional patterns when two base patterns share at
// least CorrelationOverlapRatio of their associated agent set and overlap
// in time.
func (a *Analyzer) correlate(base []DetectedPattern) []DetectedPattern {
	var out []DetectedPattern
	for i := 0; i < len(base); i++ {
		for j := i + 1; j < len(base); j++ {
			overlap := agentOverlapRatio(base[i].AgentIDs, base[j].AgentIDs)
			if overlap < a.cfg.CorrelationOverlapRatio {
				continue
			}
			if !timeOverlaps(base[i], base[j]) {
				continue
			}
			out = append(out, DetectedPattern{
				ID:              a.nextID("correlation"),
				Type:            PatternOptimization,
				Strength:        clamp01(overlap),
				Confidence:      clamp01((base[i].Confidence + base[j].Confidence) / 2),
				OccurrenceCount: 1,
				AgentIDs:        unionAgentIDs(base[i].AgentIDs, base[j].AgentIDs),
				FirstObservedAt: earliest(base[i].FirstObservedAt, base[j].FirstObservedAt),
				LastObservedAt:  latest(base[i].LastObservedAt, base[j].LastObservedAt),
			})
		}
	}
	return out
}

// detectTemporal runs a simple autocorrelation pass over each agent's
// response-time series and emits Performance patterns with period metadata
// when the correlation exceeds TemporalCorrelationThreshold.
func (a *Analyzer) detectTemporal(windows map[string][]core.PerformanceSample) []DetectedPattern {
	var out []DetectedPattern
	for agentID, window := range windows {
		if len(window) < 8 {
			continue
		}
		series := make([]float64, len(window))
		for i, s := range window {
			series[i] = s.ExecutionTimeMs
		}
		bestLag, bestCorr := bestAutocorrelation(series)
		if bestCorr > a.cfg.TemporalCorrelationThreshold {
			out = append(out, DetectedPattern{
				ID:              a.nextID("temporal"),
				Type:            PatternPerformance,
				Strength:        clamp01(bestCorr),
				Confidence:      clamp01(bestCorr),
				OccurrenceCount: bestLag,
				AgentIDs:        []string{agentID},
				PeriodSamples:   bestLag,
				FirstObservedAt: window[0].RecordedAt,
				LastObservedAt:  window[len(window)-1].RecordedAt,
			})
		}
	}
	return out
}

func bestAutocorrelation(series []float64) (lag int, correlation float64) {
	n := len(series)
	mean, stddev := meanStdDev(series)
	if stddev == 0 {
		return 0, 0
	}
	bestLag, bestCorr := 0, 0.0
	maxLag := n / 2
	for l := 1; l <= maxLag; l++ {
		var sum float64
		count := 0
		for i := 0; i+l < n; i++ {
			sum += (series[i] - mean) * (series[i+l] - mean)
			count++
		}
		if count == 0 {
			continue
		}
		corr := (sum / float64(count)) / (stddev * stddev)
		if corr > bestCorr {
			bestCorr = corr
			bestLag = l
		}
	}
	return bestLag, bestCorr
}

func meanStdDev(values []float64) (mean, stddev float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean = sum / float64(len(values))

	var sumSq float64
	for _, v := range values {
		sumSq += (v - mean) * (v - mean)
	}
	stddev = math.Sqrt(sumSq / float64(len(values)))
	return mean, stddev
}

func agentOverlapRatio(a, b []string) float64 {
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	shared := 0
	for _, id := range b {
		if set[id] {
			shared++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	if smaller == 0 {
		return 0
	}
	return float64(shared) / float64(smaller)
}

func unionAgentIDs(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, id := range append(append([]string{}, a...), b...) {
		if !set[id] {
			set[id] = true
			out = append(out, id)
		}
	}
	return out
}

func timeOverlaps(a, b DetectedPattern) bool {
	return !a.LastObservedAt.Before(b.FirstObservedAt) && !b.LastObservedAt.Before(a.FirstObservedAt)
}

func earliest(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func latest(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
