package learning

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/cogniflow/core"
)

func testOptimizer() *Optimizer {
	return NewOptimizer(OptimizerConfig{MinImprovementThreshold: 0.05, SafetyFactor: 0.8})
}

func registryWithAgent(t *testing.T, id string, params map[string]float64) *core.Registry {
	t.Helper()
	r := core.NewRegistry(nil)
	require.NoError(t, r.Register(&core.AgentDescriptor{ID: id, Name: id, Parameters: params}))
	return r
}

func failurePattern(agentID string, confidence float64) DetectedPattern {
	now := time.Now()
	return DetectedPattern{
		ID: "f-" + agentID, Type: PatternFailure, Strength: 0.9, Confidence: confidence,
		AgentIDs: []string{agentID}, FirstObservedAt: now, LastObservedAt: now,
	}
}

func TestOptimizer_ExtractsFailureAndStrongPerformanceOpportunities(t *testing.T) {
	o := testOptimizer()
	patterns := []DetectedPattern{
		failurePattern("a", 0.9),
		{Type: PatternPerformance, Strength: 0.8, Confidence: 0.75, AgentIDs: []string{"b"}},
		{Type: PatternPerformance, Strength: 0.8, Confidence: 0.5, AgentIDs: []string{"c"}},
		{Type: PatternResource, Strength: 0.8, Confidence: 0.9, AgentIDs: []string{"d"}},
	}

	opps := o.extractOpportunities(patterns)
	require.Len(t, opps, 2, "weak performance and resource patterns yield no opportunity")

	assert.Equal(t, 0.9, opps[0].urgency)
	assert.Equal(t, 0.8, opps[0].potential)
	assert.Equal(t, 0.3, opps[0].risk)

	assert.Equal(t, 0.6, opps[1].urgency)
	assert.InDelta(t, 0.4, opps[1].potential, 1e-9) // strength * 0.5
	assert.Equal(t, 0.2, opps[1].risk)
}

func TestOptimizer_AppliesChangeAndRecordsRollback(t *testing.T) {
	o := testOptimizer()
	reg := registryWithAgent(t, "a", map[string]float64{"error_tolerance": 1.0})

	results := o.Optimize([]DetectedPattern{failurePattern("a", 0.9)}, reg)
	require.Len(t, results.Adaptations, 1)

	record := results.Adaptations[0]
	assert.Equal(t, "a", record.TargetAgentID)
	assert.Equal(t, AdaptationReliabilityImprovement, record.Type)
	assert.NotEmpty(t, record.RollbackID)

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Parameters["error_tolerance"], 1e-9)

	point, err := reg.RollbackPointByID(record.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, point.Parameters["error_tolerance"])
	assert.False(t, point.Applied)
}

func TestOptimizer_SafetyGateRejectsLowExpectedImpact(t *testing.T) {
	strict := NewOptimizer(OptimizerConfig{MinImprovementThreshold: 0.9, SafetyFactor: 0.8})
	reg := registryWithAgent(t, "a", map[string]float64{"error_tolerance": 1.0})

	results := strict.Optimize([]DetectedPattern{failurePattern("a", 0.9)}, reg)
	assert.Empty(t, results.Adaptations)
	assert.Equal(t, 1, results.Rejected)

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Parameters["error_tolerance"], "rejected changes must not touch the registry")
}

func TestOptimizer_SafetyGateRejectsRiskyMagnitude(t *testing.T) {
	tight := NewOptimizer(OptimizerConfig{MinImprovementThreshold: 0.05, SafetyFactor: 0.01})
	reg := registryWithAgent(t, "a", map[string]float64{"error_tolerance": 1.0})

	results := tight.Optimize([]DetectedPattern{failurePattern("a", 0.9)}, reg)
	assert.Empty(t, results.Adaptations)
	assert.Equal(t, 1, results.Rejected)
}

func TestOptimizer_StrategySelection(t *testing.T) {
	o := testOptimizer()
	opp := opportunity{pattern: failurePattern("a", 0.9)}

	// No history: Bayesian.
	assert.Equal(t, StrategyBayesian, o.selectStrategy(opp))

	// Enough samples, no oscillation: gradient descent.
	o.history["a"] = &priorHistory{sampleCount: 6, lastSigns: []int{-1, -1, -1}}
	assert.Equal(t, StrategyGradientDescent, o.selectStrategy(opp))

	// Alternating change signs: simulated annealing.
	o.history["a"] = &priorHistory{sampleCount: 6, lastSigns: []int{1, -1, 1}}
	assert.Equal(t, StrategySimulatedAnnealing, o.selectStrategy(opp))
}

func TestOptimizer_EvaluatePostHocRollsBackOnWeakImpact(t *testing.T) {
	o := testOptimizer()
	reg := registryWithAgent(t, "a", map[string]float64{"error_tolerance": 1.0})

	results := o.Optimize([]DetectedPattern{failurePattern("a", 0.9)}, reg)
	require.Len(t, results.Adaptations, 1)
	record := results.Adaptations[0]

	// Actual improvement well under half the expected impact.
	require.NoError(t, o.EvaluatePostHoc(&record, 0.5, 0.51, reg))
	assert.True(t, record.EvaluatedPostHoc)
	assert.False(t, record.Success)

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Parameters["error_tolerance"], "rollback must restore the snapshot")
}

func TestOptimizer_EvaluatePostHocKeepsStrongImpact(t *testing.T) {
	o := testOptimizer()
	reg := registryWithAgent(t, "a", map[string]float64{"error_tolerance": 1.0})

	results := o.Optimize([]DetectedPattern{failurePattern("a", 0.9)}, reg)
	require.Len(t, results.Adaptations, 1)
	record := results.Adaptations[0]

	require.NoError(t, o.EvaluatePostHoc(&record, 0.1, 0.9, reg))
	assert.True(t, record.Success)

	got, err := reg.Get("a")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Parameters["error_tolerance"], 1e-9, "successful adaptations stay applied")
}
