package learning

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/cogniflow/core"
)

func seedTracker(t *testing.T) (*Tracker, *core.Registry) {
	t.Helper()
	reg := core.NewRegistry(nil)
	require.NoError(t, reg.Register(&core.AgentDescriptor{
		ID: "flaky", Name: "flaky", BaseConfidence: 0.8,
		Parameters: map[string]float64{"error_tolerance": 1.0},
	}))
	require.NoError(t, reg.Register(&core.AgentDescriptor{
		ID: "stable", Name: "stable", BaseConfidence: 0.8,
		Parameters: map[string]float64{"temperature": 0.5},
	}))

	tracker := NewTracker(100)
	for _, s := range samples("flaky", 6, 4, 2000) {
		tracker.Record(s)
	}
	for _, s := range samples("stable", 14, 0, 2000) {
		tracker.Record(s)
	}
	return tracker, reg
}

func newTestIntegrator(tracker *Tracker, reg *core.Registry) *Integrator {
	return NewIntegrator(
		tracker,
		testAnalyzer(),
		testOptimizer(),
		NewModifier(false),
		reg,
		nil,
		time.Minute,
		nil,
	)
}

// TestIntegrator_AdaptationThenRollback drives the full loop: a failing
// agent produces a Failure pattern, the first cycle adapts its parameters
// and records a rollback point, and the next cycle's post-hoc evaluation
// finds the actual impact under half the expected and rolls the change
// back.
func TestIntegrator_AdaptationThenRollback(t *testing.T) {
	tracker, reg := seedTracker(t)
	in := newTestIntegrator(tracker, reg)

	first := in.RunCycle(context.Background())
	assert.Equal(t, PhaseEmergency, first.Phase, "an active failure pattern forces the emergency phase")
	require.NotEmpty(t, first.Adaptations)

	record := first.Adaptations[0]
	assert.Equal(t, "flaky", record.TargetAgentID)
	assert.False(t, record.EvaluatedPostHoc, "evaluation is deferred to the next cycle")

	adapted, err := reg.Get("flaky")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, adapted.Parameters["error_tolerance"], 1e-9)

	point, err := reg.RollbackPointByID(record.RollbackID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, point.Parameters["error_tolerance"])
	assert.False(t, point.Applied)

	// No new samples arrive between the cycles, so system efficiency (20%
	// error rate at 2s response time) is unchanged and the actual impact is
	// zero, under half the expected impact: the second cycle must roll back.
	second := in.RunCycle(context.Background())
	require.NotNil(t, second)

	point, err = reg.RollbackPointByID(record.RollbackID)
	require.NoError(t, err)
	assert.True(t, point.Applied)

	restored, err := reg.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, 1.0, restored.Parameters["error_tolerance"], "rollback restores the pre-adaptation snapshot")
}

func TestIntegrator_CyclesAreSequentiallyNumbered(t *testing.T) {
	tracker, reg := seedTracker(t)
	in := newTestIntegrator(tracker, reg)

	first := in.RunCycle(context.Background())
	second := in.RunCycle(context.Background())
	assert.Equal(t, first.CycleID+1, second.CycleID)
}

func TestIntegrator_InitializationHoldsWithoutPatterns(t *testing.T) {
	reg := core.NewRegistry(nil)
	tracker := NewTracker(100)
	for _, s := range samples("quiet", 5, 0, 100) {
		tracker.Record(s)
	}
	in := newTestIntegrator(tracker, reg)

	for i := 0; i < 3; i++ {
		result := in.RunCycle(context.Background())
		assert.Equal(t, PhaseInitialization, result.Phase,
			"no pattern has ever been detected, so the integrator stays in initialization")
	}
}

func TestIntegrator_StoresCycleSummaryInsight(t *testing.T) {
	tracker, reg := seedTracker(t)
	memory := core.NewInMemoryEpisodicMemory(10)
	in := NewIntegrator(tracker, testAnalyzer(), testOptimizer(), NewModifier(false), reg, memory, time.Minute, nil)

	in.RunCycle(context.Background())

	insights, err := memory.Recall(context.Background(), "learning_cycle_summary")
	require.NoError(t, err)
	assert.Len(t, insights, 1)
}

func TestIntegrator_OnCycleCallbackReceivesResult(t *testing.T) {
	tracker, reg := seedTracker(t)
	in := newTestIntegrator(tracker, reg)

	var got []CycleResult
	in.OnCycle(func(r CycleResult) { got = append(got, r) })

	in.RunCycle(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].CycleID)
}
