package cogniflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/cogniflow/core"
	"github.com/meridianlabs/cogniflow/simulation"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(core.WithName("runtime-test"))
	require.NoError(t, err)
	return rt
}

func echoRunner(confidence float64) core.AgentRunner {
	return core.AgentRunnerFunc(func(input string, _ *core.ExecutionContext, _ map[string]float64) (string, float64, core.ResourceUsage, error) {
		return "echo:" + input, confidence, core.ResourceUsage{MemoryMB: 1}, nil
	})
}

func registerEcho(t *testing.T, rt *Runtime, id string) {
	t.Helper()
	require.NoError(t, rt.RegisterAgent(&core.AgentDescriptor{
		ID: id, Name: id, Tags: []string{"echo"}, BaseConfidence: 0.9,
		Parameters: map[string]float64{"temperature": 0.5},
	}))
	rt.Bind(id, echoRunner(0.9))
}

func TestRuntime_ExecuteAgentRecordsSampleAndSessionOutput(t *testing.T) {
	rt := newTestRuntime(t)
	registerEcho(t, rt, "echo-1")
	ctx := context.Background()

	execCtx, err := rt.PrepareContext(ctx, "user-1", "sess-1", "", nil)
	require.NoError(t, err)
	assert.Empty(t, execCtx.PreviousOutputs)

	result := rt.ExecuteAgent(ctx, core.ExecutionRequest{
		AgentID: "echo-1", Input: "hi", InputType: "text",
		Context: execCtx, TimeoutSeconds: 5,
	})
	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, "echo:hi", result.Content)

	window := rt.Tracker.AgentWindow("echo-1")
	require.Len(t, window, 1)
	assert.True(t, window[0].Success)

	next, err := rt.PrepareContext(ctx, "user-1", "sess-1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo:hi"}, next.PreviousOutputs)
}

func TestRuntime_ExecuteWorkflowAppendsEveryStepToSession(t *testing.T) {
	rt := newTestRuntime(t)
	registerEcho(t, rt, "step-a")
	registerEcho(t, rt, "step-b")
	ctx := context.Background()

	execCtx, err := rt.PrepareContext(ctx, "user-1", "sess-wf", "", nil)
	require.NoError(t, err)

	result := rt.ExecuteWorkflow(ctx, core.WorkflowRequest{
		Strategy:         core.StrategySequential,
		Context:          execCtx,
		TotalTimeoutSecs: 10,
		Steps: []core.WorkflowStep{
			{AgentID: "step-a", Input: "one"},
			{AgentID: "step-b", Input: "two"},
		},
	})
	require.True(t, result.Success)
	require.Len(t, result.StepResults, 2)
	assert.Equal(t, "echo:one", result.StepResults[0].Content)

	history, err := rt.Sessions.History(ctx, "sess-wf")
	require.NoError(t, err)
	assert.Equal(t, []string{"echo:one", "echo:two"}, history)
}

func TestRuntime_ListAgentsAndStatus(t *testing.T) {
	rt := newTestRuntime(t)
	assert.Empty(t, rt.ListAgents(""), "an empty registry lists empty, not an error")

	registerEcho(t, rt, "echo-1")
	agents := rt.ListAgents("echo")
	require.Len(t, agents, 1)
	assert.Equal(t, core.StatusAvailable, agents[0].Status)

	status, err := rt.GetAgentStatus("echo-1")
	require.NoError(t, err)
	assert.Equal(t, "echo-1", status.Info.ID)
	assert.Equal(t, core.HealthUnknown, status.Health, "no executions yet")

	rt.ExecuteAgent(context.Background(), core.ExecutionRequest{AgentID: "echo-1", Input: "x", TimeoutSeconds: 5})
	status, err = rt.GetAgentStatus("echo-1")
	require.NoError(t, err)
	assert.Equal(t, core.HealthHealthy, status.Health)
	assert.Equal(t, 1, status.Performance.TotalExecutions)
}

func TestRuntime_SubscribeLearningEventsReceivesCycle(t *testing.T) {
	rt := newTestRuntime(t)
	registerEcho(t, rt, "echo-1")

	events := rt.SubscribeLearningEvents()
	result := rt.RunLearningCycle(context.Background())

	select {
	case got := <-events:
		assert.Equal(t, result.CycleID, got.CycleID)
	case <-time.After(time.Second):
		t.Fatal("no learning event delivered")
	}
}

func TestRuntime_RunBranchingSimulation(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Graph.CreateConcept(simulation.ConceptEntity, "cat", "", 0.9, nil)
	rt.Graph.CreateConcept(simulation.ConceptEntity, "mat", "", 0.9, nil)

	action := simulation.Action{
		ID: "warmup", Name: "warmup", Confidence: 0.9,
		Effects: []simulation.Effect{{
			Type: simulation.EffectSetGlobalProperty, Probability: 1,
			Property: "temperature", Value: "warm",
		}},
	}

	result, err := rt.RunBranchingSimulation("cat sat on mat", 2, []simulation.Action{action}, "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Outcomes)
	assert.Greater(t, result.Explored, 1)

	_, err = rt.RunBranchingSimulation("no recognized words", 2, []simulation.Action{action}, "")
	assert.ErrorIs(t, err, core.ErrParseFailed)
}
