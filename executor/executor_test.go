package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/cogniflow/core"
)

type recordingTracker struct {
	mu      sync.Mutex
	samples []core.PerformanceSample
}

func (t *recordingTracker) Record(sample core.PerformanceSample) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, sample)
}

func (t *recordingTracker) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.samples)
}

func newTestExecutor(t *testing.T) (*Executor, *core.Registry, *recordingTracker) {
	t.Helper()
	registry := core.NewRegistry(nil)
	tracker := &recordingTracker{}
	exec := New(registry, tracker, nil, core.ResilienceConfig{})
	return exec, registry, tracker
}

func registerAgent(t *testing.T, registry *core.Registry, id string, status core.AgentStatus) {
	t.Helper()
	require.NoError(t, registry.Register(&core.AgentDescriptor{ID: id, Name: id, Parameters: map[string]float64{}}))
	if status != core.StatusAvailable {
		require.NoError(t, registry.SetStatus(id, status))
	}
}

func TestExecutor_AgentNotFound(t *testing.T) {
	exec, _, tracker := newTestExecutor(t)

	result := exec.Execute(context.Background(), core.ExecutionRequest{AgentID: "missing", TimeoutSeconds: 1})

	assert.False(t, result.Success)
	assert.Equal(t, "agent_not_found", result.Error)
	assert.Equal(t, 1, tracker.count())
}

func TestExecutor_AgentUnavailable(t *testing.T) {
	exec, registry, tracker := newTestExecutor(t)
	registerAgent(t, registry, "a1", core.StatusUnavailable)

	result := exec.Execute(context.Background(), core.ExecutionRequest{AgentID: "a1", TimeoutSeconds: 1})

	assert.False(t, result.Success)
	assert.Equal(t, "agent_unavailable", result.Error)
	assert.Equal(t, 1, tracker.count())
}

func TestExecutor_Timeout(t *testing.T) {
	exec, registry, tracker := newTestExecutor(t)
	registerAgent(t, registry, "a1", core.StatusAvailable)
	exec.Bind("a1", core.AgentRunnerFunc(func(input string, ctx *core.ExecutionContext, params map[string]float64) (string, float64, core.ResourceUsage, error) {
		time.Sleep(100 * time.Millisecond)
		return "late", 0.9, core.ResourceUsage{}, nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()
	result := exec.Execute(ctx, core.ExecutionRequest{AgentID: "a1", TimeoutSeconds: 30})

	assert.False(t, result.Success)
	assert.Equal(t, "timeout", result.Error)
	assert.Equal(t, 1, tracker.count())

	got, err := registry.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusAvailable, got.Status, "status must be restored after timeout")
}

func TestExecutor_SuccessRestoresPriorStatus(t *testing.T) {
	exec, registry, tracker := newTestExecutor(t)
	registerAgent(t, registry, "a1", core.StatusAvailable)
	exec.Bind("a1", core.AgentRunnerFunc(func(input string, ctx *core.ExecutionContext, params map[string]float64) (string, float64, core.ResourceUsage, error) {
		return "ok", 0.75, core.ResourceUsage{MemoryMB: 1}, nil
	}))

	result := exec.Execute(context.Background(), core.ExecutionRequest{AgentID: "a1", TimeoutSeconds: 5})

	assert.True(t, result.Success)
	assert.Equal(t, "ok", result.Content)
	assert.Equal(t, 0.75, result.Confidence)
	assert.Equal(t, 1, tracker.count())

	got, err := registry.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusAvailable, got.Status)
}

func TestExecutor_PanicRecoveredAsFailure(t *testing.T) {
	exec, registry, tracker := newTestExecutor(t)
	registerAgent(t, registry, "a1", core.StatusAvailable)
	exec.Bind("a1", core.AgentRunnerFunc(func(input string, ctx *core.ExecutionContext, params map[string]float64) (string, float64, core.ResourceUsage, error) {
		panic("boom")
	}))

	result := exec.Execute(context.Background(), core.ExecutionRequest{AgentID: "a1", TimeoutSeconds: 5})

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "panic")
	assert.Equal(t, 1, tracker.count())

	got, err := registry.Get("a1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusAvailable, got.Status, "status must be restored even after a panic")
}

func TestExecutor_ParameterOverridesMergeOverDescriptorDefaults(t *testing.T) {
	exec, registry, _ := newTestExecutor(t)
	require.NoError(t, registry.Register(&core.AgentDescriptor{
		ID:         "a1",
		Parameters: map[string]float64{"temperature": 0.2, "top_p": 0.9},
	}))

	var seen map[string]float64
	exec.Bind("a1", core.AgentRunnerFunc(func(input string, ctx *core.ExecutionContext, params map[string]float64) (string, float64, core.ResourceUsage, error) {
		seen = params
		return "ok", 0.5, core.ResourceUsage{}, nil
	}))

	exec.Execute(context.Background(), core.ExecutionRequest{
		AgentID:            "a1",
		TimeoutSeconds:     5,
		ParameterOverrides: map[string]float64{"temperature": 0.8},
	})

	assert.Equal(t, 0.8, seen["temperature"])
	assert.Equal(t, 0.9, seen["top_p"])
}
