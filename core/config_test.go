package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_MatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 300, cfg.Learning.CycleIntervalSeconds)
	assert.Equal(t, 0.8, cfg.Learning.PatternConfidenceThreshold)
	assert.Equal(t, 0.05, cfg.Learning.MinImprovementThreshold)
	assert.Equal(t, 0.8, cfg.Learning.SafetyFactor)
	assert.False(t, cfg.Learning.EnableAutoModification)
	assert.Equal(t, 100, cfg.Learning.PerformanceWindowSize)
	assert.Equal(t, 2.0, cfg.Learning.FailureErrorRateMultiple)
	assert.Equal(t, 2.0, cfg.Learning.ResponseTimeSigmaK)

	assert.Equal(t, 32, cfg.Memory.SessionHistorySize)
	assert.Equal(t, "inmemory", cfg.Memory.Provider)

	require.NoError(t, cfg.Validate())
}

func TestNewConfig_EnvOverlay(t *testing.T) {
	t.Setenv("ORC_LEARNING_CYCLE_INTERVAL_S", "60")
	t.Setenv("ORC_PATTERN_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("ORC_ENABLE_AGGRESSIVE_PRUNING", "true")
	t.Setenv("ORC_MAX_ACTIVE_BRANCHES", "8")

	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Learning.CycleIntervalSeconds)
	assert.Equal(t, 0.9, cfg.Learning.PatternConfidenceThreshold)
	assert.True(t, cfg.Simulation.EnableAggressivePruning)
	assert.Equal(t, 8, cfg.Simulation.MaxActiveBranches)
}

func TestNewConfig_OptionsWinOverEnv(t *testing.T) {
	t.Setenv("ORC_LEARNING_CYCLE_INTERVAL_S", "60")

	cfg, err := NewConfig(WithLearningCycleInterval(10))
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Learning.CycleIntervalSeconds)
}

func TestConfig_ValidateRejectsBadBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Learning.SafetyFactor = 1.5
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.Simulation.PruningThreshold = 2
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = DefaultConfig()
	cfg.Memory.Provider = "redis"
	assert.ErrorIs(t, cfg.Validate(), ErrMissingConfiguration)
}

func TestConfig_InvalidOptionSurfacesError(t *testing.T) {
	_, err := NewConfig(WithName(""))
	assert.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestWithSimulationBounds(t *testing.T) {
	cfg, err := NewConfig(WithSimulationBounds(4, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Simulation.MaxActiveBranches)
	assert.Equal(t, 3, cfg.Simulation.MaxBranchesPerStep)
	assert.Equal(t, 3, cfg.Simulation.MaxBranchingDepth)

	_, err = NewConfig(WithSimulationBounds(0, 3, 3))
	assert.Error(t, err)
}
