package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridianlabs/cogniflow/core"
)

// LearningPhase is the Learning Integrator's state machine position.
type LearningPhase string

const (
	PhaseInitialization        LearningPhase = "initialization"
	PhaseDiscovery              LearningPhase = "discovery"
	PhaseOptimization           LearningPhase = "optimization"
	PhaseStabilization          LearningPhase = "stabilization"
	PhaseContinuousImprovement LearningPhase = "continuous_improvement"
	PhaseEmergency              LearningPhase = "emergency"
)

// CycleResult summarizes one learning cycle's outcome, the payload stored
// as a cycle summary insight via EpisodicMemory.
type CycleResult struct {
	CycleID     int
	Phase       LearningPhase
	Patterns    []DetectedPattern
	Adaptations []AdaptationRecord
	Adjustments []BehaviorAdjustment
	StartedAt   time.Time
	CompletedAt time.Time
	Failed      bool
	FailureMsg  string
}

// integratorState is guarded by a single lock, held only across metadata
// updates and never across agent calls.
type integratorState struct {
	mu                  sync.Mutex
	cyclesCompleted     int
	everSawPattern      bool
	recentAdaptations   []AdaptationRecord
	lastPatternCount    int
	lastEfficiencyByAgt map[string]float64
}

// Integrator is the Learning Integrator: owns the periodic cycle and
// the phase state machine.
type Integrator struct {
	state        integratorState
	tracker      *Tracker
	analyzer     *Analyzer
	optimizer    *Optimizer
	modifier     *Modifier
	registry     *core.Registry
	memory       core.EpisodicMemory
	logger       core.Logger
	cycleInterval time.Duration

	onCycle func(CycleResult)
}

// NewIntegrator wires the Learning Integrator to its collaborators.
func NewIntegrator(tracker *Tracker, analyzer *Analyzer, optimizer *Optimizer, modifier *Modifier, registry *core.Registry, memory core.EpisodicMemory, cycleInterval time.Duration, logger core.Logger) *Integrator {
	if memory == nil {
		memory = core.NoOpEpisodicMemory{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("learning/integrator")
	}
	return &Integrator{
		tracker:       tracker,
		analyzer:      analyzer,
		optimizer:     optimizer,
		modifier:      modifier,
		registry:      registry,
		memory:        memory,
		cycleInterval: cycleInterval,
		logger:        logger,
		state:         integratorState{lastEfficiencyByAgt: make(map[string]float64)},
	}
}

// OnCycle registers a callback invoked after every completed cycle, used
// by subscribe_learning_events().
func (in *Integrator) OnCycle(fn func(CycleResult)) {
	in.onCycle = fn
}

// Run drives the periodic cycle until ctx is cancelled. Cycles are totally
// ordered: the loop never starts a new cycle before the previous one
// returns.
func (in *Integrator) Run(ctx context.Context) {
	ticker := time.NewTicker(in.cycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			in.RunCycle(ctx)
		}
	}
}

// RunCycle executes a single cycle synchronously: drain samples -> detect
// patterns -> select phase -> run optimizer -> run behavior modifier ->
// persist adaptation outcomes -> store summary insight.
//
// A cycle failure never kills the process: it is recorded, no adaptations
// are emitted, and the next cycle proceeds normally.
func (in *Integrator) RunCycle(ctx context.Context) (result CycleResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("learning cycle panicked", map[string]interface{}{"recover": r})
			result = CycleResult{
				Phase:       PhaseOptimization,
				StartedAt:   start,
				CompletedAt: time.Now(),
				Failed:      true,
				FailureMsg:  fmt.Sprintf("cycle panic: %v", r),
			}
		}
	}()

	snapshot := in.tracker.SystemSnapshot()
	windows := make(map[string][]core.PerformanceSample)
	for _, id := range in.tracker.AgentIDs() {
		windows[id] = in.tracker.AgentWindow(id)
	}

	patterns := in.analyzer.Analyze(windows, snapshot)

	in.state.mu.Lock()
	in.state.cyclesCompleted++
	cycleID := in.state.cyclesCompleted
	in.state.lastPatternCount = len(patterns)
	if len(patterns) > 0 {
		in.state.everSawPattern = true
	}
	everSawPattern := in.state.everSawPattern
	recentAdaptationsSnapshot := append([]AdaptationRecord{}, in.state.recentAdaptations...)
	in.state.mu.Unlock()

	phase := in.selectPhase(cycleID, everSawPattern, patterns, recentAdaptationsSnapshot)

	results := in.optimizer.Optimize(patterns, in.registry)
	adjustments := in.modifier.Propose(patterns, results)

	in.evaluatePriorAdaptations(snapshot)

	in.state.mu.Lock()
	in.state.recentAdaptations = append(in.state.recentAdaptations, results.Adaptations...)
	for _, a := range results.Adaptations {
		in.state.lastEfficiencyByAgt[a.TargetAgentID] = snapshot.SystemEfficiency
	}
	if len(in.state.recentAdaptations) > 20 {
		in.state.recentAdaptations = in.state.recentAdaptations[len(in.state.recentAdaptations)-20:]
	}
	in.state.mu.Unlock()

	result = CycleResult{
		CycleID:     cycleID,
		Phase:       phase,
		Patterns:    patterns,
		Adaptations: results.Adaptations,
		Adjustments: adjustments,
		StartedAt:   start,
		CompletedAt: time.Now(),
	}

	if err := in.memory.StoreInsight(ctx, "learning_cycle_summary", result); err != nil {
		in.logger.Warn("failed to store cycle summary insight", map[string]interface{}{"error": err.Error()})
	}

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("cogniflow.learning.cycles", "phase", string(phase))
		registry.Gauge("cogniflow.learning.patterns_detected", float64(len(patterns)))
		registry.Gauge("cogniflow.learning.adaptations_applied", float64(len(results.Adaptations)))
	}

	if in.onCycle != nil {
		in.onCycle(result)
	}

	return result
}

// selectPhase runs the learning-cycle phase state machine. Emergency
// overrides every other phase whenever a Failure pattern is active this
// cycle. Initialization holds until at least one completed cycle has
// detected a pattern.
func (in *Integrator) selectPhase(cycleID int, everSawPattern bool, patterns []DetectedPattern, recent []AdaptationRecord) LearningPhase {
	for _, p := range patterns {
		if p.Type == PatternFailure {
			return PhaseEmergency
		}
	}

	if cycleID <= 1 || !everSawPattern {
		return PhaseInitialization
	}

	if len(patterns) > 10 {
		return PhaseDiscovery
	}

	if len(recent) > 0 {
		successRate := adaptationSuccessRate(recent)
		if successRate > 0.8 {
			return PhaseContinuousImprovement
		}
		if successRate >= 0.6 {
			return PhaseStabilization
		}
	}

	return PhaseOptimization
}

func adaptationSuccessRate(records []AdaptationRecord) float64 {
	evaluated := 0
	successes := 0
	for _, r := range records {
		if !r.EvaluatedPostHoc {
			continue
		}
		evaluated++
		if r.Success {
			successes++
		}
	}
	if evaluated == 0 {
		return 0
	}
	return float64(successes) / float64(evaluated)
}

// evaluatePriorAdaptations runs the post-hoc step for not-yet-evaluated
// adaptations, comparing the current system efficiency snapshot against
// the efficiency recorded at adaptation time.
//
// The state lock is released before EvaluatePostHoc runs: a triggered
// rollback takes registry locks, and the fixed lock order puts the
// registry before integrator state.
func (in *Integrator) evaluatePriorAdaptations(snapshot SystemSnapshot) {
	in.state.mu.Lock()
	var pending []AdaptationRecord
	for _, record := range in.state.recentAdaptations {
		if !record.EvaluatedPostHoc {
			pending = append(pending, record)
		}
	}
	beforeByAgent := make(map[string]float64, len(pending))
	for _, record := range pending {
		beforeByAgent[record.TargetAgentID] = in.state.lastEfficiencyByAgt[record.TargetAgentID]
	}
	in.state.mu.Unlock()

	after := snapshot.SystemEfficiency
	evaluated := make(map[string]AdaptationRecord, len(pending))
	for i := range pending {
		record := &pending[i]
		if err := in.optimizer.EvaluatePostHoc(record, beforeByAgent[record.TargetAgentID], after, in.registry); err != nil {
			// A rollback that cannot apply leaves the agent in an unknown
			// parameter state; quarantine it and surface the breach loudly.
			_ = in.registry.SetStatus(record.TargetAgentID, core.StatusUnavailable)
			in.logger.Error("adaptation rollback failed, agent marked unavailable", map[string]interface{}{
				"agent_id":    record.TargetAgentID,
				"rollback_id": record.RollbackID,
				"error":       err.Error(),
			})
		}
		evaluated[record.ID] = *record
	}

	in.state.mu.Lock()
	for i := range in.state.recentAdaptations {
		if updated, ok := evaluated[in.state.recentAdaptations[i].ID]; ok {
			in.state.recentAdaptations[i] = updated
		}
	}
	for agentID := range beforeByAgent {
		in.state.lastEfficiencyByAgt[agentID] = after
	}
	in.state.mu.Unlock()
}
