package learning

import (
	"sort"
	"time"

	"github.com/meridianlabs/cogniflow/core"
)

// OptimizationStrategy is the tagged variant of optimizer strategies,
// modeled as an enumeration rather than open-ended virtual dispatch so the
// selection rule below stays total and testable.
type OptimizationStrategy string

const (
	StrategyGradientDescent   OptimizationStrategy = "gradient_descent"
	StrategyBayesian          OptimizationStrategy = "bayesian"
	StrategyGeneticAlgorithm  OptimizationStrategy = "genetic_algorithm"
	StrategySimulatedAnnealing OptimizationStrategy = "simulated_annealing"
)

// AdaptationType classifies an AdaptationRecord.
type AdaptationType string

const (
	AdaptationParameterTuning         AdaptationType = "parameter_tuning"
	AdaptationPerformanceOptimization AdaptationType = "performance_optimization"
	AdaptationReliabilityImprovement  AdaptationType = "reliability_improvement"
	AdaptationUXEnhancement           AdaptationType = "ux_enhancement"
	AdaptationGeneralOptimization     AdaptationType = "general_optimization"
)

// AdaptationRecord documents one parameter change applied to an agent.
type AdaptationRecord struct {
	ID             string
	TargetAgentID  string
	Type           AdaptationType
	ParameterChange map[string]ParamChange
	Timestamp      time.Time
	ExpectedImpact float64
	ActualImpact   float64
	EvaluatedPostHoc bool
	Success        bool
	RollbackID     string
}

// ParamChange records a single parameter's old and new value.
type ParamChange struct {
	Old float64
	New float64
}

// opportunity is an internal ranking unit produced from a detected pattern.
type opportunity struct {
	pattern   DetectedPattern
	urgency   float64
	potential float64
	risk      float64
}

// OptimizerConfig governs the optimizer's safety gate.
type OptimizerConfig struct {
	MinImprovementThreshold float64
	SafetyFactor            float64
}

// OptimizationResults bundles the optimizer's output for one learning
// cycle.
type OptimizationResults struct {
	Adaptations []AdaptationRecord
	Rejected    int
}

// priorHistory tracks, per agent id, the sign sequence of past parameter
// changes (used by the SimulatedAnnealing selection rule) and a sample
// count (used by the Bayesian selection rule).
type priorHistory struct {
	sampleCount int
	lastSigns   []int // most recent first, capped at 3
}

// Optimizer is the Parameter Optimizer.
type Optimizer struct {
	cfg     OptimizerConfig
	history map[string]*priorHistory
	seq     int
}

// NewOptimizer creates a Parameter Optimizer.
func NewOptimizer(cfg OptimizerConfig) *Optimizer {
	return &Optimizer{cfg: cfg, history: make(map[string]*priorHistory)}
}

// Optimize runs the extraction -> ranking -> strategy-selection ->
// safety-gate -> application pipeline for one learning cycle.
// registry is the Agent Registry used for parameter application.
func (o *Optimizer) Optimize(patterns []DetectedPattern, registry *core.Registry) OptimizationResults {
	opportunities := o.extractOpportunities(patterns)
	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].potential*opportunities[i].urgency > opportunities[j].potential*opportunities[j].urgency
	})

	results := OptimizationResults{}
	for _, opp := range opportunities {
		strategy := o.selectStrategy(opp)
		change, expectedImpact := o.proposeChange(opp, strategy)

		magnitude := changeMagnitude(change)
		if expectedImpact < o.cfg.MinImprovementThreshold || magnitude*opp.risk > o.cfg.SafetyFactor {
			results.Rejected++
			continue
		}

		record, err := o.apply(opp, strategy, change, expectedImpact, registry)
		if err != nil {
			results.Rejected++
			continue
		}
		results.Adaptations = append(results.Adaptations, *record)
	}
	return results
}

// extractOpportunities turns detected patterns into ranked optimization
// candidates: Failure patterns above threshold yield high-urgency
// opportunities; Performance patterns above 0.7 confidence yield
// medium-urgency ones.
func (o *Optimizer) extractOpportunities(patterns []DetectedPattern) []opportunity {
	var out []opportunity
	for _, p := range patterns {
		switch p.Type {
		case PatternFailure:
			out = append(out, opportunity{pattern: p, urgency: 0.9, potential: 0.8, risk: 0.3})
		case PatternPerformance:
			if p.Confidence > 0.7 {
				out = append(out, opportunity{pattern: p, urgency: 0.6, potential: p.Strength * 0.5, risk: 0.2})
			}
		}
	}
	return out
}

// selectStrategy picks an optimization strategy for one opportunity.
func (o *Optimizer) selectStrategy(opp opportunity) OptimizationStrategy {
	var agentID string
	if len(opp.pattern.AgentIDs) > 0 {
		agentID = opp.pattern.AgentIDs[0]
	}
	hist := o.history[agentID]

	if hist == nil || hist.sampleCount < 5 {
		return StrategyBayesian
	}
	if oscillating(hist.lastSigns) {
		return StrategySimulatedAnnealing
	}
	// Continuous parameter space assumed for performance/failure targets.
	return StrategyGradientDescent
}

func oscillating(signs []int) bool {
	if len(signs) < 3 {
		return false
	}
	return signs[0] != 0 && signs[1] != 0 && signs[2] != 0 &&
		signs[0] != signs[1] && signs[1] != signs[2]
}

// proposeChange derives a parameter-change map and expected impact for an
// opportunity. The specific parameter touched follows the pattern type:
// failures tune "error_tolerance" down; performance anomalies tune
// "response_time_target" down.
func (o *Optimizer) proposeChange(opp opportunity, strategy OptimizationStrategy) (map[string]ParamChange, float64) {
	step := 0.1
	switch strategy {
	case StrategySimulatedAnnealing:
		step = 0.05
	case StrategyGeneticAlgorithm:
		step = 0.15
	}

	param := "response_time_target"
	if opp.pattern.Type == PatternFailure {
		param = "error_tolerance"
	}

	change := map[string]ParamChange{
		param: {Old: 1.0, New: 1.0 - step},
	}
	expectedImpact := opp.potential * opp.urgency
	return change, expectedImpact
}

func changeMagnitude(change map[string]ParamChange) float64 {
	var total float64
	for _, c := range change {
		diff := c.New - c.Old
		if diff < 0 {
			diff = -diff
		}
		total += diff
	}
	return total
}

// changeDirection is the sign of the net parameter movement, the unit the
// oscillation check compares across cycles.
func changeDirection(change map[string]ParamChange) int {
	var net float64
	for _, c := range change {
		net += c.New - c.Old
	}
	switch {
	case net > 0:
		return 1
	case net < 0:
		return -1
	default:
		return 0
	}
}

// apply creates a rollback point, updates the registry's parameters, and
// records the adaptation.
func (o *Optimizer) apply(opp opportunity, strategy OptimizationStrategy, change map[string]ParamChange, expectedImpact float64, registry *core.Registry) (*AdaptationRecord, error) {
	var agentID string
	if len(opp.pattern.AgentIDs) > 0 {
		agentID = opp.pattern.AgentIDs[0]
	}

	rollbackID, err := registry.CreateRollbackPoint(agentID)
	if err != nil {
		return nil, err
	}

	changeMap := make(map[string]float64, len(change))
	for k, v := range change {
		changeMap[k] = v.New
	}
	if err := registry.UpdateParameters(agentID, changeMap, rollbackID); err != nil {
		return nil, err
	}

	o.seq++
	adaptationType := AdaptationGeneralOptimization
	switch opp.pattern.Type {
	case PatternFailure:
		adaptationType = AdaptationReliabilityImprovement
	case PatternPerformance:
		adaptationType = AdaptationPerformanceOptimization
	}

	hist := o.history[agentID]
	if hist == nil {
		hist = &priorHistory{}
		o.history[agentID] = hist
	}
	hist.sampleCount++
	hist.lastSigns = append([]int{changeDirection(change)}, hist.lastSigns...)
	if len(hist.lastSigns) > 3 {
		hist.lastSigns = hist.lastSigns[:3]
	}

	return &AdaptationRecord{
		ID:              agentID + "-adapt-" + rollbackID[:8],
		TargetAgentID:   agentID,
		Type:            adaptationType,
		ParameterChange: change,
		Timestamp:       time.Now(),
		ExpectedImpact:  expectedImpact,
		RollbackID:      rollbackID,
	}, nil
}

// EvaluatePostHoc correlates the actual change in agent efficiency against
// the expected impact, fills ActualImpact and Success, and schedules a
// rollback when actual is less than half expected.
func (o *Optimizer) EvaluatePostHoc(record *AdaptationRecord, efficiencyBefore, efficiencyAfter float64, registry *core.Registry) error {
	record.ActualImpact = efficiencyAfter - efficiencyBefore
	record.EvaluatedPostHoc = true
	record.Success = record.ActualImpact >= 0.5*record.ExpectedImpact

	if !record.Success {
		return registry.ApplyRollback(record.RollbackID)
	}
	return nil
}
