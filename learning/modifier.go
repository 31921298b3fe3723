package learning

import "time"

// BehaviorAdjustmentKind enumerates the qualitative adjustments the
// Behavior Modifier can propose.
type BehaviorAdjustmentKind string

const (
	AdjustConfidenceThreshold BehaviorAdjustmentKind = "confidence_threshold"
	AdjustResponseTimeTarget  BehaviorAdjustmentKind = "response_time_target"
	AdjustMemoryLimitTarget   BehaviorAdjustmentKind = "memory_limit_target"
	AdjustInteractionStyle    BehaviorAdjustmentKind = "interaction_style"
)

// BehaviorAdjustment is one proposed qualitative change.
type BehaviorAdjustment struct {
	AgentID        string
	Kind           BehaviorAdjustmentKind
	Confidence     float64
	ExpectedImpact float64
}

// BehaviorRollbackRecord is created before a successful modification is
// written, so it can be undone the same way a parameter adaptation can.
type BehaviorRollbackRecord struct {
	AgentID   string
	Kind      BehaviorAdjustmentKind
	CreatedAt time.Time
}

// Modifier is the Behavior Modifier: consumes patterns and
// optimization results and, when enabled, proposes qualitative
// adjustments past a safety validator.
type Modifier struct {
	autoModificationEnabled bool
	rollbacks               []BehaviorRollbackRecord
}

// NewModifier creates a Behavior Modifier gated by
// enable_auto_modification.
func NewModifier(autoModificationEnabled bool) *Modifier {
	return &Modifier{autoModificationEnabled: autoModificationEnabled}
}

// Propose derives candidate adjustments from the cycle's patterns and
// optimization results, validates each against the safety rule (reject
// confidence < 0.6 or expected impact > 0.9), and records a rollback point
// for every modification it accepts.
func (m *Modifier) Propose(patterns []DetectedPattern, results OptimizationResults) []BehaviorAdjustment {
	if !m.autoModificationEnabled {
		return nil
	}

	var candidates []BehaviorAdjustment
	for _, p := range patterns {
		if len(p.AgentIDs) == 0 {
			continue
		}
		agentID := p.AgentIDs[0]
		switch p.Type {
		case PatternFailure:
			candidates = append(candidates, BehaviorAdjustment{
				AgentID: agentID, Kind: AdjustConfidenceThreshold,
				Confidence: p.Confidence, ExpectedImpact: p.Strength * 0.6,
			})
		case PatternPerformance:
			candidates = append(candidates, BehaviorAdjustment{
				AgentID: agentID, Kind: AdjustResponseTimeTarget,
				Confidence: p.Confidence, ExpectedImpact: p.Strength * 0.5,
			})
		case PatternResource:
			candidates = append(candidates, BehaviorAdjustment{
				AgentID: agentID, Kind: AdjustMemoryLimitTarget,
				Confidence: p.Confidence, ExpectedImpact: p.Strength * 0.4,
			})
		case PatternInteraction:
			candidates = append(candidates, BehaviorAdjustment{
				AgentID: agentID, Kind: AdjustInteractionStyle,
				Confidence: p.Confidence, ExpectedImpact: p.Strength * 0.3,
			})
		}
	}

	var accepted []BehaviorAdjustment
	for _, c := range candidates {
		if !m.safetyValid(c) {
			continue
		}
		m.rollbacks = append(m.rollbacks, BehaviorRollbackRecord{
			AgentID: c.AgentID, Kind: c.Kind, CreatedAt: time.Now(),
		})
		accepted = append(accepted, c)
	}
	return accepted
}

// safetyValid rejects modifications that are too uncertain or too
// aggressive.
func (m *Modifier) safetyValid(c BehaviorAdjustment) bool {
	if c.Confidence < 0.6 {
		return false
	}
	if c.ExpectedImpact > 0.9 {
		return false
	}
	return true
}

// Rollbacks returns every behavior rollback record created so far.
func (m *Modifier) Rollbacks() []BehaviorRollbackRecord {
	out := make([]BehaviorRollbackRecord, len(m.rollbacks))
	copy(out, m.rollbacks)
	return out
}
