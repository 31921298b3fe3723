package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleDB_GetActiveRulesFiltersByFlagAndConfidence(t *testing.T) {
	db := NewRuleDB()
	keep := db.AddRule(RuleCausal, OutcomeValue, "wet_ground", 0.9, 12)
	db.AddRule(RuleSingle, OutcomeValue, "low_conf", 0.2, 3)
	dead := db.AddRule(RuleSequence, OutcomeValue, "deprecated", 0.9, 8)
	require.True(t, db.Deprecate(dead.ID))

	active := db.GetActiveRules(0.5)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)
}

func TestRuleDB_IncrementUsageMovesSuccessRateAsEMA(t *testing.T) {
	db := NewRuleDB()
	r := db.AddRule(RuleCausal, OutcomeValue, "outcome", 0.9, 5)

	// First usage seeds the rate directly.
	require.True(t, db.IncrementUsage(r.ID, true))
	got := db.GetActiveRules(0)[0]
	assert.Equal(t, 1.0, got.SuccessRate)

	// Each later usage blends with alpha = 0.1.
	require.True(t, db.IncrementUsage(r.ID, false))
	got = db.GetActiveRules(0)[0]
	assert.InDelta(t, 0.9, got.SuccessRate, 1e-9)

	require.True(t, db.IncrementUsage(r.ID, true))
	got = db.GetActiveRules(0)[0]
	assert.InDelta(t, 0.1*1.0+0.9*0.9, got.SuccessRate, 1e-9)
	assert.Equal(t, 3, got.UsageCount)
}

func TestRuleDB_IncrementUsageUnknownID(t *testing.T) {
	db := NewRuleDB()
	assert.False(t, db.IncrementUsage("missing", true))
}

func TestRuleDB_TriggeredActionRulesKeyedByOutcome(t *testing.T) {
	db := NewRuleDB()
	db.AddRule(RuleCausal, OutcomeTriggeredAction, "act-1", 0.6, 4)
	strong := db.AddRule(RuleCausal, OutcomeTriggeredAction, "act-1", 0.9, 9)
	db.AddRule(RuleCausal, OutcomeValue, "act-2", 0.9, 9)

	rules := db.TriggeredActionRules(0.5)
	require.Len(t, rules, 1)
	assert.Equal(t, strong.ID, rules["act-1"].ID, "the higher-confidence rule wins the key")
}
