package simulation

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/cogniflow/core"
)

// locationPrepositions are the closed vocabulary used to extract a
// location property from text.
var locationPrepositions = map[string]bool{
	"in": true, "at": true, "on": true, "near": true,
	"under": true, "over": true, "beside": true,
}

var timeOfDayWords = map[string]bool{
	"morning": true, "afternoon": true, "evening": true, "night": true,
}

var weatherWords = map[string]bool{
	"sunny": true, "rainy": true, "cloudy": true, "snowy": true,
	"windy": true, "clear": true, "stormy": true,
}

// EntityState is one extracted or simulated entity.
type EntityState struct {
	ID         string
	ConceptID  string
	Label      string
	Properties map[string]string
	Confidence float64
}

// RelationshipKey identifies a relationship by its ordered entity pair.
type RelationshipKey struct {
	Source string
	Target string
}

// RelationshipState is an asserted relationship between two entities.
type RelationshipState struct {
	Type       string
	Confidence float64
}

// GlobalProperty is a state-wide property not attached to any entity.
type GlobalProperty struct {
	Name       string
	Value      string
	Confidence float64
}

// SimulationState is a snapshot of the simulated world.
type SimulationState struct {
	ID               string
	Entities         map[string]*EntityState
	Relationships    map[RelationshipKey]*RelationshipState
	GlobalProperties []GlobalProperty
	Confidence       float64
	Valid            bool
	ValidationErrors []string
	SourceText       string
}

// Clone deep-copies a state for mutation inside a child branch.
func (s *SimulationState) Clone() *SimulationState {
	clone := &SimulationState{
		ID:               uuid.NewString(),
		Entities:         make(map[string]*EntityState, len(s.Entities)),
		Relationships:    make(map[RelationshipKey]*RelationshipState, len(s.Relationships)),
		GlobalProperties: append([]GlobalProperty{}, s.GlobalProperties...),
		Confidence:       s.Confidence,
		Valid:            s.Valid,
		ValidationErrors: append([]string{}, s.ValidationErrors...),
		SourceText:       s.SourceText,
	}
	for id, e := range s.Entities {
		ec := *e
		ec.Properties = make(map[string]string, len(e.Properties))
		for k, v := range e.Properties {
			ec.Properties[k] = v
		}
		clone.Entities[id] = &ec
	}
	for k, r := range s.Relationships {
		rc := *r
		clone.Relationships[k] = &rc
	}
	return clone
}

// complexity is a simple size metric used by validation.
func (s *SimulationState) complexity() int {
	return len(s.Entities) + len(s.Relationships) + len(s.GlobalProperties)
}

// ConditionOperator enumerates comparison operators over state properties.
type ConditionOperator string

const (
	OpEquals      ConditionOperator = "equals"
	OpNotEquals   ConditionOperator = "not_equals"
	OpGreaterThan ConditionOperator = "greater_than"
	OpLessThan    ConditionOperator = "less_than"
	OpContains    ConditionOperator = "contains"
	OpNotContains ConditionOperator = "not_contains"
	OpMatches     ConditionOperator = "matches"
)

// Condition is a single precondition clause. EntityID is empty for a
// condition over a global property.
type Condition struct {
	EntityID string
	Property string
	Operator ConditionOperator
	Value    string
}

// Evaluate checks the condition against state, returning false (not an
// error) when the referenced property is absent.
func (c Condition) Evaluate(state *SimulationState) bool {
	actual, ok := lookupProperty(state, c.EntityID, c.Property)
	if !ok {
		return c.Operator == OpNotEquals || c.Operator == OpNotContains
	}
	switch c.Operator {
	case OpEquals:
		return actual == c.Value
	case OpNotEquals:
		return actual != c.Value
	case OpContains:
		return strings.Contains(actual, c.Value)
	case OpNotContains:
		return !strings.Contains(actual, c.Value)
	case OpMatches:
		matched, err := regexp.MatchString(c.Value, actual)
		return err == nil && matched
	case OpGreaterThan, OpLessThan:
		af, aerr := strconv.ParseFloat(actual, 64)
		vf, verr := strconv.ParseFloat(c.Value, 64)
		if aerr != nil || verr != nil {
			return false
		}
		if c.Operator == OpGreaterThan {
			return af > vf
		}
		return af < vf
	default:
		return false
	}
}

func lookupProperty(state *SimulationState, entityID, property string) (string, bool) {
	if entityID == "" {
		for _, gp := range state.GlobalProperties {
			if gp.Name == property {
				return gp.Value, true
			}
		}
		return "", false
	}
	e, ok := state.Entities[entityID]
	if !ok {
		return "", false
	}
	v, ok := e.Properties[property]
	return v, ok
}

// EffectMutationType enumerates the kinds of state mutation an Effect can
// apply.
type EffectMutationType string

const (
	EffectSetProperty        EffectMutationType = "set_property"
	EffectModifyProperty     EffectMutationType = "modify_property"
	EffectAddEntity          EffectMutationType = "add_entity"
	EffectRemoveEntity       EffectMutationType = "remove_entity"
	EffectAddRelationship    EffectMutationType = "add_relationship"
	EffectRemoveRelationship EffectMutationType = "remove_relationship"
	EffectModifyRelationship EffectMutationType = "modify_relationship"
	EffectSetGlobalProperty  EffectMutationType = "set_global_property"
	EffectTriggerAction      EffectMutationType = "trigger_action"
)

// Effect is one possible consequence of an action, applied probabilistically.
type Effect struct {
	Type            EffectMutationType
	Probability     float64
	EntityID        string
	Property        string
	Value           string
	RelationshipKey RelationshipKey
	RelationType    string
	TriggeredAction string
}

// StateChange records one applied (or attempted) effect inside a
// transition.
type StateChange struct {
	EffectType EffectMutationType
	Target     string
	OldValue   string
	NewValue   string
	Success    bool
}

// Transition is the record of one action's application to a branch.
type Transition struct {
	ActionID  string
	Changes   []StateChange
	Timestamp time.Time
}

// Action declares preconditions and probabilistic effects.
type Action struct {
	ID             string
	Name           string
	Preconditions  []Condition
	Effects        []Effect
	Confidence     float64
	Priority       int
}

// applicable reports whether every precondition holds and the action's own
// confidence clears the configured floor.
func (a Action) applicable(state *SimulationState, minActionConfidence float64) bool {
	if a.Confidence < minActionConfidence {
		return false
	}
	for _, c := range a.Preconditions {
		if !c.Evaluate(state) {
			return false
		}
	}
	return true
}

// ConflictStrategy resolves competing effects that target the same
// property within one step.
type ConflictStrategy string

const (
	ConflictHigherConfidence ConflictStrategy = "higher_confidence"
	ConflictHigherPriority   ConflictStrategy = "higher_priority"
	ConflictSequential       ConflictStrategy = "sequential"
	ConflictMerge            ConflictStrategy = "merge"
	ConflictSkip             ConflictStrategy = "skip"
)

// SimulationBranch is one node in the explored tree of future states.
type SimulationBranch struct {
	ID                   string
	ParentID             string
	ChildIDs             []string
	State                *SimulationState
	Transitions          []Transition
	AccumulatedConfidence float64
	Depth                int
	Active               bool
	CreatedAt            time.Time
	UpdatedAt            time.Time
	PruneReason          string
}

// BranchingStats summarizes a completed branching simulation.
type BranchingStats struct {
	AvgConfidence  float64
	MaxDepth       int
	AvgActiveDepth float64
	TerminalCount  int
	Diversity      float64
	Complexity     float64
}

// BranchingResult is the output of run_branching_simulation.
type BranchingResult struct {
	Branches         map[string]*SimulationBranch
	RootBranchID     string
	Outcomes         []*SimulationBranch
	Explored         int
	Pruned           int
	OverallConfidence float64
	Stats            BranchingStats
}

// Engine is the Simulation Engine. It has no implicit suspension
// point: long runs are chunked by iterating max_steps synchronously and
// never block.
type Engine struct {
	graph *Graph
	rules *RuleDB
	cfg   core.SimulationConfig
	action core.ActionConfig
	parse  core.ParsingConfig
	rng    *rand.Rand
}

// NewEngine creates a Simulation Engine bound to a Concept Graph for entity
// recognition. rngSource is a seedable random source for deterministic
// effect-probability trials in tests; pass nil for a
// time-seeded default.
func NewEngine(graph *Graph, cfg core.SimulationConfig, action core.ActionConfig, parse core.ParsingConfig, rngSource rand.Source) *Engine {
	if rngSource == nil {
		rngSource = rand.NewSource(time.Now().UnixNano())
	}
	return &Engine{graph: graph, cfg: cfg, action: action, parse: parse, rng: rand.New(rngSource)}
}

// SetRuleDB attaches a Rule Database. During branching simulation, active
// triggered-action rules raise the effective confidence of the actions
// they name, and each application of such an action feeds back into the
// rule's usage count and success rate.
func (e *Engine) SetRuleDB(db *RuleDB) {
	e.rules = db
}

var wordSplit = regexp.MustCompile(`[A-Za-z']+`)

type token struct {
	text   string
	offset int
}

func tokenize(text string) []token {
	idx := wordSplit.FindAllStringIndex(text, -1)
	out := make([]token, 0, len(idx))
	for _, pair := range idx {
		out = append(out, token{text: strings.ToLower(text[pair[0]:pair[1]]), offset: pair[0]})
	}
	return out
}

// ParseState extracts a SimulationState from free text. Returns
// ErrParseFailed when zero entities are recognized: this is fatal for the
// operation and no state is stored.
func (e *Engine) ParseState(text string) (*SimulationState, error) {
	tokens := tokenize(text)

	concepts := e.graph.QueryConcepts(ConceptFilter{MinConfidence: e.parse.MinConceptConfidence})
	byContent := make(map[string]*ConceptNode, len(concepts))
	for _, c := range concepts {
		byContent[strings.ToLower(c.Content)] = c
	}

	type extractedEntity struct {
		entity *EntityState
		offset int
	}
	var entities []extractedEntity

	for i, t := range tokens {
		concept, ok := byContent[t.text]
		if !ok {
			continue
		}
		ent := &EntityState{
			ID:         uuid.NewString(),
			ConceptID:  concept.ID,
			Label:      concept.Content,
			Properties: make(map[string]string),
			Confidence: concept.Confidence,
		}

		// Adjective-before-noun: a non-stopword, non-preposition token
		// immediately preceding the entity becomes a descriptor.
		if i > 0 && isLikelyAdjective(tokens[i-1].text) {
			ent.Properties["descriptor"] = tokens[i-1].text
		}

		// Location preposition: "<entity> in/at/on/... <this noun>" attaches
		// this noun as the location of the most recently extracted entity.
		if i >= 2 && locationPrepositions[tokens[i-1].text] && len(entities) > 0 {
			entities[len(entities)-1].entity.Properties["location"] = concept.Content
		}

		entities = append(entities, extractedEntity{entity: ent, offset: t.offset})
		if len(entities) >= e.parse.MaxEntitiesPerState {
			break
		}
	}

	if len(entities) == 0 {
		return nil, &core.FrameworkError{Op: "Engine.ParseState", Kind: "simulation", Err: core.ErrParseFailed}
	}

	state := &SimulationState{
		ID:            uuid.NewString(),
		Entities:      make(map[string]*EntityState, len(entities)),
		Relationships: make(map[RelationshipKey]*RelationshipState),
		SourceText:    text,
	}
	for _, ee := range entities {
		state.Entities[ee.entity.ID] = ee.entity
	}

	// Relationships: any two extracted entities within 50 source-text
	// characters of each other are asserted as related.
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			if abs(entities[j].offset-entities[i].offset) > 50 {
				continue
			}
			key := RelationshipKey{Source: entities[i].entity.ID, Target: entities[j].entity.ID}
			state.Relationships[key] = &RelationshipState{
				Type:       "related_to",
				Confidence: (entities[i].entity.Confidence + entities[j].entity.Confidence) / 2 * 0.7,
			}
		}
	}

	for _, t := range tokens {
		if timeOfDayWords[t.text] {
			state.GlobalProperties = append(state.GlobalProperties, GlobalProperty{Name: "time_of_day", Value: t.text, Confidence: 0.8})
		}
		if weatherWords[t.text] {
			state.GlobalProperties = append(state.GlobalProperties, GlobalProperty{Name: "weather", Value: t.text, Confidence: 0.8})
		}
	}

	state.Confidence = stateConfidence(state)
	e.validate(state)
	return state, nil
}

func isLikelyAdjective(word string) bool {
	stopwords := map[string]bool{
		"the": true, "a": true, "an": true, "is": true, "was": true,
		"and": true, "of": true, "to": true, "it": true,
	}
	if stopwords[word] || locationPrepositions[word] {
		return false
	}
	return len(word) > 2
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// stateConfidence computes the weighted-average state confidence,
// substituting 0.5 when a category has no members.
func stateConfidence(state *SimulationState) float64 {
	entityAvg := avgOr(0.5, entityConfidences(state))
	relAvg := avgOr(0.5, relationshipConfidences(state))
	globalAvg := avgOr(0.5, globalConfidences(state))
	return 0.5*entityAvg + 0.3*relAvg + 0.2*globalAvg
}

func entityConfidences(state *SimulationState) []float64 {
	out := make([]float64, 0, len(state.Entities))
	for _, e := range state.Entities {
		out = append(out, e.Confidence)
	}
	return out
}

func relationshipConfidences(state *SimulationState) []float64 {
	out := make([]float64, 0, len(state.Relationships))
	for _, r := range state.Relationships {
		out = append(out, r.Confidence)
	}
	return out
}

func globalConfidences(state *SimulationState) []float64 {
	out := make([]float64, 0, len(state.GlobalProperties))
	for _, g := range state.GlobalProperties {
		out = append(out, g.Confidence)
	}
	return out
}

func avgOr(fallback float64, values []float64) float64 {
	if len(values) == 0 {
		return fallback
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// validate checks a state against the configured validity rules.
func (e *Engine) validate(state *SimulationState) {
	var errs []string

	if state.complexity() > e.parse.MaxStateComplexity {
		errs = append(errs, fmt.Sprintf("complexity %d exceeds max %d", state.complexity(), e.parse.MaxStateComplexity))
	}
	for id, ent := range state.Entities {
		if ent.Confidence < e.parse.MinConceptConfidence {
			errs = append(errs, fmt.Sprintf("entity %s confidence %.3f below minimum", id, ent.Confidence))
		}
	}
	for key, rel := range state.Relationships {
		if _, ok := state.Entities[key.Source]; !ok {
			errs = append(errs, fmt.Sprintf("relationship %s->%s references missing source entity", key.Source, key.Target))
		}
		if _, ok := state.Entities[key.Target]; !ok {
			errs = append(errs, fmt.Sprintf("relationship %s->%s references missing target entity", key.Source, key.Target))
		}
		if rel.Confidence < 0.1 {
			errs = append(errs, fmt.Sprintf("relationship %s->%s confidence %.3f below 0.1", key.Source, key.Target, rel.Confidence))
		}
	}

	state.ValidationErrors = errs
	state.Valid = len(errs) == 0
}

// applyEffects runs the Bernoulli trial for each effect of action and
// mutates state in place, returning the transition record. Effect-
// probability failures are local and recoverable: they do not abort the
// branch.
func (e *Engine) applyEffects(state *SimulationState, action Action) Transition {
	transition := Transition{ActionID: action.ID, Timestamp: time.Now()}

	for _, eff := range action.Effects {
		if e.rng.Float64() > eff.Probability {
			transition.Changes = append(transition.Changes, StateChange{
				EffectType: eff.Type,
				Target:     effectTarget(eff),
				Success:    false,
			})
			continue
		}
		change := e.mutate(state, eff)
		transition.Changes = append(transition.Changes, change)
	}
	return transition
}

func effectTarget(eff Effect) string {
	if eff.EntityID != "" {
		return eff.EntityID + "." + eff.Property
	}
	return eff.Property
}

func (e *Engine) mutate(state *SimulationState, eff Effect) StateChange {
	change := StateChange{EffectType: eff.Type, Target: effectTarget(eff), Success: true}

	switch eff.Type {
	case EffectSetProperty, EffectModifyProperty:
		ent, ok := state.Entities[eff.EntityID]
		if !ok {
			change.Success = false
			return change
		}
		change.OldValue = ent.Properties[eff.Property]
		ent.Properties[eff.Property] = eff.Value
		change.NewValue = eff.Value
	case EffectAddEntity:
		state.Entities[eff.EntityID] = &EntityState{
			ID: eff.EntityID, Label: eff.Value, Properties: map[string]string{}, Confidence: 0.5,
		}
		change.NewValue = eff.Value
	case EffectRemoveEntity:
		delete(state.Entities, eff.EntityID)
		for key := range state.Relationships {
			if key.Source == eff.EntityID || key.Target == eff.EntityID {
				delete(state.Relationships, key)
			}
		}
	case EffectAddRelationship:
		state.Relationships[eff.RelationshipKey] = &RelationshipState{Type: eff.RelationType, Confidence: 0.7}
		change.NewValue = eff.RelationType
	case EffectRemoveRelationship:
		delete(state.Relationships, eff.RelationshipKey)
	case EffectModifyRelationship:
		rel, ok := state.Relationships[eff.RelationshipKey]
		if !ok {
			change.Success = false
			return change
		}
		change.OldValue = rel.Type
		rel.Type = eff.RelationType
		change.NewValue = eff.RelationType
	case EffectSetGlobalProperty:
		found := false
		for i := range state.GlobalProperties {
			if state.GlobalProperties[i].Name == eff.Property {
				change.OldValue = state.GlobalProperties[i].Value
				state.GlobalProperties[i].Value = eff.Value
				found = true
				break
			}
		}
		if !found {
			state.GlobalProperties = append(state.GlobalProperties, GlobalProperty{Name: eff.Property, Value: eff.Value, Confidence: 0.7})
		}
		change.NewValue = eff.Value
	case EffectTriggerAction:
		change.NewValue = eff.TriggeredAction
	}
	return change
}

// resolveConflicts filters applicableActions down to one action per
// contested property, per ActionConfig.EnableConflictResolution and the
// configured resolution strategy. When conflict resolution is disabled,
// every applicable action is kept.
func resolveConflicts(actions []Action, strategy ConflictStrategy, enabled bool) []Action {
	if !enabled || len(actions) <= 1 {
		return actions
	}

	touchedBy := make(map[string][]int) // property target -> action indices
	for i, a := range actions {
		for _, eff := range a.Effects {
			if eff.Type == EffectSetProperty || eff.Type == EffectModifyProperty || eff.Type == EffectSetGlobalProperty {
				target := effectTarget(eff)
				touchedBy[target] = append(touchedBy[target], i)
			}
		}
	}

	excluded := make(map[int]bool)
	for _, indices := range touchedBy {
		if len(indices) < 2 {
			continue
		}
		winner := pickWinner(actions, indices, strategy)
		for _, idx := range indices {
			if idx != winner {
				excluded[idx] = true
			}
		}
	}

	var out []Action
	for i, a := range actions {
		if !excluded[i] {
			out = append(out, a)
		}
	}
	return out
}

func pickWinner(actions []Action, indices []int, strategy ConflictStrategy) int {
	switch strategy {
	case ConflictSequential:
		return indices[0]
	case ConflictHigherPriority:
		return bestBy(actions, indices, func(a Action) float64 { return float64(a.Priority) })
	case ConflictSkip:
		return -1
	case ConflictMerge:
		// Merge has no single-winner semantics for scalar properties; fall
		// back to the higher-confidence value, consistent with the default.
		fallthrough
	case ConflictHigherConfidence:
		fallthrough
	default:
		return bestBy(actions, indices, func(a Action) float64 { return a.Confidence })
	}
}

// bestBy picks the index maximizing key(actions[idx]), tie-broken by
// higher priority then lower action id.
func bestBy(actions []Action, indices []int, key func(Action) float64) int {
	best := indices[0]
	for _, idx := range indices[1:] {
		a, b := actions[idx], actions[best]
		switch {
		case key(a) > key(b):
			best = idx
		case key(a) == key(b) && a.Priority > b.Priority:
			best = idx
		case key(a) == key(b) && a.Priority == b.Priority && a.ID < b.ID:
			best = idx
		}
	}
	return best
}

// RunBranchingSimulation runs the bounded branching-exploration algorithm.
// actions is the static action set considered at every step;
// conflictStrategy governs same-step conflicts.
func (e *Engine) RunBranchingSimulation(initialText string, maxSteps int, actions []Action, conflictStrategy ConflictStrategy) (*BranchingResult, error) {
	if conflictStrategy == "" {
		conflictStrategy = ConflictHigherConfidence
	}

	root, err := e.ParseState(initialText)
	if err != nil {
		return nil, err
	}

	ruleByActionID := map[string]*Rule{}
	if e.rules != nil {
		ruleByActionID = e.rules.TriggeredActionRules(e.action.MinActionConfidence)
		actions = boostRuleTriggeredActions(actions, ruleByActionID)
	}

	rootBranch := &SimulationBranch{
		ID:                    uuid.NewString(),
		State:                 root,
		AccumulatedConfidence: 1.0,
		Depth:                 0,
		Active:                true,
		CreatedAt:             time.Now(),
		UpdatedAt:             time.Now(),
	}

	branches := map[string]*SimulationBranch{rootBranch.ID: rootBranch}
	explored := 1
	pruned := 0

	for step := 0; step < maxSteps; step++ {
		active := activeBranches(branches)
		if len(active) == 0 {
			break
		}

		for _, branch := range active {
			applicable := applicableActions(branch.State, actions, e.action.MinActionConfidence)
			applicable = resolveConflicts(applicable, conflictStrategy, e.action.EnableConflictResolution)

			sort.Slice(applicable, func(i, j int) bool { return applicable[i].Confidence > applicable[j].Confidence })
			if e.action.MaxConcurrentActions > 0 && len(applicable) > e.action.MaxConcurrentActions {
				applicable = applicable[:e.action.MaxConcurrentActions]
			}
			if len(applicable) > e.cfg.MaxBranchesPerStep {
				applicable = applicable[:e.cfg.MaxBranchesPerStep]
			}

			if len(applicable) == 0 {
				branch.Active = false
				branch.PruneReason = "terminal"
				continue
			}

			for _, action := range applicable {
				childState := branch.State.Clone()
				transition := e.applyEffects(childState, action)
				e.validate(childState)

				if rule, ok := ruleByActionID[action.ID]; ok {
					e.rules.IncrementUsage(rule.ID, transitionSucceeded(transition))
				}

				child := &SimulationBranch{
					ID:          uuid.NewString(),
					ParentID:    branch.ID,
					State:       childState,
					Transitions: append(append([]Transition{}, branch.Transitions...), transition),
					Depth:       branch.Depth + 1,
					Active:      true,
					CreatedAt:   time.Now(),
					UpdatedAt:   time.Now(),
				}

				bonus := constraintBonus(childState, e.cfg.ConstraintBonus)
				child.AccumulatedConfidence = math.Min(
					branch.AccumulatedConfidence*e.cfg.DecayFactor*action.Confidence+bonus, 1.0)

				branches[child.ID] = child
				branch.ChildIDs = append(branch.ChildIDs, child.ID)
				explored++

				switch {
				case !childState.Valid:
					child.Active = false
					child.PruneReason = "constraint_violation"
					pruned++
				case child.Depth >= e.cfg.MaxBranchingDepth:
					child.Active = false
					child.PruneReason = "max_depth"
				case child.AccumulatedConfidence < e.cfg.PruningThreshold:
					child.Active = false
					child.PruneReason = "low_confidence"
					pruned++
				}
			}

			branch.Active = false
			branch.PruneReason = "expanded"
		}

		pruned += enforceActiveBranchLimit(branches, e.cfg.MaxActiveBranches, e.cfg.EnableAggressivePruning)
	}

	outcomes := topOutcomes(branches, e.cfg.TopOutcomeCount)
	stats := computeStats(branches, outcomes)

	return &BranchingResult{
		Branches:          branches,
		RootBranchID:      rootBranch.ID,
		Outcomes:          outcomes,
		Explored:          explored,
		Pruned:            pruned,
		OverallConfidence: stats.AvgConfidence,
		Stats:             stats,
	}, nil
}

func activeBranches(branches map[string]*SimulationBranch) []*SimulationBranch {
	var out []*SimulationBranch
	for _, b := range branches {
		if b.Active {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// boostRuleTriggeredActions raises each named action's confidence to at
// least its rule's confidence, so an action the rule base vouches for
// competes ahead of equally plausible unvouched ones.
func boostRuleTriggeredActions(actions []Action, rules map[string]*Rule) []Action {
	if len(rules) == 0 {
		return actions
	}
	out := make([]Action, len(actions))
	copy(out, actions)
	for i := range out {
		if rule, ok := rules[out[i].ID]; ok && rule.Confidence > out[i].Confidence {
			out[i].Confidence = rule.Confidence
		}
	}
	return out
}

// transitionSucceeded reports whether at least one effect in the
// transition applied.
func transitionSucceeded(t Transition) bool {
	for _, c := range t.Changes {
		if c.Success {
			return true
		}
	}
	return false
}

func applicableActions(state *SimulationState, actions []Action, minConfidence float64) []Action {
	var out []Action
	for _, a := range actions {
		if a.applicable(state, minConfidence) {
			out = append(out, a)
		}
	}
	return out
}

// constraintBonus awards a small confidence bonus to states that remain
// valid after mutation.
func constraintBonus(state *SimulationState, bonus float64) float64 {
	if state.Valid {
		return bonus
	}
	return 0
}

// enforceActiveBranchLimit prunes active branches when their count
// exceeds the limit, keeping the highest-confidence ones down to
// limit/2 under aggressive pruning, else down to the limit itself.
func enforceActiveBranchLimit(branches map[string]*SimulationBranch, limit int, aggressive bool) int {
	active := activeBranches(branches)
	if len(active) <= limit {
		return 0
	}

	target := limit
	if aggressive {
		target = limit / 2
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].AccumulatedConfidence > active[j].AccumulatedConfidence
	})

	pruned := 0
	for i := target; i < len(active); i++ {
		active[i].Active = false
		active[i].PruneReason = "low_confidence"
		pruned++
	}
	return pruned
}

// topOutcomes ranks branches (active or terminal) by accumulated
// confidence, top N.
func topOutcomes(branches map[string]*SimulationBranch, n int) []*SimulationBranch {
	all := make([]*SimulationBranch, 0, len(branches))
	for _, b := range branches {
		all = append(all, b)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].AccumulatedConfidence != all[j].AccumulatedConfidence {
			return all[i].AccumulatedConfidence > all[j].AccumulatedConfidence
		}
		return all[i].ID < all[j].ID
	})
	if len(all) > n {
		all = all[:n]
	}
	return all
}

// computeStats derives branching statistics from the explored branch set.
func computeStats(branches map[string]*SimulationBranch, outcomes []*SimulationBranch) BranchingStats {
	var confidences []float64
	for _, o := range outcomes {
		confidences = append(confidences, o.AccumulatedConfidence)
	}
	avg := avgOr(0, confidences)

	maxDepth := 0
	terminalCount := 0
	var activeDepths []float64
	for _, b := range branches {
		if b.Depth > maxDepth {
			maxDepth = b.Depth
		}
		if !b.Active && b.PruneReason == "terminal" {
			terminalCount++
		}
		if b.Active {
			activeDepths = append(activeDepths, float64(b.Depth))
		}
	}

	_, stddev := meanStdDev(confidences)
	diversity := clamp01(stddev)
	complexity := math.Min(float64(len(branches))/100.0, 1.0)

	return BranchingStats{
		AvgConfidence:  avg,
		MaxDepth:       maxDepth,
		AvgActiveDepth: avgOr(0, activeDepths),
		TerminalCount:  terminalCount,
		Diversity:      diversity,
		Complexity:     complexity,
	}
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
	return mean, math.Sqrt(sumSq/float64(len(values)))
}
