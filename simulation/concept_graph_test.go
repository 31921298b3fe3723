package simulation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianlabs/cogniflow/core"
)

func TestGraph_CreateAndQueryConcepts(t *testing.T) {
	g := NewGraph()
	g.CreateConcept(ConceptEntity, "cat", "", 0.9, nil)
	g.CreateConcept(ConceptEntity, "mat", "", 0.4, nil)
	g.CreateConcept(ConceptAction, "jump", "", 0.9, nil)

	entities := g.QueryConcepts(ConceptFilter{Type: ConceptEntity, MinConfidence: 0.5})
	require.Len(t, entities, 1)
	assert.Equal(t, "cat", entities[0].Content)

	all := g.QueryConcepts(ConceptFilter{})
	assert.Len(t, all, 3)
}

func TestGraph_MarkAccessedBumpsUsage(t *testing.T) {
	g := NewGraph()
	n := g.CreateConcept(ConceptEntity, "cat", "", 0.9, nil)

	require.NoError(t, g.MarkAccessed(n.ID))
	require.NoError(t, g.MarkAccessed(n.ID))

	got, err := g.GetConcept(n.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.UsageCount)
}

func TestGraph_DuplicateRelationshipRejected(t *testing.T) {
	g := NewGraph()
	a := g.CreateConcept(ConceptEntity, "a", "", 0.9, nil)
	b := g.CreateConcept(ConceptEntity, "b", "", 0.9, nil)

	_, err := g.CreateRelationship(a.ID, b.ID, "related_to", 0.5, 0.1, 0.01, 0.05)
	require.NoError(t, err)

	_, err = g.CreateRelationship(a.ID, b.ID, "related_to", 0.5, 0.1, 0.01, 0.05)
	assert.ErrorIs(t, err, core.ErrDuplicateRelationship)

	// The reverse direction is a different ordered pair, not a duplicate.
	_, err = g.CreateRelationship(b.ID, a.ID, "related_to", 0.5, 0.1, 0.01, 0.05)
	assert.NoError(t, err)
}

// TestGraph_HebbianActivation verifies the closed form of three Hebbian
// updates on a 0.5-weight edge with learning rate 0.1:
// 1 - (1-0.5) * 0.9^3 = 0.6355.
func TestGraph_HebbianActivation(t *testing.T) {
	g := NewGraph()
	a := g.CreateConcept(ConceptEntity, "a", "", 0.9, nil)
	b := g.CreateConcept(ConceptEntity, "b", "", 0.9, nil)
	edge, err := g.CreateRelationship(a.ID, b.ID, "related_to", 0.5, 0.1, 0.01, 0.05)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, g.ActivateRelationship(edge.ID))
	}

	updated := g.QueryEdges(a.ID)
	require.Len(t, updated, 1)
	assert.InDelta(t, 0.6355, updated[0].Weight, 1e-6)
	assert.Equal(t, 3, updated[0].ActivationCount)
}

func TestGraph_CoActivateIsOrderIndependent(t *testing.T) {
	g := NewGraph()
	a := g.CreateConcept(ConceptEntity, "a", "", 0.9, nil)
	b := g.CreateConcept(ConceptEntity, "b", "", 0.9, nil)
	c := g.CreateConcept(ConceptEntity, "c", "", 0.9, nil)

	_, err := g.CreateRelationship(a.ID, b.ID, "related_to", 0.5, 0.1, 0.01, 0.05)
	require.NoError(t, err)
	_, err = g.CreateRelationship(b.ID, a.ID, "supports", 0.5, 0.1, 0.01, 0.05)
	require.NoError(t, err)
	_, err = g.CreateRelationship(a.ID, c.ID, "related_to", 0.5, 0.1, 0.01, 0.05)
	require.NoError(t, err)

	assert.Equal(t, 2, g.CoActivateConcepts(b.ID, a.ID), "both directions between {a,b} activate")

	untouched := g.QueryEdges(a.ID)
	for _, e := range untouched {
		if e.TargetID == c.ID {
			assert.Equal(t, 0.5, e.Weight, "edges outside the pair stay untouched")
		}
	}
}

func TestGraph_DecayIsNonIncreasingAndFloored(t *testing.T) {
	g := NewGraph()
	a := g.CreateConcept(ConceptEntity, "a", "", 0.9, nil)
	b := g.CreateConcept(ConceptEntity, "b", "", 0.9, nil)
	_, err := g.CreateRelationship(a.ID, b.ID, "related_to", 0.8, 0.1, 0.5, 0.0)
	require.NoError(t, err)

	g.ApplyDecay(1)
	after1 := g.QueryEdges(a.ID)[0].Weight
	assert.InDelta(t, 0.8*math.Exp(-0.5), after1, 1e-9)
	assert.Less(t, after1, 0.8)

	// Enough elapsed time drives the weight to the base*0.1 floor, never
	// below it.
	g.ApplyDecay(1000)
	afterLong := g.QueryEdges(a.ID)[0].Weight
	assert.InDelta(t, 0.08, afterLong, 1e-9)
}

func TestGraph_PruneIsStrictlyLessThan(t *testing.T) {
	g := NewGraph()
	a := g.CreateConcept(ConceptEntity, "a", "", 0.9, nil)
	b := g.CreateConcept(ConceptEntity, "b", "", 0.9, nil)
	c := g.CreateConcept(ConceptEntity, "c", "", 0.9, nil)

	// One edge exactly at its prune threshold, one strictly below.
	_, err := g.CreateRelationship(a.ID, b.ID, "at_threshold", 0.3, 0.1, 0.01, 0.3)
	require.NoError(t, err)
	_, err = g.CreateRelationship(a.ID, c.ID, "below_threshold", 0.2, 0.1, 0.01, 0.3)
	require.NoError(t, err)

	pruned := g.PruneWeak()
	assert.Equal(t, 1, pruned)

	remaining := g.QueryEdges(a.ID)
	require.Len(t, remaining, 1)
	assert.Equal(t, "at_threshold", remaining[0].RelationType, "an edge at exactly the threshold is retained")
}

func TestGraph_DeleteConceptRemovesTouchingEdges(t *testing.T) {
	g := NewGraph()
	a := g.CreateConcept(ConceptEntity, "a", "", 0.9, nil)
	b := g.CreateConcept(ConceptEntity, "b", "", 0.9, nil)
	_, err := g.CreateRelationship(a.ID, b.ID, "related_to", 0.5, 0.1, 0.01, 0.05)
	require.NoError(t, err)

	require.NoError(t, g.DeleteConcept(b.ID))
	assert.Empty(t, g.QueryEdges(a.ID))
	assert.Equal(t, GraphMetrics{NodeCount: 1, EdgeCount: 0}, g.Metrics())
}

func lineGraph(t *testing.T, g *Graph, weights []float64) []string {
	t.Helper()
	ids := make([]string, len(weights)+1)
	for i := range ids {
		ids[i] = g.CreateConcept(ConceptEntity, string(rune('a'+i)), "", 0.9, nil).ID
	}
	for i, w := range weights {
		_, err := g.CreateRelationship(ids[i], ids[i+1], "next", w, 0.1, 0.01, 0.0)
		require.NoError(t, err)
	}
	return ids
}

func TestGraph_BFSAndDFSRespectDepth(t *testing.T) {
	g := NewGraph()
	ids := lineGraph(t, g, []float64{0.5, 0.5, 0.5})

	bfs := g.BFS(ids[0], 2)
	assert.Equal(t, []string{ids[0], ids[1], ids[2]}, bfs)

	dfs := g.DFS(ids[0], 2)
	assert.Equal(t, []string{ids[0], ids[1], ids[2]}, dfs)
}

func TestGraph_SpreadActivationAttenuatesAndCutsOff(t *testing.T) {
	g := NewGraph()
	ids := lineGraph(t, g, []float64{0.9, 0.9, 0.9, 0.9})

	results := g.SpreadActivation(ids[0], 0.8, 0.9, 10, 100)
	require.GreaterOrEqual(t, len(results), 2)
	assert.Equal(t, 1.0, results[0].Activation)
	// First hop: 1.0 * 0.9 * 0.8 * 0.9^1.
	assert.InDelta(t, 0.648, results[1].Activation, 1e-9)
	for i := 1; i < len(results); i++ {
		assert.Less(t, results[i].Activation, results[i-1].Activation)
		assert.GreaterOrEqual(t, results[i].Activation, 0.01)
	}
}

// TestGraph_ShortestPathPrefersStrongDirectEdge pins the Dijkstra cost
// model 1/max(w, 0.01): A-0.8-B-0.2-C costs 1.25+5, the direct A-0.3-C
// edge costs 3.33 and wins.
func TestGraph_ShortestPathPrefersStrongDirectEdge(t *testing.T) {
	g := NewGraph()
	a := g.CreateConcept(ConceptEntity, "A", "", 0.9, nil)
	b := g.CreateConcept(ConceptEntity, "B", "", 0.9, nil)
	c := g.CreateConcept(ConceptEntity, "C", "", 0.9, nil)

	_, err := g.CreateRelationship(a.ID, b.ID, "next", 0.8, 0.1, 0.01, 0.0)
	require.NoError(t, err)
	_, err = g.CreateRelationship(b.ID, c.ID, "next", 0.2, 0.1, 0.01, 0.0)
	require.NoError(t, err)
	_, err = g.CreateRelationship(a.ID, c.ID, "next", 0.3, 0.1, 0.01, 0.0)
	require.NoError(t, err)

	path, cost, ok := g.ShortestPath(a.ID, c.ID)
	require.True(t, ok)
	assert.Equal(t, []string{a.ID, c.ID}, path)
	assert.InDelta(t, 1.0/0.3, cost, 1e-9)
}

func TestGraph_ShortestPathUnreachable(t *testing.T) {
	g := NewGraph()
	a := g.CreateConcept(ConceptEntity, "A", "", 0.9, nil)
	b := g.CreateConcept(ConceptEntity, "B", "", 0.9, nil)

	_, _, ok := g.ShortestPath(a.ID, b.ID)
	assert.False(t, ok)
}
