// Package simulation implements the Concept Graph, the Simulation
// Engine, and the Rule Database.
//
// The concept graph is a single in-memory typed graph (Entity/Action/
// Attribute/Abstract/Relation nodes; named, weighted, decaying
// relationships) with Hebbian weight updates, rather than a persisted
// document store.
package simulation

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/cogniflow/core"
)

// ConceptType classifies a ConceptNode.
type ConceptType string

const (
	ConceptEntity   ConceptType = "entity"
	ConceptAction   ConceptType = "action"
	ConceptAttribute ConceptType = "attribute"
	ConceptAbstract ConceptType = "abstract"
	ConceptRelation ConceptType = "relation"
)

// ConceptNode is a node in the Concept Graph.
type ConceptNode struct {
	ID           string
	Type         ConceptType
	Content      string
	Description  string
	Confidence   float64
	UsageCount   int
	CreatedAt    time.Time
	LastAccessed time.Time
	Metadata     map[string]interface{}
}

// ConceptEdge is a named, weighted, decaying relationship between two
// concepts. Invariant: 0 <= Weight <= 1.
type ConceptEdge struct {
	ID             string
	SourceID       string
	TargetID       string
	RelationType   string
	Weight         float64
	BaseWeight     float64
	ActivationCount int
	LearningRate   float64
	DecayRate      float64
	PruneThreshold float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ConceptFilter narrows query_concepts results.
type ConceptFilter struct {
	Type    ConceptType
	MinConfidence float64
}

// GraphMetrics summarizes the graph's current size.
type GraphMetrics struct {
	NodeCount int
	EdgeCount int
}

// edgeKey identifies a relationship by type and ordered endpoint pair, used
// to detect duplicate relationship creation.
type edgeKey struct {
	relType string
	source  string
	target  string
}

// Graph is the Concept Graph. Structural changes (node/edge
// creation and deletion) take a single logical writer; edge activation can
// use the edge's own lock for fine-grained concurrency.
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]*ConceptNode
	edges     map[string]*ConceptEdge
	edgesBy   map[edgeKey]string // edgeKey -> edge id, for duplicate detection
	adjacency map[string][]string // node id -> outgoing edge ids
	edgeLocks map[string]*sync.Mutex
}

// NewGraph creates an empty Concept Graph.
func NewGraph() *Graph {
	return &Graph{
		nodes:     make(map[string]*ConceptNode),
		edges:     make(map[string]*ConceptEdge),
		edgesBy:   make(map[edgeKey]string),
		adjacency: make(map[string][]string),
		edgeLocks: make(map[string]*sync.Mutex),
	}
}

// CreateConcept adds a new node and returns it.
func (g *Graph) CreateConcept(conceptType ConceptType, content, description string, confidence float64, metadata map[string]interface{}) *ConceptNode {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := &ConceptNode{
		ID:           uuid.NewString(),
		Type:         conceptType,
		Content:      content,
		Description:  description,
		Confidence:   confidence,
		CreatedAt:    time.Now(),
		LastAccessed: time.Now(),
		Metadata:     metadata,
	}
	g.nodes[node.ID] = node
	return node
}

// GetConcept returns a node by id.
func (g *Graph) GetConcept(id string) (*ConceptNode, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	if !ok {
		return nil, &core.FrameworkError{Op: "Graph.GetConcept", Kind: "concept", ID: id, Err: core.ErrConceptNotFound}
	}
	clone := *n
	return &clone, nil
}

// UpdateConcept applies mutator to the stored node under the write lock.
func (g *Graph) UpdateConcept(id string, mutate func(*ConceptNode)) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[id]
	if !ok {
		return &core.FrameworkError{Op: "Graph.UpdateConcept", Kind: "concept", ID: id, Err: core.ErrConceptNotFound}
	}
	mutate(n)
	return nil
}

// DeleteConcept removes a node and every edge touching it.
func (g *Graph) DeleteConcept(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[id]; !ok {
		return &core.FrameworkError{Op: "Graph.DeleteConcept", Kind: "concept", ID: id, Err: core.ErrConceptNotFound}
	}
	delete(g.nodes, id)
	for eid, e := range g.edges {
		if e.SourceID == id || e.TargetID == id {
			delete(g.edges, eid)
			delete(g.edgesBy, edgeKey{e.RelationType, e.SourceID, e.TargetID})
		}
	}
	g.rebuildAdjacencyLocked()
	return nil
}

// MarkAccessed bumps a node's usage count and last-accessed timestamp.
func (g *Graph) MarkAccessed(id string) error {
	return g.UpdateConcept(id, func(n *ConceptNode) {
		n.UsageCount++
		n.LastAccessed = time.Now()
	})
}

// QueryConcepts returns nodes matching filter.
func (g *Graph) QueryConcepts(filter ConceptFilter) []*ConceptNode {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*ConceptNode
	for _, n := range g.nodes {
		if filter.Type != "" && n.Type != filter.Type {
			continue
		}
		if n.Confidence < filter.MinConfidence {
			continue
		}
		clone := *n
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateRelationship adds a directed, weighted edge. Duplicate creation
// (same type, same ordered pair) fails with ErrDuplicateRelationship.
func (g *Graph) CreateRelationship(sourceID, targetID, relationType string, weight, learningRate, decayRate, pruneThreshold float64) (*ConceptEdge, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[sourceID]; !ok {
		return nil, &core.FrameworkError{Op: "Graph.CreateRelationship", Kind: "concept", ID: sourceID, Err: core.ErrConceptNotFound}
	}
	if _, ok := g.nodes[targetID]; !ok {
		return nil, &core.FrameworkError{Op: "Graph.CreateRelationship", Kind: "concept", ID: targetID, Err: core.ErrConceptNotFound}
	}

	key := edgeKey{relationType, sourceID, targetID}
	if _, exists := g.edgesBy[key]; exists {
		return nil, &core.FrameworkError{Op: "Graph.CreateRelationship", Kind: "relationship", Err: core.ErrDuplicateRelationship}
	}

	edge := &ConceptEdge{
		ID:             uuid.NewString(),
		SourceID:       sourceID,
		TargetID:       targetID,
		RelationType:   relationType,
		Weight:         clamp01(weight),
		BaseWeight:     clamp01(weight),
		LearningRate:   learningRate,
		DecayRate:      decayRate,
		PruneThreshold: pruneThreshold,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	g.edges[edge.ID] = edge
	g.edgesBy[key] = edge.ID
	g.adjacency[sourceID] = append(g.adjacency[sourceID], edge.ID)
	g.edgeLocks[edge.ID] = &sync.Mutex{}
	return edge, nil
}

func (g *Graph) rebuildAdjacencyLocked() {
	g.adjacency = make(map[string][]string)
	for id, e := range g.edges {
		g.adjacency[e.SourceID] = append(g.adjacency[e.SourceID], id)
	}
}

// QueryEdges returns clones of the node's outgoing edges, sorted by
// relation type then target for deterministic iteration.
func (g *Graph) QueryEdges(sourceID string) []*ConceptEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []*ConceptEdge
	for _, eid := range g.adjacency[sourceID] {
		if e, ok := g.edges[eid]; ok {
			clone := *e
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelationType != out[j].RelationType {
			return out[i].RelationType < out[j].RelationType
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}

// ActivateRelationship applies the Hebbian update to a single edge:
// w <- clamp(w + eta*(1-w), 0, 1).
func (g *Graph) ActivateRelationship(edgeID string) error {
	g.mu.RLock()
	edge, ok := g.edges[edgeID]
	lock := g.edgeLocks[edgeID]
	g.mu.RUnlock()
	if !ok {
		return &core.FrameworkError{Op: "Graph.ActivateRelationship", Kind: "relationship", ID: edgeID, Err: core.ErrRelationshipNotFound}
	}

	lock.Lock()
	defer lock.Unlock()
	edge.Weight = clamp01(edge.Weight + edge.LearningRate*(1-edge.Weight))
	edge.ActivationCount++
	edge.UpdatedAt = time.Now()
	return nil
}

// CoActivateConcepts activates every edge whose endpoint set equals {a,b}
// (order-independent).
func (g *Graph) CoActivateConcepts(a, b string) int {
	g.mu.RLock()
	var matches []string
	for id, e := range g.edges {
		if (e.SourceID == a && e.TargetID == b) || (e.SourceID == b && e.TargetID == a) {
			matches = append(matches, id)
		}
	}
	g.mu.RUnlock()

	for _, id := range matches {
		_ = g.ActivateRelationship(id)
	}
	return len(matches)
}

// ApplyDecay ages every edge by deltaHours: w <- max(base*0.1, w *
// exp(-lambda*delta)). Weight is non-increasing for delta >= 0.
func (g *Graph) ApplyDecay(deltaHours float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range g.edges {
		floor := e.BaseWeight * 0.1
		decayed := e.Weight * math.Exp(-e.DecayRate*deltaHours)
		if decayed < floor {
			decayed = floor
		}
		e.Weight = decayed
		e.UpdatedAt = time.Now()
	}
}

// PruneWeak removes every edge whose weight is strictly below its prune
// threshold.
func (g *Graph) PruneWeak() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	pruned := 0
	for id, e := range g.edges {
		if e.Weight < e.PruneThreshold {
			delete(g.edges, id)
			delete(g.edgesBy, edgeKey{e.RelationType, e.SourceID, e.TargetID})
			pruned++
		}
	}
	g.rebuildAdjacencyLocked()
	return pruned
}

// Metrics reports the graph's current size.
func (g *Graph) Metrics() GraphMetrics {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return GraphMetrics{NodeCount: len(g.nodes), EdgeCount: len(g.edges)}
}

// BFS returns node ids reachable from start, breadth-first, up to maxDepth.
func (g *Graph) BFS(start string, maxDepth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{start: true}
	order := []string{start}
	queue := []struct {
		id    string
		depth int
	}{{start, 0}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, eid := range g.adjacency[cur.id] {
			e := g.edges[eid]
			if e == nil || visited[e.TargetID] {
				continue
			}
			visited[e.TargetID] = true
			order = append(order, e.TargetID)
			queue = append(queue, struct {
				id    string
				depth int
			}{e.TargetID, cur.depth + 1})
		}
	}
	return order
}

// DFS returns node ids reachable from start, depth-first, up to maxDepth.
func (g *Graph) DFS(start string, maxDepth int) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{}
	var order []string
	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if visited[id] {
			return
		}
		visited[id] = true
		order = append(order, id)
		if depth >= maxDepth {
			return
		}
		for _, eid := range g.adjacency[id] {
			e := g.edges[eid]
			if e != nil && !visited[e.TargetID] {
				visit(e.TargetID, depth+1)
			}
		}
	}
	visit(start, 0)
	return order
}

// ActivationResult is one node's spreading-activation value.
type ActivationResult struct {
	NodeID     string
	Activation float64
	Depth      int
}

// SpreadActivation propagates activation from source: each neighbor
// receives parent_activation * edge_weight * spreadFactor *
// decayFactor^depth; propagation continues only while activation >= 0.01,
// depth <= maxDepth, and visited count <= maxNodes.
func (g *Graph) SpreadActivation(source string, spreadFactor, decayFactor float64, maxDepth, maxNodes int) []ActivationResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	results := []ActivationResult{{NodeID: source, Activation: 1.0, Depth: 0}}
	visited := map[string]bool{source: true}

	type frontierEntry struct {
		id         string
		activation float64
		depth      int
	}
	frontier := []frontierEntry{{source, 1.0, 0}}

	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		if cur.depth >= maxDepth || len(visited) >= maxNodes {
			continue
		}
		for _, eid := range g.adjacency[cur.id] {
			e := g.edges[eid]
			if e == nil || visited[e.TargetID] {
				continue
			}
			activation := cur.activation * e.Weight * spreadFactor * math.Pow(decayFactor, float64(cur.depth+1))
			if activation < 0.01 {
				continue
			}
			if len(visited) >= maxNodes {
				break
			}
			visited[e.TargetID] = true
			results = append(results, ActivationResult{NodeID: e.TargetID, Activation: activation, Depth: cur.depth + 1})
			frontier = append(frontier, frontierEntry{e.TargetID, activation, cur.depth + 1})
		}
	}
	return results
}

// ShortestPath computes the lowest-cost path from source to target using
// Dijkstra with edge cost 1/max(w, 0.01).
func (g *Graph) ShortestPath(source, target string) ([]string, float64, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const inf = math.MaxFloat64
	dist := map[string]float64{source: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	for {
		// Pick unvisited node with smallest distance.
		cur := ""
		best := inf
		for id, d := range dist {
			if !visited[id] && d < best {
				best = d
				cur = id
			}
		}
		if cur == "" {
			break
		}
		if cur == target {
			break
		}
		visited[cur] = true

		for _, eid := range g.adjacency[cur] {
			e := g.edges[eid]
			if e == nil {
				continue
			}
			cost := 1.0 / math.Max(e.Weight, 0.01)
			newDist := dist[cur] + cost
			if existing, ok := dist[e.TargetID]; !ok || newDist < existing {
				dist[e.TargetID] = newDist
				prev[e.TargetID] = cur
			}
		}
	}

	totalCost, reached := dist[target]
	if !reached {
		return nil, 0, false
	}

	var path []string
	for at := target; at != ""; {
		path = append([]string{at}, path...)
		if at == source {
			break
		}
		at = prev[at]
	}
	return path, totalCost, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
