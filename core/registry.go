package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RollbackPoint snapshots an agent's parameters at a moment in time so a
// later adaptation can be undone.
type RollbackPoint struct {
	ID         string
	AgentID    string
	CreatedAt  time.Time
	Parameters map[string]float64
	Applied    bool
}

// agentEntry pairs a descriptor with the lock that serializes writes to it.
// Concurrent readers are permitted; per-agent locking (rather than one
// global registry lock) keeps unrelated adaptations from serializing
// against each other.
type agentEntry struct {
	mu             sync.RWMutex
	descriptor     *AgentDescriptor
	lastRollbackID string
}

// Registry is the Agent Registry: a mapping from stable agent id to
// descriptor, with per-agent single-writer/multi-reader locking and a
// TOCTOU-guarded parameter-update path.
type Registry struct {
	mu       sync.RWMutex
	agents   map[string]*agentEntry
	rollback map[string]*RollbackPoint
	logger   Logger
}

// NewRegistry creates an empty Agent Registry.
func NewRegistry(logger Logger) *Registry {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if cal, ok := logger.(ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestration/registry")
	}
	return &Registry{
		agents:   make(map[string]*agentEntry),
		rollback: make(map[string]*RollbackPoint),
		logger:   logger,
	}
}

// Register adds a new agent descriptor. Fails with ErrAgentAlreadyExists if
// the id is already present.
func (r *Registry) Register(descriptor *AgentDescriptor) error {
	if descriptor == nil || descriptor.ID == "" {
		return &FrameworkError{Op: "Registry.Register", Kind: "agent", Message: "descriptor must have a non-empty id", Err: ErrInvalidConfiguration}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[descriptor.ID]; exists {
		return &FrameworkError{Op: "Registry.Register", Kind: "agent", ID: descriptor.ID, Err: ErrAgentAlreadyExists}
	}

	clone := descriptor.Clone()
	if clone.Status == "" {
		clone.Status = StatusAvailable
	}
	if clone.RegisteredAt.IsZero() {
		clone.RegisteredAt = time.Now()
	}
	r.agents[descriptor.ID] = &agentEntry{descriptor: clone}

	r.logger.Info("agent registered", map[string]interface{}{"agent_id": descriptor.ID, "tags": descriptor.Tags})
	return nil
}

// Unregister removes an agent descriptor and any rollback points for it.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[id]; !exists {
		return &FrameworkError{Op: "Registry.Unregister", Kind: "agent", ID: id, Err: ErrAgentNotFound}
	}
	delete(r.agents, id)
	for rid, rp := range r.rollback {
		if rp.AgentID == id {
			delete(r.rollback, rid)
		}
	}
	return nil
}

// List returns descriptors matching categoryFilter (a tag); an empty filter
// returns every registered agent. An empty registry returns an empty slice,
// never an error.
func (r *Registry) List(categoryFilter string) []*AgentDescriptor {
	r.mu.RLock()
	entries := make([]*agentEntry, 0, len(r.agents))
	for _, e := range r.agents {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	result := make([]*AgentDescriptor, 0, len(entries))
	for _, e := range entries {
		e.mu.RLock()
		d := e.descriptor
		matches := categoryFilter == ""
		if !matches {
			for _, tag := range d.Tags {
				if tag == categoryFilter {
					matches = true
					break
				}
			}
		}
		if matches {
			result = append(result, d.Clone())
		}
		e.mu.RUnlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a snapshot of the agent's descriptor.
func (r *Registry) Get(id string) (*AgentDescriptor, error) {
	entry, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.RLock()
	defer entry.mu.RUnlock()
	return entry.descriptor.Clone(), nil
}

func (r *Registry) lookup(id string) (*agentEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, exists := r.agents[id]
	if !exists {
		return nil, &FrameworkError{Op: "Registry.lookup", Kind: "agent", ID: id, Err: ErrAgentNotFound}
	}
	return entry, nil
}

// SetStatus transitions an agent's availability (mutated by the executor).
func (r *Registry) SetStatus(id string, status AgentStatus) error {
	entry, err := r.lookup(id)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.descriptor.Status = status
	return nil
}

// CreateRollbackPoint snapshots the agent's current parameters and returns
// an id that must accompany the next UpdateParameters call for that agent.
func (r *Registry) CreateRollbackPoint(id string) (string, error) {
	entry, err := r.lookup(id)
	if err != nil {
		return "", err
	}

	entry.mu.Lock()
	snapshot := make(map[string]float64, len(entry.descriptor.Parameters))
	for k, v := range entry.descriptor.Parameters {
		snapshot[k] = v
	}
	rollbackID := uuid.NewString()
	point := &RollbackPoint{
		ID:         rollbackID,
		AgentID:    id,
		CreatedAt:  time.Now(),
		Parameters: snapshot,
	}
	entry.lastRollbackID = rollbackID
	entry.mu.Unlock()

	r.mu.Lock()
	r.rollback[rollbackID] = point
	r.mu.Unlock()

	return rollbackID, nil
}

// UpdateParameters applies changeMap to the agent's parameters. It fails
// with ErrAgentNotFound when the agent is missing, or ErrStaleRollback when
// rollbackID does not match the most recently created rollback point for
// this agent — guarding against a concurrent adapter racing this one.
func (r *Registry) UpdateParameters(id string, changeMap map[string]float64, rollbackID string) error {
	entry, err := r.lookup(id)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.lastRollbackID == "" || entry.lastRollbackID != rollbackID {
		return &FrameworkError{Op: "Registry.UpdateParameters", Kind: "agent", ID: id, Message: "stale rollback id", Err: ErrStaleRollback}
	}

	if entry.descriptor.Parameters == nil {
		entry.descriptor.Parameters = make(map[string]float64, len(changeMap))
	}
	for k, v := range changeMap {
		entry.descriptor.Parameters[k] = v
	}
	return nil
}

// ApplyRollback restores the agent's parameters to the snapshot captured by
// rollbackID. Satisfies the round-trip invariant:
// apply(create_rollback_point(agent)) ≡ identity on the parameter map.
func (r *Registry) ApplyRollback(rollbackID string) error {
	r.mu.Lock()
	point, exists := r.rollback[rollbackID]
	r.mu.Unlock()
	if !exists {
		return &FrameworkError{Op: "Registry.ApplyRollback", Kind: "rollback", ID: rollbackID, Err: ErrAgentNotFound}
	}

	entry, err := r.lookup(point.AgentID)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	restored := make(map[string]float64, len(point.Parameters))
	for k, v := range point.Parameters {
		restored[k] = v
	}
	entry.descriptor.Parameters = restored
	entry.mu.Unlock()

	r.mu.Lock()
	point.Applied = true
	r.mu.Unlock()

	r.logger.Info("rollback applied", map[string]interface{}{"agent_id": point.AgentID, "rollback_id": rollbackID})
	return nil
}

// RollbackPointByID returns the recorded rollback point, for callers (the
// parameter optimizer's post-hoc evaluation) that need to inspect whether a
// rollback has already been applied.
func (r *Registry) RollbackPointByID(rollbackID string) (*RollbackPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	point, exists := r.rollback[rollbackID]
	if !exists {
		return nil, fmt.Errorf("rollback point %s: %w", rollbackID, ErrAgentNotFound)
	}
	clone := *point
	return &clone, nil
}
