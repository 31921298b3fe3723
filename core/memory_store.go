package core

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// MemoryStore is the in-process implementation of Memory: a TTL-aware
// key/value map. It backs InMemoryEpisodicMemory when no Redis store is
// configured, and is usable on its own as a recall cache.
type MemoryStore struct {
	mu     sync.RWMutex
	store  map[string]memoryEntry
	logger Logger
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		store:  make(map[string]memoryEntry),
		logger: &NoOpLogger{},
	}
}

// SetLogger configures the store's logger, labeled with the memory
// component so cache traffic is filterable in structured logs.
func (m *MemoryStore) SetLogger(logger Logger) {
	if logger == nil {
		m.logger = &NoOpLogger{}
		return
	}
	if cal, ok := logger.(ComponentAwareLogger); ok {
		m.logger = cal.WithComponent("core/memory")
	} else {
		m.logger = logger
	}
}

// Get retrieves a value; a missing or expired key returns "" without error.
func (m *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	if !exists || entry.expired() {
		if registry := GetGlobalMetricsRegistry(); registry != nil {
			registry.Counter("cogniflow.memory.operations", "operation", "get", "result", "miss")
		}
		return "", nil
	}

	if registry := GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("cogniflow.memory.operations", "operation", "get", "result", "hit")
	}
	return entry.value, nil
}

// Set stores a value; ttl <= 0 means the entry never expires.
func (m *MemoryStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	m.store[key] = entry

	m.logger.Debug("memory set", map[string]interface{}{
		"key":        key,
		"value_size": len(value),
		"has_ttl":    ttl > 0,
	})
	return nil
}

// Delete removes a key; deleting a missing key is not an error.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.store, key)
	return nil
}

// Exists reports whether a live (non-expired) entry is present.
func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.store[key]
	return exists && !entry.expired(), nil
}

func (e memoryEntry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// InMemoryEpisodicMemory implements EpisodicMemory on a MemoryStore,
// keeping a bounded JSON log of insights per kind. It is the default
// episodic store when no Redis deployment is configured: cycle summaries
// stay recallable for the life of the process, bounded by
// DefaultEpisodicInsightTTL.
type InMemoryEpisodicMemory struct {
	mu       sync.Mutex
	store    *MemoryStore
	maxItems int
}

// NewInMemoryEpisodicMemory creates an episodic store retaining up to
// maxItems insights per kind.
func NewInMemoryEpisodicMemory(maxItems int) *InMemoryEpisodicMemory {
	if maxItems <= 0 {
		maxItems = 200
	}
	return &InMemoryEpisodicMemory{store: NewMemoryStore(), maxItems: maxItems}
}

// StoreInsight appends a JSON-encoded payload to the kind's insight log,
// trimming to the retention bound.
func (m *InMemoryEpisodicMemory) StoreInsight(ctx context.Context, kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := "episodic:" + kind
	existing, err := m.store.Get(ctx, key)
	if err != nil {
		return err
	}
	var log []json.RawMessage
	if existing != "" {
		if err := json.Unmarshal([]byte(existing), &log); err != nil {
			log = nil
		}
	}
	log = append(log, data)
	if len(log) > m.maxItems {
		log = log[len(log)-m.maxItems:]
	}
	encoded, err := json.Marshal(log)
	if err != nil {
		return err
	}
	return m.store.Set(ctx, key, string(encoded), DefaultEpisodicInsightTTL)
}

// Recall returns the stored insight payloads for a kind, oldest first.
// query is treated as the insight kind; richer querying is out of scope.
func (m *InMemoryEpisodicMemory) Recall(ctx context.Context, query string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.store.Get(ctx, "episodic:"+query)
	if err != nil || existing == "" {
		return nil, err
	}
	var log []json.RawMessage
	if err := json.Unmarshal([]byte(existing), &log); err != nil {
		return nil, err
	}
	out := make([]string, len(log))
	for i, raw := range log {
		out[i] = string(raw)
	}
	return out, nil
}
