package core

import (
	"context"
	"encoding/json"
	"sync"
)

// SessionStore is the Execution Context Store: a session-scoped,
// append-only list of prior outputs, bounded by most-recent-N per session.
// It is not persistent across process restarts unless backed by Redis
// (see RedisSessionStore).
type SessionStore interface {
	Append(ctx context.Context, sessionID, output string) error
	History(ctx context.Context, sessionID string) ([]string, error)
}

// InMemorySessionStore is the default SessionStore, a ring-bounded map kept
// entirely in process memory.
type InMemorySessionStore struct {
	mu      sync.Mutex
	maxSize int
	history map[string][]string
}

// NewInMemorySessionStore creates a store bounding each session's history
// to maxSize entries.
func NewInMemorySessionStore(maxSize int) *InMemorySessionStore {
	if maxSize <= 0 {
		maxSize = 32
	}
	return &InMemorySessionStore{
		maxSize: maxSize,
		history: make(map[string][]string),
	}
}

// Append adds output to the session's history, trimming to the most
// recent maxSize entries.
func (s *InMemorySessionStore) Append(_ context.Context, sessionID, output string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := append(s.history[sessionID], output)
	if len(entries) > s.maxSize {
		entries = entries[len(entries)-s.maxSize:]
	}
	s.history[sessionID] = entries
	return nil
}

// History returns the session's previous outputs, oldest first.
func (s *InMemorySessionStore) History(_ context.Context, sessionID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.history[sessionID]
	result := make([]string, len(entries))
	copy(result, entries)
	return result, nil
}

// RedisSessionStore backs the execution context store with Redis, for
// deployments that want session history to survive process restarts.
type RedisSessionStore struct {
	client  *RedisClient
	maxSize int
}

// NewRedisSessionStore wraps a RedisClient to implement SessionStore.
func NewRedisSessionStore(client *RedisClient, maxSize int) *RedisSessionStore {
	if maxSize <= 0 {
		maxSize = 32
	}
	return &RedisSessionStore{client: client, maxSize: maxSize}
}

func (s *RedisSessionStore) key(sessionID string) string {
	return "session:" + sessionID + ":history"
}

// Append RPushes the new output and LTrims to the bounded window, keeping
// the contract append-only-but-bounded from the caller's perspective.
func (s *RedisSessionStore) Append(ctx context.Context, sessionID, output string) error {
	key := s.key(sessionID)
	if err := s.client.RPush(ctx, key, output); err != nil {
		return err
	}
	return s.client.LTrim(ctx, key, int64(-s.maxSize), -1)
}

// History returns the session's previous outputs, oldest first.
func (s *RedisSessionStore) History(ctx context.Context, sessionID string) ([]string, error) {
	return s.client.LRange(ctx, s.key(sessionID), 0, -1)
}

// EpisodicMemory is the external episodic/semantic memory store consumed
// by the Learning Integrator to persist cycle summaries. The core
// only requires store/recall; richer contracts are out of scope.
type EpisodicMemory interface {
	StoreInsight(ctx context.Context, kind string, payload interface{}) error
	Recall(ctx context.Context, query string) ([]string, error)
}

// RedisEpisodicMemory implements EpisodicMemory on top of RedisClient,
// serializing payloads as JSON under a kind-namespaced key.
type RedisEpisodicMemory struct {
	client *RedisClient
}

// NewRedisEpisodicMemory builds an EpisodicMemory backed by Redis.
func NewRedisEpisodicMemory(client *RedisClient) *RedisEpisodicMemory {
	return &RedisEpisodicMemory{client: client}
}

// StoreInsight appends a JSON-encoded payload to the kind's insight log.
func (m *RedisEpisodicMemory) StoreInsight(ctx context.Context, kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	key := "episodic:" + kind
	if err := m.client.RPush(ctx, key, string(data)); err != nil {
		return err
	}
	return m.client.LTrim(ctx, key, -200, -1)
}

// Recall returns the most recent insight payloads stored under a kind.
// query is treated as the insight kind; richer querying is out of scope.
func (m *RedisEpisodicMemory) Recall(ctx context.Context, query string) ([]string, error) {
	return m.client.LRange(ctx, "episodic:"+query, 0, -1)
}

// NoOpEpisodicMemory discards insights, used when no external store is
// configured; the Learning Integrator still calls StoreInsight unconditionally
// each cycle so behavior is identical whether or not a real store is wired.
type NoOpEpisodicMemory struct{}

func (NoOpEpisodicMemory) StoreInsight(context.Context, string, interface{}) error { return nil }
func (NoOpEpisodicMemory) Recall(context.Context, string) ([]string, error)        { return nil, nil }
