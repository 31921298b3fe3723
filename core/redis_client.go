// Package core provides Redis client abstractions used to back the execution
// context store and the episodic memory handoff.
//
// The runtime's core orchestration and learning loops are entirely in-memory
// (see registry.go, session_store.go); Redis is an optional external
// collaborator used only when a deployment wants session state and cycle
// insights to survive process restarts.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisClient is a namespaced, DB-isolated wrapper around go-redis used by
// the execution context store and the episodic memory recall contract.
type RedisClient struct {
	client    *redis.Client
	dbID      int
	namespace string
	logger    Logger
}

// RedisClientOptions configures the Redis client.
type RedisClientOptions struct {
	RedisURL  string
	DB        int
	Namespace string
	Logger    Logger
}

// Standard DB allocation for the runtime's Redis-backed collaborators.
const (
	// RedisDBSessions holds execution-context previous-output history.
	RedisDBSessions = 0
	// RedisDBEpisodicMemory holds learning-cycle insight summaries.
	RedisDBEpisodicMemory = 1
	// RedisDBCache is available for general-purpose caching by callers.
	RedisDBCache = 2
)

// NewRedisClient creates a new Redis client with specified options.
func NewRedisClient(opts RedisClientOptions) (*RedisClient, error) {
	if opts.RedisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrInvalidConfiguration)
	}

	redisOpt, err := redis.ParseURL(opts.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", ErrInvalidConfiguration)
	}
	if opts.DB >= 0 && opts.DB <= 15 {
		redisOpt.DB = opts.DB
	}

	client := redis.NewClient(redisOpt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis DB %d: %w", opts.DB, ErrConnectionFailed)
	}

	rc := &RedisClient{client: client, dbID: opts.DB, namespace: opts.Namespace, logger: opts.Logger}
	if rc.logger != nil {
		rc.logger.Info("redis client connected", map[string]interface{}{
			"db": opts.DB, "namespace": opts.Namespace,
		})
	}
	return rc, nil
}

// Close closes the Redis connection.
func (r *RedisClient) Close() error {
	return r.client.Close()
}

func (r *RedisClient) formatKey(key string) string {
	if r.namespace != "" {
		return fmt.Sprintf("%s:%s", r.namespace, key)
	}
	return key
}

// Get retrieves a value.
func (r *RedisClient) Get(ctx context.Context, key string) (string, error) {
	return r.client.Get(ctx, r.formatKey(key)).Result()
}

// Set stores a value with an optional TTL.
func (r *RedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return r.client.Set(ctx, r.formatKey(key), value, ttl).Err()
}

// Del deletes one or more keys.
func (r *RedisClient) Del(ctx context.Context, keys ...string) error {
	formatted := make([]string, len(keys))
	for i, key := range keys {
		formatted[i] = r.formatKey(key)
	}
	return r.client.Del(ctx, formatted...).Err()
}

// RPush appends values to a list, used for the session's append-only
// previous-output history.
func (r *RedisClient) RPush(ctx context.Context, key string, values ...interface{}) error {
	return r.client.RPush(ctx, r.formatKey(key), values...).Err()
}

// LTrim trims a list to the most recent N entries, enforcing the
// bounded-by-N-per-session contract.
func (r *RedisClient) LTrim(ctx context.Context, key string, start, stop int64) error {
	return r.client.LTrim(ctx, r.formatKey(key), start, stop).Err()
}

// LRange returns a range of list entries.
func (r *RedisClient) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return r.client.LRange(ctx, r.formatKey(key), start, stop).Result()
}

// HealthCheck verifies Redis connectivity.
func (r *RedisClient) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
