package core

import "time"

// Environment variable names recognized by Config.LoadFromEnv.
const (
	EnvName          = "ORC_NAME"
	EnvNamespace     = "ORC_NAMESPACE"
	EnvRedisURL      = "REDIS_URL"
	EnvMemoryRedisURL = "ORC_MEMORY_REDIS_URL"
	EnvDevMode       = "ORC_DEV_MODE"
	EnvDebug         = "ORC_DEBUG"
	EnvLogLevel      = "ORC_LOG_LEVEL"
	EnvLogFormat     = "ORC_LOG_FORMAT"
)

// Defaults not already expressed as struct tags in config.go.
const (
	// DefaultSessionHistoryTTL is a 24-hour lifetime for a session's
	// previous-output history. No store applies it: the Redis-backed
	// execution context store writes its history keys without an expiry.
	DefaultSessionHistoryTTL = 24 * time.Hour

	// DefaultEpisodicInsightTTL bounds how long a learning-cycle summary
	// insight is retained.
	DefaultEpisodicInsightTTL = 7 * 24 * time.Hour
)
