// Package core holds the configuration surface for the orchestration
// runtime. Configuration resolves in three layers: defaults, then
// environment variables, then functional options.
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Config holds every option recognized by the runtime. Sub-structs group
// settings by the subsystem that consumes
// them; none of this is read by two subsystems at once.
type Config struct {
	Name      string `json:"name" env:"ORC_NAME" default:"cogniflow"`
	Namespace string `json:"namespace" env:"ORC_NAMESPACE" default:"default"`

	Learning   LearningConfig    `json:"learning"`
	Simulation SimulationConfig  `json:"simulation"`
	Action     ActionConfig      `json:"action"`
	Parsing    ParsingConfig     `json:"parsing"`
	Memory     MemoryConfig      `json:"memory"`
	Resilience ResilienceConfig  `json:"resilience"`
	Logging    LoggingConfig     `json:"logging"`
	Dev        DevelopmentConfig `json:"development"`

	logger Logger
}

// LearningConfig governs the periodic adaptive learning cycle and the
// subsystems it drives.
type LearningConfig struct {
	CycleIntervalSeconds         int     `json:"learning_cycle_interval_s" env:"ORC_LEARNING_CYCLE_INTERVAL_S" default:"300"`
	PatternConfidenceThreshold   float64 `json:"pattern_confidence_threshold" env:"ORC_PATTERN_CONFIDENCE_THRESHOLD" default:"0.8"`
	MinImprovementThreshold      float64 `json:"min_improvement_threshold" env:"ORC_MIN_IMPROVEMENT_THRESHOLD" default:"0.05"`
	SafetyFactor                 float64 `json:"safety_factor" env:"ORC_SAFETY_FACTOR" default:"0.8"`
	EnableAutoModification       bool    `json:"enable_auto_modification" env:"ORC_ENABLE_AUTO_MODIFICATION" default:"false"`
	PerformanceWindowSize        int     `json:"performance_window_size" env:"ORC_PERFORMANCE_WINDOW_SIZE" default:"100"`
	// Pattern-analyzer detector thresholds, tunable rather than baked
	// into the detectors.
	FailureErrorRateMultiple     float64 `json:"failure_error_rate_multiple" env:"ORC_FAILURE_ERROR_RATE_MULTIPLE" default:"2.0"`
	ResponseTimeSigmaK           float64 `json:"response_time_sigma_k" env:"ORC_RESPONSE_TIME_SIGMA_K" default:"2.0"`
	CorrelationOverlapRatio      float64 `json:"correlation_overlap_ratio" env:"ORC_CORRELATION_OVERLAP_RATIO" default:"0.5"`
	TemporalCorrelationThreshold float64 `json:"temporal_correlation_threshold" env:"ORC_TEMPORAL_CORRELATION_THRESHOLD" default:"0.6"`
}

// SimulationConfig bounds the branching exploration engine.
type SimulationConfig struct {
	MaxActiveBranches       int     `json:"max_active_branches" env:"ORC_MAX_ACTIVE_BRANCHES" default:"20"`
	MaxBranchesPerStep      int     `json:"max_branches_per_step" env:"ORC_MAX_BRANCHES_PER_STEP" default:"3"`
	MaxBranchingDepth       int     `json:"max_branching_depth" env:"ORC_MAX_BRANCHING_DEPTH" default:"5"`
	PruningThreshold        float64 `json:"pruning_threshold" env:"ORC_PRUNING_THRESHOLD" default:"0.1"`
	EnableAggressivePruning bool    `json:"enable_aggressive_pruning" env:"ORC_ENABLE_AGGRESSIVE_PRUNING" default:"false"`
	DecayFactor             float64 `json:"decay_factor" env:"ORC_SIM_DECAY_FACTOR" default:"0.9"`
	ConstraintBonus         float64 `json:"constraint_bonus" env:"ORC_SIM_CONSTRAINT_BONUS" default:"0.1"`
	TopOutcomeCount         int     `json:"top_outcome_count" env:"ORC_SIM_TOP_OUTCOME_COUNT" default:"5"`
}

// ActionConfig governs precondition evaluation and effect application
// within a single simulation step.
type ActionConfig struct {
	MinActionConfidence      float64 `json:"min_action_confidence" env:"ORC_MIN_ACTION_CONFIDENCE" default:"0.3"`
	MaxConcurrentActions     int     `json:"max_concurrent_actions" env:"ORC_MAX_CONCURRENT_ACTIONS" default:"8"`
	EnableConflictResolution bool    `json:"enable_conflict_resolution" env:"ORC_ENABLE_CONFLICT_RESOLUTION" default:"true"`
}

// ParsingConfig governs text-to-state extraction.
type ParsingConfig struct {
	MinConceptConfidence float64 `json:"min_concept_confidence" env:"ORC_MIN_CONCEPT_CONFIDENCE" default:"0.3"`
	MaxEntitiesPerState  int     `json:"max_entities_per_state" env:"ORC_MAX_ENTITIES_PER_STATE" default:"16"`
	MaxStateComplexity   int     `json:"max_state_complexity" env:"ORC_MAX_STATE_COMPLEXITY" default:"64"`
}

// MemoryConfig selects the backing store for the execution context. Redis
// is optional: it is used only when Provider is "redis" and RedisURL is
// set, and the in-memory store is used otherwise. Episodic memory is not
// selected here; the runtime takes it as an argument to NewWithConfig.
type MemoryConfig struct {
	Provider           string `json:"provider" env:"ORC_MEMORY_PROVIDER" default:"inmemory"`
	RedisURL           string `json:"redis_url" env:"ORC_MEMORY_REDIS_URL"`
	SessionHistorySize int    `json:"session_history_size" env:"ORC_SESSION_HISTORY_SIZE" default:"32"`
}

// ResilienceConfig configures the circuit breaker and retry policy wrapping
// every agent invocation.
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker"`
	Retry          RetryPolicyConfig    `json:"retry"`
}

// CircuitBreakerConfig mirrors resilience.CircuitBreakerConfig's externally
// tunable fields.
type CircuitBreakerConfig struct {
	Enabled         bool          `json:"enabled" env:"ORC_CB_ENABLED" default:"false"`
	ErrorThreshold  float64       `json:"error_threshold" env:"ORC_CB_ERROR_THRESHOLD" default:"0.5"`
	VolumeThreshold int           `json:"volume_threshold" env:"ORC_CB_VOLUME_THRESHOLD" default:"10"`
	SleepWindow     time.Duration `json:"sleep_window" env:"ORC_CB_SLEEP_WINDOW" default:"30s"`
}

// RetryPolicyConfig configures exponential backoff for transient failures.
type RetryPolicyConfig struct {
	MaxAttempts  int           `json:"max_attempts" env:"ORC_RETRY_MAX_ATTEMPTS" default:"3"`
	InitialDelay time.Duration `json:"initial_delay" env:"ORC_RETRY_INITIAL_DELAY" default:"100ms"`
	MaxDelay     time.Duration `json:"max_delay" env:"ORC_RETRY_MAX_DELAY" default:"5s"`
}

// LoggingConfig controls structured JSON logging in server environments,
// versus human-readable text for local development.
type LoggingConfig struct {
	Level  string `json:"level" env:"ORC_LOG_LEVEL" default:"info"`
	Format string `json:"format" env:"ORC_LOG_FORMAT" default:"json"`
	Output string `json:"output" env:"ORC_LOG_OUTPUT" default:"stdout"`
}

// DevelopmentConfig holds local-development conveniences.
type DevelopmentConfig struct {
	Enabled      bool `json:"enabled" env:"ORC_DEV_MODE" default:"false"`
	DebugLogging bool `json:"debug_logging" env:"ORC_DEBUG" default:"false"`
}

// Option is a functional option applied after environment loading, so
// explicit code always wins over env vars, which in turn win over defaults.
type Option func(*Config) error

// DefaultConfig returns a configuration with the defaults documented above.
func DefaultConfig() *Config {
	return &Config{
		Name:      "cogniflow",
		Namespace: "default",
		Learning: LearningConfig{
			CycleIntervalSeconds:         300,
			PatternConfidenceThreshold:   0.8,
			MinImprovementThreshold:      0.05,
			SafetyFactor:                 0.8,
			PerformanceWindowSize:        100,
			FailureErrorRateMultiple:     2.0,
			ResponseTimeSigmaK:           2.0,
			CorrelationOverlapRatio:      0.5,
			TemporalCorrelationThreshold: 0.6,
		},
		Simulation: SimulationConfig{
			MaxActiveBranches:  20,
			MaxBranchesPerStep: 3,
			MaxBranchingDepth:  5,
			PruningThreshold:   0.1,
			DecayFactor:        0.9,
			ConstraintBonus:    0.1,
			TopOutcomeCount:    5,
		},
		Action: ActionConfig{
			MinActionConfidence:      0.3,
			MaxConcurrentActions:     8,
			EnableConflictResolution: true,
		},
		Parsing: ParsingConfig{
			MinConceptConfidence: 0.3,
			MaxEntitiesPerState:  16,
			MaxStateComplexity:   64,
		},
		Memory: MemoryConfig{
			Provider:           "inmemory",
			SessionHistorySize: 32,
		},
		Resilience: ResilienceConfig{
			CircuitBreaker: CircuitBreakerConfig{
				ErrorThreshold:  0.5,
				VolumeThreshold: 10,
				SleepWindow:     30 * time.Second,
			},
			Retry: RetryPolicyConfig{
				MaxAttempts:  3,
				InitialDelay: 100 * time.Millisecond,
				MaxDelay:     5 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadFromEnv overlays environment variables on top of the current values.
// It reads only the variables handled below (plus REDIS_URL as a fallback
// for the Redis URL). The env tags of the detector tuning fields
// (ORC_FAILURE_ERROR_RATE_MULTIPLE, ORC_RESPONSE_TIME_SIGMA_K,
// ORC_CORRELATION_OVERLAP_RATIO, ORC_TEMPORAL_CORRELATION_THRESHOLD), of
// ORC_SIM_DECAY_FACTOR, ORC_SIM_CONSTRAINT_BONUS, ORC_SIM_TOP_OUTCOME_COUNT,
// ORC_SESSION_HISTORY_SIZE, ORC_LOG_OUTPUT, and of every ORC_CB_* and
// ORC_RETRY_* field are not read; those fields keep their current values.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("ORC_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("ORC_NAMESPACE"); v != "" {
		c.Namespace = v
	}
	if v := envInt("ORC_LEARNING_CYCLE_INTERVAL_S"); v != nil {
		c.Learning.CycleIntervalSeconds = *v
	}
	if v := envFloat("ORC_PATTERN_CONFIDENCE_THRESHOLD"); v != nil {
		c.Learning.PatternConfidenceThreshold = *v
	}
	if v := envFloat("ORC_MIN_IMPROVEMENT_THRESHOLD"); v != nil {
		c.Learning.MinImprovementThreshold = *v
	}
	if v := envFloat("ORC_SAFETY_FACTOR"); v != nil {
		c.Learning.SafetyFactor = *v
	}
	if v := os.Getenv("ORC_ENABLE_AUTO_MODIFICATION"); v != "" {
		c.Learning.EnableAutoModification = parseBool(v)
	}
	if v := envInt("ORC_PERFORMANCE_WINDOW_SIZE"); v != nil {
		c.Learning.PerformanceWindowSize = *v
	}
	if v := envInt("ORC_MAX_ACTIVE_BRANCHES"); v != nil {
		c.Simulation.MaxActiveBranches = *v
	}
	if v := envInt("ORC_MAX_BRANCHES_PER_STEP"); v != nil {
		c.Simulation.MaxBranchesPerStep = *v
	}
	if v := envInt("ORC_MAX_BRANCHING_DEPTH"); v != nil {
		c.Simulation.MaxBranchingDepth = *v
	}
	if v := envFloat("ORC_PRUNING_THRESHOLD"); v != nil {
		c.Simulation.PruningThreshold = *v
	}
	if v := os.Getenv("ORC_ENABLE_AGGRESSIVE_PRUNING"); v != "" {
		c.Simulation.EnableAggressivePruning = parseBool(v)
	}
	if v := envFloat("ORC_MIN_ACTION_CONFIDENCE"); v != nil {
		c.Action.MinActionConfidence = *v
	}
	if v := envInt("ORC_MAX_CONCURRENT_ACTIONS"); v != nil {
		c.Action.MaxConcurrentActions = *v
	}
	if v := os.Getenv("ORC_ENABLE_CONFLICT_RESOLUTION"); v != "" {
		c.Action.EnableConflictResolution = parseBool(v)
	}
	if v := envFloat("ORC_MIN_CONCEPT_CONFIDENCE"); v != nil {
		c.Parsing.MinConceptConfidence = *v
	}
	if v := envInt("ORC_MAX_ENTITIES_PER_STATE"); v != nil {
		c.Parsing.MaxEntitiesPerState = *v
	}
	if v := envInt("ORC_MAX_STATE_COMPLEXITY"); v != nil {
		c.Parsing.MaxStateComplexity = *v
	}
	if v := os.Getenv("ORC_MEMORY_PROVIDER"); v != "" {
		c.Memory.Provider = v
	}
	if v := os.Getenv("ORC_MEMORY_REDIS_URL"); v != "" {
		c.Memory.RedisURL = v
	} else if v := os.Getenv("REDIS_URL"); v != "" {
		c.Memory.RedisURL = v
	}
	if v := os.Getenv("ORC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("ORC_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("ORC_DEV_MODE"); v != "" {
		c.Dev.Enabled = parseBool(v)
	}
	if v := os.Getenv("ORC_DEBUG"); v != "" {
		c.Dev.DebugLogging = parseBool(v)
	}
	return nil
}

// Validate rejects configurations that would leave the learning loop or
// simulation engine in an unsafe state.
func (c *Config) Validate() error {
	if c.Name == "" {
		return &FrameworkError{Op: "Config.Validate", Kind: "config", Message: "name is required", Err: ErrMissingConfiguration}
	}
	if c.Learning.CycleIntervalSeconds <= 0 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config", Message: "learning cycle interval must be positive", Err: ErrInvalidConfiguration}
	}
	if c.Learning.SafetyFactor <= 0 || c.Learning.SafetyFactor > 1 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config", Message: "safety factor must be in (0,1]", Err: ErrInvalidConfiguration}
	}
	if c.Simulation.MaxActiveBranches <= 0 || c.Simulation.MaxBranchesPerStep <= 0 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config", Message: "simulation bounds must be positive", Err: ErrInvalidConfiguration}
	}
	if c.Simulation.PruningThreshold < 0 || c.Simulation.PruningThreshold > 1 {
		return &FrameworkError{Op: "Config.Validate", Kind: "config", Message: "pruning threshold must be in [0,1]", Err: ErrInvalidConfiguration}
	}
	if c.Memory.Provider == "redis" && c.Memory.RedisURL == "" {
		return &FrameworkError{Op: "Config.Validate", Kind: "config", Message: "redis URL is required for redis memory provider", Err: ErrMissingConfiguration}
	}
	return nil
}

// NewConfig builds a Config from defaults, environment variables, and
// functional options, in that priority order, and validates the result.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load env config: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}
	if cfg.logger == nil {
		cfg.logger = NewProductionLogger(cfg.Logging, cfg.Dev, cfg.Name)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Logger returns the logger attached to this configuration.
func (c *Config) Logger() Logger {
	return c.logger
}

// WithLogger overrides the default logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) error {
		c.logger = logger
		return nil
	}
}

// WithName sets the runtime's display name.
func WithName(name string) Option {
	return func(c *Config) error {
		if name == "" {
			return fmt.Errorf("name cannot be empty: %w", ErrInvalidConfiguration)
		}
		c.Name = name
		return nil
	}
}

// WithLearningCycleInterval overrides the learning cycle period.
func WithLearningCycleInterval(seconds int) Option {
	return func(c *Config) error {
		if seconds <= 0 {
			return fmt.Errorf("cycle interval must be positive: %w", ErrInvalidConfiguration)
		}
		c.Learning.CycleIntervalSeconds = seconds
		return nil
	}
}

// WithAutoModification toggles the behavior modifier's write gate.
func WithAutoModification(enabled bool) Option {
	return func(c *Config) error {
		c.Learning.EnableAutoModification = enabled
		return nil
	}
}

// WithRedisMemory configures the execution context store to use Redis
// instead of the in-memory default. Episodic memory is not affected.
func WithRedisMemory(url string) Option {
	return func(c *Config) error {
		if url == "" {
			return fmt.Errorf("redis URL cannot be empty: %w", ErrInvalidConfiguration)
		}
		c.Memory.Provider = "redis"
		c.Memory.RedisURL = url
		return nil
	}
}

// WithSimulationBounds overrides the branching simulation's exploration
// budget in one call.
func WithSimulationBounds(maxActive, maxPerStep, maxDepth int) Option {
	return func(c *Config) error {
		if maxActive <= 0 || maxPerStep <= 0 || maxDepth <= 0 {
			return fmt.Errorf("simulation bounds must be positive: %w", ErrInvalidConfiguration)
		}
		c.Simulation.MaxActiveBranches = maxActive
		c.Simulation.MaxBranchesPerStep = maxPerStep
		c.Simulation.MaxBranchingDepth = maxDepth
		return nil
	}
}

func envInt(name string) *int {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func envFloat(name string) *float64 {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

// ============================================================================
// ProductionLogger provides layered observability: JSON in server contexts,
// text locally; it emits framework counters through the weak-coupled
// MetricsRegistry once telemetry has registered one.
// ============================================================================

// ProductionLogger is the default Logger/ComponentAwareLogger implementation.
type ProductionLogger struct {
	level          string
	debug          bool
	serviceName    string
	component      string
	format         string
	output         io.Writer
	metricsEnabled bool
	mu             sync.RWMutex
}

// NewProductionLogger creates a logger from LoggingConfig, tracking it so
// metrics can be enabled retroactively once a telemetry provider registers
// itself via SetMetricsRegistry.
func NewProductionLogger(logging LoggingConfig, dev DevelopmentConfig, serviceName string) Logger {
	var output io.Writer = os.Stdout
	if logging.Output == "stderr" {
		output = os.Stderr
	}
	logger := &ProductionLogger{
		level:       strings.ToLower(logging.Level),
		debug:       dev.DebugLogging || logging.Level == "debug",
		serviceName: serviceName,
		format:      logging.Format,
		output:      output,
	}
	trackLogger(logger)
	return logger
}

// EnableMetrics flips the logger into emitting counters for each log event.
// Called by the global MetricsRegistry hookup once telemetry initializes.
func (p *ProductionLogger) EnableMetrics() {
	p.mu.Lock()
	p.metricsEnabled = true
	p.mu.Unlock()
}

func (p *ProductionLogger) WithComponent(component string) Logger {
	return &ProductionLogger{
		level:          p.level,
		debug:          p.debug,
		serviceName:    p.serviceName,
		component:      component,
		format:         p.format,
		output:         p.output,
		metricsEnabled: p.metricsEnabled,
	}
}

func (p *ProductionLogger) Info(msg string, fields map[string]interface{})  { p.logEvent("INFO", msg, fields) }
func (p *ProductionLogger) Error(msg string, fields map[string]interface{}) { p.logEvent("ERROR", msg, fields) }
func (p *ProductionLogger) Warn(msg string, fields map[string]interface{})  { p.logEvent("WARN", msg, fields) }
func (p *ProductionLogger) Debug(msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEvent("DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) InfoWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEventWithContext(ctx, "INFO", msg, fields)
}
func (p *ProductionLogger) ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEventWithContext(ctx, "ERROR", msg, fields)
}
func (p *ProductionLogger) WarnWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	p.logEventWithContext(ctx, "WARN", msg, fields)
}
func (p *ProductionLogger) DebugWithContext(ctx context.Context, msg string, fields map[string]interface{}) {
	if p.debug {
		p.logEventWithContext(ctx, "DEBUG", msg, fields)
	}
}

func (p *ProductionLogger) logEventWithContext(ctx context.Context, level, msg string, fields map[string]interface{}) {
	if baggage := getContextBaggage(ctx); len(baggage) > 0 {
		merged := make(map[string]interface{}, len(fields)+len(baggage))
		for k, v := range fields {
			merged[k] = v
		}
		for k, v := range baggage {
			merged[k] = v
		}
		fields = merged
	}
	p.logEvent(level, msg, fields)
}

func (p *ProductionLogger) logEvent(level, msg string, fields map[string]interface{}) {
	timestamp := time.Now().Format(time.RFC3339)

	if p.format == "json" {
		entry := map[string]interface{}{
			"timestamp": timestamp,
			"level":     level,
			"service":   p.serviceName,
			"component": p.component,
			"message":   msg,
		}
		for k, v := range fields {
			entry[k] = v
		}
		if data, err := json.Marshal(entry); err == nil {
			fmt.Fprintln(p.output, string(data))
		}
	} else {
		var fieldStr strings.Builder
		for k, v := range fields {
			fieldStr.WriteString(fmt.Sprintf(" %s=%v", k, v))
		}
		fmt.Fprintf(p.output, "%s [%s] [%s/%s] %s%s\n", timestamp, level, p.serviceName, p.component, msg, fieldStr.String())
	}

	p.mu.RLock()
	enabled := p.metricsEnabled
	p.mu.RUnlock()
	if enabled {
		if registry := GetGlobalMetricsRegistry(); registry != nil {
			registry.Counter("cogniflow.log.events", "level", level, "service", p.serviceName)
		}
	}
}

// getContextBaggage extracts correlation fields (e.g. session/trace IDs)
// carried on the context for trace-correlation logging.
func getContextBaggage(ctx context.Context) map[string]string {
	if ctx == nil {
		return nil
	}
	if registry := GetGlobalMetricsRegistry(); registry != nil {
		return registry.GetBaggage(ctx)
	}
	return nil
}
