// Package cogniflow is a lightweight meta-package that wires the runtime's
// independent subsystems (agent registry, executor, workflow orchestrator,
// adaptive learning loop, and branching simulation engine) into a single
// Runtime facade. Callers who only need one subsystem can still import its
// package directly (core, executor, orchestration, learning, simulation);
// this package exists for the common case of running all of them together.
package cogniflow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/meridianlabs/cogniflow/core"
	"github.com/meridianlabs/cogniflow/executor"
	"github.com/meridianlabs/cogniflow/learning"
	"github.com/meridianlabs/cogniflow/orchestration"
	"github.com/meridianlabs/cogniflow/simulation"
)

// Runtime owns one instance of every subsystem and is the single entry
// point an embedding application needs. It is safe for concurrent use; the
// collaborators it wires together already manage their own locking.
type Runtime struct {
	config *core.Config
	logger core.Logger

	Registry     *core.Registry
	Executor     *executor.Executor
	Orchestrator *orchestration.Orchestrator
	Tracker      *learning.Tracker
	Analyzer     *learning.Analyzer
	Optimizer    *learning.Optimizer
	Modifier     *learning.Modifier
	Integrator   *learning.Integrator
	Graph        *simulation.Graph
	Simulation   *simulation.Engine
	Rules        *simulation.RuleDB
	Sessions     core.SessionStore

	eventsMu sync.Mutex
	events   []chan learning.CycleResult
}

// New builds a Runtime from functional options, the same pattern core.Config
// uses for its own layered defaults/env/options. A nil memory store leaves
// the learning loop's cross-restart insight storage disabled.
func New(opts ...core.Option) (*Runtime, error) {
	cfg, err := core.NewConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("cogniflow: building config: %w", err)
	}
	return NewWithConfig(cfg, nil)
}

// NewWithConfig builds a Runtime from an already-constructed Config, letting
// the caller supply its own EpisodicMemory (e.g. RedisEpisodicMemory); the
// Provider string in MemoryConfig selects only the session store. A nil memory
// argument falls back to the process-local InMemoryEpisodicMemory, so cycle
// summaries stay recallable even without a Redis deployment.
func NewWithConfig(cfg *core.Config, memory core.EpisodicMemory) (*Runtime, error) {
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cogniflow: invalid config: %w", err)
	}
	if memory == nil {
		memory = core.NewInMemoryEpisodicMemory(0)
	}

	logger := cfg.Logger()
	if logger == nil {
		logger = core.NewProductionLogger(cfg.Logging, cfg.Dev, cfg.Name)
	}

	registry := core.NewRegistry(logger)
	tracker := learning.NewTracker(cfg.Learning.PerformanceWindowSize)
	exec := executor.New(registry, tracker, logger, cfg.Resilience)
	orch := orchestration.New(exec, logger)

	analyzer := learning.NewAnalyzer(learning.AnalyzerConfig{
		ConfidenceThreshold:          cfg.Learning.PatternConfidenceThreshold,
		FailureErrorRateMultiple:     cfg.Learning.FailureErrorRateMultiple,
		ResponseTimeSigmaK:           cfg.Learning.ResponseTimeSigmaK,
		CorrelationOverlapRatio:      cfg.Learning.CorrelationOverlapRatio,
		TemporalCorrelationThreshold: cfg.Learning.TemporalCorrelationThreshold,
	})
	optimizer := learning.NewOptimizer(learning.OptimizerConfig{
		MinImprovementThreshold: cfg.Learning.MinImprovementThreshold,
		SafetyFactor:            cfg.Learning.SafetyFactor,
	})
	modifier := learning.NewModifier(cfg.Learning.EnableAutoModification)
	cycleInterval := time.Duration(cfg.Learning.CycleIntervalSeconds) * time.Second
	integrator := learning.NewIntegrator(tracker, analyzer, optimizer, modifier, registry, memory, cycleInterval, logger)

	graph := simulation.NewGraph()
	engine := simulation.NewEngine(graph, cfg.Simulation, cfg.Action, cfg.Parsing, rand.NewSource(time.Now().UnixNano()))
	rules := simulation.NewRuleDB()
	engine.SetRuleDB(rules)

	sessions, err := buildSessionStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("cogniflow: building session store: %w", err)
	}

	rt := &Runtime{
		config:       cfg,
		logger:       logger,
		Registry:     registry,
		Executor:     exec,
		Orchestrator: orch,
		Tracker:      tracker,
		Analyzer:     analyzer,
		Optimizer:    optimizer,
		Modifier:     modifier,
		Integrator:   integrator,
		Graph:        graph,
		Simulation:   engine,
		Rules:        rules,
		Sessions:     sessions,
	}

	core.SetCurrentComponentType("runtime")
	integrator.OnCycle(rt.broadcastCycle)
	return rt, nil
}

// Bind associates a runnable implementation with an agent id, delegating to
// the underlying Executor. An agent must be both registered (so list_agents
// and get_agent_status can see it) and bound (so execute_agent has
// something to call) before it can run.
func (rt *Runtime) Bind(agentID string, runner core.AgentRunner) {
	rt.Executor.Bind(agentID, runner)
}

// RegisterAgent adds an agent descriptor to the registry. It is a thin
// pass-through kept on Runtime so callers driving the facade never need to
// reach into rt.Registry directly for the common path.
func (rt *Runtime) RegisterAgent(descriptor *core.AgentDescriptor) error {
	return rt.Registry.Register(descriptor)
}

// ListAgents returns every registered agent, optionally filtered to one
// capability category, sorted by id.
func (rt *Runtime) ListAgents(categoryFilter string) []*core.AgentDescriptor {
	return rt.Registry.List(categoryFilter)
}

// AgentStatusReport is the get_agent_status payload: the descriptor, the
// live execution status, windowed performance aggregates, cumulative
// resource usage, and a derived health verdict.
type AgentStatusReport struct {
	Info            *core.AgentDescriptor `json:"info"`
	ExecutionStatus core.AgentStatus      `json:"execution_status"`
	Performance     learning.AgentStats   `json:"performance"`
	ResourceUsage   core.ResourceUsage    `json:"resource_usage"`
	Health          core.HealthStatus     `json:"health"`
}

// GetAgentStatus composes one agent's descriptor with its performance
// window and health. Health is Unknown until the agent has executed at
// least once, then Unhealthy whenever the agent is in Error/Unavailable
// status or failing more than half its recent calls.
func (rt *Runtime) GetAgentStatus(agentID string) (*AgentStatusReport, error) {
	descriptor, err := rt.Registry.Get(agentID)
	if err != nil {
		return nil, err
	}

	stats := rt.Tracker.AgentStats(agentID)
	report := &AgentStatusReport{
		Info:            descriptor,
		ExecutionStatus: descriptor.Status,
		Performance:     stats,
		ResourceUsage: core.ResourceUsage{
			MemoryMB:         stats.AvgMemoryMB,
			CPUMs:            stats.TotalCPUMs,
			ExternalCalls:    stats.ExternalCalls,
			EstimatedCostUSD: stats.EstimatedCostUSD,
		},
		Health: core.HealthUnknown,
	}

	if stats.TotalExecutions > 0 {
		failing := stats.FailedExecutions*2 > stats.TotalExecutions
		if failing || descriptor.Status == core.StatusError || descriptor.Status == core.StatusUnavailable {
			report.Health = core.HealthUnhealthy
		} else {
			report.Health = core.HealthHealthy
		}
	}
	return report, nil
}

// ExecuteAgent runs a single agent invocation through the Agent Executor,
// with circuit breaking, retry, and panic recovery applied as configured.
// When req.Context carries a session id and the call succeeds, the result
// content is appended to that session's history in the Execution Context
// Store, so the next request built via PrepareContext sees it.
func (rt *Runtime) ExecuteAgent(ctx context.Context, req core.ExecutionRequest) core.ExecutionResult {
	result := rt.Executor.Execute(ctx, req)
	rt.recordSessionOutput(ctx, req.Context, result)
	return result
}

// ExecuteWorkflow runs a multi-step workflow through the Workflow
// Orchestrator under the strategy the request declares, then appends every
// successful step's content to the shared execution context's session
// history.
func (rt *Runtime) ExecuteWorkflow(ctx context.Context, req core.WorkflowRequest) core.WorkflowResult {
	result := rt.Orchestrator.Execute(ctx, req)
	for _, stepResult := range result.StepResults {
		rt.recordSessionOutput(ctx, req.Context, stepResult)
	}
	return result
}

// PrepareContext builds an ExecutionContext for a new request, populating
// PreviousOutputs from the session's bounded history in the Execution
// Context Store. The returned context is immutable for the caller's
// use for the lifetime of one execution, per the data model.
func (rt *Runtime) PrepareContext(ctx context.Context, userID, sessionID, projectContext string, preferences map[string]string) (*core.ExecutionContext, error) {
	var history []string
	if rt.Sessions != nil && sessionID != "" {
		h, err := rt.Sessions.History(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("cogniflow: loading session history: %w", err)
		}
		history = h
	}
	return &core.ExecutionContext{
		UserID:          userID,
		SessionID:       sessionID,
		ProjectContext:  projectContext,
		PreviousOutputs: history,
		Preferences:     preferences,
	}, nil
}

func (rt *Runtime) recordSessionOutput(ctx context.Context, execCtx *core.ExecutionContext, result core.ExecutionResult) {
	if rt.Sessions == nil || execCtx == nil || execCtx.SessionID == "" || !result.Success {
		return
	}
	if err := rt.Sessions.Append(ctx, execCtx.SessionID, result.Content); err != nil {
		rt.logger.Warn("failed to append session output", map[string]interface{}{
			"session_id": execCtx.SessionID,
			"error":      err.Error(),
		})
	}
}

// RunBranchingSimulation parses initialText into a starting state and
// explores up to maxSteps of the given actions through the Simulation
// Engine, returning the ranked outcomes and exploration stats.
func (rt *Runtime) RunBranchingSimulation(initialText string, maxSteps int, actions []simulation.Action, strategy simulation.ConflictStrategy) (*simulation.BranchingResult, error) {
	return rt.Simulation.RunBranchingSimulation(initialText, maxSteps, actions, strategy)
}

// SubscribeLearningEvents returns a channel that receives one CycleResult
// per completed learning cycle. The channel is buffered; a subscriber that
// falls behind silently drops the oldest pending event rather than
// blocking the learning loop, since cycle history is also recoverable from
// episodic memory.
func (rt *Runtime) SubscribeLearningEvents() <-chan learning.CycleResult {
	ch := make(chan learning.CycleResult, 8)
	rt.eventsMu.Lock()
	rt.events = append(rt.events, ch)
	rt.eventsMu.Unlock()
	return ch
}

func (rt *Runtime) broadcastCycle(result learning.CycleResult) {
	rt.eventsMu.Lock()
	defer rt.eventsMu.Unlock()
	for _, ch := range rt.events {
		select {
		case ch <- result:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- result:
			default:
			}
		}
	}
}

// RunLearningLoop starts the periodic learning cycle and blocks until ctx
// is cancelled. Callers typically run it in its own goroutine for the life
// of the process.
func (rt *Runtime) RunLearningLoop(ctx context.Context) {
	rt.Integrator.Run(ctx)
}

// RunLearningCycle runs exactly one learning cycle synchronously, useful
// for callers that want to drive the cadence themselves instead of letting
// RunLearningLoop free-run on a ticker.
func (rt *Runtime) RunLearningCycle(ctx context.Context) learning.CycleResult {
	return rt.Integrator.RunCycle(ctx)
}

// Config returns the configuration the Runtime was built from.
func (rt *Runtime) Config() *core.Config {
	return rt.config
}

// Logger returns the Runtime's root logger.
func (rt *Runtime) Logger() core.Logger {
	return rt.logger
}

// buildSessionStore selects the Execution Context Store backing
// implementation from cfg.Memory: Redis when the provider is "redis" and a
// URL is configured, the in-memory ring otherwise.
func buildSessionStore(cfg *core.Config, logger core.Logger) (core.SessionStore, error) {
	if cfg.Memory.Provider == "redis" && cfg.Memory.RedisURL != "" {
		client, err := core.NewRedisClient(core.RedisClientOptions{
			RedisURL:  cfg.Memory.RedisURL,
			DB:        core.RedisDBSessions,
			Namespace: cfg.Namespace,
			Logger:    logger,
		})
		if err != nil {
			return nil, err
		}
		return core.NewRedisSessionStore(client, cfg.Memory.SessionHistorySize), nil
	}
	return core.NewInMemorySessionStore(cfg.Memory.SessionHistorySize), nil
}
