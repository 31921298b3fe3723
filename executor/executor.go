// Package executor implements the Agent Executor: the single call
// path through which every agent invocation in the runtime passes, whether
// issued directly or as one step of a workflow.
package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/cogniflow/core"
	"github.com/meridianlabs/cogniflow/resilience"
)

// Executor resolves an agent by id, enforces its timeout, and guarantees
// exactly one PerformanceSample is emitted per call regardless of outcome.
// When resilience is enabled, every
// runner invocation is additionally gated by a per-agent circuit breaker
// and retried on transient failure.
type Executor struct {
	registry *core.Registry
	tracker  core.SampleRecorder
	runners  map[string]core.AgentRunner
	runnersMu sync.RWMutex
	logger   core.Logger

	resilienceCfg    core.ResilienceConfig
	breakers         map[string]*resilience.CircuitBreaker
	breakersMu       sync.Mutex
	retry            *resilience.RetryExecutor
}

// New creates an Agent Executor bound to a registry and a performance
// sample sink. Resilience (circuit breaker + retry) is governed by cfg;
// a zero-value ResilienceConfig leaves the circuit breaker disabled and
// effectively performs single-attempt retries (MaxAttempts defaults to 1).
func New(registry *core.Registry, tracker core.SampleRecorder, logger core.Logger, cfg core.ResilienceConfig) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestration/executor")
	}

	retryCfg := &resilience.RetryConfig{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		InitialDelay:  cfg.Retry.InitialDelay,
		MaxDelay:      cfg.Retry.MaxDelay,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
	if retryCfg.MaxAttempts <= 0 {
		retryCfg.MaxAttempts = 1
	}
	if retryCfg.InitialDelay <= 0 {
		retryCfg.InitialDelay = 100 * time.Millisecond
	}
	if retryCfg.MaxDelay <= 0 {
		retryCfg.MaxDelay = 5 * time.Second
	}
	retryExecutor := resilience.NewRetryExecutor(retryCfg)
	retryExecutor.SetLogger(logger)

	return &Executor{
		registry:      registry,
		tracker:       tracker,
		runners:       make(map[string]core.AgentRunner),
		logger:        logger,
		resilienceCfg: cfg,
		breakers:      make(map[string]*resilience.CircuitBreaker),
		retry:         retryExecutor,
	}
}

// breakerFor lazily creates the per-agent circuit breaker the first time an
// agent is executed, keeping breakers isolated per agent (one agent's
// failures never trip another's breaker).
func (e *Executor) breakerFor(agentID string) *resilience.CircuitBreaker {
	if !e.resilienceCfg.CircuitBreaker.Enabled {
		return nil
	}

	e.breakersMu.Lock()
	defer e.breakersMu.Unlock()
	if cb, ok := e.breakers[agentID]; ok {
		return cb
	}

	cbConfig := resilience.DefaultConfig()
	cbConfig.Name = agentID
	cbConfig.Logger = e.logger
	cbConfig.ErrorThreshold = e.resilienceCfg.CircuitBreaker.ErrorThreshold
	cbConfig.VolumeThreshold = e.resilienceCfg.CircuitBreaker.VolumeThreshold
	cbConfig.SleepWindow = e.resilienceCfg.CircuitBreaker.SleepWindow
	if resilience.GlobalTelemetryAvailable() {
		cbConfig.Metrics = resilience.NewTelemetryMetrics()
	}

	cb, err := resilience.NewCircuitBreaker(cbConfig)
	if err != nil {
		e.logger.Warn("failed to create circuit breaker, proceeding without one", map[string]interface{}{
			"agent_id": agentID,
			"error":    err.Error(),
		})
		return nil
	}
	e.breakers[agentID] = cb
	return cb
}

// Bind associates a runnable implementation with an agent id. The runner is
// an external collaborator with the contract
// "run(input, context, parameters) -> (content, confidence, resource_usage)".
func (e *Executor) Bind(agentID string, runner core.AgentRunner) {
	e.runnersMu.Lock()
	defer e.runnersMu.Unlock()
	e.runners[agentID] = runner
}

func (e *Executor) runnerFor(agentID string) (core.AgentRunner, bool) {
	e.runnersMu.RLock()
	defer e.runnersMu.RUnlock()
	r, ok := e.runners[agentID]
	return r, ok
}

// Execute runs a single agent invocation under the request's timeout,
// restoring the agent's prior status on every exit path (including a
// recovered panic), and emits exactly one PerformanceSample.
func (e *Executor) Execute(ctx context.Context, req core.ExecutionRequest) core.ExecutionResult {
	start := time.Now()
	executionID := uuid.NewString()

	descriptor, err := e.registry.Get(req.AgentID)
	if err != nil {
		result := core.ExecutionResult{
			ExecutionID: executionID,
			AgentID:     req.AgentID,
			Success:     false,
			Error:       "agent_not_found",
			CompletedAt: time.Now(),
		}
		e.recordSample(req.AgentID, result, start)
		return result
	}

	if descriptor.Status == core.StatusUnavailable || descriptor.Status == core.StatusError {
		result := core.ExecutionResult{
			ExecutionID: executionID,
			AgentID:     req.AgentID,
			Success:     false,
			Error:       "agent_unavailable",
			CompletedAt: time.Now(),
		}
		e.recordSample(req.AgentID, result, start)
		return result
	}

	priorStatus := descriptor.Status
	if err := e.registry.SetStatus(req.AgentID, core.StatusBusy); err != nil {
		result := core.ExecutionResult{
			ExecutionID: executionID,
			AgentID:     req.AgentID,
			Success:     false,
			Error:       "agent_not_found",
			CompletedAt: time.Now(),
		}
		e.recordSample(req.AgentID, result, start)
		return result
	}
	defer func() {
		_ = e.registry.SetStatus(req.AgentID, priorStatus)
	}()

	timeout := time.Duration(req.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	parameters := descriptor.Parameters
	if req.ParameterOverrides != nil {
		merged := make(map[string]float64, len(descriptor.Parameters)+len(req.ParameterOverrides))
		for k, v := range descriptor.Parameters {
			merged[k] = v
		}
		for k, v := range req.ParameterOverrides {
			merged[k] = v
		}
		parameters = merged
	}

	result := e.runResilient(runCtx, executionID, req, parameters)
	result.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	result.CompletedAt = time.Now()

	e.recordSample(req.AgentID, result, start)
	return result
}

// runResilient gates the runner call behind the agent's circuit breaker (if
// resilience is enabled) and retries transient failures through the
// executor's RetryExecutor. "timeout" and "agent_not_found" are treated as
// terminal: the inner function returns nil to stop the retry loop early,
// but the ExecutionResult it captured still reports the real failure.
func (e *Executor) runResilient(ctx context.Context, executionID string, req core.ExecutionRequest, parameters map[string]float64) core.ExecutionResult {
	breaker := e.breakerFor(req.AgentID)
	if breaker != nil && !breaker.CanExecute() {
		return core.ExecutionResult{
			ExecutionID: executionID,
			AgentID:     req.AgentID,
			Success:     false,
			Error:       "circuit_open",
		}
	}

	var result core.ExecutionResult
	_ = e.retry.Execute(ctx, req.AgentID, func() error {
		result = e.runWithTimeout(ctx, executionID, req, parameters)
		switch {
		case result.Success:
			if breaker != nil {
				breaker.RecordSuccess()
			}
			return nil
		case result.Error == "timeout" || result.Error == "agent_not_found":
			if breaker != nil {
				breaker.RecordFailure()
			}
			return nil
		default:
			if breaker != nil {
				breaker.RecordFailure()
			}
			return fmt.Errorf("%s", result.Error)
		}
	})
	return result
}

// runWithTimeout races the agent runner against the context deadline and
// recovers a runner panic as a failed result, never letting it escape and
// skip the deferred status restore.
func (e *Executor) runWithTimeout(ctx context.Context, executionID string, req core.ExecutionRequest, parameters map[string]float64) core.ExecutionResult {
	type runOutcome struct {
		content    string
		confidence float64
		usage      core.ResourceUsage
		err        error
	}

	done := make(chan runOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- runOutcome{err: fmt.Errorf("agent panic: %v", r)}
			}
		}()

		runner, ok := e.runnerFor(req.AgentID)
		if !ok {
			done <- runOutcome{err: fmt.Errorf("no runner bound for agent %s", req.AgentID)}
			return
		}
		content, confidence, usage, err := runner.Run(req.Input, req.Context, parameters)
		done <- runOutcome{content: content, confidence: confidence, usage: usage, err: err}
	}()

	select {
	case <-ctx.Done():
		return core.ExecutionResult{
			ExecutionID: executionID,
			AgentID:     req.AgentID,
			Success:     false,
			Error:       "timeout",
		}
	case outcome := <-done:
		if outcome.err != nil {
			return core.ExecutionResult{
				ExecutionID:   executionID,
				AgentID:       req.AgentID,
				Success:       false,
				Error:         outcome.err.Error(),
				ResourceUsage: outcome.usage,
			}
		}
		return core.ExecutionResult{
			ExecutionID:   executionID,
			AgentID:       req.AgentID,
			Success:       true,
			Content:       outcome.content,
			Confidence:    outcome.confidence,
			ResourceUsage: outcome.usage,
		}
	}
}

func (e *Executor) recordSample(agentID string, result core.ExecutionResult, start time.Time) {
	if e.tracker == nil {
		return
	}
	sample := core.PerformanceSample{
		AgentID:         agentID,
		Success:         result.Success,
		ExecutionTimeMs: result.ExecutionTimeMs,
		Confidence:      result.Confidence,
		ResourceUsage:   result.ResourceUsage,
		RecordedAt:      time.Now(),
	}
	if sample.ExecutionTimeMs == 0 {
		sample.ExecutionTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	}
	e.tracker.Record(sample)

	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		outcome := "failure"
		if result.Success {
			outcome = "success"
		}
		registry.Histogram("cogniflow.agent.execution_ms", sample.ExecutionTimeMs,
			"agent_id", agentID, "result", outcome)
	}
}
