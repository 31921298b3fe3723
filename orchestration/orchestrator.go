package orchestration

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meridianlabs/cogniflow/core"
)

// stepRunner is the subset of executor.Executor the orchestrator depends
// on, kept as an interface so this package never imports executor and the
// dependency direction stays core -> executor -> orchestration -> the root
// cogniflow package.
type stepRunner interface {
	Execute(ctx context.Context, req core.ExecutionRequest) core.ExecutionResult
}

// Orchestrator is the Workflow Orchestrator.
type Orchestrator struct {
	executor stepRunner
	logger   core.Logger
}

// New creates a Workflow Orchestrator bound to an Agent Executor.
func New(executor stepRunner, logger core.Logger) *Orchestrator {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if cal, ok := logger.(core.ComponentAwareLogger); ok {
		logger = cal.WithComponent("orchestration/workflow")
	}
	return &Orchestrator{executor: executor, logger: logger}
}

// Execute runs a workflow under its declared strategy and returns results
// in submission order regardless of strategy.
func (o *Orchestrator) Execute(ctx context.Context, req core.WorkflowRequest) core.WorkflowResult {
	workflowID := uuid.NewString()
	start := time.Now()

	timeout := time.Duration(req.TotalTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var results []core.ExecutionResult
	switch req.Strategy {
	case core.StrategyParallel:
		results = o.runParallel(runCtx, req)
	case core.StrategyDAG:
		var err error
		results, err = o.runDAG(runCtx, req)
		if err != nil {
			return core.WorkflowResult{
				WorkflowID:  workflowID,
				Success:     false,
				StepResults: results,
				Errors:      []string{err.Error()},
				StartedAt:   start,
				CompletedAt: time.Now(),
			}
		}
	default:
		results = o.runSequential(runCtx, req)
	}

	overallSuccess := true
	var usage core.ResourceUsage
	var errs []string
	for _, r := range results {
		if !r.Success {
			overallSuccess = false
			if r.Error != "" {
				errs = append(errs, r.Error)
			}
		}
		usage.Add(r.ResourceUsage)
	}

	return core.WorkflowResult{
		WorkflowID:    workflowID,
		Success:       overallSuccess,
		StepResults:   results,
		ResourceUsage: usage,
		Errors:        errs,
		StartedAt:     start,
		CompletedAt:   time.Now(),
	}
}

func (o *Orchestrator) toRequest(step core.WorkflowStep, req core.WorkflowRequest) core.ExecutionRequest {
	return core.ExecutionRequest{
		AgentID:            step.AgentID,
		Input:              step.Input,
		InputType:          step.InputType,
		Context:            req.Context,
		Priority:           step.Priority,
		TimeoutSeconds:     req.TotalTimeoutSecs,
		ParameterOverrides: step.ParameterOverrides,
	}
}

// runSequential executes steps one at a time in submission order. On
// failure with continue_on_error=false, remaining steps are recorded as
// skipped rather than run.
func (o *Orchestrator) runSequential(ctx context.Context, req core.WorkflowRequest) []core.ExecutionResult {
	results := make([]core.ExecutionResult, len(req.Steps))
	aborted := false

	for i, step := range req.Steps {
		if ctx.Err() != nil {
			aborted = true
		}
		if aborted {
			results[i] = skippedResult(step.AgentID)
			continue
		}

		result := o.executor.Execute(ctx, o.toRequest(step, req))
		results[i] = result
		if !result.Success && !req.ContinueOnError {
			aborted = true
		}
	}
	return results
}

// runParallel starts every step concurrently, deliberately ignoring
// declared dependencies. This mirrors a known defect in the strategy as
// specified, preserved intentionally rather than fixed here.
func (o *Orchestrator) runParallel(ctx context.Context, req core.WorkflowRequest) []core.ExecutionResult {
	results := make([]core.ExecutionResult, len(req.Steps))
	var wg sync.WaitGroup
	for i, step := range req.Steps {
		wg.Add(1)
		go func(idx int, s core.WorkflowStep) {
			defer wg.Done()
			results[idx] = o.executor.Execute(ctx, o.toRequest(s, req))
		}(i, step)
	}
	wg.Wait()
	return results
}

// runDAG builds a dependency graph keyed by agent id, executes steps in
// topological layers (every step whose upstream is resolved runs alongside
// its ready siblings), and reorders results to submission order before
// returning.
func (o *Orchestrator) runDAG(ctx context.Context, req core.WorkflowRequest) ([]core.ExecutionResult, error) {
	dag := newWorkflowDAG()
	indexByAgent := make(map[string]int, len(req.Steps))
	for i, step := range req.Steps {
		indexByAgent[step.AgentID] = i
	}
	for i, step := range req.Steps {
		dag.addNode(step.AgentID, i, step.Dependencies)
	}
	if err := dag.validate(); err != nil {
		return nil, core.ErrCyclicWorkflow
	}

	results := make([]core.ExecutionResult, len(req.Steps))
	stepByAgent := make(map[string]core.WorkflowStep, len(req.Steps))
	for _, step := range req.Steps {
		stepByAgent[step.AgentID] = step
	}

	var mu sync.Mutex
	for dag.remaining() > 0 {
		if ctx.Err() != nil {
			o.fillRemainingAsTimeout(dag, stepByAgent, indexByAgent, results)
			break
		}

		ready := dag.readyNodes()
		if len(ready) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, node := range ready {
			dag.markRunning(node.ID)
			wg.Add(1)
			go func(n *dagNode) {
				defer wg.Done()

				step := stepByAgent[n.ID]
				failedUpstream := dag.failedUpstream(n)
				if len(failedUpstream) > 0 && !req.ContinueOnError {
					res := skippedResult(n.ID)
					mu.Lock()
					results[indexByAgent[n.ID]] = res
					mu.Unlock()
					dag.markSkipped(n.ID)
					return
				}

				execReq := o.toRequest(step, req)
				if len(failedUpstream) > 0 {
					// Under continue_on_error the step still runs, but its
					// missing upstream outputs are substituted by explicit
					// skipped placeholders in the context.
					execReq.Context = contextWithSkippedUpstream(req.Context, failedUpstream)
				}

				res := o.executor.Execute(ctx, execReq)
				mu.Lock()
				results[indexByAgent[n.ID]] = res
				mu.Unlock()
				dag.markDone(n.ID, res.Success)
			}(node)
		}
		wg.Wait()
	}

	return results, nil
}

func (o *Orchestrator) fillRemainingAsTimeout(dag *workflowDAG, stepByAgent map[string]core.WorkflowStep, indexByAgent map[string]int, results []core.ExecutionResult) {
	dag.mu.Lock()
	defer dag.mu.Unlock()
	for id, n := range dag.nodes {
		if n.Status == NodePending || n.Status == NodeReady {
			idx := indexByAgent[id]
			if results[idx].ExecutionID == "" {
				results[idx] = core.ExecutionResult{
					AgentID:     id,
					Success:     false,
					Error:       "timeout",
					CompletedAt: time.Now(),
				}
			}
			n.Status = NodeSkipped
		}
	}
}

// contextWithSkippedUpstream clones execCtx with one placeholder entry per
// failed or skipped upstream step appended to PreviousOutputs.
func contextWithSkippedUpstream(execCtx *core.ExecutionContext, upstream []string) *core.ExecutionContext {
	clone := core.ExecutionContext{}
	if execCtx != nil {
		clone = *execCtx
	}
	outputs := make([]string, 0, len(clone.PreviousOutputs)+len(upstream))
	outputs = append(outputs, clone.PreviousOutputs...)
	for _, id := range upstream {
		outputs = append(outputs, "[skipped:"+id+"]")
	}
	clone.PreviousOutputs = outputs
	return &clone
}

func skippedResult(agentID string) core.ExecutionResult {
	return core.ExecutionResult{
		AgentID:     agentID,
		Success:     false,
		Error:       "skipped:prior_failure",
		CompletedAt: time.Now(),
	}
}
