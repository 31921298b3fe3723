package core

import "time"

// ResourceUsage tracks what an execution consumed.
type ResourceUsage struct {
	MemoryMB         float64 `json:"memory_mb"`
	CPUMs            float64 `json:"cpu_ms"`
	ExternalCalls    int     `json:"external_calls"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// Add accumulates another usage sample into the receiver, used when
// aggregating per-step usage into a workflow-level total.
func (r *ResourceUsage) Add(other ResourceUsage) {
	r.MemoryMB += other.MemoryMB
	r.CPUMs += other.CPUMs
	r.ExternalCalls += other.ExternalCalls
	r.EstimatedCostUSD += other.EstimatedCostUSD
}

// ExecutionContext is immutable for the lifetime of one execution; it is
// created fresh per request from the session's prior-output history.
type ExecutionContext struct {
	UserID          string                 `json:"user_id"`
	SessionID       string                 `json:"session_id"`
	ProjectContext  string                 `json:"project_context,omitempty"`
	PreviousOutputs []string               `json:"previous_outputs"`
	Preferences     map[string]string      `json:"preferences,omitempty"`
}

// ExecutionRequest is the input to the Agent Executor.
type ExecutionRequest struct {
	AgentID            string             `json:"agent_id"`
	Input              string             `json:"input"`
	InputType          string             `json:"input_type"`
	Context            *ExecutionContext  `json:"context,omitempty"`
	Priority           int                `json:"priority"`
	TimeoutSeconds     int                `json:"timeout_seconds"`
	ParameterOverrides map[string]float64 `json:"parameter_overrides,omitempty"`
}

// ExecutionResult is the output of a single agent invocation.
type ExecutionResult struct {
	ExecutionID    string        `json:"execution_id"`
	AgentID        string        `json:"agent_id"`
	Success        bool          `json:"success"`
	Content        string        `json:"content,omitempty"`
	Confidence     float64       `json:"confidence"`
	ExecutionTimeMs float64      `json:"execution_time_ms"`
	ResourceUsage  ResourceUsage `json:"resource_usage"`
	Error          string        `json:"error,omitempty"`
	CompletedAt    time.Time     `json:"completed_at"`
}

// WorkflowStep references an agent and declares upstream dependencies by
// agent id within the same workflow.
type WorkflowStep struct {
	AgentID            string             `json:"agent_id"`
	Input              string             `json:"input"`
	InputType          string             `json:"input_type"`
	Dependencies       []string           `json:"dependencies,omitempty"`
	Priority           int                `json:"priority"`
	ParameterOverrides map[string]float64 `json:"parameter_overrides,omitempty"`
}

// ExecutionStrategy selects how a Workflow Orchestrator runs its steps.
type ExecutionStrategy string

const (
	StrategySequential ExecutionStrategy = "sequential"
	StrategyParallel   ExecutionStrategy = "parallel"
	StrategyDAG        ExecutionStrategy = "dag"
)

// WorkflowRequest is the input to the Workflow Orchestrator.
type WorkflowRequest struct {
	Steps            []WorkflowStep    `json:"steps"`
	Context          *ExecutionContext `json:"context,omitempty"`
	Strategy         ExecutionStrategy `json:"strategy"`
	TotalTimeoutSecs int               `json:"total_timeout_seconds"`
	ContinueOnError  bool              `json:"continue_on_error"`
}

// WorkflowResult aggregates per-step results in submission order.
type WorkflowResult struct {
	WorkflowID    string            `json:"workflow_id"`
	Success       bool              `json:"success"`
	StepResults   []ExecutionResult `json:"step_results"`
	ResourceUsage ResourceUsage     `json:"resource_usage"`
	Errors        []string          `json:"errors,omitempty"`
	StartedAt     time.Time         `json:"started_at"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// PerformanceSample is appended per execution and retained in a bounded
// ring per agent by the Performance Tracker.
type PerformanceSample struct {
	AgentID               string        `json:"agent_id"`
	Success               bool          `json:"success"`
	ExecutionTimeMs       float64       `json:"execution_time_ms"`
	Confidence            float64       `json:"confidence"`
	CoherenceScore        float64       `json:"coherence_score"`
	UserSatisfactionScore float64       `json:"user_satisfaction_score"`
	ResourceUsage         ResourceUsage `json:"resource_usage"`
	RecordedAt            time.Time     `json:"recorded_at"`
}
