package model

import "time"

// State is one node of the execution state machine.
type State string

const (
	StateIdle             State = "idle"
	StatePlanning         State = "planning"
	StateAwaitingApproval  State = "awaiting_approval"
	StateExecuting        State = "executing"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
	StateTimedOut         State = "timed_out"
	StateRolledBack       State = "rolled_back"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCancelled, StateTimedOut, StateRolledBack:
		return true
	default:
		return false
	}
}

// Execution is the durable record of one orchestrator run.
type Execution struct {
	ExecutionID   string     `json:"execution_id"`
	RunbookID     string     `json:"runbook_id"`
	RunbookVersion string    `json:"runbook_version"`
	RunbookName   string     `json:"runbook_name"`
	State         State      `json:"state"`
	Mode          Mode       `json:"mode"`
	Context       *Context   `json:"context"`
	Error         string     `json:"error,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	DurationMS    *int64     `json:"duration_ms,omitempty"`
	StepResults   []StepResult `json:"step_results,omitempty"`
}

// StepResult is the outcome of executing one step.
type StepResult struct {
	StepID      string         `json:"step_id"`
	Action      Action         `json:"action"`
	Executor    string         `json:"executor"`
	Success     bool           `json:"success"`
	Skipped     bool           `json:"skipped,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	DurationMS  int64          `json:"duration_ms"`
	Output      interface{}    `json:"output,omitempty"`
	Error       *StepError     `json:"error,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	Approval    *ApprovalRecord `json:"approval,omitempty"`
}

// StepError is the structured error carried by a failed StepResult.
type StepError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ApprovalRecord is attached to a StepResult when the step passed
// through the approval gate.
type ApprovalRecord struct {
	Status      string     `json:"status"`
	Approver    string     `json:"approver,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
}
