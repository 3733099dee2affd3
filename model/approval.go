package model

import "time"

// ApprovalStatus is the lifecycle of one queue entry.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalDenied   ApprovalStatus = "denied"
	ApprovalExecuted ApprovalStatus = "executed"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalQueueEntry is a durable L2-generated write-action proposal,
// or the record of an L1 approval-gate decision.
type ApprovalQueueEntry struct {
	RequestID        string                 `json:"request_id"`
	ExecutionID      string                 `json:"execution_id"`
	RunbookID        string                 `json:"runbook_id"`
	RunbookName      string                 `json:"runbook_name"`
	StepID           string                 `json:"step_id"`
	StepName         string                 `json:"step_name"`
	Action           Action                 `json:"action"`
	Parameters       map[string]interface{} `json:"parameters"`
	SimulationResult interface{}            `json:"simulation_result,omitempty"`
	Status           ApprovalStatus         `json:"status"`
	RequestedAt      time.Time              `json:"requested_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
	Approver         string                 `json:"approver,omitempty"`
	ApprovedAt       *time.Time             `json:"approved_at,omitempty"`
	DenialReason     string                 `json:"denial_reason,omitempty"`
}
