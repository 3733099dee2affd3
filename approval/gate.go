// Package approval implements the suspension point where a write action
// waits for human authorization before the step executor runs it.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
)

// TimeoutBehavior dictates what RequestApproval does when promptFn
// never responds before the deadline.
type TimeoutBehavior string

const (
	TimeoutHalt        TimeoutBehavior = "halt"
	TimeoutSkip        TimeoutBehavior = "skip"
	TimeoutAutoApprove TimeoutBehavior = "auto-approve"
)

// Details is what a prompt transport (CLI, Slack, web UI) is shown
// when asked to authorize a step.
type Details struct {
	ExecutionID string
	RunbookID   string
	RunbookName string
	StepID      string
	StepName    string
	Action      model.Action
	Parameters  map[string]interface{}
	RiskLevel   string
	Message     string
}

// Decision is what promptFn returns once a human has responded.
type Decision struct {
	Approved bool
	Approver string
	Reason   string
}

// PromptFunc is the injected notification/collection transport. The
// gate never selects one itself; the caller supplies CLI input, a
// Slack round-trip, a web UI poll, or a test stub.
type PromptFunc func(ctx context.Context, details Details) (*Decision, error)

// Options configures one RequestApproval call.
type Options struct {
	Timeout   time.Duration
	OnTimeout TimeoutBehavior
}

// DefaultOptions matches the gate's documented defaults: 5 minutes,
// halt on timeout.
func DefaultOptions() Options {
	return Options{Timeout: 5 * time.Minute, OnTimeout: TimeoutHalt}
}

// AuditSink records the request and the eventual decision. The
// orchestrator supplies an implementation backed by the audit/store
// packages.
type AuditSink interface {
	Emit(ctx context.Context, kind model.AuditKind, payload map[string]interface{}) error
}

// Gate requests human authorization for one step.
type Gate struct {
	audit  AuditSink
	logger core.Logger
}

// NewGate returns a Gate that emits audit entries through audit, if
// non-nil.
func NewGate(audit AuditSink, logger core.Logger) *Gate {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Gate{audit: audit, logger: logger}
}

// ErrPromptFailed wraps a non-timeout error surfaced by promptFn.
var ErrPromptFailed = errors.New("approval prompt failed")

// RequestApproval races promptFn(details) against opts.Timeout (or
// DefaultOptions if the zero value is passed). A non-timeout error
// from promptFn is rethrown wrapped in ErrPromptFailed; any other
// outcome (approval, denial, or timeout) is reported as an
// ApprovalRecord, never an error.
func (g *Gate) RequestApproval(ctx context.Context, details Details, prompt PromptFunc, opts Options) (model.ApprovalRecord, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.OnTimeout == "" {
		opts.OnTimeout = DefaultOptions().OnTimeout
	}

	requestedAt := time.Now()
	g.emit(ctx, model.AuditApprovalRequest, map[string]interface{}{
		"execution_id": details.ExecutionID, "step_id": details.StepID,
		"action": string(details.Action), "risk_level": details.RiskLevel,
	})

	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	type outcome struct {
		decision *Decision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		d, err := prompt(cctx, details)
		done <- outcome{d, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) || errors.Is(out.err, context.Canceled) {
				return g.onTimeout(ctx, requestedAt, opts)
			}
			return model.ApprovalRecord{}, core.NewEngineError("approval.RequestApproval", core.ComponentEngine, fmt.Errorf("%w: %w", ErrPromptFailed, out.err)).WithEntity(details.StepID)
		}
		return g.onDecision(ctx, requestedAt, out.decision), nil
	case <-cctx.Done():
		return g.onTimeout(ctx, requestedAt, opts)
	}
}

func (g *Gate) onDecision(ctx context.Context, requestedAt time.Time, d *Decision) model.ApprovalRecord {
	now := time.Now()
	rec := model.ApprovalRecord{
		Approver:    d.Approver,
		Reason:      d.Reason,
		RequestedAt: requestedAt,
		RespondedAt: &now,
		DurationMS:  now.Sub(requestedAt).Milliseconds(),
	}
	if d.Approved {
		rec.Status = string(model.ApprovalApproved)
	} else {
		rec.Status = string(model.ApprovalDenied)
	}
	g.emit(ctx, model.AuditApprovalDecision, map[string]interface{}{
		"status": rec.Status, "approver": rec.Approver, "duration_ms": rec.DurationMS,
	})
	return rec
}

func (g *Gate) onTimeout(ctx context.Context, requestedAt time.Time, opts Options) (model.ApprovalRecord, error) {
	now := time.Now()
	rec := model.ApprovalRecord{
		RequestedAt: requestedAt,
		RespondedAt: &now,
		DurationMS:  now.Sub(requestedAt).Milliseconds(),
	}
	switch opts.OnTimeout {
	case TimeoutAutoApprove:
		rec.Status = string(model.ApprovalApproved)
		rec.Approver = "system:auto-approve"
		rec.Reason = "timeout"
	case TimeoutSkip:
		rec.Status = string(model.ApprovalExpired)
		rec.Reason = "skip"
	default:
		rec.Status = string(model.ApprovalExpired)
		rec.Reason = "halt"
	}
	g.emit(ctx, model.AuditApprovalDecision, map[string]interface{}{
		"status": rec.Status, "reason": rec.Reason, "duration_ms": rec.DurationMS,
	})
	return rec, nil
}

func (g *Gate) emit(ctx context.Context, kind model.AuditKind, payload map[string]interface{}) {
	if g.audit == nil {
		return
	}
	if err := g.audit.Emit(ctx, kind, payload); err != nil {
		g.logger.Warn("audit emit failed", map[string]interface{}{"kind": string(kind), "error": err.Error()})
	}
}
