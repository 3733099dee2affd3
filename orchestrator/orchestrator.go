// Package orchestrator composes the playbook loader's output, the
// state machine, policy enforcement, the step executor, and the
// approval gate into one runbook execution.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/detectforge/runbookcore/adapter"
	"github.com/detectforge/runbookcore/approval"
	"github.com/detectforge/runbookcore/audit"
	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/execctl"
	"github.com/detectforge/runbookcore/executor"
	"github.com/detectforge/runbookcore/model"
	"github.com/detectforge/runbookcore/policy"
	"github.com/detectforge/runbookcore/statemachine"
	"github.com/detectforge/runbookcore/store"
)

// Options carries the per-run request inputs described for the
// orchestrator entry point: {mode, level, enable_l2, admin,
// timeout_ms}, plus caller-supplied execution variables.
type Options struct {
	Mode      model.Mode
	Level     model.AutomationLevel
	EnableL2  bool
	Admin     bool
	Timeout   time.Duration
	Variables map[string]interface{}
}

// Dedicated failure codes recorded when an execution ends in
// model.StateFailed, distinguishing why.
const (
	ErrCodeApprovalDenied  = "approval_denied"
	ErrCodeApprovalExpired = "approval_expired"
	ErrCodePolicyDenied    = "policy_denied"
)

// Orchestrator runs one runbook execution end to end.
type Orchestrator struct {
	store    store.Store
	registry *adapter.Registry
	policy   *model.AutomationPolicy
	machine  *statemachine.Machine
	retry    executor.RetryPolicy
	advisor  Advisor
	confirm  ConfirmFunc
	prompt   approval.PromptFunc
	ceiling  int
	logger   core.Logger
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithAdvisor attaches the advisory runbook-suggestion hook.
func WithAdvisor(a Advisor) Option { return func(o *Orchestrator) { o.advisor = a } }

// WithConfirm attaches the human-confirmation callback used when
// runbook resolution is ambiguous.
func WithConfirm(c ConfirmFunc) Option { return func(o *Orchestrator) { o.confirm = c } }

// WithPrompt attaches the approval-gate prompt transport.
func WithPrompt(p approval.PromptFunc) Option { return func(o *Orchestrator) { o.prompt = p } }

// WithConcurrencyCeiling bounds process-wide concurrent step execution.
func WithConcurrencyCeiling(n int) Option { return func(o *Orchestrator) { o.ceiling = n } }

// WithLogger attaches a logger.
func WithLogger(l core.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetryPolicy overrides the default retry policy used by the step
// executor.
func WithRetryPolicy(r executor.RetryPolicy) Option { return func(o *Orchestrator) { o.retry = r } }

// New builds an Orchestrator. s, reg, and pol must be non-nil.
func New(s store.Store, reg *adapter.Registry, pol *model.AutomationPolicy, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    s,
		registry: reg,
		policy:   pol,
		machine:  statemachine.New(s),
		retry:    executor.RetryPolicy{MaxAttempts: 3, BackoffMS: 500, MaxBackoffMS: 30000, Exponential: true},
		ceiling:  32,
		logger:   &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// auditWriter appends audit entries for one execution, threading each
// append off the previous entry's hash so the chain stays intact
// regardless of which component (executor, approval gate, or the
// orchestrator itself) produced the entry.
type auditWriter struct {
	mu          sync.Mutex
	store       store.Store
	executionID string
}

func (w *auditWriter) Emit(ctx context.Context, kind model.AuditKind, payload map[string]interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, err := w.store.LatestAuditEntry(ctx, w.executionID)
	if err != nil && !core.IsNotFound(err) {
		return fmt.Errorf("orchestrator: load latest audit entry: %w", err)
	}
	entry, err := audit.Append(prev, w.executionID, kind, payload, time.Now())
	if err != nil {
		return fmt.Errorf("orchestrator: build audit entry: %w", err)
	}
	return w.store.AppendAudit(ctx, entry)
}

// Run resolves a runbook, then executes it to completion or to its
// first halting failure, returning the final Execution record.
func (o *Orchestrator) Run(ctx context.Context, alert *model.AlertEvent, explicitRunbookID string, idx *Index, opts Options) (*model.Execution, error) {
	if opts.Mode == "" {
		opts.Mode = model.ModeProduction
	}
	if opts.Level == "" {
		opts.Level = model.LevelL0
	}

	rb, err := ResolveRunbook(ctx, idx, alert, explicitRunbookID, o.advisor, o.confirm)
	if err != nil {
		return nil, err
	}

	execCtx := model.NewContext(alert, opts.Variables)
	exec := &model.Execution{
		ExecutionID:    uuid.NewString(),
		RunbookID:      rb.ID,
		RunbookVersion: rb.Version,
		RunbookName:    rb.Metadata.Name,
		State:          model.StateIdle,
		Mode:           opts.Mode,
		Context:        execCtx,
		StartedAt:      time.Now(),
	}
	if err := o.store.SaveExecution(ctx, exec); err != nil {
		return nil, fmt.Errorf("orchestrator: persist execution: %w", err)
	}

	writer := &auditWriter{store: o.store, executionID: exec.ExecutionID}
	_ = writer.Emit(ctx, model.AuditSystem, map[string]interface{}{"event": "start", "runbook_id": rb.ID})

	timeout := timeoutFor(rb, opts)
	controller := execctl.New(ctx, timeout)
	defer controller.Stop()

	if err := o.machine.Transition(ctx, exec, model.StatePlanning, nil); err != nil {
		return exec, err
	}

	if err := o.checkPolicy(controller.Context(), exec, rb, alert, opts); err != nil {
		return exec, err
	}
	if exec.State == model.StateFailed {
		return exec, nil
	}

	if err := o.machine.Transition(controller.Context(), exec, model.StateExecuting, nil); err != nil {
		return exec, err
	}

	stepExec := executor.New(o.registry, o.retry, writer, o.logger)
	gate := approval.NewGate(writer, o.logger)

	halted, haltReason, completed := o.runSteps(controller, exec, rb, stepExec, gate, opts)
	if halted {
		exec.Error = haltReason
		if rb.Config.RollbackOnFailure {
			rollbackFailedSteps(controller.Context(), stepExec, rb, exec, completed)
			_ = o.machine.Transition(context.Background(), exec, model.StateRolledBack, map[string]interface{}{"reason": haltReason})
		} else {
			_ = o.machine.Transition(context.Background(), exec, model.StateFailed, map[string]interface{}{"reason": haltReason})
		}
		return exec, nil
	}

	if err := o.machine.Transition(context.Background(), exec, model.StateCompleted, nil); err != nil {
		return exec, err
	}
	return exec, nil
}

func timeoutFor(rb *model.Runbook, opts Options) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if rb.Config.MaxExecutionTime > 0 {
		return time.Duration(rb.Config.MaxExecutionTime) * time.Second
	}
	return 30 * time.Minute
}

func (o *Orchestrator) checkPolicy(ctx context.Context, exec *model.Execution, rb *model.Runbook, alert *model.AlertEvent, opts Options) error {
	risk := riskScoreFromAlert(alert)
	inputs := make([]policy.BatchCheckInput, 0, len(rb.Steps))
	for _, s := range rb.Steps {
		mode := opts.Mode
		if opts.Level == model.LevelL2 && model.IsWriteAction(s.Action) {
			// dispatchStep runs L2 write steps in simulation only.
			mode = model.ModeSimulation
		}
		inputs = append(inputs, policy.BatchCheckInput{
			StepID: s.ID, Action: s.Action, RequestedLevel: opts.Level, Mode: mode,
			RiskScore: risk, IsAdmin: opts.Admin,
		})
	}
	results := policy.CheckBatch(inputs, o.policy, opts.EnableL2)
	for _, r := range results {
		if !r.Result.Allowed {
			exec.Error = ErrCodePolicyDenied
			return o.machine.Transition(ctx, exec, model.StateFailed, map[string]interface{}{
				"reason": ErrCodePolicyDenied, "step_id": r.StepID,
			})
		}
	}
	return nil
}

// riskScoreFromAlert scales the alert's 0-100 risk score down to the
// policy engine's 1-10 scale, clamped. A missing score leaves the
// policy check unscored.
func riskScoreFromAlert(alert *model.AlertEvent) *int {
	if alert == nil || alert.Event.RiskScore == nil {
		return nil
	}
	v := int(*alert.Event.RiskScore / 10)
	if v < 1 {
		v = 1
	}
	if v > 10 {
		v = 10
	}
	return &v
}
