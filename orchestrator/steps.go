package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/detectforge/runbookcore/approval"
	"github.com/detectforge/runbookcore/execctl"
	"github.com/detectforge/runbookcore/executor"
	"github.com/detectforge/runbookcore/model"
)

// computeWaves layers steps into dependency-respecting batches: every
// step in wave N depends only on steps in waves 0..N-1. Steps with no
// unresolved dependency enter the current wave in their original
// order. Steps whose depends_on never resolves are placed together in
// one trailing wave rather than dropped, since a cyclic or
// dangling graph is a playbook authoring bug, not grounds to silently
// skip work.
func computeWaves(steps []model.Step) [][]model.Step {
	remaining := make([]model.Step, len(steps))
	copy(remaining, steps)
	done := make(map[string]bool, len(steps))

	var waves [][]model.Step
	for len(remaining) > 0 {
		var wave []model.Step
		var next []model.Step
		for _, s := range remaining {
			if dependenciesSatisfied(s, done) {
				wave = append(wave, s)
			} else {
				next = append(next, s)
			}
		}
		if len(wave) == 0 {
			// Nothing became ready: dangling/cyclic depends_on. Flush
			// the rest as one final wave rather than loop forever.
			waves = append(waves, remaining)
			break
		}
		for _, s := range wave {
			done[s.ID] = true
		}
		waves = append(waves, wave)
		remaining = next
	}
	return waves
}

func dependenciesSatisfied(s model.Step, done map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if !done[dep] {
			return false
		}
	}
	return true
}

// runSteps dispatches every wave computed from rb.Steps, running the
// steps within a wave concurrently (bounded by the orchestrator's
// concurrency ceiling) and merging their context output once the wave
// finishes. It returns whether the run halted, why, and the steps that
// completed successfully (for a reverse-order rollback pass).
func (o *Orchestrator) runSteps(controller *execctl.Controller, exec *model.Execution, rb *model.Runbook, stepExec *executor.Executor, gate *approval.Gate, opts Options) (bool, string, []model.Step) {
	waves := computeWaves(rb.Steps)
	limiter := execctl.NewLimiter(o.ceiling)
	snapshot := exec.Context
	var completed []model.Step

	for _, wave := range waves {
		if abort, reason := controller.ShouldAbort(); abort {
			return true, string(reason), completed
		}

		type outcome struct {
			step      model.Step
			result    model.StepResult
			newCtx    *model.Context
			forceHalt bool
		}
		outcomes := make([]outcome, len(wave))

		var wg sync.WaitGroup
		for i, step := range wave {
			i, step := i, step
			wg.Add(1)
			go func() {
				defer wg.Done()
				ctx := controller.Context()
				if err := limiter.Acquire(ctx); err != nil {
					outcomes[i] = outcome{step: step, result: model.StepResult{
						StepID: step.ID, Action: step.Action, Executor: step.Executor,
						Error: &model.StepError{Code: "aborted", Message: err.Error()},
					}}
					return
				}
				defer limiter.Release()
				result, newCtx, forceHalt := o.dispatchStep(controller, exec, rb, step, stepExec, gate, snapshot, opts)
				outcomes[i] = outcome{step: step, result: result, newCtx: newCtx, forceHalt: forceHalt}
			}()
		}
		wg.Wait()

		haltReason := ""
		for _, oc := range outcomes {
			exec.StepResults = append(exec.StepResults, oc.result)
			if oc.newCtx != nil {
				if out, ok := oc.newCtx.Steps[oc.step.ID]; ok {
					snapshot = snapshot.WithStepOutput(oc.step.ID, out.Output)
				}
			}

			if oc.result.Success {
				completed = append(completed, oc.step)
				continue
			}
			if oc.result.Skipped {
				continue
			}
			if oc.forceHalt {
				haltReason = errCode(oc.result)
				continue
			}
			switch oc.step.OnError {
			case model.OnErrorContinue, model.OnErrorSkip:
				// recorded already; keep going
			default:
				haltReason = errCode(oc.result)
			}
		}

		exec.Context = snapshot
		if haltReason != "" {
			return true, haltReason, completed
		}
	}
	exec.Context = snapshot
	return false, "", completed
}

func errCode(r model.StepResult) string {
	if r.Error != nil {
		return r.Error.Code
	}
	return "step_failed"
}

// dispatchStep runs one step under the mode the engine's automation
// level and the runbook's approval requirements dictate:
//
//   - L2 automation on a write action never touches the real adapter:
//     it runs in simulation and queues the proposal for async approval.
//   - A write action the policy or runbook marks as requiring approval
//     (at L1+ in production) gates on the approval package before and
//     after transitioning through awaiting_approval.
//   - Everything else executes directly.
func (o *Orchestrator) dispatchStep(controller *execctl.Controller, exec *model.Execution, rb *model.Runbook, step model.Step, stepExec *executor.Executor, gate *approval.Gate, snapshot *model.Context, opts Options) (model.StepResult, *model.Context, bool) {
	ctx := controller.Context()
	isWrite := model.IsWriteAction(step.Action)

	if opts.Level == model.LevelL2 && isWrite {
		result, newCtx := stepExec.Run(ctx, step, snapshot, model.ModeSimulation)
		o.queueForApproval(ctx, exec, rb, step, result.Output)
		result.Skipped = true
		result.Approval = &model.ApprovalRecord{Status: string(model.ApprovalPending)}
		return result, newCtx, false
	}

	requiresApproval := step.ApprovalRequiredOr(rb.Config.RequiresApproval)
	if requiresApproval && opts.Level.AtLeast(model.LevelL1) && opts.Mode == model.ModeProduction && isWrite {
		return o.dispatchWithApproval(controller, exec, rb, step, stepExec, gate, snapshot)
	}

	result, newCtx := stepExec.Run(ctx, step, snapshot, opts.Mode)
	return result, newCtx, false
}

func (o *Orchestrator) queueForApproval(ctx context.Context, exec *model.Execution, rb *model.Runbook, step model.Step, simResult interface{}) {
	timeout := rb.Config.ApprovalTimeout
	if timeout <= 0 {
		timeout = 1800
	}
	entry := &model.ApprovalQueueEntry{
		RequestID:        uuid.NewString(),
		ExecutionID:      exec.ExecutionID,
		RunbookID:        rb.ID,
		RunbookName:      rb.Metadata.Name,
		StepID:           step.ID,
		StepName:         step.Name,
		Action:           step.Action,
		Parameters:       step.Parameters,
		SimulationResult: simResult,
		Status:           model.ApprovalPending,
		RequestedAt:      time.Now(),
		ExpiresAt:        time.Now().Add(time.Duration(timeout) * time.Second),
	}
	_ = o.store.SaveApproval(ctx, entry)
}

func (o *Orchestrator) dispatchWithApproval(controller *execctl.Controller, exec *model.Execution, rb *model.Runbook, step model.Step, stepExec *executor.Executor, gate *approval.Gate, snapshot *model.Context) (model.StepResult, *model.Context, bool) {
	ctx := controller.Context()
	started := time.Now()

	_ = o.machine.Transition(ctx, exec, model.StateAwaitingApproval, map[string]interface{}{"step_id": step.ID})

	timeout := time.Duration(rb.Config.ApprovalTimeout) * time.Second
	decision, err := gate.RequestApproval(ctx, approval.Details{
		ExecutionID: exec.ExecutionID, RunbookID: rb.ID, RunbookName: rb.Metadata.Name,
		StepID: step.ID, StepName: step.Name, Action: step.Action, Parameters: step.Parameters,
	}, o.prompt, approval.Options{Timeout: timeout, OnTimeout: approval.TimeoutHalt})

	_ = o.machine.Transition(ctx, exec, model.StateExecuting, map[string]interface{}{"step_id": step.ID})

	if err != nil {
		return model.StepResult{
			StepID: step.ID, Action: step.Action, Executor: step.Executor,
			StartedAt: started, CompletedAt: time.Now(),
			Error: &model.StepError{Code: "approval_prompt_failed", Message: err.Error()},
		}, snapshot, true
	}

	if decision.Status == string(model.ApprovalExpired) {
		result := model.StepResult{
			StepID: step.ID, Action: step.Action, Executor: step.Executor,
			StartedAt: started, CompletedAt: time.Now(), Approval: &decision,
			Error: &model.StepError{Code: ErrCodeApprovalExpired, Message: decision.Reason},
		}
		if decision.Reason == "skip" {
			result.Skipped = true
			return result, snapshot, false
		}
		return result, snapshot, true
	}

	if decision.Status != string(model.ApprovalApproved) {
		return model.StepResult{
			StepID: step.ID, Action: step.Action, Executor: step.Executor,
			StartedAt: started, CompletedAt: time.Now(), Approval: &decision,
			Error: &model.StepError{Code: ErrCodeApprovalDenied, Message: decision.Reason},
		}, snapshot, true
	}

	result, newCtx := stepExec.Run(ctx, step, snapshot, model.ModeProduction)
	result.Approval = &decision
	return result, newCtx, false
}

// rollbackFailedSteps invokes the compensating action for every step
// that completed, in reverse completion order.
func rollbackFailedSteps(ctx context.Context, stepExec *executor.Executor, rb *model.Runbook, exec *model.Execution, completed []model.Step) {
	for i := len(completed) - 1; i >= 0; i-- {
		stepExec.Rollback(ctx, completed[i], exec.Context)
	}
}
