package executor

import (
	"context"
	"time"

	"github.com/detectforge/runbookcore/adapter"
	"github.com/detectforge/runbookcore/model"
	"github.com/detectforge/runbookcore/templating"
)

// RollbackResult is the outcome of compensating one previously
// completed step.
type RollbackResult struct {
	StepID  string
	Success bool
	Error   *model.StepError
}

// Rollback invokes step's rollback block, if any, as an independent
// call against the adapter that originally ran it. A missing rollback
// block is reported as a successful no-op. A missing adapter, or one
// that does not implement rollback, yields a failed RollbackResult;
// either way the caller's reverse-order sequence can go on.
func (e *Executor) Rollback(ctx context.Context, step model.Step, snapshot *model.Context) RollbackResult {
	if step.Rollback == nil {
		return RollbackResult{StepID: step.ID, Success: true}
	}

	e.emit(ctx, model.AuditRollbackStart, map[string]interface{}{"step_id": step.ID, "action": string(step.Rollback.Action)})

	a, ok := e.registry.Get(step.Executor)
	if !ok {
		return e.failRollback(ctx, step.ID, "adapter_not_found", "no adapter registered under this name")
	}

	rc, ok := a.(adapter.RollbackCapable)
	if !ok {
		return e.failRollback(ctx, step.ID, "rollback_not_supported", "adapter does not implement rollback")
	}

	resolver := templating.NewResolver(snapshot.AsLayers())
	params, _ := resolver.Resolve(step.Rollback.Parameters).(map[string]interface{})
	if params == nil {
		params = map[string]interface{}{}
	}

	timeout := time.Duration(step.Rollback.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := rc.Rollback(cctx, step.Rollback.Action, params)
	if err != nil {
		return e.failRollback(ctx, step.ID, "rollback_error", err.Error())
	}
	if res != nil && !res.Success {
		msg := "rollback reported failure"
		if res.Err != nil {
			msg = res.Err.Message
		}
		return e.failRollback(ctx, step.ID, "rollback_error", msg)
	}

	e.emit(ctx, model.AuditRollbackComplete, map[string]interface{}{"step_id": step.ID, "success": true})
	return RollbackResult{StepID: step.ID, Success: true}
}

func (e *Executor) failRollback(ctx context.Context, stepID, code, message string) RollbackResult {
	e.emit(ctx, model.AuditRollbackComplete, map[string]interface{}{"step_id": stepID, "success": false, "error": message})
	return RollbackResult{StepID: stepID, Success: false, Error: &model.StepError{Code: code, Message: message}}
}
