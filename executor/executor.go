// Package executor runs a single runbook step: it resolves templated
// parameters, calls the adapter through its circuit breaker, retries
// transient failures, and records the outcome.
package executor

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/detectforge/runbookcore/adapter"
	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
	"github.com/detectforge/runbookcore/templating"
)

// RetryPolicy governs how a failed adapter call is retried.
type RetryPolicy struct {
	MaxAttempts int
	BackoffMS   int
	MaxBackoffMS int
	Exponential bool
}

// RetryPolicyFromConfig builds a RetryPolicy from engine configuration.
func RetryPolicyFromConfig(c *core.Config) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  c.RetryMaxAttempts,
		BackoffMS:    c.RetryBackoffMS,
		MaxBackoffMS: c.RetryMaxBackoffMS,
		Exponential:  c.RetryExponential,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	var ms float64
	if p.Exponential {
		ms = float64(p.BackoffMS) * math.Pow(2, float64(attempt-1))
	} else {
		ms = float64(p.BackoffMS)
	}
	if max := float64(p.MaxBackoffMS); max > 0 && ms > max {
		ms = max
	}
	return time.Duration(ms) * time.Millisecond
}

// AuditSink records audit entries as the executor emits them. The
// orchestrator supplies an implementation backed by the audit/store
// packages so this package stays decoupled from persistence.
type AuditSink interface {
	Emit(ctx context.Context, kind model.AuditKind, payload map[string]interface{}) error
}

// Executor runs steps against an adapter registry.
type Executor struct {
	registry *adapter.Registry
	retry    RetryPolicy
	audit    AuditSink
	logger   core.Logger
}

// New returns an Executor bound to registry, retry, and an audit sink.
func New(registry *adapter.Registry, retry RetryPolicy, audit AuditSink, logger core.Logger) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Executor{registry: registry, retry: retry, audit: audit, logger: logger}
}

// Run executes one step against ctxSnapshot and mode, returning the
// StepResult and the updated context with the step's output published.
func (e *Executor) Run(ctx context.Context, step model.Step, ctxSnapshot *model.Context, mode model.Mode) (model.StepResult, *model.Context) {
	started := time.Now()
	result := model.StepResult{
		StepID:    step.ID,
		Action:    step.Action,
		Executor:  step.Executor,
		StartedAt: started,
	}

	resolver := templating.NewResolver(ctxSnapshot.AsLayers())
	params, _ := resolver.Resolve(step.Parameters).(map[string]interface{})
	if params == nil {
		params = map[string]interface{}{}
	}

	e.emit(ctx, model.AuditStepStart, map[string]interface{}{
		"step_id": step.ID, "action": string(step.Action), "executor": step.Executor,
		"unresolved_paths": resolver.UnresolvedPaths,
	})

	a, ok := e.registry.Get(step.Executor)
	if !ok {
		return e.finish(ctx, result, ctxSnapshot, nil, &model.StepError{
			Code: "adapter_not_found", Message: "no adapter registered under this name", Retryable: false,
		})
	}

	if a.GetCapabilities().SupportsValidation {
		if validations := a.ValidateParameters(step.Action, params); len(validations) > 0 {
			return e.finish(ctx, result, ctxSnapshot, nil, &model.StepError{
				Code: "invalid_parameters", Message: validations[0].Message, Retryable: false,
			})
		}
	}

	if mode != model.ModeProduction {
		res, err := e.callOnce(ctx, a, step, params, mode)
		return e.finishFromResult(ctx, result, ctxSnapshot, res, err)
	}

	res, err := e.callWithRetry(ctx, a, step, params, mode)
	return e.finishFromResult(ctx, result, ctxSnapshot, res, err)
}

func (e *Executor) callWithRetry(ctx context.Context, a adapter.Adapter, step model.Step, params map[string]interface{}, mode model.Mode) (*adapter.Result, error) {
	maxAttempts := e.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastRes *adapter.Result
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return lastRes, ctx.Err()
		default:
		}

		res, err := e.callOnce(ctx, a, step, params, mode)
		lastRes, lastErr = res, err

		if err == nil && (res == nil || res.Success) {
			return res, nil
		}

		if !retryable(res, err) || attempt == maxAttempts {
			break
		}

		e.emit(ctx, model.AuditStepStart, map[string]interface{}{
			"step_id": step.ID, "retry_attempt": attempt + 1,
		})

		timer := time.NewTimer(e.retry.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastRes, ctx.Err()
		case <-timer.C:
		}
	}
	return lastRes, lastErr
}

func (e *Executor) callOnce(ctx context.Context, a adapter.Adapter, step model.Step, params map[string]interface{}, mode model.Mode) (*adapter.Result, error) {
	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	breaker, _ := e.registry.Breaker(a.Name())
	if breaker != nil && !breaker.Allow() {
		return nil, core.ErrCircuitOpen
	}

	type callResult struct {
		res *adapter.Result
		err error
	}
	done := make(chan callResult, 1)
	go func() {
		res, err := a.Execute(cctx, step.Action, params, mode)
		done <- callResult{res, err}
	}()

	select {
	case out := <-done:
		if breaker != nil {
			if out.err != nil || (out.res != nil && !out.res.Success) {
				breaker.RecordFailure()
			} else {
				breaker.RecordSuccess()
			}
		}
		return out.res, out.err
	case <-cctx.Done():
		if breaker != nil {
			breaker.RecordFailure()
		}
		return nil, core.ErrAdapterTimeout
	}
}

// retryable reports whether a failed call should be retried: an
// adapter-reported retryable error, or any Go error returned by the
// call (a generic error is treated as transient, and an adapter
// timeout counts as one). A circuit-open error is never retried.
func retryable(res *adapter.Result, err error) bool {
	if err != nil {
		if errors.Is(err, core.ErrCircuitOpen) {
			return false
		}
		return true
	}
	if res != nil && !res.Success && res.Err != nil {
		return res.Err.Retryable
	}
	return false
}

func (e *Executor) finishFromResult(ctx context.Context, result model.StepResult, snapshot *model.Context, res *adapter.Result, err error) (model.StepResult, *model.Context) {
	if err != nil {
		code := "adapter_error"
		retryable := core.IsRetryable(err)
		if errors.Is(err, core.ErrAdapterTimeout) {
			code = "timeout"
		} else if errors.Is(err, core.ErrCircuitOpen) {
			code = "circuit_open"
		}
		return e.finish(ctx, result, snapshot, nil, &model.StepError{Code: code, Message: err.Error(), Retryable: retryable})
	}
	if res != nil && !res.Success {
		stepErr := &model.StepError{Code: "adapter_error", Message: "adapter reported failure", Retryable: false}
		if res.Err != nil {
			stepErr = &model.StepError{Code: res.Err.Code, Message: res.Err.Message, Retryable: res.Err.Retryable}
		}
		return e.finish(ctx, result, snapshot, res, stepErr)
	}
	return e.finish(ctx, result, snapshot, res, nil)
}

func (e *Executor) finish(ctx context.Context, result model.StepResult, snapshot *model.Context, res *adapter.Result, stepErr *model.StepError) (model.StepResult, *model.Context) {
	result.CompletedAt = time.Now()
	result.DurationMS = result.CompletedAt.Sub(result.StartedAt).Milliseconds()
	result.Error = stepErr
	result.Success = stepErr == nil

	var output interface{}
	if res != nil {
		output = res.Output
		result.Output = res.Output
		result.Metadata = res.Metadata
	}

	next := snapshot.WithStepOutput(result.StepID, output)

	e.emit(ctx, model.AuditStepComplete, map[string]interface{}{
		"step_id": result.StepID, "success": result.Success, "duration_ms": result.DurationMS,
	})

	return result, next
}

func (e *Executor) emit(ctx context.Context, kind model.AuditKind, payload map[string]interface{}) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Emit(ctx, kind, payload); err != nil {
		e.logger.Warn("audit emit failed", map[string]interface{}{"kind": string(kind), "error": err.Error()})
	}
}
