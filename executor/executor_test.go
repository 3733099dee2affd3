package executor

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectforge/runbookcore/adapter"
	"github.com/detectforge/runbookcore/model"
)

type recordingSink struct {
	entries []model.AuditKind
}

func (s *recordingSink) Emit(ctx context.Context, kind model.AuditKind, payload map[string]interface{}) error {
	s.entries = append(s.entries, kind)
	return nil
}

type scriptedAdapter struct {
	adapter.BaseAdapter
	name               string
	calls              atomic.Int32
	results            []*adapter.Result
	errs               []error
	rollback           func(ctx context.Context, action model.Action, params map[string]interface{}) (*adapter.Result, error)
	supportsValidation bool
	validationErrs     []adapter.ValidationError
	lastParams         map[string]interface{}
}

func (a *scriptedAdapter) Name() string                    { return a.name }
func (a *scriptedAdapter) Version() string                 { return "1.0.0" }
func (a *scriptedAdapter) SupportedActions() []model.Action { return []model.Action{model.ActionCollectLogs} }

func (a *scriptedAdapter) Execute(ctx context.Context, action model.Action, params map[string]interface{}, mode model.Mode) (*adapter.Result, error) {
	a.lastParams = params
	i := int(a.calls.Add(1)) - 1
	if i < len(a.results) || i < len(a.errs) {
		var res *adapter.Result
		var err error
		if i < len(a.results) {
			res = a.results[i]
		}
		if i < len(a.errs) {
			err = a.errs[i]
		}
		return res, err
	}
	return &adapter.Result{Success: true, Action: action, Executor: a.name}, nil
}

func (a *scriptedAdapter) ValidateParameters(action model.Action, params map[string]interface{}) []adapter.ValidationError {
	return a.validationErrs
}
func (a *scriptedAdapter) GetCapabilities() adapter.Capabilities {
	return adapter.Capabilities{Name: a.name, SupportsValidation: a.supportsValidation}
}
func (a *scriptedAdapter) HealthCheck(ctx context.Context) adapter.Health {
	return adapter.Health{Status: adapter.HealthHealthy}
}

func (a *scriptedAdapter) Rollback(ctx context.Context, action model.Action, params map[string]interface{}) (*adapter.Result, error) {
	if a.rollback != nil {
		return a.rollback(ctx, action, params)
	}
	return &adapter.Result{Success: true, Action: action, Executor: a.name}, nil
}

func newRegistryWith(t *testing.T, a adapter.Adapter) *adapter.Registry {
	t.Helper()
	r := adapter.NewRegistry(adapter.DefaultCircuitBreakerConfig(), nil)
	require.NoError(t, r.Register(context.Background(), a, nil))
	return r
}

func testStep() model.Step {
	return model.Step{
		ID: "step-1", Name: "collect", Action: model.ActionCollectLogs, Executor: "siem",
		OnError: model.OnErrorHalt, TimeoutSeconds: 5,
		Parameters: map[string]interface{}{"host": "{{ alert.host.hostname }}"},
	}
}

func baseContext() *model.Context {
	alert := &model.AlertEvent{
		Timestamp: "2026-07-29T00:00:00Z",
		Event:     model.EventBlock{Kind: "alert"},
		Host:      json.RawMessage(`{"hostname": "win-01"}`),
	}
	return model.NewContext(alert, nil)
}

func TestRunSucceedsAndPublishesOutput(t *testing.T) {
	a := &scriptedAdapter{name: "siem", results: []*adapter.Result{{Success: true, Output: "logs"}}}
	r := newRegistryWith(t, a)
	sink := &recordingSink{}
	e := New(r, RetryPolicy{MaxAttempts: 3, BackoffMS: 1, MaxBackoffMS: 10, Exponential: true}, sink, nil)

	result, next := e.Run(context.Background(), testStep(), baseContext(), model.ModeProduction)
	require.True(t, result.Success)
	assert.Equal(t, "logs", next.Steps["step-1"].Output)
	assert.Contains(t, sink.entries, model.AuditStepStart)
	assert.Contains(t, sink.entries, model.AuditStepComplete)
}

func TestRunRetriesRetryableFailureThenSucceeds(t *testing.T) {
	a := &scriptedAdapter{
		name: "siem",
		results: []*adapter.Result{
			{Success: false, Err: &adapter.Error{Code: "timeout", Message: "slow", Retryable: true}},
			{Success: true, Output: "ok"},
		},
	}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 3, BackoffMS: 1, MaxBackoffMS: 5, Exponential: false}, &recordingSink{}, nil)

	result, _ := e.Run(context.Background(), testStep(), baseContext(), model.ModeProduction)
	require.True(t, result.Success)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestRunAbortsImmediatelyOnNonRetryableFailure(t *testing.T) {
	a := &scriptedAdapter{
		name: "siem",
		results: []*adapter.Result{
			{Success: false, Err: &adapter.Error{Code: "bad_params", Message: "nope", Retryable: false}},
			{Success: true, Output: "ok"},
		},
	}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 3, BackoffMS: 1, MaxBackoffMS: 5, Exponential: false}, &recordingSink{}, nil)

	result, _ := e.Run(context.Background(), testStep(), baseContext(), model.ModeProduction)
	require.False(t, result.Success)
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, "bad_params", result.Error.Code)
}

func TestRunSurfacesLastErrorOnExhaustion(t *testing.T) {
	a := &scriptedAdapter{
		name: "siem",
		results: []*adapter.Result{
			{Success: false, Err: &adapter.Error{Code: "timeout", Message: "one", Retryable: true}},
			{Success: false, Err: &adapter.Error{Code: "timeout", Message: "two", Retryable: true}},
		},
	}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 2, BackoffMS: 1, MaxBackoffMS: 5, Exponential: false}, &recordingSink{}, nil)

	result, _ := e.Run(context.Background(), testStep(), baseContext(), model.ModeProduction)
	require.False(t, result.Success)
	assert.Equal(t, "two", result.Error.Message)
	assert.Equal(t, int32(2), a.calls.Load())
}

func TestRunDryRunSkipsRetryWrapper(t *testing.T) {
	a := &scriptedAdapter{name: "siem", results: []*adapter.Result{{Success: true, Output: "dry"}}}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 3, BackoffMS: 1, MaxBackoffMS: 5}, &recordingSink{}, nil)

	result, _ := e.Run(context.Background(), testStep(), baseContext(), model.ModeDryRun)
	require.True(t, result.Success)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestRunUnknownAdapterFails(t *testing.T) {
	r := adapter.NewRegistry(adapter.DefaultCircuitBreakerConfig(), nil)
	e := New(r, RetryPolicy{MaxAttempts: 1, BackoffMS: 1}, &recordingSink{}, nil)

	result, _ := e.Run(context.Background(), testStep(), baseContext(), model.ModeProduction)
	require.False(t, result.Success)
	assert.Equal(t, "adapter_not_found", result.Error.Code)
}

func TestRollbackInvokesCompensatingAction(t *testing.T) {
	a := &scriptedAdapter{name: "siem"}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 1, BackoffMS: 1}, &recordingSink{}, nil)

	step := testStep()
	step.Rollback = &model.RollbackSpec{Action: model.ActionCollectLogs, TimeoutSeconds: 5}

	res := e.Rollback(context.Background(), step, baseContext())
	assert.True(t, res.Success)
}

func TestRollbackNoOpWhenStepHasNoRollbackSpec(t *testing.T) {
	a := &scriptedAdapter{name: "siem"}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 1, BackoffMS: 1}, &recordingSink{}, nil)

	res := e.Rollback(context.Background(), testStep(), baseContext())
	assert.True(t, res.Success)
}

func TestRunResolvesNestedAlertFieldsFromARealAlertEvent(t *testing.T) {
	a := &scriptedAdapter{name: "siem", results: []*adapter.Result{{Success: true, Output: "ok"}}}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 1, BackoffMS: 1}, &recordingSink{}, nil)

	result, _ := e.Run(context.Background(), testStep(), baseContext(), model.ModeProduction)
	require.True(t, result.Success)
	assert.Equal(t, "win-01", a.lastParams["host"])
}

func TestRunSkipsValidationWhenAdapterDoesNotSupportIt(t *testing.T) {
	a := &scriptedAdapter{
		name:               "siem",
		results:            []*adapter.Result{{Success: true, Output: "ok"}},
		supportsValidation: false,
		validationErrs:     []adapter.ValidationError{{Field: "host", Message: "bogus stub failure"}},
	}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 1, BackoffMS: 1}, &recordingSink{}, nil)

	result, _ := e.Run(context.Background(), testStep(), baseContext(), model.ModeProduction)
	require.True(t, result.Success)
}

func TestRunAppliesValidationWhenAdapterSupportsIt(t *testing.T) {
	a := &scriptedAdapter{
		name:               "siem",
		supportsValidation: true,
		validationErrs:     []adapter.ValidationError{{Field: "host", Message: "host is malformed"}},
	}
	r := newRegistryWith(t, a)
	e := New(r, RetryPolicy{MaxAttempts: 1, BackoffMS: 1}, &recordingSink{}, nil)

	result, _ := e.Run(context.Background(), testStep(), baseContext(), model.ModeProduction)
	require.False(t, result.Success)
	assert.Equal(t, "invalid_parameters", result.Error.Code)
	assert.Equal(t, int32(0), a.calls.Load())
}
