package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectforge/runbookcore/model"
)

type fakeAdapter struct {
	BaseAdapter
	name       string
	actions    []model.Action
	healthFunc func(ctx context.Context) Health
	shutdownErr error
}

func (f *fakeAdapter) Name() string                     { return f.name }
func (f *fakeAdapter) Version() string                  { return "1.0.0" }
func (f *fakeAdapter) SupportedActions() []model.Action  { return f.actions }

func (f *fakeAdapter) Execute(ctx context.Context, action model.Action, params map[string]interface{}, mode Mode) (*Result, error) {
	return &Result{Success: true, Action: action, Executor: f.name}, nil
}

func (f *fakeAdapter) ValidateParameters(action model.Action, params map[string]interface{}) []ValidationError {
	return nil
}

func (f *fakeAdapter) GetCapabilities() Capabilities {
	return Capabilities{Name: f.name, Version: "1.0.0", SupportedActions: f.actions, SupportsValidation: true}
}

func (f *fakeAdapter) HealthCheck(ctx context.Context) Health {
	if f.healthFunc != nil {
		return f.healthFunc(ctx)
	}
	return Health{Status: HealthHealthy, CheckedAt: time.Now()}
}

func (f *fakeAdapter) Shutdown(ctx context.Context) error { return f.shutdownErr }

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), nil)
	a := &fakeAdapter{name: "siem", actions: []model.Action{model.ActionCollectLogs, model.ActionQuerySIEM}}

	require.NoError(t, r.Register(context.Background(), a, nil))

	got, ok := r.Get("siem")
	require.True(t, ok)
	assert.Equal(t, "siem", got.Name())

	names := r.AdaptersForAction(model.ActionCollectLogs)
	assert.Contains(t, names, "siem")

	cb, ok := r.Breaker("siem")
	require.True(t, ok)
	assert.Equal(t, "closed", cb.State())
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), nil)
	a := &fakeAdapter{name: "siem"}
	require.NoError(t, r.Register(context.Background(), a, nil))

	err := r.Register(context.Background(), &fakeAdapter{name: "siem"}, nil)
	require.Error(t, err)
}

func TestUnregisterRemovesBothIndices(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), nil)
	a := &fakeAdapter{name: "firewall", actions: []model.Action{model.ActionBlockIP}}
	require.NoError(t, r.Register(context.Background(), a, nil))

	require.NoError(t, r.Unregister(context.Background(), "firewall"))

	_, ok := r.Get("firewall")
	assert.False(t, ok)
	assert.Empty(t, r.AdaptersForAction(model.ActionBlockIP))
}

func TestUnregisterUnknownReturnsError(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), nil)
	err := r.Unregister(context.Background(), "nope")
	require.Error(t, err)
}

func TestHealthCheckAllCapturesTimeoutAsUnhealthy(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), nil)
	slow := &fakeAdapter{name: "slow", healthFunc: func(ctx context.Context) Health {
		<-ctx.Done()
		return Health{Status: HealthHealthy, CheckedAt: time.Now()}
	}}
	fast := &fakeAdapter{name: "fast"}
	require.NoError(t, r.Register(context.Background(), slow, nil))
	require.NoError(t, r.Register(context.Background(), fast, nil))

	results := r.HealthCheckAll(context.Background(), 10*time.Millisecond)
	require.Len(t, results, 2)

	byName := map[string]Health{}
	for _, res := range results {
		byName[res.Adapter] = res.Health
	}
	assert.Equal(t, HealthUnhealthy, byName["slow"].Status)
	assert.Equal(t, HealthHealthy, byName["fast"].Status)
}

func TestShutdownAllCollectsPerAdapterErrors(t *testing.T) {
	r := NewRegistry(DefaultCircuitBreakerConfig(), nil)
	bad := &fakeAdapter{name: "bad", shutdownErr: errors.New("boom")}
	good := &fakeAdapter{name: "good"}
	require.NoError(t, r.Register(context.Background(), bad, nil))
	require.NoError(t, r.Register(context.Background(), good, nil))

	errs := r.ShutdownAll(context.Background())
	require.Len(t, errs, 1)
	assert.Error(t, errs["bad"])
}
