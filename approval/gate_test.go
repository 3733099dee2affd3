package approval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectforge/runbookcore/model"
)

type recordingSink struct {
	kinds []model.AuditKind
}

func (s *recordingSink) Emit(ctx context.Context, kind model.AuditKind, payload map[string]interface{}) error {
	s.kinds = append(s.kinds, kind)
	return nil
}

func sampleDetails() Details {
	return Details{
		ExecutionID: "exec-1", RunbookID: "rb-1", StepID: "step-1",
		Action: model.ActionBlockIP, RiskLevel: "high", Message: "block 10.0.0.1",
	}
}

func TestRequestApprovalApproved(t *testing.T) {
	sink := &recordingSink{}
	g := NewGate(sink, nil)

	prompt := func(ctx context.Context, d Details) (*Decision, error) {
		return &Decision{Approved: true, Approver: "alice"}, nil
	}

	rec, err := g.RequestApproval(context.Background(), sampleDetails(), prompt, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, string(model.ApprovalApproved), rec.Status)
	assert.Equal(t, "alice", rec.Approver)
	assert.Contains(t, sink.kinds, model.AuditApprovalRequest)
	assert.Contains(t, sink.kinds, model.AuditApprovalDecision)
}

func TestRequestApprovalDenied(t *testing.T) {
	g := NewGate(nil, nil)
	prompt := func(ctx context.Context, d Details) (*Decision, error) {
		return &Decision{Approved: false, Approver: "bob", Reason: "too risky"}, nil
	}

	rec, err := g.RequestApproval(context.Background(), sampleDetails(), prompt, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, string(model.ApprovalDenied), rec.Status)
	assert.Equal(t, "too risky", rec.Reason)
}

func TestRequestApprovalTimeoutHalts(t *testing.T) {
	g := NewGate(nil, nil)
	prompt := func(ctx context.Context, d Details) (*Decision, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	rec, err := g.RequestApproval(context.Background(), sampleDetails(), prompt, Options{Timeout: 20 * time.Millisecond, OnTimeout: TimeoutHalt})
	require.NoError(t, err)
	assert.Equal(t, string(model.ApprovalExpired), rec.Status)
	assert.Equal(t, "halt", rec.Reason)
}

func TestRequestApprovalTimeoutSkips(t *testing.T) {
	g := NewGate(nil, nil)
	prompt := func(ctx context.Context, d Details) (*Decision, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	rec, err := g.RequestApproval(context.Background(), sampleDetails(), prompt, Options{Timeout: 20 * time.Millisecond, OnTimeout: TimeoutSkip})
	require.NoError(t, err)
	assert.Equal(t, string(model.ApprovalExpired), rec.Status)
	assert.Equal(t, "skip", rec.Reason)
}

func TestRequestApprovalTimeoutAutoApproves(t *testing.T) {
	g := NewGate(nil, nil)
	prompt := func(ctx context.Context, d Details) (*Decision, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	rec, err := g.RequestApproval(context.Background(), sampleDetails(), prompt, Options{Timeout: 20 * time.Millisecond, OnTimeout: TimeoutAutoApprove})
	require.NoError(t, err)
	assert.Equal(t, string(model.ApprovalApproved), rec.Status)
	assert.Equal(t, "system:auto-approve", rec.Approver)
}

func TestRequestApprovalNonTimeoutErrorIsRethrown(t *testing.T) {
	g := NewGate(nil, nil)
	boom := errors.New("transport unavailable")
	prompt := func(ctx context.Context, d Details) (*Decision, error) {
		return nil, boom
	}

	_, err := g.RequestApproval(context.Background(), sampleDetails(), prompt, DefaultOptions())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPromptFailed)
}

func TestRequestApprovalAppliesDefaultOptionsOnZeroValue(t *testing.T) {
	g := NewGate(nil, nil)
	called := false
	prompt := func(ctx context.Context, d Details) (*Decision, error) {
		called = true
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(5*time.Minute), deadline, 2*time.Second)
		return &Decision{Approved: true}, nil
	}

	_, err := g.RequestApproval(context.Background(), sampleDetails(), prompt, Options{})
	require.NoError(t, err)
	assert.True(t, called)
}
