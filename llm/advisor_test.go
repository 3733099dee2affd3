package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
)

type mockAIClient struct {
	responses []string
	index     int
	err       error
	lastPrompt string
	calls     int
}

func (c *mockAIClient) GenerateResponse(ctx context.Context, prompt string, options *core.AIOptions) (*core.AIResponse, error) {
	c.calls++
	c.lastPrompt = prompt
	if c.err != nil {
		return nil, c.err
	}
	if c.index >= len(c.responses) {
		return nil, errors.New("no more mock responses")
	}
	resp := c.responses[c.index]
	c.index++
	return &core.AIResponse{Content: resp, Model: "mock-model"}, nil
}

func twoCandidates() []*model.Runbook {
	return []*model.Runbook{
		{ID: "rb-contain-host", Metadata: model.RunbookMeta{Name: "Contain compromised host"}},
		{ID: "rb-rotate-creds", Metadata: model.RunbookMeta{Name: "Rotate exposed credentials"}},
	}
}

func TestAdvisorSuggestPicksNamedCandidate(t *testing.T) {
	client := &mockAIClient{responses: []string{`{"runbook_id": "rb-rotate-creds"}`}}
	advisor := NewAdvisor(client, nil)

	rb, err := advisor.Suggest(context.Background(), &model.AlertEvent{Timestamp: "t"}, twoCandidates())
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, "rb-rotate-creds", rb.ID)
	assert.Equal(t, 1, client.calls)
}

func TestAdvisorSuggestToleratesSurroundingProse(t *testing.T) {
	client := &mockAIClient{responses: []string{"Sure, here you go: {\"runbook_id\": \"rb-contain-host\"} — hope that helps!"}}
	advisor := NewAdvisor(client, nil)

	rb, err := advisor.Suggest(context.Background(), &model.AlertEvent{Timestamp: "t"}, twoCandidates())
	require.NoError(t, err)
	require.NotNil(t, rb)
	assert.Equal(t, "rb-contain-host", rb.ID)
}

func TestAdvisorSuggestReturnsNilOnUnknownID(t *testing.T) {
	client := &mockAIClient{responses: []string{`{"runbook_id": "rb-does-not-exist"}`}}
	advisor := NewAdvisor(client, nil)

	rb, err := advisor.Suggest(context.Background(), &model.AlertEvent{Timestamp: "t"}, twoCandidates())
	require.NoError(t, err)
	assert.Nil(t, rb)
}

func TestAdvisorSuggestSwallowsClientError(t *testing.T) {
	client := &mockAIClient{err: errors.New("provider unreachable")}
	advisor := NewAdvisor(client, nil)

	rb, err := advisor.Suggest(context.Background(), &model.AlertEvent{Timestamp: "t"}, twoCandidates())
	require.NoError(t, err)
	assert.Nil(t, rb)
}

func TestAdvisorSuggestNoCandidatesIsNoOp(t *testing.T) {
	client := &mockAIClient{responses: []string{`{"runbook_id": "x"}`}}
	advisor := NewAdvisor(client, nil)

	rb, err := advisor.Suggest(context.Background(), &model.AlertEvent{Timestamp: "t"}, nil)
	require.NoError(t, err)
	assert.Nil(t, rb)
	assert.Equal(t, 0, client.calls)
}

func TestAdvisorSuggestNilClientIsNoOp(t *testing.T) {
	advisor := NewAdvisor(nil, nil)
	rb, err := advisor.Suggest(context.Background(), &model.AlertEvent{Timestamp: "t"}, twoCandidates())
	require.NoError(t, err)
	assert.Nil(t, rb)
}
