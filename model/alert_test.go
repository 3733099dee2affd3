package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsMissingTimestamp(t *testing.T) {
	var a AlertEvent
	require.NoError(t, json.Unmarshal([]byte(`{"event": {"kind": "alert"}}`), &a))
	err := a.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "@timestamp")
}

func TestValidateRejectsMissingEventKey(t *testing.T) {
	var a AlertEvent
	require.NoError(t, json.Unmarshal([]byte(`{"@timestamp": "2026-07-29T00:00:00Z"}`), &a))
	err := a.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event")
}

func TestValidateAcceptsEmptyEventObject(t *testing.T) {
	var a AlertEvent
	require.NoError(t, json.Unmarshal([]byte(`{"@timestamp": "2026-07-29T00:00:00Z", "event": {}}`), &a))
	assert.NoError(t, a.Validate())
}

func TestValidateAcceptsPopulatedEvent(t *testing.T) {
	var a AlertEvent
	require.NoError(t, json.Unmarshal([]byte(`{"@timestamp": "2026-07-29T00:00:00Z", "event": {"kind": "alert"}}`), &a))
	assert.NoError(t, a.Validate())
}

func TestValidateAcceptsDirectlyConstructedLiteral(t *testing.T) {
	a := &AlertEvent{Timestamp: "2026-07-29T00:00:00Z", Event: EventBlock{Kind: "alert"}}
	assert.NoError(t, a.Validate())
}
