package audit

import (
	"testing"
	"time"

	"github.com/detectforge/runbookcore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendBuildsGenesisEntry(t *testing.T) {
	now := time.Now()
	e, err := Append(nil, "exec-1", model.AuditSystem, map[string]interface{}{"msg": "start"}, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Sequence)
	assert.Equal(t, GenesisHash, e.PrevHash)
	assert.NotEmpty(t, e.EntryHash)
}

func TestChainVerifiesAndDetectsTamper(t *testing.T) {
	now := time.Now()
	e1, err := Append(nil, "exec-1", model.AuditSystem, map[string]interface{}{"msg": "start"}, now)
	require.NoError(t, err)
	e2, err := Append(e1, "exec-1", model.AuditStepStart, map[string]interface{}{"step_id": "s1"}, now.Add(time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, VerifyChain([]*model.AuditEntry{e1, e2}))

	tampered := *e2
	tampered.Payload = map[string]interface{}{"step_id": "s2"}
	require.ErrorIs(t, VerifyChain([]*model.AuditEntry{e1, &tampered}), ErrChainBroken)
}

func TestChainDetectsSequenceGap(t *testing.T) {
	now := time.Now()
	e1, _ := Append(nil, "exec-1", model.AuditSystem, nil, now)
	e2, _ := Append(e1, "exec-1", model.AuditStepStart, nil, now)
	e2.Sequence = 5
	require.ErrorIs(t, VerifyChain([]*model.AuditEntry{e1, e2}), ErrChainBroken)
}
