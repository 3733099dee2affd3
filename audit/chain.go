// Package audit implements the append-only, hash-chained audit trail.
// It never mutates a committed entry; the storage layer backing it
// must reject updates and deletes outright.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
)

// ErrChainBroken is returned by VerifyChain when the hash chain does
// not verify.
var ErrChainBroken = core.ErrChainBroken

// GenesisHash is the hex encoding of 32 zero bytes, used as PrevHash
// for an execution's first audit entry.
var GenesisHash = strings.Repeat("0", 64)

// ComputeHash derives EntryHash for an entry whose Sequence,
// Timestamp, Kind, Payload, and PrevHash are already set. The payload
// is canonicalized via encoding/json, which serializes map keys in
// sorted order, giving every producer the same byte stream for the
// same logical payload.
func ComputeHash(e *model.AuditEntry) (string, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return "", fmt.Errorf("audit: canonicalize payload: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(e.PrevHash))
	fmt.Fprintf(h, "%d", e.Sequence)
	h.Write([]byte(e.Timestamp.UTC().Format(time.RFC3339Nano)))
	h.Write([]byte(e.Kind))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Append builds the next AuditEntry in chain for an execution given
// the previous entry (nil for the first entry in the chain) and
// computes its hash. It does not persist anything; callers pass the
// result to a Store.
func Append(prev *model.AuditEntry, executionID string, kind model.AuditKind, payload map[string]interface{}, now time.Time) (*model.AuditEntry, error) {
	seq := int64(1)
	prevHash := GenesisHash
	if prev != nil {
		seq = prev.Sequence + 1
		prevHash = prev.EntryHash
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}
	entry := &model.AuditEntry{
		Sequence:    seq,
		ExecutionID: executionID,
		Timestamp:   now,
		Kind:        kind,
		Payload:     payload,
		PrevHash:    prevHash,
	}
	hash, err := ComputeHash(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash
	return entry, nil
}

// VerifyChain walks entries in sequence order and confirms: sequence
// numbers are 1..n with no gaps, the first entry's PrevHash is
// GenesisHash, each subsequent PrevHash equals the prior EntryHash,
// and every EntryHash recomputes correctly. Used by crash recovery
// and by the audit-verification command.
func VerifyChain(entries []*model.AuditEntry) error {
	for i, e := range entries {
		wantSeq := int64(i + 1)
		if e.Sequence != wantSeq {
			return fmt.Errorf("%w: entry %d has sequence %d, want %d", ErrChainBroken, i, e.Sequence, wantSeq)
		}
		wantPrev := GenesisHash
		if i > 0 {
			wantPrev = entries[i-1].EntryHash
		}
		if e.PrevHash != wantPrev {
			return fmt.Errorf("%w: entry %d prev_hash mismatch", ErrChainBroken, i)
		}
		got, err := ComputeHash(e)
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrChainBroken, i, err)
		}
		if got != e.EntryHash {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, i)
		}
	}
	return nil
}
