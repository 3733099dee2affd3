// Package statemachine enforces the execution lifecycle's legal
// transitions and writes each one as an audit entry right after the
// Store row update.
package statemachine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/detectforge/runbookcore/audit"
	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
	"github.com/detectforge/runbookcore/store"
)

// legal is the adjacency list of allowed transitions.
var legal = map[model.State]map[model.State]bool{
	model.StateIdle: {
		model.StatePlanning: true,
	},
	model.StatePlanning: {
		model.StateExecuting:        true,
		model.StateAwaitingApproval: true,
		model.StateFailed:           true,
	},
	model.StateAwaitingApproval: {
		model.StateExecuting: true,
		model.StateFailed:    true,
		model.StateCancelled: true,
	},
	model.StateExecuting: {
		model.StateAwaitingApproval: true,
		model.StateCompleted:        true,
		model.StateFailed:           true,
		model.StateCancelled:        true,
		model.StateTimedOut:         true,
		model.StateRolledBack:       true,
	},
	model.StateFailed: {
		model.StateRolledBack: true,
	},
}

// Allowed reports whether from→to is a legal transition.
func Allowed(from, to model.State) bool {
	return legal[from][to]
}

// Machine advances one execution's state, serializing transitions per
// execution and persisting each as an Execution update followed by an
// audit append. The two are separate Store calls, not one atomic
// write: if the append fails, the updated row stays in place. A shared Machine is safe across many concurrently
// running executions: transitions on different execution ids never
// block each other.
type Machine struct {
	mu        sync.Mutex
	execLocks map[string]*sync.Mutex
	store     store.Store
}

// New returns a Machine backed by s.
func New(s store.Store) *Machine {
	return &Machine{store: s, execLocks: make(map[string]*sync.Mutex)}
}

func (m *Machine) lockFor(executionID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.execLocks[executionID]
	if !ok {
		l = &sync.Mutex{}
		m.execLocks[executionID] = l
	}
	return l
}

// Transition moves e from its current state to to, rejecting illegal
// transitions with core.ErrInvalidTransition. On success it updates
// e.State, persists e, and appends the audit entry, both against the
// same prior audit entry, so a concurrent transition on the same
// execution cannot silently interleave.
func (m *Machine) Transition(ctx context.Context, e *model.Execution, to model.State, payload map[string]interface{}) error {
	l := m.lockFor(e.ExecutionID)
	l.Lock()
	defer l.Unlock()

	from := e.State
	if !Allowed(from, to) {
		err := core.NewEngineError("statemachine.Transition", core.ComponentEngine, core.ErrInvalidTransition).WithEntity(e.ExecutionID)
		m.auditRejected(ctx, e.ExecutionID, from, to, err)
		return err
	}

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["from"] = string(from)
	payload["to"] = string(to)

	prev, err := m.store.LatestAuditEntry(ctx, e.ExecutionID)
	if err != nil && !core.IsNotFound(err) {
		return fmt.Errorf("statemachine: load latest audit entry: %w", err)
	}

	entry, err := audit.Append(prev, e.ExecutionID, model.AuditStateTransition, payload, time.Now())
	if err != nil {
		return fmt.Errorf("statemachine: build audit entry: %w", err)
	}

	e.State = to
	if to.Terminal() {
		now := time.Now()
		e.CompletedAt = &now
		dur := now.Sub(e.StartedAt).Milliseconds()
		e.DurationMS = &dur
	}

	if err := m.store.UpdateExecution(ctx, e); err != nil {
		return fmt.Errorf("statemachine: persist execution: %w", err)
	}
	if err := m.store.AppendAudit(ctx, entry); err != nil {
		return fmt.Errorf("statemachine: append audit entry: %w", err)
	}
	return nil
}

// auditRejected best-effort records an illegal-transition attempt.
// Failure to write this record is swallowed: the caller already has
// the authoritative error to act on.
func (m *Machine) auditRejected(ctx context.Context, executionID string, from, to model.State, cause error) {
	prev, err := m.store.LatestAuditEntry(ctx, executionID)
	if err != nil && !core.IsNotFound(err) {
		return
	}
	entry, err := audit.Append(prev, executionID, model.AuditStateTransition, map[string]interface{}{
		"from": string(from), "to": string(to), "rejected": true, "error": cause.Error(),
	}, time.Now())
	if err != nil {
		return
	}
	_ = m.store.AppendAudit(ctx, entry)
}
