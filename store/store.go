// Package store implements the durable persistence layer backing
// executions, the approval queue, the audit log, and metrics.
// Two implementations satisfy the Store interface: an in-memory store
// for tests and single-process/embedded use, and a Redis-backed store
// for production.
package store

import (
	"context"
	"time"

	"github.com/detectforge/runbookcore/model"
)

// Store is the single writer surface shared across executions.
// MemoryStore serializes writes per execution row. Audit appends and
// execution updates are separate calls; the interface has no combined
// atomic write.
type Store interface {
	// Executions
	SaveExecution(ctx context.Context, e *model.Execution) error
	UpdateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, executionID string) (*model.Execution, error)
	ListActive(ctx context.Context) ([]*model.Execution, error)
	ListByRunbook(ctx context.Context, runbookID string) ([]*model.Execution, error)

	// Audit log: append-only, hash-chained (package audit builds the
	// entries; Store only persists and reads them back in order).
	AppendAudit(ctx context.Context, entry *model.AuditEntry) error
	AuditTrail(ctx context.Context, executionID string) ([]*model.AuditEntry, error)
	LatestAuditEntry(ctx context.Context, executionID string) (*model.AuditEntry, error)

	// Approval queue
	SaveApproval(ctx context.Context, entry *model.ApprovalQueueEntry) error
	UpdateApproval(ctx context.Context, entry *model.ApprovalQueueEntry) error
	GetApproval(ctx context.Context, requestID string) (*model.ApprovalQueueEntry, error)
	ListApprovals(ctx context.Context, status model.ApprovalStatus) ([]*model.ApprovalQueueEntry, error)

	// Metrics
	RecordMetric(ctx context.Context, point MetricPoint) error
	MetricsWindow(ctx context.Context, from, to time.Time) (*MetricsSnapshot, error)
}

// MetricPoint is one recorded sample; the store aggregates these into
// MetricsWindow snapshots. Only low-cardinality labels (state, adapter,
// action) are expected here.
type MetricPoint struct {
	Name      string
	Value     float64
	Labels    map[string]string
	Timestamp time.Time
}

// MetricsSnapshot aggregates recorded points over a time window for
// reporting.
type MetricsSnapshot struct {
	From, To             time.Time
	ExecutionsByState    map[model.State]int
	StepFailuresByAdapter map[string]int
	ApprovalLatencyP50MS int64
	ApprovalLatencyP95MS int64
}
