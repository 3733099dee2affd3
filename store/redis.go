package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/detectforge/runbookcore/core"
	"github.com/detectforge/runbookcore/model"
)

// RedisStore implements Store over Redis. Key layout, grounded on the
// layout used for checkpoint and state storage:
//
//	{prefix}:exec:{execution_id}            -> JSON Execution
//	{prefix}:exec:active                     -> Set of execution ids, score = started_at unix
//	{prefix}:exec:by_runbook:{runbook_id}    -> Set of execution ids
//	{prefix}:audit:{execution_id}            -> List of JSON AuditEntry, append-only (RPush)
//	{prefix}:approval:{request_id}           -> JSON ApprovalQueueEntry
//	{prefix}:approval:status:{status}        -> Set of request ids
//	{prefix}:metric                          -> List of JSON MetricPoint
//
// The audit list is append-only by construction: RedisStore exposes no
// method that removes or rewrites an element once it's been appended.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    core.Logger
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithRedisKeyPrefix overrides the default "detectforge" key prefix.
func WithRedisKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithRedisTTL bounds how long execution/audit records survive; 0 means no TTL.
func WithRedisTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithRedisLogger attaches a logger.
func WithRedisLogger(l core.Logger) RedisStoreOption {
	return func(s *RedisStore) { s.logger = l }
}

// NewRedisStore connects to redisURL and returns a ready Store.
func NewRedisStore(redisURL string, opts ...RedisStoreOption) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	s := &RedisStore{
		client:    redis.NewClient(redisOpts),
		keyPrefix: "detectforge",
		ttl:       30 * 24 * time.Hour,
		logger:    core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *RedisStore) execKey(id string) string       { return fmt.Sprintf("%s:exec:%s", s.keyPrefix, id) }
func (s *RedisStore) activeKey() string               { return fmt.Sprintf("%s:exec:active", s.keyPrefix) }
func (s *RedisStore) byRunbookKey(id string) string   { return fmt.Sprintf("%s:exec:by_runbook:%s", s.keyPrefix, id) }
func (s *RedisStore) auditKey(id string) string       { return fmt.Sprintf("%s:audit:%s", s.keyPrefix, id) }
func (s *RedisStore) approvalKey(id string) string    { return fmt.Sprintf("%s:approval:%s", s.keyPrefix, id) }
func (s *RedisStore) approvalStatusKey(st model.ApprovalStatus) string {
	return fmt.Sprintf("%s:approval:status:%s", s.keyPrefix, st)
}
func (s *RedisStore) metricKey() string { return fmt.Sprintf("%s:metric", s.keyPrefix) }

func (s *RedisStore) saveExecution(ctx context.Context, e *model.Execution, requireNew bool) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("store: marshal execution: %w", err)
	}
	key := s.execKey(e.ExecutionID)

	if requireNew {
		ok, err := s.client.SetNX(ctx, key, data, s.ttl).Result()
		if err != nil {
			return fmt.Errorf("store: save execution: %w", err)
		}
		if !ok {
			return core.NewEngineError("store.SaveExecution", core.ComponentEngine, core.ErrAlreadyExists)
		}
	} else {
		exists, err := s.client.Exists(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("store: check execution: %w", err)
		}
		if exists == 0 {
			return core.NewEngineError("store.UpdateExecution", core.ComponentEngine, core.ErrExecutionNotFound)
		}
		if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
			return fmt.Errorf("store: update execution: %w", err)
		}
	}

	if e.State.Terminal() {
		s.client.ZRem(ctx, s.activeKey(), e.ExecutionID)
	} else {
		s.client.ZAdd(ctx, s.activeKey(), &redis.Z{Score: float64(e.StartedAt.Unix()), Member: e.ExecutionID}).Err()
	}
	s.client.SAdd(ctx, s.byRunbookKey(e.RunbookID), e.ExecutionID)
	return nil
}

func (s *RedisStore) SaveExecution(ctx context.Context, e *model.Execution) error {
	return s.saveExecution(ctx, e, true)
}

func (s *RedisStore) UpdateExecution(ctx context.Context, e *model.Execution) error {
	return s.saveExecution(ctx, e, false)
}

func (s *RedisStore) GetExecution(ctx context.Context, executionID string) (*model.Execution, error) {
	data, err := s.client.Get(ctx, s.execKey(executionID)).Bytes()
	if err == redis.Nil {
		return nil, core.NewEngineError("store.GetExecution", core.ComponentEngine, core.ErrExecutionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get execution: %w", err)
	}
	var e model.Execution
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("store: unmarshal execution: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) ListActive(ctx context.Context) ([]*model.Execution, error) {
	ids, err := s.client.ZRangeByScore(ctx, s.activeKey(), &redis.ZRangeBy{Min: "-inf", Max: "+inf"}).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list active: %w", err)
	}
	return s.fetchAll(ctx, ids)
}

func (s *RedisStore) ListByRunbook(ctx context.Context, runbookID string) ([]*model.Execution, error) {
	ids, err := s.client.SMembers(ctx, s.byRunbookKey(runbookID)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list by runbook: %w", err)
	}
	return s.fetchAll(ctx, ids)
}

func (s *RedisStore) fetchAll(ctx context.Context, ids []string) ([]*model.Execution, error) {
	out := make([]*model.Execution, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetExecution(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) AppendAudit(ctx context.Context, entry *model.AuditEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal audit entry: %w", err)
	}
	if err := s.client.RPush(ctx, s.auditKey(entry.ExecutionID), data).Err(); err != nil {
		return fmt.Errorf("store: append audit: %w", err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, s.auditKey(entry.ExecutionID), s.ttl)
	}
	return nil
}

func (s *RedisStore) AuditTrail(ctx context.Context, executionID string) ([]*model.AuditEntry, error) {
	raw, err := s.client.LRange(ctx, s.auditKey(executionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: audit trail: %w", err)
	}
	out := make([]*model.AuditEntry, 0, len(raw))
	for _, r := range raw {
		var e model.AuditEntry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			return nil, fmt.Errorf("store: unmarshal audit entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, nil
}

func (s *RedisStore) LatestAuditEntry(ctx context.Context, executionID string) (*model.AuditEntry, error) {
	raw, err := s.client.LRange(ctx, s.auditKey(executionID), -1, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: latest audit entry: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var e model.AuditEntry
	if err := json.Unmarshal([]byte(raw[0]), &e); err != nil {
		return nil, fmt.Errorf("store: unmarshal audit entry: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) saveApproval(ctx context.Context, entry *model.ApprovalQueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("store: marshal approval: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.approvalKey(entry.RequestID), data, s.ttl)
	for _, st := range []model.ApprovalStatus{model.ApprovalPending, model.ApprovalApproved, model.ApprovalDenied, model.ApprovalExecuted, model.ApprovalExpired} {
		if st == entry.Status {
			pipe.SAdd(ctx, s.approvalStatusKey(st), entry.RequestID)
		} else {
			pipe.SRem(ctx, s.approvalStatusKey(st), entry.RequestID)
		}
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("store: save approval: %w", err)
	}
	return nil
}

func (s *RedisStore) SaveApproval(ctx context.Context, entry *model.ApprovalQueueEntry) error {
	return s.saveApproval(ctx, entry)
}

func (s *RedisStore) UpdateApproval(ctx context.Context, entry *model.ApprovalQueueEntry) error {
	exists, err := s.client.Exists(ctx, s.approvalKey(entry.RequestID)).Result()
	if err != nil {
		return fmt.Errorf("store: check approval: %w", err)
	}
	if exists == 0 {
		return core.NewEngineError("store.UpdateApproval", core.ComponentEngine, core.ErrNotFound)
	}
	return s.saveApproval(ctx, entry)
}

func (s *RedisStore) GetApproval(ctx context.Context, requestID string) (*model.ApprovalQueueEntry, error) {
	data, err := s.client.Get(ctx, s.approvalKey(requestID)).Bytes()
	if err == redis.Nil {
		return nil, core.NewEngineError("store.GetApproval", core.ComponentEngine, core.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get approval: %w", err)
	}
	var e model.ApprovalQueueEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("store: unmarshal approval: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) ListApprovals(ctx context.Context, status model.ApprovalStatus) ([]*model.ApprovalQueueEntry, error) {
	var ids []string
	var err error
	if status == "" {
		ids, err = s.client.Keys(ctx, s.approvalKey("*")).Result()
		for i, k := range ids {
			ids[i] = k[len(s.keyPrefix+":approval:"):]
		}
	} else {
		ids, err = s.client.SMembers(ctx, s.approvalStatusKey(status)).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("store: list approvals: %w", err)
	}
	out := make([]*model.ApprovalQueueEntry, 0, len(ids))
	for _, id := range ids {
		e, err := s.GetApproval(ctx, id)
		if err != nil {
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *RedisStore) RecordMetric(ctx context.Context, p MetricPoint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("store: marshal metric: %w", err)
	}
	if err := s.client.RPush(ctx, s.metricKey(), data).Err(); err != nil {
		return fmt.Errorf("store: record metric: %w", err)
	}
	return nil
}

// MetricsWindow aggregates the recorded metric points whose timestamp
// falls in [from, to]. ExecutionsByState counts the currently active
// executions regardless of from and to; finished executions are not
// counted.
func (s *RedisStore) MetricsWindow(ctx context.Context, from, to time.Time) (*MetricsSnapshot, error) {
	raw, err := s.client.LRange(ctx, s.metricKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: metrics window: %w", err)
	}
	snap := &MetricsSnapshot{
		From:                  from,
		To:                    to,
		ExecutionsByState:     make(map[model.State]int),
		StepFailuresByAdapter: make(map[string]int),
	}
	var latencies []int64
	for _, r := range raw {
		var p MetricPoint
		if err := json.Unmarshal([]byte(r), &p); err != nil {
			continue
		}
		if p.Timestamp.Before(from) || p.Timestamp.After(to) {
			continue
		}
		switch p.Name {
		case "step_failure":
			snap.StepFailuresByAdapter[p.Labels["adapter"]]++
		case "approval_latency_ms":
			latencies = append(latencies, int64(p.Value))
		}
	}
	active, err := s.ListActive(ctx)
	if err == nil {
		for _, e := range active {
			snap.ExecutionsByState[e.State]++
		}
	}
	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		snap.ApprovalLatencyP50MS = latencies[len(latencies)/2]
		snap.ApprovalLatencyP95MS = latencies[(len(latencies)*95)/100]
	}
	return snap, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
