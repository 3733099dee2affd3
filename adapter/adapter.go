// Package adapter defines the uniform contract every integration
// (SIEM, EDR, firewall, ticketing, and so on) implements, plus the
// registry that looks adapters up by name and by supported action.
package adapter

import (
	"context"
	"time"

	"github.com/detectforge/runbookcore/model"
)

// Mode is the execution mode an adapter call runs under.
type Mode = model.Mode

// HealthStatus is the coarse health classification returned by
// Adapter.HealthCheck.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown"
)

// Health is the result of a single health probe.
type Health struct {
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message,omitempty"`
	LatencyMS *int64       `json:"latency_ms,omitempty"`
	CheckedAt time.Time    `json:"checked_at"`
}

// Capabilities describes what an adapter can do, surfaced to callers
// building runbooks or inspecting a running registry.
type Capabilities struct {
	Name              string        `json:"name"`
	Version           string        `json:"version"`
	SupportedActions  []model.Action `json:"supported_actions"`
	SupportsValidation bool         `json:"supports_validation"`
	SupportsRollback  bool          `json:"supports_rollback"`
	MaxConcurrency    int           `json:"max_concurrency"` // 0 = unlimited
}

// Error is the structured failure shape an adapter call returns
// instead of an exception. StepID is filled in by the caller, not the
// adapter itself, once the step context is known.
type Error struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Adapter   string `json:"adapter"`
	Action    model.Action `json:"action"`
	Retryable bool   `json:"retryable"`
	StepID    string `json:"step_id,omitempty"`
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}

// Result is the outcome of Adapter.Execute. Exactly one of Output or
// Err is meaningful when Success is false.
type Result struct {
	Success    bool                   `json:"success"`
	Action     model.Action           `json:"action"`
	Executor   string                 `json:"executor"`
	DurationMS int64                  `json:"duration_ms"`
	Output     interface{}            `json:"output,omitempty"`
	Err        *Error                 `json:"error,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// ValidationError describes one parameter validation failure from
// Adapter.ValidateParameters.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Adapter is the uniform contract every integration implements.
// Initialize and Shutdown are optional in the sense that a zero-value
// implementation (no-op) is acceptable; Rollback is optional and its
// absence is advertised via Capabilities.SupportsRollback.
type Adapter interface {
	Name() string
	Version() string
	SupportedActions() []model.Action

	Initialize(ctx context.Context, config map[string]interface{}) error

	// Execute performs action with params under mode. In dry-run mode
	// it must validate only and cause no external effect; in
	// simulation mode it must synthesize plausible output and cause
	// no external effect; in production mode it performs the action.
	Execute(ctx context.Context, action model.Action, params map[string]interface{}, mode Mode) (*Result, error)

	ValidateParameters(action model.Action, params map[string]interface{}) []ValidationError

	GetCapabilities() Capabilities

	HealthCheck(ctx context.Context) Health

	Shutdown(ctx context.Context) error
}

// RollbackCapable is implemented by adapters that support Rollback.
// Capabilities.SupportsRollback should report true iff an adapter
// also implements this interface.
type RollbackCapable interface {
	Rollback(ctx context.Context, action model.Action, params map[string]interface{}) (*Result, error)
}

// BaseAdapter provides no-op Initialize/Shutdown implementations so
// concrete adapters only need to implement what they actually use.
type BaseAdapter struct{}

func (BaseAdapter) Initialize(ctx context.Context, config map[string]interface{}) error { return nil }
func (BaseAdapter) Shutdown(ctx context.Context) error                                  { return nil }
