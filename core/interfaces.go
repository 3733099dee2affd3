// Package core holds the shared abstractions used across the engine:
// logging, telemetry, and error classification. Every other package
// depends on core; core depends on nothing else in this module.
package core

import (
	"context"
	"time"
)

// Logger is the minimal structured-logging interface every component
// accepts. A nil Logger is never passed around; NoOpLogger is the safe
// default.
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})

	InfoWithContext(ctx context.Context, msg string, fields map[string]interface{})
	WarnWithContext(ctx context.Context, msg string, fields map[string]interface{})
	ErrorWithContext(ctx context.Context, msg string, fields map[string]interface{})
	DebugWithContext(ctx context.Context, msg string, fields map[string]interface{})
}

// NoOpLogger discards everything. Used as the default for components
// that accept an optional logger.
type NoOpLogger struct{}

func (NoOpLogger) Info(string, map[string]interface{})  {}
func (NoOpLogger) Warn(string, map[string]interface{})  {}
func (NoOpLogger) Error(string, map[string]interface{}) {}
func (NoOpLogger) Debug(string, map[string]interface{}) {}

func (NoOpLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (NoOpLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (NoOpLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}

// Telemetry is optional span/metric emission. Every caller must
// nil-check before use; there is no NoOp implementation because most
// callers simply skip telemetry when it is nil.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span represents one telemetry span.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// AIClient is the optional LLM hook used for advisory runbook
// suggestion and execution summarization. Nothing in the engine
// requires one; every caller treats a nil AIClient or a returned error
// as "no suggestion available" rather than a failure.
type AIClient interface {
	GenerateResponse(ctx context.Context, prompt string, options *AIOptions) (*AIResponse, error)
}

// AIOptions configures one GenerateResponse call.
type AIOptions struct {
	Model        string
	SystemPrompt string
	Temperature  float64
	MaxTokens    int
}

// AIResponse is the text and usage accounting from one GenerateResponse call.
type AIResponse struct {
	Content string
	Model   string
	Usage   TokenUsage
}

// TokenUsage reports token accounting for one AI call.
type TokenUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CircuitBreaker protects an adapter call from cascading failures.
// Implementations must be safe for concurrent use.
type CircuitBreaker interface {
	Execute(ctx context.Context, fn func() error) error
	ExecuteWithTimeout(ctx context.Context, timeout time.Duration, fn func() error) error
	State() string
	CanExecute() bool
	Reset()
	Metrics() map[string]interface{}
}
