package core

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Sentinel errors, classified into a stable taxonomy. Compare
// with errors.Is; wrap with EngineError for operation context.
var (
	// Validation
	ErrPlaybookInvalid  = errors.New("playbook validation failed")
	ErrParametersInvalid = errors.New("parameter validation failed")

	// Policy
	ErrPolicyDenied = errors.New("policy denied action")

	// Adapter
	ErrAdapterNotFound     = errors.New("adapter not found")
	ErrAdapterAlreadyExists = errors.New("adapter already registered")
	ErrAdapterTimeout      = errors.New("adapter call timed out")
	ErrCircuitOpen         = errors.New("circuit breaker open")

	// Execution / state machine
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrInvalidTransition  = errors.New("illegal state transition")
	ErrExecutionTimeout   = errors.New("execution timed out")
	ErrExecutionCancelled = errors.New("execution cancelled")

	// Approval
	ErrApprovalDenied  = errors.New("approval denied")
	ErrApprovalExpired = errors.New("approval expired")

	// Store / audit
	ErrChainBroken  = errors.New("audit hash chain broken")
	ErrNotFound     = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")

	// LLM (advisory only, never affects control flow)
	ErrLLMUnavailable = errors.New("llm unavailable")
)

// Component attribution ("every error is attributed to
// the component that produced it").
type Component string

const (
	ComponentAdapter Component = "adapter"
	ComponentEngine  Component = "engine"
	ComponentIngest  Component = "ingest"
	ComponentPolicy  Component = "policy"
)

// EngineError carries an operation, owning component, optional entity
// id, and a wrapped cause.
type EngineError struct {
	Op        string
	Component Component
	ID        string
	Message   string
	Err       error
}

func (e *EngineError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil && e.ID != "":
		return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s error", e.Component)
	}
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError wraps err with operation/component context.
func NewEngineError(op string, component Component, err error) *EngineError {
	return &EngineError{Op: op, Component: component, Err: err}
}

// WithEntity attaches the id of the entity the operation acted on and
// returns the same error for chaining.
func (e *EngineError) WithEntity(id string) *EngineError {
	e.ID = id
	return e
}

// IsRetryable reports whether err is a transient condition worth
// retrying at the adapter layer.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrAdapterTimeout) || errors.Is(err, ErrCircuitOpen)
}

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrExecutionNotFound) || errors.Is(err, ErrAdapterNotFound)
}

// IsStateError reports whether err is a state-machine violation.
func IsStateError(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

var (
	stackFrameRE = regexp.MustCompile(`(?m)^\s*(/[^\s]+\.go:\d+.*|goroutine \d+.*)$`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// Sanitize strips file paths and stack-frame lines from an internal
// error message and collapses whitespace, for the user-facing surface.
// Audit records keep the unsanitized error.
func Sanitize(msg string) string {
	msg = stackFrameRE.ReplaceAllString(msg, "")
	msg = whitespaceRE.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
}
