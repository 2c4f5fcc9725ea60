package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass classifies an execution-level failure for recovery purposes.
type ErrorClass string

const (
	// ClassTransient covers network, timeout and rate-limit failures from an
	// agent's external call. Transient errors are the only class retried
	// automatically.
	ClassTransient ErrorClass = "transient"
	// ClassValidation covers output that fails a subtask's declared schema.
	// Never retried.
	ClassValidation ErrorClass = "validation"
	// ClassDependency covers a required input variable that was never
	// produced. Skipped or aborted per strategy.
	ClassDependency ErrorClass = "dependency"
	// ClassFatal covers resource exhaustion and permission denial. Aborts the
	// entire execution immediately.
	ClassFatal ErrorClass = "fatal"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Execution-level error codes
const (
	ErrTimeout           ErrorCode = "TIMEOUT"
	ErrRateLimited       ErrorCode = "RATE_LIMITED"
	ErrUpstreamError     ErrorCode = "UPSTREAM_ERROR"
	ErrSchemaMismatch    ErrorCode = "SCHEMA_MISMATCH"
	ErrMissingInput      ErrorCode = "MISSING_INPUT"
	ErrResourceExhausted ErrorCode = "RESOURCE_EXHAUSTED"
	ErrPermissionDenied  ErrorCode = "PERMISSION_DENIED"
	ErrInternalError     ErrorCode = "INTERNAL_ERROR"
)

// Chain-level error codes. These indicate a structural or configuration
// problem, never a transient fault, and terminate a swarm session.
const (
	ErrUnknownTarget   ErrorCode = "UNKNOWN_TARGET"
	ErrDepthExceeded   ErrorCode = "DEPTH_EXCEEDED"
	ErrCircularHandoff ErrorCode = "CIRCULAR_HANDOFF"
)

// Registry error codes
const (
	ErrAgentNotFound ErrorCode = "AGENT_NOT_FOUND"
	ErrDescriptorBad ErrorCode = "DESCRIPTOR_PARSE"
)

// Error represents a structured error with class, code and metadata.
type Error struct {
	Class     ErrorClass `json:"class,omitempty"`
	Code      ErrorCode  `json:"code"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable"`
	AgentID   string     `json:"agent_id,omitempty"`
	Cause     error      `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Class: classOf(code)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithClass overrides the error class.
func (e *Error) WithClass(class ErrorClass) *Error {
	e.Class = class
	e.Retryable = class == ClassTransient
	return e
}

// WithAgent records the originating agent id.
func (e *Error) WithAgent(agentID string) *Error {
	e.AgentID = agentID
	return e
}

// classOf maps an error code to its default class.
func classOf(code ErrorCode) ErrorClass {
	switch code {
	case ErrTimeout, ErrRateLimited, ErrUpstreamError:
		return ClassTransient
	case ErrSchemaMismatch:
		return ClassValidation
	case ErrMissingInput:
		return ClassDependency
	case ErrResourceExhausted, ErrPermissionDenied:
		return ClassFatal
	case ErrUnknownTarget, ErrDepthExceeded, ErrCircularHandoff, ErrAgentNotFound, ErrDescriptorBad:
		return ClassFatal
	default:
		return ""
	}
}

// Classify resolves the error class of an arbitrary error. Structured errors
// carry their class; context timeouts are transient; everything else is
// treated as transient so the recovery layer can decide how far to retry.
func Classify(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Class != "" {
		return e.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	return ClassTransient
}

// IsRetryable reports whether the error should be retried automatically.
func IsRetryable(err error) bool {
	return Classify(err) == ClassTransient
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
