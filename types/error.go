package types

import "fmt"

// ErrorCode represents a unified error code across the framework.
type ErrorCode string

// Gateway error codes
const (
	ErrGatewayTimeout     ErrorCode = "GATEWAY_TIMEOUT"
	ErrGatewayRateLimited ErrorCode = "GATEWAY_RATE_LIMITED"
	ErrGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
	ErrParseError         ErrorCode = "PARSE_ERROR"
)

// Scheduler error codes
const (
	ErrDecisionUnavailable  ErrorCode = "DECISION_UNAVAILABLE"
	ErrInvalidNextSpeaker   ErrorCode = "INVALID_NEXT_SPEAKER"
	ErrStagnationCheck      ErrorCode = "STAGNATION_CHECK_FAILED"
	ErrRunCancelled         ErrorCode = "RUN_CANCELLED"
	ErrConclusionIncomplete ErrorCode = "CONCLUSION_INCOMPLETE"
)

// Configuration error codes (fatal, surfaced before a run starts)
const (
	ErrInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrEmptyRoster   ErrorCode = "EMPTY_ROSTER"
)

// Checkpoint error codes
const (
	ErrCheckpointSave     ErrorCode = "CHECKPOINT_SAVE_FAILED"
	ErrCheckpointLoad     ErrorCode = "CHECKPOINT_LOAD_FAILED"
	ErrCheckpointNotFound ErrorCode = "CHECKPOINT_NOT_FOUND"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Agent     AgentID   `json:"agent,omitempty"`
	Cause     error     `json:"-"`
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
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithAgent attributes the error to an agent.
func (e *Error) WithAgent(agent AgentID) *Error {
	e.Agent = agent
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
