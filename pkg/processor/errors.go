package processor

import (
	"errors"
	"fmt"
)

// Stable error codes surfaced to clients.
const (
	CodeSourceUnreadable  = "source_unreadable"
	CodeDspFailure        = "dsp_failure"
	CodeOverloaded        = "overloaded"
	CodeTimeout           = "timeout"
	CodeCacheCorruption   = "cache_corruption"
	CodeProtocolViolation = "protocol_violation"
	CodeInternal          = "internal"
)

// Sentinel errors for the processor package.
var (
	// ErrSourceUnreadable indicates the raw track samples could not be read.
	ErrSourceUnreadable = errors.New("processor: source unreadable")

	// ErrDspFailure indicates the DSP engine rejected the chunk.
	ErrDspFailure = errors.New("processor: dsp failure")

	// ErrOverloaded indicates no processing capacity is available.
	ErrOverloaded = errors.New("processor: overloaded")

	// ErrTimeout indicates a chunk did not resolve within its deadline.
	ErrTimeout = errors.New("processor: timed out")
)

// ProcessingError wraps a chunk failure with a stable code and retry hint.
// The public Message never includes internal paths or stack detail.
type ProcessingError struct {
	// Code is the stable machine-readable identifier.
	Code string

	// Message is the human-readable public message.
	Message string

	// Retryable indicates the caller should back off and retry.
	Retryable bool

	// Cause is the underlying error, not exposed to clients.
	Cause error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("processor: [%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("processor: [%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ProcessingError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if the chunk request can be retried.
func (e *ProcessingError) IsRetryable() bool {
	return e.Retryable
}

// NewProcessingError creates a ProcessingError for a code.
func NewProcessingError(code, message string, retryable bool, cause error) *ProcessingError {
	return &ProcessingError{Code: code, Message: message, Retryable: retryable, Cause: cause}
}

// ErrorCode returns the stable code for an error, or "internal".
func ErrorCode(err error) string {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Code
	}
	switch {
	case errors.Is(err, ErrSourceUnreadable):
		return CodeSourceUnreadable
	case errors.Is(err, ErrDspFailure):
		return CodeDspFailure
	case errors.Is(err, ErrOverloaded):
		return CodeOverloaded
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	}
	return CodeInternal
}

// PublicMessage returns the client-safe message for an error. Wrapped causes
// may carry file paths and are never included.
func PublicMessage(err error) string {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.Message
	}
	switch {
	case errors.Is(err, ErrSourceUnreadable):
		return "source audio could not be read"
	case errors.Is(err, ErrDspFailure):
		return "audio processing failed"
	case errors.Is(err, ErrOverloaded):
		return "server is overloaded"
	case errors.Is(err, ErrTimeout):
		return "chunk request timed out"
	}
	return "internal error"
}

// IsRetryable returns true if the error should be retried with backoff.
func IsRetryable(err error) bool {
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return pe.IsRetryable()
	}
	return errors.Is(err, ErrOverloaded) || errors.Is(err, ErrTimeout)
}

// IsSourceUnreadable reports whether the failure is a fatal source read error.
func IsSourceUnreadable(err error) bool {
	return ErrorCode(err) == CodeSourceUnreadable
}
