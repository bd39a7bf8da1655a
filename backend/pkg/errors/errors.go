package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorType represents the category of error
type ErrorType string

const (
	// ErrorTypeAdmission represents failures that prevent a session from being created
	ErrorTypeAdmission ErrorType = "admission"
	// ErrorTypeUpstream represents upstream provider connection failures
	ErrorTypeUpstream ErrorType = "upstream"
	// ErrorTypeTransient represents per-message failures that a session survives
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypePersistence represents Persistence Gateway failures
	ErrorTypePersistence ErrorType = "persistence"
	// ErrorTypeConfig represents configuration errors
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeContext represents context cancellation/timeout errors
	ErrorTypeContext ErrorType = "context"
)

// Websocket close codes used for terminal failures.
const (
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
)

// BaseError is the base error type with common fields
type BaseError struct {
	Type      ErrorType
	Message   string
	Timestamp time.Time
	Err       error // Wrapped error
}

// Error implements the error interface
func (e *BaseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the wrapped error for error unwrapping
func (e *BaseError) Unwrap() error {
	return e.Err
}

// Base returns the error itself; embedding types inherit it so helpers can
// reach the category without knowing the concrete type.
func (e *BaseError) Base() *BaseError {
	return e
}

// NewBaseError creates a new base error
func NewBaseError(errType ErrorType, message string, err error) *BaseError {
	return &BaseError{
		Type:      errType,
		Message:   message,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// Admission Errors

// ErrAdmissionDenied is returned when a connection cannot become a session.
// Reason is human readable and is sent to the client as the close reason.
type ErrAdmissionDenied struct {
	*BaseError
	Reason    string
	CloseCode int
}

func NewAdmissionDenied(reason string, closeCode int, err error) *ErrAdmissionDenied {
	return &ErrAdmissionDenied{
		BaseError: NewBaseError(ErrorTypeAdmission, reason, err),
		Reason:    reason,
		CloseCode: closeCode,
	}
}

// NewAuthenticationRequired is returned when no bearer credential was supplied
func NewAuthenticationRequired() *ErrAdmissionDenied {
	return NewAdmissionDenied("Authentication required", ClosePolicyViolation, nil)
}

// NewAuthenticationFailed is returned when the bearer credential is invalid
func NewAuthenticationFailed(err error) *ErrAdmissionDenied {
	return NewAdmissionDenied("Authentication failed", ClosePolicyViolation, err)
}

// NewMissingProviderKey is returned when no upstream API key is configured
func NewMissingProviderKey() *ErrAdmissionDenied {
	return NewAdmissionDenied("Google API Key not configured", CloseInternalError, nil)
}

// Upstream Errors

// ErrUpstreamConnectFailed is returned when the provider connection cannot be established
type ErrUpstreamConnectFailed struct {
	*BaseError
	URL string
}

func NewUpstreamConnectFailed(url string, err error) *ErrUpstreamConnectFailed {
	return &ErrUpstreamConnectFailed{
		BaseError: NewBaseError(ErrorTypeUpstream, "failed to connect to upstream provider", err),
		URL:       url,
	}
}

// ErrUpstreamNotReady is returned when a frame is sent before the adapter is connected
var ErrUpstreamNotReady = NewBaseError(ErrorTypeTransient, "upstream adapter not ready", nil)

// ErrUpstreamClosed is returned when sending on an adapter that has been disconnected
var ErrUpstreamClosed = NewBaseError(ErrorTypeTransient, "upstream adapter closed", nil)

// Transient Errors

// ErrMalformedFrame is returned when a client or upstream frame cannot be decoded
type ErrMalformedFrame struct {
	*BaseError
	Source string
}

func NewMalformedFrame(source string, err error) *ErrMalformedFrame {
	return &ErrMalformedFrame{
		BaseError: NewBaseError(ErrorTypeTransient, fmt.Sprintf("malformed %s frame", source), err),
		Source:    source,
	}
}

// NewRefinementFailed wraps a failed transcript correction call
func NewRefinementFailed(err error) *BaseError {
	return NewBaseError(ErrorTypeTransient, "transcript refinement failed", err)
}

// NewReportFailed wraps a failed report generation call
func NewReportFailed(err error) *BaseError {
	return NewBaseError(ErrorTypeTransient, "report generation failed", err)
}

// Persistence Errors

// ErrPersistenceFailed is returned when a Persistence Gateway call fails
type ErrPersistenceFailed struct {
	*BaseError
	Operation string
}

func NewPersistenceFailed(operation string, err error) *ErrPersistenceFailed {
	return &ErrPersistenceFailed{
		BaseError: NewBaseError(ErrorTypePersistence, fmt.Sprintf("persistence failed: %s", operation), err),
		Operation: operation,
	}
}

// Context Errors

// ErrContextTimeout is returned when context times out
type ErrContextTimeout struct {
	*BaseError
	Operation string
	Timeout   time.Duration
}

func NewContextTimeout(operation string, timeout time.Duration) *ErrContextTimeout {
	return &ErrContextTimeout{
		BaseError: NewBaseError(ErrorTypeContext, fmt.Sprintf("context timeout: %s (timeout: %v)", operation, timeout), nil),
		Operation: operation,
		Timeout:   timeout,
	}
}

// Config Errors

// ErrConfigValidationFailed is returned when configuration validation fails
type ErrConfigValidationFailed struct {
	*BaseError
	Field  string
	Reason string
}

func NewConfigValidationFailed(field, reason string) *ErrConfigValidationFailed {
	return &ErrConfigValidationFailed{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("config validation failed: %s - %s", field, reason), nil),
		Field:     field,
		Reason:    reason,
	}
}

// ErrConfigMissingRequired is returned when a required config value is missing
type ErrConfigMissingRequired struct {
	*BaseError
	Field string
}

func NewConfigMissingRequired(field string) *ErrConfigMissingRequired {
	return &ErrConfigMissingRequired{
		BaseError: NewBaseError(ErrorTypeConfig, fmt.Sprintf("missing required config: %s", field), nil),
		Field:     field,
	}
}

// Helper functions

// IsErrorType checks if an error, or anything it wraps, is of a specific type
func IsErrorType(err error, errType ErrorType) bool {
	for err != nil {
		if b, ok := err.(interface{ Base() *BaseError }); ok {
			base := b.Base()
			if base.Type == errType {
				return true
			}
			err = base.Err
			continue
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsTerminal reports whether err must end the session. Only admission and
// upstream connection failures do; everything else degrades gracefully.
func IsTerminal(err error) bool {
	return IsErrorType(err, ErrorTypeAdmission) || IsErrorType(err, ErrorTypeUpstream)
}

// CloseCode returns the websocket close code and reason for a terminal error.
func CloseCode(err error) (int, string) {
	var denied *ErrAdmissionDenied
	if errors.As(err, &denied) {
		return denied.CloseCode, denied.Reason
	}
	var upstream *ErrUpstreamConnectFailed
	if errors.As(err, &upstream) {
		return CloseInternalError, upstream.Message
	}
	return CloseInternalError, "Internal server error"
}
