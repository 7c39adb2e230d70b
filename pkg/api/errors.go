package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a degraded-but-non-fatal engine outcome.
type ErrorKind string

const (
	// KindStateNotFound: read or update against a session with no record.
	KindStateNotFound ErrorKind = "state_not_found"

	// KindStorageFailure: the storage provider returned an error.
	KindStorageFailure ErrorKind = "storage_failure"

	// KindConfigInconsistency: the persisted active step is missing from
	// the supplied config.
	KindConfigInconsistency ErrorKind = "config_inconsistency"

	// KindSequenceViolation: a tool was invoked out of its declared order.
	KindSequenceViolation ErrorKind = "sequence_violation"

	// KindUnsupportedCondition: a condition type the engine does not know.
	KindUnsupportedCondition ErrorKind = "unsupported_condition"
)

// Error is an engine error. Engine operations never panic or abort the
// calling conversation; they return an *Error so callers can decide how
// to degrade.
type Error struct {
	Kind      ErrorKind
	SessionID string
	Message   string
	Err       error
}

// Sentinels for errors.Is. Matching compares Kind only.
var (
	ErrStateNotFound        = &Error{Kind: KindStateNotFound}
	ErrStorageFailure       = &Error{Kind: KindStorageFailure}
	ErrConfigInconsistency  = &Error{Kind: KindConfigInconsistency}
	ErrSequenceViolation    = &Error{Kind: KindSequenceViolation}
	ErrUnsupportedCondition = &Error{Kind: KindUnsupportedCondition}
)

// NewError creates an engine error of the given kind.
func NewError(kind ErrorKind, sessionID, message string, cause error) *Error {
	return &Error{Kind: kind, SessionID: sessionID, Message: message, Err: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.SessionID != "" {
		msg += fmt.Sprintf(" (session: %s)", e.SessionID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// KindOf returns the ErrorKind of err, or "" if err is not an engine error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// ErrorType represents the category of an HTTP API error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeUnauthenticated ErrorType = "unauthenticated"
	ErrorTypeConflict        ErrorType = "conflict"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
)

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError creates an APIError for invalid request parameters.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeInvalidRequest,
		Param:   param,
		Message: message,
	}
}

// NewNotFoundError creates an APIError for resources that cannot be found.
func NewNotFoundError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewServerError creates an APIError for internal server errors.
func NewServerError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeServerError,
		Message: message,
	}
}

// NewUnauthenticatedError creates an APIError for missing or invalid credentials.
func NewUnauthenticatedError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeUnauthenticated,
		Message: message,
	}
}

// NewTooManyRequestsError creates an APIError for rate-limited callers.
func NewTooManyRequestsError(message string) *APIError {
	return &APIError{
		Type:    ErrorTypeTooManyRequests,
		Message: message,
	}
}

// NewConflictError creates an APIError for a request that conflicts with
// the current state, such as an out-of-sequence tool call.
func NewConflictError(code, message string) *APIError {
	return &APIError{
		Type:    ErrorTypeConflict,
		Code:    code,
		Message: message,
	}
}

// FromError converts an engine error into an APIError.
func FromError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch KindOf(err) {
	case KindStateNotFound:
		return NewNotFoundError(err.Error())
	case KindSequenceViolation:
		return NewConflictError(string(KindSequenceViolation), err.Error())
	default:
		return NewServerError(err.Error())
	}
}
