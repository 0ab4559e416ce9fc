// Package types provides the error taxonomy shared by every gateway component.
// Components convert backend and filesystem failures into an *Error before
// the failure crosses into the HTTP layer.
package types

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a failure independently of where it happened
type ErrorKind string

const (
	ErrConfigInvalid      ErrorKind = "ConfigInvalid"
	ErrConfigNotFound     ErrorKind = "ConfigNotFound"
	ErrModelNotFound      ErrorKind = "ModelNotFound"
	ErrNoModelConfigured  ErrorKind = "NoModelConfigured"
	ErrBackendUnavailable ErrorKind = "BackendUnavailable"
	ErrBackendRejected    ErrorKind = "BackendRejected"
	ErrTimeout            ErrorKind = "Timeout"
	ErrNotSupported       ErrorKind = "NotSupported"
	ErrMissingCredential  ErrorKind = "MissingCredential"
	ErrInvalidCredential  ErrorKind = "InvalidCredential"
	ErrMalformedRequest   ErrorKind = "MalformedRequest"
	ErrDeleteFailed       ErrorKind = "DeleteFailed"
	ErrTaskNotFound       ErrorKind = "TaskNotFound"
	ErrRateLimited        ErrorKind = "RateLimited"
	ErrInternal           ErrorKind = "Internal"
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	return string(k)
}

// HTTPStatusCode returns the HTTP status used when the kind reaches a client
func (k ErrorKind) HTTPStatusCode() int {
	switch k {
	case ErrConfigInvalid, ErrMalformedRequest, ErrNotSupported:
		return http.StatusBadRequest
	case ErrConfigNotFound, ErrModelNotFound, ErrTaskNotFound:
		return http.StatusNotFound
	case ErrRateLimited:
		return http.StatusTooManyRequests
	case ErrBackendUnavailable, ErrBackendRejected, ErrInvalidCredential, ErrTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// DefaultSuggestion returns the operator hint attached to envelopes of this kind
func (k ErrorKind) DefaultSuggestion() string {
	switch k {
	case ErrBackendUnavailable:
		return "Make sure Ollama is running with 'ollama serve'"
	case ErrBackendRejected:
		return "Make sure Ollama is properly installed and the model is available"
	case ErrTimeout:
		return "The backend took too long to answer, try again or pick a smaller model"
	case ErrMissingCredential:
		return "Set GROQ_API_KEY (or AI_API_KEY) and restart the gateway"
	case ErrInvalidCredential:
		return "Check that the configured API key is valid and active"
	case ErrModelNotFound:
		return "Use GET /api/models to list the models the backend knows about"
	case ErrNoModelConfigured:
		return "Add at least one entry to aiProvider.availableModels"
	case ErrNotSupported:
		return "This operation is not available for the configured provider type"
	case ErrConfigInvalid:
		return "Fix the listed problems and save again"
	case ErrTaskNotFound:
		return "Use GET /api/models/pulls to list pull tasks"
	case ErrRateLimited:
		return "Wait a moment before sending another request"
	default:
		return ""
	}
}

// Error is the single error type crossing component boundaries
type Error struct {
	Kind       ErrorKind
	Message    string
	Suggestion string
	Details    []string

	// Status and Body are set for BackendRejected
	Status int
	Body   string

	Err error
}

// Error returns a formatted error message
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind
func New(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an error of the given kind around a cause
func Wrap(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Rejected creates a BackendRejected error carrying the upstream status and body
func Rejected(status int, body string) *Error {
	return &Error{
		Kind:    ErrBackendRejected,
		Message: fmt.Sprintf("backend returned HTTP %d", status),
		Status:  status,
		Body:    body,
	}
}

// Invalid creates a ConfigInvalid error carrying every violation
func Invalid(violations []string) *Error {
	return &Error{
		Kind:    ErrConfigInvalid,
		Message: "invalid configuration",
		Details: append([]string(nil), violations...),
	}
}

// WithSuggestion sets the operator hint and returns the error
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// AsError extracts an *Error from err, if any
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or Internal for foreign errors
func KindOf(err error) ErrorKind {
	if e, ok := AsError(err); ok {
		return e.Kind
	}
	return ErrInternal
}

// Is reports whether err carries the given kind
func Is(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// ErrorEnvelope is the JSON body of every failure response
type ErrorEnvelope struct {
	Error      string    `json:"error"`
	Kind       ErrorKind `json:"errorKind"`
	Suggestion string    `json:"suggestion,omitempty"`
	Details    []string  `json:"details,omitempty"`
	RequestID  string    `json:"requestId,omitempty"`
}

// NewEnvelope converts any error into an envelope. Foreign errors become
// Internal with their text as the message.
func NewEnvelope(err error, requestID string) *ErrorEnvelope {
	e, ok := AsError(err)
	if !ok {
		e = &Error{Kind: ErrInternal, Message: "internal error", Err: err}
	}

	env := &ErrorEnvelope{
		Error:      e.publicMessage(),
		Kind:       e.Kind,
		Suggestion: e.Suggestion,
		Details:    e.Details,
		RequestID:  requestID,
	}
	if env.Suggestion == "" {
		env.Suggestion = e.Kind.DefaultSuggestion()
	}
	if e.Kind == ErrBackendRejected && e.Body != "" && len(env.Details) == 0 {
		env.Details = []string{e.Body}
	}
	return env
}

func (e *Error) publicMessage() string {
	if e.Err != nil && e.Kind != ErrInternal {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}
