package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors. Every AppError built by this package wraps exactly one of them,
// so callers can branch with errors.Is without knowing the concrete type.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrInternal       = errors.New("internal error")
	ErrUpstream       = errors.New("upstream service error")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrStore          = errors.New("store error")
)

// Error codes written to the "code" field of error responses.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInternal           = "INTERNAL_ERROR"
	CodeUpstream           = "UPSTREAM_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeStore              = "STORE_ERROR"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
)

const genericMessage = "an internal error occurred"

// AppError is an error with a client-facing code, message and HTTP status.
// Err keeps the cause for logs and errors.Is; it is never serialized.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// wrapCause joins sentinel with an optional label and cause.
func wrapCause(sentinel error, label string, cause error) error {
	switch {
	case cause == nil:
		return sentinel
	case label == "":
		return fmt.Errorf("%w: %w", sentinel, cause)
	default:
		return fmt.Errorf("%w: %s: %w", sentinel, label, cause)
	}
}

// NotFound reports a missing resource ("cart", "item", "product").
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with id %s not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// InvalidInput reports a malformed request. message is shown to the client.
func InvalidInput(message string) *AppError {
	return &AppError{Code: CodeInvalidInput, Message: message, Status: http.StatusBadRequest, Err: ErrInvalidInput}
}

// Internal reports an unexpected failure. The message never carries the cause.
func Internal(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: genericMessage,
		Status:  http.StatusInternalServerError,
		Err:     wrapCause(ErrInternal, "", err),
	}
}

// Upstream reports a failed call to a collaborating service (502).
func Upstream(service string, err error) *AppError {
	return &AppError{
		Code:    CodeUpstream,
		Message: service + " service request failed",
		Status:  http.StatusBadGateway,
		Err:     wrapCause(ErrUpstream, service, err),
	}
}

// ServiceUnavailable reports that a dependency is refusing work (503).
func ServiceUnavailable(message string) *AppError {
	return &AppError{Code: CodeServiceUnavailable, Message: message, Status: http.StatusServiceUnavailable, Err: ErrServiceUnavail}
}

// Unavailable is ServiceUnavailable for a named upstream, keeping err as the cause.
func Unavailable(service string, err error) *AppError {
	return &AppError{
		Code:    CodeServiceUnavailable,
		Message: service + " service is temporarily unavailable",
		Status:  http.StatusServiceUnavailable,
		Err:     wrapCause(ErrServiceUnavail, "", err),
	}
}

// Store reports a persistence failure of op. Clients only see the generic message.
func Store(op string, err error) *AppError {
	return &AppError{
		Code:    CodeStore,
		Message: genericMessage,
		Status:  http.StatusInternalServerError,
		Err:     wrapCause(ErrStore, op, err),
	}
}

// HTTPStatus returns the HTTP status for err, falling back to the sentinel it
// wraps and finally to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, ErrServiceUnavail):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
