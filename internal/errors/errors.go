package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"

	// Validation
	ErrCodeValidation       ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingParameter ErrorCode = "MISSING_PARAMETER"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Handshake
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"
	ErrCodeNoPageFound  ErrorCode = "NO_PAGE_FOUND"

	// Credentials
	ErrCodeNotConnected ErrorCode = "NOT_CONNECTED"

	// Provider upstream
	ErrCodeProviderExchangeFailed ErrorCode = "PROVIDER_EXCHANGE_FAILED"
	ErrCodeProviderRefreshFailed  ErrorCode = "PROVIDER_REFRESH_FAILED"
	ErrCodeRateLimited            ErrorCode = "RATE_LIMITED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabase ErrorCode = "DATABASE_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingParameter(field string) *AppError {
	return New(ErrCodeMissingParameter, fmt.Sprintf("%s is required", field))
}

// InvalidState marks a handshake callback whose state token is unknown,
// already consumed or bound to a different provider. Never retried.
func InvalidState() *AppError {
	return New(ErrCodeInvalidState, "Invalid or expired OAuth state")
}

// NoPageFound marks an Instagram/Facebook handshake where the granted account
// has no eligible page or business account. Terminal; requires user action.
func NoPageFound(provider string) *AppError {
	return New(ErrCodeNoPageFound, fmt.Sprintf("No eligible %s page found for this account", provider))
}

func NotConnected(provider string) *AppError {
	return New(ErrCodeNotConnected, fmt.Sprintf("No %s account connected", provider))
}

func ProviderExchangeFailed(provider string, cause error) *AppError {
	return Wrap(ErrCodeProviderExchangeFailed, fmt.Sprintf("%s code exchange failed", provider), cause)
}

func ProviderRefreshFailed(provider string, cause error) *AppError {
	return Wrap(ErrCodeProviderRefreshFailed, fmt.Sprintf("%s token refresh failed", provider), cause)
}

// RateLimited carries a retry-after hint in seconds as details.
func RateLimited(retryAfterSeconds int) *AppError {
	return New(ErrCodeRateLimited, "Rate limit exceeded").
		WithDetails(map[string]int{"retryAfterSeconds": retryAfterSeconds})
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Database(cause error) *AppError {
	return Wrap(ErrCodeDatabase, "Database error", cause)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}
