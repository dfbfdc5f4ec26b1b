package errors

import "fmt"

// AppError is an error with a code, the HTTP status the API answers with
// and whether a retry may succeed.
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Retryable  bool           `json:"retryable"`
	HTTPStatus int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error { return e.Cause }

// IsRetryable lets resilience.RetryableOnly see the Retryable flag.
func (e *AppError) IsRetryable() bool { return e.Retryable }

// WithCause sets Cause and returns e.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail sets one detail and returns e.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any, 1)
	}
	e.Details[key] = value
	return e
}

// Of builds an error with the status and retryability registered for code.
func Of(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: StatusFor(code), Retryable: IsRetryableCode(code)}
}

// New builds an error answering with an explicit status.
func New(code ErrorCode, message string, httpStatus int) *AppError {
	e := Of(code, message)
	e.HTTPStatus = httpStatus
	return e
}

func ServiceUnavailable(service string) *AppError {
	return Of(ErrCodeServiceUnavailable, fmt.Sprintf("The %s is temporarily unavailable.", service)).
		WithDetail("service", service)
}

func ConnectionFailed(service string) *AppError {
	return Of(ErrCodeConnectionFailed, fmt.Sprintf("Unable to connect to %s.", service)).
		WithDetail("service", service)
}

// RateLimited reports a caller over its per-minute budget.
func RateLimited(perMinute int) *AppError {
	return Of(ErrCodeRateLimited, "Too many requests. Please slow down.").
		WithDetail("limit_per_minute", perMinute)
}

// NotFound omits the id detail when id is empty.
func NotFound(resource, id string) *AppError {
	e := Of(ErrCodeNotFound, fmt.Sprintf("The requested %s was not found.", resource)).
		WithDetail("resource", resource)
	if id != "" {
		e.WithDetail("id", id)
	}
	return e
}

func AlreadyExists(resource string) *AppError {
	return Of(ErrCodeAlreadyExists, fmt.Sprintf("A %s with these details already exists.", resource)).
		WithDetail("resource", resource)
}

func Conflict(reason string) *AppError {
	return Of(ErrCodeConflict, reason)
}

// InvalidInput names the offending field when field is not empty.
func InvalidInput(field, reason string) *AppError {
	e := Of(ErrCodeInvalidInput, "Invalid input: "+reason)
	if field != "" {
		e.WithDetail("field", field)
	}
	return e
}

func Validation(message string) *AppError {
	return Of(ErrCodeInvalidInput, message)
}

func MissingField(field string) *AppError {
	return Of(ErrCodeMissingField, "Missing required field: "+field).WithDetail("field", field)
}

func InvalidFormat(field, expected string) *AppError {
	return Of(ErrCodeInvalidFormat, fmt.Sprintf("Invalid format for %s, expected %s.", field, expected)).
		WithDetail("field", field).
		WithDetail("expected_format", expected)
}

// CacheUnavailable reports a cache index that could not be read or written.
func CacheUnavailable(index string, cause error) *AppError {
	return Of(ErrCodeCacheUnavailable, fmt.Sprintf("The %s cache index is unavailable.", index)).
		WithDetail("backend", index).
		WithCause(cause)
}

func ExecutionFailed(step string, cause error) *AppError {
	return Of(ErrCodeExecutionFailed, fmt.Sprintf("Step %s failed.", step)).
		WithDetail("step", step).
		WithCause(cause)
}

// Cancelled reports that what, e.g. "Run r-1", was cancelled.
func Cancelled(what string) *AppError {
	return Of(ErrCodeCancelled, what+" was cancelled.")
}

func Internal(cause error) *AppError {
	return Of(ErrCodeInternal, "An unexpected error occurred.").WithCause(cause)
}

func DatabaseError(cause error) *AppError {
	return Of(ErrCodeDatabaseError, "A database error occurred.").WithCause(cause)
}

func ExternalServiceError(service string, cause error) *AppError {
	return Of(ErrCodeExternalService, fmt.Sprintf("The %s service returned an error.", service)).
		WithDetail("service", service).
		WithCause(cause)
}
