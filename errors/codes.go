package errors

import "net/http"

// ErrorCode is the machine-readable kind of an AppError.
type ErrorCode string

// Availability.
const (
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeConnectionFailed   ErrorCode = "CONNECTION_FAILED"
	ErrCodeCacheUnavailable   ErrorCode = "CACHE_UNAVAILABLE"
	ErrCodeRateLimited        ErrorCode = "RATE_LIMITED"
)

// Resources.
const (
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeAlreadyExists ErrorCode = "ALREADY_EXISTS"
	ErrCodeConflict      ErrorCode = "CONFLICT"
)

// Request validation.
const (
	ErrCodeInvalidInput  ErrorCode = "INVALID_INPUT"
	ErrCodeMissingField  ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidFormat ErrorCode = "INVALID_FORMAT"
)

// Pipeline compilation.
const (
	ErrCodeUnknownReference  ErrorCode = "UNKNOWN_REFERENCE"
	ErrCodeCycleDetected     ErrorCode = "CYCLE_DETECTED"
	ErrCodeDuplicateStepName ErrorCode = "DUPLICATE_STEP_NAME"
	ErrCodeInvalidStep       ErrorCode = "INVALID_STEP"
)

// Execution.
const (
	ErrCodeExecutionFailed ErrorCode = "EXECUTION_FAILED"
	ErrCodeCancelled       ErrorCode = "CANCELLED"
)

// Internal.
const (
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeExternalService ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

type codeInfo struct {
	status    int
	retryable bool
}

var codes = map[ErrorCode]codeInfo{
	ErrCodeServiceUnavailable: {http.StatusServiceUnavailable, true},
	ErrCodeConnectionFailed:   {http.StatusServiceUnavailable, true},
	ErrCodeCacheUnavailable:   {http.StatusServiceUnavailable, true},
	ErrCodeRateLimited:        {http.StatusTooManyRequests, true},
	ErrCodeNotFound:           {http.StatusNotFound, false},
	ErrCodeAlreadyExists:      {http.StatusConflict, false},
	ErrCodeConflict:           {http.StatusConflict, false},
	ErrCodeInvalidInput:       {http.StatusBadRequest, false},
	ErrCodeMissingField:       {http.StatusBadRequest, false},
	ErrCodeInvalidFormat:      {http.StatusBadRequest, false},
	ErrCodeUnknownReference:   {http.StatusUnprocessableEntity, false},
	ErrCodeCycleDetected:      {http.StatusUnprocessableEntity, false},
	ErrCodeDuplicateStepName:  {http.StatusUnprocessableEntity, false},
	ErrCodeInvalidStep:        {http.StatusBadRequest, false},
	ErrCodeExecutionFailed:    {http.StatusInternalServerError, false},
	ErrCodeCancelled:          {http.StatusConflict, false},
	ErrCodeInternal:           {http.StatusInternalServerError, false},
	ErrCodeDatabaseError:      {http.StatusInternalServerError, true},
	ErrCodeExternalService:    {http.StatusBadGateway, true},
}

// IsRetryableCode reports whether errors of code may succeed when retried.
func IsRetryableCode(code ErrorCode) bool {
	return codes[code].retryable
}

// StatusFor is the HTTP status for code, 500 for unknown codes.
func StatusFor(code ErrorCode) int {
	if info, ok := codes[code]; ok {
		return info.status
	}
	return http.StatusInternalServerError
}
