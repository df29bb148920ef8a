package dto

import (
	"net/http"
	"strings"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Request error codes
const (
	// ErrCodeValidation is used when request binding fails
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeInvalidJSON is used when the body is not valid JSON
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeMissingTenant is used when no usable tenant header was sent
	ErrCodeMissingTenant = "ERR_MISSING_TENANT"
	// ErrCodeRequestTooLarge is used when the body exceeds the size limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConcurrencyConflict is used when optimistic locking gave up
	ErrCodeConcurrencyConflict = "ERR_CONCURRENT_MODIFICATION"
	// ErrCodeLockNotAcquired is used when another worker holds the lock
	ErrCodeLockNotAcquired = "ERR_LOCK_NOT_ACQUIRED"
)

// Reconciliation error codes
const (
	// ErrCodeAlreadyAllocated is used when a payment has nothing left to allocate
	ErrCodeAlreadyAllocated = "ERR_ALREADY_ALLOCATED"
	// ErrCodeValidationFailed is used when the payment guard rejects a change
	ErrCodeValidationFailed = "ERR_VALIDATION_FAILED"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
	// ErrCodeInvalidReversal is used when an allocation cannot be reversed
	ErrCodeInvalidReversal = "ERR_INVALID_REVERSAL"
	// ErrCodeOverAllocation is used when an allocation exceeds what is owed
	ErrCodeOverAllocation = "ERR_OVER_ALLOCATION"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:      http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeMissingTenant:   http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,

	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeAlreadyExists:       http.StatusConflict,
	ErrCodeConcurrencyConflict: http.StatusConflict,
	ErrCodeLockNotAcquired:     http.StatusConflict,
	ErrCodeAlreadyAllocated:    http.StatusConflict,

	// Business rule errors -> 422 Unprocessable Entity
	ErrCodeValidationFailed: http.StatusUnprocessableEntity,
	ErrCodeInvalidState:     http.StatusUnprocessableEntity,
	ErrCodeInvalidReversal:  http.StatusUnprocessableEntity,
	ErrCodeOverAllocation:   http.StatusUnprocessableEntity,
}

// GetHTTPStatus returns the HTTP status code for an error code. Unlisted
// ERR_INVALID_* codes are input errors; anything else is a 500.
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	if strings.HasPrefix(code, "ERR_INVALID_") {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// NormalizeErrorCode converts a domain error code to the API format
func NormalizeErrorCode(code string) string {
	if code == "" {
		return ErrCodeInternal
	}
	if strings.HasPrefix(code, "ERR_") {
		return code
	}
	return "ERR_" + code
}
