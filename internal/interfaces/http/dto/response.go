package dto

import "github.com/erp/reconciliation/internal/domain/finance"

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code       string              `json:"code"`
	Message    string              `json:"message"`
	RequestID  string              `json:"request_id,omitempty"`
	Details    []ValidationDetail  `json:"details,omitempty"`
	Violations []finance.Violation `json:"violations,omitempty"`
}

// ValidationDetail names one request field that failed binding
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message, requestID string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:      code,
			Message:   message,
			RequestID: requestID,
		},
	}
}

// NewValidationErrorResponse creates a request validation error response
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	resp := NewErrorResponse(ErrCodeValidation, message, requestID)
	resp.Error.Details = details
	return resp
}

// NewGuardErrorResponse creates a response for a change the payment guard
// rejected, carrying the violated thresholds
func NewGuardErrorResponse(message, requestID string, violations []finance.Violation) Response {
	resp := NewErrorResponse(ErrCodeValidationFailed, message, requestID)
	resp.Error.Violations = violations
	return resp
}
