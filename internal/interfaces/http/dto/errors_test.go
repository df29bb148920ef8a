package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeInvalidInput, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeAlreadyAllocated, http.StatusConflict},
		{ErrCodeConcurrencyConflict, http.StatusConflict},
		{ErrCodeValidationFailed, http.StatusUnprocessableEntity},
		{ErrCodeInvalidState, http.StatusUnprocessableEntity},
		{ErrCodeInvalidReversal, http.StatusUnprocessableEntity},
		// unlisted input errors
		{"ERR_INVALID_STRATEGY", http.StatusBadRequest},
		{"ERR_INVALID_MANUAL_ALLOCATION", http.StatusBadRequest},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestNormalizeErrorCode(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"NOT_FOUND", ErrCodeNotFound},
		{"ALREADY_ALLOCATED", ErrCodeAlreadyAllocated},
		{"CONCURRENT_MODIFICATION", ErrCodeConcurrencyConflict},
		{"VALIDATION_FAILED", ErrCodeValidationFailed},
		{"INVALID_STRATEGY", "ERR_INVALID_STRATEGY"},
		{ErrCodeNotFound, ErrCodeNotFound},
		{"", ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeErrorCode(tt.input))
		})
	}
}

func TestNewGuardErrorResponse(t *testing.T) {
	resp := NewGuardErrorResponse("validation failed", "req-1", []finance.Violation{{
		Rule:      finance.GuardRuleOutlierAmount,
		Message:   "too large",
		Threshold: decimal.NewFromInt(25000),
		Actual:    decimal.NewFromInt(33670),
	}})

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, false, decoded["success"])
	errInfo := decoded["error"].(map[string]any)
	assert.Equal(t, ErrCodeValidationFailed, errInfo["code"])
	assert.Equal(t, "req-1", errInfo["request_id"])
	violations := errInfo["violations"].([]any)
	require.Len(t, violations, 1)
	assert.Equal(t, "outlier_amount", violations[0].(map[string]any)["rule"])
	assert.Equal(t, "25000", violations[0].(map[string]any)["threshold"])
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "", []ValidationDetail{
		{Field: "payment_number", Message: "This field is required"},
	})

	assert.False(t, resp.Success)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "payment_number", resp.Error.Details[0].Field)
}
