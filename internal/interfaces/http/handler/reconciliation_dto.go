package handler

import (
	"strings"
	"time"

	"github.com/erp/reconciliation/internal/application/reconciliation"
	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// parseDate accepts a calendar date or an RFC 3339 timestamp
func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(dateLayout, value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, shared.NewDomainErrorf(shared.ErrInvalidInput.Code, "%s must be a date (YYYY-MM-DD)", field)
	}
	return t.UTC(), nil
}

// RecordPaymentRequest is the body of a payment recording or validation
type RecordPaymentRequest struct {
	CustomerID    string          `json:"customer_id" binding:"required,uuid"`
	PaymentNumber string          `json:"payment_number" binding:"required,max=50"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency" binding:"required,len=3"`
	PaymentDate   string          `json:"payment_date" binding:"required"`
	Reference     string          `json:"reference" binding:"max=100"`
	TargetType    string          `json:"target_type" binding:"omitempty,oneof=invoice contract"`
	TargetID      string          `json:"target_id" binding:"omitempty,uuid"`
}

// MatchPaymentRequest is the body of a manual link
type MatchPaymentRequest struct {
	TargetType string `json:"target_type" binding:"required,oneof=invoice contract"`
	TargetID   string `json:"target_id" binding:"required,uuid"`
}

// ReasonRequest carries an optional free-text reason
type ReasonRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// ManualAllocationItem is one caller-chosen allocation
type ManualAllocationItem struct {
	ObligationID string          `json:"obligation_id" binding:"required,uuid"`
	Amount       decimal.Decimal `json:"amount"`
}

// AllocatePaymentRequest is the body of an allocation
type AllocatePaymentRequest struct {
	Strategy          string                 `json:"strategy" binding:"omitempty,oneof=fifo nearest_due highest_interest manual"`
	ManualAllocations []ManualAllocationItem `json:"manual_allocations" binding:"omitempty,dive"`
}

// CreateObligationRequest is the body of an obligation creation
type CreateObligationRequest struct {
	ObligationNumber string          `json:"obligation_number" binding:"required,max=50"`
	Type             string          `json:"type" binding:"omitempty,oneof=installment deposit fee penalty insurance"`
	Amount           decimal.Decimal `json:"amount"`
	DueDate          string          `json:"due_date"`
}

// PaymentResponse represents a payment in API responses
type PaymentResponse struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	CustomerID        string          `json:"customer_id"`
	PaymentNumber     string          `json:"payment_number"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	PaymentDate       string          `json:"payment_date"`
	Reference         string          `json:"reference,omitempty"`
	TargetType        string          `json:"target_type,omitempty"`
	TargetID          string          `json:"target_id,omitempty"`
	AllocatedAmount   decimal.Decimal `json:"allocated_amount"`
	CreditedAmount    decimal.Decimal `json:"credited_amount"`
	AllocationStatus  string          `json:"allocation_status"`
	ProcessingStatus  string          `json:"processing_status"`
	LinkingConfidence int             `json:"linking_confidence"`
	LinkedAt          *time.Time      `json:"linked_at,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	Version           int             `json:"version"`
}

func toPaymentResponse(p *finance.Payment) PaymentResponse {
	resp := PaymentResponse{
		ID:                p.ID.String(),
		TenantID:          p.TenantID.String(),
		CustomerID:        p.CustomerID.String(),
		PaymentNumber:     p.PaymentNumber,
		Amount:            p.Amount,
		Currency:          p.Currency,
		PaymentDate:       p.PaymentDate.Format(dateLayout),
		Reference:         p.Reference,
		AllocatedAmount:   p.AllocatedAmount,
		CreditedAmount:    p.CreditedAmount,
		AllocationStatus:  p.AllocationStatus.String(),
		ProcessingStatus:  p.ProcessingStatus.String(),
		LinkingConfidence: p.LinkingConfidence,
		LinkedAt:          p.LinkedAt,
		Notes:             p.Notes,
		Version:           p.Version,
	}
	if !p.Target.IsNone() {
		resp.TargetType = p.Target.Type().String()
		resp.TargetID = p.Target.ID().String()
	}
	return resp
}

// RecordPaymentResponse is a stored payment with the guard's warnings
type RecordPaymentResponse struct {
	Payment  PaymentResponse     `json:"payment"`
	Warnings []finance.Violation `json:"warnings,omitempty"`
}

// ValidationResponse is the guard's verdict on a prospective payment
type ValidationResponse struct {
	Valid      bool                `json:"valid"`
	Violations []finance.Violation `json:"violations"`
	Warnings   []finance.Violation `json:"warnings"`
}

func toValidationResponse(r finance.ValidationReport) ValidationResponse {
	resp := ValidationResponse{
		Valid:      r.OK(),
		Violations: r.Violations,
		Warnings:   r.Warnings,
	}
	if resp.Violations == nil {
		resp.Violations = []finance.Violation{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []finance.Violation{}
	}
	return resp
}

// MatchResponse is the outcome of an auto or manual match
type MatchResponse struct {
	Success    bool                     `json:"success"`
	Payment    PaymentResponse          `json:"payment"`
	Suggestion *finance.MatchSuggestion `json:"suggestion,omitempty"`
}

func toMatchResponse(r *finance.MatchResult) MatchResponse {
	resp := MatchResponse{Success: r.Success}
	if r.Payment != nil {
		resp.Payment = toPaymentResponse(r.Payment)
	}
	if r.Suggestion.TargetID != uuid.Nil {
		s := r.Suggestion
		resp.Suggestion = &s
	}
	return resp
}

// AllocationResponse represents one allocation record
type AllocationResponse struct {
	ID           string          `json:"id"`
	PaymentID    string          `json:"payment_id"`
	ObligationID string          `json:"obligation_id"`
	Amount       decimal.Decimal `json:"amount"`
	Type         string          `json:"type"`
	Strategy     string          `json:"strategy"`
	ReversesID   string          `json:"reverses_id,omitempty"`
	Actor        string          `json:"actor"`
	CreatedAt    time.Time       `json:"created_at"`
}

func toAllocationResponse(a finance.Allocation) AllocationResponse {
	resp := AllocationResponse{
		ID:           a.ID.String(),
		PaymentID:    a.PaymentID.String(),
		ObligationID: a.ObligationID.String(),
		Amount:       a.Amount,
		Type:         string(a.Type),
		Strategy:     string(a.Strategy),
		Actor:        a.Actor,
		CreatedAt:    a.CreatedAt,
	}
	if a.ReversesID != nil {
		resp.ReversesID = a.ReversesID.String()
	}
	return resp
}

// AllocationResultResponse is the outcome of an allocation run
type AllocationResultResponse struct {
	PaymentID        string                          `json:"payment_id"`
	Strategy         string                          `json:"strategy"`
	Allocations      []AllocationResponse            `json:"allocations"`
	Instructions     []finance.AllocationInstruction `json:"instructions"`
	TotalAllocated   decimal.Decimal                 `json:"total_allocated"`
	Residual         decimal.Decimal                 `json:"residual"`
	AllocationStatus string                          `json:"allocation_status"`
}

func toAllocationResultResponse(r *reconciliation.AllocationResult) AllocationResultResponse {
	allocations := make([]AllocationResponse, 0, len(r.Allocations))
	for _, a := range r.Allocations {
		allocations = append(allocations, toAllocationResponse(a))
	}
	return AllocationResultResponse{
		PaymentID:        r.PaymentID.String(),
		Strategy:         string(r.Strategy),
		Allocations:      allocations,
		Instructions:     r.Instructions,
		TotalAllocated:   r.TotalAllocated,
		Residual:         r.Residual,
		AllocationStatus: r.AllocationStatus.String(),
	}
}

// AuditEntryResponse is one linking history record
type AuditEntryResponse struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Actor      string    `json:"actor"`
	TargetType string    `json:"target_type,omitempty"`
	TargetID   string    `json:"target_id,omitempty"`
	Confidence int       `json:"confidence"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func toAuditEntryResponses(entries []finance.AuditEntry) []AuditEntryResponse {
	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		r := AuditEntryResponse{
			ID:         e.ID.String(),
			Action:     string(e.Action),
			Actor:      e.Actor,
			TargetType: string(e.TargetType),
			Confidence: e.Confidence,
			Reason:     e.Reason,
			CreatedAt:  e.CreatedAt,
		}
		if e.TargetID != nil {
			r.TargetID = e.TargetID.String()
		}
		out = append(out, r)
	}
	return out
}

// ObligationResponse represents an obligation in API responses
type ObligationResponse struct {
	ID               string          `json:"id"`
	ContractID       string          `json:"contract_id"`
	CustomerID       string          `json:"customer_id"`
	ObligationNumber string          `json:"obligation_number"`
	Type             string          `json:"type"`
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	PaidAmount       decimal.Decimal `json:"paid_amount"`
	RemainingAmount  decimal.Decimal `json:"remaining_amount"`
	Currency         string          `json:"currency"`
	DueDate          string          `json:"due_date,omitempty"`
	Status           string          `json:"status"`
}

func toObligationResponse(o *finance.Obligation) ObligationResponse {
	resp := ObligationResponse{
		ID:               o.ID.String(),
		ContractID:       o.ContractID.String(),
		CustomerID:       o.CustomerID.String(),
		ObligationNumber: o.ObligationNumber,
		Type:             string(o.Type),
		OriginalAmount:   o.OriginalAmount,
		PaidAmount:       o.PaidAmount,
		RemainingAmount:  o.RemainingAmount,
		Currency:         o.Currency,
		Status:           string(o.Status),
	}
	if o.DueDate != nil {
		resp.DueDate = o.DueDate.Format(dateLayout)
	}
	return resp
}
