package reconciliation

import (
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MatchPaymentRequest links a payment to a document chosen by a person
type MatchPaymentRequest struct {
	TenantID   uuid.UUID `json:"tenant_id" validate:"required"`
	PaymentID  uuid.UUID `json:"payment_id" validate:"required"`
	TargetType string    `json:"target_type" validate:"required,oneof=invoice contract"`
	TargetID   uuid.UUID `json:"target_id" validate:"required"`
	Actor      string    `json:"actor" validate:"max=100"`
}

// AllocatePaymentRequest spreads a payment over the customer's obligations.
// An empty Strategy means the configured default.
type AllocatePaymentRequest struct {
	TenantID          uuid.UUID                  `json:"tenant_id" validate:"required"`
	PaymentID         uuid.UUID                  `json:"payment_id" validate:"required"`
	Strategy          string                     `json:"strategy" validate:"omitempty,oneof=fifo nearest_due highest_interest manual"`
	ManualAllocations []finance.ManualAllocation `json:"manual_allocations" validate:"required_if=Strategy manual"`
	Actor             string                     `json:"actor" validate:"max=100"`
}

// UnlinkPaymentRequest removes a payment's link
type UnlinkPaymentRequest struct {
	TenantID  uuid.UUID `json:"tenant_id" validate:"required"`
	PaymentID uuid.UUID `json:"payment_id" validate:"required"`
	Actor     string    `json:"actor" validate:"max=100"`
	Reason    string    `json:"reason" validate:"max=500"`
}

// ReverseAllocationRequest undoes one allocation
type ReverseAllocationRequest struct {
	TenantID     uuid.UUID `json:"tenant_id" validate:"required"`
	AllocationID uuid.UUID `json:"allocation_id" validate:"required"`
	Actor        string    `json:"actor" validate:"max=100"`
	Reason       string    `json:"reason" validate:"max=500"`
}

// RecordPaymentRequest registers a received payment. TargetType and TargetID
// are given together when the payer named the document.
type RecordPaymentRequest struct {
	TenantID      uuid.UUID       `json:"tenant_id" validate:"required"`
	CustomerID    uuid.UUID       `json:"customer_id" validate:"required"`
	PaymentNumber string          `json:"payment_number" validate:"required,max=50"`
	Amount        decimal.Decimal `json:"amount" validate:"required"`
	Currency      string          `json:"currency" validate:"required,len=3"`
	PaymentDate   time.Time       `json:"payment_date" validate:"required"`
	Reference     string          `json:"reference" validate:"max=100"`
	TargetType    string          `json:"target_type" validate:"omitempty,oneof=invoice contract"`
	TargetID      *uuid.UUID      `json:"target_id"`
	Actor         string          `json:"actor" validate:"max=100"`
}

// CreateObligationRequest adds one billing obligation to a contract
type CreateObligationRequest struct {
	TenantID         uuid.UUID       `json:"tenant_id" validate:"required"`
	ContractID       uuid.UUID       `json:"contract_id" validate:"required"`
	ObligationNumber string          `json:"obligation_number" validate:"required,max=50"`
	Type             string          `json:"type" validate:"required,oneof=installment deposit fee penalty insurance"`
	Amount           decimal.Decimal `json:"amount" validate:"required"`
	DueDate          *time.Time      `json:"due_date"`
	Actor            string          `json:"actor" validate:"max=100"`
}

// AllocationResult describes a committed allocation
type AllocationResult struct {
	PaymentID        uuid.UUID                       `json:"payment_id"`
	Strategy         finance.AllocationStrategyType  `json:"strategy"`
	Allocations      []finance.Allocation            `json:"allocations"`
	Instructions     []finance.AllocationInstruction `json:"instructions"`
	TotalAllocated   decimal.Decimal                 `json:"total_allocated"`
	Residual         decimal.Decimal                 `json:"residual"`
	AllocationStatus finance.AllocationStatus        `json:"allocation_status"`
}

// RecordPaymentResult is the stored payment and the guard's report on it
type RecordPaymentResult struct {
	Payment *finance.Payment         `json:"payment"`
	Report  finance.ValidationReport `json:"report"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// uuid.UUID and decimal.Decimal are arrays and structs, so required would
	// never fire on their zero values without these
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if id, ok := field.Interface().(uuid.UUID); ok && id != uuid.Nil {
			return id.String()
		}
		return ""
	}, uuid.UUID{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok && !d.IsZero() {
			return d.String()
		}
		return ""
	}, decimal.Decimal{})
	return v
}

// validateRequest checks struct tags and reports the first problems as an
// INVALID_INPUT error
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return shared.NewDomainError(shared.ErrInvalidInput.Code, err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Field()+" failed "+fe.Tag())
	}
	return shared.NewDomainError(shared.ErrInvalidInput.Code, "invalid request: "+strings.Join(msgs, ", "))
}
