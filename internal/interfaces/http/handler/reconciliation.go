package handler

import (
	"github.com/erp/reconciliation/internal/application/reconciliation"
	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/interfaces/http/middleware"
	"github.com/erp/reconciliation/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReconciliationHandler exposes payment matching, allocation and the guard
// over HTTP
type ReconciliationHandler struct {
	BaseHandler
	service *reconciliation.Service
	batch   *reconciliation.BatchReconciler
}

// NewReconciliationHandler creates a handler. batch may be nil, in which case
// the batch endpoint is not registered.
func NewReconciliationHandler(service *reconciliation.Service, batch *reconciliation.BatchReconciler) *ReconciliationHandler {
	return &ReconciliationHandler{service: service, batch: batch}
}

// RegisterRoutes mounts the handler under the group's prefix
func (h *ReconciliationHandler) RegisterRoutes(g *router.DomainGroup) {
	g.POST("/payments", h.RecordPayment)
	g.POST("/payments/validate", h.ValidatePayment)
	g.GET("/payments/:id/suggestions", h.Suggestions)
	g.POST("/payments/:id/auto-match", h.AutoMatch)
	g.POST("/payments/:id/match", h.Match)
	g.POST("/payments/:id/unlink", h.Unlink)
	g.POST("/payments/:id/allocate", h.Allocate)
	g.GET("/payments/:id/history", h.History)
	g.POST("/allocations/:id/reverse", h.ReverseAllocation)
	g.POST("/contracts/:id/obligations", h.CreateObligation)
	if h.batch != nil {
		g.POST("/batch-runs", h.RunBatch)
	}
}

// buildPayment turns a recording request into a domain payment
func buildPayment(tenantID uuid.UUID, req RecordPaymentRequest) (reconciliation.RecordPaymentRequest, error) {
	paidOn, err := parseDate("payment_date", req.PaymentDate)
	if err != nil {
		return reconciliation.RecordPaymentRequest{}, err
	}
	out := reconciliation.RecordPaymentRequest{
		TenantID:      tenantID,
		CustomerID:    uuid.MustParse(req.CustomerID),
		PaymentNumber: req.PaymentNumber,
		Amount:        req.Amount,
		Currency:      req.Currency,
		PaymentDate:   paidOn,
		Reference:     req.Reference,
		TargetType:    req.TargetType,
	}
	if req.TargetID != "" {
		id := uuid.MustParse(req.TargetID)
		out.TargetID = &id
	}
	return out, nil
}

// RecordPayment stores a received payment after the guard accepts it
// POST /payments
func (h *ReconciliationHandler) RecordPayment(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	appReq, err := buildPayment(tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	appReq.Actor = middleware.GetActor(c)

	result, err := h.service.RecordPayment(c.Request.Context(), appReq)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, RecordPaymentResponse{
		Payment:  toPaymentResponse(result.Payment),
		Warnings: result.Report.Warnings,
	})
}

// ValidatePayment runs the guard over a prospective payment without storing it
// POST /payments/validate
func (h *ReconciliationHandler) ValidatePayment(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	var req RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}
	appReq, err := buildPayment(tenantID, req)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	p, err := finance.NewPayment(appReq.TenantID, appReq.CustomerID, appReq.PaymentNumber, appReq.Amount, appReq.Currency, appReq.PaymentDate)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if appReq.TargetID != nil {
		target, err := finance.NewPaymentTarget(finance.TargetType(appReq.TargetType), *appReq.TargetID)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		p.SetTarget(target)
	}

	report, err := h.service.ValidatePayment(c.Request.Context(), p)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toValidationResponse(report))
}

// Suggestions lists ranked match candidates for a payment
// GET /payments/:id/suggestions
func (h *ReconciliationHandler) Suggestions(c *gin.Context) {
	tenantID, paymentID, ok := h.paymentScope(c)
	if !ok {
		return
	}

	suggestions, err := h.service.FindMatchingSuggestions(c.Request.Context(), tenantID, paymentID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	if suggestions == nil {
		suggestions = []finance.MatchSuggestion{}
	}
	h.Success(c, suggestions)
}

// AutoMatch links a payment to its best candidate when the score allows it
// POST /payments/:id/auto-match
func (h *ReconciliationHandler) AutoMatch(c *gin.Context) {
	tenantID, paymentID, ok := h.paymentScope(c)
	if !ok {
		return
	}

	result, err := h.service.AttemptAutoMatch(c.Request.Context(), tenantID, paymentID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toMatchResponse(result))
}

// Match links a payment to a caller-chosen invoice or contract
// POST /payments/:id/match
func (h *ReconciliationHandler) Match(c *gin.Context) {
	tenantID, paymentID, ok := h.paymentScope(c)
	if !ok {
		return
	}

	var req MatchPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	result, err := h.service.MatchPayment(c.Request.Context(), reconciliation.MatchPaymentRequest{
		TenantID:   tenantID,
		PaymentID:  paymentID,
		TargetType: req.TargetType,
		TargetID:   uuid.MustParse(req.TargetID),
		Actor:      middleware.GetActor(c),
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toMatchResponse(result))
}

// Unlink removes a payment's link
// POST /payments/:id/unlink
func (h *ReconciliationHandler) Unlink(c *gin.Context) {
	tenantID, paymentID, ok := h.paymentScope(c)
	if !ok {
		return
	}

	var req ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}

	payment, err := h.service.UnlinkPayment(c.Request.Context(), reconciliation.UnlinkPaymentRequest{
		TenantID:  tenantID,
		PaymentID: paymentID,
		Actor:     middleware.GetActor(c),
		Reason:    req.Reason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toPaymentResponse(payment))
}

// Allocate spreads a payment over the customer's open obligations
// POST /payments/:id/allocate
func (h *ReconciliationHandler) Allocate(c *gin.Context) {
	tenantID, paymentID, ok := h.paymentScope(c)
	if !ok {
		return
	}

	var req AllocatePaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}

	appReq := reconciliation.AllocatePaymentRequest{
		TenantID:  tenantID,
		PaymentID: paymentID,
		Strategy:  req.Strategy,
		Actor:     middleware.GetActor(c),
	}
	for _, m := range req.ManualAllocations {
		appReq.ManualAllocations = append(appReq.ManualAllocations, finance.ManualAllocation{
			ObligationID: uuid.MustParse(m.ObligationID),
			Amount:       m.Amount,
		})
	}

	result, err := h.service.AllocatePayment(c.Request.Context(), appReq)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toAllocationResultResponse(result))
}

// History lists a payment's linking and allocation decisions, newest first
// GET /payments/:id/history
func (h *ReconciliationHandler) History(c *gin.Context) {
	tenantID, paymentID, ok := h.paymentScope(c)
	if !ok {
		return
	}

	entries, err := h.service.LinkingHistory(c.Request.Context(), tenantID, paymentID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toAuditEntryResponses(entries))
}

// ReverseAllocation undoes one allocation with a compensating record
// POST /allocations/:id/reverse
func (h *ReconciliationHandler) ReverseAllocation(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	allocationID, err := parseUUIDParam(c, "id")
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var req ReasonRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.HandleValidationError(c, err)
			return
		}
	}

	reversal, err := h.service.ReverseAllocation(c.Request.Context(), reconciliation.ReverseAllocationRequest{
		TenantID:     tenantID,
		AllocationID: allocationID,
		Actor:        middleware.GetActor(c),
		Reason:       req.Reason,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toAllocationResponse(*reversal))
}

// CreateObligation adds an obligation to a contract
// POST /contracts/:id/obligations
func (h *ReconciliationHandler) CreateObligation(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}
	contractID, err := parseUUIDParam(c, "id")
	if err != nil {
		h.HandleError(c, err)
		return
	}

	var req CreateObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return
	}

	appReq := reconciliation.CreateObligationRequest{
		TenantID:         tenantID,
		ContractID:       contractID,
		ObligationNumber: req.ObligationNumber,
		Type:             req.Type,
		Amount:           req.Amount,
		Actor:            middleware.GetActor(c),
	}
	if appReq.Type == "" {
		appReq.Type = string(finance.ObligationTypeInstallment)
	}
	if req.DueDate != "" {
		due, err := parseDate("due_date", req.DueDate)
		if err != nil {
			h.HandleError(c, err)
			return
		}
		appReq.DueDate = &due
	}

	obligation, err := h.service.CreateObligation(c.Request.Context(), appReq)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Created(c, toObligationResponse(obligation))
}

// RunBatch reconciles every pending payment of the tenant
// POST /batch-runs
func (h *ReconciliationHandler) RunBatch(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return
	}

	summary, err := h.batch.Run(c.Request.Context(), tenantID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, summary)
}

func (h *ReconciliationHandler) paymentScope(c *gin.Context) (uuid.UUID, uuid.UUID, bool) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.BadRequest(c, "Invalid tenant ID")
		return uuid.Nil, uuid.Nil, false
	}
	paymentID, err := parseUUIDParam(c, "id")
	if err != nil {
		h.HandleError(c, err)
		return uuid.Nil, uuid.Nil, false
	}
	return tenantID, paymentID, true
}
