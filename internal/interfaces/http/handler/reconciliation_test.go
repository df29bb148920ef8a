package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/erp/reconciliation/internal/application/reconciliation"
	"github.com/erp/reconciliation/internal/domain/finance"
	"github.com/erp/reconciliation/internal/infrastructure/cache"
	"github.com/erp/reconciliation/internal/infrastructure/logger"
	"github.com/erp/reconciliation/internal/infrastructure/persistence"
	"github.com/erp/reconciliation/internal/infrastructure/persistence/models"
	"github.com/erp/reconciliation/internal/interfaces/http/dto"
	"github.com/erp/reconciliation/internal/interfaces/http/middleware"
	"github.com/erp/reconciliation/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type apiEnv struct {
	engine     *gin.Engine
	db         *gorm.DB
	store      *persistence.GormTransactionScope
	tenantID   uuid.UUID
	customerID uuid.UUID
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.AllModels()...))

	store := persistence.NewGormTransactionScope(db)
	svc := reconciliation.NewService(store, persistence.NewGormAuditLogRepository(db))
	batch := reconciliation.NewBatchReconciler(svc, cache.NewInMemoryLocker(), reconciliation.DefaultBatchSettings())

	middleware.SetupValidator()
	engine := gin.New()
	engine.Use(logger.GinMiddleware(zap.NewNop()))

	group := router.NewDomainGroup("reconciliation", "/reconciliation").Use(middleware.Tenant())
	NewReconciliationHandler(svc, batch).RegisterRoutes(group)
	router.NewRouter(engine).Register(group).Setup()

	return &apiEnv{
		engine:     engine,
		db:         db,
		store:      store,
		tenantID:   uuid.New(),
		customerID: uuid.New(),
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *dto.ErrorInfo  `json:"error"`
}

func (e *apiEnv) do(t *testing.T, method, path string, body any) (int, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, "/api/v1/reconciliation"+path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.TenantHeaderKey, e.tenantID.String())
	req.Header.Set(middleware.ActorHeaderKey, "clerk")
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func (e *apiEnv) contract(t *testing.T, number string, amount, monthly int64, start time.Time) *finance.Contract {
	t.Helper()
	c := &finance.Contract{
		ID:             uuid.New(),
		TenantID:       e.tenantID,
		CustomerID:     e.customerID,
		ContractNumber: number,
		ContractAmount: decimal.NewFromInt(amount),
		MonthlyAmount:  decimal.NewFromInt(monthly),
		TotalPaid:      decimal.Zero,
		Currency:       "USD",
		StartDate:      start,
		Status:         finance.ContractStatusActive,
		CreatedAt:      start,
	}
	require.NoError(t, e.db.Create(models.ContractModelFromDomain(c)).Error)
	return c
}

func (e *apiEnv) invoice(t *testing.T, number string, total int64, due time.Time) *finance.Invoice {
	t.Helper()
	inv := &finance.Invoice{
		ID:            uuid.New(),
		TenantID:      e.tenantID,
		CustomerID:    e.customerID,
		InvoiceNumber: number,
		TotalAmount:   decimal.NewFromInt(total),
		Currency:      "USD",
		DueDate:       &due,
		Status:        finance.InvoiceStatusOpen,
		CreatedAt:     due.AddDate(0, -1, 0),
	}
	require.NoError(t, e.db.Create(models.InvoiceModelFromDomain(inv)).Error)
	return inv
}

func (e *apiEnv) payment(t *testing.T, number string, amount int64, paidOn time.Time, reference string) *finance.Payment {
	t.Helper()
	p, err := finance.NewPayment(e.tenantID, e.customerID, number, decimal.NewFromInt(amount), "USD", paidOn)
	require.NoError(t, err)
	p.SetReference(reference)
	require.NoError(t, e.store.Repositories().Payments.Create(context.Background(), p))
	return p
}

func (e *apiEnv) obligation(t *testing.T, contract *finance.Contract, number string, amount int64, due time.Time) *finance.Obligation {
	t.Helper()
	o, err := finance.NewObligation(e.tenantID, contract.ID, e.customerID, number,
		finance.ObligationTypeInstallment, decimal.NewFromInt(amount), "USD", &due)
	require.NoError(t, err)
	require.NoError(t, e.store.Repositories().Obligations.Create(context.Background(), o))
	return o
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRecordPayment_Created(t *testing.T) {
	env := newAPIEnv(t)

	status, resp := env.do(t, http.MethodPost, "/payments", map[string]any{
		"customer_id":    env.customerID.String(),
		"payment_number": "PAY-1",
		"amount":         "1000",
		"currency":       "USD",
		"payment_date":   "2024-03-02",
		"reference":      "INV-1234",
	})

	require.Equal(t, http.StatusCreated, status)
	assert.True(t, resp.Success)
	body := decode[RecordPaymentResponse](t, resp.Data)
	assert.Equal(t, "PAY-1", body.Payment.PaymentNumber)
	assert.Equal(t, "2024-03-02", body.Payment.PaymentDate)
	assert.True(t, decimal.NewFromInt(1000).Equal(body.Payment.Amount))
	assert.Equal(t, "unallocated", body.Payment.AllocationStatus)
	assert.Empty(t, body.Payment.TargetType)
}

func TestRecordPayment_GuardRejection(t *testing.T) {
	env := newAPIEnv(t)

	status, resp := env.do(t, http.MethodPost, "/payments", map[string]any{
		"customer_id":    env.customerID.String(),
		"payment_number": "PAY-BIG",
		"amount":         "30000",
		"currency":       "USD",
		"payment_date":   "2024-03-02",
	})

	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, dto.ErrCodeValidationFailed, resp.Error.Code)
	require.NotEmpty(t, resp.Error.Violations)
	assert.Equal(t, finance.GuardRuleOutlierAmount, resp.Error.Violations[0].Rule)
	assert.NotEmpty(t, resp.Error.RequestID)
}

func TestRecordPayment_BadRequests(t *testing.T) {
	env := newAPIEnv(t)

	tests := []struct {
		name     string
		body     map[string]any
		wantCode string
	}{
		{
			name: "missing payment number",
			body: map[string]any{
				"customer_id":  env.customerID.String(),
				"amount":       "10",
				"currency":     "USD",
				"payment_date": "2024-03-02",
			},
			wantCode: dto.ErrCodeValidation,
		},
		{
			name: "bad date",
			body: map[string]any{
				"customer_id":    env.customerID.String(),
				"payment_number": "PAY-1",
				"amount":         "10",
				"currency":       "USD",
				"payment_date":   "March 2nd",
			},
			wantCode: dto.ErrCodeInvalidInput,
		},
		{
			name: "target id without type",
			body: map[string]any{
				"customer_id":    env.customerID.String(),
				"payment_number": "PAY-1",
				"amount":         "10",
				"currency":       "USD",
				"payment_date":   "2024-03-02",
				"target_id":      uuid.NewString(),
			},
			wantCode: dto.ErrCodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := env.do(t, http.MethodPost, "/payments", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestRecordPayment_MissingTenant(t *testing.T) {
	env := newAPIEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reconciliation/payments", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), dto.ErrCodeMissingTenant)
}

func TestValidatePayment(t *testing.T) {
	env := newAPIEnv(t)
	c := env.contract(t, "CT-1", 10000, 1000, day(2024, 1, 1))

	status, resp := env.do(t, http.MethodPost, "/payments/validate", map[string]any{
		"customer_id":    env.customerID.String(),
		"payment_number": "PAY-1",
		"amount":         "12000",
		"currency":       "USD",
		"payment_date":   "2024-03-02",
		"target_type":    "contract",
		"target_id":      c.ID.String(),
	})

	require.Equal(t, http.StatusOK, status)
	body := decode[ValidationResponse](t, resp.Data)
	assert.False(t, body.Valid)
	require.Len(t, body.Violations, 1)
	assert.Equal(t, finance.GuardRuleContractOverpayment, body.Violations[0].Rule)

	var count int64
	require.NoError(t, env.db.Model(&models.PaymentModel{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestSuggestionsAndAutoMatch(t *testing.T) {
	env := newAPIEnv(t)
	inv := env.invoice(t, "INV-1234", 1000, day(2024, 3, 1))
	p := env.payment(t, "PAY-1", 1000, day(2024, 3, 2), "INV-1234")

	status, resp := env.do(t, http.MethodGet, "/payments/"+p.ID.String()+"/suggestions", nil)
	require.Equal(t, http.StatusOK, status)
	suggestions := decode[[]finance.MatchSuggestion](t, resp.Data)
	require.NotEmpty(t, suggestions)
	assert.Equal(t, inv.ID, suggestions[0].TargetID)
	assert.Equal(t, "INV-1234", suggestions[0].TargetNumber)
	assert.True(t, suggestions[0].AutoMatchable)

	status, resp = env.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/auto-match", nil)
	require.Equal(t, http.StatusOK, status)
	match := decode[MatchResponse](t, resp.Data)
	assert.True(t, match.Success)
	assert.Equal(t, "invoice", match.Payment.TargetType)
	assert.Equal(t, inv.ID.String(), match.Payment.TargetID)
	assert.Equal(t, "allocated", match.Payment.AllocationStatus)
}

func TestAutoMatch_UnknownPayment(t *testing.T) {
	env := newAPIEnv(t)

	status, resp := env.do(t, http.MethodPost, "/payments/"+uuid.NewString()+"/auto-match", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)

	status, resp = env.do(t, http.MethodPost, "/payments/not-a-uuid/auto-match", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, dto.ErrCodeInvalidInput, resp.Error.Code)
}

func TestMatchUnlinkAndHistory(t *testing.T) {
	env := newAPIEnv(t)
	c := env.contract(t, "CT-1", 20800, 1300, day(2024, 1, 15))
	p := env.payment(t, "PAY-1", 900, day(2024, 2, 10), "")
	path := "/payments/" + p.ID.String()

	status, resp := env.do(t, http.MethodPost, path+"/match", map[string]any{
		"target_type": "contract",
		"target_id":   c.ID.String(),
	})
	require.Equal(t, http.StatusOK, status)
	match := decode[MatchResponse](t, resp.Data)
	assert.Equal(t, "contract", match.Payment.TargetType)
	assert.Equal(t, 100, match.Payment.LinkingConfidence)

	status, resp = env.do(t, http.MethodPost, path+"/unlink", map[string]any{"reason": "wrong contract"})
	require.Equal(t, http.StatusOK, status)
	unlinked := decode[PaymentResponse](t, resp.Data)
	assert.Empty(t, unlinked.TargetType)
	assert.Equal(t, "unallocated", unlinked.AllocationStatus)

	status, resp = env.do(t, http.MethodGet, path+"/history", nil)
	require.Equal(t, http.StatusOK, status)
	history := decode[[]AuditEntryResponse](t, resp.Data)
	require.Len(t, history, 2)
	assert.Equal(t, string(finance.AuditActionUnlink), history[0].Action)
	assert.Equal(t, "wrong contract", history[0].Reason)
	assert.Equal(t, "clerk", history[0].Actor)
	assert.Equal(t, string(finance.AuditActionManualLink), history[1].Action)

	status, resp = env.do(t, http.MethodPost, path+"/unlink", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, dto.ErrCodeInvalidState, resp.Error.Code)
}

func TestMatch_InvalidBody(t *testing.T) {
	env := newAPIEnv(t)
	p := env.payment(t, "PAY-1", 900, day(2024, 2, 10), "")

	status, resp := env.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/match", map[string]any{
		"target_type": "order",
		"target_id":   uuid.NewString(),
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
}

func TestAllocateAndReverse(t *testing.T) {
	env := newAPIEnv(t)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	c := env.contract(t, "CT-1", 20800, 1300, today.AddDate(-1, 0, 0))
	o := env.obligation(t, c, "OB-1", 500, today.AddDate(0, 1, 0))
	p := env.payment(t, "PAY-1", 800, today, "")

	status, resp := env.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/allocate", map[string]any{"strategy": "fifo"})
	require.Equal(t, http.StatusOK, status)
	result := decode[AllocationResultResponse](t, resp.Data)
	require.Len(t, result.Allocations, 1)
	assert.Equal(t, o.ID.String(), result.Allocations[0].ObligationID)
	assert.True(t, decimal.NewFromInt(500).Equal(result.TotalAllocated))
	assert.True(t, decimal.NewFromInt(300).Equal(result.Residual))
	assert.Equal(t, "fifo", result.Strategy)

	status, resp = env.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/allocate", nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, dto.ErrCodeAlreadyAllocated, resp.Error.Code)

	status, resp = env.do(t, http.MethodPost, "/allocations/"+result.Allocations[0].ID+"/reverse", map[string]any{"reason": "bounced"})
	require.Equal(t, http.StatusCreated, status)
	reversal := decode[AllocationResponse](t, resp.Data)
	assert.Equal(t, result.Allocations[0].ID, reversal.ReversesID)
	assert.True(t, decimal.NewFromInt(-500).Equal(reversal.Amount))
	assert.Equal(t, "clerk", reversal.Actor)
}

func TestAllocate_ManualOverAllocation(t *testing.T) {
	env := newAPIEnv(t)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	c := env.contract(t, "CT-1", 20800, 1300, today.AddDate(-1, 0, 0))
	o := env.obligation(t, c, "OB-1", 500, today.AddDate(0, 1, 0))
	p := env.payment(t, "PAY-1", 800, today, "")

	status, resp := env.do(t, http.MethodPost, "/payments/"+p.ID.String()+"/allocate", map[string]any{
		"strategy": "manual",
		"manual_allocations": []map[string]any{
			{"obligation_id": o.ID.String(), "amount": "600"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "ERR_INVALID_MANUAL_ALLOCATION", resp.Error.Code)
}

func TestCreateObligation(t *testing.T) {
	env := newAPIEnv(t)
	c := env.contract(t, "CT-1", 20800, 1300, day(2024, 1, 15))
	path := "/contracts/" + c.ID.String() + "/obligations"

	status, resp := env.do(t, http.MethodPost, path, map[string]any{
		"obligation_number": "OB-2024-03",
		"amount":            "1300",
		"due_date":          "2099-03-15",
	})
	require.Equal(t, http.StatusCreated, status)
	created := decode[ObligationResponse](t, resp.Data)
	assert.Equal(t, "installment", created.Type)
	assert.Equal(t, "2099-03-15", created.DueDate)
	assert.Equal(t, env.customerID.String(), created.CustomerID)
	assert.Equal(t, "pending", created.Status)

	status, resp = env.do(t, http.MethodPost, path, map[string]any{
		"obligation_number": "OB-2024-03B",
		"amount":            "1300",
		"due_date":          "2099-03-28",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	require.NotEmpty(t, resp.Error.Violations)
	assert.Equal(t, finance.GuardRuleDuplicateObligation, resp.Error.Violations[0].Rule)
}

func TestRunBatch(t *testing.T) {
	env := newAPIEnv(t)
	env.invoice(t, "INV-77", 900, day(2024, 3, 1))
	env.payment(t, "PAY-1", 900, day(2024, 3, 2), "INV-77")

	status, resp := env.do(t, http.MethodPost, "/batch-runs", nil)
	require.Equal(t, http.StatusOK, status)
	summary := decode[reconciliation.BatchSummary](t, resp.Data)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Matched)
	assert.Equal(t, env.tenantID, summary.TenantID)
}
