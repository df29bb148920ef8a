package finance

import (
	"strings"

	"github.com/erp/reconciliation/internal/domain/shared"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// GuardRule names a guard check
type GuardRule string

const (
	GuardRuleOutlierAmount       GuardRule = "outlier_amount"
	GuardRuleContractOverpayment GuardRule = "contract_overpayment"
	GuardRuleInvoiceVariance     GuardRule = "invoice_variance"
	GuardRuleCurrencyMismatch    GuardRule = "currency_mismatch"
	GuardRuleDuplicateObligation GuardRule = "duplicate_monthly_obligation"
)

// Violation is a failed guard check with the numbers that caused it
type Violation struct {
	Rule      GuardRule       `json:"rule"`
	Message   string          `json:"message"`
	Threshold decimal.Decimal `json:"threshold"`
	Actual    decimal.Decimal `json:"actual"`
}

// ValidationReport is the guard's verdict. Violations block the commit,
// warnings only annotate it.
type ValidationReport struct {
	Violations []Violation `json:"violations"`
	Warnings   []Violation `json:"warnings"`
}

// OK reports whether no hard violation was found
func (r ValidationReport) OK() bool {
	return len(r.Violations) == 0
}

// Err returns a GuardError for the hard violations, or nil
func (r ValidationReport) Err() error {
	if r.OK() {
		return nil
	}
	return &GuardError{Violations: r.Violations}
}

// GuardError carries the violations that rejected a payment or obligation.
// It matches shared.ErrValidationFailed under errors.Is.
type GuardError struct {
	Violations []Violation
}

func (e *GuardError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, v.Message)
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// Unwrap exposes the VALIDATION_FAILED sentinel
func (e *GuardError) Unwrap() error {
	return shared.ErrValidationFailed
}

// GuardConfig holds the guard thresholds
type GuardConfig struct {
	OutlierMultiplier   decimal.Decimal
	AbsoluteCeiling     decimal.Decimal
	OverpaymentHeadroom decimal.Decimal
	InvoiceVariance     decimal.Decimal
}

// DefaultGuardConfig returns 10x monthly / 25,000 outlier limits, 10%
// contract headroom and 20% invoice variance
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		OutlierMultiplier:   decimal.NewFromInt(10),
		AbsoluteCeiling:     decimal.NewFromInt(25000),
		OverpaymentHeadroom: decimal.NewFromFloat(0.10),
		InvoiceVariance:     decimal.NewFromFloat(0.20),
	}
}

// PaymentGuard runs the pre-commit checks for payments and obligations
type PaymentGuard struct {
	cfg     GuardConfig
	printer *message.Printer
}

// NewPaymentGuard creates a guard
func NewPaymentGuard(cfg GuardConfig) *PaymentGuard {
	return &PaymentGuard{
		cfg:     cfg,
		printer: message.NewPrinter(language.English),
	}
}

// Config returns the guard thresholds
func (g *PaymentGuard) Config() GuardConfig {
	return g.cfg
}

// CheckPayment validates a payment against its contract and invoice, either
// of which may be nil
func (g *PaymentGuard) CheckPayment(p *Payment, contract *Contract, invoice *Invoice) ValidationReport {
	report := ValidationReport{Violations: []Violation{}, Warnings: []Violation{}}

	if contract != nil && contract.Currency != "" && contract.Currency != p.Currency {
		report.Violations = append(report.Violations, Violation{
			Rule:    GuardRuleCurrencyMismatch,
			Message: g.printer.Sprintf("payment currency %s does not match contract %s currency %s", p.Currency, contract.ContractNumber, contract.Currency),
		})
		return report
	}

	if v, ok := g.checkOutlier(p, contract); ok {
		report.Violations = append(report.Violations, v)
	}
	if contract != nil {
		if v, ok := g.checkContractOverpayment(p, contract); ok {
			report.Violations = append(report.Violations, v)
		}
	}
	if invoice != nil {
		if v, ok := g.checkInvoiceVariance(p, invoice); ok {
			report.Warnings = append(report.Warnings, v)
		}
	}
	return report
}

// ApplyWarnings appends each warning to the payment notes
func (g *PaymentGuard) ApplyWarnings(p *Payment, report ValidationReport) {
	for _, w := range report.Warnings {
		p.AddNote("Warning: " + w.Message)
	}
}

func (g *PaymentGuard) checkOutlier(p *Payment, contract *Contract) (Violation, bool) {
	monthly := decimal.Zero
	if contract != nil {
		monthly = contract.MonthlyAmount
	}
	byMonthly := monthly.Mul(g.cfg.OutlierMultiplier)
	limit := decimal.Max(byMonthly, g.cfg.AbsoluteCeiling)
	if !p.Amount.GreaterThan(limit) {
		return Violation{}, false
	}
	return Violation{
		Rule:      GuardRuleOutlierAmount,
		Threshold: limit,
		Actual:    p.Amount,
		Message: g.printer.Sprintf("payment amount %v exceeds the outlier limit %v (greater of %v x monthly amount %v and ceiling %v)",
			g.money(p.Amount), g.money(limit), g.plain(g.cfg.OutlierMultiplier), g.money(monthly), g.money(g.cfg.AbsoluteCeiling)),
	}, true
}

func (g *PaymentGuard) checkContractOverpayment(p *Payment, c *Contract) (Violation, bool) {
	if !c.ContractAmount.IsPositive() {
		return Violation{}, false
	}
	limit := c.ContractAmount.Mul(decimal.NewFromInt(1).Add(g.cfg.OverpaymentHeadroom))
	projected := c.TotalPaid.Add(p.Amount)
	if !projected.GreaterThan(limit) {
		return Violation{}, false
	}
	return Violation{
		Rule:      GuardRuleContractOverpayment,
		Threshold: limit,
		Actual:    projected,
		Message: g.printer.Sprintf("contract %s would be paid %v (already paid %v + payment %v), above the limit %v (contract amount %v + %v%%)",
			c.ContractNumber, g.money(projected), g.money(c.TotalPaid), g.money(p.Amount),
			g.money(limit), g.money(c.ContractAmount), g.plain(g.cfg.OverpaymentHeadroom.Mul(decimal.NewFromInt(100)))),
	}, true
}

func (g *PaymentGuard) checkInvoiceVariance(p *Payment, inv *Invoice) (Violation, bool) {
	if !inv.TotalAmount.IsPositive() {
		return Violation{}, false
	}
	allowed := inv.TotalAmount.Mul(g.cfg.InvoiceVariance)
	diff := p.Amount.Sub(inv.TotalAmount).Abs()
	if !diff.GreaterThan(allowed) {
		return Violation{}, false
	}
	return Violation{
		Rule:      GuardRuleInvoiceVariance,
		Threshold: allowed,
		Actual:    diff,
		Message: g.printer.Sprintf("payment amount %v differs from invoice %s total %v by %v, more than %v%%",
			g.money(p.Amount), inv.InvoiceNumber, g.money(inv.TotalAmount), g.money(diff),
			g.plain(g.cfg.InvoiceVariance.Mul(decimal.NewFromInt(100)))),
	}, true
}

// CheckObligation rejects a second non-cancelled obligation for the same
// contract and calendar month
func (g *PaymentGuard) CheckObligation(o *Obligation, existing []*Obligation) ValidationReport {
	report := ValidationReport{Violations: []Violation{}, Warnings: []Violation{}}
	if o.Status == ObligationStatusCancelled {
		return report
	}
	key := o.MonthKey()
	for _, e := range existing {
		if e.ID == o.ID || e.ContractID != o.ContractID || e.Status == ObligationStatusCancelled {
			continue
		}
		if e.MonthKey() == key {
			report.Violations = append(report.Violations, Violation{
				Rule:      GuardRuleDuplicateObligation,
				Threshold: decimal.NewFromInt(1),
				Actual:    decimal.NewFromInt(2),
				Message: g.printer.Sprintf("contract already has obligation %s for %s (amount %v); a second obligation for the same month is not allowed",
					e.ObligationNumber, key, g.money(e.OriginalAmount)),
			})
			break
		}
	}
	return report
}

func (g *PaymentGuard) money(d decimal.Decimal) number.Formatter {
	return number.Decimal(d.InexactFloat64(), number.Scale(2))
}

func (g *PaymentGuard) plain(d decimal.Decimal) number.Formatter {
	return number.Decimal(d.InexactFloat64())
}
