package reconcile

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentTerms selects the payment state machine for an order.
type PaymentTerms string

const (
	TermsAdvance      PaymentTerms = "ADVANCE"
	TermsCredit       PaymentTerms = "CREDIT"
	TermsSellOrReturn PaymentTerms = "SELL_OR_RETURN"
	TermsOneTime      PaymentTerms = "ONE_TIME"
)

// PaymentStatus is the derived payment status of an order.
type PaymentStatus string

const (
	PaymentUnpaid                PaymentStatus = "UNPAID"
	PaymentPartiallyPaid         PaymentStatus = "PARTIALLY_PAID"
	PaymentPaid                  PaymentStatus = "PAID"
	PaymentAdvancePaid           PaymentStatus = "ADVANCE_PAID"
	PaymentCreditDue             PaymentStatus = "CREDIT_DUE"
	PaymentCreditCleared         PaymentStatus = "CREDIT_CLEARED"
	PaymentOverdue               PaymentStatus = "OVERDUE"
	PaymentPendingReconciliation PaymentStatus = "PENDING_RECONCILIATION"
	PaymentReconciled            PaymentStatus = "RECONCILED"
)

// TransactionStatus is the processing status of a payment transaction.
type TransactionStatus string

const (
	TransactionSuccess TransactionStatus = "SUCCESS"
	TransactionPending TransactionStatus = "PENDING"
	TransactionFailed  TransactionStatus = "FAILED"
)

// CreditNoteStatus is the approval status of a credit note.
type CreditNoteStatus string

const (
	CreditNotePending  CreditNoteStatus = "PENDING"
	CreditNoteApproved CreditNoteStatus = "APPROVED"
)

// CreditNoteKind tells manual notes apart from notes issued for overpayment.
type CreditNoteKind string

const (
	CreditNoteManual      CreditNoteKind = "MANUAL"
	CreditNoteOverpayment CreditNoteKind = "OVERPAYMENT"
)

// OverpaymentReason is the reason recorded on auto-issued credit notes.
const OverpaymentReason = "excess advance payment"

// PaymentRecord is the part of a payment transaction the fold needs.
type PaymentRecord struct {
	Amount decimal.Decimal
	Status TransactionStatus
}

// CreditRecord is the part of a credit note the fold needs.
type CreditRecord struct {
	Amount decimal.Decimal
	Status CreditNoteStatus
	Kind   CreditNoteKind
}

// PaymentTotals is the folded payment position of one order.
type PaymentTotals struct {
	OrderTotal  decimal.Decimal `json:"order_total"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	TotalCredit decimal.Decimal `json:"total_credit"`
	// OverpaymentCredit is the sum of approved credit notes already issued
	// for overpayment. They are refunds of excess, not reductions of payable.
	OverpaymentCredit decimal.Decimal `json:"overpayment_credit"`
	Payable           decimal.Decimal `json:"payable"`
	Remaining         decimal.Decimal `json:"remaining"`
	Overpaid          decimal.Decimal `json:"overpaid"`
}

// SumPayments folds successful payments and approved credit notes against the
// order total.
func SumPayments(orderTotal decimal.Decimal, payments []PaymentRecord, credits []CreditRecord) PaymentTotals {
	totals := PaymentTotals{
		OrderTotal:        orderTotal,
		TotalPaid:         decimal.Zero,
		TotalCredit:       decimal.Zero,
		OverpaymentCredit: decimal.Zero,
	}
	for _, p := range payments {
		if p.Status != TransactionSuccess {
			continue
		}
		totals.TotalPaid = totals.TotalPaid.Add(p.Amount)
	}
	for _, c := range credits {
		if c.Status != CreditNoteApproved {
			continue
		}
		if c.Kind == CreditNoteOverpayment {
			totals.OverpaymentCredit = totals.OverpaymentCredit.Add(c.Amount)
			continue
		}
		totals.TotalCredit = totals.TotalCredit.Add(c.Amount)
	}
	totals.Payable = orderTotal.Sub(totals.TotalCredit)
	totals.Remaining = decimal.Max(totals.Payable.Sub(totals.TotalPaid), decimal.Zero)
	totals.Overpaid = decimal.Max(totals.TotalPaid.Sub(totals.Payable), decimal.Zero)
	return totals
}

// PaymentContext is the per-order state the machine is conditioned on.
type PaymentContext struct {
	Terms            PaymentTerms
	CreditPeriodDays *int
	DueAt            *time.Time
	Now              time.Time
}

// PaymentDecision is the outcome of one full recomputation. Side effects are
// described, not applied; the caller writes them inside its transaction.
type PaymentDecision struct {
	Status PaymentStatus
	Totals PaymentTotals
	// IssueCredit is the amount of a new approved overpayment credit note, zero
	// when none is due.
	IssueCredit decimal.Decimal
	// SetDueAt is non-nil when the order's due date must be set.
	SetDueAt *time.Time
}

// HasCreditNote reports whether the decision asks for a credit note.
func (d PaymentDecision) HasCreditNote() bool {
	return d.IssueCredit.IsPositive()
}

// DecidePaymentStatus recomputes the payment status from totals and terms.
func DecidePaymentStatus(totals PaymentTotals, pc PaymentContext) PaymentDecision {
	decision := PaymentDecision{Totals: totals, IssueCredit: decimal.Zero}
	paid := totals.TotalPaid.IsPositive()
	remaining := totals.Remaining.IsPositive()

	switch pc.Terms {
	case TermsAdvance:
		switch {
		case totals.Overpaid.IsPositive():
			decision.Status = PaymentAdvancePaid
			// Only cash actually paid can be returned as excess.
			refundable := decimal.Min(totals.Overpaid, totals.TotalPaid)
			if uncovered := refundable.Sub(totals.OverpaymentCredit); uncovered.IsPositive() {
				decision.IssueCredit = uncovered
			}
		case remaining && paid:
			decision.Status = PaymentPartiallyPaid
		case !remaining:
			decision.Status = PaymentAdvancePaid
		default:
			decision.Status = PaymentUnpaid
		}
	case TermsCredit:
		dueAt := pc.DueAt
		switch {
		case remaining && paid:
			decision.Status = PaymentCreditDue
			if dueAt == nil && pc.CreditPeriodDays != nil && *pc.CreditPeriodDays > 0 {
				due := pc.Now.AddDate(0, 0, *pc.CreditPeriodDays)
				decision.SetDueAt = &due
				dueAt = &due
			}
		case !remaining:
			decision.Status = PaymentCreditCleared
		default:
			decision.Status = PaymentUnpaid
		}
		if dueAt != nil && remaining && dueAt.Before(pc.Now) {
			decision.Status = PaymentOverdue
		}
	case TermsSellOrReturn:
		if !remaining {
			decision.Status = PaymentReconciled
		} else {
			decision.Status = PaymentPendingReconciliation
		}
	default:
		switch {
		case !remaining:
			decision.Status = PaymentPaid
		case paid:
			decision.Status = PaymentPartiallyPaid
		default:
			decision.Status = PaymentUnpaid
		}
	}
	return decision
}

// ValidTerms reports whether t is a known payment term. The empty value means
// one-time payment.
func ValidTerms(t PaymentTerms) bool {
	switch t {
	case TermsAdvance, TermsCredit, TermsSellOrReturn, TermsOneTime, "":
		return true
	default:
		return false
	}
}
