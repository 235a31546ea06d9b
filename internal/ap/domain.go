package ap

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dcops/internal/reconcile"
	"github.com/odyssey-erp/dcops/internal/shared"
)

// PaymentMode enumerates how a supplier was paid.
type PaymentMode string

const (
	ModeCash         PaymentMode = "CASH"
	ModeBankTransfer PaymentMode = "BANK_TRANSFER"
	ModeCheque       PaymentMode = "CHEQUE"
	ModeUPI          PaymentMode = "UPI"
	ModeCard         PaymentMode = "CARD"
)

// Valid reports whether m is a supported payment mode.
func (m PaymentMode) Valid() bool {
	switch m {
	case ModeCash, ModeBankTransfer, ModeCheque, ModeUPI, ModeCard:
		return true
	default:
		return false
	}
}

// OrderPayment is the payment view of a purchase order.
type OrderPayment struct {
	ID               int64
	Number           string
	FCID             int64
	ApprovalStatus   string
	Terms            reconcile.PaymentTerms
	TotalAmount      decimal.Decimal
	CreditPeriodDays *int
	DueAt            *time.Time
	// PaymentStatus is the last persisted status. It is a write target only.
	PaymentStatus reconcile.PaymentStatus
}

// acceptsPayments reports whether the approval workflow allows settlement.
func (o OrderPayment) acceptsPayments() bool {
	return o.ApprovalStatus == "APPROVED" || o.ApprovalStatus == "CLOSED"
}

// PaymentTransaction is one immutable payment event.
type PaymentTransaction struct {
	ID          int64                       `json:"id"`
	POID        int64                       `json:"po_id"`
	Amount      decimal.Decimal             `json:"amount"`
	Mode        PaymentMode                 `json:"mode"`
	Status      reconcile.TransactionStatus `json:"status"`
	ReferenceNo string                      `json:"reference_no,omitempty"`
	CreatedBy   int64                       `json:"created_by"`
	CreatedAt   time.Time                   `json:"created_at"`
}

// CreditNote reduces the payable amount of an order once approved.
type CreditNote struct {
	ID         int64                      `json:"id"`
	Number     string                     `json:"number"`
	POID       int64                      `json:"po_id"`
	PaymentID  *int64                     `json:"payment_id,omitempty"`
	Amount     decimal.Decimal            `json:"amount"`
	Reason     string                     `json:"reason"`
	Kind       reconcile.CreditNoteKind   `json:"kind"`
	Status     reconcile.CreditNoteStatus `json:"status"`
	CreatedBy  int64                      `json:"created_by"`
	ApprovedBy *int64                     `json:"approved_by,omitempty"`
	ApprovedAt *time.Time                 `json:"approved_at,omitempty"`
	CreatedAt  time.Time                  `json:"created_at"`
}

// SubmitPaymentInput describes a payment against an order.
type SubmitPaymentInput struct {
	POID           int64
	Amount         decimal.Decimal
	Mode           PaymentMode
	Status         reconcile.TransactionStatus
	ReferenceNo    string
	IdempotencyKey string
}

// CreateCreditNoteInput describes a manual credit note.
type CreateCreditNoteInput struct {
	POID   int64
	Amount decimal.Decimal
	Reason string
}

// PaymentResult is what a payment write produced.
type PaymentResult struct {
	Payment    *PaymentTransaction     `json:"payment,omitempty"`
	Status     reconcile.PaymentStatus `json:"payment_status"`
	Totals     reconcile.PaymentTotals `json:"totals"`
	DueAt      *time.Time              `json:"due_at,omitempty"`
	CreditNote *CreditNote             `json:"credit_note,omitempty"`
}

// PaymentSummary is the read-only payment position of an order.
type PaymentSummary struct {
	POID            int64                   `json:"po_id"`
	Number          string                  `json:"number"`
	Terms           reconcile.PaymentTerms  `json:"payment_terms"`
	Status          reconcile.PaymentStatus `json:"payment_status"`
	PersistedStatus reconcile.PaymentStatus `json:"persisted_status,omitempty"`
	Totals          reconcile.PaymentTotals `json:"totals"`
	DueAt           *time.Time              `json:"due_at,omitempty"`
	Payments        []PaymentTransaction    `json:"payments"`
	CreditNotes     []CreditNote            `json:"credit_notes"`
}

func paymentRecords(payments []PaymentTransaction) []reconcile.PaymentRecord {
	out := make([]reconcile.PaymentRecord, 0, len(payments))
	for _, p := range payments {
		out = append(out, reconcile.PaymentRecord{Amount: p.Amount, Status: p.Status})
	}
	return out
}

func creditRecords(notes []CreditNote) []reconcile.CreditRecord {
	out := make([]reconcile.CreditRecord, 0, len(notes))
	for _, n := range notes {
		out = append(out, reconcile.CreditRecord{Amount: n.Amount, Status: n.Status, Kind: n.Kind})
	}
	return out
}

var (
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("ap: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("ap: %w", shared.ErrValidation)
	// ErrCreditNoteNotPending occurs when approving a note twice.
	ErrCreditNoteNotPending = fmt.Errorf("ap: credit note is not pending: %w", shared.ErrConsistency)
	// ErrOrderNotPayable occurs when the order approval status forbids payments.
	ErrOrderNotPayable = fmt.Errorf("ap: order does not accept payments: %w", shared.ErrConsistency)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
