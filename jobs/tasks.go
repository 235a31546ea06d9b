package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCreditNoteIssued announces a credit note issued for overpayment.
	TaskCreditNoteIssued = "notify:credit_note_issued"
	// TaskReceiptReindex rewrites cached receipt statuses of purchase orders.
	TaskReceiptReindex = "procurement:receipt_reindex"
	// TaskPaymentRecalc recomputes payment statuses of credit-term orders.
	TaskPaymentRecalc = "ap:payment_recalc"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// CreditNoteIssuedPayload describes an issued credit note.
type CreditNoteIssuedPayload struct {
	CreditNoteID int64           `json:"credit_note_id"`
	Number       string          `json:"number"`
	POID         int64           `json:"po_id"`
	Amount       decimal.Decimal `json:"amount"`
	Reason       string          `json:"reason"`
	Kind         string          `json:"kind"`
}

// NewCreditNoteIssuedTask constructs an Asynq task.
func NewCreditNoteIssuedTask(payload CreditNoteIssuedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCreditNoteIssued, data, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// OrderPayload targets one purchase order, or every eligible order when POID
// is zero.
type OrderPayload struct {
	POID int64 `json:"po_id,omitempty"`
}

// NewReceiptReindexTask builds a receipt reindex task.
func NewReceiptReindexTask(poID int64) (*asynq.Task, error) {
	return newOrderTask(TaskReceiptReindex, poID)
}

// NewPaymentRecalcTask builds a payment recalculation task.
func NewPaymentRecalcTask(poID int64) (*asynq.Task, error) {
	return newOrderTask(TaskPaymentRecalc, poID)
}

func newOrderTask(taskType string, poID int64) (*asynq.Task, error) {
	body, err := json.Marshal(OrderPayload{POID: poID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, body, asynq.Queue(QueueDefault)), nil
}
