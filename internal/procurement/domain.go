package procurement

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dcops/internal/reconcile"
	"github.com/odyssey-erp/dcops/internal/shared"
)

// Purchase order approval-workflow statuses.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusPending   POStatus = "PENDING"
	POStatusApproved  POStatus = "APPROVED"
	POStatusRejected  POStatus = "REJECTED"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// GRNStatus is the manually maintained status of a receipt event. It is
// independent of the derived receipt status of the order.
type GRNStatus string

const (
	GRNStatusPending        GRNStatus = "pending"
	GRNStatusPendingQC      GRNStatus = "pending-qc"
	GRNStatusPartial        GRNStatus = "partial"
	GRNStatusCompleted      GRNStatus = "completed"
	GRNStatusRejected       GRNStatus = "rejected"
	GRNStatusClosed         GRNStatus = "closed"
	GRNStatusVarianceReview GRNStatus = "variance-review"
	GRNStatusRTVInitiated   GRNStatus = "rtv-initiated"
)

// Valid reports whether s belongs to the manual GRN vocabulary.
func (s GRNStatus) Valid() bool {
	switch s {
	case GRNStatusPending, GRNStatusPendingQC, GRNStatusPartial, GRNStatusCompleted,
		GRNStatusRejected, GRNStatusClosed, GRNStatusVarianceReview, GRNStatusRTVInitiated:
		return true
	default:
		return false
	}
}

// PurchaseOrder is the authorized baseline for receiving and payment.
type PurchaseOrder struct {
	ID               int64
	Number           string
	SupplierID       int64
	FCID             int64
	Status           POStatus
	PaymentTerms     reconcile.PaymentTerms
	TotalAmount      decimal.Decimal
	CreditPeriodDays *int
	SingleReceipt    bool
	// ReceiptStatus is a cached copy of the derived status kept for listing.
	// It is rewritten on every receipt write and never read for decisions.
	ReceiptStatus string
	CreatedAt     time.Time
}

// POLine is one authorized SKU of an order. Matrix variants share ParentSKU.
type POLine struct {
	ID        int64
	POID      int64
	SKU       string
	ParentSKU string
	Qty       int64
	UnitPrice decimal.Decimal
}

// OrderedBySKU sums the authorized quantity per SKU.
func OrderedBySKU(lines []POLine) map[string]int64 {
	out := make(map[string]int64, len(lines))
	for _, line := range lines {
		out[line.SKU] += line.Qty
	}
	return out
}

// GoodsReceipt is the header of one receipt event.
type GoodsReceipt struct {
	ID        int64     `json:"id"`
	Number    string    `json:"number"`
	POID      int64     `json:"po_id"`
	Status    GRNStatus `json:"status"`
	Note      string    `json:"note"`
	CreatedBy int64     `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ReceiptLine is one SKU received in one receipt event. Pending and Status are
// snapshots written at insert time; reads always re-derive them.
type ReceiptLine struct {
	ID               int64                `json:"id"`
	GRNID            int64                `json:"grn_id"`
	SKU              string               `json:"sku"`
	Received         int64                `json:"received"`
	Rejected         int64                `json:"rejected"`
	QCPass           int64                `json:"qc_pass"`
	QCFail           int64                `json:"qc_fail"`
	Held             int64                `json:"held"`
	RTV              int64                `json:"rtv"`
	Pending          int64                `json:"pending"`
	Status           reconcile.LineStatus `json:"status"`
	RejectionComment string               `json:"rejection_comment,omitempty"`
}

// ReceiptBatch is a lot of a receipt line.
type ReceiptBatch struct {
	ID          int64      `json:"id"`
	LineID      int64      `json:"line_id"`
	BatchNumber string     `json:"batch_number"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Qty         int64      `json:"qty"`
}

// ReceiptPhoto references an object stored outside this service.
type ReceiptPhoto struct {
	ID        int64  `json:"id"`
	GRNID     int64  `json:"grn_id"`
	SKU       string `json:"sku,omitempty"`
	ObjectKey string `json:"object_key"`
}

// ReceiptLineDetail groups a line with its batches.
type ReceiptLineDetail struct {
	ReceiptLine
	Batches []ReceiptBatch `json:"batches"`
}

// GoodsReceiptDetail is a receipt event with everything inserted alongside it.
type GoodsReceiptDetail struct {
	GoodsReceipt
	Lines  []ReceiptLineDetail `json:"lines"`
	Photos []ReceiptPhoto      `json:"photos"`
}

func toEngineLines(lines []ReceiptLine) []reconcile.ReceiptLine {
	out := make([]reconcile.ReceiptLine, 0, len(lines))
	for _, l := range lines {
		out = append(out, reconcile.ReceiptLine{
			ReceiptID: l.GRNID,
			SKU:       l.SKU,
			Received:  l.Received,
			Rejected:  l.Rejected,
			QCPass:    l.QCPass,
			QCFail:    l.QCFail,
			Held:      l.Held,
			RTV:       l.RTV,
		})
	}
	return out
}

var (
	// ErrInvalidState occurs when action violates status workflow.
	ErrInvalidState = fmt.Errorf("procurement: invalid state transition: %w", shared.ErrConsistency)
	// ErrDuplicateReceipt occurs when a single-receipt order already has a receipt event.
	ErrDuplicateReceipt = fmt.Errorf("procurement: order already has a receipt event: %w", shared.ErrConsistency)
	// ErrReceiptNumberTaken occurs when a receipt number is already used.
	ErrReceiptNumberTaken = fmt.Errorf("procurement: receipt number already in use: %w", shared.ErrConsistency)
	// ErrNotFound indicates record missing.
	ErrNotFound = fmt.Errorf("procurement: %w", shared.ErrNotFound)
	// ErrValidation indicates invalid input.
	ErrValidation = fmt.Errorf("procurement: %w", shared.ErrValidation)
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
