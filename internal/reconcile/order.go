package reconcile

import "strings"

// StatusApproved is the presentation label used for a completed order when
// the caller asks for "approved" orders.
const StatusApproved = "approved"

// AggregateLineStatuses collapses SKU statuses into one order status. Any
// non-uniform mix is partial.
func AggregateLineStatuses(statuses []LineStatus) LineStatus {
	if len(statuses) == 0 {
		return LinePending
	}
	switch {
	case allEqual(statuses, LineCompleted):
		return LineCompleted
	case allEqual(statuses, LineRejected):
		return LineRejected
	case allEqual(statuses, LinePending):
		return LinePending
	default:
		return LinePartial
	}
}

func allEqual(statuses []LineStatus, want LineStatus) bool {
	for _, s := range statuses {
		if s != want {
			return false
		}
	}
	return true
}

// OrderReceiptInput is what the order-level aggregator needs for one order.
type OrderReceiptInput struct {
	HasReceipt     bool
	ApprovalStatus string
	Lines          []LineStatus
}

// OrderReceiptStatus returns the receipt status of an order. Without any
// receipt event the order's approval status, lower-cased, is reported instead.
func OrderReceiptStatus(in OrderReceiptInput) string {
	if !in.HasReceipt {
		return strings.ToLower(in.ApprovalStatus)
	}
	return string(AggregateLineStatuses(in.Lines))
}

// PresentReceiptStatus applies the one-directional synonym used when callers
// filter on "approved": a computed completed status is relabelled approved.
func PresentReceiptStatus(computed, queried string) string {
	if strings.EqualFold(queried, StatusApproved) && computed == string(LineCompleted) {
		return StatusApproved
	}
	return computed
}
