package reconcile

import "sort"

// ReceiptLine is one immutable receipt-line record as read from the event
// store. Quantities are raw; nothing on it is trusted as already reconciled.
type ReceiptLine struct {
	ReceiptID int64
	SKU       string
	Received  int64
	Rejected  int64
	QCPass    int64
	QCFail    int64
	Held      int64
	RTV       int64
}

// LineReconciliation is the folded view of every receipt line of one SKU.
type LineReconciliation struct {
	SKU               string     `json:"sku"`
	Ordered           int64      `json:"ordered"`
	Received          int64      `json:"received"`
	QCPass            int64      `json:"qc_pass"`
	QCFail            int64      `json:"qc_fail"`
	Held              int64      `json:"held"`
	RTV               int64      `json:"rtv"`
	RawRejected       int64      `json:"raw_rejected"`
	EffectiveRejected int64      `json:"rejected"`
	Pending           int64      `json:"pending"`
	ReceiptEvents     int        `json:"receipt_events"`
	Status            LineStatus `json:"status"`
}

// ReconcileLine folds all receipt lines of sku against the authorized ordered
// quantity. Lines for other SKUs are ignored. With no matching line the result
// is an all-zero line that still goes through ComputeLineStatus.
func ReconcileLine(sku string, ordered int64, lines []ReceiptLine) LineReconciliation {
	out := LineReconciliation{SKU: sku, Ordered: nonNegative(ordered)}
	events := make(map[int64]struct{})
	for _, line := range lines {
		if line.SKU != sku {
			continue
		}
		out.Received += nonNegative(line.Received)
		out.QCPass += nonNegative(line.QCPass)
		out.RawRejected += nonNegative(line.Rejected)
		out.QCFail += nonNegative(line.QCFail)
		out.Held += nonNegative(line.Held)
		out.RTV += nonNegative(line.RTV)
		events[line.ReceiptID] = struct{}{}
	}
	out.ReceiptEvents = len(events)
	out.EffectiveRejected = clamp(out.RawRejected, 0, out.Ordered-out.QCPass)
	out.Pending = nonNegative(out.Ordered - out.Received)
	out.Status = ComputeLineStatus(out.Ordered, out.EffectiveRejected, out.QCPass)
	return out
}

// ReconcileOrder reconciles every SKU of the baseline independently, sorted by
// SKU. Matrix sub-SKUs are baseline entries of their own and are not rolled up.
func ReconcileOrder(orderedBySKU map[string]int64, lines []ReceiptLine) []LineReconciliation {
	skus := make([]string, 0, len(orderedBySKU))
	for sku := range orderedBySKU {
		skus = append(skus, sku)
	}
	sort.Strings(skus)

	bySKU := make(map[string][]ReceiptLine, len(skus))
	for _, line := range lines {
		bySKU[line.SKU] = append(bySKU[line.SKU], line)
	}

	out := make([]LineReconciliation, 0, len(skus))
	for _, sku := range skus {
		out = append(out, ReconcileLine(sku, orderedBySKU[sku], bySKU[sku]))
	}
	return out
}

// Statuses extracts the per-SKU statuses in order.
func Statuses(lines []LineReconciliation) []LineStatus {
	out := make([]LineStatus, 0, len(lines))
	for _, line := range lines {
		out = append(out, line.Status)
	}
	return out
}
