// Package reconcile derives receiving and payment statuses for purchase orders
// from their append-only receipt, payment and credit-note records.
package reconcile

// LineStatus is the derived receiving status of a single SKU.
type LineStatus string

const (
	LinePending   LineStatus = "pending"
	LinePartial   LineStatus = "partial"
	LineRejected  LineStatus = "rejected"
	LineCompleted LineStatus = "completed"
)

// Valid reports whether s is part of the line status vocabulary.
func (s LineStatus) Valid() bool {
	switch s {
	case LinePending, LinePartial, LineRejected, LineCompleted:
		return true
	default:
		return false
	}
}

// ComputeLineStatus maps ordered, rejected and QC-passed quantities of one SKU
// to a status. Rules are first-match; several of them overlap, so the order
// below is part of the contract.
func ComputeLineStatus(ordered, rejected, qcPass int64) LineStatus {
	ordered = nonNegative(ordered)
	rejected = nonNegative(rejected)
	qcPass = nonNegative(qcPass)

	switch {
	case ordered == 0:
		return LinePending
	case ordered == rejected:
		return LineRejected
	case ordered == qcPass:
		return LineCompleted
	case ordered == rejected+qcPass:
		return LinePartial
	case (ordered > rejected && rejected > 0) || (qcPass > 0 && qcPass < ordered):
		return LinePartial
	case ordered > rejected && rejected == 0 && qcPass == 0:
		return LinePending
	default:
		return LinePending
	}
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func clamp(v, lo, hi int64) int64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
