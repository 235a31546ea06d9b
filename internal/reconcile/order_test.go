package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAggregateLineStatuses(t *testing.T) {
	cases := []struct {
		name  string
		lines []LineStatus
		want  LineStatus
	}{
		{"empty", nil, LinePending},
		{"all completed", []LineStatus{LineCompleted, LineCompleted}, LineCompleted},
		{"mixed pending completed", []LineStatus{LinePending, LineCompleted}, LinePartial},
		{"all rejected", []LineStatus{LineRejected, LineRejected}, LineRejected},
		{"all pending", []LineStatus{LinePending, LinePending}, LinePending},
		{"rejected and completed", []LineStatus{LineRejected, LineCompleted}, LinePartial},
		{"single partial", []LineStatus{LinePartial}, LinePartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, AggregateLineStatuses(tc.lines))
		})
	}
}

func TestOrderReceiptStatusFallsBackToApproval(t *testing.T) {
	require.Equal(t, "rejected", OrderReceiptStatus(OrderReceiptInput{ApprovalStatus: "REJECTED"}))
	require.Equal(t, "approved", OrderReceiptStatus(OrderReceiptInput{ApprovalStatus: "APPROVED"}))
	require.Equal(t, "completed", OrderReceiptStatus(OrderReceiptInput{
		HasReceipt:     true,
		ApprovalStatus: "APPROVED",
		Lines:          []LineStatus{LineCompleted},
	}))
}

func TestPresentReceiptStatus(t *testing.T) {
	require.Equal(t, "approved", PresentReceiptStatus("completed", "approved"))
	require.Equal(t, "completed", PresentReceiptStatus("completed", ""))
	require.Equal(t, "partial", PresentReceiptStatus("partial", "approved"))
	// the synonym is one-directional
	require.Equal(t, "approved", PresentReceiptStatus("approved", "completed"))
}
