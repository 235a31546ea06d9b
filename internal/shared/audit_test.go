package shared

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuditLogValidation(t *testing.T) {
	cases := []struct {
		name string
		log  AuditLog
		ok   bool
	}{
		{name: "complete", log: AuditLog{ActorID: 1, Action: "PAYMENT_SUBMIT", Entity: "ap", EntityID: EntityRef(42)}, ok: true},
		{name: "system actor", log: AuditLog{Action: "PAYMENT_RECALC", Entity: "ap", EntityID: "7"}, ok: true},
		{name: "missing action", log: AuditLog{Entity: "ap", EntityID: "7"}},
		{name: "missing entity id", log: AuditLog{Action: "GRN_CREATE", Entity: "procurement"}},
		{name: "negative actor", log: AuditLog{ActorID: -1, Action: "GRN_CREATE", Entity: "procurement", EntityID: "1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.log.validate()
			if tc.ok {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
		})
	}
}

func TestAuditLoggerRequiresPool(t *testing.T) {
	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{Action: "A", Entity: "e", EntityID: "1"}))
	require.Error(t, NewAuditLogger(nil).Record(context.Background(), AuditLog{Action: "A", Entity: "e", EntityID: "1"}))
}

func TestEntityRef(t *testing.T) {
	require.Equal(t, "1042", EntityRef(1042))
}
