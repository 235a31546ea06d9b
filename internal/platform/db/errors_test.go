package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestUniqueConstraint(t *testing.T) {
	err := fmt.Errorf("insert grn: %w", &pgconn.PgError{Code: "23505", ConstraintName: "grns_number_key"})
	name, ok := UniqueConstraint(err)
	require.True(t, ok)
	require.Equal(t, "grns_number_key", name)
	require.True(t, IsUniqueViolation(err))

	_, ok = UniqueConstraint(&pgconn.PgError{Code: "23503", ConstraintName: "grns_po_id_fkey"})
	require.False(t, ok)
	require.False(t, IsUniqueViolation(errors.New("boom")))
	require.False(t, IsUniqueViolation(nil))
}
