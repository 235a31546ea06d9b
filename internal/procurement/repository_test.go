package procurement

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestGRNInsertError(t *testing.T) {
	err := grnInsertError(&pgconn.PgError{Code: "23505", ConstraintName: "grns_number_key"})
	require.ErrorIs(t, err, ErrReceiptNumberTaken)

	other := &pgconn.PgError{Code: "23505", ConstraintName: "grn_lines_grn_id_sku_key"}
	err = grnInsertError(other)
	require.NotErrorIs(t, err, ErrReceiptNumberTaken)
	require.NotErrorIs(t, err, ErrDuplicateReceipt)
	require.Equal(t, error(other), err)

	plain := errors.New("connection reset")
	require.Equal(t, plain, grnInsertError(plain))
}
