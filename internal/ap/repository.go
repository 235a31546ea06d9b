package ap

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/dcops/internal/platform/db"
	"github.com/odyssey-erp/dcops/internal/reconcile"
)

// Ensure implementation
var _ RepositoryPort = (*Repository)(nil)
var _ TxRepository = (*txRepo)(nil)

// Repository provides PostgreSQL backed persistence for payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx runs fn in a read-committed transaction; writers serialise on the
// order row lock taken by LockOrder.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

func getOrder(ctx context.Context, q querier, poID int64, forUpdate bool) (OrderPayment, error) {
	query := `SELECT id, number, fc_id, status, payment_terms, total_amount, credit_period_days, payment_due_at, payment_status
FROM purchase_orders WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var order OrderPayment
	err := q.QueryRow(ctx, query, poID).Scan(&order.ID, &order.Number, &order.FCID, &order.ApprovalStatus, &order.Terms,
		&order.TotalAmount, &order.CreditPeriodDays, &order.DueAt, &order.PaymentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderPayment{}, ErrNotFound
	}
	return order, err
}

func listPayments(ctx context.Context, q querier, poID int64) ([]PaymentTransaction, error) {
	rows, err := q.Query(ctx, `SELECT id, po_id, amount, mode, status, COALESCE(reference_no,''), created_by, created_at
FROM payment_transactions WHERE po_id=$1 ORDER BY created_at, id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PaymentTransaction
	for rows.Next() {
		var p PaymentTransaction
		if err := rows.Scan(&p.ID, &p.POID, &p.Amount, &p.Mode, &p.Status, &p.ReferenceNo, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

const creditNoteColumns = `id, number, po_id, payment_id, amount, reason, kind, status, created_by, approved_by, approved_at, created_at`

func scanCreditNote(row pgx.Row) (CreditNote, error) {
	var n CreditNote
	err := row.Scan(&n.ID, &n.Number, &n.POID, &n.PaymentID, &n.Amount, &n.Reason, &n.Kind, &n.Status, &n.CreatedBy, &n.ApprovedBy, &n.ApprovedAt, &n.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CreditNote{}, ErrNotFound
	}
	return n, err
}

func listCreditNotes(ctx context.Context, q querier, poID int64) ([]CreditNote, error) {
	rows, err := q.Query(ctx, `SELECT `+creditNoteColumns+` FROM credit_notes WHERE po_id=$1 ORDER BY created_at, id`, poID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CreditNote
	for rows.Next() {
		n, err := scanCreditNote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// GetOrder returns the payment view of a purchase order.
func (r *Repository) GetOrder(ctx context.Context, poID int64) (OrderPayment, error) {
	return getOrder(ctx, r.pool, poID, false)
}

// ListPayments returns every payment transaction of an order.
func (r *Repository) ListPayments(ctx context.Context, poID int64) ([]PaymentTransaction, error) {
	return listPayments(ctx, r.pool, poID)
}

// ListCreditNotes returns every credit note of an order.
func (r *Repository) ListCreditNotes(ctx context.Context, poID int64) ([]CreditNote, error) {
	return listCreditNotes(ctx, r.pool, poID)
}

// GetCreditNote loads a credit note.
func (r *Repository) GetCreditNote(ctx context.Context, id int64) (CreditNote, error) {
	return scanCreditNote(r.pool.QueryRow(ctx, `SELECT `+creditNoteColumns+` FROM credit_notes WHERE id=$1`, id))
}

// ListOutstandingCreditOrders returns credit-term orders whose balance is not cleared.
func (r *Repository) ListOutstandingCreditOrders(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM purchase_orders
WHERE payment_terms=$1 AND status IN ('APPROVED','CLOSED') AND payment_status IN ($2,$3,$4) ORDER BY id`,
		reconcile.TermsCredit, reconcile.PaymentUnpaid, reconcile.PaymentCreditDue, reconcile.PaymentOverdue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (tx *txRepo) LockOrder(ctx context.Context, poID int64) (OrderPayment, error) {
	return getOrder(ctx, tx.tx, poID, true)
}

func (tx *txRepo) ListPayments(ctx context.Context, poID int64) ([]PaymentTransaction, error) {
	return listPayments(ctx, tx.tx, poID)
}

func (tx *txRepo) ListCreditNotes(ctx context.Context, poID int64) ([]CreditNote, error) {
	return listCreditNotes(ctx, tx.tx, poID)
}

func (tx *txRepo) InsertPayment(ctx context.Context, p PaymentTransaction) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO payment_transactions (po_id, amount, mode, status, reference_no, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`, p.POID, p.Amount, p.Mode, p.Status, nullString(p.ReferenceNo), p.CreatedBy, p.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertCreditNote(ctx context.Context, n CreditNote) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO credit_notes (number, po_id, payment_id, amount, reason, kind, status, created_by, approved_by, approved_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`, n.Number, n.POID, n.PaymentID, n.Amount, n.Reason, n.Kind, n.Status, n.CreatedBy,
		n.ApprovedBy, n.ApprovedAt, n.CreatedAt).Scan(&id)
	return id, err
}

func (tx *txRepo) GetCreditNoteForUpdate(ctx context.Context, id int64) (CreditNote, error) {
	return scanCreditNote(tx.tx.QueryRow(ctx, `SELECT `+creditNoteColumns+` FROM credit_notes WHERE id=$1 FOR UPDATE`, id))
}

// ApproveCreditNote only touches pending notes, so a replayed approval
// changes nothing.
func (tx *txRepo) ApproveCreditNote(ctx context.Context, id, approverID int64, at time.Time) error {
	tag, err := tx.tx.Exec(ctx, `UPDATE credit_notes SET status=$1, approved_by=$2, approved_at=$3 WHERE id=$4 AND status=$5`,
		reconcile.CreditNoteApproved, approverID, at, id, reconcile.CreditNotePending)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrCreditNoteNotPending
	}
	return nil
}

func (tx *txRepo) UpdatePaymentState(ctx context.Context, poID int64, status reconcile.PaymentStatus, dueAt *time.Time) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET payment_status=$1, payment_due_at=COALESCE($2, payment_due_at), updated_at=NOW()
WHERE id=$3`, status, dueAt, poID)
	return err
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
