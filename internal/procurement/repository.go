package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/dcops/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence.
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

// WithTx wraps callback in a transaction; writers serialise on the order row lock.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithLockingTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const poColumns = `id, number, supplier_id, fc_id, status, payment_terms, total_amount, credit_period_days,
single_receipt, receipt_status, created_at`

func getPO(ctx context.Context, q querier, id int64, forUpdate bool) (PurchaseOrder, []POLine, error) {
	query := `SELECT ` + poColumns + ` FROM purchase_orders WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var po PurchaseOrder
	err := q.QueryRow(ctx, query, id).Scan(&po.ID, &po.Number, &po.SupplierID, &po.FCID, &po.Status, &po.PaymentTerms,
		&po.TotalAmount, &po.CreditPeriodDays, &po.SingleReceipt, &po.ReceiptStatus, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrNotFound
		}
		return PurchaseOrder{}, nil, err
	}
	rows, err := q.Query(ctx, `SELECT id, po_id, sku, COALESCE(parent_sku,''), qty, unit_price FROM po_lines WHERE po_id=$1 ORDER BY id`, id)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.SKU, &line.ParentSKU, &line.Qty, &line.UnitPrice); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func countGoodsReceipts(ctx context.Context, q querier, poID int64) (int, error) {
	var count int
	err := q.QueryRow(ctx, `SELECT COUNT(*) FROM grns WHERE po_id=$1`, poID).Scan(&count)
	return count, err
}

func listReceiptLines(ctx context.Context, q querier, filter string, arg int64) ([]ReceiptLine, error) {
	rows, err := q.Query(ctx, `SELECT l.id, l.grn_id, l.sku, l.received, l.rejected, l.qc_pass, l.qc_fail, l.held, l.rtv,
l.pending, l.status, COALESCE(l.rejection_comment,'')
FROM grn_lines l JOIN grns g ON g.id = l.grn_id WHERE `+filter+` ORDER BY g.created_at, l.id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []ReceiptLine
	for rows.Next() {
		var line ReceiptLine
		if err := rows.Scan(&line.ID, &line.GRNID, &line.SKU, &line.Received, &line.Rejected, &line.QCPass, &line.QCFail,
			&line.Held, &line.RTV, &line.Pending, &line.Status, &line.RejectionComment); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// GetPO returns purchase order and lines.
func (r *Repository) GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return getPO(ctx, r.pool, id, false)
}

// CountGoodsReceipts counts receipt events of an order.
func (r *Repository) CountGoodsReceipts(ctx context.Context, poID int64) (int, error) {
	return countGoodsReceipts(ctx, r.pool, poID)
}

// ListReceiptLines returns every receipt line of every receipt event of an order.
func (r *Repository) ListReceiptLines(ctx context.Context, poID int64) ([]ReceiptLine, error) {
	return listReceiptLines(ctx, r.pool, "g.po_id=$1", poID)
}

// GetGoodsReceipt returns a receipt event with its lines, batches and photos.
func (r *Repository) GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceiptDetail, error) {
	var detail GoodsReceiptDetail
	err := r.pool.QueryRow(ctx, `SELECT id, number, po_id, status, note, created_by, created_at FROM grns WHERE id=$1`, id).
		Scan(&detail.ID, &detail.Number, &detail.POID, &detail.Status, &detail.Note, &detail.CreatedBy, &detail.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return GoodsReceiptDetail{}, ErrNotFound
		}
		return GoodsReceiptDetail{}, err
	}
	lines, err := listReceiptLines(ctx, r.pool, "l.grn_id=$1", id)
	if err != nil {
		return GoodsReceiptDetail{}, err
	}
	batches, err := r.listBatches(ctx, id)
	if err != nil {
		return GoodsReceiptDetail{}, err
	}
	for _, line := range lines {
		detail.Lines = append(detail.Lines, ReceiptLineDetail{ReceiptLine: line, Batches: batches[line.ID]})
	}

	rows, err := r.pool.Query(ctx, `SELECT id, grn_id, COALESCE(sku,''), object_key FROM grn_photos WHERE grn_id=$1 ORDER BY id`, id)
	if err != nil {
		return GoodsReceiptDetail{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var photo ReceiptPhoto
		if err := rows.Scan(&photo.ID, &photo.GRNID, &photo.SKU, &photo.ObjectKey); err != nil {
			return GoodsReceiptDetail{}, err
		}
		detail.Photos = append(detail.Photos, photo)
	}
	return detail, rows.Err()
}

func (r *Repository) listBatches(ctx context.Context, grnID int64) (map[int64][]ReceiptBatch, error) {
	rows, err := r.pool.Query(ctx, `SELECT b.id, b.grn_line_id, b.batch_number, b.expires_at, b.qty
FROM grn_batches b JOIN grn_lines l ON l.id = b.grn_line_id WHERE l.grn_id=$1 ORDER BY b.id`, grnID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]ReceiptBatch)
	for rows.Next() {
		var b ReceiptBatch
		if err := rows.Scan(&b.ID, &b.LineID, &b.BatchNumber, &b.ExpiresAt, &b.Qty); err != nil {
			return nil, err
		}
		out[b.LineID] = append(out[b.LineID], b)
	}
	return out, rows.Err()
}

// ListOpenPOIDs returns approved orders. The cached receipt status is not
// consulted, so a stale value can never hide an order from the sweep.
func (r *Repository) ListOpenPOIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM purchase_orders WHERE status='APPROVED' ORDER BY id`)
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

func (tx *txRepo) LockPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error) {
	return getPO(ctx, tx.tx, id, true)
}

func (tx *txRepo) CountGoodsReceipts(ctx context.Context, poID int64) (int, error) {
	return countGoodsReceipts(ctx, tx.tx, poID)
}

func (tx *txRepo) ListReceiptLines(ctx context.Context, poID int64) ([]ReceiptLine, error) {
	return listReceiptLines(ctx, tx.tx, "g.po_id=$1", poID)
}

func (tx *txRepo) CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO grns (number, po_id, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, grn.Number, grn.POID, grn.Status, grn.Note, grn.CreatedBy, grn.CreatedAt).Scan(&id)
	if err != nil {
		return 0, grnInsertError(err)
	}
	return id, nil
}

const grnNumberConstraint = "grns_number_key"

func grnInsertError(err error) error {
	if name, ok := db.UniqueConstraint(err); ok && name == grnNumberConstraint {
		return ErrReceiptNumberTaken
	}
	return err
}

func (tx *txRepo) InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error) {
	var id int64
	err := tx.tx.QueryRow(ctx, `INSERT INTO grn_lines (grn_id, sku, received, rejected, qc_pass, qc_fail, held, rtv, pending, status, rejection_comment)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`, line.GRNID, line.SKU, line.Received, line.Rejected, line.QCPass, line.QCFail,
		line.Held, line.RTV, line.Pending, line.Status, nullString(line.RejectionComment)).Scan(&id)
	return id, err
}

func (tx *txRepo) InsertReceiptBatch(ctx context.Context, batch ReceiptBatch) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO grn_batches (grn_line_id, batch_number, expires_at, qty) VALUES ($1,$2,$3,$4)`,
		batch.LineID, batch.BatchNumber, batch.ExpiresAt, batch.Qty)
	return err
}

func (tx *txRepo) InsertReceiptPhoto(ctx context.Context, photo ReceiptPhoto) error {
	_, err := tx.tx.Exec(ctx, `INSERT INTO grn_photos (grn_id, sku, object_key) VALUES ($1,$2,$3)`, photo.GRNID, nullString(photo.SKU), photo.ObjectKey)
	return err
}

func (tx *txRepo) GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, error) {
	var grn GoodsReceipt
	err := tx.tx.QueryRow(ctx, `SELECT id, number, po_id, status, note, created_by, created_at FROM grns WHERE id=$1 FOR UPDATE`, id).
		Scan(&grn.ID, &grn.Number, &grn.POID, &grn.Status, &grn.Note, &grn.CreatedBy, &grn.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, ErrNotFound
	}
	return grn, err
}

func (tx *txRepo) UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error {
	_, err := tx.tx.Exec(ctx, `UPDATE grns SET status=$1 WHERE id=$2`, status, id)
	return err
}

func (tx *txRepo) UpdatePOReceiptStatus(ctx context.Context, poID int64, status string) error {
	_, err := tx.tx.Exec(ctx, `UPDATE purchase_orders SET receipt_status=$1, updated_at=NOW() WHERE id=$2`, status, poID)
	return err
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
