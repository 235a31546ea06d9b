package procurement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/dcops/internal/reconcile"
	"github.com/odyssey-erp/dcops/internal/shared"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	CountGoodsReceipts(ctx context.Context, poID int64) (int, error)
	ListReceiptLines(ctx context.Context, poID int64) ([]ReceiptLine, error)
	GetGoodsReceipt(ctx context.Context, id int64) (GoodsReceiptDetail, error)
	ListOpenPOIDs(ctx context.Context) ([]int64, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockPO(ctx context.Context, id int64) (PurchaseOrder, []POLine, error)
	CountGoodsReceipts(ctx context.Context, poID int64) (int, error)
	ListReceiptLines(ctx context.Context, poID int64) ([]ReceiptLine, error)
	CreateGRN(ctx context.Context, grn GoodsReceipt) (int64, error)
	InsertReceiptLine(ctx context.Context, line ReceiptLine) (int64, error)
	InsertReceiptBatch(ctx context.Context, batch ReceiptBatch) error
	InsertReceiptPhoto(ctx context.Context, photo ReceiptPhoto) error
	GetGRNForUpdate(ctx context.Context, id int64) (GoodsReceipt, error)
	UpdateGRNStatus(ctx context.Context, id int64, status GRNStatus) error
	UpdatePOReceiptStatus(ctx context.Context, poID int64, status string) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives receiving counters.
type MetricsPort interface {
	RecordReceiptEvent(orderStatus string)
}

// Service orchestrates receiving flows and receipt status derivation.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	locker  shared.Locker
	metrics MetricsPort
	logger  *slog.Logger
}

// NewService constructs procurement service. audit and locker are optional.
func NewService(repo RepositoryPort, audit AuditPort, locker shared.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, locker: locker, logger: logger}
}

// SetMetrics injects receiving counters.
func (s *Service) SetMetrics(m MetricsPort) {
	s.metrics = m
}

// CreateGRNInput describes one receipt event.
type CreateGRNInput struct {
	POID   int64
	Number string
	Status GRNStatus
	Note   string
	Lines  []GRNLineInput
	Photos []PhotoInput
}

// GRNLineInput describes one received SKU.
type GRNLineInput struct {
	SKU              string
	Received         int64
	Rejected         int64
	QCPass           int64
	QCFail           int64
	Held             int64
	RTV              int64
	RejectionComment string
	Batches          []BatchInput
}

// BatchInput describes a received lot.
type BatchInput struct {
	BatchNumber string
	ExpiresAt   *time.Time
	Qty         int64
}

// PhotoInput references an uploaded photo.
type PhotoInput struct {
	SKU       string
	ObjectKey string
}

func (in CreateGRNInput) validate() error {
	if in.POID == 0 {
		return validationf("purchase order reference required")
	}
	if len(in.Lines) == 0 {
		return validationf("at least one receipt line required")
	}
	if in.Status != "" && !in.Status.Valid() {
		return validationf("unknown receipt status %q", in.Status)
	}
	seen := make(map[string]struct{}, len(in.Lines))
	for _, line := range in.Lines {
		if line.SKU == "" {
			return validationf("sku reference required")
		}
		if _, dup := seen[line.SKU]; dup {
			return validationf("sku %s appears twice in one receipt", line.SKU)
		}
		seen[line.SKU] = struct{}{}
		if line.Received < 0 || line.Rejected < 0 || line.QCPass < 0 || line.QCFail < 0 || line.Held < 0 || line.RTV < 0 {
			return validationf("quantities for sku %s must not be negative", line.SKU)
		}
		if line.Rejected > 0 && line.RejectionComment == "" {
			return validationf("rejection comment required for sku %s", line.SKU)
		}
		if len(line.Batches) == 0 {
			continue
		}
		var batchQty int64
		for _, b := range line.Batches {
			if b.BatchNumber == "" || b.Qty <= 0 {
				return validationf("batch for sku %s needs a number and a positive quantity", line.SKU)
			}
			batchQty += b.Qty
		}
		if batchQty != line.Received {
			return validationf("batches for sku %s sum to %d, received %d", line.SKU, batchQty, line.Received)
		}
	}
	for _, p := range in.Photos {
		if p.ObjectKey == "" {
			return validationf("photo object key required")
		}
	}
	return nil
}

// CreateGoodsReceipt inserts a receipt event with all lines, batches and photo
// references as one unit and refreshes the cached order receipt status.
func (s *Service) CreateGoodsReceipt(ctx context.Context, scope shared.Scope, input CreateGRNInput) (GoodsReceiptDetail, error) {
	if err := input.validate(); err != nil {
		return GoodsReceiptDetail{}, err
	}
	if input.Number == "" {
		input.Number = generateNumber("GRN")
	}
	if input.Status == "" {
		input.Status = GRNStatusPending
	}

	var (
		created     GoodsReceiptDetail
		orderStatus string
	)
	err := s.withOrderLock(ctx, input.POID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, poLines, err := tx.LockPO(ctx, input.POID)
			if err != nil {
				return err
			}
			if !scope.CanSee(po.FCID) {
				return ErrNotFound
			}
			if po.Status != POStatusApproved {
				return ErrInvalidState
			}
			ordered := OrderedBySKU(poLines)
			for _, line := range input.Lines {
				if _, ok := ordered[line.SKU]; !ok {
					return validationf("sku %s is not on purchase order %s", line.SKU, po.Number)
				}
			}
			if po.SingleReceipt {
				count, err := tx.CountGoodsReceipts(ctx, po.ID)
				if err != nil {
					return err
				}
				if count > 0 {
					return ErrDuplicateReceipt
				}
			}
			existing, err := tx.ListReceiptLines(ctx, po.ID)
			if err != nil {
				return err
			}

			grn := GoodsReceipt{Number: input.Number, POID: po.ID, Status: input.Status, Note: input.Note, CreatedBy: scope.ActorID, CreatedAt: time.Now()}
			grnID, err := tx.CreateGRN(ctx, grn)
			if err != nil {
				return err
			}
			grn.ID = grnID
			created = GoodsReceiptDetail{GoodsReceipt: grn}

			all := existing
			for _, in := range input.Lines {
				line := ReceiptLine{
					GRNID:            grnID,
					SKU:              in.SKU,
					Received:         in.Received,
					Rejected:         in.Rejected,
					QCPass:           in.QCPass,
					QCFail:           in.QCFail,
					Held:             in.Held,
					RTV:              in.RTV,
					RejectionComment: in.RejectionComment,
				}
				all = append(all, line)
				snapshot := reconcile.ReconcileLine(line.SKU, ordered[line.SKU], toEngineLines(all))
				line.Pending = snapshot.Pending
				line.Status = snapshot.Status

				lineID, err := tx.InsertReceiptLine(ctx, line)
				if err != nil {
					return err
				}
				line.ID = lineID
				detail := ReceiptLineDetail{ReceiptLine: line}
				for _, b := range in.Batches {
					batch := ReceiptBatch{LineID: lineID, BatchNumber: b.BatchNumber, ExpiresAt: b.ExpiresAt, Qty: b.Qty}
					if err := tx.InsertReceiptBatch(ctx, batch); err != nil {
						return err
					}
					detail.Batches = append(detail.Batches, batch)
				}
				created.Lines = append(created.Lines, detail)
			}
			for _, p := range input.Photos {
				photo := ReceiptPhoto{GRNID: grnID, SKU: p.SKU, ObjectKey: p.ObjectKey}
				if err := tx.InsertReceiptPhoto(ctx, photo); err != nil {
					return err
				}
				created.Photos = append(created.Photos, photo)
			}

			orderStatus = reconcile.OrderReceiptStatus(reconcile.OrderReceiptInput{
				HasReceipt:     true,
				ApprovalStatus: string(po.Status),
				Lines:          reconcile.Statuses(reconcile.ReconcileOrder(ordered, toEngineLines(all))),
			})
			return tx.UpdatePOReceiptStatus(ctx, po.ID, orderStatus)
		})
	})
	if err != nil {
		return GoodsReceiptDetail{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordReceiptEvent(orderStatus)
	}
	s.recordAudit(ctx, scope.ActorID, "GRN_CREATE", created.ID, map[string]any{
		"number":         created.Number,
		"po_id":          created.POID,
		"lines":          len(created.Lines),
		"receipt_status": orderStatus,
	})
	return created, nil
}

// OrderReceiptView is the derived receiving position of one order.
type OrderReceiptView struct {
	POID           int64                          `json:"po_id"`
	Number         string                         `json:"number"`
	Status         string                         `json:"status"`
	ComputedStatus string                         `json:"computed_status"`
	HasReceipt     bool                           `json:"has_receipt"`
	ReceiptEvents  int                            `json:"receipt_events"`
	Lines          []reconcile.LineReconciliation `json:"lines"`
}

// OrderReceiptStatus folds every committed receipt line of the order. queried
// is the status the caller filters on; it only affects presentation.
func (s *Service) OrderReceiptStatus(ctx context.Context, scope shared.Scope, poID int64, queried string) (OrderReceiptView, error) {
	if poID == 0 {
		return OrderReceiptView{}, validationf("purchase order reference required")
	}
	po, poLines, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return OrderReceiptView{}, err
	}
	if !scope.CanSee(po.FCID) {
		return OrderReceiptView{}, ErrNotFound
	}
	count, err := s.repo.CountGoodsReceipts(ctx, poID)
	if err != nil {
		return OrderReceiptView{}, err
	}
	lines, err := s.repo.ListReceiptLines(ctx, poID)
	if err != nil {
		return OrderReceiptView{}, err
	}
	view := deriveReceiptView(po, poLines, count, lines)
	view.Status = reconcile.PresentReceiptStatus(view.ComputedStatus, queried)
	return view, nil
}

func deriveReceiptView(po PurchaseOrder, poLines []POLine, count int, lines []ReceiptLine) OrderReceiptView {
	reconciled := reconcile.ReconcileOrder(OrderedBySKU(poLines), toEngineLines(lines))
	computed := reconcile.OrderReceiptStatus(reconcile.OrderReceiptInput{
		HasReceipt:     count > 0,
		ApprovalStatus: string(po.Status),
		Lines:          reconcile.Statuses(reconciled),
	})
	return OrderReceiptView{
		POID:           po.ID,
		Number:         po.Number,
		Status:         computed,
		ComputedStatus: computed,
		HasReceipt:     count > 0,
		ReceiptEvents:  count,
		Lines:          reconciled,
	}
}

// LineReconciliation returns the reconciled tuple of one SKU of the order.
func (s *Service) LineReconciliation(ctx context.Context, scope shared.Scope, poID int64, sku string) (reconcile.LineReconciliation, error) {
	if sku == "" {
		return reconcile.LineReconciliation{}, validationf("sku reference required")
	}
	po, poLines, err := s.repo.GetPO(ctx, poID)
	if err != nil {
		return reconcile.LineReconciliation{}, err
	}
	if !scope.CanSee(po.FCID) {
		return reconcile.LineReconciliation{}, ErrNotFound
	}
	ordered, ok := OrderedBySKU(poLines)[sku]
	if !ok {
		return reconcile.LineReconciliation{}, fmt.Errorf("sku %s: %w", sku, ErrNotFound)
	}
	lines, err := s.repo.ListReceiptLines(ctx, poID)
	if err != nil {
		return reconcile.LineReconciliation{}, err
	}
	return reconcile.ReconcileLine(sku, ordered, toEngineLines(lines)), nil
}

// GetGoodsReceipt returns a receipt event with lines, batches and photos.
func (s *Service) GetGoodsReceipt(ctx context.Context, scope shared.Scope, id int64) (GoodsReceiptDetail, error) {
	detail, err := s.repo.GetGoodsReceipt(ctx, id)
	if err != nil {
		return GoodsReceiptDetail{}, err
	}
	po, _, err := s.repo.GetPO(ctx, detail.POID)
	if err != nil {
		return GoodsReceiptDetail{}, err
	}
	if !scope.CanSee(po.FCID) {
		return GoodsReceiptDetail{}, ErrNotFound
	}
	return detail, nil
}

// SetGoodsReceiptStatus updates the manual status field of a receipt event.
// The derived order receipt status is not affected.
func (s *Service) SetGoodsReceiptStatus(ctx context.Context, scope shared.Scope, id int64, status GRNStatus) error {
	if !status.Valid() {
		return validationf("unknown receipt status %q", status)
	}
	var previous GRNStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, err := tx.GetGRNForUpdate(ctx, id)
		if err != nil {
			return err
		}
		po, _, err := tx.LockPO(ctx, grn.POID)
		if err != nil {
			return err
		}
		if !scope.CanSee(po.FCID) {
			return ErrNotFound
		}
		previous = grn.Status
		return tx.UpdateGRNStatus(ctx, id, status)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, scope.ActorID, "GRN_STATUS", id, map[string]any{"from": previous, "to": status})
	return nil
}

// ReindexReceiptStatus rewrites the cached receipt status column of one order
// from the committed receipt lines.
func (s *Service) ReindexReceiptStatus(ctx context.Context, poID int64) (string, error) {
	var status string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, poLines, err := tx.LockPO(ctx, poID)
		if err != nil {
			return err
		}
		count, err := tx.CountGoodsReceipts(ctx, poID)
		if err != nil {
			return err
		}
		lines, err := tx.ListReceiptLines(ctx, poID)
		if err != nil {
			return err
		}
		status = deriveReceiptView(po, poLines, count, lines).ComputedStatus
		if status == po.ReceiptStatus {
			return nil
		}
		return tx.UpdatePOReceiptStatus(ctx, poID, status)
	})
	return status, err
}

// ReindexOpenOrders refreshes the cached receipt status of every open order
// and returns how many were processed.
func (s *Service) ReindexOpenOrders(ctx context.Context) (int, error) {
	ids, err := s.repo.ListOpenPOIDs(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if _, err := s.ReindexReceiptStatus(ctx, id); err != nil {
			return done, fmt.Errorf("reindex po %d: %w", id, err)
		}
		done++
	}
	return done, nil
}

func (s *Service) withOrderLock(ctx context.Context, poID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithOrderLock(ctx, poID, fn)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "procurement", EntityID: shared.EntityRef(entityID), Meta: meta}); err != nil {
		s.logger.Warn("procurement audit", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}
