package ap

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

const approvalModule = "ap.credit_note"

// RepositoryPort defines payment data access.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, poID int64) (OrderPayment, error)
	ListPayments(ctx context.Context, poID int64) ([]PaymentTransaction, error)
	ListCreditNotes(ctx context.Context, poID int64) ([]CreditNote, error)
	GetCreditNote(ctx context.Context, id int64) (CreditNote, error)
	ListOutstandingCreditOrders(ctx context.Context) ([]int64, error)
}

// TxRepository defines operations within a transaction.
type TxRepository interface {
	LockOrder(ctx context.Context, poID int64) (OrderPayment, error)
	ListPayments(ctx context.Context, poID int64) ([]PaymentTransaction, error)
	ListCreditNotes(ctx context.Context, poID int64) ([]CreditNote, error)
	InsertPayment(ctx context.Context, payment PaymentTransaction) (int64, error)
	InsertCreditNote(ctx context.Context, note CreditNote) (int64, error)
	GetCreditNoteForUpdate(ctx context.Context, id int64) (CreditNote, error)
	ApproveCreditNote(ctx context.Context, id, approverID int64, at time.Time) error
	UpdatePaymentState(ctx context.Context, poID int64, status reconcile.PaymentStatus, dueAt *time.Time) error
}

// IdempotencyPort claims request keys.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// ApprovalPort records credit-note approval history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error
}

// Notifier announces credit notes issued for overpayment.
type Notifier interface {
	CreditNoteIssued(ctx context.Context, note CreditNote) error
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort receives payment counters.
type MetricsPort interface {
	RecordPayment(status string)
	RecordCreditNote(kind string)
}

// Service settles purchase orders against payments and credit notes.
type Service struct {
	repo        RepositoryPort
	locker      shared.Locker
	logger      *slog.Logger
	idempotency IdempotencyPort
	approvals   ApprovalPort
	notifier    Notifier
	audit       AuditPort
	metrics     MetricsPort
	now         func() time.Time
}

// NewService constructs the AP service. locker may be nil.
func NewService(repo RepositoryPort, locker shared.Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, locker: locker, logger: logger, now: time.Now}
}

// SetIdempotency injects the idempotency key store.
func (s *Service) SetIdempotency(store IdempotencyPort) { s.idempotency = store }

// SetApprovals injects the approval recorder.
func (s *Service) SetApprovals(recorder ApprovalPort) { s.approvals = recorder }

// SetNotifier injects the credit-note notifier.
func (s *Service) SetNotifier(n Notifier) { s.notifier = n }

// SetAudit injects the audit logger.
func (s *Service) SetAudit(a AuditPort) { s.audit = a }

// SetMetrics injects payment counters.
func (s *Service) SetMetrics(m MetricsPort) { s.metrics = m }

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (in SubmitPaymentInput) validate() error {
	if in.POID == 0 {
		return validationf("purchase order reference required")
	}
	if !in.Amount.IsPositive() {
		return validationf("payment amount must be positive")
	}
	if !in.Mode.Valid() {
		return validationf("unknown payment mode %q", in.Mode)
	}
	switch in.Status {
	case reconcile.TransactionSuccess, reconcile.TransactionPending, reconcile.TransactionFailed:
	default:
		return validationf("unknown transaction status %q", in.Status)
	}
	return nil
}

// SubmitPayment records a payment and recomputes the order payment status in
// the same transaction. Writers on one order are serialised by the order row
// lock and, when configured, a distributed order lock.
func (s *Service) SubmitPayment(ctx context.Context, scope shared.Scope, input SubmitPaymentInput) (PaymentResult, error) {
	if input.Status == "" {
		input.Status = reconcile.TransactionSuccess
	}
	input.ReferenceNo = strings.TrimSpace(input.ReferenceNo)
	if err := input.validate(); err != nil {
		return PaymentResult{}, err
	}
	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "ap.payment"); err != nil {
			return PaymentResult{}, err
		}
	}

	var result PaymentResult
	err := s.withOrderLock(ctx, input.POID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, err := tx.LockOrder(ctx, input.POID)
			if err != nil {
				return err
			}
			if !scope.CanSee(order.FCID) {
				return ErrNotFound
			}
			if !order.acceptsPayments() {
				return ErrOrderNotPayable
			}
			payment := PaymentTransaction{
				POID:        order.ID,
				Amount:      input.Amount,
				Mode:        input.Mode,
				Status:      input.Status,
				ReferenceNo: input.ReferenceNo,
				CreatedBy:   scope.ActorID,
				CreatedAt:   s.now(),
			}
			id, err := tx.InsertPayment(ctx, payment)
			if err != nil {
				return err
			}
			payment.ID = id
			result, err = s.recompute(ctx, tx, order, scope.ActorID, &payment.ID)
			result.Payment = &payment
			return err
		})
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			if delErr := s.idempotency.Delete(context.WithoutCancel(ctx), input.IdempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		return PaymentResult{}, err
	}
	if s.metrics != nil {
		s.metrics.RecordPayment(string(result.Status))
	}
	s.recordAudit(ctx, scope.ActorID, "PAYMENT_SUBMIT", "payment", result.Payment.ID, map[string]any{
		"po_id":          input.POID,
		"amount":         input.Amount.String(),
		"mode":           input.Mode,
		"status":         input.Status,
		"payment_status": result.Status,
	})
	s.announce(ctx, result.CreditNote)
	return result, nil
}

// recompute folds every payment and credit note of the order, decides the new
// status and applies its side effects through tx. paymentID is the payment that
// triggered the recomputation, if any.
func (s *Service) recompute(ctx context.Context, tx TxRepository, order OrderPayment, actorID int64, paymentID *int64) (PaymentResult, error) {
	payments, err := tx.ListPayments(ctx, order.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	notes, err := tx.ListCreditNotes(ctx, order.ID)
	if err != nil {
		return PaymentResult{}, err
	}
	now := s.now()
	totals := reconcile.SumPayments(order.TotalAmount, paymentRecords(payments), creditRecords(notes))
	decision := reconcile.DecidePaymentStatus(totals, reconcile.PaymentContext{
		Terms:            order.Terms,
		CreditPeriodDays: order.CreditPeriodDays,
		DueAt:            order.DueAt,
		Now:              now,
	})

	result := PaymentResult{Status: decision.Status, Totals: decision.Totals, DueAt: order.DueAt}
	if decision.HasCreditNote() {
		approver := actorID
		note := CreditNote{
			Number:     generateNumber("CN"),
			POID:       order.ID,
			PaymentID:  paymentID,
			Amount:     decision.IssueCredit,
			Reason:     reconcile.OverpaymentReason,
			Kind:       reconcile.CreditNoteOverpayment,
			Status:     reconcile.CreditNoteApproved,
			CreatedBy:  actorID,
			ApprovedBy: &approver,
			ApprovedAt: &now,
			CreatedAt:  now,
		}
		id, err := tx.InsertCreditNote(ctx, note)
		if err != nil {
			return PaymentResult{}, err
		}
		note.ID = id
		result.CreditNote = &note
	}
	if decision.SetDueAt != nil {
		result.DueAt = decision.SetDueAt
	}
	if decision.Status == order.PaymentStatus && decision.SetDueAt == nil {
		return result, nil
	}
	return result, tx.UpdatePaymentState(ctx, order.ID, decision.Status, decision.SetDueAt)
}

// CreateCreditNote records a manual credit note awaiting approval.
func (s *Service) CreateCreditNote(ctx context.Context, scope shared.Scope, input CreateCreditNoteInput) (CreditNote, error) {
	input.Reason = strings.TrimSpace(input.Reason)
	if input.POID == 0 {
		return CreditNote{}, validationf("purchase order reference required")
	}
	if !input.Amount.IsPositive() {
		return CreditNote{}, validationf("credit note amount must be positive")
	}
	if input.Reason == "" {
		return CreditNote{}, validationf("credit note reason required")
	}
	var note CreditNote
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.LockOrder(ctx, input.POID)
		if err != nil {
			return err
		}
		if !scope.CanSee(order.FCID) {
			return ErrNotFound
		}
		note = CreditNote{
			Number:    generateNumber("CN"),
			POID:      order.ID,
			Amount:    input.Amount,
			Reason:    input.Reason,
			Kind:      reconcile.CreditNoteManual,
			Status:    reconcile.CreditNotePending,
			CreatedBy: scope.ActorID,
			CreatedAt: s.now(),
		}
		id, err := tx.InsertCreditNote(ctx, note)
		note.ID = id
		return err
	})
	if err != nil {
		return CreditNote{}, err
	}
	if s.approvals != nil && scope.ActorID != 0 {
		if err := s.approvals.EnsureSubmit(ctx, approvalModule, shared.ApprovalRef(approvalModule, note.ID), scope.ActorID, note.Reason); err != nil {
			s.logger.Warn("credit note submit approval", slog.Int64("credit_note_id", note.ID), slog.Any("error", err))
		}
	}
	if s.metrics != nil {
		s.metrics.RecordCreditNote(string(note.Kind))
	}
	s.recordAudit(ctx, scope.ActorID, "CREDIT_NOTE_CREATE", "credit_note", note.ID, map[string]any{
		"po_id":  note.POID,
		"amount": note.Amount.String(),
	})
	return note, nil
}

// ApproveCreditNote flips a pending note to approved and recomputes the
// payment status of its order. A note can be approved once.
func (s *Service) ApproveCreditNote(ctx context.Context, scope shared.Scope, id int64) (PaymentResult, error) {
	if scope.ActorID == 0 {
		return PaymentResult{}, validationf("approver required")
	}
	existing, err := s.repo.GetCreditNote(ctx, id)
	if err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	err = s.withOrderLock(ctx, existing.POID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, err := tx.LockOrder(ctx, existing.POID)
			if err != nil {
				return err
			}
			if !scope.CanSee(order.FCID) {
				return ErrNotFound
			}
			note, err := tx.GetCreditNoteForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if note.Status != reconcile.CreditNotePending {
				return ErrCreditNoteNotPending
			}
			if note.CreatedBy == scope.ActorID {
				return validationf("credit note cannot be approved by its creator")
			}
			at := s.now()
			if err := tx.ApproveCreditNote(ctx, id, scope.ActorID, at); err != nil {
				return err
			}
			result, err = s.recompute(ctx, tx, order, scope.ActorID, nil)
			return err
		})
	})
	if err != nil {
		return PaymentResult{}, err
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  approvalModule,
			RefID:   shared.ApprovalRef(approvalModule, id),
			ActorID: scope.ActorID,
			Action:  shared.ApprovalApprove,
		}); err != nil {
			s.logger.Warn("credit note approval log", slog.Int64("credit_note_id", id), slog.Any("error", err))
		}
	}
	s.recordAudit(ctx, scope.ActorID, "CREDIT_NOTE_APPROVE", "credit_note", id, map[string]any{
		"po_id":          existing.POID,
		"payment_status": result.Status,
	})
	s.announce(ctx, result.CreditNote)
	return result, nil
}

// PaymentSummary folds the order's payments and credit notes as of now
// without writing anything.
func (s *Service) PaymentSummary(ctx context.Context, scope shared.Scope, poID int64) (PaymentSummary, error) {
	if poID == 0 {
		return PaymentSummary{}, validationf("purchase order reference required")
	}
	order, err := s.repo.GetOrder(ctx, poID)
	if err != nil {
		return PaymentSummary{}, err
	}
	if !scope.CanSee(order.FCID) {
		return PaymentSummary{}, ErrNotFound
	}
	payments, err := s.repo.ListPayments(ctx, poID)
	if err != nil {
		return PaymentSummary{}, err
	}
	notes, err := s.repo.ListCreditNotes(ctx, poID)
	if err != nil {
		return PaymentSummary{}, err
	}
	totals := reconcile.SumPayments(order.TotalAmount, paymentRecords(payments), creditRecords(notes))
	decision := reconcile.DecidePaymentStatus(totals, reconcile.PaymentContext{
		Terms:            order.Terms,
		CreditPeriodDays: order.CreditPeriodDays,
		DueAt:            order.DueAt,
		Now:              s.now(),
	})
	return PaymentSummary{
		POID:            order.ID,
		Number:          order.Number,
		Terms:           order.Terms,
		Status:          decision.Status,
		PersistedStatus: order.PaymentStatus,
		Totals:          decision.Totals,
		DueAt:           order.DueAt,
		Payments:        payments,
		CreditNotes:     notes,
	}, nil
}

// RecalculatePaymentStatus recomputes and persists the payment status of one
// order. Time alone can move a credit order to overdue.
func (s *Service) RecalculatePaymentStatus(ctx context.Context, poID int64) (PaymentResult, error) {
	var result PaymentResult
	err := s.withOrderLock(ctx, poID, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			order, err := tx.LockOrder(ctx, poID)
			if err != nil {
				return err
			}
			result, err = s.recompute(ctx, tx, order, 0, nil)
			return err
		})
	})
	if err != nil {
		return PaymentResult{}, err
	}
	s.announce(ctx, result.CreditNote)
	return result, nil
}

// RecalculateOutstanding refreshes every credit order that still has a balance
// and returns how many were processed.
func (s *Service) RecalculateOutstanding(ctx context.Context) (int, error) {
	ids, err := s.repo.ListOutstandingCreditOrders(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if _, err := s.RecalculatePaymentStatus(ctx, id); err != nil {
			return done, fmt.Errorf("recalculate po %d: %w", id, err)
		}
		done++
	}
	return done, nil
}

func (s *Service) announce(ctx context.Context, note *CreditNote) {
	if note == nil {
		return
	}
	if s.metrics != nil {
		s.metrics.RecordCreditNote(string(note.Kind))
	}
	if s.notifier == nil {
		return
	}
	if err := s.notifier.CreditNoteIssued(ctx, *note); err != nil {
		s.logger.Warn("credit note notification", slog.Int64("credit_note_id", note.ID), slog.Any("error", err))
	}
}

func (s *Service) withOrderLock(ctx context.Context, poID int64, fn func(context.Context) error) error {
	if s.locker == nil {
		return fn(ctx)
	}
	return s.locker.WithOrderLock(ctx, poID, fn)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: entity, EntityID: shared.EntityRef(entityID), Meta: meta}); err != nil {
		s.logger.Warn("ap audit", slog.String("action", action), slog.Any("error", err))
	}
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(uuid.NewString()[:8]))
}
