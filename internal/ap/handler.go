package ap

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/dcops/internal/platform/httpx"
	"github.com/odyssey-erp/dcops/internal/reconcile"
	"github.com/odyssey-erp/dcops/internal/shared"
)

// Handler manages payment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/orders/{id}/payments", h.submitPayment)
	r.Get("/orders/{id}/payments/summary", h.paymentSummary)
	r.Post("/orders/{id}/credit-notes", h.createCreditNote)
	r.Post("/credit-notes/{id}/approve", h.approveCreditNote)
}

type paymentRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Mode        string          `json:"mode" validate:"required,oneof=CASH BANK_TRANSFER CHEQUE UPI CARD"`
	Status      string          `json:"status" validate:"omitempty,oneof=SUCCESS PENDING FAILED"`
	ReferenceNo string          `json:"reference_no" validate:"max=128"`
}

type creditNoteRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason" validate:"required,max=512"`
}

func (h *Handler) submitPayment(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req paymentRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.SubmitPayment(r.Context(), shared.ScopeFromContext(r.Context()), SubmitPaymentInput{
		POID:           poID,
		Amount:         req.Amount,
		Mode:           PaymentMode(req.Mode),
		Status:         reconcile.TransactionStatus(req.Status),
		ReferenceNo:    req.ReferenceNo,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) paymentSummary(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	summary, err := h.service.PaymentSummary(r.Context(), shared.ScopeFromContext(r.Context()), poID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) createCreditNote(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req creditNoteRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	note, err := h.service.CreateCreditNote(r.Context(), shared.ScopeFromContext(r.Context()), CreateCreditNoteInput{
		POID:   poID,
		Amount: req.Amount,
		Reason: req.Reason,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, note)
}

func (h *Handler) approveCreditNote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.service.ApproveCreditNote(r.Context(), shared.ScopeFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("ap request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
