package procurement

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/dcops/internal/platform/httpx"
	"github.com/odyssey-erp/dcops/internal/shared"
)

// Handler exposes receiving endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers receiving routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/orders/{id}/receipt-status", h.handleReceiptStatus)
	r.Get("/orders/{id}/lines", h.handleLines)
	r.Post("/orders/{id}/receipts", h.handleCreateReceipt)
	r.Get("/receipts/{id}", h.handleGetReceipt)
	r.Post("/receipts/{id}/status", h.handleSetReceiptStatus)
}

type batchRequest struct {
	BatchNumber string     `json:"batch_number" validate:"required"`
	ExpiresAt   *time.Time `json:"expires_at"`
	Qty         int64      `json:"qty" validate:"gt=0"`
}

type lineRequest struct {
	SKU              string         `json:"sku" validate:"required"`
	Received         int64          `json:"received" validate:"gte=0"`
	Rejected         int64          `json:"rejected" validate:"gte=0"`
	QCPass           int64          `json:"qc_pass" validate:"gte=0"`
	QCFail           int64          `json:"qc_fail" validate:"gte=0"`
	Held             int64          `json:"held" validate:"gte=0"`
	RTV              int64          `json:"rtv" validate:"gte=0"`
	RejectionComment string         `json:"rejection_comment" validate:"required_unless=Rejected 0"`
	Batches          []batchRequest `json:"batches" validate:"dive"`
}

type photoRequest struct {
	SKU       string `json:"sku"`
	ObjectKey string `json:"object_key" validate:"required"`
}

type createReceiptRequest struct {
	Number string         `json:"number" validate:"omitempty,max=64"`
	Status string         `json:"status"`
	Note   string         `json:"note" validate:"max=1024"`
	Lines  []lineRequest  `json:"lines" validate:"required,min=1,dive"`
	Photos []photoRequest `json:"photos" validate:"dive"`
}

func (req createReceiptRequest) toInput(poID int64) CreateGRNInput {
	input := CreateGRNInput{POID: poID, Number: req.Number, Status: GRNStatus(req.Status), Note: req.Note}
	for _, l := range req.Lines {
		line := GRNLineInput{
			SKU:              l.SKU,
			Received:         l.Received,
			Rejected:         l.Rejected,
			QCPass:           l.QCPass,
			QCFail:           l.QCFail,
			Held:             l.Held,
			RTV:              l.RTV,
			RejectionComment: l.RejectionComment,
		}
		for _, b := range l.Batches {
			line.Batches = append(line.Batches, BatchInput{BatchNumber: b.BatchNumber, ExpiresAt: b.ExpiresAt, Qty: b.Qty})
		}
		input.Lines = append(input.Lines, line)
	}
	for _, p := range req.Photos {
		input.Photos = append(input.Photos, PhotoInput{SKU: p.SKU, ObjectKey: p.ObjectKey})
	}
	return input
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

func (h *Handler) handleReceiptStatus(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.service.OrderReceiptStatus(r.Context(), shared.ScopeFromContext(r.Context()), poID, r.URL.Query().Get("status"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) handleLines(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	scope := shared.ScopeFromContext(r.Context())
	if sku := r.URL.Query().Get("sku"); sku != "" {
		line, err := h.service.LineReconciliation(r.Context(), scope, poID, sku)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusOK, line)
		return
	}
	view, err := h.service.OrderReceiptStatus(r.Context(), scope, poID, "")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view.Lines)
}

func (h *Handler) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createReceiptRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	grn, err := h.service.CreateGoodsReceipt(r.Context(), shared.ScopeFromContext(r.Context()), req.toInput(poID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, grn)
}

func (h *Handler) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	grn, err := h.service.GetGoodsReceipt(r.Context(), shared.ScopeFromContext(r.Context()), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, grn)
}

func (h *Handler) handleSetReceiptStatus(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req statusRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.service.SetGoodsReceiptStatus(r.Context(), shared.ScopeFromContext(r.Context()), id, GRNStatus(req.Status)); err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.NoContent(w)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.StatusFor(err) == http.StatusInternalServerError {
		h.logger.Error("procurement request", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
