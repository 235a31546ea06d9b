package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/dcops/internal/ap"
	"github.com/odyssey-erp/dcops/internal/platform/httpx"
	"github.com/odyssey-erp/dcops/internal/procurement"
	"github.com/odyssey-erp/dcops/internal/shared"
)

// ReceiptReader exposes the receipt side of an order.
type ReceiptReader interface {
	OrderReceiptStatus(ctx context.Context, scope shared.Scope, poID int64, queried string) (procurement.OrderReceiptView, error)
}

// PaymentReader exposes the payment side of an order.
type PaymentReader interface {
	PaymentSummary(ctx context.Context, scope shared.Scope, poID int64) (ap.PaymentSummary, error)
}

// OrderOverview combines receipt and payment positions of one order.
type OrderOverview struct {
	Receipt procurement.OrderReceiptView `json:"receipt"`
	Payment ap.PaymentSummary            `json:"payment"`
}

// OverviewHandler serves the combined order view.
type OverviewHandler struct {
	logger   *slog.Logger
	receipts ReceiptReader
	payments PaymentReader
}

// NewOverviewHandler builds OverviewHandler.
func NewOverviewHandler(logger *slog.Logger, receipts ReceiptReader, payments PaymentReader) *OverviewHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OverviewHandler{logger: logger, receipts: receipts, payments: payments}
}

// MountRoutes registers overview routes.
func (h *OverviewHandler) MountRoutes(r chi.Router) {
	r.Get("/orders/{id}/overview", h.overview)
}

// Overview reads both positions concurrently. Neither read writes.
func (h *OverviewHandler) Overview(ctx context.Context, scope shared.Scope, poID int64) (OrderOverview, error) {
	var out OrderOverview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		view, err := h.receipts.OrderReceiptStatus(gctx, scope, poID, "")
		if err != nil {
			return err
		}
		out.Receipt = view
		return nil
	})
	g.Go(func() error {
		summary, err := h.payments.PaymentSummary(gctx, scope, poID)
		if err != nil {
			return err
		}
		out.Payment = summary
		return nil
	})
	if err := g.Wait(); err != nil {
		return OrderOverview{}, err
	}
	return out, nil
}

func (h *OverviewHandler) overview(w http.ResponseWriter, r *http.Request) {
	poID, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.Overview(r.Context(), shared.ScopeFromContext(r.Context()), poID)
	if err != nil {
		if httpx.StatusFor(err) == http.StatusInternalServerError {
			h.logger.Error("order overview", slog.Int64("po_id", poID), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}
