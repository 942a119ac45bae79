package ledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

// Handler exposes read access to stock and transactions. Mutations go
// through the document registries, never through this surface.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes on the router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/stock/{itemCode}", h.getStock)
	r.Get("/transactions/{id}", h.getTransaction)
}

type stockResponse struct {
	ItemCode  string `json:"item_code"`
	QtyOnHand int64  `json:"qty_on_hand"`
}

func (h *Handler) getStock(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "itemCode")
	item, err, _ := singleflightStock(r.Context(), code, func(ctx context.Context) (StockItem, error) {
		return h.service.Stock(ctx, code)
	})
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown item "+code)
			return
		}
		h.logger.Error("get stock", slog.String("item_code", code), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stockResponse{ItemCode: item.ItemCode, QtyOnHand: item.QtyOnHand})
}

type transactionLineResponse struct {
	ItemCode  string  `json:"item_code"`
	Qty       int64   `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
}

type transactionResponse struct {
	ID        string                    `json:"id"`
	Direction Direction                 `json:"direction"`
	RefModule string                    `json:"ref_module,omitempty"`
	RefID     string                    `json:"ref_id,omitempty"`
	Reversed  bool                      `json:"reversed"`
	Lines     []transactionLineResponse `json:"lines"`
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	tx, err := h.service.Transaction(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", "unknown transaction "+id)
			return
		}
		h.logger.Error("get transaction", slog.String("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := transactionResponse{
		ID:        tx.ID,
		Direction: tx.Direction,
		RefModule: tx.RefModule,
		RefID:     tx.RefID,
		Reversed:  tx.Reversed,
	}
	for _, line := range tx.Lines {
		resp.Lines = append(resp.Lines, transactionLineResponse{ItemCode: line.ItemCode, Qty: line.Qty, UnitPrice: line.UnitPrice})
	}
	httpx.JSON(w, http.StatusOK, resp)
}
