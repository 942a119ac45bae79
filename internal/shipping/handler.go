package shipping

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/stocklane/stocklane/internal/ledger"
	"github.com/stocklane/stocklane/internal/platform/httpx"
	"github.com/stocklane/stocklane/internal/shared"
)

// Handler exposes export slips over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/export-slips", h.list)
	r.Post("/export-slips", h.create)
	r.Get("/export-slips/{id}", h.show)
	r.Put("/export-slips/{id}", h.update)
	r.Delete("/export-slips/{id}", h.cancel)
}

func respondLedgerError(w http.ResponseWriter, logger *slog.Logger, operation string, err error) {
	if errors.Is(err, shared.ErrIdempotencyConflict) {
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		return
	}
	var vErr *ledger.ValidationError
	if errors.As(err, &vErr) {
		httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Rejected", "one or more lines were rejected", vErr.Rejections)
		return
	}
	var pErr *ledger.PartialFailureError
	if errors.As(err, &pErr) {
		logger.Error(operation, slog.String("transaction_id", pErr.TransactionID), slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Partial Failure",
			"rollback left inconsistent lines; see the discrepancy registry")
		return
	}
	logger.Error(operation, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var req ListSlipsRequest
	if v := r.URL.Query().Get("status"); v != "" {
		req.Status = &v
	}
	if v := r.URL.Query().Get("invoice_no"); v != "" {
		req.InvoiceNo = &v
	}
	if v := r.URL.Query().Get("from"); v != "" {
		req.From = &v
	}
	if v := r.URL.Query().Get("to"); v != "" {
		req.To = &v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		req.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		req.Offset = v
	}

	slips, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list export slips", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"slips": slips, "total": total})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSlipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	slip, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		respondLedgerError(w, h.logger, "create export slip", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, slip)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	slip, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get export slip", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, slip)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	var req UpdateSlipRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	slip, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrNotEditable):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			respondLedgerError(w, h.logger, "update export slip", err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, slip)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	slip, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrNotEditable):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			respondLedgerError(w, h.logger, "cancel export slip", err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, slip)
}
