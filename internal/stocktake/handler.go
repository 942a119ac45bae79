package stocktake

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

// Handler exposes count sheets over HTTP.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/count-sheets", h.list)
	r.Post("/count-sheets", h.create)
	r.Get("/count-sheets/{id}", h.show)
	r.Put("/count-sheets/{id}/counts", h.recordCounts)
	r.Post("/count-sheets/{id}/complete", h.complete)
	r.Delete("/count-sheets/{id}", h.cancel)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	var req ListSheetsRequest
	if v := r.URL.Query().Get("status"); v != "" {
		req.Status = &v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		req.Limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		req.Offset = v
	}

	sheets, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list count sheets", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sheets": sheets, "total": total})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateSheetRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sheet, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		var vErr *ledger.ValidationError
		if errors.As(err, &vErr) {
			httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Rejected", "one or more items were rejected", vErr.Rejections)
			return
		}
		h.logger.Error("create count sheet", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, sheet)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	sheet, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get count sheet", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) recordCounts(w http.ResponseWriter, r *http.Request) {
	var req RecordCountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sheet, err := h.service.RecordCounts(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrNotDraft):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
		}
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	sheet, err := h.service.Complete(r.Context(), chi.URLParam(r, "id"), shared.ActorFromContext(r.Context()))
	if err != nil {
		var vErr *ledger.ValidationError
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrNotDraft):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		case errors.As(err, &vErr):
			httpx.ProblemWithErrors(w, http.StatusUnprocessableEntity, "Rejected", "one or more lines were rejected", vErr.Rejections)
		case errors.Is(err, ErrNoLines):
			httpx.Problem(w, http.StatusUnprocessableEntity, "Rejected", err.Error())
		default:
			h.logger.Error("complete count sheet", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sheet, err := h.service.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		case errors.Is(err, ErrNotDraft):
			httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
		default:
			h.logger.Error("cancel count sheet", slog.Any("error", err))
			httpx.RespondError(w, err)
		}
		return
	}
	httpx.JSON(w, http.StatusOK, sheet)
}
