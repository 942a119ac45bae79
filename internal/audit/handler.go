package audit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stocklane/stocklane/internal/platform/httpx"
)

// Handler exposes the audit timeline and discrepancy registry.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit/timeline", h.timeline)
	r.Get("/audit/timeline/export.csv", h.exportCSV)
	r.Get("/discrepancies", h.discrepancies)
	r.Post("/discrepancies/{id}/resolve", h.resolve)
}

func parseFilters(r *http.Request) TimelineFilters {
	q := r.URL.Query()
	var filters TimelineFilters
	if v, err := time.Parse("2006-01-02", q.Get("from")); err == nil {
		filters.From = v
	}
	if v, err := time.Parse("2006-01-02", q.Get("to")); err == nil {
		filters.To = v.AddDate(0, 0, 1)
	}
	if v, err := strconv.ParseInt(q.Get("actor_id"), 10, 64); err == nil {
		filters.ActorID = v
	}
	filters.Entity = q.Get("entity")
	filters.Action = q.Get("action")
	filters.Status = q.Get("status")
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		filters.Page = v
	}
	if v, err := strconv.Atoi(q.Get("page_size")); err == nil {
		filters.PageSize = v
	}
	return filters
}

func (h *Handler) timeline(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.Timeline(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) exportCSV(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.ExportCSV(r.Context(), parseFilters(r))
	if err != nil {
		h.logger.Error("audit export", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="audit-timeline.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) discrepancies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	unresolvedOnly := q.Get("unresolved") == "true"
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	list, total, err := h.service.Discrepancies(r.Context(), unresolvedOnly, limit, offset)
	if err != nil {
		h.logger.Error("list discrepancies", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"discrepancies": list, "total": total})
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid discrepancy id")
		return
	}
	if err := h.service.Resolve(r.Context(), id); err != nil {
		if errors.Is(err, ErrDiscrepancyNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("resolve discrepancy", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
