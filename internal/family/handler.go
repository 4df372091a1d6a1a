package family

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/schoolfees/schoolfees/internal/platform/httpx"
	"github.com/schoolfees/schoolfees/internal/shared"
)

// Handler exposes family endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountSchoolRoutes registers routes nested under /schools/{schoolID}.
func (h *Handler) MountSchoolRoutes(r chi.Router) {
	r.Get("/families", h.listFamilies)
}

// MountParentRoutes registers routes nested under /parents/{parentID}.
func (h *Handler) MountParentRoutes(r chi.Router) {
	r.Post("/sibling-discount", h.siblingDiscount)
	r.Post("/bulk-update", h.bulkUpdate)
}

func (h *Handler) listFamilies(w http.ResponseWriter, r *http.Request) {
	groups, err := h.service.FamilyGroups(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"families": groups})
}

type siblingDiscountRequest struct {
	Percent decimal.Decimal `json:"percent"`
}

func (h *Handler) siblingDiscount(w http.ResponseWriter, r *http.Request) {
	var req siblingDiscountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.service.ApplySiblingDiscount(r.Context(), chi.URLParam(r, "parentID"), req.Percent, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req BulkUpdate
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	students, err := h.service.BulkUpdateSiblings(r.Context(), chi.URLParam(r, "parentID"), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"students": students})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "family request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
