package guardians

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolfees/schoolfees/internal/platform/httpx"
	"github.com/schoolfees/schoolfees/internal/shared"
)

// Handler exposes parent account endpoints.
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
	r.Get("/parents", h.listParents)
	r.Post("/parents", h.createParent)
}

// MountStudentRoutes registers routes nested under /students/{studentID}.
func (h *Handler) MountStudentRoutes(r chi.Router) {
	r.Get("/guardians", h.guardiansOf)
}

// MountRoutes registers routes nested under /parents/{parentID}.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.getParent)
	r.Patch("/", h.updateParent)
	r.Delete("/", h.deleteParent)
	r.Get("/children", h.childrenOf)
	r.Post("/children", h.assign)
	r.Delete("/children/{studentID}", h.unassign)
	r.Post("/children/{studentID}/primary", h.setPrimary)
}

func (h *Handler) listParents(w http.ResponseWriter, r *http.Request) {
	parents, err := h.service.ListParentAccounts(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"parents": parents})
}

func (h *Handler) createParent(w http.ResponseWriter, r *http.Request) {
	var in CreateParentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.SchoolID = chi.URLParam(r, "schoolID")
	parent, err := h.service.CreateParentAccount(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, parent)
}

func (h *Handler) getParent(w http.ResponseWriter, r *http.Request) {
	parent, err := h.service.GetParentAccount(r.Context(), chi.URLParam(r, "parentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, parent)
}

func (h *Handler) updateParent(w http.ResponseWriter, r *http.Request) {
	var in UpdateParentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	parent, err := h.service.UpdateParentAccount(r.Context(), chi.URLParam(r, "parentID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, parent)
}

func (h *Handler) deleteParent(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteParentAccount(r.Context(), chi.URLParam(r, "parentID"), shared.ActorFromContext(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) childrenOf(w http.ResponseWriter, r *http.Request) {
	children, err := h.service.ChildrenOf(r.Context(), chi.URLParam(r, "parentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"children": children})
}

func (h *Handler) assign(w http.ResponseWriter, r *http.Request) {
	var in AssignInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.ParentID = chi.URLParam(r, "parentID")
	in.Actor = shared.ActorFromContext(r.Context())
	link, err := h.service.Assign(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, link)
}

func (h *Handler) unassign(w http.ResponseWriter, r *http.Request) {
	err := h.service.Unassign(r.Context(), chi.URLParam(r, "studentID"), chi.URLParam(r, "parentID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setPrimary(w http.ResponseWriter, r *http.Request) {
	err := h.service.SetPrimary(r.Context(), chi.URLParam(r, "studentID"), chi.URLParam(r, "parentID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) guardiansOf(w http.ResponseWriter, r *http.Request) {
	guardians, err := h.service.GuardiansOf(r.Context(), chi.URLParam(r, "studentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"guardians": guardians})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "guardians request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
