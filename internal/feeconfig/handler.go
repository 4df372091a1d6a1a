package feeconfig

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolfees/schoolfees/internal/platform/httpx"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// Handler exposes fee configuration endpoints.
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
	r.Get("/fee-categories", h.listCategories)
	r.Post("/fee-categories", h.createCategory)
	r.Put("/fee-categories/{categoryID}", h.updateCategory)
	r.Delete("/fee-categories/{categoryID}", h.deleteCategory)

	r.Get("/fee-structures", h.listStructures)
	r.Post("/fee-structures", h.createStructure)
	r.Get("/fee-structures/{structureID}", h.getStructure)
	r.Put("/fee-structures/{structureID}", h.updateStructure)
	r.Delete("/fee-structures/{structureID}", h.deleteStructure)
	r.Post("/fee-structures/{structureID}/generate", h.generate)

	r.Get("/installment-plans", h.listPlans)
	r.Post("/installment-plans", h.createPlan)
	r.Delete("/installment-plans/{planID}", h.deletePlan)
}

// MountRoutes registers record-level routes at the router root.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/fee-records/{recordID}/installment-plan", h.applyPlan)
	r.Get("/fee-records/{recordID}/installments", h.schedule)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListCategories(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"categories": rows})
}

func (h *Handler) createCategory(w http.ResponseWriter, r *http.Request) {
	var in CategoryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.SchoolID = chi.URLParam(r, "schoolID")
	cat, err := h.service.CreateCategory(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cat)
}

func (h *Handler) updateCategory(w http.ResponseWriter, r *http.Request) {
	var in CategoryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.SchoolID = chi.URLParam(r, "schoolID")
	cat, err := h.service.UpdateCategory(r.Context(), chi.URLParam(r, "categoryID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, cat)
}

func (h *Handler) deleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCategory(r.Context(), chi.URLParam(r, "categoryID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listStructures(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.service.ListStructures(r.Context(), store.FeeStructureFilter{
		SchoolID:   chi.URLParam(r, "schoolID"),
		CategoryID: q.Get("category_id"),
		ClassName:  q.Get("class"),
		ActiveOnly: q.Get("active") == "true",
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"structures": rows})
}

func (h *Handler) createStructure(w http.ResponseWriter, r *http.Request) {
	var in StructureInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.SchoolID = chi.URLParam(r, "schoolID")
	st, err := h.service.CreateStructure(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, st)
}

func (h *Handler) getStructure(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.GetStructure(r.Context(), chi.URLParam(r, "structureID"))
	if err == nil && st.SchoolID != chi.URLParam(r, "schoolID") {
		err = store.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) updateStructure(w http.ResponseWriter, r *http.Request) {
	var in StructureInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.SchoolID = chi.URLParam(r, "schoolID")
	st, err := h.service.UpdateStructure(r.Context(), chi.URLParam(r, "structureID"), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, st)
}

func (h *Handler) deleteStructure(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteStructure(r.Context(), chi.URLParam(r, "structureID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.GenerateRecords(r.Context(), chi.URLParam(r, "structureID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) listPlans(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListPlans(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"plans": rows})
}

func (h *Handler) createPlan(w http.ResponseWriter, r *http.Request) {
	var in PlanInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.SchoolID = chi.URLParam(r, "schoolID")
	plan, err := h.service.CreatePlan(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, plan)
}

func (h *Handler) deletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePlan(r.Context(), chi.URLParam(r, "planID")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type applyPlanRequest struct {
	PlanID string `json:"plan_id"`
}

func (h *Handler) applyPlan(w http.ResponseWriter, r *http.Request) {
	var req applyPlanRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	sched, err := h.service.ApplyInstallmentPlan(r.Context(), chi.URLParam(r, "recordID"), req.PlanID, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sched)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	sched, err := h.service.InstallmentSchedule(r.Context(), chi.URLParam(r, "recordID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sched)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "fee config request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
