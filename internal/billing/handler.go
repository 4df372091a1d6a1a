package billing

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolfees/schoolfees/internal/platform/httpx"
	"github.com/schoolfees/schoolfees/internal/shared"
)

// Handler exposes subscription and metrics endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers platform-level routes at the router root.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/schools", h.onboard)
	r.Get("/billing/plans", h.plans)
	r.Get("/billing/subscriptions", h.subscriptions)
	r.Get("/billing/metrics", h.platformMetrics)
}

// MountSchoolRoutes registers routes nested under /schools/{schoolID}.
func (h *Handler) MountSchoolRoutes(r chi.Router) {
	r.Get("/metrics", h.schoolMetrics)
	r.Get("/usage", h.usage)
	r.Get("/subscription", h.subscription)
	r.Post("/subscription", h.subscribe)
	r.Delete("/subscription", h.cancel)
	r.Get("/billing-history", h.history)
}

func (h *Handler) onboard(w http.ResponseWriter, r *http.Request) {
	var in OnboardInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	out, err := h.service.OnboardSchool(r.Context(), in, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, out)
}

func (h *Handler) plans(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Plans(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"plans": rows})
}

func (h *Handler) subscriptions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Subscriptions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"subscriptions": rows})
}

func (h *Handler) platformMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.PlatformMetrics(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) schoolMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.service.SchoolFeeMetrics(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, m)
}

func (h *Handler) usage(w http.ResponseWriter, r *http.Request) {
	u, err := h.service.Usage(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, u)
}

func (h *Handler) subscription(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.Subscription(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sub)
}

func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
	var in SubscribeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.SchoolID = chi.URLParam(r, "schoolID")
	sub, err := h.service.Subscribe(r.Context(), in, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sub)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	sub, err := h.service.Cancel(r.Context(), chi.URLParam(r, "schoolID"), shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sub)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.History(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"charges": rows})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "billing request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
