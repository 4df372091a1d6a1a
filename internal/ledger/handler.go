package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/schoolfees/schoolfees/internal/platform/httpx"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/internal/store"
)

// Handler exposes student and fee record endpoints.
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
	r.Get("/students", h.listStudents)
	r.Post("/students", h.createStudent)
	r.Post("/late-fees/sweep", h.sweep)
}

// MountStudentRoutes registers routes nested under /students/{studentID}.
func (h *Handler) MountStudentRoutes(r chi.Router) {
	r.Get("/", h.studentLedger)
	r.Post("/fees/{feeID}/payments", h.feePayment)
}

// MountRoutes registers record-level routes at the router root.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/fee-records/{recordID}/payments", h.recordPayment)
	r.Post("/fee-records/{recordID}/late-fees", h.lateFee)
	r.Post("/fee-records/{recordID}/discounts", h.discount)
}

func (h *Handler) listStudents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rows, err := h.service.ListStudents(r.Context(), store.StudentFilter{
		SchoolID:  chi.URLParam(r, "schoolID"),
		ClassName: q.Get("class"),
		Status:    school.StudentStatus(q.Get("status")),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"students": rows})
}

func (h *Handler) createStudent(w http.ResponseWriter, r *http.Request) {
	var in StudentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.SchoolID = chi.URLParam(r, "schoolID")
	in.Actor = shared.ActorFromContext(r.Context())
	stu, err := h.service.CreateStudent(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, stu)
}

func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.SweepLateFees(r.Context(), chi.URLParam(r, "schoolID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"applied": n})
}

func (h *Handler) studentLedger(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.StudentLedger(r.Context(), chi.URLParam(r, "studentID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) feePayment(w http.ResponseWriter, r *http.Request) {
	var in FeePaymentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.StudentID = chi.URLParam(r, "studentID")
	in.FeeID = chi.URLParam(r, "feeID")
	in.Actor = shared.ActorFromContext(r.Context())
	stu, err := h.service.ApplyPaymentToFee(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, stu)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var in RecordPaymentInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.RecordID = chi.URLParam(r, "recordID")
	in.Actor = shared.ActorFromContext(r.Context())
	rec, err := h.service.ApplyPaymentToRecord(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) lateFee(w http.ResponseWriter, r *http.Request) {
	var in LateFeeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.RecordID = chi.URLParam(r, "recordID")
	in.Actor = shared.ActorFromContext(r.Context())
	rec, err := h.service.ApplyLateFee(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) discount(w http.ResponseWriter, r *http.Request) {
	var in DiscountInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	in.RecordID = chi.URLParam(r, "recordID")
	in.Actor = shared.ActorFromContext(r.Context())
	rec, err := h.service.ApplyDiscount(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "ledger request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
