package payments

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/schoolfees/schoolfees/internal/platform/httpx"
	"github.com/schoolfees/schoolfees/internal/school"
	"github.com/schoolfees/schoolfees/internal/shared"
)

// Handler exposes the payment endpoints.
type Handler struct {
	logger    *slog.Logger
	processor *Processor
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, processor *Processor) *Handler {
	return &Handler{logger: logger, processor: processor}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.initiate)
	r.Get("/", h.list)
	r.Get("/{reference}", h.get)
	r.Post("/{reference}/verify", h.verify)
	r.Post("/{reference}/proof", h.proof)
	r.Post("/{reference}/confirm", h.confirm)
	r.Post("/{reference}/reject", h.reject)
}

// MountWebhooks registers gateway callbacks. These routes carry no session.
func (h *Handler) MountWebhooks(r chi.Router) {
	r.Post("/{gateway}", h.webhook)
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	var req InitiateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	req.InitiatedBy = shared.ActorFromContext(r.Context())
	res, err := h.processor.Initiate(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		SchoolID:  q.Get("school_id"),
		StudentID: q.Get("student_id"),
		Status:    school.TransactionStatus(q.Get("status")),
		Gateway:   school.Gateway(q.Get("gateway")),
	}
	if filter.SchoolID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "school_id is required")
		return
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		filter.Limit = limit
	}
	txns, err := h.processor.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"transactions": txns})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	txn, err := h.processor.Get(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	gateway := school.Gateway(r.URL.Query().Get("gateway"))
	res, err := h.processor.Verify(r.Context(), chi.URLParam(r, "reference"), gateway)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) proof(w http.ResponseWriter, r *http.Request) {
	var req ProofRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	txn, err := h.processor.RecordManualProof(r.Context(), chi.URLParam(r, "reference"), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, txn)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	res, err := h.processor.ConfirmManualPayment(r.Context(), chi.URLParam(r, "reference"), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	actor := shared.ActorFromContext(r.Context())
	if actor == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	var req RejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.processor.RejectManualPayment(r.Context(), chi.URLParam(r, "reference"), actor, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

// webhook answers 202 when the gateway could not be reached for re-verification; a
// reverify job is already queued by then.
func (h *Handler) webhook(w http.ResponseWriter, r *http.Request) {
	gateway := school.Gateway(chi.URLParam(r, "gateway"))
	hook, err := h.processor.Webhook(gateway)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unreadable body")
		return
	}
	res, err := h.processor.HandleWebhook(r.Context(), gateway, body, r.Header.Get(hook.SignatureHeader()))
	switch {
	case errors.Is(err, ErrGatewayUnavailable):
		httpx.JSON(w, http.StatusAccepted, res)
	case err != nil:
		h.fail(w, r, err)
	default:
		httpx.JSON(w, http.StatusOK, res)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if httpx.Status(err) >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "payments request failed",
			slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
