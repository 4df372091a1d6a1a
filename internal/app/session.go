package app

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/schoolfees/schoolfees/internal/platform/httpx"
	"github.com/schoolfees/schoolfees/internal/shared"
)

// SessionHandler binds the identity asserted by the fronting proxy to a session
// cookie. Credential checks happen upstream.
type SessionHandler struct {
	manager    *shared.SessionManager
	userHeader string
	logger     *slog.Logger
}

// NewSessionHandler constructs SessionHandler.
func NewSessionHandler(manager *shared.SessionManager, userHeader string, logger *slog.Logger) *SessionHandler {
	if userHeader == "" {
		userHeader = "X-Forwarded-User"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionHandler{manager: manager, userHeader: userHeader, logger: logger}
}

// MountRoutes attaches /session routes.
func (h *SessionHandler) MountRoutes(r chi.Router) {
	r.Get("/", h.current)
	r.Post("/", h.signIn)
	r.Delete("/", h.signOut)
}

type sessionView struct {
	UserID string `json:"user_id"`
}

func (h *SessionHandler) current(w http.ResponseWriter, r *http.Request) {
	user := shared.ActorFromContext(r.Context())
	if user == "" {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	httpx.JSON(w, http.StatusOK, sessionView{UserID: user})
}

func (h *SessionHandler) signIn(w http.ResponseWriter, r *http.Request) {
	user := strings.TrimSpace(r.Header.Get(h.userHeader))
	sess := shared.SessionFromContext(r.Context())
	if user == "" || sess == nil {
		httpx.RespondError(w, shared.ErrUnauthorized)
		return
	}
	h.manager.SignIn(sess, user)
	h.logger.InfoContext(r.Context(), "signed in", slog.String("user", user))
	httpx.JSON(w, http.StatusOK, sessionView{UserID: user})
}

func (h *SessionHandler) signOut(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.manager.SignOut(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}
