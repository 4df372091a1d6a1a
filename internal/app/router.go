package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/schoolfees/schoolfees/internal/billing"
	"github.com/schoolfees/schoolfees/internal/family"
	"github.com/schoolfees/schoolfees/internal/feeconfig"
	"github.com/schoolfees/schoolfees/internal/guardians"
	"github.com/schoolfees/schoolfees/internal/ledger"
	"github.com/schoolfees/schoolfees/internal/observability"
	"github.com/schoolfees/schoolfees/internal/payments"
	"github.com/schoolfees/schoolfees/internal/shared"
	"github.com/schoolfees/schoolfees/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager

	LedgerHandler    *ledger.Handler
	FeeConfigHandler *feeconfig.Handler
	PaymentsHandler  *payments.Handler
	FamilyHandler    *family.Handler
	GuardiansHandler *guardians.Handler
	BillingHandler   *billing.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.SessionManager != nil {
		userHeader := ""
		if params.Config != nil {
			userHeader = params.Config.AuthUserHeader
		}
		r.Route("/session", NewSessionHandler(params.SessionManager, userHeader, params.Logger).MountRoutes)
	}
	if params.PaymentsHandler != nil {
		r.Route("/webhooks", params.PaymentsHandler.MountWebhooks)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireUser)

		if params.BillingHandler != nil {
			params.BillingHandler.MountRoutes(r)
		}
		if params.LedgerHandler != nil {
			params.LedgerHandler.MountRoutes(r)
		}
		if params.FeeConfigHandler != nil {
			params.FeeConfigHandler.MountRoutes(r)
		}
		if params.PaymentsHandler != nil {
			r.Route("/payments", params.PaymentsHandler.MountRoutes)
		}

		r.Route("/schools/{schoolID}", func(r chi.Router) {
			if params.LedgerHandler != nil {
				params.LedgerHandler.MountSchoolRoutes(r)
			}
			if params.FeeConfigHandler != nil {
				params.FeeConfigHandler.MountSchoolRoutes(r)
			}
			if params.FamilyHandler != nil {
				params.FamilyHandler.MountSchoolRoutes(r)
			}
			if params.GuardiansHandler != nil {
				params.GuardiansHandler.MountSchoolRoutes(r)
			}
			if params.BillingHandler != nil {
				params.BillingHandler.MountSchoolRoutes(r)
			}
		})
		r.Route("/students/{studentID}", func(r chi.Router) {
			if params.LedgerHandler != nil {
				params.LedgerHandler.MountStudentRoutes(r)
			}
			if params.GuardiansHandler != nil {
				params.GuardiansHandler.MountStudentRoutes(r)
			}
		})
		r.Route("/parents/{parentID}", func(r chi.Router) {
			if params.GuardiansHandler != nil {
				params.GuardiansHandler.MountRoutes(r)
			}
			if params.FamilyHandler != nil {
				params.FamilyHandler.MountParentRoutes(r)
			}
		})
	})

	return r
}
