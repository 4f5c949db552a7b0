package router

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/inaiurai/marketplace/internal/auth"
	"github.com/inaiurai/marketplace/internal/dashboard"
	"github.com/inaiurai/marketplace/internal/handlers"
	"github.com/inaiurai/marketplace/internal/middleware"
	"github.com/inaiurai/marketplace/internal/models"
)

type Deps struct {
	Auth         *auth.Handler
	Webhooks     *handlers.WebhookHandler
	Dashboard    *dashboard.Handler
	Tokens       middleware.TokenValidator
	Health       http.HandlerFunc
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// New returns the HTTP handler: provider webhooks under /webhooks and the
// authenticated read API under /api/v1.
func New(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, middleware.RequestLogger(d.Logger), chimw.Recoverer)

	r.Get("/healthz", d.Health)

	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/", d.Webhooks.ListProviders)
		r.With(middleware.RawBody(d.MaxBodyBytes)).Post("/{provider}", d.Webhooks.Receive)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", d.Auth.Register)
		r.Post("/auth/login", d.Auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.TokenAuth(d.Tokens))
			r.Use(middleware.RequireRole(models.RoleAdmin, models.RoleSeller))

			r.Get("/vendors/{vendorID}/escrow", d.Dashboard.GetEscrow)
			r.Get("/vendors/{vendorID}/escrow/transactions", d.Dashboard.ListEscrowTransactions)
			r.With(middleware.RequireRole(models.RoleAdmin)).Get("/orders/{orderID}/ledger", d.Dashboard.GetOrderLedger)
		})
	})
	return r
}
