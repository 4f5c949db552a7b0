package main

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/marketplace/internal/auth"
	"github.com/inaiurai/marketplace/internal/config"
	"github.com/inaiurai/marketplace/internal/dashboard"
	"github.com/inaiurai/marketplace/internal/handlers"
	"github.com/inaiurai/marketplace/internal/ledger"
	"github.com/inaiurai/marketplace/internal/payments"
	"github.com/inaiurai/marketplace/internal/repository"
	"github.com/inaiurai/marketplace/internal/router"
)

// buildProviders registers PayPal when credentials are configured and the
// signed adapter when a shared secret is set.
func buildProviders(ctx context.Context, cfg *config.Config) (*payments.Registry, error) {
	validator, err := payments.DefaultValidator()
	if err != nil {
		return nil, err
	}
	var list []payments.Provider
	if cfg.PayPalEnabled() {
		client, err := payments.NewPayPalClient(ctx, cfg.PayPalClientID, cfg.PayPalClientSecret, payments.PayPalAPIBase(cfg.PayPalLive()))
		if err != nil {
			return nil, err
		}
		list = append(list, payments.NewPayPal(client, cfg.PayPalWebhookID, validator))
	}
	if cfg.SignedWebhookSecret != "" {
		list = append(list, payments.NewSigned(cfg.SignedWebhookSecret, validator))
	}
	return payments.NewRegistry(list...), nil
}

type routeDeps struct {
	pool        *pgxpool.Pool
	cfg         *config.Config
	authSvc     auth.Service
	providers   *payments.Registry
	webhookRepo *repository.WebhookEventRepo
	enqueue     handlers.EnqueueSettleFunc
	dedupe      handlers.Deduper
	ledgerRepo  *ledger.Repository
	vendorRepo  *repository.VendorRepo
	logger      *slog.Logger
}

// buildRouter wires the webhook intake and the read API.
// Webhooks: RawBody -> Receive. API: TokenAuth -> RequireRole -> dashboard.
func buildRouter(d routeDeps) http.Handler {
	wh := &handlers.WebhookHandler{
		Pool:      d.pool,
		Providers: d.providers,
		Events:    d.webhookRepo,
		Enqueue:   d.enqueue,
		Dedupe:    d.dedupe,
		Logger:    d.logger,
	}
	return router.New(router.Deps{
		Auth:         auth.NewHandler(d.authSvc, d.logger),
		Webhooks:     wh,
		Dashboard:    dashboard.NewHandler(d.ledgerRepo, d.vendorRepo, d.logger),
		Tokens:       d.authSvc,
		Health:       handlers.Health(d.pool),
		MaxBodyBytes: d.cfg.WebhookMaxBodyBytes,
		Logger:       d.logger,
	})
}
