package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/rs/cors"

	"github.com/inaiurai/marketplace/internal/auth"
	"github.com/inaiurai/marketplace/internal/cache"
	"github.com/inaiurai/marketplace/internal/config"
	"github.com/inaiurai/marketplace/internal/db"
	"github.com/inaiurai/marketplace/internal/events"
	"github.com/inaiurai/marketplace/internal/execution"
	"github.com/inaiurai/marketplace/internal/handlers"
	"github.com/inaiurai/marketplace/internal/ledger"
	"github.com/inaiurai/marketplace/internal/repository"
	"github.com/inaiurai/marketplace/internal/services"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. docker compose up -d", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL database successfully!")

	if err := db.Migrate(ctx, pool, logger); err != nil {
		slog.Error("Migrations failed", "error", err)
		os.Exit(1)
	}

	// Ledger
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, cfg.FeeRate(), logger)

	publisher, err := events.NewPublisher(cfg.Brokers(), cfg.KafkaSettledTopic)
	if err != nil {
		slog.Error("Failed to create event publisher", "error", err)
		os.Exit(1)
	}
	defer publisher.Close()

	paymentRepo := repository.NewPaymentRepo(pool)
	orderRepo := repository.NewOrderRepo(pool)
	vendorRepo := repository.NewVendorRepo(pool)
	webhookRepo := repository.NewWebhookEventRepo(pool)

	processor := services.NewPaymentProcessor(pool, paymentRepo, orderRepo, webhookRepo, ledgerSvc, publisher, logger)

	// Settlement worker
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewSettlePaymentWorker(processor, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.RiverMaxWorkers},
		},
		Workers: workers,
		Logger:  logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	// Webhook rows and their settlement jobs commit together.
	enqueue := func(ctx context.Context, tx pgx.Tx, args execution.SettlePaymentArgs) error {
		_, err := riverClient.InsertTx(ctx, tx, args, nil)
		return err
	}

	var dedupe handlers.Deduper
	if cfg.RedisURL != "" {
		rdb, err := cache.Connect(ctx, cfg.RedisURL)
		if err != nil {
			slog.Warn("Redis unavailable, webhook dedupe falls back to Postgres", "error", err)
		} else {
			defer rdb.Close()
			dedupe = cache.NewDeliveryDedupe(rdb, cache.DefaultDedupeTTL)
		}
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		slog.Error("Failed to configure payment providers", "error", err)
		os.Exit(1)
	}
	slog.Info("Payment providers configured", "providers", providers.Names())

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)

	apiRouter := buildRouter(routeDeps{
		pool:        pool,
		cfg:         cfg,
		authSvc:     authSvc,
		providers:   providers,
		webhookRepo: webhookRepo,
		enqueue:     enqueue,
		dedupe:      dedupe,
		ledgerRepo:  ledgerRepo,
		vendorRepo:  vendorRepo,
		logger:      logger,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(apiRouter)

	// Start River client (processes settlement jobs)
	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP shutdown", "error", err)
		}
		if err := riverClient.Stop(shutdownCtx); err != nil {
			slog.Error("River stop", "error", err)
		}
	}()

	slog.Info("Starting HTTP server", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
