// Command ledgerctl is the operator tool for the settlement ledger.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/inaiurai/marketplace/internal/config"
	"github.com/inaiurai/marketplace/internal/db"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Operate the marketplace settlement ledger",
		Long: `ledgerctl applies migrations, replays stored payment webhooks, audits
vendor escrow balances against their history and provisions admin users.

Configuration comes from the same environment variables as the API server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "Path to a YAML config file")

	root.AddCommand(newMigrateCmd())
	root.AddCommand(newSettleCmd())
	root.AddCommand(newBalanceCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newCreateAdminCmd())
	return root
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// connect loads configuration and opens the pool.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}
