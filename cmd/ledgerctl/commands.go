package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/inaiurai/marketplace/internal/auth"
	"github.com/inaiurai/marketplace/internal/db"
	"github.com/inaiurai/marketplace/internal/events"
	"github.com/inaiurai/marketplace/internal/ledger"
	"github.com/inaiurai/marketplace/internal/models"
	"github.com/inaiurai/marketplace/internal/money"
	"github.com/inaiurai/marketplace/internal/repository"
	"github.com/inaiurai/marketplace/internal/services"
)

// errDrift makes reconcile exit non-zero.
var errDrift = errors.New("escrow ledger drift detected")

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply River migrations and the settlement schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()
			return db.Migrate(cmd.Context(), pool, slog.Default())
		},
	}
}

func newSettleCmd() *cobra.Command {
	var eventID string
	cmd := &cobra.Command{
		Use:   "settle",
		Short: "Re-run settlement for a stored webhook event",
		Long: `Re-run settlement for a stored webhook event, e.g. after a cancelled job
was fixed by hand. Already-settled orders are reported and left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(eventID)
			if err != nil {
				return fmt.Errorf("invalid --event: %w", err)
			}
			ctx := cmd.Context()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			publisher, err := events.NewPublisher(cfg.Brokers(), cfg.KafkaSettledTopic)
			if err != nil {
				return err
			}
			defer publisher.Close()

			logger := slog.Default()
			processor := services.NewPaymentProcessor(
				pool,
				repository.NewPaymentRepo(pool),
				repository.NewOrderRepo(pool),
				repository.NewWebhookEventRepo(pool),
				ledger.NewService(ledger.NewRepository(pool), cfg.FeeRate(), logger),
				publisher,
				logger,
			)
			out, err := processor.ProcessEventByID(ctx, id)
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&eventID, "event", "", "Webhook event id")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func newBalanceCmd() *cobra.Command {
	var vendorID string
	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Print a vendor's escrow balance",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(vendorID)
			if err != nil {
				return fmt.Errorf("invalid --vendor: %w", err)
			}
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			acc, err := ledger.NewRepository(pool).GetEscrowAccountByVendor(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printBalance(cmd.OutOrStdout(), acc)
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor", "", "Vendor id")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	var vendorID string
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check a vendor's escrow balance and commission rows",
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := uuid.Parse(vendorID)
			if err != nil {
				return fmt.Errorf("invalid --vendor: %w", err)
			}
			_, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			rec, err := ledger.NewRepository(pool).Reconcile(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printReconciliation(cmd.OutOrStdout(), rec)
		},
	}
	cmd.Flags().StringVar(&vendorID, "vendor", "", "Vendor id")
	_ = cmd.MarkFlagRequired("vendor")
	return cmd
}

// adminPasswordEnv keeps the password out of shell history.
const adminPasswordEnv = "LEDGERCTL_ADMIN_PASSWORD"

func newCreateAdminCmd() *cobra.Command {
	var email, name string
	cmd := &cobra.Command{
		Use:   "create-admin",
		Short: "Provision an admin console user",
		Long: `Provision an admin console user. The public register endpoint only creates
sellers. The password is read from ` + adminPasswordEnv + `.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			email = strings.ToLower(strings.TrimSpace(email))
			password := os.Getenv(adminPasswordEnv)
			if email == "" || strings.TrimSpace(name) == "" {
				return errors.New("--email and --name are required")
			}
			if password == "" {
				return fmt.Errorf("%s is not set", adminPasswordEnv)
			}
			cfg, pool, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
			u, err := svc.Register(cmd.Context(), email, password, strings.TrimSpace(name), models.RoleAdmin)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "created admin %s (%s)\n", u.Email, u.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Admin email")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func printOutcome(w io.Writer, out *services.Outcome) error {
	if out.Duplicate {
		_, err := fmt.Fprintln(w, "already settled, nothing written")
		return err
	}
	r := out.Result
	_, err := fmt.Fprintf(w, "settled order %s: gross %s, fee %s, seller %s, vendor %s balance %s %s\n",
		r.OrderID,
		money.Format(r.Gross, r.Currency),
		money.Format(r.PlatformFee, r.Currency),
		money.Format(r.SellerEarnings, r.Currency),
		r.VendorID,
		money.Format(r.BalanceAfter, r.Currency),
		r.Currency)
	return err
}

func printBalance(w io.Writer, acc *models.EscrowAccount) error {
	_, err := fmt.Fprintf(w, "vendor %s escrow %s: %s %s\n",
		acc.VendorID, acc.ID, money.Format(acc.Balance, acc.Currency), acc.Currency)
	return err
}

func printReconciliation(w io.Writer, rec *ledger.Reconciliation) error {
	fmt.Fprintf(w, "vendor %s (%s)\n", rec.VendorID, rec.Currency)
	fmt.Fprintf(w, "  balance     %s\n", money.Format(rec.Balance, rec.Currency))
	fmt.Fprintf(w, "  deposits    %s\n", money.Format(rec.Deposits, rec.Currency))
	fmt.Fprintf(w, "  withdrawals %s\n", money.Format(rec.Withdrawals, rec.Currency))
	fmt.Fprintf(w, "  expected    %s\n", money.Format(rec.Expected(), rec.Currency))
	for _, d := range rec.Drift {
		fmt.Fprintf(w, "  order %s: %d commission rows summing to %s, payment %s\n",
			d.OrderID, d.Rows, money.Format(d.LedgerSum, rec.Currency), money.Format(d.PaymentAmount, rec.Currency))
	}
	if !rec.Balanced() {
		fmt.Fprintln(w, "DRIFT")
		return errDrift
	}
	fmt.Fprintln(w, "OK")
	return nil
}
