package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/inaiurai/marketplace/internal/ledger"
	"github.com/inaiurai/marketplace/internal/models"
	"github.com/inaiurai/marketplace/internal/services"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "settle", "balance", "reconcile", "create-admin"} {
		if c, _, err := root.Find([]string{name}); err != nil || c.Name() != name {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestSettleCmd_RequiresValidEvent(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"settle", "--event", "not-a-uuid"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "invalid --event") {
		t.Errorf("expected invalid --event error, got %v", err)
	}
}

func TestCreateAdminCmd_RequiresPassword(t *testing.T) {
	t.Setenv(adminPasswordEnv, "")
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"create-admin", "--email", "ops@example.com", "--name", "Ops"})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), adminPasswordEnv) {
		t.Errorf("expected missing password error, got %v", err)
	}
}

func TestPrintReconciliation(t *testing.T) {
	rec := &ledger.Reconciliation{
		VendorID: uuid.New(), Currency: "USD",
		Balance: 19000, Deposits: 19000,
	}
	var buf bytes.Buffer
	if err := printReconciliation(&buf, rec); err != nil {
		t.Fatalf("balanced ledger reported drift: %v", err)
	}
	if !strings.Contains(buf.String(), "190.00") || !strings.HasSuffix(buf.String(), "OK\n") {
		t.Errorf("output: %s", buf.String())
	}

	rec.Balance = 19500
	buf.Reset()
	if err := printReconciliation(&buf, rec); !errors.Is(err, errDrift) {
		t.Errorf("balance drift: expected errDrift, got %v", err)
	}

	rec.Balance = 19000
	rec.Drift = []ledger.OrderDrift{{OrderID: uuid.New(), PaymentAmount: 10000, Rows: 1, LedgerSum: 500}}
	buf.Reset()
	if err := printReconciliation(&buf, rec); !errors.Is(err, errDrift) {
		t.Errorf("order drift: expected errDrift, got %v", err)
	}
	if !strings.Contains(buf.String(), "1 commission rows") {
		t.Errorf("drifted order not listed: %s", buf.String())
	}
}

func TestPrintOutcome(t *testing.T) {
	var buf bytes.Buffer
	_ = printOutcome(&buf, &services.Outcome{Duplicate: true})
	if !strings.Contains(buf.String(), "already settled") {
		t.Errorf("duplicate: %s", buf.String())
	}

	buf.Reset()
	_ = printOutcome(&buf, &services.Outcome{Result: &ledger.Result{
		OrderID: uuid.New(), VendorID: uuid.New(),
		Gross: 10000, PlatformFee: 500, SellerEarnings: 9500, BalanceAfter: 9500, Currency: "USD",
	}})
	if !strings.Contains(buf.String(), "fee 5.00, seller 95.00") {
		t.Errorf("settled: %s", buf.String())
	}
}

func TestPrintBalance(t *testing.T) {
	var buf bytes.Buffer
	_ = printBalance(&buf, &models.EscrowAccount{ID: uuid.New(), VendorID: uuid.New(), Balance: 500, Currency: "JPY"})
	if !strings.Contains(buf.String(), ": 500 JPY") {
		t.Errorf("output: %s", buf.String())
	}
}
