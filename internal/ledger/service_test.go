package ledger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/inaiurai/marketplace/internal/models"
	"github.com/inaiurai/marketplace/internal/money"
)

// ---------------------------------------------------------------------------
// In-memory Store. Writes made through a *memTx are undone on Rollback, which
// lets the tests observe the all-or-nothing behaviour the database provides.
// ---------------------------------------------------------------------------

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

type memTx struct {
	noopTx
	store *memStore
	undo  []func()
	done  bool
}

func (t *memTx) Commit(context.Context) error {
	t.done = true
	t.undo = nil
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	return nil
}

type memStore struct {
	mu           sync.Mutex
	orders       map[uuid.UUID]*OrderRef
	settled      map[uuid.UUID]models.Settlement
	transactions []models.Transaction
	accounts     map[uuid.UUID]*models.EscrowAccount // by vendor
	escrowTxs    []models.EscrowTransaction
	failOn       string
}

var errBoom = errors.New("connection reset")

func newMemStore(orders ...*OrderRef) *memStore {
	m := &memStore{
		orders:   make(map[uuid.UUID]*OrderRef),
		settled:  make(map[uuid.UUID]models.Settlement),
		accounts: make(map[uuid.UUID]*models.EscrowAccount),
	}
	for _, o := range orders {
		m.orders[o.ID] = o
	}
	return m
}

func (m *memStore) begin() *memTx { return &memTx{store: m} }

// onUndo must be called with m.mu held.
func (m *memStore) onUndo(tx pgx.Tx, fn func()) {
	if t, ok := tx.(*memTx); ok {
		t.undo = append(t.undo, fn)
	}
}

func (m *memStore) FindOrder(_ context.Context, _ pgx.Tx, id uuid.UUID) (*OrderRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "FindOrder" {
		return nil, errBoom
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) ClaimSettlement(_ context.Context, tx pgx.Tx, s *models.Settlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.settled[s.OrderID]; ok {
		return false, nil
	}
	m.settled[s.OrderID] = *s
	id := s.OrderID
	m.onUndo(tx, func() { delete(m.settled, id) })
	return true, nil
}

func (m *memStore) CreateTransaction(_ context.Context, tx pgx.Tx, t *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "CreateTransaction:"+t.Type {
		return errBoom
	}
	m.transactions = append(m.transactions, *t)
	id := t.ID
	m.onUndo(tx, func() {
		for i, row := range m.transactions {
			if row.ID == id {
				m.transactions = append(m.transactions[:i], m.transactions[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (m *memStore) EnsureEscrowAccount(_ context.Context, tx pgx.Tx, vendorID uuid.UUID, currency string) (*models.EscrowAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[vendorID]
	if !ok {
		a = &models.EscrowAccount{ID: uuid.New(), VendorID: vendorID, Currency: currency}
		m.accounts[vendorID] = a
		m.onUndo(tx, func() { delete(m.accounts, vendorID) })
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) IncrementEscrowBalance(_ context.Context, tx pgx.Tx, accountID uuid.UUID, delta money.Amount) (money.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ID == accountID {
			a.Balance += delta
			acc := a
			m.onUndo(tx, func() { acc.Balance -= delta })
			return a.Balance, nil
		}
	}
	return 0, fmt.Errorf("escrow account %s not found", accountID)
}

func (m *memStore) CreateEscrowTransaction(_ context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn == "CreateEscrowTransaction" {
		return errBoom
	}
	m.escrowTxs = append(m.escrowTxs, *e)
	id := e.ID
	m.onUndo(tx, func() {
		for i, row := range m.escrowTxs {
			if row.ID == id {
				m.escrowTxs = append(m.escrowTxs[:i], m.escrowTxs[i+1:]...)
				return
			}
		}
	})
	return nil
}

func (m *memStore) balance(vendorID uuid.UUID) money.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.accounts[vendorID]; ok {
		return a.Balance
	}
	return 0
}

func (m *memStore) txByOrder(orderID uuid.UUID) []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Transaction
	for _, t := range m.transactions {
		if t.ReferenceID == orderID {
			out = append(out, t)
		}
	}
	return out
}

func (m *memStore) rowCounts() (settled, txs, accounts, escrowTxs int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.settled), len(m.transactions), len(m.accounts), len(m.escrowTxs)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newOrder(vendorID, vendorUserID uuid.UUID) *OrderRef {
	return &OrderRef{
		ID:           uuid.New(),
		VendorID:     vendorID,
		VendorUserID: vendorUserID,
		Currency:     "USD",
		Status:       models.OrderStatusCompleted,
	}
}

// settleTx runs one settlement in its own transaction, committing on success.
func settleTx(t *testing.T, svc Service, store *memStore, req SettleRequest) (*Result, error) {
	t.Helper()
	ctx := context.Background()
	tx := store.begin()
	defer tx.Rollback(ctx)
	res, err := svc.Settle(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	return res, tx.Commit(ctx)
}

// ---------------------------------------------------------------------------
// 1. 100.00 at 5% -> 5.00 platform / 95.00 seller
// ---------------------------------------------------------------------------

func TestSettle_Example(t *testing.T) {
	vendor, vendorUser := uuid.New(), uuid.New()
	order := newOrder(vendor, vendorUser)
	store := newMemStore(order)
	svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())

	res, err := settleTx(t, svc, store, SettleRequest{
		OrderID:      order.ID,
		PaymentID:    uuid.New(),
		Amount:       10000,
		Currency:     "USD",
		VendorUserID: vendorUser,
	})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if res.PlatformFee != 500 || res.SellerEarnings != 9500 {
		t.Errorf("split: got %d/%d, want 500/9500", res.PlatformFee, res.SellerEarnings)
	}
	if got := store.balance(vendor); got != 9500 {
		t.Errorf("escrow balance: got %d, want 9500", got)
	}

	rows := store.txByOrder(order.ID)
	if len(rows) != 2 {
		t.Fatalf("transaction rows: got %d, want 2", len(rows))
	}
	var platform, seller *models.Transaction
	for i := range rows {
		switch rows[i].Type {
		case models.TransactionCommissionPlatform:
			platform = &rows[i]
		case models.TransactionCommissionSeller:
			seller = &rows[i]
		}
	}
	if platform == nil || seller == nil {
		t.Fatalf("expected one platform and one seller row, got %+v", rows)
	}
	if platform.Amount != 500 || platform.UserID != nil {
		t.Errorf("platform row: amount %d user %v", platform.Amount, platform.UserID)
	}
	if seller.Amount != 9500 || seller.UserID == nil || *seller.UserID != vendorUser {
		t.Errorf("seller row: amount %d user %v", seller.Amount, seller.UserID)
	}
	if platform.Amount+seller.Amount != 10000 {
		t.Errorf("commission rows do not sum to the payment")
	}

	_, _, _, escrowTxs := store.rowCounts()
	if escrowTxs != 1 {
		t.Fatalf("escrow transactions: got %d, want 1", escrowTxs)
	}
	dep := store.escrowTxs[0]
	if dep.Type != models.EscrowTxDeposit || dep.Amount != 9500 || dep.OrderID != order.ID || dep.BalanceAfter != 9500 {
		t.Errorf("deposit row: %+v", dep)
	}
}

// ---------------------------------------------------------------------------
// 2. A second settlement for the same order is rejected without side effects
// ---------------------------------------------------------------------------

func TestSettle_Idempotent(t *testing.T) {
	vendor := uuid.New()
	order := newOrder(vendor, uuid.New())
	store := newMemStore(order)
	svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())

	req := SettleRequest{OrderID: order.ID, PaymentID: uuid.New(), Amount: 10000, Currency: "USD"}
	if _, err := settleTx(t, svc, store, req); err != nil {
		t.Fatalf("first Settle: %v", err)
	}
	_, err := settleTx(t, svc, store, req)
	if !errors.Is(err, ErrDuplicateSettlement) {
		t.Fatalf("second Settle: expected ErrDuplicateSettlement, got %v", err)
	}
	if got := store.balance(vendor); got != 9500 {
		t.Errorf("balance after duplicate: got %d, want 9500", got)
	}
	if n := len(store.txByOrder(order.ID)); n != 2 {
		t.Errorf("transaction rows after duplicate: got %d, want 2", n)
	}
}

// ---------------------------------------------------------------------------
// 3. Unknown order -> ErrOrderNotFound and nothing written
// ---------------------------------------------------------------------------

func TestSettle_OrderNotFound(t *testing.T) {
	store := newMemStore()
	svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())

	_, err := settleTx(t, svc, store, SettleRequest{OrderID: uuid.New(), PaymentID: uuid.New(), Amount: 10000, Currency: "USD"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	s, txs, accs, esc := store.rowCounts()
	if s+txs+accs+esc != 0 {
		t.Errorf("expected zero writes, got settlements=%d transactions=%d accounts=%d escrow=%d", s, txs, accs, esc)
	}
}

// ---------------------------------------------------------------------------
// 4. First settlement for a vendor creates exactly one escrow account
// ---------------------------------------------------------------------------

func TestSettle_LazyEscrowAccount(t *testing.T) {
	vendor := uuid.New()
	first, second := newOrder(vendor, uuid.New()), newOrder(vendor, uuid.New())
	second.VendorUserID = first.VendorUserID
	store := newMemStore(first, second)
	svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())

	if _, _, accs, _ := store.rowCounts(); accs != 0 {
		t.Fatalf("expected no escrow account before settlement")
	}
	res, err := settleTx(t, svc, store, SettleRequest{OrderID: first.ID, PaymentID: uuid.New(), Amount: 2000, Currency: "USD"})
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if _, _, accs, _ := store.rowCounts(); accs != 1 {
		t.Fatalf("escrow accounts: got %d, want 1", accs)
	}
	if res.BalanceAfter != 1900 || store.balance(vendor) != 1900 {
		t.Errorf("initial balance: got %d, want 1900", store.balance(vendor))
	}

	if _, err := settleTx(t, svc, store, SettleRequest{OrderID: second.ID, PaymentID: uuid.New(), Amount: 1000, Currency: "USD"}); err != nil {
		t.Fatalf("Settle second: %v", err)
	}
	if _, _, accs, _ := store.rowCounts(); accs != 1 {
		t.Errorf("escrow accounts after second order: got %d, want 1", accs)
	}
	if got := store.balance(vendor); got != 2850 {
		t.Errorf("balance: got %d, want 2850", got)
	}
}

// ---------------------------------------------------------------------------
// 5. N concurrent settlements for one vendor lose no updates
// ---------------------------------------------------------------------------

func TestSettle_ConcurrentSameVendor(t *testing.T) {
	const n = 50
	vendor, vendorUser := uuid.New(), uuid.New()
	orders := make([]*OrderRef, n)
	for i := range orders {
		orders[i] = newOrder(vendor, vendorUser)
	}
	store := newMemStore(orders...)
	svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		expected money.Amount
		errs     []error
	)
	for i, o := range orders {
		wg.Add(1)
		go func(i int, o *OrderRef) {
			defer wg.Done()
			amount := money.Amount(1000 + i*37)
			ctx := context.Background()
			tx := store.begin()
			res, err := svc.Settle(ctx, tx, SettleRequest{OrderID: o.ID, PaymentID: uuid.New(), Amount: amount, Currency: "USD"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				_ = tx.Rollback(ctx)
				errs = append(errs, err)
				return
			}
			_ = tx.Commit(ctx)
			expected += res.SellerEarnings
		}(i, o)
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("concurrent settle errors: %v", errs)
	}
	if got := store.balance(vendor); got != expected {
		t.Errorf("balance: got %d, want %d", got, expected)
	}
	if _, _, accs, esc := store.rowCounts(); accs != 1 || esc != n {
		t.Errorf("got %d accounts and %d escrow rows, want 1 and %d", accs, esc, n)
	}
}

// ---------------------------------------------------------------------------
// 6. Concurrent duplicate deliveries for one order credit escrow once
// ---------------------------------------------------------------------------

func TestSettle_ConcurrentDuplicates(t *testing.T) {
	vendor := uuid.New()
	order := newOrder(vendor, uuid.New())
	store := newMemStore(order)
	svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, duplicates := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := settleTx(t, svc, store, SettleRequest{OrderID: order.ID, PaymentID: uuid.New(), Amount: 5000, Currency: "USD"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, ErrDuplicateSettlement):
				duplicates++
			}
		}()
	}
	wg.Wait()

	if succeeded != 1 || duplicates != 9 {
		t.Errorf("got %d successes and %d duplicates, want 1 and 9", succeeded, duplicates)
	}
	if got := store.balance(vendor); got != 4750 {
		t.Errorf("balance: got %d, want 4750", got)
	}
}

// ---------------------------------------------------------------------------
// 7. A failure mid-settlement leaves no partial ledger state
// ---------------------------------------------------------------------------

func TestSettle_FailureRollsBack(t *testing.T) {
	for _, step := range []string{
		"CreateTransaction:" + models.TransactionCommissionSeller,
		"CreateEscrowTransaction",
	} {
		t.Run(step, func(t *testing.T) {
			vendor := uuid.New()
			order := newOrder(vendor, uuid.New())
			store := newMemStore(order)
			store.failOn = step
			svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())

			_, err := settleTx(t, svc, store, SettleRequest{OrderID: order.ID, PaymentID: uuid.New(), Amount: 10000, Currency: "USD"})
			var perr *PersistenceError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *PersistenceError, got %v", err)
			}
			if !errors.Is(err, errBoom) {
				t.Errorf("PersistenceError should wrap the storage error")
			}
			s, txs, accs, esc := store.rowCounts()
			if s+txs+accs+esc != 0 {
				t.Errorf("partial state after rollback: settlements=%d transactions=%d accounts=%d escrow=%d", s, txs, accs, esc)
			}
			if got := store.balance(vendor); got != 0 {
				t.Errorf("balance after rollback: got %d", got)
			}

			// The order can be settled once the fault clears.
			store.failOn = ""
			if _, err := settleTx(t, svc, store, SettleRequest{OrderID: order.ID, PaymentID: uuid.New(), Amount: 10000, Currency: "USD"}); err != nil {
				t.Fatalf("retry Settle: %v", err)
			}
			if got := store.balance(vendor); got != 9500 {
				t.Errorf("balance after retry: got %d, want 9500", got)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// 8. Input validation
// ---------------------------------------------------------------------------

func TestSettle_Rejects(t *testing.T) {
	vendor, vendorUser := uuid.New(), uuid.New()
	order := newOrder(vendor, vendorUser)

	cases := []struct {
		name string
		req  SettleRequest
		want error
	}{
		{"zero amount", SettleRequest{OrderID: order.ID, Amount: 0, Currency: "USD"}, ErrInvalidAmount},
		{"negative amount", SettleRequest{OrderID: order.ID, Amount: -100, Currency: "USD"}, ErrInvalidAmount},
		{"missing currency", SettleRequest{OrderID: order.ID, Amount: 100}, ErrInvalidAmount},
		{"vendor mismatch", SettleRequest{OrderID: order.ID, Amount: 100, Currency: "USD", VendorUserID: uuid.New()}, ErrVendorMismatch},
		{"currency mismatch", SettleRequest{OrderID: order.ID, Amount: 100, Currency: "EUR"}, ErrCurrencyMismatch},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			store := newMemStore(order)
			svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())
			_, err := settleTx(t, svc, store, c.req)
			if !errors.Is(err, c.want) {
				t.Fatalf("expected %v, got %v", c.want, err)
			}
			if s, txs, accs, esc := store.rowCounts(); s+txs+accs+esc != 0 {
				t.Errorf("expected zero writes")
			}
		})
	}
}

func TestSettle_PersistenceErrorOnLookup(t *testing.T) {
	store := newMemStore()
	store.failOn = "FindOrder"
	svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())
	_, err := settleTx(t, svc, store, SettleRequest{OrderID: uuid.New(), Amount: 100, Currency: "USD"})
	var perr *PersistenceError
	if !errors.As(err, &perr) || perr.Op != "find order" {
		t.Fatalf("expected find order PersistenceError, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// 9. Ledger sums match the payment for a spread of amounts
// ---------------------------------------------------------------------------

func TestSettle_CommissionRowsSumToPayment(t *testing.T) {
	vendor, vendorUser := uuid.New(), uuid.New()
	store := newMemStore()
	svc := NewService(store, money.DefaultPlatformFeeRate, quietLogger())

	var expected money.Amount
	for _, amount := range []money.Amount{1, 19, 20, 99, 1999, 12345, 10000000} {
		o := newOrder(vendor, vendorUser)
		store.orders[o.ID] = o
		if _, err := settleTx(t, svc, store, SettleRequest{OrderID: o.ID, PaymentID: uuid.New(), Amount: amount, Currency: "usd"}); err != nil {
			t.Fatalf("Settle %d: %v", amount, err)
		}
		var sum money.Amount
		rows := store.txByOrder(o.ID)
		for _, r := range rows {
			sum += r.Amount
			if r.Type == models.TransactionCommissionSeller {
				expected += r.Amount
			}
		}
		if len(rows) != 2 || sum != amount {
			t.Errorf("amount %d: %d rows summing to %d", amount, len(rows), sum)
		}
	}
	if got := store.balance(vendor); got != expected {
		t.Errorf("balance: got %d, want %d", got, expected)
	}
}

func TestReconciliation(t *testing.T) {
	rec := &Reconciliation{Balance: 9000, Deposits: 9500, Withdrawals: 500}
	if !rec.Balanced() {
		t.Errorf("expected balanced reconciliation")
	}
	rec.Balance = 9100
	if rec.Balanced() {
		t.Errorf("balance drift should not reconcile")
	}
	rec.Balance = 9000
	rec.Drift = []OrderDrift{{OrderID: uuid.New(), PaymentAmount: 100, Rows: 1, LedgerSum: 5}}
	if rec.Balanced() {
		t.Errorf("order drift should not reconcile")
	}
}
