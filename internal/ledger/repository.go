package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/marketplace/internal/models"
	"github.com/inaiurai/marketplace/internal/money"
)

// Repository is the Postgres Store plus the read and reconcile queries behind
// the dashboard and ledgerctl.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// FindOrder locks the order row and resolves the vendor's user.
func (r *Repository) FindOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*OrderRef, error) {
	var o OrderRef
	err := tx.QueryRow(ctx, `
		SELECT o.id, o.vendor_id, v.user_id, o.currency, o.status
		FROM orders o
		JOIN vendors v ON v.id = o.vendor_id
		WHERE o.id = $1
		FOR UPDATE OF o
	`, orderID).Scan(&o.ID, &o.VendorID, &o.VendorUserID, &o.Currency, &o.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ClaimSettlement inserts the idempotency row for the order. A concurrent claim
// for the same order blocks on the unique index until the first transaction
// finishes, then reports claimed=false.
func (r *Repository) ClaimSettlement(ctx context.Context, tx pgx.Tx, s *models.Settlement) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO settlements (order_id, payment_id, provider_event_id)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (order_id) DO NOTHING
	`, s.OrderID, s.PaymentID, s.ProviderEventID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) CreateTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO transactions (id, type, amount, currency, status, reference_id, user_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, t.ID, t.Type, t.Amount, t.Currency, t.Status, t.ReferenceID, t.UserID, t.Description).Scan(&t.CreatedAt)
}

// EnsureEscrowAccount is find-or-create keyed on the unique vendor_id: insert
// with ON CONFLICT DO NOTHING, then read back whichever row won.
func (r *Repository) EnsureEscrowAccount(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, currency string) (*models.EscrowAccount, error) {
	if _, err := tx.Exec(ctx, `
		INSERT INTO escrow_accounts (vendor_id, balance, currency)
		VALUES ($1, 0, $2)
		ON CONFLICT (vendor_id) DO NOTHING
	`, vendorID, currency); err != nil {
		return nil, err
	}
	var a models.EscrowAccount
	err := tx.QueryRow(ctx, `
		SELECT id, vendor_id, balance, currency, created_at, updated_at
		FROM escrow_accounts WHERE vendor_id = $1
	`, vendorID).Scan(&a.ID, &a.VendorID, &a.Balance, &a.Currency, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// IncrementEscrowBalance adds delta in a single statement and returns the new balance.
func (r *Repository) IncrementEscrowBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta money.Amount) (newBalance money.Amount, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE escrow_accounts SET balance = balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance
	`, delta, accountID).Scan(&newBalance)
	return newBalance, err
}

func (r *Repository) CreateEscrowTransaction(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO escrow_transactions (id, escrow_account_id, order_id, amount, type, status, description, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, e.ID, e.EscrowAccountID, e.OrderID, e.Amount, e.Type, e.Status, e.Description, e.BalanceAfter).Scan(&e.CreatedAt)
}

// --- reads (dashboard, ledgerctl) ---

func (r *Repository) GetEscrowAccountByVendor(ctx context.Context, vendorID uuid.UUID) (*models.EscrowAccount, error) {
	var a models.EscrowAccount
	err := r.pool.QueryRow(ctx, `
		SELECT id, vendor_id, balance, currency, created_at, updated_at
		FROM escrow_accounts WHERE vendor_id = $1
	`, vendorID).Scan(&a.ID, &a.VendorID, &a.Balance, &a.Currency, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEscrowAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) ListEscrowTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.EscrowTransaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, escrow_account_id, order_id, amount, type, status, description, balance_after, created_at
		FROM escrow_transactions WHERE escrow_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EscrowTransaction
	for rows.Next() {
		var e models.EscrowTransaction
		if err := rows.Scan(&e.ID, &e.EscrowAccountID, &e.OrderID, &e.Amount, &e.Type, &e.Status, &e.Description, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *Repository) ListTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, type, amount, currency, status, reference_id, user_id, description, created_at
		FROM transactions WHERE reference_id = $1
		ORDER BY created_at ASC, type ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Amount, &t.Currency, &t.Status, &t.ReferenceID, &t.UserID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// Reconcile compares a vendor's escrow balance with its escrow history and
// checks every settled order for exactly two commission rows summing to the payment.
func (r *Repository) Reconcile(ctx context.Context, vendorID uuid.UUID) (*Reconciliation, error) {
	acc, err := r.GetEscrowAccountByVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	rec := &Reconciliation{VendorID: vendorID, Currency: acc.Currency, Balance: acc.Balance}
	err = r.pool.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE type = 'DEPOSIT'), 0),
			COALESCE(SUM(amount) FILTER (WHERE type = 'WITHDRAWAL'), 0)
		FROM escrow_transactions WHERE escrow_account_id = $1
	`, acc.ID).Scan(&rec.Deposits, &rec.Withdrawals)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, `
		SELECT s.order_id, p.amount, COUNT(t.id), COALESCE(SUM(t.amount), 0)
		FROM settlements s
		JOIN orders o ON o.id = s.order_id
		JOIN payments p ON p.id = s.payment_id
		LEFT JOIN transactions t
			ON t.reference_id = s.order_id AND t.type IN ('COMMISSION_PLATFORM', 'COMMISSION_SELLER')
		WHERE o.vendor_id = $1
		GROUP BY s.order_id, p.amount
		HAVING COUNT(t.id) <> 2 OR COALESCE(SUM(t.amount), 0) <> p.amount
	`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var d OrderDrift
		if err := rows.Scan(&d.OrderID, &d.PaymentAmount, &d.Rows, &d.LedgerSum); err != nil {
			return nil, err
		}
		rec.Drift = append(rec.Drift, d)
	}
	return rec, rows.Err()
}
