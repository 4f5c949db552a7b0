package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inaiurai/marketplace/internal/models"
)

type PaymentRepo struct {
	pool *pgxpool.Pool
}

func NewPaymentRepo(pool *pgxpool.Pool) *PaymentRepo {
	return &PaymentRepo{pool: pool}
}

const paymentColumns = `id, order_id, amount, currency, status, provider, transaction_id, metadata, created_at, updated_at`

func scanPayment(row pgx.Row) (*models.Payment, error) {
	var p models.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Currency, &p.Status, &p.Provider, &p.TransactionID, &p.Metadata, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRepo) GetByOrderID(ctx context.Context, orderID uuid.UUID) (*models.Payment, error) {
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
}

// GetByOrderIDForUpdate locks the payment row. Call within a transaction.
func (r *PaymentRepo) GetByOrderIDForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.Payment, error) {
	return scanPayment(tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1 FOR UPDATE`, orderID))
}

// MarkCompletedTx records the provider reference and raw payload and moves the
// payment to COMPLETED. Returns false when the payment was not pending.
func (r *PaymentRepo) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerTxID string, metadata json.RawMessage) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'COMPLETED', transaction_id = $2, metadata = $3, updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
	`, id, providerTxID, metadata)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
