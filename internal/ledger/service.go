package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/inaiurai/marketplace/internal/models"
	"github.com/inaiurai/marketplace/internal/money"
)

// OrderRef is the part of an order settlement needs. VendorUserID comes from
// the vendor row, never from the caller.
type OrderRef struct {
	ID           uuid.UUID
	VendorID     uuid.UUID
	VendorUserID uuid.UUID
	Currency     string
	Status       string
}

// Store is the persistence the ledger needs. Every method runs inside the
// caller's transaction.
type Store interface {
	FindOrder(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*OrderRef, error)
	ClaimSettlement(ctx context.Context, tx pgx.Tx, s *models.Settlement) (claimed bool, err error)
	CreateTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error
	EnsureEscrowAccount(ctx context.Context, tx pgx.Tx, vendorID uuid.UUID, currency string) (*models.EscrowAccount, error)
	IncrementEscrowBalance(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta money.Amount) (newBalance money.Amount, err error)
	CreateEscrowTransaction(ctx context.Context, tx pgx.Tx, e *models.EscrowTransaction) error
}

// SettleRequest describes one confirmed payment. VendorUserID is optional; when
// set it must agree with the order's vendor.
type SettleRequest struct {
	OrderID         uuid.UUID
	PaymentID       uuid.UUID
	Amount          money.Amount
	Currency        string
	VendorUserID    uuid.UUID
	ProviderEventID string
}

// Result reports what a settlement wrote.
type Result struct {
	OrderID         uuid.UUID
	VendorID        uuid.UUID
	EscrowAccountID uuid.UUID
	Gross           money.Amount
	PlatformFee     money.Amount
	SellerEarnings  money.Amount
	BalanceAfter    money.Amount
	Currency        string
}

// Service books settlements against the caller's transaction.
type Service interface {
	Settle(ctx context.Context, tx pgx.Tx, req SettleRequest) (*Result, error)
}

type service struct {
	store   Store
	feeRate decimal.Decimal
	log     *slog.Logger
}

// NewService returns the settlement ledger. feeRate is the platform commission (e.g. 0.05).
func NewService(store Store, feeRate decimal.Decimal, log *slog.Logger) Service {
	if log == nil {
		log = slog.Default()
	}
	return &service{store: store, feeRate: feeRate, log: log}
}

var _ Service = (*service)(nil)

// Settle books the commission split and credits the vendor's escrow inside tx.
// The caller commits; on any error the caller must roll back.
func (s *service) Settle(ctx context.Context, tx pgx.Tx, req SettleRequest) (*Result, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, fmt.Errorf("%w: missing currency", ErrInvalidAmount)
	}

	order, err := s.store.FindOrder(ctx, tx, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
		return nil, persistErr("find order", err)
	}
	if req.VendorUserID != uuid.Nil && req.VendorUserID != order.VendorUserID {
		return nil, fmt.Errorf("%w: order %s", ErrVendorMismatch, order.ID)
	}
	if !strings.EqualFold(order.Currency, currency) {
		return nil, fmt.Errorf("%w: payment %s, order %s", ErrCurrencyMismatch, currency, order.Currency)
	}

	claimed, err := s.store.ClaimSettlement(ctx, tx, &models.Settlement{
		OrderID:         order.ID,
		PaymentID:       req.PaymentID,
		ProviderEventID: req.ProviderEventID,
	})
	if err != nil {
		return nil, persistErr("claim settlement", err)
	}
	if !claimed {
		return nil, ErrDuplicateSettlement
	}

	platformFee, sellerEarnings := money.Split(req.Amount, s.feeRate)

	if err := s.store.CreateTransaction(ctx, tx, &models.Transaction{
		ID:          uuid.New(),
		Type:        models.TransactionCommissionPlatform,
		Amount:      platformFee,
		Currency:    currency,
		Status:      models.TransactionStatusCompleted,
		ReferenceID: order.ID,
		Description: fmt.Sprintf("Platform commission for order %s", order.ID),
	}); err != nil {
		return nil, persistErr("create platform transaction", err)
	}
	vendorUser := order.VendorUserID
	if err := s.store.CreateTransaction(ctx, tx, &models.Transaction{
		ID:          uuid.New(),
		Type:        models.TransactionCommissionSeller,
		Amount:      sellerEarnings,
		Currency:    currency,
		Status:      models.TransactionStatusCompleted,
		ReferenceID: order.ID,
		UserID:      &vendorUser,
		Description: fmt.Sprintf("Seller earnings for order %s", order.ID),
	}); err != nil {
		return nil, persistErr("create seller transaction", err)
	}

	account, err := s.store.EnsureEscrowAccount(ctx, tx, order.VendorID, currency)
	if err != nil {
		return nil, persistErr("ensure escrow account", err)
	}
	if !strings.EqualFold(account.Currency, currency) {
		return nil, fmt.Errorf("%w: escrow account %s holds %s", ErrCurrencyMismatch, account.ID, account.Currency)
	}
	balance, err := s.store.IncrementEscrowBalance(ctx, tx, account.ID, sellerEarnings)
	if err != nil {
		return nil, persistErr("increment escrow balance", err)
	}
	if err := s.store.CreateEscrowTransaction(ctx, tx, &models.EscrowTransaction{
		ID:              uuid.New(),
		EscrowAccountID: account.ID,
		OrderID:         order.ID,
		Amount:          sellerEarnings,
		Type:            models.EscrowTxDeposit,
		Status:          models.EscrowTxStatusCompleted,
		Description:     fmt.Sprintf("Escrow deposit for order %s", order.ID),
		BalanceAfter:    balance,
	}); err != nil {
		return nil, persistErr("create escrow transaction", err)
	}

	s.log.Info("order settled",
		"order_id", order.ID,
		"vendor_id", order.VendorID,
		"gross", req.Amount,
		"platform_fee", platformFee,
		"seller_earnings", sellerEarnings,
		"currency", currency,
	)
	return &Result{
		OrderID:         order.ID,
		VendorID:        order.VendorID,
		EscrowAccountID: account.ID,
		Gross:           req.Amount,
		PlatformFee:     platformFee,
		SellerEarnings:  sellerEarnings,
		BalanceAfter:    balance,
		Currency:        currency,
	}, nil
}
