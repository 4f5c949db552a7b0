package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/inaiurai/marketplace/internal/events"
	"github.com/inaiurai/marketplace/internal/ledger"
	"github.com/inaiurai/marketplace/internal/models"
	"github.com/inaiurai/marketplace/internal/repository"
)

// ErrAmountMismatch is returned when a confirmed payment does not carry the amount the order expects.
var ErrAmountMismatch = errors.New("confirmed amount does not match payment")

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ProcessorPaymentRepo is the payment repository interface used by the processor.
type ProcessorPaymentRepo interface {
	GetByOrderIDForUpdate(ctx context.Context, tx pgx.Tx, orderID uuid.UUID) (*models.Payment, error)
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, providerTxID string, metadata json.RawMessage) (bool, error)
}

type ProcessorOrderRepo interface {
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
}

type ProcessorEventRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEvent, error)
	MarkProcessedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// PaymentProcessor turns a stored, verified webhook event into a completed
// payment, a completed order and a settled ledger, all in one transaction.
type PaymentProcessor struct {
	Pool      TxBeginner
	Payments  ProcessorPaymentRepo
	Orders    ProcessorOrderRepo
	Events    ProcessorEventRepo
	Ledger    ledger.Service
	Publisher events.Publisher
	Logger    *slog.Logger
}

func NewPaymentProcessor(
	pool TxBeginner,
	payments ProcessorPaymentRepo,
	orders ProcessorOrderRepo,
	webhookEvents ProcessorEventRepo,
	ledgerSvc ledger.Service,
	publisher events.Publisher,
	logger *slog.Logger,
) *PaymentProcessor {
	if publisher == nil {
		publisher = events.Noop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentProcessor{
		Pool:      pool,
		Payments:  payments,
		Orders:    orders,
		Events:    webhookEvents,
		Ledger:    ledgerSvc,
		Publisher: publisher,
		Logger:    logger,
	}
}

// Outcome reports what ProcessEvent did. Result is nil for duplicates.
type Outcome struct {
	Result    *ledger.Result
	Duplicate bool
}

// ProcessEventByID loads a stored webhook event and processes it. Events that
// were already processed are reported as duplicates.
func (p *PaymentProcessor) ProcessEventByID(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	ev, err := p.Events.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load webhook event %s: %w", id, err)
	}
	if ev.ProcessedAt != nil {
		return &Outcome{Duplicate: true}, nil
	}
	return p.ProcessEvent(ctx, ev)
}

// ProcessEvent settles the order referenced by ev. A repeated confirmation for
// an already-settled order returns Duplicate with no ledger writes.
func (p *PaymentProcessor) ProcessEvent(ctx context.Context, ev *models.WebhookEvent) (*Outcome, error) {
	out, err := p.process(ctx, ev)
	if err != nil {
		if markErr := p.Events.MarkFailed(ctx, ev.ID, err.Error()); markErr != nil {
			p.Logger.Error("record webhook failure", "webhook_event_id", ev.ID, "error", markErr)
		}
		return nil, err
	}
	if out.Duplicate {
		p.Logger.Info("duplicate payment confirmation", "order_id", ev.OrderID, "provider", ev.Provider, "provider_event_id", ev.ProviderEventID)
		return out, nil
	}

	res := out.Result
	err = events.PublishOrderSettled(ctx, p.Publisher, events.OrderSettled{
		OrderID:         res.OrderID,
		VendorID:        res.VendorID,
		EscrowAccountID: res.EscrowAccountID,
		Gross:           res.Gross,
		PlatformFee:     res.PlatformFee,
		SellerEarnings:  res.SellerEarnings,
		BalanceAfter:    res.BalanceAfter,
		Currency:        res.Currency,
		SettledAt:       time.Now().UTC(),
	})
	if err != nil {
		p.Logger.Warn("publish order settled", "order_id", res.OrderID, "error", err)
	}
	return out, nil
}

func (p *PaymentProcessor) process(ctx context.Context, ev *models.WebhookEvent) (*Outcome, error) {
	tx, err := p.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	pay, err := p.Payments.GetByOrderIDForUpdate(ctx, tx, ev.OrderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ledger.ErrOrderNotFound, ev.OrderID)
	}
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "lock payment", Err: err}
	}

	if pay.Status == models.PaymentStatusCompleted {
		if err := p.Events.MarkProcessedTx(ctx, tx, ev.ID); err != nil {
			return nil, &ledger.PersistenceError{Op: "mark webhook processed", Err: err}
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, &ledger.PersistenceError{Op: "commit", Err: err}
		}
		return &Outcome{Duplicate: true}, nil
	}
	if pay.Currency != ev.Currency {
		return nil, fmt.Errorf("%w: payment %s, event %s", ledger.ErrCurrencyMismatch, pay.Currency, ev.Currency)
	}
	if pay.Amount != ev.Amount {
		return nil, fmt.Errorf("%w: payment %d, event %d", ErrAmountMismatch, pay.Amount, ev.Amount)
	}

	if _, err := p.Payments.MarkCompletedTx(ctx, tx, pay.ID, ev.ProviderTransactionID, ev.Payload); err != nil {
		return nil, &ledger.PersistenceError{Op: "complete payment", Err: err}
	}
	moved, err := p.Orders.MarkCompletedTx(ctx, tx, ev.OrderID)
	if err != nil {
		return nil, &ledger.PersistenceError{Op: "complete order", Err: err}
	}
	if !moved {
		p.Logger.Warn("order was not pending at settlement", "order_id", ev.OrderID)
	}

	res, err := p.Ledger.Settle(ctx, tx, ledger.SettleRequest{
		OrderID:         ev.OrderID,
		PaymentID:       pay.ID,
		Amount:          ev.Amount,
		Currency:        ev.Currency,
		ProviderEventID: ev.ProviderEventID,
	})
	duplicate := errors.Is(err, ledger.ErrDuplicateSettlement)
	if err != nil && !duplicate {
		return nil, err
	}

	if err := p.Events.MarkProcessedTx(ctx, tx, ev.ID); err != nil {
		return nil, &ledger.PersistenceError{Op: "mark webhook processed", Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, &ledger.PersistenceError{Op: "commit", Err: err}
	}
	if duplicate {
		return &Outcome{Duplicate: true}, nil
	}
	return &Outcome{Result: res}, nil
}
