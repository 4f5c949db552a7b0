package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/inaiurai/marketplace/internal/ledger"
	"github.com/inaiurai/marketplace/internal/repository"
	"github.com/inaiurai/marketplace/internal/services"
)

// SettlePaymentArgs is enqueued by the webhook handler in the same transaction
// that stores the webhook event.
type SettlePaymentArgs struct {
	WebhookEventID uuid.UUID `json:"webhook_event_id"`
}

func (SettlePaymentArgs) Kind() string { return "settle_payment" }

func (SettlePaymentArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		MaxAttempts: 10,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
}

// EventProcessor defines the contract the worker needs to settle a stored event.
type EventProcessor interface {
	ProcessEventByID(ctx context.Context, id uuid.UUID) (*services.Outcome, error)
}

type SettlePaymentWorker struct {
	river.WorkerDefaults[SettlePaymentArgs]
	processor EventProcessor
	log       *slog.Logger
}

func NewSettlePaymentWorker(p EventProcessor, log *slog.Logger) *SettlePaymentWorker {
	if log == nil {
		log = slog.Default()
	}
	return &SettlePaymentWorker{processor: p, log: log}
}

func (w *SettlePaymentWorker) Work(ctx context.Context, job *river.Job[SettlePaymentArgs]) error {
	eventID := job.Args.WebhookEventID
	out, err := w.processor.ProcessEventByID(ctx, eventID)
	if err != nil {
		if permanent(err) {
			w.log.Warn("settlement cancelled", "job_id", job.ID, "webhook_event_id", eventID, "error", err)
			return river.JobCancel(err)
		}
		w.log.Error("settlement failed, will retry", "job_id", job.ID, "attempt", job.Attempt, "webhook_event_id", eventID, "error", err)
		return fmt.Errorf("settle webhook event %s: %w", eventID, err)
	}
	if out.Duplicate {
		w.log.Info("settlement skipped, already settled", "job_id", job.ID, "webhook_event_id", eventID)
		return nil
	}
	w.log.Info("settlement completed", "job_id", job.ID, "webhook_event_id", eventID,
		"order_id", out.Result.OrderID, "vendor_id", out.Result.VendorID, "balance_after", out.Result.BalanceAfter)
	return nil
}

// permanent reports errors that retrying cannot fix.
func permanent(err error) bool {
	return errors.Is(err, ledger.ErrOrderNotFound) ||
		errors.Is(err, ledger.ErrVendorMismatch) ||
		errors.Is(err, ledger.ErrCurrencyMismatch) ||
		errors.Is(err, ledger.ErrInvalidAmount) ||
		errors.Is(err, services.ErrAmountMismatch) ||
		errors.Is(err, repository.ErrNotFound)
}
