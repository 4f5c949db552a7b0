package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/inaiurai/marketplace/internal/ledger"
	"github.com/inaiurai/marketplace/internal/services"
)

type stubProcessor struct {
	out  *services.Outcome
	err  error
	seen []uuid.UUID
}

func (s *stubProcessor) ProcessEventByID(_ context.Context, id uuid.UUID) (*services.Outcome, error) {
	s.seen = append(s.seen, id)
	return s.out, s.err
}

func newJob(id uuid.UUID) *river.Job[SettlePaymentArgs] {
	return &river.Job[SettlePaymentArgs]{
		JobRow: &rivertype.JobRow{ID: 1, Attempt: 1},
		Args:   SettlePaymentArgs{WebhookEventID: id},
	}
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSettlePaymentWorker_Success(t *testing.T) {
	id := uuid.New()
	p := &stubProcessor{out: &services.Outcome{Result: &ledger.Result{OrderID: uuid.New(), BalanceAfter: 9500}}}
	w := NewSettlePaymentWorker(p, quiet())

	if err := w.Work(context.Background(), newJob(id)); err != nil {
		t.Fatalf("Work: %v", err)
	}
	if len(p.seen) != 1 || p.seen[0] != id {
		t.Errorf("processor called with %v", p.seen)
	}
}

func TestSettlePaymentWorker_DuplicateIsSuccess(t *testing.T) {
	w := NewSettlePaymentWorker(&stubProcessor{out: &services.Outcome{Duplicate: true}}, quiet())
	if err := w.Work(context.Background(), newJob(uuid.New())); err != nil {
		t.Fatalf("duplicate should complete the job, got %v", err)
	}
}

func TestSettlePaymentWorker_CancelsPermanentErrors(t *testing.T) {
	for _, cause := range []error{
		ledger.ErrOrderNotFound,
		ledger.ErrVendorMismatch,
		fmt.Errorf("%w: USD vs EUR", ledger.ErrCurrencyMismatch),
		services.ErrAmountMismatch,
	} {
		w := NewSettlePaymentWorker(&stubProcessor{err: cause}, quiet())
		err := w.Work(context.Background(), newJob(uuid.New()))
		var cancel *river.JobCancelError
		if !errors.As(err, &cancel) {
			t.Errorf("%v: expected JobCancel, got %v", cause, err)
		}
		if !errors.Is(err, cause) {
			t.Errorf("%v: cause lost: %v", cause, err)
		}
	}
}

func TestSettlePaymentWorker_RetriesPersistenceErrors(t *testing.T) {
	cause := &ledger.PersistenceError{Op: "increment escrow balance", Err: errors.New("deadlock detected")}
	w := NewSettlePaymentWorker(&stubProcessor{err: cause}, quiet())
	err := w.Work(context.Background(), newJob(uuid.New()))
	if err == nil {
		t.Fatal("expected error so river retries")
	}
	var cancel *river.JobCancelError
	if errors.As(err, &cancel) {
		t.Errorf("persistence errors must be retried, not cancelled")
	}
	var pe *ledger.PersistenceError
	if !errors.As(err, &pe) {
		t.Errorf("expected PersistenceError in chain, got %v", err)
	}
}

func TestSettlePaymentArgs(t *testing.T) {
	var a SettlePaymentArgs
	if a.Kind() != "settle_payment" {
		t.Errorf("kind: %s", a.Kind())
	}
	if opts := a.InsertOpts(); !opts.UniqueOpts.ByArgs {
		t.Error("jobs should be unique by webhook event")
	}
}
