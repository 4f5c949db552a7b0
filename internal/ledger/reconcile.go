package ledger

import (
	"github.com/google/uuid"

	"github.com/inaiurai/marketplace/internal/money"
)

// Reconciliation is a point-in-time audit of one vendor's escrow.
type Reconciliation struct {
	VendorID    uuid.UUID
	Currency    string
	Balance     money.Amount
	Deposits    money.Amount
	Withdrawals money.Amount
	Drift       []OrderDrift
}

// OrderDrift is a settled order whose commission rows do not match its payment.
type OrderDrift struct {
	OrderID       uuid.UUID
	PaymentAmount money.Amount
	Rows          int
	LedgerSum     money.Amount
}

// Expected is the balance implied by the escrow history.
func (r *Reconciliation) Expected() money.Amount {
	return r.Deposits - r.Withdrawals
}

// Balanced reports whether the balance matches its history and no order drifted.
func (r *Reconciliation) Balanced() bool {
	return r.Balance == r.Expected() && len(r.Drift) == 0
}
