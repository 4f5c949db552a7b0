// Package dashboard serves the read-only escrow and ledger views used by the
// seller dashboard and the admin console.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/inaiurai/marketplace/internal/ledger"
	"github.com/inaiurai/marketplace/internal/middleware"
	"github.com/inaiurai/marketplace/internal/models"
	"github.com/inaiurai/marketplace/internal/money"
	"github.com/inaiurai/marketplace/internal/repository"
)

// LedgerReader is the read side of ledger.Repository.
type LedgerReader interface {
	GetEscrowAccountByVendor(ctx context.Context, vendorID uuid.UUID) (*models.EscrowAccount, error)
	ListEscrowTransactions(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.EscrowTransaction, error)
	ListTransactionsByOrder(ctx context.Context, orderID uuid.UUID) ([]*models.Transaction, error)
}

type VendorLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Vendor, error)
}

type Handler struct {
	ledger  LedgerReader
	vendors VendorLookup
	log     *slog.Logger
}

func NewHandler(ledgerR LedgerReader, vendors VendorLookup, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledger: ledgerR, vendors: vendors, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

type escrowAccountResponse struct {
	ID        uuid.UUID    `json:"id"`
	VendorID  uuid.UUID    `json:"vendor_id"`
	Balance   string       `json:"balance"`
	Minor     money.Amount `json:"balance_minor"`
	Currency  string       `json:"currency"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type escrowTransactionResponse struct {
	ID           uuid.UUID `json:"id"`
	OrderID      uuid.UUID `json:"order_id"`
	Type         string    `json:"type"`
	Status       string    `json:"status"`
	Amount       string    `json:"amount"`
	BalanceAfter string    `json:"balance_after"`
	Description  string    `json:"description"`
	CreatedAt    time.Time `json:"created_at"`
}

type transactionResponse struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	Amount      string     `json:"amount"`
	Currency    string     `json:"currency"`
	Status      string     `json:"status"`
	UserID      *uuid.UUID `json:"user_id,omitempty"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
}

// authorizeVendor resolves {vendorID} and allows admins or the vendor's own user.
func (h *Handler) authorizeVendor(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	p := middleware.PrincipalFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	vendorID, err := uuid.Parse(chi.URLParam(r, "vendorID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid vendor id")
		return uuid.Nil, false
	}
	if p.Role == models.RoleAdmin {
		return vendorID, true
	}
	v, err := h.vendors.GetByID(r.Context(), vendorID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "vendor not found")
		return uuid.Nil, false
	}
	if err != nil {
		h.log.Error("get vendor failed", "vendor_id", vendorID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return uuid.Nil, false
	}
	if v.UserID != p.UserID {
		writeError(w, http.StatusForbidden, "forbidden")
		return uuid.Nil, false
	}
	return vendorID, true
}

// GET /api/v1/vendors/{vendorID}/escrow
func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.authorizeVendor(w, r)
	if !ok {
		return
	}
	acc, err := h.ledger.GetEscrowAccountByVendor(r.Context(), vendorID)
	if errors.Is(err, ledger.ErrEscrowAccountNotFound) {
		writeError(w, http.StatusNotFound, "no escrow account for vendor")
		return
	}
	if err != nil {
		h.log.Error("get escrow account failed", "vendor_id", vendorID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, escrowAccountResponse{
		ID:        acc.ID,
		VendorID:  acc.VendorID,
		Balance:   money.Format(acc.Balance, acc.Currency),
		Minor:     acc.Balance,
		Currency:  acc.Currency,
		UpdatedAt: acc.UpdatedAt,
	})
}

// GET /api/v1/vendors/{vendorID}/escrow/transactions?limit=N
func (h *Handler) ListEscrowTransactions(w http.ResponseWriter, r *http.Request) {
	vendorID, ok := h.authorizeVendor(w, r)
	if !ok {
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	acc, err := h.ledger.GetEscrowAccountByVendor(r.Context(), vendorID)
	if errors.Is(err, ledger.ErrEscrowAccountNotFound) {
		writeJSON(w, http.StatusOK, []escrowTransactionResponse{})
		return
	}
	if err != nil {
		h.log.Error("get escrow account failed", "vendor_id", vendorID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	list, err := h.ledger.ListEscrowTransactions(r.Context(), acc.ID, limit)
	if err != nil {
		h.log.Error("list escrow transactions failed", "vendor_id", vendorID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]escrowTransactionResponse, 0, len(list))
	for _, e := range list {
		out = append(out, escrowTransactionResponse{
			ID:           e.ID,
			OrderID:      e.OrderID,
			Type:         e.Type,
			Status:       e.Status,
			Amount:       money.Format(e.Amount, acc.Currency),
			BalanceAfter: money.Format(e.BalanceAfter, acc.Currency),
			Description:  e.Description,
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// GET /api/v1/orders/{orderID}/ledger (admin only, enforced by the router)
func (h *Handler) GetOrderLedger(w http.ResponseWriter, r *http.Request) {
	orderID, err := uuid.Parse(chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid order id")
		return
	}
	list, err := h.ledger.ListTransactionsByOrder(r.Context(), orderID)
	if err != nil {
		h.log.Error("list order transactions failed", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]transactionResponse, 0, len(list))
	for _, t := range list {
		out = append(out, transactionResponse{
			ID:          t.ID,
			Type:        t.Type,
			Amount:      money.Format(t.Amount, t.Currency),
			Currency:    t.Currency,
			Status:      t.Status,
			UserID:      t.UserID,
			Description: t.Description,
			CreatedAt:   t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "transactions": out})
}
