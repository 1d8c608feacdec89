package dashboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/roomora/backend/internal/ledger"
	"github.com/roomora/backend/internal/middleware"
	"github.com/roomora/backend/internal/models"
)

// EntryLister reads ledger history for display.
type EntryLister interface {
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error)
}

// AccountGetter re-reads the account after a rollover may have refreshed it.
type AccountGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
}

type Handler struct {
	ledgerSvc ledger.Service
	accounts  AccountGetter
	entries   EntryLister
	log       *slog.Logger
}

func NewHandler(ledgerSvc ledger.Service, accounts AccountGetter, entries EntryLister, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{ledgerSvc: ledgerSvc, accounts: accounts, entries: entries, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetMe serves the account dashboard header. The rollover check runs first so
// a free account visiting after its period boundary sees the fresh allotment.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if acc.Tier == models.TierFree {
		if err := h.ledgerSvc.RolloverIfDue(r.Context(), acc.ID, models.FreePeriodDays, models.FreeTierGrant); err != nil {
			h.log.Error("rollover check failed", "account_id", acc.ID, "error", err)
			http.Error(w, `{"error":"account refresh failed"}`, http.StatusInternalServerError)
			return
		}
		// Re-read: the rollover may have granted.
		fresh, err := h.accounts.GetByID(r.Context(), acc.ID)
		if err != nil {
			h.log.Error("get account failed", "account_id", acc.ID, "error", err)
			http.Error(w, `{"error":"account not found"}`, http.StatusNotFound)
			return
		}
		acc = fresh
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                  acc.ID,
		"email":               acc.Email,
		"balance":             acc.Balance,
		"used_this_period":    acc.UsedThisPeriod,
		"tier":                acc.Tier,
		"subscription_status": acc.SubscriptionStatus,
		"unlimited_renders":   acc.UnlimitedRenders(),
		"period_end":          acc.PeriodEnd,
		"created_at":          acc.CreatedAt,
	})
}

// ListCreditLedger serves the account's entry history, newest first.
func (h *Handler) ListCreditLedger(w http.ResponseWriter, r *http.Request) {
	acc := middleware.AccountFromCtx(r.Context())
	if acc == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	entries, err := h.entries.ListByAccountID(r.Context(), acc.ID)
	if err != nil {
		h.log.Error("list ledger failed", "account_id", acc.ID, "error", err)
		http.Error(w, `{"error":"list ledger failed"}`, http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []*models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
