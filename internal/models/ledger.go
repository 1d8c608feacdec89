package models

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry kinds.
const (
	LedgerEntryDebit         = "debit"
	LedgerEntryCredit        = "credit"
	LedgerEntryRolloverGrant = "rollover_grant"
	LedgerEntryExternalTopup = "external_topup"
)

// LedgerEntry is one row of the append-only credit audit trail. Delta is
// signed; BalanceAfter snapshots the account balance immediately after the
// entry was applied. Entries are never mutated or deleted.
type LedgerEntry struct {
	ID               uuid.UUID  `json:"id"`
	AccountID        uuid.UUID  `json:"account_id"`
	Kind             string     `json:"kind"`
	Delta            int        `json:"delta"`
	BalanceAfter     int        `json:"balance_after"`
	Reason           string     `json:"reason"`
	RenderID         *uuid.UUID `json:"render_id,omitempty"`
	StripePaymentRef *string    `json:"stripe_payment_ref,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}
