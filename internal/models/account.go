package models

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers. Free is the default and the terminal fallback for
// every downgrade path.
const (
	TierFree    = "free"
	TierPro     = "pro"
	TierPremium = "premium"
)

// Subscription statuses mirrored from the billing provider.
const (
	SubscriptionInactive  = "inactive"
	SubscriptionActive    = "active"
	SubscriptionPastDue   = "past_due"
	SubscriptionCancelled = "cancelled"
)

// Free-tier allotment: 3 credits, refreshed every 30 days.
const (
	FreeTierGrant  = 3
	FreePeriodDays = 30
)

type Account struct {
	ID                   uuid.UUID  `json:"id"`
	ExternalID           string     `json:"-"`
	Email                string     `json:"email"`
	Balance              int        `json:"balance"`
	UsedThisPeriod       int        `json:"used_this_period"`
	Tier                 string     `json:"tier"`
	SubscriptionStatus   string     `json:"subscription_status"`
	StripeCustomerID     *string    `json:"-"`
	StripeSubscriptionID *string    `json:"-"`
	PeriodEnd            *time.Time `json:"period_end,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// UnlimitedRenders reports whether the account renders without spending
// credits. Paid tiers are unlimited while the subscription is active.
// A past_due account keeps its tier but falls back to its credit balance
// until the billing provider resolves the payment either way.
func (a *Account) UnlimitedRenders() bool {
	return a.Tier != TierFree && a.SubscriptionStatus == SubscriptionActive
}
