package billing

import "time"

// EventType is the internal billing event vocabulary the reconciler speaks.
// The webhook handler translates provider-specific event names into these.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription-activated"
	EventSubscriptionUpdated   EventType = "subscription-updated"
	EventSubscriptionDeleted   EventType = "subscription-deleted"
	EventPaymentFailed         EventType = "payment-failed"
	EventPaymentSucceeded      EventType = "payment-succeeded"
	EventCreditTopUp           EventType = "credit-topup"
)

// Event is one inbound billing notification, already authenticated and
// flattened out of the provider payload. The payload fields are authoritative
// for the transition they drive: the reconciler applies them unconditionally
// (last-write-wins by arrival), which is what makes replay idempotent.
type Event struct {
	ID             string
	Type           EventType
	CustomerID     string
	SubscriptionID string
	// Status is the provider's subscription status string, only meaningful
	// on subscription-updated events.
	Status    string
	Tier      string
	PeriodEnd *time.Time
	// Credits, PaymentRef, and AccountID are set on credit-topup events
	// only. AccountID is the checkout session's metadata backreference,
	// used to link a Stripe customer seen for the first time.
	Credits    int
	PaymentRef string
	AccountID  string
}
