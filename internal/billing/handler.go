package billing

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

const webhookBodyLimit = 1 << 20 // 1 MiB, matches Stripe's own payload cap

// Processor is the reconciler interface the webhook handler drives.
type Processor interface {
	ProcessEvent(ctx context.Context, ev Event) error
	ProcessTopUp(ctx context.Context, ev Event) error
}

// Handler terminates Stripe webhooks. Signature verification is the
// authentication mechanism for this endpoint: unverified payloads are
// rejected with no state change.
type Handler struct {
	processor     Processor
	webhookSecret string
	// priceTiers maps Stripe price ids to internal tiers, for subscriptions
	// without a tier in their metadata.
	priceTiers map[string]string
	log        *slog.Logger
}

func NewHandler(processor Processor, webhookSecret string, priceTiers map[string]string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{processor: processor, webhookSecret: webhookSecret, priceTiers: priceTiers, log: log}
}

// HandleWebhook serves POST /api/v1/billing/webhook.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.log.Warn("webhook signature verification failed", "error", err)
		http.Error(w, `{"error":"invalid signature"}`, http.StatusBadRequest)
		return
	}

	ev, ok, err := h.translate(event)
	if err != nil {
		h.log.Error("malformed webhook payload", "event_id", event.ID, "event_type", string(event.Type), "error", err)
		http.Error(w, `{"error":"malformed payload"}`, http.StatusBadRequest)
		return
	}
	if !ok {
		// Unknown types are acknowledged without a transition so the
		// provider does not redeliver them forever.
		writeJSON(w, http.StatusOK, map[string]any{"received": true, "handled": false})
		return
	}

	if ev.Type == EventCreditTopUp {
		err = h.processor.ProcessTopUp(r.Context(), ev)
	} else {
		err = h.processor.ProcessEvent(r.Context(), ev)
	}
	if err != nil {
		h.log.Error("billing event processing failed",
			"event_id", ev.ID, "event_type", string(ev.Type), "error", err)
		// 5xx makes the provider redeliver; processing is idempotent.
		http.Error(w, `{"error":"processing failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "handled": true})
}

// translate flattens a verified Stripe event into the internal event
// vocabulary. ok is false for event types the reconciler does not track.
func (h *Handler) translate(event stripe.Event) (Event, bool, error) {
	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return Event{}, false, err
		}
		ev := Event{
			ID:             event.ID,
			CustomerID:     customerID(sub.Customer),
			SubscriptionID: sub.ID,
			Status:         string(sub.Status),
			Tier:           h.tierFor(&sub),
			PeriodEnd:      unixTime(sub.CurrentPeriodEnd),
		}
		switch event.Type {
		case "customer.subscription.created":
			ev.Type = EventSubscriptionActivated
		case "customer.subscription.updated":
			ev.Type = EventSubscriptionUpdated
		default:
			ev.Type = EventSubscriptionDeleted
		}
		return ev, true, nil

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return Event{}, false, err
		}
		return Event{
			ID:         event.ID,
			Type:       EventPaymentFailed,
			CustomerID: customerID(inv.Customer),
		}, true, nil

	case "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return Event{}, false, err
		}
		return Event{
			ID:         event.ID,
			Type:       EventPaymentSucceeded,
			CustomerID: customerID(inv.Customer),
		}, true, nil

	case "checkout.session.completed":
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return Event{}, false, err
		}
		// Only one-off credit purchases carry a credits metadata key;
		// subscription checkouts are handled via subscription events.
		credits, err := strconv.Atoi(session.Metadata["credits"])
		if err != nil || credits <= 0 {
			return Event{}, false, nil
		}
		return Event{
			ID:         event.ID,
			Type:       EventCreditTopUp,
			CustomerID: customerID(session.Customer),
			Credits:    credits,
			PaymentRef: session.ID,
			AccountID:  session.Metadata["account_id"],
		}, true, nil
	}
	return Event{}, false, nil
}

// tierFor resolves the internal tier for a subscription: explicit metadata
// first, then the configured price-id mapping.
func (h *Handler) tierFor(sub *stripe.Subscription) string {
	if tier, ok := sub.Metadata["tier"]; ok && tier != "" {
		return tier
	}
	if sub.Items != nil {
		for _, item := range sub.Items.Data {
			if item.Price == nil {
				continue
			}
			if tier, ok := h.priceTiers[item.Price.ID]; ok {
				return tier
			}
		}
	}
	return ""
}

func customerID(c *stripe.Customer) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func unixTime(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
