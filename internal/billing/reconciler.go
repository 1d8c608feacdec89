package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/roomora/backend/internal/ledger"
	"github.com/roomora/backend/internal/models"
)

// Stripe subscription statuses that end the paid relationship. Anything in
// this set downgrades the account to cancelled/free.
var terminalStatuses = map[string]bool{
	"canceled":           true,
	"unpaid":             true,
	"incomplete_expired": true,
}

// AccountStore is the minimal account repository interface for the reconciler.
type AccountStore interface {
	GetByStripeCustomerForUpdate(ctx context.Context, tx pgx.Tx, customerID string) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	SetStripeCustomerIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, customerID string) error
	UpdateSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, tier, status string, subscriptionID *string, periodEnd *time.Time) error
	ResetForRollover(ctx context.Context, tx pgx.Tx, id uuid.UUID, grant int, periodEnd time.Time) error
	ApplyCredit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
}

// EntryStore is the minimal ledger entry interface for the reconciler.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
	ExistsByPaymentRef(ctx context.Context, tx pgx.Tx, paymentRef string) (bool, error)
}

// Reconciler maps billing-provider events onto account tier/status/balance
// transitions. It holds the same per-account row lock as the ledger service,
// so a tier change or balance reset never interleaves with an in-flight
// debit.
type Reconciler struct {
	db       ledger.DB
	accounts AccountStore
	entries  EntryStore
	now      func() time.Time
	log      *slog.Logger
}

func NewReconciler(db ledger.DB, accounts AccountStore, entries EntryStore, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{db: db, accounts: accounts, entries: entries, now: time.Now, log: log}
}

// ProcessEvent applies one authenticated billing event. Replaying the same
// event any number of times converges on the same account state: transitions
// write the payload's values unconditionally, and top-ups are deduplicated
// by payment reference.
func (r *Reconciler) ProcessEvent(ctx context.Context, ev Event) error {
	if ev.Type == EventPaymentSucceeded {
		// Informational only; the subscription-updated event carries the
		// authoritative period extension.
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := r.accounts.GetByStripeCustomerForUpdate(ctx, tx, ev.CustomerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Webhooks can outrun account provisioning, or reference
			// customers that were never ours. Acknowledge so the provider
			// stops redelivering.
			r.log.Warn("billing event for unknown customer",
				"event_id", ev.ID, "event_type", string(ev.Type), "customer_id", ev.CustomerID)
			return nil
		}
		return err
	}

	switch ev.Type {
	case EventSubscriptionActivated:
		err = r.activate(ctx, tx, acc, ev)
	case EventSubscriptionUpdated:
		err = r.update(ctx, tx, acc, ev)
	case EventSubscriptionDeleted:
		err = r.downgrade(ctx, tx, acc, "subscription deleted", nil)
	case EventPaymentFailed:
		err = r.accounts.UpdateSubscription(ctx, tx, acc.ID, acc.Tier, models.SubscriptionPastDue, acc.StripeSubscriptionID, acc.PeriodEnd)
	default:
		r.log.Info("ignoring billing event", "event_id", ev.ID, "event_type", string(ev.Type))
		return nil
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	r.log.Info("billing event applied",
		"event_id", ev.ID, "event_type", string(ev.Type), "account_id", acc.ID)
	return nil
}

func (r *Reconciler) activate(ctx context.Context, tx pgx.Tx, acc *models.Account, ev Event) error {
	tier := ev.Tier
	if tier == "" {
		return fmt.Errorf("subscription %s activated without a resolvable tier", ev.SubscriptionID)
	}
	subID := &ev.SubscriptionID
	// Activation never touches the balance: paid tiers bypass balance checks
	// by tier, not by balance mutation.
	return r.accounts.UpdateSubscription(ctx, tx, acc.ID, tier, models.SubscriptionActive, subID, ev.PeriodEnd)
}

func (r *Reconciler) update(ctx context.Context, tx pgx.Tx, acc *models.Account, ev Event) error {
	switch {
	case terminalStatuses[ev.Status]:
		return r.downgrade(ctx, tx, acc, "subscription ended", &ev.SubscriptionID)
	case ev.Status == "past_due":
		// Keep the tier; access policy for past_due is decided at the
		// authorization layer, not here.
		return r.accounts.UpdateSubscription(ctx, tx, acc.ID, acc.Tier, models.SubscriptionPastDue, acc.StripeSubscriptionID, acc.PeriodEnd)
	default:
		tier := ev.Tier
		if tier == "" {
			tier = acc.Tier
		}
		return r.accounts.UpdateSubscription(ctx, tx, acc.ID, tier, models.SubscriptionActive, &ev.SubscriptionID, ev.PeriodEnd)
	}
}

// downgrade moves the account to cancelled/free and resets the balance to
// the free-tier grant, mirroring rollover semantics so a downgraded user
// immediately has a usable free allotment. A fresh free period starts now.
func (r *Reconciler) downgrade(ctx context.Context, tx pgx.Tx, acc *models.Account, reason string, subscriptionID *string) error {
	periodEnd := r.now().Add(models.FreePeriodDays * 24 * time.Hour)
	if err := r.accounts.UpdateSubscription(ctx, tx, acc.ID, models.TierFree, models.SubscriptionCancelled, subscriptionID, &periodEnd); err != nil {
		return err
	}
	if err := r.accounts.ResetForRollover(ctx, tx, acc.ID, models.FreeTierGrant, periodEnd); err != nil {
		return err
	}
	return r.entries.CreateTx(ctx, tx, &models.LedgerEntry{
		ID:           uuid.New(),
		AccountID:    acc.ID,
		Kind:         models.LedgerEntryRolloverGrant,
		Delta:        models.FreeTierGrant - acc.Balance,
		BalanceAfter: models.FreeTierGrant,
		Reason:       reason,
	})
}

// linkCustomer resolves a top-up's account through the checkout metadata
// backreference and stores the Stripe customer id for future events.
// Returns nil, nil when the event carries no usable reference.
func (r *Reconciler) linkCustomer(ctx context.Context, tx pgx.Tx, ev Event) (*models.Account, error) {
	if ev.AccountID == "" || ev.CustomerID == "" {
		return nil, nil
	}
	accountID, err := uuid.Parse(ev.AccountID)
	if err != nil {
		return nil, nil
	}
	acc, err := r.accounts.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.accounts.SetStripeCustomerIDTx(ctx, tx, acc.ID, ev.CustomerID); err != nil {
		return nil, err
	}
	r.log.Info("linked billing customer", "account_id", acc.ID, "customer_id", ev.CustomerID)
	return acc, nil
}

// ProcessTopUp credits purchased credits onto the account, deduplicated by
// the external payment reference so redelivered checkout events apply once.
func (r *Reconciler) ProcessTopUp(ctx context.Context, ev Event) error {
	if ev.Credits <= 0 {
		return fmt.Errorf("top-up %s carries no credits", ev.ID)
	}
	if ev.PaymentRef == "" {
		return fmt.Errorf("top-up %s has no payment reference", ev.ID)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := r.accounts.GetByStripeCustomerForUpdate(ctx, tx, ev.CustomerID)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		// First purchase: the customer id is not stored yet. The checkout
		// session's metadata carries the account id, link them here.
		acc, err = r.linkCustomer(ctx, tx, ev)
		if err != nil {
			return err
		}
		if acc == nil {
			r.log.Warn("top-up for unknown customer", "event_id", ev.ID, "customer_id", ev.CustomerID)
			return nil
		}
	}

	seen, err := r.entries.ExistsByPaymentRef(ctx, tx, ev.PaymentRef)
	if err != nil {
		return err
	}
	if seen {
		r.log.Info("top-up already recorded", "event_id", ev.ID, "payment_ref", ev.PaymentRef)
		return nil
	}

	newBalance, err := r.accounts.ApplyCredit(ctx, tx, acc.ID, ev.Credits)
	if err != nil {
		return err
	}
	if err := r.entries.CreateTx(ctx, tx, &models.LedgerEntry{
		ID:               uuid.New(),
		AccountID:        acc.ID,
		Kind:             models.LedgerEntryExternalTopup,
		Delta:            ev.Credits,
		BalanceAfter:     newBalance,
		Reason:           "purchased top-up",
		StripePaymentRef: &ev.PaymentRef,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
