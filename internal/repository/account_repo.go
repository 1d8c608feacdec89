package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roomora/backend/internal/models"
)

const accountColumns = `id, external_id, email, balance, used_this_period, tier, subscription_status,
	stripe_customer_id, stripe_subscription_id, period_end, created_at, updated_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.ExternalID, &a.Email, &a.Balance, &a.UsedThisPeriod, &a.Tier, &a.SubscriptionStatus,
		&a.StripeCustomerID, &a.StripeSubscriptionID, &a.PeriodEnd, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateTx inserts a new account inside the given transaction.
func (r *AccountRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	return tx.QueryRow(ctx, `
		INSERT INTO accounts (id, external_id, email, balance, used_this_period, tier, subscription_status, stripe_customer_id, stripe_subscription_id, period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, a.ID, a.ExternalID, a.Email, a.Balance, a.UsedThisPeriod, a.Tier, a.SubscriptionStatus, a.StripeCustomerID, a.StripeSubscriptionID, a.PeriodEnd).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1
	`, id))
}

func (r *AccountRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE external_id = $1
	`, externalID))
}

// GetByIDForUpdate locks the account row for update. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE
	`, id))
}

// GetByStripeCustomerForUpdate locks the account row owning the given Stripe
// customer id. Call within a transaction.
func (r *AccountRepo) GetByStripeCustomerForUpdate(ctx context.Context, tx pgx.Tx, customerID string) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `
		SELECT `+accountColumns+` FROM accounts WHERE stripe_customer_id = $1 FOR UPDATE
	`, customerID))
}

// ApplyDebit subtracts amount from the balance and bumps used_this_period,
// guarded so the balance can never go negative. Call after GetByIDForUpdate
// in the same transaction.
func (r *AccountRepo) ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $1, used_this_period = used_this_period + $1, updated_at = now()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// ApplyCredit adds amount to the balance and walks used_this_period back
// toward zero. Call within the same transaction as the row lock.
func (r *AccountRepo) ApplyCredit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $1, used_this_period = GREATEST(used_this_period - $1, 0), updated_at = now()
		WHERE id = $2
		RETURNING balance
	`, amount, id).Scan(&newBalance)
	return newBalance, err
}

// ResetForRollover sets the balance to the grant amount, zeroes
// used_this_period, and stores the next rollover marker.
func (r *AccountRepo) ResetForRollover(ctx context.Context, tx pgx.Tx, id uuid.UUID, grant int, periodEnd time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $2, used_this_period = 0, period_end = $3, updated_at = now()
		WHERE id = $1
	`, id, grant, periodEnd)
	return err
}

// UpdateSubscription applies a tier/status transition from the billing
// reconciler. subscriptionID and periodEnd overwrite stored values, nil
// clears them.
func (r *AccountRepo) UpdateSubscription(ctx context.Context, tx pgx.Tx, id uuid.UUID, tier, status string, subscriptionID *string, periodEnd *time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts
		SET tier = $2, subscription_status = $3, stripe_subscription_id = $4, period_end = $5, updated_at = now()
		WHERE id = $1
	`, id, tier, status, subscriptionID, periodEnd)
	return err
}

// SetStripeCustomerIDTx stores the billing-provider customer reference.
// Called under the same row lock as the balance mutation it accompanies.
func (r *AccountRepo) SetStripeCustomerIDTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, customerID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET stripe_customer_id = $2, updated_at = now() WHERE id = $1
	`, id, customerID)
	return err
}
