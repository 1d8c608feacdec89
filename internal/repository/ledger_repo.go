package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roomora/backend/internal/models"
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

// CreateTx appends a ledger entry inside the given transaction.
func (r *LedgerRepo) CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_ledger (id, account_id, kind, delta, balance_after, reason, render_id, stripe_payment_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, e.ID, e.AccountID, e.Kind, e.Delta, e.BalanceAfter, e.Reason, e.RenderID, e.StripePaymentRef).Scan(&e.CreatedAt)
}

func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := r.pool.QueryRow(ctx, `
		SELECT id, account_id, kind, delta, balance_after, reason, render_id, stripe_payment_ref, created_at
		FROM credit_ledger WHERE id = $1
	`, id).Scan(&e.ID, &e.AccountID, &e.Kind, &e.Delta, &e.BalanceAfter, &e.Reason, &e.RenderID, &e.StripePaymentRef, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *LedgerRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, kind, delta, balance_after, reason, render_id, stripe_payment_ref, created_at
		FROM credit_ledger WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Delta, &e.BalanceAfter, &e.Reason, &e.RenderID, &e.StripePaymentRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

func (r *LedgerRepo) ListByRenderID(ctx context.Context, renderID uuid.UUID) ([]*models.LedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, kind, delta, balance_after, reason, render_id, stripe_payment_ref, created_at
		FROM credit_ledger WHERE render_id = $1 ORDER BY created_at ASC
	`, renderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.LedgerEntry
	for rows.Next() {
		var e models.LedgerEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Kind, &e.Delta, &e.BalanceAfter, &e.Reason, &e.RenderID, &e.StripePaymentRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &e)
	}
	return list, rows.Err()
}

// ExistsByPaymentRef reports whether a ledger entry already recorded the
// given external payment reference. Used to make top-up webhooks replay-safe.
func (r *LedgerRepo) ExistsByPaymentRef(ctx context.Context, tx pgx.Tx, paymentRef string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM credit_ledger WHERE stripe_payment_ref = $1)
	`, paymentRef).Scan(&exists)
	return exists, err
}
