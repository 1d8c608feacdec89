package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/roomora/backend/internal/models"
)

// ErrAccountNotFound is returned when the account id does not exist.
var ErrAccountNotFound = errors.New("account not found")

// InsufficientBalanceError is the expected outcome of a debit against a
// balance that cannot cover it. It is not an infrastructure failure; callers
// map it to "upgrade or top up" messaging rather than "try again".
type InsufficientBalanceError struct {
	Balance  int
	Required int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d, need %d", e.Balance, e.Required)
}

// DB begins the transactions whose row locks serialize all balance and
// subscription mutations for one account.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// AccountStore is the minimal account repository interface for the ledger.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	ApplyCredit(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBalance int, err error)
	ResetForRollover(ctx context.Context, tx pgx.Tx, id uuid.UUID, grant int, periodEnd time.Time) error
}

// EntryStore is the minimal ledger entry interface for the ledger.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

type Service interface {
	Debit(ctx context.Context, accountID uuid.UUID, amount int, reason string, renderID *uuid.UUID) (*models.LedgerEntry, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount int, reason string, renderID *uuid.UUID) (*models.LedgerEntry, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int, error)
	RolloverIfDue(ctx context.Context, accountID uuid.UUID, periodDays, grant int) error
}

type service struct {
	db       DB
	accounts AccountStore
	entries  EntryStore
	now      func() time.Time
}

func NewService(db DB, accounts AccountStore, entries EntryStore) *service {
	return &service{db: db, accounts: accounts, entries: entries, now: time.Now}
}

var _ Service = (*service)(nil)

// Debit locks the account row, checks the balance, subtracts amount, and
// appends the audit entry, all in one transaction. The lock is never held
// across an external call; callers invoke the generation provider only after
// Debit returns.
func (s *service) Debit(ctx context.Context, accountID uuid.UUID, amount int, reason string, renderID *uuid.UUID) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	if acc.Balance < amount {
		return nil, &InsufficientBalanceError{Balance: acc.Balance, Required: amount}
	}
	newBalance, err := s.accounts.ApplyDebit(ctx, tx, accountID, amount)
	if err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		Kind:         models.LedgerEntryDebit,
		Delta:        -amount,
		BalanceAfter: newBalance,
		Reason:       reason,
		RenderID:     renderID,
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// Credit mirrors Debit but adds instead of subtracts; it has no upper bound
// and always succeeds for an existing account. It performs no deduplication:
// refund callers are responsible for crediting a given render at most once.
func (s *service) Credit(ctx context.Context, accountID uuid.UUID, amount int, reason string, renderID *uuid.UUID) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	newBalance, err := s.accounts.ApplyCredit(ctx, tx, accountID, amount)
	if err != nil {
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		Kind:         models.LedgerEntryCredit,
		Delta:        amount,
		BalanceAfter: newBalance,
		Reason:       reason,
		RenderID:     renderID,
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return entry, nil
}

// GetBalance is an unlocked read, good enough for display. Authorization
// decisions must go through Debit and act on its result instead.
func (s *service) GetBalance(ctx context.Context, accountID uuid.UUID) (int, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return acc.Balance, nil
}

// RolloverIfDue resets a free-tier account to its periodic grant when the
// stored rollover marker has passed. It takes the same row lock as
// Debit/Credit, so two racing invocations around the boundary grant once:
// the second caller re-reads a period_end that is already in the future.
func (s *service) RolloverIfDue(ctx context.Context, accountID uuid.UUID, periodDays, grant int) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	acc, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return err
	}
	if acc.Tier != models.TierFree {
		return nil
	}
	now := s.now()
	if acc.PeriodEnd != nil && now.Before(*acc.PeriodEnd) {
		return nil
	}
	periodEnd := now.Add(time.Duration(periodDays) * 24 * time.Hour)
	if err := s.accounts.ResetForRollover(ctx, tx, accountID, grant, periodEnd); err != nil {
		return err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		AccountID:    accountID,
		Kind:         models.LedgerEntryRolloverGrant,
		Delta:        grant - acc.Balance,
		BalanceAfter: grant,
		Reason:       "monthly rollover",
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
