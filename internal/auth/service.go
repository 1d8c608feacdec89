package auth

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roomora/backend/internal/ledger"
	"github.com/roomora/backend/internal/models"
)

// ErrInvalidToken is returned for tokens that fail signature or claim
// validation. Handlers map it to 401.
var ErrInvalidToken = errors.New("invalid token")

// claims is the shape of the identity provider's access token. Subject is
// the provider's stable user id.
type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// AccountStore is the account repository surface auth needs.
type AccountStore interface {
	GetByExternalID(ctx context.Context, externalID string) (*models.Account, error)
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error
}

// EntryStore appends ledger entries; provisioning writes the signup grant.
type EntryStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, e *models.LedgerEntry) error
}

type Service interface {
	Authenticate(ctx context.Context, token string) (*models.Account, error)
}

type service struct {
	db       ledger.DB
	accounts AccountStore
	entries  EntryStore
	secret   []byte
	now      func() time.Time
}

func NewService(db ledger.DB, accounts AccountStore, entries EntryStore) *service {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		secret = "supersecretmvp"
	}
	return &service{db: db, accounts: accounts, entries: entries, secret: []byte(secret), now: time.Now}
}

var _ Service = (*service)(nil)

// Authenticate validates an identity-provider token and returns the matching
// account, provisioning it on first contact. New accounts start on the free
// tier with the signup grant already on the ledger.
func (s *service) Authenticate(ctx context.Context, token string) (*models.Account, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid || c.Subject == "" {
		return nil, ErrInvalidToken
	}

	acc, err := s.accounts.GetByExternalID(ctx, c.Subject)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	return s.provision(ctx, c.Subject, c.Email)
}

// provision creates a free-tier account with its signup grant in one
// transaction. Two first requests can race here; the unique index on
// external_id makes the loser re-fetch the winner's row.
func (s *service) provision(ctx context.Context, externalID, email string) (*models.Account, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	periodEnd := s.now().Add(models.FreePeriodDays * 24 * time.Hour)
	acc := &models.Account{
		ID:                 uuid.New(),
		ExternalID:         externalID,
		Email:              email,
		Balance:            models.FreeTierGrant,
		Tier:               models.TierFree,
		SubscriptionStatus: models.SubscriptionInactive,
		PeriodEnd:          &periodEnd,
	}
	if err := s.accounts.CreateTx(ctx, tx, acc); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return s.accounts.GetByExternalID(ctx, externalID)
		}
		return nil, err
	}
	entry := &models.LedgerEntry{
		ID:           uuid.New(),
		AccountID:    acc.ID,
		Kind:         models.LedgerEntryRolloverGrant,
		Delta:        models.FreeTierGrant,
		BalanceAfter: models.FreeTierGrant,
		Reason:       "signup grant",
	}
	if err := s.entries.CreateTx(ctx, tx, entry); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return acc, nil
}
