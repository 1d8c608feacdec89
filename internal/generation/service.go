package generation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/roomora/backend/internal/ledger"
	"github.com/roomora/backend/internal/models"
)

// ErrRenderNotFound is returned when the render id does not exist.
var ErrRenderNotFound = errors.New("render not found")

// ErrRenderFinished signals that a render already reached a terminal status.
// Redelivered jobs treat it as "nothing left to do".
var ErrRenderFinished = errors.New("render already finished")

// RenderStore is the render repository surface generation needs.
type RenderStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, m *models.Render) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Render, error)
	ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Render, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompleted(ctx context.Context, id uuid.UUID, outputImageURL string) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) (changed bool, err error)
}

// InsertRenderJobTxFunc enqueues a generation job within the given
// transaction. Provided by main using river.Client.InsertTx.
type InsertRenderJobTxFunc func(ctx context.Context, tx pgx.Tx, args RenderJobArgs) error

type Service interface {
	CreateRender(ctx context.Context, acc *models.Account, roomType, style, inputImageURL string) (*models.Render, error)
	GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	ListRenders(ctx context.Context, accountID uuid.UUID) ([]*models.Render, error)
	StartRender(ctx context.Context, id uuid.UUID) (*models.Render, error)
	CompleteRender(ctx context.Context, id uuid.UUID, outputImageURL string) error
	FailRender(ctx context.Context, id uuid.UUID, reason string) error
}

type service struct {
	db              ledger.DB
	renders         RenderStore
	ledger          ledger.Service
	insertRenderJob InsertRenderJobTxFunc
	log             *slog.Logger
}

// NewService creates a generation service. insertRenderJob is typically a
// closure over river.Client.InsertTx.
// Returns *service so it can be used as the worker's RenderService.
func NewService(db ledger.DB, renders RenderStore, lgr ledger.Service, insertRenderJob InsertRenderJobTxFunc, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{db: db, renders: renders, ledger: lgr, insertRenderJob: insertRenderJob, log: log}
}

var _ Service = (*service)(nil)

// CreateRender charges the account if its tier meters renders, then inserts
// the render row and queues the generation job in one transaction. The debit
// commits before the enqueue transaction starts; if the enqueue fails the
// charge is compensated with a credit, never rolled back.
func (s *service) CreateRender(ctx context.Context, acc *models.Account, roomType, style, inputImageURL string) (*models.Render, error) {
	if acc.Tier == models.TierFree {
		if err := s.ledger.RolloverIfDue(ctx, acc.ID, models.FreePeriodDays, models.FreeTierGrant); err != nil {
			return nil, err
		}
	}

	renderID := uuid.New()
	creditsCharged := 0
	if !acc.UnlimitedRenders() {
		if _, err := s.ledger.Debit(ctx, acc.ID, 1, "render", &renderID); err != nil {
			return nil, err
		}
		creditsCharged = 1
	}

	render := &models.Render{
		ID:             renderID,
		AccountID:      acc.ID,
		RoomType:       roomType,
		Style:          style,
		InputImageURL:  inputImageURL,
		Status:         models.RenderStatusPending,
		CreditsCharged: creditsCharged,
	}
	if err := s.enqueue(ctx, render); err != nil {
		if creditsCharged > 0 {
			if _, creditErr := s.ledger.Credit(ctx, acc.ID, creditsCharged, "render enqueue failed", &renderID); creditErr != nil {
				s.log.Error("compensating credit failed, balance is short",
					"account_id", acc.ID, "render_id", renderID, "error", creditErr)
			}
		}
		return nil, err
	}
	return render, nil
}

func (s *service) enqueue(ctx context.Context, render *models.Render) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.renders.CreateTx(ctx, tx, render); err != nil {
		return err
	}
	if err := s.insertRenderJob(ctx, tx, RenderJobArgs{RenderID: render.ID}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *service) GetRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	render, err := s.renders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRenderNotFound
		}
		return nil, err
	}
	return render, nil
}

func (s *service) ListRenders(ctx context.Context, accountID uuid.UUID) ([]*models.Render, error) {
	return s.renders.ListByAccountID(ctx, accountID)
}

// StartRender flips a pending render to processing and returns it. A render
// already in a terminal status returns ErrRenderFinished so redelivered jobs
// become no-ops.
func (s *service) StartRender(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	render, err := s.GetRender(ctx, id)
	if err != nil {
		return nil, err
	}
	if render.Status == models.RenderStatusCompleted || render.Status == models.RenderStatusFailed {
		return nil, ErrRenderFinished
	}
	if err := s.renders.MarkProcessing(ctx, id); err != nil {
		return nil, err
	}
	return render, nil
}

// CompleteRender implements the worker's RenderService. No ledger movement:
// the charge already happened at submission.
func (s *service) CompleteRender(ctx context.Context, id uuid.UUID, outputImageURL string) error {
	return s.renders.MarkCompleted(ctx, id, outputImageURL)
}

// FailRender marks the render failed and refunds the charged credit. The
// status flip reports whether this call won, so a redelivered job cannot
// refund twice.
func (s *service) FailRender(ctx context.Context, id uuid.UUID, reason string) error {
	render, err := s.GetRender(ctx, id)
	if err != nil {
		return err
	}
	changed, err := s.renders.MarkFailed(ctx, id, reason)
	if err != nil {
		return err
	}
	if !changed || render.CreditsCharged == 0 {
		return nil
	}
	_, err = s.ledger.Credit(ctx, render.AccountID, render.CreditsCharged, "render failed", &id)
	return err
}
