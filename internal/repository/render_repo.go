package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roomora/backend/internal/models"
)

const renderColumns = `id, account_id, room_type, style, input_image_url, output_image_url,
	status, credits_charged, error_reason, created_at, updated_at`

type RenderRepo struct {
	pool *pgxpool.Pool
}

func NewRenderRepo(pool *pgxpool.Pool) *RenderRepo {
	return &RenderRepo{pool: pool}
}

func scanRender(row pgx.Row) (*models.Render, error) {
	var m models.Render
	err := row.Scan(&m.ID, &m.AccountID, &m.RoomType, &m.Style, &m.InputImageURL, &m.OutputImageURL,
		&m.Status, &m.CreditsCharged, &m.ErrorReason, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateTx inserts a render inside the given transaction so it commits
// atomically with the queued generation job.
func (r *RenderRepo) CreateTx(ctx context.Context, tx pgx.Tx, m *models.Render) error {
	return tx.QueryRow(ctx, `
		INSERT INTO renders (id, account_id, room_type, style, input_image_url, status, credits_charged)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`, m.ID, m.AccountID, m.RoomType, m.Style, m.InputImageURL, m.Status, m.CreditsCharged).Scan(&m.CreatedAt, &m.UpdatedAt)
}

func (r *RenderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Render, error) {
	return scanRender(r.pool.QueryRow(ctx, `
		SELECT `+renderColumns+` FROM renders WHERE id = $1
	`, id))
}

func (r *RenderRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.Render, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+renderColumns+` FROM renders WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Render
	for rows.Next() {
		m, err := scanRender(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, m)
	}
	return list, rows.Err()
}

func (r *RenderRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE renders SET status = 'processing', updated_at = now() WHERE id = $1 AND status = 'pending'
	`, id)
	return err
}

func (r *RenderRepo) MarkCompleted(ctx context.Context, id uuid.UUID, outputImageURL string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE renders SET status = 'completed', output_image_url = $2, error_reason = NULL, updated_at = now()
		WHERE id = $1
	`, id, outputImageURL)
	return err
}

// MarkFailed flips the render to failed and reports whether this call was the
// one that did it. Redelivered jobs observe changed == false and must not
// refund a second time.
func (r *RenderRepo) MarkFailed(ctx context.Context, id uuid.UUID, reason string) (changed bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE renders SET status = 'failed', error_reason = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('failed', 'completed')
	`, id, reason)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
