package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pictrans/internal/domain"
)

// ServiceRepositoryPG implements domain.ServiceRepository.
type ServiceRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewServiceRepository creates a new service repository backed by PostgreSQL.
func NewServiceRepository(pool *pgxpool.Pool) *ServiceRepositoryPG {
	return &ServiceRepositoryPG{pool: pool}
}

const serviceColumns = `
id, origin_image_id, composed_image_id, mode, step, status,
origin_language, target_language, created_at, updated_at`

func scanService(row pgx.Row) (*domain.Service, error) {
	var svc domain.Service
	if err := row.Scan(
		&svc.ID,
		&svc.OriginImageID,
		&svc.ComposedImageID,
		&svc.Mode,
		&svc.Step,
		&svc.Status,
		&svc.OriginLanguage,
		&svc.TargetLanguage,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return &svc, nil
}

// Create inserts a new service row in its initial phase.
func (r *ServiceRepositoryPG) Create(ctx context.Context, svc *domain.Service) (*domain.Service, error) {
	query := `
INSERT INTO services (origin_image_id, mode, step, status, origin_language)
VALUES ($1, $2, $3, $4, $5)
RETURNING` + serviceColumns + `;
`
	row := r.pool.QueryRow(ctx, query,
		svc.OriginImageID,
		svc.Mode,
		svc.Step,
		svc.Status,
		svc.OriginLanguage,
	)
	return scanService(row)
}

// GetByID fetches a service by its identifier.
func (r *ServiceRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.Service, error) {
	query := `SELECT` + serviceColumns + ` FROM services WHERE id = $1;`
	return scanService(r.pool.QueryRow(ctx, query, id))
}

// Transition performs a guarded phase change as one conditional UPDATE.
// The WHERE clause re-validates the expected phase, so of two racing
// callers only one can observe the precondition as true.
func (r *ServiceRepositoryPG) Transition(ctx context.Context, id int64, from, to domain.Phase, upd domain.TransitionUpdate) error {
	query := `
UPDATE services
SET step = $4,
    status = $5,
    target_language = COALESCE($6, target_language),
    composed_image_id = COALESCE($7, composed_image_id),
    updated_at = NOW()
WHERE id = $1 AND step = $2 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, id, from.Step, from.Status, to.Step, to.Status, upd.TargetLanguage, upd.ComposedImageID)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return r.explainGuardFailure(ctx, id, from)
	}
	return nil
}

// TransitionWithAreas runs the guarded transition and the bulk area
// insert in one transaction: either all areas exist and the phase moved,
// or neither happened.
func (r *ServiceRepositoryPG) TransitionWithAreas(ctx context.Context, id int64, from, to domain.Phase, drafts []domain.AreaDraft) ([]domain.Area, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer tx.Rollback(ctx)

	guard := `
UPDATE services
SET step = $4, status = $5, updated_at = NOW()
WHERE id = $1 AND step = $2 AND status = $3;
`
	tag, err := tx.Exec(ctx, guard, id, from.Step, from.Status, to.Step, to.Status)
	if err != nil {
		return nil, mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return nil, r.explainGuardFailure(ctx, id, from)
	}

	insertImage := `INSERT INTO images (filename) VALUES ($1) RETURNING id;`
	insertArea := `
INSERT INTO areas (service_id, x1, y1, x2, y2, crop_image_id)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, updated_at;
`
	areas := make([]domain.Area, 0, len(drafts))
	for _, d := range drafts {
		var cropImageID int64
		if err := tx.QueryRow(ctx, insertImage, d.CropFilename).Scan(&cropImageID); err != nil {
			return nil, fmt.Errorf("insert crop image: %w", mapPgError(err))
		}
		area := domain.Area{
			ServiceID:    id,
			Rect:         d.Rect,
			CropImageID:  cropImageID,
			CropFilename: d.CropFilename,
		}
		if err := tx.QueryRow(ctx, insertArea, id, d.Rect.X1, d.Rect.Y1, d.Rect.X2, d.Rect.Y2, cropImageID).
			Scan(&area.ID, &area.CreatedAt, &area.UpdatedAt); err != nil {
			return nil, fmt.Errorf("insert area: %w", mapPgError(err))
		}
		areas = append(areas, area)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPgError(err)
	}
	return areas, nil
}

// FailProcessing flips whichever step is currently PROCESSING to FAILED.
func (r *ServiceRepositoryPG) FailProcessing(ctx context.Context, id int64) error {
	query := `
UPDATE services
SET status = $2, updated_at = NOW()
WHERE id = $1 AND status = $3;
`
	tag, err := r.pool.Exec(ctx, query, id, domain.StatusFailed, domain.StatusProcessing)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM services WHERE id = $1);`, id).Scan(&exists); err != nil {
			return mapPgError(err)
		}
		if !exists {
			return domain.ErrNotFound
		}
		return domain.ErrInvalidStage
	}
	return nil
}

// explainGuardFailure distinguishes a missing service from a phase
// mismatch after a guarded UPDATE touched zero rows.
func (r *ServiceRepositoryPG) explainGuardFailure(ctx context.Context, id int64, from domain.Phase) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM services WHERE id = $1);`, id).Scan(&exists); err != nil {
		return mapPgError(err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return fmt.Errorf("expected phase %s: %w", from, domain.ErrInvalidStage)
}
