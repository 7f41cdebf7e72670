package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pictrans/internal/domain"
)

// AreaRepositoryPG implements domain.AreaRepository. The repository has
// no stage awareness; the pipeline enforces step/status gates.
type AreaRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewAreaRepository creates a new area repository backed by PostgreSQL.
func NewAreaRepository(pool *pgxpool.Pool) *AreaRepositoryPG {
	return &AreaRepositoryPG{pool: pool}
}

const areaColumns = `
a.id, a.service_id, a.x1, a.y1, a.x2, a.y2, a.crop_image_id, i.filename,
a.origin_text, a.translated_text, a.created_at, a.updated_at`

func scanArea(row pgx.Row) (*domain.Area, error) {
	var a domain.Area
	if err := row.Scan(
		&a.ID,
		&a.ServiceID,
		&a.Rect.X1,
		&a.Rect.Y1,
		&a.Rect.X2,
		&a.Rect.Y2,
		&a.CropImageID,
		&a.CropFilename,
		&a.OriginText,
		&a.TranslatedText,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return &a, nil
}

// GetByID fetches an area by its identifier.
func (r *AreaRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.Area, error) {
	query := `
SELECT` + areaColumns + `
FROM areas a JOIN images i ON i.id = a.crop_image_id
WHERE a.id = $1;
`
	return scanArea(r.pool.QueryRow(ctx, query, id))
}

// ListByService returns the service's areas in creation order.
func (r *AreaRepositoryPG) ListByService(ctx context.Context, serviceID int64) ([]domain.Area, error) {
	query := `
SELECT` + areaColumns + `
FROM areas a JOIN images i ON i.id = a.crop_image_id
WHERE a.service_id = $1
ORDER BY a.id;
`
	rows, err := r.pool.Query(ctx, query, serviceID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var areas []domain.Area
	for rows.Next() {
		a, err := scanArea(rows)
		if err != nil {
			return nil, err
		}
		areas = append(areas, *a)
	}
	return areas, rows.Err()
}

// UpdateFields applies only the non-nil fields of the update and returns
// the resulting row.
func (r *AreaRepositoryPG) UpdateFields(ctx context.Context, id int64, upd domain.AreaUpdate) (*domain.Area, error) {
	query := `
UPDATE areas
SET origin_text = COALESCE($2, origin_text),
    translated_text = COALESCE($3, translated_text),
    updated_at = NOW()
WHERE id = $1
RETURNING id;
`
	var updated int64
	if err := r.pool.QueryRow(ctx, query, id, upd.OriginText, upd.TranslatedText).Scan(&updated); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return r.GetByID(ctx, id)
}

// Delete removes the area.
func (r *AreaRepositoryPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM areas WHERE id = $1;`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountMissingOriginText reports how many areas of the service still
// lack detected text.
func (r *AreaRepositoryPG) CountMissingOriginText(ctx context.Context, serviceID int64) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM areas WHERE service_id = $1 AND origin_text IS NULL;`,
		serviceID,
	).Scan(&n)
	if err != nil {
		return 0, mapPgError(err)
	}
	return n, nil
}
