package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"pictrans/internal/domain"
)

// ImageRepositoryPG implements domain.ImageRepository.
type ImageRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewImageRepository creates a new image repository backed by PostgreSQL.
func NewImageRepository(pool *pgxpool.Pool) *ImageRepositoryPG {
	return &ImageRepositoryPG{pool: pool}
}

func scanImage(row pgx.Row) (*domain.Image, error) {
	var img domain.Image
	if err := row.Scan(&img.ID, &img.Filename, &img.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, mapPgError(err)
	}
	return &img, nil
}

// Create inserts a new image reference.
func (r *ImageRepositoryPG) Create(ctx context.Context, filename string) (*domain.Image, error) {
	query := `INSERT INTO images (filename) VALUES ($1) RETURNING id, filename, created_at;`
	return scanImage(r.pool.QueryRow(ctx, query, filename))
}

// GetByID fetches an image reference by id.
func (r *ImageRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.Image, error) {
	query := `SELECT id, filename, created_at FROM images WHERE id = $1;`
	return scanImage(r.pool.QueryRow(ctx, query, id))
}

// GetByFilename fetches the most recent image reference with the given
// filename. Filenames are uuid-generated at upload, so collisions do not
// occur in practice.
func (r *ImageRepositoryPG) GetByFilename(ctx context.Context, filename string) (*domain.Image, error) {
	query := `
SELECT id, filename, created_at
FROM images
WHERE filename = $1
ORDER BY id DESC
LIMIT 1;
`
	return scanImage(r.pool.QueryRow(ctx, query, filename))
}
