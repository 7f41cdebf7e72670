package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"pictrans/internal/domain"
)

// mapPgError surfaces transaction serialization failures as
// domain.ErrConflict so callers can retry the whole unit of work.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return domain.ErrConflict
		}
	}
	return err
}
