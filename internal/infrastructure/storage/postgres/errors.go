package postgres

import (
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"spendchain/internal/core/apperror"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgLockNotAvailable    = "55P03"
	pgQueryCanceled       = "57014"
)

// mapError turns driver errors into AppErrors where the caller can act on them.
func mapError(err error, entity string, op string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperror.NewDuplicate(entity, pgErr.ConstraintName, pgErr.Detail).WithCause(err)
		case pgForeignKeyViolation:
			return apperror.NewValidation(entity+" references a missing row").
				WithDetail("constraint", pgErr.ConstraintName).
				WithCause(err)
		case pgLockNotAvailable, pgQueryCanceled:
			return apperror.NewConcurrentModification(entity, nil).WithCause(err)
		}
	}
	return fmt.Errorf("%s %s: %w", op, entity, err)
}

func notFound(err error) bool {
	return pgxscan.NotFound(err)
}
