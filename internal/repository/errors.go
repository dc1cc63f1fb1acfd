package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"wa_automation/internal/entities"
)

const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgCheckViolation      = "23514"
)

// mapErr translates driver errors into entity error kinds.
func mapErr(op, entity string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return entities.NotFound(entity)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgForeignKeyViolation:
			return entities.NotFound("referenced " + entity)
		case pgUniqueViolation:
			return entities.NewValidationError(pgErr.ColumnName, entity+" already exists")
		case pgCheckViolation:
			return entities.NewValidationError(pgErr.ColumnName, pgErr.Message)
		}
	}
	return entities.StoreFailure(op, err)
}

// nullable maps "" to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// jsonb maps an empty document to SQL NULL.
func jsonb(raw []byte) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
