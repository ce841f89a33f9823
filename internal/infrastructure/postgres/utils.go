package postgres

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jhoicas/catalog-api/internal/domain"
)

// Códigos SQLSTATE usados por el adaptador.
const (
	codeUniqueViolation      = "23505"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// isUniqueViolation verifica si un error es una violación de constraint único (23505).
func isUniqueViolation(err error) bool {
	return hasCode(err, codeUniqueViolation) || strings.Contains(err.Error(), codeUniqueViolation)
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

// mapPgError traduce errores de concurrencia de PostgreSQL a domain.ErrConflict
// (lock_timeout, serialización, deadlock) y violaciones de CHECK a domain.ErrInvalidInput.
// Cualquier otro error se devuelve sin cambios.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s (%s)", domain.ErrConflict, pgErr.Message, pgErr.Code)
	case codeCheckViolation:
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, pgErr.ConstraintName)
	default:
		return err
	}
}
