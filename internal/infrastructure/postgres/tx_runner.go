package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/catalog-api/internal/application/reservation"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
)

var _ reservation.TxRunner = (*TxRunner)(nil)

// TxRunner ejecuta callbacks dentro de una transacción PostgreSQL (READ COMMITTED + bloqueos de fila).
type TxRunner struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewTxRunner construye el runner con el pool. lockTimeout > 0 acota la espera por cada bloqueo de fila.
func NewTxRunner(pool *pgxpool.Pool, lockTimeout time.Duration) *TxRunner {
	return &TxRunner{pool: pool, lockTimeout: lockTimeout}
}

// Run inicia una transacción, ejecuta fn con el repositorio atado a la tx y hace Commit o Rollback.
// Los errores de concurrencia de PostgreSQL se devuelven como domain.ErrConflict.
func (r *TxRunner) Run(ctx context.Context, fn func(variants repository.VariantRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapPgError(err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if r.lockTimeout > 0 {
		if _, err := tx.Exec(ctx, lockTimeoutStatement(r.lockTimeout)); err != nil {
			return fmt.Errorf("set lock_timeout: %w", mapPgError(err))
		}
	}

	if err := fn(NewVariantRepository(tx)); err != nil {
		return mapPgError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapPgError(err))
	}
	return nil
}

// SET LOCAL no admite parámetros; el valor es un entero generado aquí.
func lockTimeoutStatement(d time.Duration) string {
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())
}
