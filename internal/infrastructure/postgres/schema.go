package postgres

import (
	"context"
	"fmt"
)

// schemaStatements DDL idempotente del catálogo de variantes.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS product_variants (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		price BIGINT NOT NULL CHECK (price >= 0),
		stock BIGINT NOT NULL CHECK (stock >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_product_variants_product ON product_variants (product_id, created_at)`,
}

// EnsureSchema crea las tablas si no existen (DB_AUTO_MIGRATE=true).
func EnsureSchema(ctx context.Context, q Querier) error {
	for _, stmt := range schemaStatements {
		if _, err := q.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("aplicar esquema: %w", err)
		}
	}
	return nil
}
