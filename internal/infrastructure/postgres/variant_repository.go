package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
	"github.com/jhoicas/catalog-api/internal/domain/repository"
)

var _ repository.VariantRepository = (*VariantRepo)(nil)

const variantColumns = `id, product_id, price, stock, created_at, updated_at`

// VariantRepo implementación de VariantRepository sobre PostgreSQL (usable con pool o tx).
type VariantRepo struct {
	q Querier
}

// NewVariantRepository construye el adaptador de variantes. Pasar pool o tx (Querier).
func NewVariantRepository(q Querier) *VariantRepo {
	return &VariantRepo{q: q}
}

// Create persiste una nueva variante.
func (r *VariantRepo) Create(ctx context.Context, v *entity.Variant) error {
	query := `
		INSERT INTO product_variants (` + variantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.Exec(ctx, query, v.ID, v.ProductID, v.Price, v.Stock, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicate
		}
		return fmt.Errorf("insert variant: %w", mapPgError(err))
	}
	return nil
}

// GetByID obtiene una variante por ID.
func (r *VariantRepo) GetByID(ctx context.Context, id string) (*entity.Variant, error) {
	query := `SELECT ` + variantColumns + ` FROM product_variants WHERE id = $1`
	v, err := scanVariant(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get variant: %w", err)
	}
	return v, nil
}

// Patch actualiza precio y/o stock en una sola sentencia; COALESCE conserva el valor de la fila
// para los campos omitidos, de modo que no pisa descuentos confirmados por reservas concurrentes.
func (r *VariantRepo) Patch(ctx context.Context, id string, p repository.VariantPatch) (*entity.Variant, error) {
	query := `
		UPDATE product_variants
		SET price = COALESCE($2::BIGINT, price),
		    stock = COALESCE($3::BIGINT, stock),
		    updated_at = $4
		WHERE id = $1
		RETURNING ` + variantColumns
	v, err := scanVariant(r.q.QueryRow(ctx, query, id, p.Price, p.Stock, p.UpdatedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("patch variant: %w", mapPgError(err))
	}
	return v, nil
}

// ListByProduct lista variantes de un producto ordenadas por fecha de creación.
func (r *VariantRepo) ListByProduct(ctx context.Context, productID string, limit, offset int) ([]*entity.Variant, error) {
	query := `
		SELECT ` + variantColumns + `
		FROM product_variants WHERE product_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3`
	rows, err := r.q.Query(ctx, query, productID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()
	return collectVariants(rows)
}

// GetManyForUpdate lee y bloquea las variantes (SELECT FOR UPDATE).
// COLLATE "C" hace que el orden de bloqueo coincida con el orden por bytes de los ids.
func (r *VariantRepo) GetManyForUpdate(ctx context.Context, ids []string) (map[string]*entity.Variant, error) {
	out := make(map[string]*entity.Variant, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `
		SELECT ` + variantColumns + `
		FROM product_variants WHERE id = ANY($1)
		ORDER BY id COLLATE "C"
		FOR UPDATE`
	rows, err := r.q.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("lock variants: %w", err)
	}
	defer rows.Close()

	list, err := collectVariants(rows)
	if err != nil {
		return nil, fmt.Errorf("lock variants: %w", err)
	}
	for _, v := range list {
		out[v.ID] = v
	}
	return out, nil
}

// DecrementMany descuenta stock con un UPDATE condicionado por fila, enviados en un solo batch.
// Una fila que no cumple stock >= cantidad devuelve domain.ErrConflict.
func (r *VariantRepo) DecrementMany(ctx context.Context, amounts []entity.ReservationLine) error {
	if len(amounts) == 0 {
		return nil
	}
	query := `
		UPDATE product_variants SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`
	batch := &pgx.Batch{}
	for _, a := range amounts {
		batch.Queue(query, a.VariantID, a.Quantity)
	}
	br := r.q.SendBatch(ctx, batch)
	defer br.Close()

	for _, a := range amounts {
		tag, err := br.Exec()
		if err != nil {
			return fmt.Errorf("decrement stock %s: %w", a.VariantID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: stock de %s cambió durante la reserva", domain.ErrConflict, a.VariantID)
		}
	}
	return nil
}

func scanVariant(row pgx.Row) (*entity.Variant, error) {
	var v entity.Variant
	if err := row.Scan(&v.ID, &v.ProductID, &v.Price, &v.Stock, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, err
	}
	return &v, nil
}

func collectVariants(rows pgx.Rows) ([]*entity.Variant, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*entity.Variant, error) {
		return scanVariant(row)
	})
}
