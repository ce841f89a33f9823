package repository

import (
	"context"
	"time"

	"github.com/jhoicas/catalog-api/internal/domain/entity"
)

// VariantRepository define el puerto de persistencia para Variant (DIP).
// GetManyForUpdate y DecrementMany solo tienen sentido dentro de una transacción (ver TxRunner).
type VariantRepository interface {
	Create(ctx context.Context, v *entity.Variant) error
	// GetByID devuelve nil, nil si la variante no existe.
	GetByID(ctx context.Context, id string) (*entity.Variant, error)
	// Patch aplica solo los campos no nil en una única escritura atómica y devuelve la fila resultante;
	// nil, nil si la variante no existe. Los campos omitidos conservan el valor vigente en el almacén.
	Patch(ctx context.Context, id string, p VariantPatch) (*entity.Variant, error)
	ListByProduct(ctx context.Context, productID string, limit, offset int) ([]*entity.Variant, error)

	// GetManyForUpdate lee y bloquea las filas en el orden recibido (ascendente).
	// Los ids inexistentes simplemente no aparecen en el mapa.
	GetManyForUpdate(ctx context.Context, ids []string) (map[string]*entity.Variant, error)
	// DecrementMany descuenta Quantity del stock de cada variante.
	// Si alguna fila no admite el descuento devuelve domain.ErrConflict.
	DecrementMany(ctx context.Context, amounts []entity.ReservationLine) error
}

// VariantPatch ajuste administrativo parcial de una variante.
type VariantPatch struct {
	Price     *int64
	Stock     *int64
	UpdatedAt time.Time
}
