package entity

import "time"

// Variant representa una variante vendible de un producto (talla, color, etc.).
// Price está en unidades menores de la moneda (centavos); Stock nunca es negativo.
type Variant struct {
	ID        string
	ProductID string
	Price     int64
	Stock     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone devuelve una copia independiente de la variante.
func (v *Variant) Clone() *Variant {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
