package inventory

import (
	"math"
	"sort"

	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
)

// Demand cantidad total solicitada de una variante dentro de una reserva.
type Demand struct {
	VariantID string
	Quantity  int64
}

// ValidateLines valida la petición sin tocar el almacén.
// Lista vacía -> Index -1; línea sin variante o con cantidad <= 0 -> Index de la línea.
func ValidateLines(lines []entity.ReservationLine) error {
	if len(lines) == 0 {
		return &domain.InvalidRequestError{Index: -1, Reason: "la lista de ítems está vacía"}
	}
	for i, l := range lines {
		if l.VariantID == "" {
			return &domain.InvalidRequestError{Index: i, Reason: "variantId es obligatorio"}
		}
		if l.Quantity <= 0 {
			return &domain.InvalidRequestError{Index: i, Reason: "quantity debe ser un entero positivo"}
		}
	}
	return nil
}

// AggregateDemand suma las cantidades por variante (líneas duplicadas se acumulan)
// y devuelve la demanda ordenada por VariantID ascendente, que es el orden de bloqueo.
func AggregateDemand(lines []entity.ReservationLine) ([]Demand, error) {
	totals := make(map[string]int64, len(lines))
	for i, l := range lines {
		cur := totals[l.VariantID]
		if cur > math.MaxInt64-l.Quantity {
			return nil, &domain.InvalidRequestError{Index: i, Reason: "cantidad acumulada fuera de rango"}
		}
		totals[l.VariantID] = cur + l.Quantity
	}

	out := make([]Demand, 0, len(totals))
	for id, q := range totals {
		out = append(out, Demand{VariantID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantID < out[j].VariantID })
	return out, nil
}

// IDs devuelve los ids de la demanda en el mismo orden (ascendente).
func IDs(demand []Demand) []string {
	ids := make([]string, len(demand))
	for i, d := range demand {
		ids[i] = d.VariantID
	}
	return ids
}

// CheckAvailability compara la demanda con las variantes leídas bajo bloqueo.
// Primero reporta la variante inexistente de menor id; si todas existen, la primera sin stock suficiente.
func CheckAvailability(demand []Demand, variants map[string]*entity.Variant) error {
	for _, d := range demand {
		if _, ok := variants[d.VariantID]; !ok {
			return &domain.VariantNotFoundError{VariantID: d.VariantID}
		}
	}
	for _, d := range demand {
		v := variants[d.VariantID]
		if d.Quantity > v.Stock {
			return &domain.InsufficientStockError{
				VariantID: d.VariantID,
				Requested: d.Quantity,
				Available: v.Stock,
			}
		}
	}
	return nil
}

// PriceLines arma el resultado en el orden de entrada usando el precio bloqueado de cada variante.
func PriceLines(lines []entity.ReservationLine, variants map[string]*entity.Variant) (*entity.ReservationResult, error) {
	res := &entity.ReservationResult{Lines: make([]entity.PricedLine, 0, len(lines))}
	for i, l := range lines {
		v, ok := variants[l.VariantID]
		if !ok {
			return nil, &domain.VariantNotFoundError{VariantID: l.VariantID}
		}
		if v.Price > 0 && l.Quantity > math.MaxInt64/v.Price {
			return nil, &domain.InvalidRequestError{Index: i, Reason: "importe de línea fuera de rango"}
		}
		amount := v.Price * l.Quantity
		if res.TotalAmount > math.MaxInt64-amount {
			return nil, &domain.InvalidRequestError{Index: i, Reason: "importe total fuera de rango"}
		}
		res.TotalAmount += amount
		res.Lines = append(res.Lines, entity.PricedLine{
			VariantID:  l.VariantID,
			Quantity:   l.Quantity,
			UnitPrice:  v.Price,
			LineAmount: amount,
		})
	}
	return res, nil
}

// Deltas describe el stock restante de cada variante después del descuento.
func Deltas(demand []Demand, variants map[string]*entity.Variant) []entity.StockDelta {
	out := make([]entity.StockDelta, 0, len(demand))
	for _, d := range demand {
		var remaining int64
		if v, ok := variants[d.VariantID]; ok {
			remaining = v.Stock - d.Quantity
		}
		out = append(out, entity.StockDelta{VariantID: d.VariantID, Reserved: d.Quantity, Remaining: remaining})
	}
	return out
}
