package dto

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/jhoicas/catalog-api/internal/domain"
	"github.com/jhoicas/catalog-api/internal/domain/entity"
)

// ReserveItemRequest línea de la petición de reserva.
// Quantity se recibe como número JSON para poder reportar la línea exacta si no es entero.
type ReserveItemRequest struct {
	VariantID string      `json:"variantId"`
	Quantity  json.Number `json:"quantity"`
}

// ReserveRequest petición de reserva: acepta un arreglo JSON o {"items": [...]}.
type ReserveRequest struct {
	Items          []ReserveItemRequest `json:"items"`
	IdempotencyKey string               `json:"-"`
}

// UnmarshalJSON admite ambas formas del cuerpo.
func (r *ReserveRequest) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return json.Unmarshal(trimmed, &r.Items)
	}
	var wrapper struct {
		Items []ReserveItemRequest `json:"items"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}
	r.Items = wrapper.Items
	return nil
}

// ToLines convierte las líneas del wire a dominio. Una cantidad no entera
// se reporta como InvalidRequestError con el índice de la línea.
func (r ReserveRequest) ToLines() ([]entity.ReservationLine, error) {
	lines := make([]entity.ReservationLine, 0, len(r.Items))
	for i, it := range r.Items {
		if it.VariantID == "" {
			return nil, &domain.InvalidRequestError{Index: i, Reason: "variantId es obligatorio"}
		}
		q, err := strconv.ParseInt(it.Quantity.String(), 10, 64)
		if err != nil {
			return nil, &domain.InvalidRequestError{Index: i, Reason: "quantity debe ser un entero positivo"}
		}
		lines = append(lines, entity.ReservationLine{VariantID: it.VariantID, Quantity: q})
	}
	return lines, nil
}

// VariantDetail línea reservada. Price es el importe de la línea (precio unitario * cantidad).
type VariantDetail struct {
	ProductVariantID string `json:"product_variant_id"`
	Quantity         int64  `json:"quantity"`
	UnitPrice        int64  `json:"unit_price"`
	Price            int64  `json:"price"`
}

// ReservationData cuerpo de una reserva confirmada.
type ReservationData struct {
	VariantDetails []VariantDetail `json:"variantDetails"`
	Amount         int64           `json:"amount"`
}

// ReservationResponse envoltura de respuesta de la reserva.
type ReservationResponse struct {
	Status  bool            `json:"status"`
	Data    ReservationData `json:"data"`
	Message string          `json:"message"`
	// Replayed indica que el resultado proviene de la llave de idempotencia.
	Replayed bool `json:"replayed,omitempty"`
}

// NewReservationResponse arma la respuesta desde el resultado de dominio.
func NewReservationResponse(res *entity.ReservationResult, replayed bool) *ReservationResponse {
	details := make([]VariantDetail, 0, len(res.Lines))
	for _, l := range res.Lines {
		details = append(details, VariantDetail{
			ProductVariantID: l.VariantID,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice,
			Price:            l.LineAmount,
		})
	}
	return &ReservationResponse{
		Status:   true,
		Data:     ReservationData{VariantDetails: details, Amount: res.TotalAmount},
		Message:  "variantes de producto disponibles",
		Replayed: replayed,
	}
}
