package entity

import "time"

// ReservationLine línea solicitada por el servicio de órdenes.
type ReservationLine struct {
	VariantID string
	Quantity  int64
}

// PricedLine línea reservada con el precio leído bajo bloqueo.
// LineAmount = UnitPrice * Quantity.
type PricedLine struct {
	VariantID  string
	Quantity   int64
	UnitPrice  int64
	LineAmount int64
}

// ReservationResult resultado de una reserva confirmada; Lines conserva el orden de entrada.
type ReservationResult struct {
	Lines       []PricedLine
	TotalAmount int64
}

// StockDelta descuento aplicado a una variante dentro de una reserva.
type StockDelta struct {
	VariantID string
	Reserved  int64
	Remaining int64
}

// StockEvent evento publicado tras el commit de una reserva.
type StockEvent struct {
	ID          string
	OccurredAt  time.Time
	Deltas      []StockDelta
	TotalAmount int64
}
