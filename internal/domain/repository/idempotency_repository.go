package repository

import (
	"context"

	"github.com/jhoicas/catalog-api/internal/domain/entity"
)

// Estados de una llave de idempotencia.
const (
	IdempotencyProcessing = "processing"
	IdempotencySucceeded  = "success"
)

// IdempotencyRecord estado almacenado para una llave.
type IdempotencyRecord struct {
	Status      string                    `json:"status"`
	Fingerprint string                    `json:"fingerprint"`
	Result      *entity.ReservationResult `json:"result,omitempty"`
}

// IdempotencyRepository guarda el resultado de reservas por llave del llamador.
type IdempotencyRepository interface {
	// Begin reserva la llave. Devuelve el resultado previo si la misma petición ya se completó,
	// nil si la llave quedó tomada por esta petición, o domain.ErrIdempotencyInProgress /
	// domain.ErrIdempotencyMismatch.
	Begin(ctx context.Context, key, fingerprint string) (*entity.ReservationResult, error)
	Complete(ctx context.Context, key, fingerprint string, res *entity.ReservationResult) error
	// Release libera la llave tras un fallo para que el llamador pueda reintentar.
	Release(ctx context.Context, key string) error
}
