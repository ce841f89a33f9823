package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound          = errors.New("recurso no encontrado")
	ErrInvalidInput      = errors.New("entrada inválida")
	ErrDuplicate         = errors.New("recurso duplicado")
	ErrUnauthorized      = errors.New("no autorizado")
	ErrForbidden         = errors.New("acceso denegado")
	ErrVariantNotFound   = errors.New("variante no encontrada")
	ErrInsufficientStock = errors.New("stock insuficiente")

	// Errores transitorios: el llamador puede reintentar la misma petición.
	ErrConflict    = errors.New("conflicto de concurrencia con el estado actual")
	ErrTimeout     = errors.New("tiempo de reserva agotado")
	ErrUnavailable = errors.New("almacén no disponible")

	// Idempotencia de reservas.
	ErrIdempotencyInProgress = errors.New("existe una reserva en curso con la misma llave")
	ErrIdempotencyMismatch   = errors.New("la llave de idempotencia ya se usó con otra petición")
)

// InvalidRequestError petición rechazada antes de tocar el almacén.
// Index es la posición de la línea inválida, o -1 si el problema es la lista completa.
type InvalidRequestError struct {
	Index  int
	Reason string
}

func (e *InvalidRequestError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("entrada inválida: %s", e.Reason)
	}
	return fmt.Sprintf("entrada inválida en línea %d: %s", e.Index, e.Reason)
}

// Is permite errors.Is(err, ErrInvalidInput).
func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidInput }

// VariantNotFoundError la variante referenciada no existe.
type VariantNotFoundError struct {
	VariantID string
}

func (e *VariantNotFoundError) Error() string {
	return fmt.Sprintf("variante %q no encontrada", e.VariantID)
}

func (e *VariantNotFoundError) Is(target error) bool {
	return target == ErrVariantNotFound || target == ErrNotFound
}

// InsufficientStockError la demanda total de una variante supera su stock.
type InsufficientStockError struct {
	VariantID string
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("stock insuficiente para %q: solicitado %d, disponible %d",
		e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// IsRetryable indica si el error es transitorio y la petición puede repetirse tal cual.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrIdempotencyInProgress)
}
