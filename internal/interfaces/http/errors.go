package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/catalog-api/internal/application/dto"
	"github.com/jhoicas/catalog-api/internal/domain"
)

// writeError traduce errores de dominio al cuerpo dto.ErrorResponse con su status.
// Los errores transitorios llevan Retry-After para que el llamador reintente.
func writeError(c *fiber.Ctx, err error) error {
	var (
		invalid      *domain.InvalidRequestError
		notFound     *domain.VariantNotFoundError
		insufficient *domain.InsufficientStockError
	)
	switch {
	case errors.As(err, &invalid):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Code: "VALIDATION", Message: invalid.Error(),
			Details: map[string]any{"index": invalid.Index},
		})
	case errors.As(err, &notFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{
			Code: "VARIANT_NOT_FOUND", Message: "variante de producto no encontrada",
			Details: map[string]any{"variant_id": notFound.VariantID},
		})
	case errors.As(err, &insufficient):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{
			Code: "INSUFFICIENT_STOCK", Message: "stock insuficiente",
			Details: map[string]any{
				"variant_id": insufficient.VariantID,
				"requested":  insufficient.Requested,
				"available":  insufficient.Available,
			},
		})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "recurso no encontrado"})
	case errors.Is(err, domain.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Code: "DUPLICATE", Message: "recurso duplicado"})
	case errors.Is(err, domain.ErrIdempotencyMismatch):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Code: "IDEMPOTENCY_MISMATCH", Message: err.Error()})
	case errors.Is(err, domain.ErrIdempotencyInProgress):
		return retryable(c, fiber.StatusConflict, "IDEMPOTENCY_IN_PROGRESS", err.Error())
	case errors.Is(err, domain.ErrConflict):
		return retryable(c, fiber.StatusConflict, "CONFLICT", "conflicto de concurrencia, reintente")
	case errors.Is(err, domain.ErrTimeout):
		return retryable(c, fiber.StatusGatewayTimeout, "TIMEOUT", "tiempo de reserva agotado, reintente")
	case errors.Is(err, context.Canceled):
		return c.Status(fiber.StatusRequestTimeout).JSON(dto.ErrorResponse{Code: "CANCELED", Message: "petición cancelada"})
	case errors.Is(err, domain.ErrUnavailable):
		return retryable(c, fiber.StatusServiceUnavailable, "UNAVAILABLE", "almacén no disponible, reintente")
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error interno"})
	}
}

func retryable(c *fiber.Ctx, status int, code, msg string) error {
	c.Set(fiber.HeaderRetryAfter, "1")
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: msg, Retryable: true})
}
