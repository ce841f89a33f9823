package http

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/catalog-api/internal/application/dto"
	"github.com/jhoicas/catalog-api/internal/application/reservation"
)

// HeaderIdempotencyKey llave opcional del llamador para reintentos seguros.
const HeaderIdempotencyKey = "Idempotency-Key"

const maxIdempotencyKeyLen = 255

// ReservationHandler expone el motor de reservas al servicio de órdenes.
type ReservationHandler struct {
	uc *reservation.UseCase
}

// NewReservationHandler construye el handler.
func NewReservationHandler(uc *reservation.UseCase) *ReservationHandler {
	return &ReservationHandler{uc: uc}
}

// Reserve godoc
// @Summary      Verificar disponibilidad, valorizar y reservar stock de variantes
// @Description  Todas las líneas se reservan en una sola transacción o ninguna.
// @Tags         reservations
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        Idempotency-Key  header  string                 false  "Llave de idempotencia"
// @Param        body             body    []dto.ReserveItemRequest  true   "Líneas a reservar"
// @Success      200  {object}  dto.ReservationResponse
// @Failure      400  {object}  dto.ErrorResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      409  {object}  dto.ErrorResponse
// @Failure      422  {object}  dto.ErrorResponse
// @Failure      503  {object}  dto.ErrorResponse
// @Failure      504  {object}  dto.ErrorResponse
// @Router       /v1/product-variant-prices [post]
func (h *ReservationHandler) Reserve(c *fiber.Ctx) error {
	var in dto.ReserveRequest
	if err := json.Unmarshal(c.Body(), &in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido: se espera un arreglo de ítems o {\"items\": [...]}"})
	}
	in.IdempotencyKey = c.Get(HeaderIdempotencyKey)
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "Idempotency-Key demasiado larga"})
	}

	out, err := h.uc.Reserve(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
