package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/catalog-api/internal/application/dto"
	"github.com/jhoicas/catalog-api/internal/application/usecase"
)

// VariantHandler maneja las peticiones HTTP para variantes (admin y lectura para el carrito).
type VariantHandler struct {
	uc *usecase.VariantUseCase
}

// NewVariantHandler construye el handler.
func NewVariantHandler(uc *usecase.VariantUseCase) *VariantHandler {
	return &VariantHandler{uc: uc}
}

// Create godoc
// @Summary      Crear variante
// @Tags         variants
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        body  body  dto.CreateVariantRequest  true  "Datos de la variante"
// @Success      201   {object}  dto.VariantResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Router       /v1/admin/product-variant [post]
func (h *VariantHandler) Create(c *fiber.Ctx) error {
	var in dto.CreateVariantRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if in.ProductID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: "productId es requerido"})
	}
	out, err := h.uc.Create(c.UserContext(), in)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

// GetByID godoc
// @Summary      Obtener variante por ID
// @Tags         variants
// @Produce      json
// @Param        id   path  string  true  "ID de la variante"
// @Success      200  {object}  dto.VariantResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /v1/admin/product-variant/{id} [get]
// @Router       /v1/cart-item-service/{id} [get]
func (h *VariantHandler) GetByID(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "MISSING_ID", Message: "id es requerido"})
	}
	out, err := h.uc.GetByID(c.UserContext(), id)
	if err != nil {
		return writeError(c, err)
	}
	if out == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "variante de producto no encontrada"})
	}
	return c.JSON(out)
}

// Update godoc
// @Summary      Actualizar precio y/o stock de una variante
// @Tags         variants
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id    path  string                    true  "ID de la variante"
// @Param        body  body  dto.UpdateVariantRequest  true  "Campos a actualizar"
// @Success      200   {object}  dto.VariantResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      404   {object}  dto.ErrorResponse
// @Router       /v1/admin/product-variant/{id} [patch]
func (h *VariantHandler) Update(c *fiber.Ctx) error {
	id := c.Params("id")
	var in dto.UpdateVariantRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	out, err := h.uc.Update(c.UserContext(), id, in)
	if err != nil {
		return writeError(c, err)
	}
	if out == nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "variante de producto no encontrada"})
	}
	return c.JSON(out)
}

// ListByProduct godoc
// @Summary      Listar variantes de un producto
// @Tags         variants
// @Security     Bearer
// @Produce      json
// @Param        productId  path   string  true   "ID del producto"
// @Param        limit      query  int     false  "Límite"  default(20)
// @Param        offset     query  int     false  "Offset"  default(0)
// @Success      200  {object}  dto.VariantListResponse
// @Router       /v1/admin/products/{productId}/variants [get]
func (h *VariantHandler) ListByProduct(c *fiber.Ctx) error {
	page := dto.PageRequest{Limit: c.QueryInt("limit", 20), Offset: c.QueryInt("offset", 0)}
	out, err := h.uc.ListByProduct(c.UserContext(), c.Params("productId"), page)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}
