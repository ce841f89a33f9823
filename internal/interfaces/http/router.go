package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/catalog-api/internal/application/reservation"
	"github.com/jhoicas/catalog-api/internal/application/usecase"
	"github.com/jhoicas/catalog-api/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	ReserveUC *reservation.UseCase
	VariantUC *usecase.VariantUseCase
	JWTSecret string
	// ReserveRequireAuth exige JWT con rol order-service o admin en la ruta de reservas.
	// En false la ruta queda abierta, como en despliegues previos sin autenticación.
	ReserveRequireAuth bool
}

// Router registra las rutas de la API bajo /v1.
func Router(app *fiber.App, deps RouterDeps) {
	v1 := app.Group("/v1")
	variantHandler := NewVariantHandler(deps.VariantUC)

	// Lectura para el servicio de carrito (público)
	v1.Get("/cart-item-service/:id", variantHandler.GetByID)

	// Reservas: servicio de órdenes o admin, salvo que la autenticación esté desactivada
	reservationHandler := NewReservationHandler(deps.ReserveUC)
	if deps.ReserveRequireAuth {
		v1.Post("/product-variant-prices",
			AuthMiddleware(deps.JWTSecret),
			RequireRole(jwt.RoleOrderService, jwt.RoleAdmin),
			reservationHandler.Reserve,
		)
	} else {
		v1.Post("/product-variant-prices", reservationHandler.Reserve)
	}

	// Administración del catálogo (protegido)
	admin := v1.Group("/admin", AuthMiddleware(deps.JWTSecret), RequireRole(jwt.RoleAdmin))
	admin.Post("/product-variant", variantHandler.Create)
	admin.Get("/product-variant/:id", variantHandler.GetByID)
	admin.Patch("/product-variant/:id", variantHandler.Update)
	admin.Get("/products/:productId/variants", variantHandler.ListByProduct)
}
