package http

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
)

// HealthCheck verifica una dependencia (almacén, Redis...).
type HealthCheck func(ctx context.Context) error

// HealthHandler responde 200 si todas las dependencias responden, 503 si alguna falla.
func HealthHandler(service string, checks map[string]HealthCheck) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		status := "ok"
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				continue
			}
			results[name] = "ok"
		}
		code := fiber.StatusOK
		if status != "ok" {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{"status": status, "service": service, "checks": results})
	}
}
