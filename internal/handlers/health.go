package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

// Health reports liveness.
func Health(env string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"success":     true,
			"message":     "Server is running",
			"timestamp":   time.Now().UTC().Format(time.RFC3339),
			"environment": env,
		})
	}
}
