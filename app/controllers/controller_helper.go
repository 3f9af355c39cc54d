package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/firmaentrega/backend/internal/pkg/confirm"
)

// respondError renders the uniform error body. Storage failures are logged
// with their cause; the body never exposes internals.
func respondError(c *fiber.Ctx, err *confirm.Error) error {
	if err.Kind == confirm.KindStorage {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
	}
	return c.Status(err.StatusCode()).JSON(fiber.Map{
		"error":   err.Code(),
		"message": err.Message,
	})
}
