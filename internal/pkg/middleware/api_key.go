package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/firmaentrega/backend/internal/pkg/env"
	"github.com/firmaentrega/backend/internal/pkg/security"
)

// APIKeyAuthMiddleware protects the issuer endpoints used by warehouse
// systems. The expected key is configured as a SHA-256 hash so the raw key
// never lives in the environment of the running service.
func APIKeyAuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		expectedHash := env.GetEnv("ISSUER_API_KEY_HASH", "")
		if expectedHash == "" {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Issuer API key not configured"})
		}

		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		if !security.ConstantTimeEquals(security.HashToken(apiKey), expectedHash) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
		}

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
