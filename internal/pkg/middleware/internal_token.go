package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/seranking/paygate/internal/pkg/config"
)

// InternalTokenAuth guards the bot backend routes with the shared internal
// token. An unset token disables the surface entirely (503) rather than
// leaving it open.
func InternalTokenAuth(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.BotInternalToken == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":   "unavailable",
				"message": "Internal API is not configured",
			})
		}
		token := strings.TrimSpace(c.Get("X-Internal-Token"))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.BotInternalToken)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Invalid internal token",
			})
		}
		return c.Next()
	}
}
