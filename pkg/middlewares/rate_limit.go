package middlewares

import (
	"strings"
	"time"

	"ephemeral_chat_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"go.uber.org/zap"
)

// RateLimitConfig fixed window per IP
type RateLimitConfig struct {
	Max    int
	Window time.Duration
	// Storage 為 nil 時使用 fiber 內建記憶體
	Storage fiber.Storage
	// SkipPaths 不計數的路徑, 例如 health check
	SkipPaths []string
}

// RateLimiter 超過限制回傳 429 {"error": "..."}
func RateLimiter(cfg RateLimitConfig) fiber.Handler {
	if cfg.Max <= 0 {
		cfg.Max = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:               cfg.Max,
		Expiration:        cfg.Window,
		LimiterMiddleware: limiter.FixedWindow{},
		Storage:           cfg.Storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		Next: func(c *fiber.Ctx) bool {
			for _, p := range cfg.SkipPaths {
				if strings.HasPrefix(c.Path(), p) {
					return true
				}
			}
			return false
		},
		LimitReached: func(c *fiber.Ctx) error {
			logger.Log.Warn("rate limit reached", zap.String("ip", c.IP()), zap.String("path", c.Path()))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	})
}
