package middlewares

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	helper "kapalku_backend/internals/helpers"
)

// Global limiter: untuk endpoint booking & status
func GlobalRateLimiter() fiber.Handler {
	return RateLimiter(100, time.Minute)
}

func RateLimiter(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return helper.JsonErrorCode(c, fiber.StatusTooManyRequests, "RATE_LIMITED",
				"❌ Terlalu banyak permintaan. Silakan coba lagi nanti.")
		},
	})
}
