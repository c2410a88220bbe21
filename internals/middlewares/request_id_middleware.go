package middlewares

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

// RequestID sets X-Request-ID and gives each handler a bounded user context.
func RequestID(timeout time.Duration) fiber.Handler {
	assign := requestid.New(requestid.Config{
		Header:     HeaderRequestID,
		Generator:  func() string { return uuid.NewString() },
		ContextKey: "request_id",
	})
	return func(c *fiber.Ctx) error {
		if timeout <= 0 {
			return assign(c)
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
		defer cancel()
		c.SetUserContext(ctx)
		return assign(c)
	}
}
