package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/PlusLedger/internal/pkg/usercontext"
)

// RedeemRateLimiter allows max gift redemptions per caller and minute. The
// counter is kept in storage so every instance shares it; nil storage falls
// back to process memory.
func RedeemRateLimiter(max int, storage fiber.Storage) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: time.Minute,
		Storage:    storage,
		KeyGenerator: func(c *fiber.Ctx) string {
			if id := usercontext.GetUserID(c); id != 0 {
				return fmt.Sprintf("redeem:user:%d", id)
			}
			return "redeem:ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited", "message": "Too many redemption attempts, try again later"})
		},
	})
}
