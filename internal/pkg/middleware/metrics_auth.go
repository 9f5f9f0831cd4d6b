package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"
)

// MetricsBasicAuth protects the metrics endpoint with a single user whose
// password is stored as a bcrypt hash. An empty hash locks the endpoint.
func MetricsBasicAuth(user, passwordHash string) fiber.Handler {
	return basicauth.New(basicauth.Config{
		Realm: "metrics",
		Authorizer: func(u, p string) bool {
			return checkMetricsCredentials(user, passwordHash, u, p)
		},
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="metrics"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid metrics credentials"})
		},
	})
}

func checkMetricsCredentials(wantUser, wantHash, user, password string) bool {
	if wantUser == "" || wantHash == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) != 1 {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(wantHash), []byte(password)) == nil
}
