// internals/middlewares/auth/auth_middleware.go
package auth

import (
	"crypto/subtle"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"

	"kapalku_backend/internals/constants"
	helper "kapalku_backend/internals/helpers"
)

const HeaderInternalToken = "X-Internal-Token"

// OperatorAuth guards the internal job endpoints. Callers send either the raw
// secret in X-Internal-Token or an HS256 bearer token signed with it.
func OperatorAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			helper.Logger.Error("INTERNAL_JOB_TOKEN kosong, internal endpoints ditutup")
			return helper.JsonError(c, fiber.StatusServiceUnavailable, "internal endpoints disabled")
		}

		// 1) Shared token untuk cron/CLI
		if raw := c.Get(HeaderInternalToken); raw != "" {
			if subtle.ConstantTimeCompare([]byte(raw), []byte(secret)) != 1 {
				helper.SecurityLog().WithField("path", c.Path()).Warn("internal token rejected")
				return helper.JsonError(c, fiber.StatusUnauthorized, "Unauthorized - invalid internal token")
			}
			c.Locals(LocalOperator, "internal-token")
			c.Locals(LocalRole, constants.RoleOps)
			return c.Next()
		}

		// 2) Ambil Authorization
		tokenString, err := extractBearerToken(c)
		if err != nil {
			return helper.JsonError(c, fiber.StatusUnauthorized, err.Error())
		}

		// 3) Parse & verifikasi JWT
		claims := jwt.MapClaims{}
		parser := jwt.Parser{ValidMethods: []string{jwt.SigningMethodHS256.Alg()}, SkipClaimsValidation: true}
		if _, err := parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		}); err != nil {
			helper.SecurityLog().WithError(err).WithField("path", c.Path()).Warn("operator token rejected")
			return helper.JsonError(c, fiber.StatusUnauthorized, "Unauthorized - Token parse error")
		}

		// 4) Validasi exp
		if err := validateTokenExpiry(claims, 30*time.Second); err != nil {
			helper.SecurityLog().WithError(err).Warn("operator token expired")
			return helper.JsonError(c, fiber.StatusUnauthorized, "Unauthorized - Token expired")
		}

		// 5) Simpan klaim ke context
		storeOperatorClaims(c, claims)

		helper.Logger.WithFields(logrus.Fields{
			"operator": c.Locals(LocalOperator),
			"path":     c.Path(),
		}).Info("operator request")
		return c.Next()
	}
}
