package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/agent-matrix/matrix-hub-sub001/internal/config"
)

// AdminMiddleware gates the admin surface (remotes CRUD, ingest
// triggers, pending registrations). A request passes with either the
// static admin token or an HS256 JWT signed with the configured secret.
// With neither configured, admin routes are locked out entirely.
func AdminMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Authentication required",
			})
		}

		if cfg.AdminToken != "" && token == cfg.AdminToken {
			c.Locals("admin_subject", "static-token")
			return c.Next()
		}

		if cfg.JWTSecretKey != "" {
			if sub, ok := verifyAdminJWT(token, cfg.JWTSecretKey); ok {
				c.Locals("admin_subject", sub)
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Admin access required",
		})
	}
}

func bearerToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Fallback header for clients that cannot set Authorization.
	return c.Get("X-Admin-Token")
}

func verifyAdminJWT(tokenString, secret string) (string, bool) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return "", false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", false
	}
	sub, _ := claims["sub"].(string)
	return sub, true
}
