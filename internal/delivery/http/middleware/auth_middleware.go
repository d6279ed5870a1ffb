package middleware

import (
	"errors"
	"strings"

	"rental-sync/internal/pkg/jwt"

	"github.com/gofiber/fiber/v3"
)

const CtxCallerKey = "caller"

type AuthMiddleware struct {
	jwt jwt.Service
}

func NewAuthMiddleware(jwtSvc jwt.Service) *AuthMiddleware {
	return &AuthMiddleware{jwt: jwtSvc}
}

// Middleware accepts service tokens carrying scope.
func (m *AuthMiddleware) Middleware(scope string) fiber.Handler {
	return func(c fiber.Ctx) error {
		token, ok := bearerTokenFromHeader(c.Get("Authorization"))
		if !ok {
			return NewAppError(fiber.StatusUnauthorized, "Unauthorized", nil, nil)
		}

		claims, err := m.jwt.ValidateToken(token)
		if err != nil {
			switch {
			case errors.Is(err, jwt.ErrTokenExpired):
				return NewAppError(fiber.StatusUnauthorized, "Token expired", nil, err)
			case errors.Is(err, jwt.ErrNotConfigured):
				return NewAppError(fiber.StatusServiceUnavailable, "Service tokens are not configured", nil, err)
			}
			return NewAppError(fiber.StatusUnauthorized, "Invalid token", nil, err)
		}

		if scope != "" && !claims.HasScope(scope) {
			return NewAppError(fiber.StatusForbidden, "Missing scope "+scope, nil, nil)
		}

		c.Locals(CtxCallerKey, claims.Subject)
		return c.Next()
	}
}

func bearerTokenFromHeader(authHeader string) (string, bool) {
	authHeader = strings.TrimSpace(authHeader)
	if authHeader == "" {
		return "", false
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}
