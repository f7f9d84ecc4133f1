package middleware // reusable HTTP middleware for the institutional routes

import (
	"net/http" // HTTP status codes for responses
	"strings"  // prefix checking and trimming

	"github.com/golang-jwt/jwt/v5" // JWT library for parsing and validating tokens
	"github.com/labstack/echo/v4"  // Echo framework used for middleware and handlers
)

// InstitutionalAuth returns an Echo middleware that validates a Bearer
// token issued after institutional login and injects the subject (the
// institutional user id) and the derived wallet address into the request
// context. Handlers read them via c.Get("user_id") and c.Get("address").
// Wallet-path routes do not use this middleware; a wallet user proves
// identity by signing the transaction itself.
func InstitutionalAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimPrefix(auth, "Bearer ")

			// Parse with HS256 only; any other signing method is
			// rejected.
			tok, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, echo.ErrUnauthorized
				}
				return []byte(secret), nil
			})
			if err != nil || !tok.Valid {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}

			claims, ok := tok.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid claims"})
			}

			// The address claim is what every booking operation keys
			// on; a token without it cannot act.
			addr, _ := claims["address"].(string)
			if addr == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "token carries no wallet address"})
			}
			c.Set("user_id", claims["sub"])
			c.Set("address", addr)
			return next(c)
		}
	}
}
