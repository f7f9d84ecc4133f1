package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/utils"
)

// AuthHandler mints the institutional bearer token. The SSO gateway
// validates the assertion itself and then calls this endpoint with the
// resulting identity; the shared gateway key keeps the exchange between
// the two services only.
type AuthHandler struct {
	JWTSecret  string
	GatewayKey string
	TokenTTL   int // minutes
}

// NewAuthHandler constructs the handler. Both secrets must be non-empty.
func NewAuthHandler(jwtSecret, gatewayKey string, ttlMin int) *AuthHandler {
	if jwtSecret == "" || gatewayKey == "" {
		panic("empty secret passed to NewAuthHandler")
	}
	return &AuthHandler{JWTSecret: jwtSecret, GatewayKey: gatewayKey, TokenTTL: ttlMin}
}

// Exchange handles POST /v1/auth/session. The gateway posts the validated
// user id and derived wallet address; the response carries the signed
// token the UI presents on every institutional route.
func (h *AuthHandler) Exchange(c echo.Context) error {
	key := c.Request().Header.Get("X-Gateway-Key")
	if subtle.ConstantTimeCompare([]byte(key), []byte(h.GatewayKey)) != 1 {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		UserID  string `json:"userId"`
		Address string `json:"address"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if body.UserID == "" || body.Address == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "userId and address are required"})
	}
	token, err := utils.NewInstitutionalToken(h.JWTSecret, body.UserID, body.Address, h.TokenTTL)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "could not sign token"})
	}
	return c.JSON(http.StatusOK, echo.Map{"token": token})
}
