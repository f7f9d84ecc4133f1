package router // route registration for the reservation gateway

import (
	"github.com/labstack/echo/v4" // Echo web framework

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/handler"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/middleware"
)

// RegisterRoutes registers routes that require no authentication: the
// health check and the read side of the booking projection.
func RegisterRoutes(e *echo.Echo, b *handler.BookingHandler) {
	e.GET("/healthz", handler.Health)

	e.GET("/v1/bookings", b.List)
	e.GET("/v1/bookings/user/:address", b.ListByUser)
	e.GET("/v1/bookings/lab/:labId", b.ListByLab)
	e.GET("/v1/bookings/key/:key", b.GetByKey)
}

// RegisterAuth registers the token exchange the SSO gateway calls after
// validating an institutional assertion.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler) {
	e.POST("/v1/auth/session", a.Exchange)
}

// RegisterReservations registers the mutation routes. Wallet routes are
// open, since a wallet user proves identity by signing the transaction;
// every institutional route sits behind the bearer-token middleware.
func RegisterReservations(e *echo.Echo, r *handler.ReservationHandler, jwtSecret string) {
	w := e.Group("/v1/wallet")
	w.POST("/reservations", r.CreateWalletReservation)
	w.POST("/reservations/:key/cancel", r.CancelWalletReservation)
	w.POST("/bookings/:key/cancel", r.CancelWalletBooking)

	inst := e.Group("/v1/institutional")
	inst.Use(middleware.InstitutionalAuth(jwtSecret))
	inst.POST("/reservations", r.CreateInstitutionalReservation)
	inst.POST("/reservations/:key/cancel", r.CancelInstitutionalReservation)
	inst.POST("/bookings/:key/cancel", r.CancelInstitutionalBooking)
	inst.POST("/funds", r.RequestFunds)

	// Flow inspection and the explicit reset the institutional path
	// needs after a reported failure.
	e.GET("/v1/flows", r.Flows)
	e.POST("/v1/flows/:mode/reset", r.ResetFlow)
}
