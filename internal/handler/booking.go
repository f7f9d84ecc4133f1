package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/cache"
)

// BookingHandler serves the read side of the projection: the cached
// booking collections, exactly as the engine converged them. An empty
// partition is a valid answer; it may have just been invalidated and will
// repopulate from authoritative sources.
type BookingHandler struct {
	Cache *cache.BookingCache
}

// NewBookingHandler constructs a BookingHandler.
func NewBookingHandler(c *cache.BookingCache) *BookingHandler {
	if c == nil {
		panic("nil cache passed to NewBookingHandler")
	}
	return &BookingHandler{Cache: c}
}

// List handles GET /v1/bookings.
func (h *BookingHandler) List(c echo.Context) error {
	bookings, err := h.Cache.All(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cache error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bookings})
}

// ListByUser handles GET /v1/bookings/user/:address.
func (h *BookingHandler) ListByUser(c echo.Context) error {
	addr := c.Param("address")
	if addr == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "address is required"})
	}
	bookings, err := h.Cache.ByUser(c.Request().Context(), addr)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cache error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bookings})
}

// ListByLab handles GET /v1/bookings/lab/:labId.
func (h *BookingHandler) ListByLab(c echo.Context) error {
	labID := c.Param("labId")
	if labID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "lab id is required"})
	}
	bookings, err := h.Cache.ByLab(c.Request().Context(), labID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cache error"})
	}
	return c.JSON(http.StatusOK, echo.Map{"bookings": bookings})
}

// GetByKey handles GET /v1/bookings/key/:key.
func (h *BookingHandler) GetByKey(c echo.Context) error {
	key := c.Param("key")
	b, ok, err := h.Cache.Get(c.Request().Context(), key)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cache error"})
	}
	if !ok {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	}
	return c.JSON(http.StatusOK, b)
}
