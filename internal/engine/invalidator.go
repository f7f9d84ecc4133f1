package engine

import (
	"context"
	"strings"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/cache"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/reconcile"
)

// NewInvalidator maps reconciliation query keys onto cache operations:
// "all" drops everything, "user:<address>" and "lab:<id>" drop one scoped
// partition. Unknown keys fall back to the coarse invalidation.
func NewInvalidator(c *cache.BookingCache) reconcile.Invalidator {
	return func(ctx context.Context, queryKey string) error {
		switch {
		case queryKey == "all":
			return c.InvalidateAllBookings(ctx)
		case strings.HasPrefix(queryKey, "user:"):
			return c.InvalidateUser(ctx, strings.TrimPrefix(queryKey, "user:"))
		case strings.HasPrefix(queryKey, "lab:"):
			return c.InvalidateLab(ctx, strings.TrimPrefix(queryKey, "lab:"))
		}
		return c.InvalidateAllBookings(ctx)
	}
}
