package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
)

// Collection naming. The index collection records every user/lab partition
// ever written so that a coarse invalidation can find them all.
const (
	collAll   = "bookings:all"
	collIndex = "bookings:index"
	keyField  = "booking"
)

func collUser(addr string) string { return "bookings:user:" + strings.ToLower(addr) }
func collLab(labID string) string { return "bookings:lab:" + labID }
func collKey(rk string) string    { return "bookings:key:" + rk }

// Patch is an explicit, replayable booking patch. Only non-nil fields are
// applied; applying the same Patch twice yields the same record, which is
// what lets the orchestrator retry a confirm without duplicating state.
type Patch struct {
	Status          *model.Status
	TransactionHash *string
	IntentRequestID *string
	IntentStatus    *string
	Note            *string
	IsOptimistic    *bool
	IsPending       *bool
}

// Apply returns b with the patch applied. Setting Status also refreshes the
// derived category and, unless IsPending is patched explicitly, the pending
// flag.
func (p Patch) Apply(b model.Booking) model.Booking {
	if p.Status != nil {
		b.Status = *p.Status
		b.StatusCategory = b.Status.Category()
		if p.IsPending == nil {
			b.IsPending = !b.Status.Terminal()
		}
	}
	if p.TransactionHash != nil {
		b.TransactionHash = *p.TransactionHash
	}
	if p.IntentRequestID != nil {
		b.IntentRequestID = *p.IntentRequestID
	}
	if p.IntentStatus != nil {
		b.IntentStatus = *p.IntentStatus
	}
	if p.Note != nil {
		b.Note = *p.Note
	}
	if p.IsOptimistic != nil {
		b.IsOptimistic = *p.IsOptimistic
	}
	if p.IsPending != nil {
		b.IsPending = *p.IsPending
	}
	return b
}

// ErrNotFound is returned by precise operations when the target booking is
// absent from every partition.
var ErrNotFound = fmt.Errorf("cache: booking not found")

// BookingCache keeps the booking collections mutually consistent: every
// write lands in the all-bookings partition and, when the record carries a
// user address or lab id, in those partitions as well. It is the only
// component that owns the collections; everything else goes through its
// operations.
type BookingCache struct {
	store Store
}

// NewBookingCache wraps store.
func NewBookingCache(store Store) *BookingCache {
	return &BookingCache{store: store}
}

// AddBooking upserts b into every applicable partition.
func (c *BookingCache) AddBooking(ctx context.Context, b model.Booking) error {
	if b.ReservationKey == "" {
		return fmt.Errorf("cache: booking without reservation key")
	}
	return c.write(ctx, b)
}

// AddOptimisticBooking upserts b flagged optimistic, generating a temporary
// reservation key when b has none, and returns the key under which the
// entry is stored.
func (c *BookingCache) AddOptimisticBooking(ctx context.Context, b model.Booking) (string, error) {
	if b.ReservationKey == "" {
		b.ReservationKey = "optimistic-" + uuid.New().String()
	}
	b.IsOptimistic = true
	if err := c.write(ctx, b); err != nil {
		return "", err
	}
	return b.ReservationKey, nil
}

// UpdateBooking applies patch to the booking stored under key. Replaying
// the same patch is a no-op by construction of Patch.Apply.
func (c *BookingCache) UpdateBooking(ctx context.Context, key string, patch Patch) error {
	b, ok, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return c.write(ctx, patch.Apply(b))
}

// ReplaceOptimisticBooking swaps the entry stored under tempKey for the
// final record. A missing temp entry is tolerated so a replayed confirm
// converges on the same content instead of failing.
func (c *BookingCache) ReplaceOptimisticBooking(ctx context.Context, tempKey string, final model.Booking) error {
	if final.ReservationKey == "" {
		final.ReservationKey = tempKey
	}
	if final.ReservationKey != tempKey {
		if err := c.remove(ctx, tempKey); err != nil {
			return err
		}
	}
	final.IsOptimistic = false
	return c.write(ctx, final)
}

// RemoveOptimisticBooking deletes the entry stored under tempKey from every
// partition. Removing an absent entry is a no-op.
func (c *BookingCache) RemoveOptimisticBooking(ctx context.Context, tempKey string) error {
	return c.remove(ctx, tempKey)
}

// RemoveBooking deletes the entry stored under key from every partition.
func (c *BookingCache) RemoveBooking(ctx context.Context, key string) error {
	return c.remove(ctx, key)
}

// InvalidateAllBookings drops the all-bookings partition plus every user
// and lab partition registered in the index. This is the coarse fallback:
// the next read repopulates from authoritative sources.
func (c *BookingCache) InvalidateAllBookings(ctx context.Context) error {
	parts, err := c.store.List(ctx, collIndex)
	if err != nil {
		return err
	}
	if err := c.store.Invalidate(ctx, collAll); err != nil {
		return err
	}
	for name := range parts {
		if err := c.store.Invalidate(ctx, name); err != nil {
			return err
		}
	}
	return c.store.Invalidate(ctx, collIndex)
}

// InvalidateUser drops one user partition.
func (c *BookingCache) InvalidateUser(ctx context.Context, addr string) error {
	return c.store.Invalidate(ctx, collUser(addr))
}

// InvalidateLab drops one lab partition.
func (c *BookingCache) InvalidateLab(ctx context.Context, labID string) error {
	return c.store.Invalidate(ctx, collLab(labID))
}

// SmartInvalidation first attempts the precise operation for action
// ("add", "update" or "remove") and, when that fails, falls back to scoped
// invalidation of the user partition and then the lab partition. The
// precise failure is logged, not returned; only a failing fallback
// surfaces, because at that point the cache cannot be trusted at all.
func (c *BookingCache) SmartInvalidation(ctx context.Context, userAddress, labID string, b model.Booking, action string) error {
	var err error
	switch action {
	case "add":
		err = c.AddBooking(ctx, b)
	case "remove":
		err = c.RemoveBooking(ctx, b.ReservationKey)
	default:
		err = c.UpdateBooking(ctx, b.ReservationKey, fullPatch(b))
	}
	if err == nil {
		return nil
	}
	log.Printf("cache: precise %s failed for %s, falling back to scoped invalidation: %v", action, b.ReservationKey, err)
	if userAddress != "" {
		if ferr := c.InvalidateUser(ctx, userAddress); ferr != nil {
			return ferr
		}
	}
	if labID != "" {
		if ferr := c.InvalidateLab(ctx, labID); ferr != nil {
			return ferr
		}
	}
	return nil
}

// Get returns the booking stored under key, consulting the per-key
// partition first and the all-bookings partition second.
func (c *BookingCache) Get(ctx context.Context, key string) (model.Booking, bool, error) {
	raw, ok, err := c.store.Get(ctx, collKey(key), keyField)
	if err != nil {
		return model.Booking{}, false, err
	}
	if !ok {
		raw, ok, err = c.store.Get(ctx, collAll, key)
		if err != nil || !ok {
			return model.Booking{}, ok, err
		}
	}
	var b model.Booking
	if err := json.Unmarshal(raw, &b); err != nil {
		return model.Booking{}, false, err
	}
	return b, true, nil
}

// All lists the all-bookings partition.
func (c *BookingCache) All(ctx context.Context) ([]model.Booking, error) {
	return c.list(ctx, collAll)
}

// ByUser lists one user partition.
func (c *BookingCache) ByUser(ctx context.Context, addr string) ([]model.Booking, error) {
	return c.list(ctx, collUser(addr))
}

// ByLab lists one lab partition.
func (c *BookingCache) ByLab(ctx context.Context, labID string) ([]model.Booking, error) {
	return c.list(ctx, collLab(labID))
}

func (c *BookingCache) list(ctx context.Context, collection string) ([]model.Booking, error) {
	raw, err := c.store.List(ctx, collection)
	if err != nil {
		return nil, err
	}
	out := make([]model.Booking, 0, len(raw))
	for _, v := range raw {
		var b model.Booking
		if err := json.Unmarshal(v, &b); err != nil {
			// One corrupt entry must not hide the rest.
			log.Printf("cache: skipping corrupt entry in %s: %v", collection, err)
			continue
		}
		out = append(out, b)
	}
	return out, nil
}

// write upserts b into every applicable partition and registers the
// partitions in the index.
func (c *BookingCache) write(ctx context.Context, b model.Booking) error {
	raw, err := json.Marshal(b)
	if err != nil {
		return err
	}
	if err := c.store.Put(ctx, collAll, b.ReservationKey, raw); err != nil {
		return err
	}
	if err := c.store.Put(ctx, collKey(b.ReservationKey), keyField, raw); err != nil {
		return err
	}
	if b.UserAddress != "" {
		if err := c.putIndexed(ctx, collUser(b.UserAddress), b.ReservationKey, raw); err != nil {
			return err
		}
	}
	if b.LabID != "" {
		if err := c.putIndexed(ctx, collLab(b.LabID), b.ReservationKey, raw); err != nil {
			return err
		}
	}
	return nil
}

func (c *BookingCache) putIndexed(ctx context.Context, collection, field string, raw []byte) error {
	if err := c.store.Put(ctx, collection, field, raw); err != nil {
		return err
	}
	return c.store.Put(ctx, collIndex, collection, []byte("1"))
}

// remove deletes the record under key from every partition it appears in.
func (c *BookingCache) remove(ctx context.Context, key string) error {
	b, ok, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := c.store.Invalidate(ctx, collKey(key)); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, collAll, key); err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if b.UserAddress != "" {
		if err := c.store.Delete(ctx, collUser(b.UserAddress), key); err != nil {
			return err
		}
	}
	if b.LabID != "" {
		if err := c.store.Delete(ctx, collLab(b.LabID), key); err != nil {
			return err
		}
	}
	return nil
}

// fullPatch builds the Patch equivalent of overwriting with b's mutable
// fields, used by SmartInvalidation's update path.
func fullPatch(b model.Booking) Patch {
	status := b.Status
	return Patch{
		Status:          &status,
		TransactionHash: &b.TransactionHash,
		IntentRequestID: &b.IntentRequestID,
		IntentStatus:    &b.IntentStatus,
		Note:            &b.Note,
		IsOptimistic:    &b.IsOptimistic,
		IsPending:       &b.IsPending,
	}
}
