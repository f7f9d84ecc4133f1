// Package engine composes the projection normalizer, the optimistic cache,
// the intent orchestrator, the flow machines and the reconciliation queue
// into the path-specific mutation operations a UI invokes. Every operation
// follows the same shape: optimistic cache write first, then the external
// operation, then replace-or-rollback. A cache failure after the external
// operation succeeded degrades to invalidation instead of failing the
// mutation, because "transaction sent" must never be reported as an error
// over a display detail.
package engine

import (
	"context"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/cache"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/flow"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/intent"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/ledger"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/reconcile"
)

// Mode selects the reservation path.
type Mode string

const (
	ModeWallet        Mode = "wallet"
	ModeInstitutional Mode = "institutional"
)

// CreateRequest carries the loosely typed inputs of a create operation.
// LabID, Start and End accept the same representations the projection
// normalizer does (big integers, numeric strings, epoch numbers).
type CreateRequest struct {
	LabID       any
	Start       any
	End         any
	UserAddress string
	Note        string
}

// ReservationMutator is the capability interface of one reservation path.
// Only the selected path's implementation is ever constructed; the other
// path's machinery does not exist for the call.
type ReservationMutator interface {
	// CreateReservation reserves a slot. The returned booking is the
	// client-visible record at the moment the call returns: already
	// pending with a transaction id on the wallet path, requested and
	// still converging on the institutional path.
	CreateReservation(ctx context.Context, req CreateRequest) (model.Booking, error)
	// CancelReservation cancels a not-yet-confirmed reservation request.
	CancelReservation(ctx context.Context, reservationKey, userAddress string) error
	// CancelBooking cancels a confirmed booking.
	CancelBooking(ctx context.Context, reservationKey, userAddress string) error
	// RequestFunds tops up an institutional user's derived wallet.
	// Wallet-path callers get a validation error; wallet users hold
	// their own funds.
	RequestFunds(ctx context.Context, userAddress, amount string) error
	// Close releases background resources (detached polls).
	Close()
}

// Deps bundles the collaborators a mutator may need. Wallet mutators
// require Ledger; institutional mutators require Intents. Cache, Flow, Bus
// and Reconciler are required by both. Publisher is optional.
type Deps struct {
	Cache      *cache.BookingCache
	Flow       *flow.Machine
	Bus        events.Bus
	Reconciler *reconcile.Queue
	Ledger     ledger.Writer
	Intents    *intent.Orchestrator
	Publisher  SubmittedPublisher
}

// SubmittedPublisher announces a submitted reservation to downstream
// consumers (broker). Failures are logged, never surfaced.
type SubmittedPublisher interface {
	PublishSubmitted(ctx context.Context, b model.Booking) error
}

// NewMutator constructs the mutator for the selected mode only.
func NewMutator(mode Mode, deps Deps) (ReservationMutator, error) {
	if deps.Cache == nil || deps.Flow == nil || deps.Bus == nil || deps.Reconciler == nil {
		return nil, errs.Validation("cache, flow, bus and reconciler are required")
	}
	switch mode {
	case ModeWallet:
		if deps.Ledger == nil {
			return nil, errs.Validation("wallet mode requires a ledger writer")
		}
		return newWalletMutator(deps), nil
	case ModeInstitutional:
		if deps.Intents == nil {
			return nil, errs.Validation("institutional mode requires an intent orchestrator")
		}
		return newInstitutionalMutator(deps), nil
	}
	return nil, errs.Validation("unknown reservation mode: " + string(mode))
}

// observeFlow hands the combined user+lab collections to the path's flow
// machine so a freshly written cache entry can move the stage (typically
// request_sent → request_registered). Read errors are ignored; the next
// chain event re-observes anyway.
func (d Deps) observeFlow(ctx context.Context, labID, userAddress string) {
	byUser, _ := d.Cache.ByUser(ctx, userAddress)
	byLab, _ := d.Cache.ByLab(ctx, labID)
	d.Flow.Observe(append(byUser, byLab...))
}

// queryKeys builds the reconciliation query-key set for a booking: the
// all-bookings partition plus the scoped lab and user partitions.
func queryKeys(labID, userAddress string) []string {
	keys := []string{"all"}
	if labID != "" {
		keys = append(keys, "lab:"+labID)
	}
	if userAddress != "" {
		keys = append(keys, "user:"+userAddress)
	}
	return keys
}
