package engine

import (
	"context"
	"log"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/cache"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/ledger"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/projection"
)

// walletMutator implements the wallet path: the user's own wallet signs and
// submits the transaction, so the ledger write resolving is the "sent"
// moment and everything after it is display convergence.
type walletMutator struct {
	deps Deps
}

func newWalletMutator(deps Deps) *walletMutator {
	return &walletMutator{deps: deps}
}

// CreateReservation reserves a slot through the connected wallet. The
// optimistic entry is written before the ledger write and replaced (same
// temporary key) with the pending record on success; on ledger failure the
// entry is removed and the wallet's error returned unmodified.
func (m *walletMutator) CreateReservation(ctx context.Context, req CreateRequest) (model.Booking, error) {
	labID := projection.DecimalString(req.LabID)
	if labID == "" {
		return model.Booking{}, errs.Validation("lab id is required")
	}
	if req.UserAddress == "" {
		return model.Booking{}, errs.Validation("user address is required")
	}

	optimistic := projection.Normalize(projection.Input{
		LabID:       req.LabID,
		UserAddress: req.UserAddress,
		Start:       req.Start,
		End:         req.End,
		Status:      string(model.StatusRequesting),
		Note:        req.Note,
	})
	tempKey, err := m.deps.Cache.AddOptimisticBooking(ctx, optimistic)
	if err != nil {
		// A failed optimistic write costs only immediacy of display;
		// the reservation itself must still go out.
		log.Printf("wallet: optimistic add failed: %v", err)
		tempKey = optimistic.ReservationKey
	}
	optimistic.ReservationKey = tempKey

	m.deps.Flow.StartProcessing()
	m.deps.Flow.RequestSent(model.PendingRequest{
		LabID: labID,
		Start: optimistic.StartTime,
		End:   optimistic.EndTime,
	})

	txID, err := m.deps.Ledger.Write(ctx, ledger.MethodReserve, []string{labID, optimistic.Start, optimistic.End})
	if err != nil {
		if rerr := m.deps.Cache.RemoveOptimisticBooking(ctx, tempKey); rerr != nil {
			log.Printf("wallet: rollback of %s failed: %v", tempKey, rerr)
		}
		m.deps.Flow.Reset()
		// The wallet's own error, verbatim.
		return model.Booking{}, err
	}

	final := optimistic
	final.Status = model.StatusPending
	final.StatusCategory = final.Status.Category()
	final.TransactionHash = projection.DecimalOrVerbatim(txID)
	final.IsOptimistic = false
	final.IsPending = true

	if err := m.deps.Cache.ReplaceOptimisticBooking(ctx, tempKey, final); err != nil {
		// Contained: the transaction is out, the display will catch up.
		log.Printf("wallet: replace of %s failed, invalidating: %v",
			tempKey, errs.Reconciliation("replace optimistic booking", err))
		if ierr := m.deps.Cache.InvalidateAllBookings(ctx); ierr != nil {
			log.Printf("wallet: invalidate all failed: %v", ierr)
		}
		if ierr := m.deps.Cache.InvalidateLab(ctx, labID); ierr != nil {
			log.Printf("wallet: invalidate lab %s failed: %v", labID, ierr)
		}
		if ierr := m.deps.Cache.InvalidateUser(ctx, req.UserAddress); ierr != nil {
			log.Printf("wallet: invalidate user %s failed: %v", req.UserAddress, ierr)
		}
	}

	m.deps.Bus.Publish(events.Signal{Name: events.SignalOnChainRequested, ReservationKey: tempKey})
	m.publishSubmitted(ctx, final)
	m.deps.Reconciler.Arm("wallet-create", tempKey, queryKeys(labID, req.UserAddress))
	m.deps.observeFlow(ctx, labID, req.UserAddress)

	return final, nil
}

// CancelReservation cancels a pending reservation request. Success is
// defined by the chain, not by a local patch: the entry is marked
// cancel-requested and the reconciler waits for the confirming event.
func (m *walletMutator) CancelReservation(ctx context.Context, reservationKey, userAddress string) error {
	return m.cancel(ctx, ledger.MethodCancelRequest, "wallet-cancel-request", reservationKey, userAddress)
}

// CancelBooking cancels a confirmed booking through the wallet.
func (m *walletMutator) CancelBooking(ctx context.Context, reservationKey, userAddress string) error {
	return m.cancel(ctx, ledger.MethodCancelBooking, "wallet-cancel-booking", reservationKey, userAddress)
}

func (m *walletMutator) cancel(ctx context.Context, method, category, reservationKey, userAddress string) error {
	if reservationKey == "" {
		return errs.Validation("reservation key is required")
	}

	labID := ""
	if b, ok, err := m.deps.Cache.Get(ctx, reservationKey); err == nil && ok {
		labID = b.LabID
	}

	cancelling := model.StatusCancelling
	if err := m.deps.Cache.UpdateBooking(ctx, reservationKey, cache.Patch{Status: &cancelling}); err != nil {
		log.Printf("wallet: cancelling patch for %s failed: %v", reservationKey, err)
	}

	txID, err := m.deps.Ledger.Write(ctx, method, []string{reservationKey})
	if err != nil {
		// Undo the transient status via scoped invalidation; the next
		// read restores the authoritative state.
		if ierr := m.deps.Cache.SmartInvalidation(ctx, userAddress, labID,
			model.Booking{ReservationKey: reservationKey, UserAddress: userAddress, LabID: labID}, "remove"); ierr != nil {
			log.Printf("wallet: cancel rollback invalidation failed: %v", ierr)
		}
		return err
	}

	requested := model.StatusCancelRequested
	hash := projection.DecimalOrVerbatim(txID)
	if err := m.deps.Cache.UpdateBooking(ctx, reservationKey, cache.Patch{Status: &requested, TransactionHash: &hash}); err != nil {
		log.Printf("wallet: cancel-requested patch for %s failed, invalidating: %v", reservationKey, err)
		if ierr := m.deps.Cache.InvalidateAllBookings(ctx); ierr != nil {
			log.Printf("wallet: invalidate all failed: %v", ierr)
		}
	}

	m.deps.Bus.Publish(events.Signal{Name: events.SignalOnChainRequested, ReservationKey: reservationKey})
	m.deps.Reconciler.Arm(category, reservationKey, queryKeys(labID, userAddress))
	return nil
}

// RequestFunds is not a wallet-path operation; wallet users hold their own
// funds.
func (m *walletMutator) RequestFunds(context.Context, string, string) error {
	return errs.Validation("request funds is only available on the institutional path")
}

// Close is a no-op; the wallet mutator holds no background work.
func (m *walletMutator) Close() {}

func (m *walletMutator) publishSubmitted(ctx context.Context, b model.Booking) {
	if m.deps.Publisher == nil {
		return
	}
	if err := m.deps.Publisher.PublishSubmitted(ctx, b); err != nil {
		log.Printf("wallet: submitted publish for %s failed: %v", b.ReservationKey, err)
	}
}
