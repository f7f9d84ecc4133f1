package engine

import (
	"context"
	"log"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/cache"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/errs"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/projection"
)

// institutionalMutator implements the institutional path: the backend signs
// and executes on the user's behalf after an out-of-band authorization. The
// optimistic entry appears only after the authorization succeeded (a
// declined ceremony must leave no trace), and a detached poll then tracks
// the intent to its terminal execution state.
type institutionalMutator struct {
	deps Deps

	// pollCtx detaches execution polls from the caller's request context
	// so the convergence outlives the HTTP call that started it. Close
	// cancels every outstanding poll.
	pollCtx    context.Context
	cancelPoll context.CancelFunc
}

func newInstitutionalMutator(deps Deps) *institutionalMutator {
	ctx, cancel := context.WithCancel(context.Background())
	return &institutionalMutator{deps: deps, pollCtx: ctx, cancelPoll: cancel}
}

// capable reports whether any authorization mechanism exists. Checked up
// front so the user is told immediately instead of after a prepare round
// trip.
func (m *institutionalMutator) capable() bool {
	return m.deps.Intents != nil && (m.deps.Intents.Ceremony != nil || m.deps.Intents.Opener != nil)
}

// CreateReservation runs the authorization ceremony and, once the intent
// is authorized, writes the optimistic requested entry and polls the
// intent's execution in the background.
func (m *institutionalMutator) CreateReservation(ctx context.Context, req CreateRequest) (model.Booking, error) {
	labID := projection.DecimalString(req.LabID)
	if labID == "" {
		return model.Booking{}, errs.Validation("lab id is required")
	}
	if req.UserAddress == "" {
		return model.Booking{}, errs.Validation("user address is required")
	}
	if !m.capable() {
		return model.Booking{}, errs.Validation("no credential-capable environment available for institutional authorization")
	}

	m.deps.Flow.StartProcessing()

	start := projection.DecimalString(req.Start)
	end := projection.DecimalString(req.End)
	auth, err := m.deps.Intents.AuthorizeReservation(ctx, model.PrepareReservation{
		LabID:       labID,
		UserAddress: req.UserAddress,
		Start:       start,
		End:         end,
	})
	if err != nil {
		// Institutional failures are reported but the flow is not reset
		// here; a denial signal or an explicit reset clears it, since
		// failures often also arrive later as a denial.
		return model.Booking{}, err
	}

	booking := projection.Normalize(projection.Input{
		LabID:           req.LabID,
		UserAddress:     req.UserAddress,
		Start:           req.Start,
		End:             req.End,
		Status:          string(model.StatusRequested),
		Note:            req.Note,
		IntentRequestID: auth.RequestID,
	})
	tempKey, err := m.deps.Cache.AddOptimisticBooking(ctx, booking)
	if err != nil {
		log.Printf("institutional: optimistic add failed: %v", err)
		tempKey = booking.ReservationKey
	}
	booking.ReservationKey = tempKey

	m.deps.Flow.RequestSent(model.PendingRequest{
		LabID: labID,
		Start: booking.StartTime,
		End:   booking.EndTime,
	})

	m.deps.observeFlow(ctx, labID, req.UserAddress)
	go m.trackExecution(tempKey, labID, req.UserAddress, auth.RequestID)

	return booking, nil
}

// trackExecution polls the intent to a terminal outcome and converges the
// cache entry. Runs detached; all cache errors here are contained.
func (m *institutionalMutator) trackExecution(tempKey, labID, userAddress, requestID string) {
	ctx := m.pollCtx
	st, err := m.deps.Intents.PollExecution(ctx, requestID)
	if err != nil {
		// Safety net: we no longer know what the backend did, so make
		// the next read fetch authoritative state.
		log.Printf("institutional: execution poll for %s failed, invalidating: %v", requestID, err)
		if ierr := m.deps.Cache.InvalidateAllBookings(ctx); ierr != nil {
			log.Printf("institutional: invalidate all failed: %v", ierr)
		}
		return
	}

	switch st.Status {
	case model.ExecStatusExecuted:
		final, ok, gerr := m.deps.Cache.Get(ctx, tempKey)
		if gerr != nil || !ok {
			final = model.Booking{ReservationKey: tempKey, LabID: labID, UserAddress: userAddress}
		}
		final.Status = model.StatusPending
		final.StatusCategory = final.Status.Category()
		final.IsPending = true
		final.TransactionHash = projection.DecimalOrVerbatim(st.TxHash)
		final.IntentStatus = st.Status
		if st.ReservationKey != "" {
			final.ReservationKey = projection.DecimalString(st.ReservationKey)
		}
		if err := m.deps.Cache.ReplaceOptimisticBooking(ctx, tempKey, final); err != nil {
			log.Printf("institutional: replace of %s failed, invalidating: %v", tempKey, err)
			if ierr := m.deps.Cache.InvalidateAllBookings(ctx); ierr != nil {
				log.Printf("institutional: invalidate all failed: %v", ierr)
			}
			if ierr := m.deps.Cache.InvalidateLab(ctx, labID); ierr != nil {
				log.Printf("institutional: invalidate lab %s failed: %v", labID, ierr)
			}
			if ierr := m.deps.Cache.InvalidateUser(ctx, userAddress); ierr != nil {
				log.Printf("institutional: invalidate user %s failed: %v", userAddress, ierr)
			}
		}
		m.deps.Bus.Publish(events.Signal{Name: events.SignalOnChainRequested, ReservationKey: final.ReservationKey})
		m.deps.Reconciler.Arm("institutional-create", final.ReservationKey, queryKeys(labID, userAddress))
		m.deps.observeFlow(ctx, labID, userAddress)

	case model.ExecStatusFailed, model.ExecStatusRejected:
		reason := st.Error
		if reason == "" {
			reason = "intent " + st.Status
		}
		status := st.Status
		if err := m.deps.Cache.SmartInvalidation(ctx, userAddress, labID, cache.Patch{
			Note:         &reason,
			IntentStatus: &status,
		}.Apply(model.Booking{ReservationKey: tempKey, LabID: labID, UserAddress: userAddress, Status: model.StatusRequested}), "update"); err != nil {
			log.Printf("institutional: failure annotation for %s failed: %v", tempKey, err)
		}
	}
}

// CancelReservation cancels a pending request through an action intent.
func (m *institutionalMutator) CancelReservation(ctx context.Context, reservationKey, userAddress string) error {
	return m.cancel(ctx, model.ActionCancelRequest, "institutional-cancel-request", reservationKey, userAddress)
}

// CancelBooking cancels a confirmed booking through an action intent.
func (m *institutionalMutator) CancelBooking(ctx context.Context, reservationKey, userAddress string) error {
	return m.cancel(ctx, model.ActionCancelBooking, "institutional-cancel-booking", reservationKey, userAddress)
}

func (m *institutionalMutator) cancel(ctx context.Context, action, category, reservationKey, userAddress string) error {
	if reservationKey == "" {
		return errs.Validation("reservation key is required")
	}
	if !m.capable() {
		return errs.Validation("no credential-capable environment available for institutional authorization")
	}

	labID := ""
	if b, ok, err := m.deps.Cache.Get(ctx, reservationKey); err == nil && ok {
		labID = b.LabID
	}

	auth, err := m.deps.Intents.AuthorizeAction(ctx, model.PrepareAction{
		Action:         action,
		ReservationKey: reservationKey,
		UserAddress:    userAddress,
	})
	if err != nil {
		return err
	}

	cancelling := model.StatusCancelRequested
	if uerr := m.deps.Cache.UpdateBooking(ctx, reservationKey, cache.Patch{
		Status:          &cancelling,
		IntentRequestID: &auth.RequestID,
	}); uerr != nil {
		log.Printf("institutional: cancel patch for %s failed: %v", reservationKey, uerr)
	}

	// Cancellation success is defined by the chain; the reconciler waits
	// for the confirming event while the poll tracks the intent itself.
	go m.trackCancel(reservationKey, labID, userAddress, auth.RequestID)
	m.deps.Reconciler.Arm(category, reservationKey, queryKeys(labID, userAddress))
	return nil
}

func (m *institutionalMutator) trackCancel(reservationKey, labID, userAddress, requestID string) {
	ctx := m.pollCtx
	st, err := m.deps.Intents.PollExecution(ctx, requestID)
	if err != nil {
		log.Printf("institutional: cancel poll for %s failed, invalidating: %v", requestID, err)
		if ierr := m.deps.Cache.InvalidateAllBookings(ctx); ierr != nil {
			log.Printf("institutional: invalidate all failed: %v", ierr)
		}
		return
	}
	if st.Status == model.ExecStatusExecuted {
		m.deps.Bus.Publish(events.Signal{Name: events.SignalOnChainRequested, ReservationKey: reservationKey})
		return
	}
	reason := st.Error
	if reason == "" {
		reason = "cancel intent " + st.Status
	}
	status := st.Status
	if uerr := m.deps.Cache.UpdateBooking(ctx, reservationKey, cache.Patch{Note: &reason, IntentStatus: &status}); uerr != nil {
		log.Printf("institutional: cancel annotation for %s failed: %v", reservationKey, uerr)
	}
}

// RequestFunds asks the backend to top up the user's derived wallet. No
// cache writes; there is no booking to project.
func (m *institutionalMutator) RequestFunds(ctx context.Context, userAddress, amount string) error {
	if !m.capable() {
		return errs.Validation("no credential-capable environment available for institutional authorization")
	}
	auth, err := m.deps.Intents.AuthorizeAction(ctx, model.PrepareAction{
		Action:      model.ActionRequestFunds,
		UserAddress: userAddress,
		Amount:      amount,
	})
	if err != nil {
		return err
	}
	go func() {
		st, err := m.deps.Intents.PollExecution(m.pollCtx, auth.RequestID)
		if err != nil {
			log.Printf("institutional: funds poll for %s failed: %v", auth.RequestID, err)
			return
		}
		log.Printf("institutional: funds request %s ended %s", auth.RequestID, st.Status)
	}()
	return nil
}

// Close aborts every detached execution poll.
func (m *institutionalMutator) Close() {
	m.cancelPoll()
}
