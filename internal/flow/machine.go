// Package flow tracks the client-visible lifecycle stage of one
// reservation path. Two machines exist side by side, one for the wallet
// path and one for the institutional path, each watching its own booking
// collections; only the machine for the selected path is enabled and a
// disabled machine ignores every call.
package flow

import (
	"sync"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
)

// Stage of a reservation flow.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageProcessing        Stage = "processing"
	StageRequestSent       Stage = "request_sent"
	StageRequestRegistered Stage = "request_registered"
)

// Machine is one per-path flow state machine. It owns its pending request
// and nothing else; cache contents are handed to it via Observe rather
// than read by it, so the cache stays single-owner.
type Machine struct {
	mu           sync.Mutex
	enabled      bool
	stage        Stage
	pending      *model.PendingRequest
	toleranceSec int64
	unsubscribe  func()
}

// New builds a Machine. toleranceSec is the matching window for bookings
// that do not share a reservation key with the pending request; bus may be
// nil, otherwise the machine resets on every denial signal. Call Close to
// drop the subscription.
func New(enabled bool, toleranceSec int64, bus events.Bus) *Machine {
	m := &Machine{enabled: enabled, stage: StageIdle, toleranceSec: toleranceSec}
	if bus != nil {
		m.unsubscribe = bus.Subscribe(events.SignalDenied, func(events.Signal) {
			m.Reset()
		})
	}
	return m
}

// Close drops the denial subscription.
func (m *Machine) Close() {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
}

// Stage returns the current stage.
func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Pending returns a copy of the pending request, if any.
func (m *Machine) Pending() (model.PendingRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return model.PendingRequest{}, false
	}
	return *m.pending, true
}

// StartProcessing moves idle → processing. Any other stage is unchanged.
func (m *Machine) StartProcessing() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	if m.stage == StageIdle {
		m.stage = StageProcessing
	}
}

// RequestSent records the outstanding request and moves processing or
// request_sent → request_sent. Calls from idle are ignored; a request
// cannot be outstanding before processing started.
func (m *Machine) RequestSent(req model.PendingRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled {
		return
	}
	if m.stage != StageProcessing && m.stage != StageRequestSent {
		return
	}
	cp := req
	m.pending = &cp
	m.stage = StageRequestSent
}

// Observe matches the watched booking collections against the pending
// request and transitions accordingly: a tracked booking in requested or
// pending promotes request_sent → request_registered, and a tracked booking
// in a terminal status clears the request and returns the machine to idle.
// The stage never regresses from request_registered to request_sent while
// the same request is active.
func (m *Machine) Observe(bookings []model.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.enabled || m.stage == StageIdle || m.pending == nil {
		return
	}
	b, ok := FindTrackedBooking(bookings, *m.pending, m.toleranceSec)
	if !ok {
		return
	}
	if b.Status.Terminal() {
		m.pending = nil
		m.stage = StageIdle
		return
	}
	if (b.Status == model.StatusRequested || b.Status == model.StatusPending) && m.stage == StageRequestSent {
		m.stage = StageRequestRegistered
	}
}

// Reset clears the pending request and returns to idle, regardless of the
// current stage. Used on terminal outcomes, explicit cancellation and the
// denial signal.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	m.stage = StageIdle
}

// FindTrackedBooking scans candidates for the booking belonging to req. A
// candidate matches on equal reservation key or, when no key match is
// possible, on exact lab id plus a start-time delta within toleranceSec.
// The first match wins; there is no scoring. The tolerance exists because
// the true reservation key is often unknown until the chain assigns one and
// indexed timestamps can drift a few seconds from what the client sent.
func FindTrackedBooking(candidates []model.Booking, req model.PendingRequest, toleranceSec int64) (model.Booking, bool) {
	for _, b := range candidates {
		if req.ReservationKey != "" && b.ReservationKey == req.ReservationKey {
			return b, true
		}
		if b.LabID != req.LabID || b.StartTime == 0 {
			continue
		}
		delta := b.StartTime - req.Start
		if delta < 0 {
			delta = -delta
		}
		if delta <= toleranceSec {
			return b, true
		}
	}
	return model.Booking{}, false
}
