package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
)

func TestMachineHappyPath(t *testing.T) {
	m := New(true, 60, nil)
	assert.Equal(t, StageIdle, m.Stage())

	m.StartProcessing()
	assert.Equal(t, StageProcessing, m.Stage())

	m.RequestSent(model.PendingRequest{LabID: "1", Start: 1000, End: 2000})
	assert.Equal(t, StageRequestSent, m.Stage())

	m.Observe([]model.Booking{{LabID: "1", StartTime: 1000, Status: model.StatusPending}})
	assert.Equal(t, StageRequestRegistered, m.Stage())

	m.Observe([]model.Booking{{LabID: "1", StartTime: 1000, Status: model.StatusConfirmed}})
	assert.Equal(t, StageIdle, m.Stage())
	_, ok := m.Pending()
	assert.False(t, ok)
}

func TestMachineStageIsMonotonic(t *testing.T) {
	m := New(true, 60, nil)
	m.StartProcessing()
	m.RequestSent(model.PendingRequest{LabID: "1", Start: 1000})
	m.Observe([]model.Booking{{LabID: "1", StartTime: 1000, Status: model.StatusRequested}})
	assert.Equal(t, StageRequestRegistered, m.Stage())

	// A later observation of the same non-terminal booking must not
	// regress the stage.
	m.Observe([]model.Booking{{LabID: "1", StartTime: 1000, Status: model.StatusPending}})
	assert.Equal(t, StageRequestRegistered, m.Stage())
}

func TestMachineIgnoresRequestSentFromIdle(t *testing.T) {
	m := New(true, 60, nil)
	m.RequestSent(model.PendingRequest{LabID: "1", Start: 1000})
	assert.Equal(t, StageIdle, m.Stage())
	_, ok := m.Pending()
	assert.False(t, ok)
}

func TestMachineDisabledIgnoresEverything(t *testing.T) {
	m := New(false, 60, nil)
	m.StartProcessing()
	m.RequestSent(model.PendingRequest{LabID: "1", Start: 1000})
	m.Observe([]model.Booking{{LabID: "1", StartTime: 1000, Status: model.StatusPending}})
	assert.Equal(t, StageIdle, m.Stage())
}

func TestMachineResetsOnDenialSignal(t *testing.T) {
	bus := events.NewMemoryBus()
	m := New(true, 60, bus)
	defer m.Close()

	m.StartProcessing()
	m.RequestSent(model.PendingRequest{LabID: "1", Start: 1000})
	m.Observe([]model.Booking{{LabID: "1", StartTime: 1000, Status: model.StatusRequested}})
	assert.Equal(t, StageRequestRegistered, m.Stage())

	bus.Publish(events.Signal{Name: events.SignalDenied, ReservationKey: "10"})
	assert.Equal(t, StageIdle, m.Stage())
}

func TestMachineCloseDropsSubscription(t *testing.T) {
	bus := events.NewMemoryBus()
	m := New(true, 60, bus)
	m.StartProcessing()
	m.Close()

	bus.Publish(events.Signal{Name: events.SignalDenied})
	assert.Equal(t, StageProcessing, m.Stage())
}

func TestFindTrackedBookingByKey(t *testing.T) {
	req := model.PendingRequest{ReservationKey: "42", LabID: "1", Start: 1000}
	candidates := []model.Booking{
		{ReservationKey: "41", LabID: "1", StartTime: 1000},
		{ReservationKey: "42", LabID: "9", StartTime: 999999},
	}
	b, ok := FindTrackedBooking(candidates, req, 60)
	assert.True(t, ok)
	assert.Equal(t, "42", b.ReservationKey, "key match wins over tolerance match")
}

func TestFindTrackedBookingTolerance(t *testing.T) {
	req := model.PendingRequest{LabID: "1", Start: 1000}

	// 30 seconds of drift is inside the window.
	b, ok := FindTrackedBooking([]model.Booking{{ReservationKey: "a", LabID: "1", StartTime: 1030}}, req, 60)
	assert.True(t, ok)
	assert.Equal(t, "a", b.ReservationKey)

	// Exactly at the boundary still matches.
	_, ok = FindTrackedBooking([]model.Booking{{LabID: "1", StartTime: 1060}}, req, 60)
	assert.True(t, ok)

	// 120 seconds is outside.
	_, ok = FindTrackedBooking([]model.Booking{{LabID: "1", StartTime: 1120}}, req, 60)
	assert.False(t, ok)

	// Same drift, wrong lab.
	_, ok = FindTrackedBooking([]model.Booking{{LabID: "2", StartTime: 1030}}, req, 60)
	assert.False(t, ok)

	// Zero start time never tolerance-matches.
	_, ok = FindTrackedBooking([]model.Booking{{LabID: "1", StartTime: 0}}, req, 60)
	assert.False(t, ok)
}

func TestFindTrackedBookingFirstMatchWins(t *testing.T) {
	req := model.PendingRequest{LabID: "1", Start: 1000}
	candidates := []model.Booking{
		{ReservationKey: "first", LabID: "1", StartTime: 1010},
		{ReservationKey: "second", LabID: "1", StartTime: 1000},
	}
	b, ok := FindTrackedBooking(candidates, req, 60)
	assert.True(t, ok)
	assert.Equal(t, "first", b.ReservationKey)
}
