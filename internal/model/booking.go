// Package model defines the entities shared across the reservation engine.
package model

// Status is the closed vocabulary of booking lifecycle states. The first
// block mirrors what the chain and the backend report; the second block is
// client-only and appears exclusively on optimistic entries while a
// mutation is in flight.
type Status string

const (
	StatusRequested Status = "requested"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusInUse     Status = "in_use"
	StatusCompleted Status = "completed"
	StatusCollected Status = "collected"
	StatusCancelled Status = "cancelled"

	// Client-only transients, never observed from a server source.
	StatusRequesting      Status = "requesting"
	StatusCancelling      Status = "cancelling"
	StatusCancelRequested Status = "cancel-requested"
)

// Known reports whether s belongs to the closed vocabulary.
func (s Status) Known() bool {
	switch s {
	case StatusRequested, StatusPending, StatusConfirmed, StatusInUse,
		StatusCompleted, StatusCollected, StatusCancelled,
		StatusRequesting, StatusCancelling, StatusCancelRequested:
		return true
	}
	return false
}

// Terminal reports whether s ends a reservation request from the client's
// point of view: once a tracked booking reaches one of these, the flow
// machine clears its pending request.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusInUse, StatusCompleted, StatusCollected, StatusCancelled:
		return true
	}
	return false
}

// Category buckets the fine-grained status into the coarse groups the UI
// filters on.
func (s Status) Category() string {
	switch s {
	case StatusRequested, StatusPending, StatusRequesting:
		return "pending"
	case StatusConfirmed, StatusInUse:
		return "active"
	case StatusCompleted, StatusCollected:
		return "done"
	case StatusCancelled, StatusCancelling, StatusCancelRequested:
		return "cancelled"
	}
	return "pending"
}

// Booking is the canonical client-visible reservation record. All chain
// integers (reservation key, lab id, timestamps, transaction id) are carried
// as decimal strings; StartTime/EndTime duplicate Start/End as best-effort
// epoch seconds for arithmetic such as tolerance matching.
type Booking struct {
	ReservationKey  string `json:"reservationKey"`
	LabID           string `json:"labId"`
	UserAddress     string `json:"userAddress"`
	Start           string `json:"start"`
	End             string `json:"end"`
	StartTime       int64  `json:"startTime"`
	EndTime         int64  `json:"endTime"`
	Status          Status `json:"status"`
	StatusCategory  string `json:"statusCategory"`
	IsOptimistic    bool   `json:"isOptimistic"`
	IsPending       bool   `json:"isPending"`
	TransactionHash string `json:"transactionHash,omitempty"`
	IntentRequestID string `json:"intentRequestId,omitempty"`
	IntentStatus    string `json:"intentStatus,omitempty"`
	Note            string `json:"note,omitempty"`
	Date            string `json:"date,omitempty"`
	Timestamp       string `json:"timestamp"`
}

// PendingRequest is the ephemeral record a flow machine holds while a
// reservation request is outstanding. ReservationKey may be empty until the
// chain assigns one; until then identity is (LabID, Start) within a
// tolerance window.
type PendingRequest struct {
	ReservationKey string
	LabID          string
	Start          int64
	End            int64
}
