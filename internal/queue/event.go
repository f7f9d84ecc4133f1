// Package queue defines the message payloads exchanged over the broker and
// the consumer that feeds chain confirmations into the engine.
package queue

// Broker queue names.
const (
	ChainQueueName     = "lab.booking.chain"
	SubmittedQueueName = "lab.reservation.submitted"
)

// Chain event kinds published by the indexer.
const (
	ChainBookingConfirmed = "BOOKING_CONFIRMED"
	ChainBookingCancelled = "BOOKING_CANCELLED"
	ChainBookingDenied    = "BOOKING_DENIED"
)

// ChainBookingEvent is the indexer's view of a reservation reaching a
// terminal (or denied) state on chain. All chain integers are decimal
// strings on the wire.
type ChainBookingEvent struct {
	Kind           string `json:"kind"`
	ReservationKey string `json:"reservationKey"`
	LabID          string `json:"labId"`
	UserAddress    string `json:"userAddress"`
	Start          string `json:"start"`
	End            string `json:"end"`
	TxHash         string `json:"txHash,omitempty"`
	Reason         string `json:"reason,omitempty"`
	ObservedAt     string `json:"observedAt"`
}

// SubmittedEvent is published after a wallet transaction goes out, for
// downstream notifiers and indexers that want to watch the pending
// transaction.
type SubmittedEvent struct {
	ReservationKey  string `json:"reservationKey"`
	LabID           string `json:"labId"`
	UserAddress     string `json:"userAddress"`
	Start           string `json:"start"`
	End             string `json:"end"`
	TransactionHash string `json:"transactionHash"`
	SubmittedAt     string `json:"submittedAt"`
}
