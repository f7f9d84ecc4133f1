// Package ledger defines the wallet-facing write interface. The engine
// never talks to a chain directly: the wallet layer (an external
// collaborator owning signing and transport) implements Writer, and the
// engine only sees an ordered argument tuple going in and a transaction
// identifier coming out. Arguments and results are decimal strings, the
// canonical representation everywhere in this module.
package ledger

import "context"

// Methods the engine invokes on the reservation contract.
const (
	MethodReserve       = "reserve"
	MethodCancelRequest = "cancelReservationRequest"
	MethodCancelBooking = "cancelBooking"
)

// Writer submits one contract write and resolves to its transaction id.
// The returned identifier may be a 0x-prefixed hash or a decimal string;
// callers normalize it before display. Errors are surfaced verbatim to the
// user, so implementations should return the wallet's own error.
type Writer interface {
	Write(ctx context.Context, method string, args []string) (txID string, err error)
}

// WriterFunc adapts a function to the Writer interface.
type WriterFunc func(ctx context.Context, method string, args []string) (string, error)

// Write implements Writer.
func (f WriterFunc) Write(ctx context.Context, method string, args []string) (string, error) {
	return f(ctx, method, args)
}
