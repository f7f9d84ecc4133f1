// Package events defines the in-process signaling fabric of the engine.
// The two client-local signals ("request denied", "on-chain requested")
// plus the confirmation signals produced by the chain-event consumer all
// travel over an injectable Bus rather than a
// process-wide broadcast, so every component that reacts to a signal can be
// tested with a plain in-memory bus.
package events

import (
	"sort"
	"sync"
)

// Signal names. Payload is the reservation key the signal refers to; the
// denied signal may carry an empty key, which resets every active flow.
const (
	SignalDenied           = "booking.denied"
	SignalOnChainRequested = "booking.onchain_requested"
	SignalConfirmed        = "booking.confirmed"
	SignalCancelled        = "booking.cancelled"
)

// Signal is one published event.
type Signal struct {
	Name           string
	ReservationKey string
	Note           string
}

// Handler consumes a signal. Handlers must not block; anything slow should
// hand off to its own goroutine.
type Handler func(Signal)

// Bus is the pub-sub abstraction. Publish delivers to every handler
// subscribed to the signal name; Subscribe returns an unsubscribe func.
type Bus interface {
	Publish(sig Signal)
	Subscribe(name string, h Handler) (unsubscribe func())
}

// MemoryBus is the in-process Bus used in production (the broker bridge
// republishes onto it) and in tests. Delivery is synchronous and in
// subscription order.
type MemoryBus struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]Handler
}

// NewMemoryBus returns an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]Handler)}
}

// Publish delivers sig to current subscribers of sig.Name. Subscription
// ids are monotonic, so sorting them preserves subscription order.
func (b *MemoryBus) Publish(sig Signal) {
	b.mu.Lock()
	ids := make([]int, 0, len(b.subs[sig.Name]))
	for id := range b.subs[sig.Name] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.subs[sig.Name][id])
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(sig)
	}
}

// Subscribe registers h for signals named name.
func (b *MemoryBus) Subscribe(name string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[name] == nil {
		b.subs[name] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[name][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[name], id)
	}
}
