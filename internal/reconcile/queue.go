// Package reconcile implements the fallback convergence mechanism. When a
// cache patch succeeds but the final on-chain confirmation is still
// outstanding, an entry is armed here; the queue re-invalidates the entry's
// cache partitions on a schedule until a confirming signal for that
// reservation arrives on the bus or the maximum wait elapses. The queue
// owns its entry list independently of the cache and the flow machines.
package reconcile

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/retry"
)

// Invalidator re-invalidates one cache partition, identified by a query
// key such as "all", "user:<address>" or "lab:<id>".
type Invalidator func(ctx context.Context, queryKey string) error

// Entry is one armed reconciliation.
type Entry struct {
	ID             string
	Category       string
	ReservationKey string
	QueryKeys      []string
}

// Queue schedules bounded re-invalidation per entry.
type Queue struct {
	invalidate Invalidator
	policy     retry.Policy

	mu         sync.Mutex
	cancels    map[string]context.CancelFunc
	suppressed map[string]bool

	// OnTimeout is called when an entry ages out without a confirming
	// signal, unless the on-chain-requested signal already told the user
	// their transaction is on its way. Optional.
	OnTimeout func(Entry)

	unsubscribes []func()
}

// New builds a Queue. interval and maxWait bound each entry's schedule;
// both are policy values. The queue subscribes to the confirming signals
// (confirmed, cancelled, denied) to resolve entries and to the
// on-chain-requested signal to suppress redundant timeout notifications.
func New(invalidate Invalidator, bus events.Bus, interval, maxWait time.Duration) *Queue {
	q := &Queue{
		invalidate: invalidate,
		policy:     retry.Policy{Interval: interval, MaxDuration: maxWait},
		cancels:    make(map[string]context.CancelFunc),
		suppressed: make(map[string]bool),
	}
	if bus != nil {
		for _, name := range []string{events.SignalConfirmed, events.SignalCancelled, events.SignalDenied} {
			q.unsubscribes = append(q.unsubscribes, bus.Subscribe(name, func(sig events.Signal) {
				q.ResolveKey(sig.ReservationKey)
			}))
		}
		q.unsubscribes = append(q.unsubscribes, bus.Subscribe(events.SignalOnChainRequested, func(sig events.Signal) {
			q.mu.Lock()
			q.suppressed[sig.ReservationKey] = true
			q.mu.Unlock()
		}))
	}
	return q
}

// Arm registers an entry and starts its schedule. Arming an id that is
// already active is a no-op, so repeated patches for the same reservation
// do not stack schedules.
func (q *Queue) Arm(category, reservationKey string, queryKeys []string) {
	e := Entry{
		ID:             category + ":" + reservationKey,
		Category:       category,
		ReservationKey: reservationKey,
		QueryKeys:      queryKeys,
	}
	q.mu.Lock()
	if _, active := q.cancels[e.ID]; active {
		q.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	q.cancels[e.ID] = cancel
	q.mu.Unlock()

	go q.runEntry(ctx, e)
}

func (q *Queue) runEntry(ctx context.Context, e Entry) {
	err := retry.Poll(ctx, q.policy, func(ctx context.Context) (bool, error) {
		for _, key := range e.QueryKeys {
			if ierr := q.invalidate(ctx, key); ierr != nil {
				log.Printf("reconciler: invalidate %s for %s failed: %v", key, e.ID, ierr)
			}
		}
		// Never done on its own; resolution comes from outside.
		return false, nil
	})

	q.mu.Lock()
	delete(q.cancels, e.ID)
	suppressed := q.suppressed[e.ReservationKey]
	// Drop the suppression once the last entry for this key finishes;
	// keys of timed-out entries must not accumulate.
	if !q.activeLocked(e.ReservationKey) {
		delete(q.suppressed, e.ReservationKey)
	}
	q.mu.Unlock()

	if err == retry.ErrExhausted {
		log.Printf("reconciler: %s timed out without a confirming signal", e.ID)
		if q.OnTimeout != nil && !suppressed {
			q.OnTimeout(e)
		}
	}
}

// ResolveKey resolves every entry armed for reservationKey, stopping its
// schedule. Called by the bus subscriptions; also usable directly when a
// poll observed the confirmation itself.
func (q *Queue) ResolveKey(reservationKey string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for id, cancel := range q.cancels {
		if entryKeyOf(id) == reservationKey {
			cancel()
			delete(q.cancels, id)
		}
	}
	delete(q.suppressed, reservationKey)
}

// Active reports whether any entry is armed for reservationKey.
func (q *Queue) Active(reservationKey string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeLocked(reservationKey)
}

func (q *Queue) activeLocked(reservationKey string) bool {
	for id := range q.cancels {
		if entryKeyOf(id) == reservationKey {
			return true
		}
	}
	return false
}

// Close stops every schedule and drops the bus subscriptions.
func (q *Queue) Close() {
	q.mu.Lock()
	for id, cancel := range q.cancels {
		cancel()
		delete(q.cancels, id)
	}
	q.mu.Unlock()
	for _, unsub := range q.unsubscribes {
		unsub()
	}
}

// entryKeyOf strips the category prefix from an entry id.
func entryKeyOf(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[i+1:]
		}
	}
	return id
}
