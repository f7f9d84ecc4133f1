// Package service bridges broker-delivered chain events into the engine:
// each event becomes a cache upsert, a journal row and an in-process bus
// signal, and the flow machines get a fresh look at the collections they
// watch. This is the path by which the chain, the third source of truth,
// converges the optimistic and intent views.
package service

import (
	"context"
	"log"
	"time"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/cache"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/events"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/flow"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/projection"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/queue"
	"github.com/DecentraLabsCom/lab-reservation-engine/internal/repository"
)

// ChainBridge implements queue.EventSink.
type ChainBridge struct {
	Cache      *cache.BookingCache
	Bus        events.Bus
	Journal    *repository.JournalRepo // optional
	WalletFlow *flow.Machine
	InstFlow   *flow.Machine
}

// HandleChainEvent applies one indexer event. Cache failures degrade to
// scoped invalidation inside SmartInvalidation; only a completely broken
// store surfaces, which makes the consumer reject and redeliver.
func (b *ChainBridge) HandleChainEvent(ctx context.Context, ev queue.ChainBookingEvent) error {
	signal, status := classify(ev.Kind)
	if signal == "" {
		log.Printf("chain-bridge: ignoring unknown event kind %q for %s", ev.Kind, ev.ReservationKey)
		return nil
	}

	if ev.Kind == queue.ChainBookingDenied {
		if err := b.Cache.SmartInvalidation(ctx, ev.UserAddress, ev.LabID,
			model.Booking{ReservationKey: ev.ReservationKey, UserAddress: ev.UserAddress, LabID: ev.LabID},
			"remove"); err != nil {
			return err
		}
	} else {
		booking := projection.Normalize(projection.Input{
			ReservationKey:  ev.ReservationKey,
			LabID:           ev.LabID,
			UserAddress:     ev.UserAddress,
			Start:           ev.Start,
			End:             ev.End,
			Status:          string(status),
			TransactionHash: ev.TxHash,
			Note:            ev.Reason,
		})
		booking.IsOptimistic = false
		booking.IsPending = false
		if err := b.Cache.SmartInvalidation(ctx, ev.UserAddress, ev.LabID, booking, "add"); err != nil {
			return err
		}
	}

	if b.Journal != nil {
		entry := repository.JournalEntry{
			ReservationKey: ev.ReservationKey,
			LabID:          ev.LabID,
			UserAddress:    ev.UserAddress,
			Status:         string(status),
			TxHash:         ev.TxHash,
			Note:           ev.Reason,
			ObservedAt:     observedAt(ev.ObservedAt),
		}
		if err := b.Journal.Insert(ctx, entry); err != nil {
			// Audit only; the display path must not stall on it.
			log.Printf("chain-bridge: journal insert for %s failed: %v", ev.ReservationKey, err)
		}
	}

	b.Bus.Publish(events.Signal{Name: signal, ReservationKey: ev.ReservationKey, Note: ev.Reason})
	b.observeFlows(ctx, ev.UserAddress, ev.LabID)
	return nil
}

// classify maps an event kind to its bus signal and booking status. Denied
// events have no booking status; the entry is removed instead.
func classify(kind string) (signal string, status model.Status) {
	switch kind {
	case queue.ChainBookingConfirmed:
		return events.SignalConfirmed, model.StatusConfirmed
	case queue.ChainBookingCancelled:
		return events.SignalCancelled, model.StatusCancelled
	case queue.ChainBookingDenied:
		return events.SignalDenied, ""
	}
	return "", ""
}

// observeFlows hands the combined user+lab collections to both flow
// machines; each decides on its own whether the contents move it.
func (b *ChainBridge) observeFlows(ctx context.Context, userAddress, labID string) {
	byUser, err := b.Cache.ByUser(ctx, userAddress)
	if err != nil {
		log.Printf("chain-bridge: list by user failed: %v", err)
	}
	byLab, err := b.Cache.ByLab(ctx, labID)
	if err != nil {
		log.Printf("chain-bridge: list by lab failed: %v", err)
	}
	combined := append(byUser, byLab...)
	if b.WalletFlow != nil {
		b.WalletFlow.Observe(combined)
	}
	if b.InstFlow != nil {
		b.InstFlow.Observe(combined)
	}
}

func observedAt(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now().UTC()
}
