package queue

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/DecentraLabsCom/lab-reservation-engine/internal/model"
)

// Publisher announces submitted reservations on the broker. It implements
// engine.SubmittedPublisher. Errors are logged and returned so the caller
// can ignore them without interrupting the mutation; a lost announcement
// only delays downstream notification.
type Publisher struct {
	URL string
}

// NewPublisher builds a Publisher for the resolved broker URL.
func NewPublisher() *Publisher { return &Publisher{URL: BrokerURL()} }

// PublishSubmitted publishes a SubmittedEvent for b to the submitted
// queue. Messages are marked persistent. The connection is per publish:
// submissions are rare enough that holding a channel open buys nothing.
func (p *Publisher) PublishSubmitted(ctx context.Context, b model.Booking) error {
	conn, err := amqp.Dial(p.URL)
	if err != nil {
		log.Printf("rabbitmq: dial failed: %v", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Printf("rabbitmq: channel open failed: %v", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	// Idempotent declare; durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(SubmittedQueueName, true, false, false, false, nil); err != nil {
		log.Printf("rabbitmq: queue declare failed: %v", err)
		return err
	}

	body, err := json.Marshal(SubmittedEvent{
		ReservationKey:  b.ReservationKey,
		LabID:           b.LabID,
		UserAddress:     b.UserAddress,
		Start:           b.Start,
		End:             b.End,
		TransactionHash: b.TransactionHash,
		SubmittedAt:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		log.Printf("rabbitmq: marshal event failed: %v", err)
		return err
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", SubmittedQueueName, false, false, pub); err != nil {
		log.Printf("rabbitmq: publish failed: %v", err)
		return err
	}
	return nil
}
