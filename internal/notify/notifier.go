/**
 * @description
 * This package defines the Notifier contract and its RabbitMQ-backed
 * implementation. The settlement core calls Deliver at most once per terminal
 * transition; the bot front-ends consume the published events and edit or
 * send the originating chat message. Delivery is best-effort: a failed
 * publish is logged and never rolls back a completed settlement, because the
 * chain-side effect is the source of truth.
 *
 * @dependencies
 * - github.com/google/uuid: Event correlation ids.
 * - pkg/rabbitmq: The AMQP producer.
 */

package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/nimtipbot/settlement-service/internal/domain"
	"github.com/nimtipbot/settlement-service/pkg/rabbitmq"
)

// Notifier delivers a human-readable settlement result back to the chat
// surface that originated a request. ProofRef optionally carries a chain
// transaction reference for success messages.
type Notifier interface {
	Deliver(ctx context.Context, target domain.ReplyTarget, message string, proofRef string) error
}

// ReplyEvent is the payload published for the chat front-ends.
type ReplyEvent struct {
	EventID   uuid.UUID          `json:"event_id"`
	Target    domain.ReplyTarget `json:"target"`
	Message   string             `json:"message"`
	ProofRef  string             `json:"proof_ref,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// AMQPNotifier publishes reply events to a topic exchange, routed by
// platform so each front-end only consumes its own replies.
type AMQPNotifier struct {
	producer rabbitmq.Publisher
	exchange string
}

// NewAMQPNotifier creates a notifier that publishes through the given producer.
func NewAMQPNotifier(producer rabbitmq.Publisher, exchange string) *AMQPNotifier {
	return &AMQPNotifier{producer: producer, exchange: exchange}
}

// Deliver publishes one reply event. Errors are returned for logging only;
// callers must treat delivery as best-effort.
func (n *AMQPNotifier) Deliver(ctx context.Context, target domain.ReplyTarget, message string, proofRef string) error {
	event := ReplyEvent{
		EventID:   uuid.New(),
		Target:    target,
		Message:   message,
		ProofRef:  proofRef,
		Timestamp: time.Now().UTC(),
	}
	routingKey := fmt.Sprintf("tipbot.reply.%s", target.Platform)
	if err := n.producer.Publish(ctx, n.exchange, routingKey, event); err != nil {
		log.Printf("level=error component=notifier msg=\"reply publish failed\" platform=%s routing_key=%s err=%v", target.Platform, routingKey, err)
		return err
	}
	return nil
}

// LogNotifier is a fallback used when the message broker is unavailable at
// startup; replies are logged instead of delivered.
type LogNotifier struct{}

// Deliver logs the reply that would have been sent.
func (LogNotifier) Deliver(_ context.Context, target domain.ReplyTarget, message string, proofRef string) error {
	log.Printf("level=warn component=notifier mode=fallback msg=\"reply not delivered\" platform=%s message=%q proof_ref=%s", target.Platform, message, proofRef)
	return nil
}
