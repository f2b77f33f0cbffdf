// README: AMQP publisher for ride status events and payment requests.
package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ridedispatch/internal/modules/ride"
	"ridedispatch/internal/types"
)

const paymentRoutingKey = "payment.requested"

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher publishes to a topic exchange. Status events use the
// routing key ride.status.<status>.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       amqpChannel
	exchange string
	log      *slog.Logger
}

// NewAMQPPublisher opens a channel on conn and declares the exchange.
func NewAMQPPublisher(conn *amqp.Connection, exchange string, log *slog.Logger) (*AMQPPublisher, *amqp.Channel, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return newAMQPPublisher(ch, exchange, log), ch, nil
}

func newAMQPPublisher(ch amqpChannel, exchange string, log *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{ch: ch, exchange: exchange, log: log.With("component", "amqp")}
}

func StatusRoutingKey(s ride.Status) string {
	return "ride.status." + string(s)
}

func (p *AMQPPublisher) RideTransition(ctx context.Context, e ride.Event) error {
	return p.publish(ctx, StatusRoutingKey(e.To), string(e.RideID), NewStatusMessage(e))
}

func (p *AMQPPublisher) RideCompleted(ctx context.Context, rideID types.ID, price types.Money) error {
	return p.publish(ctx, paymentRoutingKey, string(rideID), NewPaymentMessage(rideID, price, time.Now().UTC()))
}

func (p *AMQPPublisher) publish(ctx context.Context, key, correlationID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s message: %w", key, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(
		ctx,
		p.exchange,
		key,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			CorrelationId: correlationID,
			Timestamp:     time.Now(),
			Body:          body,
		},
	); err != nil {
		return fmt.Errorf("failed to publish %s: %w", key, err)
	}
	p.log.Debug("message published", "routing_key", key, "ride_id", correlationID)
	return nil
}
