// README: RabbitMQ connection with bounded reconnect attempts.
package infra

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const amqpDialAttempts = 5

// DialAMQP retries with exponential backoff until the broker answers, the
// attempts run out or ctx is cancelled.
func DialAMQP(ctx context.Context, url string, log *slog.Logger) (*amqp.Connection, error) {
	wait := time.Second
	var err error
	for i := 1; i <= amqpDialAttempts; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			log.Info("connected to RabbitMQ")
			return conn, nil
		}
		log.Warn("RabbitMQ dial failed", "attempt", i, "error", err)
		if i == amqpDialAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return nil, fmt.Errorf("connect to RabbitMQ after %d attempts: %w", amqpDialAttempts, err)
}
