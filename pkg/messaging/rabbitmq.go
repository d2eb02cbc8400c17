package messaging

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/brightcampus/schoolcore/pkg/config"
	"github.com/brightcampus/schoolcore/pkg/logger"
)

// deadLetterExchange receives deliveries that consumers rejected past the
// retry limit. Every queue declared through DeclareQueue dead-letters here.
const deadLetterExchange = "events.dlx"

// RabbitMQ owns one connection and one channel to the broker. The server
// runs a single process, so one channel with a prefetch window is enough;
// publishers and consumers share it through the accessor methods.
type RabbitMQ struct {
	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	config  *config.RabbitMQConfig
	logger  *logger.Logger
	closed  bool
}

// New dials the broker and opens the shared channel. Callers treat a nil
// return plus error as "broker down" and keep the server running degraded.
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	rmq := &RabbitMQ{config: cfg, logger: log}
	if err := rmq.connect(); err != nil {
		return nil, err
	}
	return rmq, nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("set qos: %w", err)
	}

	r.conn = conn
	r.channel = ch
	r.logger.Info().Str("component", "messaging").Msg("connected to rabbitmq")
	return nil
}

// Channel returns the shared channel.
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close tears the connection down permanently; Reconnect refuses afterwards.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("channel close failed")
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close connection: %w", err)
		}
	}
	r.logger.Info().Str("component", "messaging").Msg("rabbitmq connection closed")
	return nil
}

// Up reports whether the connection is currently usable. Readiness checks
// call this; a false value downgrades health to degraded, never down.
func (r *RabbitMQ) Up() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn != nil && !r.conn.IsClosed()
}

// DeclareExchange declares a durable topic exchange.
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.Channel().ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// DeclareQueue declares a durable queue wired to the shared dead-letter
// exchange. The DLX and its catch-all queue are declared first so rejected
// deliveries have somewhere to land from the very first message.
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	if err := r.declareDeadLetter(name); err != nil {
		return amqp.Queue{}, err
	}
	return r.Channel().QueueDeclare(name, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": deadLetterExchange,
	})
}

func (r *RabbitMQ) declareDeadLetter(queueName string) error {
	ch := r.Channel()
	if err := ch.ExchangeDeclare(deadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	dlq := "dlq." + queueName
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, "#", deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", dlq, err)
	}
	return nil
}

// BindQueue binds a queue to an exchange under a routing-key pattern.
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	return r.Channel().QueueBind(queueName, routingKey, exchange, false, nil)
}

// Reconnect re-dials after a dropped connection, up to MaxRetries attempts
// spaced ReconnectDelay apart. A closed instance stays closed.
func (r *RabbitMQ) Reconnect(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("connection is permanently closed")
	}

	for attempt := 1; attempt <= r.config.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		r.logger.Info().Int("attempt", attempt).Msg("reconnecting to rabbitmq")
		if err := r.connect(); err != nil {
			r.logger.Warn().Err(err).Msg("reconnect attempt failed")
			time.Sleep(r.config.ReconnectDelay)
			continue
		}
		return nil
	}
	return fmt.Errorf("reconnect gave up after %d attempts", r.config.MaxRetries)
}
