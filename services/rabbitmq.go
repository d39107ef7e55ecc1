package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"socialfeed/config"
	"socialfeed/logging"

	amqp "github.com/rabbitmq/amqp091-go"
)

const notificationBindingKey = "notification.*"

// RabbitMQ publishes domain events to a topic exchange and consumes them into
// an EventHandler.
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	queue    string
	mu       sync.Mutex
}

var _ EventPublisher = (*RabbitMQ)(nil)

// NewRabbitMQ connects and declares the topic exchange.
func NewRabbitMQ(conf config.RabbitMQConfig) (*RabbitMQ, error) {
	conn, err := amqp.Dial(conf.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		conf.Exchange,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // args
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &RabbitMQ{conn: conn, channel: ch, exchange: conf.Exchange, queue: conf.Queue}, nil
}

func encodeEvent(event Event) (amqp.Publishing, error) {
	if err := event.Validate(); err != nil {
		return amqp.Publishing{}, err
	}
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Kind),
		Body:         body,
	}, nil
}

func decodeEvent(body []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	return event, event.Validate()
}

func (r *RabbitMQ) Publish(ctx context.Context, event Event) error {
	msg, err := encodeEvent(event)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channel.PublishWithContext(ctx,
		r.exchange,
		event.RoutingKey(),
		false, // mandatory
		false, // immediate
		msg,
	)
}

// Consume binds the queue to notification.* and feeds deliveries to handler
// until ctx is cancelled or the channel closes.
func (r *RabbitMQ) Consume(ctx context.Context, handler EventHandler) error {
	q, err := r.channel.QueueDeclare(
		r.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := r.channel.QueueBind(q.Name, notificationBindingKey, r.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}
	msgs, err := r.channel.Consume(
		q.Name,
		"",
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	logger := logging.Ctx(ctx).With().Str("queue", q.Name).Logger()
	logger.Info().Msg("notification consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			event, err := decodeEvent(msg.Body)
			if err != nil {
				logger.Warn().Err(err).Msg("dropping malformed event")
				_ = msg.Nack(false, false)
				continue
			}
			if err := handler.Handle(ctx, event); err != nil {
				logger.Error().Err(err).Str("event", string(event.Kind)).Msg("failed to handle event")
				_ = msg.Nack(false, !msg.Redelivered)
				continue
			}
			_ = msg.Ack(false)
		}
	}
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}
