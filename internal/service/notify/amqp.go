package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/nkiryanov/storefront/internal/logger"
)

const defaultQueueName = "auth.events"

type AMQPConfig struct {
	URL string

	// Durable queue to publish to, default is used if empty
	Queue string
}

// Publishes events as persistent JSON messages to durable queue with default exchange
// Connection is dialed for every event: events are rare
type AMQPNotifier struct {
	url   string
	queue string
	log   logger.Logger
}

func NewAMQPNotifier(cfg AMQPConfig, log logger.Logger) (*AMQPNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("amqp url must not be empty")
	}
	if cfg.Queue == "" {
		cfg.Queue = defaultQueueName
	}

	return &AMQPNotifier{
		url:   cfg.URL,
		queue: cfg.Queue,
		log:   log.With("component", "amqp-notifier", "queue", cfg.Queue),
	}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event failed: %w", err)
	}

	conn, err := amqp.Dial(n.url)
	if err != nil {
		n.log.Error("Broker dial failed", "error", err)
		return fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close() // nolint:errcheck

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open failed: %w", err)
	}
	defer ch.Close() // nolint:errcheck

	_, err = ch.QueueDeclare(
		n.queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("queue declare failed: %w", err)
	}

	err = ch.PublishWithContext(ctx,
		"",      // default exchange
		n.queue, // routing key = queue name
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Type:         event.Type,
			Body:         body,
		},
	)
	if err != nil {
		n.log.Error("Publish failed", "type", event.Type, "error", err)
		return fmt.Errorf("publish failed: %w", err)
	}

	n.log.Debug("Event published", "type", event.Type, "user_id", event.UserID)
	return nil
}
