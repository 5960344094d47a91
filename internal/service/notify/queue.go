package notify

import (
	"context"
	"errors"
	"time"

	"github.com/nkiryanov/storefront/internal/logger"
)

const (
	defaultQueueSize       = 256
	defaultDeliveryTimeout = 10 * time.Second
)

var ErrQueueFull = errors.New("notification queue is full")

type QueueConfig struct {
	// Events waiting for delivery, default is used if zero
	Size int

	// Limit for a single delivery, default is used if zero
	DeliveryTimeout time.Duration
}

// Queue hands events to the wrapped notifier in background
// Request handlers never wait for the broker
type Queue struct {
	next    Notifier
	events  chan Event
	timeout time.Duration
	logger  logger.Logger
}

func NewQueue(cfg QueueConfig, next Notifier, log logger.Logger) *Queue {
	if cfg.Size <= 0 {
		cfg.Size = defaultQueueSize
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = defaultDeliveryTimeout
	}

	return &Queue{
		next:    next,
		events:  make(chan Event, cfg.Size),
		timeout: cfg.DeliveryTimeout,
		logger:  log.With("component", "notify-queue"),
	}
}

// Notify never blocks; the event is dropped with ErrQueueFull when the queue is full
func (q *Queue) Notify(_ context.Context, event Event) error {
	select {
	case q.events <- event:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start delivering in background until context is cancelled
// Events queued by then are delivered before the returned channel is closed
func (q *Queue) Start(ctx context.Context) <-chan struct{} {
	stopped := make(chan struct{})
	q.logger.Debug("Starting notify queue", "size", cap(q.events))

	go func() {
		defer close(stopped)

		for {
			select {
			case <-ctx.Done():
				q.drain(ctx)
				q.logger.Debug("Notify queue stopped by context")
				return

			case event := <-q.events:
				q.deliver(ctx, event)
			}
		}
	}()

	return stopped
}

func (q *Queue) drain(ctx context.Context) {
	for {
		select {
		case event := <-q.events:
			q.deliver(ctx, event)
		default:
			return
		}
	}
}

// Delivery outlives cancellation of ctx, the timeout bounds it
func (q *Queue) deliver(ctx context.Context, event Event) {
	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
	defer cancel()

	if err := q.next.Notify(deliverCtx, event); err != nil {
		q.logger.Error("Failed to deliver event", "type", event.Type, "user_id", event.UserID, "error", err)
	}
}
