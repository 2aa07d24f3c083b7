// Package queue provides the ingestion queue transport: producers enqueue
// opaque string payloads from HTTP handlers, and the worker consumes them one
// at a time with at-least-once delivery. Two backends are provided: Azure
// Storage Queues for production and an in-process queue for local development
// and tests.
package queue

import (
	"context"
	"log/slog"
	"time"
)

// pollInterval is how long the consumer loop sleeps when the queue is empty.
const pollInterval = 2 * time.Second

// Message is one dequeued payload plus the transport bookkeeping needed to
// delete it after successful processing.
type Message struct {
	// ID is the transport-assigned message identifier.
	ID string
	// PopReceipt authorises deletion of this delivery.
	PopReceipt string
	// Body is the opaque payload.
	Body string
}

// Producer enqueues payloads. Implementations must be safe for concurrent
// use; one Producer instance is shared by all in-flight HTTP requests.
type Producer interface {
	// Enqueue adds payload to the queue and returns the transport message id.
	Enqueue(ctx context.Context, payload string) (string, error)
}

// Consumer receives and deletes messages. Delivery is at-least-once: a
// message that is received but not deleted becomes visible again, so handlers
// must be idempotent.
type Consumer interface {
	// Receive returns up to max currently visible messages. An empty slice
	// means the queue is empty right now.
	Receive(ctx context.Context, max int) ([]Message, error)
	// Delete removes a processed message so it is not redelivered.
	Delete(ctx context.Context, msg Message) error
}

// Handler processes one message body. A non-nil error leaves the message on
// the queue for redelivery.
type Handler func(ctx context.Context, body string) error

// Consume polls c and feeds messages to handler one at a time until ctx is
// cancelled. Messages are deleted only after handler returns nil; failures
// are logged and left for the transport's redelivery.
func Consume(ctx context.Context, c Consumer, handler Handler, log *slog.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := c.Receive(ctx, 1)
		if err != nil {
			log.Error("queue: receive failed", slog.Any("error", err))
			if !sleep(ctx, pollInterval) {
				return ctx.Err()
			}
			continue
		}

		if len(msgs) == 0 {
			if !sleep(ctx, pollInterval) {
				return ctx.Err()
			}
			continue
		}

		for _, msg := range msgs {
			if err := handler(ctx, msg.Body); err != nil {
				log.Error("queue: message processing failed, leaving for redelivery",
					slog.String("message_id", msg.ID),
					slog.Any("error", err),
				)
				continue
			}
			if err := c.Delete(ctx, msg); err != nil {
				log.Warn("queue: delete after processing failed, message will be redelivered",
					slog.String("message_id", msg.ID),
					slog.Any("error", err),
				)
			}
		}
	}
}

// sleep waits for d or until ctx is cancelled. Returns false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
