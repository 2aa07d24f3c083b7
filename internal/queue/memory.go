package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Producer/Consumer for local development and
// tests. It is a simplification of the real transport: a received message is
// gone immediately, so redelivery only happens when Delete is never reached
// because the handler kept the message (see Consume).
type MemoryQueue struct {
	// mu protects pending.
	mu sync.Mutex
	// pending holds enqueued messages in FIFO order.
	pending []Message
}

// NewMemoryQueue constructs an empty MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

// Enqueue adds payload to the queue and returns a generated message id.
func (q *MemoryQueue) Enqueue(_ context.Context, payload string) (string, error) {
	id := uuid.NewString()

	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, Message{ID: id, PopReceipt: id, Body: payload})
	return id, nil
}

// Receive returns up to max pending messages in FIFO order.
func (q *MemoryQueue) Receive(_ context.Context, max int) ([]Message, error) {
	if max <= 0 {
		return nil, fmt.Errorf("queue: receive max must be positive, got %d", max)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := min(max, len(q.pending))
	msgs := make([]Message, n)
	copy(msgs, q.pending[:n])
	q.pending = q.pending[n:]
	return msgs, nil
}

// Delete is a no-op; Receive already removed the message.
func (q *MemoryQueue) Delete(context.Context, Message) error { return nil }

// Ping always succeeds.
func (q *MemoryQueue) Ping(context.Context) error { return nil }

// Len returns the number of pending messages. Test helper.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
