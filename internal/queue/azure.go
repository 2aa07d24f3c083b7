package queue

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// visibilityTimeoutSeconds is how long a dequeued message stays invisible
// before the transport redelivers it. Long enough to upsert and embed one
// document.
const visibilityTimeoutSeconds = 120

// AzureQueue implements Producer and Consumer backed by an Azure Storage
// Queue. The queue is created on construction if it does not exist.
type AzureQueue struct {
	// client is the Azure Storage queue client, safe for concurrent use.
	client *azqueue.QueueClient
	// name is the queue name, kept for error messages.
	name string
}

// NewAzureQueue connects to the named storage queue and ensures it exists.
func NewAzureQueue(connectionString, name string) (*AzureQueue, error) {
	if connectionString == "" {
		return nil, fmt.Errorf("queue: azure storage connection string is required")
	}
	if name == "" {
		return nil, fmt.Errorf("queue: queue name is required")
	}

	client, err := azqueue.NewQueueClientFromConnectionString(connectionString, name, nil)
	if err != nil {
		return nil, fmt.Errorf("queue: create client for %q: %w", name, err)
	}

	q := &AzureQueue{client: client, name: name}
	if err := q.ensureQueue(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

// ensureQueue creates the queue, tolerating it already existing.
func (q *AzureQueue) ensureQueue(ctx context.Context) error {
	if _, err := q.client.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict {
			return nil
		}
		return fmt.Errorf("queue: create %q: %w", q.name, err)
	}
	return nil
}

// Enqueue adds payload to the queue and returns the transport message id.
func (q *AzureQueue) Enqueue(ctx context.Context, payload string) (string, error) {
	resp, err := q.client.EnqueueMessage(ctx, payload, nil)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue to %q: %w", q.name, err)
	}
	if len(resp.Messages) == 0 || resp.Messages[0].MessageID == nil {
		return "", fmt.Errorf("queue: enqueue to %q returned no message id", q.name)
	}
	return *resp.Messages[0].MessageID, nil
}

// Receive returns up to max currently visible messages.
func (q *AzureQueue) Receive(ctx context.Context, max int) ([]Message, error) {
	count := int32(max)
	visibility := int32(visibilityTimeoutSeconds)

	resp, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  &count,
		VisibilityTimeout: &visibility,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: dequeue from %q: %w", q.name, err)
	}

	msgs := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		msg := Message{}
		if m.MessageID != nil {
			msg.ID = *m.MessageID
		}
		if m.PopReceipt != nil {
			msg.PopReceipt = *m.PopReceipt
		}
		if m.MessageText != nil {
			msg.Body = *m.MessageText
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Delete removes a processed message so it is not redelivered.
func (q *AzureQueue) Delete(ctx context.Context, msg Message) error {
	if _, err := q.client.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil); err != nil {
		return fmt.Errorf("queue: delete message %s from %q: %w", msg.ID, q.name, err)
	}
	return nil
}

// Ping verifies the queue is reachable by reading its properties.
func (q *AzureQueue) Ping(ctx context.Context) error {
	if _, err := q.client.GetProperties(ctx, nil); err != nil {
		return fmt.Errorf("queue: get properties of %q: %w", q.name, err)
	}
	return nil
}
