package docstore

import (
	"context"
	"errors"
)

// ErrMissingPartitionKey is returned by Upsert when the document carries no
// userId. The partition key is mandatory: a write without it would create a
// record no tenant-scoped query could ever see.
var ErrMissingPartitionKey = errors.New("docstore: document is missing required partition key 'userId'")

// Store is the partitioned document store consumed by the ingestion and
// retrieval pipelines. Implementations must be safe for concurrent use;
// one Store instance is shared by all in-flight requests.
//
// Delete tolerates a missing record as a no-op success: queue redelivery can
// replay a delete, so the operation must be idempotent.
type Store interface {
	// Upsert inserts or overwrites a document keyed by (id, userId).
	// Returns ErrMissingPartitionKey when doc.UserID is empty.
	Upsert(ctx context.Context, doc *Document) error

	// Delete removes the document with the given id and partition key.
	// A missing record is a no-op success.
	Delete(ctx context.Context, id, userID string) error

	// QueryEmbedded returns every document for userID that has an embedding,
	// in the store's natural return order. Callers must not assume the order
	// is stable.
	QueryEmbedded(ctx context.Context, userID string) ([]Document, error)

	// DeleteByType removes all documents of the given type for userID and
	// returns the number removed. An empty stored type counts as csvData.
	DeleteByType(ctx context.Context, userID string, docType DocumentType) (int, error)

	// ListFiles returns the distinct originating filenames of the user's
	// documents of the given type.
	ListFiles(ctx context.Context, userID string, docType DocumentType) ([]string, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
