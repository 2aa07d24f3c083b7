package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/azcosmos"
)

// CosmosConfig holds connection parameters for a Cosmos DB container whose
// partition key path is /userId.
type CosmosConfig struct {
	// Endpoint is the Cosmos DB account endpoint URL.
	Endpoint string
	// Key is the Cosmos DB account key.
	Key string
	// Database is the database name.
	Database string
	// Container is the container name.
	Container string
}

// CosmosStore implements Store backed by an Azure Cosmos DB container.
type CosmosStore struct {
	// container is the Cosmos container client, safe for concurrent use.
	container *azcosmos.ContainerClient
	// cfg holds the resolved configuration for this store.
	cfg *CosmosConfig
}

// NewCosmosStore creates a CosmosStore for the configured container.
// The container must already exist with partition key path /userId.
func NewCosmosStore(cfg *CosmosConfig) (*CosmosStore, error) {
	if cfg.Endpoint == "" || cfg.Key == "" {
		return nil, fmt.Errorf("cosmos: endpoint and key are required")
	}
	if cfg.Database == "" || cfg.Container == "" {
		return nil, fmt.Errorf("cosmos: database and container names are required")
	}

	cred, err := azcosmos.NewKeyCredential(cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("cosmos: invalid key credential: %w", err)
	}

	client, err := azcosmos.NewClientWithKey(cfg.Endpoint, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("cosmos: failed to create client: %w", err)
	}

	container, err := client.NewContainer(cfg.Database, cfg.Container)
	if err != nil {
		return nil, fmt.Errorf("cosmos: failed to open container %q: %w", cfg.Container, err)
	}

	return &CosmosStore{container: container, cfg: cfg}, nil
}

// Upsert inserts or overwrites a document keyed by (id, userId).
func (s *CosmosStore) Upsert(ctx context.Context, doc *Document) error {
	if doc.UserID == "" {
		return ErrMissingPartitionKey
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("cosmos: marshal document %s: %w", doc.ID, err)
	}

	pk := azcosmos.NewPartitionKeyString(doc.UserID)
	if _, err := s.container.UpsertItem(ctx, pk, data, nil); err != nil {
		return fmt.Errorf("cosmos: upsert %s: %w", doc.ID, err)
	}
	return nil
}

// Delete removes the document with the given id and partition key.
// A 404 from Cosmos is treated as a no-op success.
func (s *CosmosStore) Delete(ctx context.Context, id, userID string) error {
	pk := azcosmos.NewPartitionKeyString(userID)
	if _, err := s.container.DeleteItem(ctx, pk, id, nil); err != nil {
		if isNotFound(err) {
			return nil
		}
		return fmt.Errorf("cosmos: delete %s: %w", id, err)
	}
	return nil
}

// QueryEmbedded returns every document for userID that has an embedding.
// Relevance ranking is deliberately not performed here; the completion model
// receives all embedded documents as context.
func (s *CosmosStore) QueryEmbedded(ctx context.Context, userID string) ([]Document, error) {
	const query = `SELECT * FROM c WHERE c.userId = @userId AND IS_DEFINED(c.embedding)`

	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager(query, pk, &azcosmos.QueryOptions{
		QueryParameters: []azcosmos.QueryParameter{
			{Name: "@userId", Value: userID},
		},
	})

	var docs []Document
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("cosmos: query embedded documents: %w", err)
		}
		for _, raw := range page.Items {
			var doc Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("cosmos: decode document: %w", err)
			}
			docs = append(docs, doc)
		}
	}
	return docs, nil
}

// DeleteByType removes all documents of the given type for userID.
// Records with no documentType are legacy tabular records and match csvData.
// Cosmos has no delete-by-query, so ids are listed first and deleted one by
// one; a concurrent delete racing ours surfaces as a tolerated 404.
func (s *CosmosStore) DeleteByType(ctx context.Context, userID string, docType DocumentType) (int, error) {
	ids, err := s.idsByType(ctx, userID, docType)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, id := range ids {
		if err := s.Delete(ctx, id, userID); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// ListFiles returns the distinct originating filenames for the user's
// documents of the given type, in first-seen order.
func (s *CosmosStore) ListFiles(ctx context.Context, userID string, docType DocumentType) ([]string, error) {
	query := `SELECT c.sourceFile, c.fileName FROM c WHERE c.userId = @userId AND ` + typeFilter(docType)

	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager(query, pk, &azcosmos.QueryOptions{
		QueryParameters: []azcosmos.QueryParameter{
			{Name: "@userId", Value: userID},
			{Name: "@docType", Value: string(docType)},
		},
	})

	seen := make(map[string]bool)
	var files []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("cosmos: list files: %w", err)
		}
		for _, raw := range page.Items {
			var doc Document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return nil, fmt.Errorf("cosmos: decode file projection: %w", err)
			}
			name := doc.SourceName()
			if name != "" && !seen[name] {
				seen[name] = true
				files = append(files, name)
			}
		}
	}
	return files, nil
}

// Ping reads the container metadata to verify reachability.
func (s *CosmosStore) Ping(ctx context.Context) error {
	if _, err := s.container.Read(ctx, nil); err != nil {
		return fmt.Errorf("cosmos: container read failed: %w", err)
	}
	return nil
}

// Close is a no-op; the Cosmos client holds no pooled resources that need
// explicit release.
func (s *CosmosStore) Close() error { return nil }

// idsByType lists the ids of the user's documents matching docType.
func (s *CosmosStore) idsByType(ctx context.Context, userID string, docType DocumentType) ([]string, error) {
	query := `SELECT c.id FROM c WHERE c.userId = @userId AND ` + typeFilter(docType)

	pk := azcosmos.NewPartitionKeyString(userID)
	pager := s.container.NewQueryItemsPager(query, pk, &azcosmos.QueryOptions{
		QueryParameters: []azcosmos.QueryParameter{
			{Name: "@userId", Value: userID},
			{Name: "@docType", Value: string(docType)},
		},
	})

	var ids []string
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("cosmos: list ids by type: %w", err)
		}
		for _, raw := range page.Items {
			var row struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &row); err != nil {
				return nil, fmt.Errorf("cosmos: decode id projection: %w", err)
			}
			ids = append(ids, row.ID)
		}
	}
	return ids, nil
}

// typeFilter returns the WHERE fragment matching docType. Legacy records
// without a documentType field count as csvData.
func typeFilter(docType DocumentType) string {
	if docType == TypeCSVData {
		return `(NOT IS_DEFINED(c.documentType) OR c.documentType = @docType)`
	}
	return `c.documentType = @docType`
}

// isNotFound reports whether err is a Cosmos 404 response.
func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
