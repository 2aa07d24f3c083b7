package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/embedding"
	"github.com/docq-ai/docq-go/internal/extract"
	"github.com/docq-ai/docq-go/internal/logging"
	"github.com/docq-ai/docq-go/internal/normalize"
	"github.com/docq-ai/docq-go/internal/queue"
	"github.com/docq-ai/docq-go/internal/tabular"
)

// Pipeline runs the shared ingestion core for every entry point: persist the
// record without a vector first, then attach the embedding with a second
// write. A failed embedding leaves a record that is visible by metadata but
// excluded from retrieval until re-ingested.
type Pipeline struct {
	// store persists document records.
	store docstore.Store
	// embeddings generates content vectors with truncation, skip, and pacing.
	embeddings *embedding.Manager
	// newID generates record identifiers; tests inject a deterministic one.
	newID normalize.IDGenerator
}

// NewPipeline constructs a Pipeline from its dependencies.
func NewPipeline(store docstore.Store, embeddings *embedding.Manager) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("ingest: store must not be nil")
	}
	if embeddings == nil {
		return nil, fmt.Errorf("ingest: embedding manager must not be nil")
	}
	return &Pipeline{store: store, embeddings: embeddings, newID: normalize.NewID}, nil
}

// SetIDGenerator overrides the record id generator. Test hook.
func (p *Pipeline) SetIDGenerator(gen normalize.IDGenerator) {
	if gen != nil {
		p.newID = gen
	}
}

// RowFailure describes one row that could not be ingested. The batch as a
// whole still succeeds; partial failure is itemized, never fatal.
type RowFailure struct {
	// Row is the 1-based data row number (excluding the header).
	Row int `json:"row"`
	// ID is the row's resolved id when one was determined before the failure.
	ID string `json:"id,omitempty"`
	// Error is the failure reason.
	Error string `json:"error"`
}

// BatchResult summarizes one tabular ingestion.
type BatchResult struct {
	// UpsertedIDs lists the ids persisted, in row order.
	UpsertedIDs []string `json:"ids"`
	// Embedded counts the records that also received an embedding.
	Embedded int `json:"embedded"`
	// Failures itemizes the rows that were not persisted.
	Failures []RowFailure `json:"failures,omitempty"`
}

// ReplaceTabular ingests a parsed tabular file synchronously. Existing
// csvData records are deleted per owner before that owner's first new row
// lands (delete-then-insert replacement). The cleanup is best-effort: a
// failed delete is logged and the upload proceeds.
func (p *Pipeline) ReplaceTabular(ctx context.Context, rows []tabular.Row, defaultUserID, sourceFile string) (*BatchResult, error) {
	log := logging.FromContext(ctx)
	result := &BatchResult{}
	cleaned := make(map[string]bool)

	for i, row := range rows {
		doc, err := normalize.FromRow(row, defaultUserID, p.newID)
		if err != nil {
			result.Failures = append(result.Failures, RowFailure{Row: i + 1, Error: err.Error()})
			continue
		}
		doc.SourceFile = sourceFile

		if !cleaned[doc.UserID] {
			cleaned[doc.UserID] = true
			if n, err := p.store.DeleteByType(ctx, doc.UserID, docstore.TypeCSVData); err != nil {
				log.Warn("ingest: cleanup of prior csvData records failed, continuing",
					slog.String("user_id", doc.UserID),
					slog.Any("error", err),
				)
			} else if n > 0 {
				log.Info("ingest: replaced prior csvData records",
					slog.String("user_id", doc.UserID),
					slog.Int("deleted", n),
				)
			}
		}

		if err := p.upsertAndEmbed(ctx, doc, result); err != nil {
			result.Failures = append(result.Failures, RowFailure{Row: i + 1, ID: doc.ID, Error: err.Error()})
		}
	}

	return result, nil
}

// PolicyFile is one uploaded binary document.
type PolicyFile struct {
	// Name is the uploaded filename, used for extraction dispatch and citation.
	Name string
	// Data is the raw file content.
	Data []byte
}

// FileResult describes the outcome for one uploaded policy document.
type FileResult struct {
	// FileName is the uploaded filename.
	FileName string `json:"fileName"`
	// ID is the record id when the file was persisted.
	ID string `json:"id,omitempty"`
	// Status is "ingested" or "failed".
	Status string `json:"status"`
	// Embedded is true when the record also received an embedding.
	Embedded bool `json:"embedded"`
	// Error is the failure reason for failed files.
	Error string `json:"error,omitempty"`
}

// IngestPolicyFiles extracts, persists, and embeds a batch of uploaded
// documents for one owner. Prior policyDocument records for the owner are
// deleted first (best-effort). Per-file failures (unsupported type, parse
// error, no extractable text) are itemized and never abort the batch.
func (p *Pipeline) IngestPolicyFiles(ctx context.Context, userID string, files []PolicyFile) ([]FileResult, error) {
	if userID == "" {
		return nil, &MissingFieldError{Field: "userId"}
	}
	log := logging.FromContext(ctx)

	if n, err := p.store.DeleteByType(ctx, userID, docstore.TypePolicyDocument); err != nil {
		log.Warn("ingest: cleanup of prior policy documents failed, continuing",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
	} else if n > 0 {
		log.Info("ingest: replaced prior policy documents",
			slog.String("user_id", userID),
			slog.Int("deleted", n),
		)
	}

	results := make([]FileResult, 0, len(files))
	for _, file := range files {
		results = append(results, p.ingestPolicyFile(ctx, userID, file))
	}
	return results, nil
}

// ingestPolicyFile runs extraction and the upsert/embed sequence for one file.
func (p *Pipeline) ingestPolicyFile(ctx context.Context, userID string, file PolicyFile) FileResult {
	result := FileResult{FileName: file.Name, Status: "failed"}

	text, err := extract.Text(file.Name, file.Data)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	if strings.TrimSpace(text) == "" {
		result.Error = fmt.Sprintf("no extractable text in %s", file.Name)
		return result
	}

	doc := &docstore.Document{
		ID:           p.newID(),
		UserID:       userID,
		DocumentType: docstore.TypePolicyDocument,
		Title:        file.Name,
		Content:      text,
		FileName:     file.Name,
	}
	doc.StampUploadedAt()

	if err := p.store.Upsert(ctx, doc); err != nil {
		result.Error = err.Error()
		return result
	}
	result.ID = doc.ID
	result.Status = "ingested"
	result.Embedded = p.embedAndUpdate(ctx, doc)
	return result
}

// ProcessMessage handles one queued ingestion envelope. It is idempotent per
// (id, action): upserts overwrite and deletes tolerate a missing record, so
// at-least-once redelivery is safe.
func (p *Pipeline) ProcessMessage(ctx context.Context, body string) error {
	log := logging.FromContext(ctx)

	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return fmt.Errorf("ingest: queue message is not valid JSON: %w", err)
	}
	if msg.Action == "" {
		msg.Action = ActionUpsert
	}
	if msg.Version == "" {
		msg.Version = DefaultVersion
	}

	doc, err := msg.document()
	if err != nil {
		return err
	}

	if msg.Action == ActionDelete {
		if err := p.store.Delete(ctx, doc.ID, doc.UserID); err != nil {
			return fmt.Errorf("ingest: delete %s: %w", doc.ID, err)
		}
		log.Info("ingest: deleted document",
			slog.String("id", doc.ID),
			slog.String("user_id", doc.UserID),
		)
		return nil
	}

	if msg.Action != ActionUpsert {
		return &InvalidActionError{Action: string(msg.Action)}
	}

	if err := p.store.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("ingest: upsert %s: %w", doc.ID, err)
	}
	embedded := p.embedAndUpdate(ctx, doc)
	log.Info("ingest: upserted document",
		slog.String("id", doc.ID),
		slog.String("user_id", doc.UserID),
		slog.Bool("embedded", embedded),
	)
	return nil
}

// EnqueueTabular converts parsed rows into upsert envelopes and enqueues
// them, one message per row. Rows that fail normalization are itemized; the
// rest are still queued.
func (p *Pipeline) EnqueueTabular(ctx context.Context, producer queue.Producer, rows []tabular.Row, defaultUserID, sourceFile string) (*BatchResult, error) {
	result := &BatchResult{}

	for i, row := range rows {
		doc, err := normalize.FromRow(row, defaultUserID, p.newID)
		if err != nil {
			result.Failures = append(result.Failures, RowFailure{Row: i + 1, Error: err.Error()})
			continue
		}
		doc.SourceFile = sourceFile

		msg := Message{
			ID:      doc.ID,
			Action:  ActionUpsert,
			Version: "v1",
			UserID:  doc.UserID,
			Data: map[string]any{
				"id":           doc.ID,
				"title":        doc.Title,
				"content":      doc.Content,
				"userId":       doc.UserID,
				"documentType": string(doc.DocumentType),
				"sourceFile":   doc.SourceFile,
			},
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			result.Failures = append(result.Failures, RowFailure{Row: i + 1, ID: doc.ID, Error: err.Error()})
			continue
		}

		if _, err := producer.Enqueue(ctx, string(payload)); err != nil {
			result.Failures = append(result.Failures, RowFailure{Row: i + 1, ID: doc.ID, Error: err.Error()})
			continue
		}
		result.UpsertedIDs = append(result.UpsertedIDs, doc.ID)
	}

	return result, nil
}

// upsertAndEmbed persists doc, then attempts the embedding update, recording
// the outcome on result.
func (p *Pipeline) upsertAndEmbed(ctx context.Context, doc *docstore.Document, result *BatchResult) error {
	if err := p.store.Upsert(ctx, doc); err != nil {
		return err
	}
	result.UpsertedIDs = append(result.UpsertedIDs, doc.ID)
	if p.embedAndUpdate(ctx, doc) {
		result.Embedded++
	}
	return nil
}

// embedAndUpdate generates the embedding for doc and persists it with a
// second write. Failures are logged, never propagated: the record stays,
// just without a vector.
func (p *Pipeline) embedAndUpdate(ctx context.Context, doc *docstore.Document) bool {
	log := logging.FromContext(ctx)

	vector, err := p.embeddings.EmbedContent(ctx, doc.Content)
	if err != nil {
		if errors.Is(err, embedding.ErrSkipped) {
			log.Warn("ingest: document has no content to embed",
				slog.String("id", doc.ID),
			)
		} else {
			log.Error("ingest: embedding failed, record kept without vector",
				slog.String("id", doc.ID),
				slog.Any("error", err),
			)
		}
		return false
	}

	doc.Embedding = vector
	if err := p.store.Upsert(ctx, doc); err != nil {
		log.Error("ingest: embedding update write failed, record kept without vector",
			slog.String("id", doc.ID),
			slog.Any("error", err),
		)
		return false
	}
	return true
}
