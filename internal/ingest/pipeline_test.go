package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/embedding"
	"github.com/docq-ai/docq-go/internal/queue"
	"github.com/docq-ai/docq-go/internal/tabular"
)

// fakeEmbedder returns a fixed vector, or fails when broken is set.
type fakeEmbedder struct {
	broken bool
	calls  int
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	if f.broken {
		return nil, errors.New("provider unavailable")
	}
	return []float32{0.1, 0.2}, nil
}

// newTestPipeline wires a Pipeline over an in-memory store with deterministic
// ids (row-1, row-2, ...).
func newTestPipeline(t *testing.T, emb *fakeEmbedder) (*Pipeline, *docstore.SQLiteStore) {
	t.Helper()
	store, err := docstore.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	p, err := NewPipeline(store, embedding.NewManager(emb))
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	var seq int
	p.SetIDGenerator(func() string {
		seq++
		return fmt.Sprintf("row-%d", seq)
	})
	return p, store
}

// parseCSV is a test shorthand over the tabular parser.
func parseCSV(t *testing.T, data string) []tabular.Row {
	t.Helper()
	rows, err := tabular.ParseCSV(strings.NewReader(data))
	if err != nil {
		t.Fatalf("ParseCSV: %v", err)
	}
	return rows
}

func TestReplaceTabular_ReplacesPriorRecords(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t, &fakeEmbedder{})
	ctx := context.Background()

	old := &docstore.Document{
		ID:           "stale",
		UserID:       "u1",
		DocumentType: docstore.TypeCSVData,
		Content:      "old row",
		Embedding:    []float32{0.5},
		SourceFile:   "old.csv",
	}
	if err := store.Upsert(ctx, old); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}

	rows := parseCSV(t, "name,amount\nwidget,10\ngadget,20\n")
	result, err := p.ReplaceTabular(ctx, rows, "u1", "new.csv")
	if err != nil {
		t.Fatalf("ReplaceTabular: %v", err)
	}

	if len(result.UpsertedIDs) != 2 || result.Embedded != 2 || len(result.Failures) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	docs, err := store.QueryEmbedded(ctx, "u1")
	if err != nil {
		t.Fatalf("QueryEmbedded: %v", err)
	}
	for _, d := range docs {
		if d.ID == "stale" {
			t.Errorf("stale record survived the replacement")
		}
		if d.SourceFile != "new.csv" {
			t.Errorf("expected sourceFile new.csv, got %q", d.SourceFile)
		}
	}
	if len(docs) != 2 {
		t.Errorf("expected 2 embedded records, got %d", len(docs))
	}
}

func TestReplaceTabular_PartialFailureIsItemized(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t, &fakeEmbedder{})
	ctx := context.Background()

	// Second row has no owner and no default is supplied.
	rows := parseCSV(t, "userId,name\nu1,widget\n,gadget\n")
	result, err := p.ReplaceTabular(ctx, rows, "", "rows.csv")
	if err != nil {
		t.Fatalf("ReplaceTabular: %v", err)
	}

	if len(result.UpsertedIDs) != 1 {
		t.Fatalf("expected 1 upserted row, got %+v", result)
	}
	if len(result.Failures) != 1 || result.Failures[0].Row != 2 {
		t.Fatalf("expected failure for row 2, got %+v", result.Failures)
	}

	docs, err := store.QueryEmbedded(ctx, "u1")
	if err != nil {
		t.Fatalf("QueryEmbedded: %v", err)
	}
	if len(docs) != 1 {
		t.Errorf("expected the good row persisted, got %d records", len(docs))
	}
}

func TestReplaceTabular_EmbeddingFailureKeepsRecord(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t, &fakeEmbedder{broken: true})
	ctx := context.Background()

	rows := parseCSV(t, "name\nwidget\n")
	result, err := p.ReplaceTabular(ctx, rows, "u1", "rows.csv")
	if err != nil {
		t.Fatalf("ReplaceTabular: %v", err)
	}

	if len(result.UpsertedIDs) != 1 || result.Embedded != 0 || len(result.Failures) != 0 {
		t.Fatalf("expected persisted-but-unembedded row, got %+v", result)
	}

	// Without a vector the record is excluded from retrieval.
	docs, err := store.QueryEmbedded(ctx, "u1")
	if err != nil {
		t.Fatalf("QueryEmbedded: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("unembedded record must not be retrievable, got %d", len(docs))
	}

	files, err := store.ListFiles(ctx, "u1", docstore.TypeCSVData)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0] != "rows.csv" {
		t.Errorf("expected the record itself to survive, got files %v", files)
	}
}

func TestIngestPolicyFiles_MixedBatch(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t, &fakeEmbedder{})
	ctx := context.Background()

	files := []PolicyFile{
		{Name: "handbook.txt", Data: []byte("vacation policy text")},
		{Name: "photo.png", Data: []byte{0x89, 0x50}},
		{Name: "empty.txt", Data: []byte("   \n")},
	}
	results, err := p.IngestPolicyFiles(ctx, "u1", files)
	if err != nil {
		t.Fatalf("IngestPolicyFiles: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].Status != "ingested" || !results[0].Embedded {
		t.Errorf("handbook.txt should ingest and embed, got %+v", results[0])
	}
	if results[1].Status != "failed" || results[1].Error == "" {
		t.Errorf("photo.png should fail with a reason, got %+v", results[1])
	}
	if results[2].Status != "failed" {
		t.Errorf("empty.txt should fail, got %+v", results[2])
	}

	docs, err := store.QueryEmbedded(ctx, "u1")
	if err != nil {
		t.Fatalf("QueryEmbedded: %v", err)
	}
	if len(docs) != 1 || docs[0].DocumentType != docstore.TypePolicyDocument {
		t.Fatalf("expected one policyDocument record, got %+v", docs)
	}
	if docs[0].FileName != "handbook.txt" || docs[0].UploadedAt == "" {
		t.Errorf("record missing file metadata: %+v", docs[0])
	}
}

func TestIngestPolicyFiles_RequiresOwner(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, &fakeEmbedder{})

	_, err := p.IngestPolicyFiles(context.Background(), "", nil)
	var missing *MissingFieldError
	if !errors.As(err, &missing) || missing.Field != "userId" {
		t.Fatalf("expected MissingFieldError for userId, got %v", err)
	}
}

func TestProcessMessage_UpsertThenDelete(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t, &fakeEmbedder{})
	ctx := context.Background()

	upsert := `{"id":"doc-1","action":"upsert","userId":"u1","data":{"title":"T","content":"hello"}}`
	if err := p.ProcessMessage(ctx, upsert); err != nil {
		t.Fatalf("ProcessMessage(upsert): %v", err)
	}

	docs, err := store.QueryEmbedded(ctx, "u1")
	if err != nil {
		t.Fatalf("QueryEmbedded: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "doc-1" || docs[0].Version != DefaultVersion {
		t.Fatalf("unexpected stored record: %+v", docs)
	}

	del := `{"id":"doc-1","action":"delete","userId":"u1"}`
	if err := p.ProcessMessage(ctx, del); err != nil {
		t.Fatalf("ProcessMessage(delete): %v", err)
	}
	// Redelivery of the same delete must succeed.
	if err := p.ProcessMessage(ctx, del); err != nil {
		t.Fatalf("ProcessMessage(redelivered delete): %v", err)
	}

	docs, err = store.QueryEmbedded(ctx, "u1")
	if err != nil {
		t.Fatalf("QueryEmbedded: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("expected record deleted, got %+v", docs)
	}
}

func TestProcessMessage_Validation(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, &fakeEmbedder{})
	ctx := context.Background()

	if err := p.ProcessMessage(ctx, "{not json"); err == nil {
		t.Error("malformed JSON should fail")
	}

	err := p.ProcessMessage(ctx, `{"id":"doc-1","data":{"content":"x"}}`)
	var missing *MissingFieldError
	if !errors.As(err, &missing) || missing.Field != "userId" {
		t.Errorf("expected MissingFieldError for userId, got %v", err)
	}

	err = p.ProcessMessage(ctx, `{"id":"doc-1","action":"archive","userId":"u1"}`)
	var invalid *InvalidActionError
	if !errors.As(err, &invalid) {
		t.Errorf("expected InvalidActionError, got %v", err)
	}
}

func TestProcessMessage_EmbeddingFailureIsNotFatal(t *testing.T) {
	t.Parallel()
	p, store := newTestPipeline(t, &fakeEmbedder{broken: true})
	ctx := context.Background()

	msg := `{"id":"doc-1","userId":"u1","data":{"content":"hello"}}`
	if err := p.ProcessMessage(ctx, msg); err != nil {
		t.Fatalf("ProcessMessage: %v", err)
	}

	docs, err := store.QueryEmbedded(ctx, "u1")
	if err != nil {
		t.Fatalf("QueryEmbedded: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("record without a vector must not be retrievable, got %+v", docs)
	}
}

func TestEnqueueTabular_OneMessagePerRow(t *testing.T) {
	t.Parallel()
	p, _ := newTestPipeline(t, &fakeEmbedder{})
	ctx := context.Background()
	q := queue.NewMemoryQueue()

	rows := parseCSV(t, "name\nwidget\ngadget\n")
	result, err := p.EnqueueTabular(ctx, q, rows, "u1", "rows.xlsx")
	if err != nil {
		t.Fatalf("EnqueueTabular: %v", err)
	}
	if len(result.UpsertedIDs) != 2 || len(result.Failures) != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	msgs, err := q.Receive(ctx, 10)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 queued messages, got %d", len(msgs))
	}

	var msg Message
	if err := json.Unmarshal([]byte(msgs[0].Body), &msg); err != nil {
		t.Fatalf("unmarshal queued message: %v", err)
	}
	if msg.Action != ActionUpsert || msg.UserID != "u1" {
		t.Errorf("unexpected envelope: %+v", msg)
	}
	if owner, _ := msg.Data["userId"].(string); owner != "u1" {
		t.Errorf("payload must carry the partition key, got %v", msg.Data)
	}
}
