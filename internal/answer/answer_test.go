package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/embedding"
)

// fakeGenerator records the messages it was asked to generate from.
type fakeGenerator struct {
	lastInput []*schema.Message
	reply     string
	err       error
}

func (f *fakeGenerator) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	f.lastInput = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{0.1}, nil
}

func newTestService(t *testing.T, gen *fakeGenerator) (*Service, *docstore.SQLiteStore) {
	t.Helper()
	store, err := docstore.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	svc, err := NewService(gen, store, embedding.NewManager(fakeEmbedder{}))
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func seedDoc(t *testing.T, store *docstore.SQLiteStore, doc docstore.Document) {
	t.Helper()
	if doc.Embedding == nil {
		doc.Embedding = []float32{0.1}
	}
	if err := store.Upsert(context.Background(), &doc); err != nil {
		t.Fatalf("seed upsert: %v", err)
	}
}

func TestAnswer_NoDocuments(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, &fakeGenerator{reply: "unused"})

	_, err := svc.Answer(context.Background(), "u1", "what is the policy?")
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("expected ErrNoContext, got %v", err)
	}
}

func TestAnswer_BuildsCitedContext(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: "the limit is 30 days"}
	svc, store := newTestService(t, gen)

	seedDoc(t, store, docstore.Document{
		ID: "d1", UserID: "u1", Content: "vacation is 30 days",
		FileName: "handbook.pdf", DocumentType: docstore.TypePolicyDocument,
	})
	seedDoc(t, store, docstore.Document{
		ID: "d2", UserID: "u1", Content: "expenses need receipts",
		Title: "Record d2", DocumentType: docstore.TypeCSVData,
	})

	got, err := svc.Answer(context.Background(), "u1", "how much vacation?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got.Answer != "the limit is 30 days" {
		t.Errorf("unexpected reply %q", got.Answer)
	}
	if len(got.Sources) != 2 {
		t.Errorf("expected both context documents as sources, got %d", len(got.Sources))
	}

	if len(gen.lastInput) != 2 {
		t.Fatalf("expected system+user messages, got %d", len(gen.lastInput))
	}
	if gen.lastInput[0].Role != schema.System {
		t.Errorf("first message should be the system prompt, got %v", gen.lastInput[0].Role)
	}
	prompt := gen.lastInput[1].Content
	if !strings.Contains(prompt, "Question: how much vacation?") {
		t.Errorf("prompt missing question: %q", prompt)
	}
	if !strings.Contains(prompt, "[Source: handbook.pdf]\nvacation is 30 days") {
		t.Errorf("prompt missing cited file context: %q", prompt)
	}
	if !strings.Contains(prompt, "[Source: Record d2]\nexpenses need receipts") {
		t.Errorf("prompt missing cited row context: %q", prompt)
	}
}

func TestAnswer_ScopedToOwner(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: "ok"}
	svc, store := newTestService(t, gen)

	seedDoc(t, store, docstore.Document{
		ID: "d1", UserID: "other", Content: "secret tenant data", Title: "T",
	})

	_, err := svc.Answer(context.Background(), "u1", "anything?")
	if !errors.Is(err, ErrNoContext) {
		t.Fatalf("expected ErrNoContext for a user with no documents, got %v", err)
	}
}

func TestAnswer_ModelFailure(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{err: errors.New("model down")}
	svc, store := newTestService(t, gen)
	seedDoc(t, store, docstore.Document{ID: "d1", UserID: "u1", Content: "x", Title: "T"})

	_, err := svc.Answer(context.Background(), "u1", "q?")
	if err == nil || errors.Is(err, ErrNoContext) {
		t.Fatalf("expected a generate error, got %v", err)
	}
}

func TestChat_CarriesHistory(t *testing.T) {
	t.Parallel()
	gen := &fakeGenerator{reply: "hi again"}
	svc, _ := newTestService(t, gen)

	history := []Turn{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "system", Content: "ignored"},
	}
	got, err := svc.Chat(context.Background(), "how are you?", history)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hi again" {
		t.Errorf("unexpected reply %q", got)
	}

	// system prompt + 2 history turns + current message
	if len(gen.lastInput) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(gen.lastInput))
	}
	if gen.lastInput[3].Content != "how are you?" {
		t.Errorf("current message must come last, got %q", gen.lastInput[3].Content)
	}
}

func TestChat_RejectsEmptyMessage(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t, &fakeGenerator{})

	if _, err := svc.Chat(context.Background(), "   ", nil); err == nil {
		t.Fatal("expected an error for an empty message")
	}
}
