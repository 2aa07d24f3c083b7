// Package answer generates responses from the language model, grounded in
// the caller's uploaded documents for RAG queries and freestanding for plain
// chat.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/embedding"
	"github.com/docq-ai/docq-go/internal/logging"
)

// ErrNoContext is returned when the caller has no retrievable documents to
// ground an answer in.
var ErrNoContext = errors.New("answer: no documents available for this user")

const (
	ragSystemPrompt  = "You are a RAG assistant. Always cite from context."
	chatSystemPrompt = "You are a helpful assistant."
)

// Generator is the slice of the chat model the service needs. Satisfied by
// eino ChatModel implementations; tests supply a fake.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Turn is one prior message in a chat conversation.
type Turn struct {
	// Role is "user" or "assistant". Other roles are ignored.
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
}

// Service answers questions. For RAG queries it retrieves the caller's
// embedded documents and instructs the model to answer from them alone.
type Service struct {
	model      Generator
	store      docstore.Store
	embeddings *embedding.Manager
}

// NewService constructs a Service.
func NewService(gen Generator, store docstore.Store, embeddings *embedding.Manager) (*Service, error) {
	if gen == nil {
		return nil, fmt.Errorf("answer: chat model must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("answer: store must not be nil")
	}
	if embeddings == nil {
		return nil, fmt.Errorf("answer: embedding manager must not be nil")
	}
	return &Service{model: gen, store: store, embeddings: embeddings}, nil
}

// Result is a grounded answer together with the documents it was grounded in.
type Result struct {
	// Answer is the model's reply, verbatim.
	Answer string `json:"answer"`
	// Sources are the caller's documents passed as context, as stored.
	Sources []docstore.Document `json:"sources"`
}

// Answer responds to question using only the caller's embedded documents.
// Returns ErrNoContext when the caller has none.
//
// The question embedding is computed for parity with document ingestion but
// retrieval is not ranked by it: every embedded document of the caller is
// passed as context. Tenants are small enough that the model sees everything.
func (s *Service) Answer(ctx context.Context, userID, question string) (*Result, error) {
	if userID == "" {
		return nil, fmt.Errorf("answer: userId is required")
	}
	if strings.TrimSpace(question) == "" {
		return nil, fmt.Errorf("answer: question is required")
	}
	log := logging.FromContext(ctx)

	if _, err := s.embeddings.EmbedContent(ctx, question); err != nil && !errors.Is(err, embedding.ErrSkipped) {
		log.Debug("answer: question embedding failed, continuing", slog.Any("error", err))
	}

	docs, err := s.store.QueryEmbedded(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("answer: load documents for %s: %w", userID, err)
	}
	if len(docs) == 0 {
		return nil, ErrNoContext
	}

	msgs := []*schema.Message{
		schema.SystemMessage(ragSystemPrompt),
		schema.UserMessage(fmt.Sprintf(
			"Question: %s\n\nContext:\n%s\n\nAnswer using ONLY the context.",
			question, buildContext(docs),
		)),
	}

	resp, err := s.model.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("answer: generate: %w", err)
	}
	log.Info("answer: generated RAG response",
		slog.String("user_id", userID),
		slog.Int("context_docs", len(docs)),
	)
	return &Result{Answer: resp.Content, Sources: docs}, nil
}

// Chat responds to a plain conversation turn without document grounding.
func (s *Service) Chat(ctx context.Context, message string, history []Turn) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("answer: message is required")
	}

	msgs := make([]*schema.Message, 0, len(history)+2)
	msgs = append(msgs, schema.SystemMessage(chatSystemPrompt))
	for _, turn := range history {
		switch turn.Role {
		case "user":
			msgs = append(msgs, schema.UserMessage(turn.Content))
		case "assistant":
			msgs = append(msgs, schema.AssistantMessage(turn.Content, nil))
		}
	}
	msgs = append(msgs, schema.UserMessage(message))

	resp, err := s.model.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("answer: generate: %w", err)
	}
	return resp.Content, nil
}

// buildContext formats documents into source-attributed blocks the model can
// cite from.
func buildContext(docs []docstore.Document) string {
	blocks := make([]string, 0, len(docs))
	for _, doc := range docs {
		blocks = append(blocks, fmt.Sprintf("[Source: %s]\n%s", doc.SourceName(), doc.Content))
	}
	return strings.Join(blocks, "\n\n")
}
