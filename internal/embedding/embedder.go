// Package embedding generates content vectors for document records via the
// Azure OpenAI (or OpenAI) embeddings REST API. The Manager wraps the raw
// Embedder with the pipeline's lifecycle rules: a hard input truncation, a
// short-circuit for empty content, and a cooperative throttle that paces
// successive provider calls.
package embedding

import (
	"context"
	"errors"
)

// MaxContentChars is the hard cap on the text submitted for embedding.
// Longer content is silently truncated; there is no chunking or
// multi-vector strategy.
const MaxContentChars = 8000

// ErrSkipped is returned by Manager.EmbedContent when the content is empty or
// whitespace-only. No provider call is made; the record simply persists
// without a vector.
var ErrSkipped = errors.New("embedding: content is empty, skipping")

// Embedder converts one text into a dense vector. Implementations must be
// safe for concurrent use.
type Embedder interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}
