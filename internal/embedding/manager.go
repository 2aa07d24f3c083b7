package embedding

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
)

// callInterval is the minimum delay between successive embedding calls.
// This is a cooperative throttle against provider rate limits, not a
// token-bucket or adaptive scheme.
const callInterval = 100 * time.Millisecond

// Manager applies the embedding lifecycle rules before delegating to an
// Embedder: empty content is skipped without a provider call, long content is
// truncated to MaxContentChars, and successive calls are paced by
// callInterval. Safe for concurrent use; the pacing is shared across callers
// so concurrent batches do not multiply the call rate.
type Manager struct {
	// embedder performs the actual provider call.
	embedder Embedder
	// limiter paces successive provider calls.
	limiter *rate.Limiter
}

// NewManager constructs a Manager around the given Embedder.
func NewManager(embedder Embedder) *Manager {
	return &Manager{
		embedder: embedder,
		limiter:  rate.NewLimiter(rate.Every(callInterval), 1),
	}
}

// EmbedContent returns the embedding vector for content.
//
// Empty or whitespace-only content returns ErrSkipped without calling the
// provider. Content longer than MaxContentChars is truncated silently.
// Provider failures are returned as-is; callers treat them as non-fatal and
// persist the record without a vector.
func (m *Manager) EmbedContent(ctx context.Context, content string) ([]float32, error) {
	if len(content) > MaxContentChars {
		cut := MaxContentChars
		// Never split a multi-byte rune; the provider requires valid UTF-8.
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrSkipped
	}

	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	return m.embedder.Embed(ctx, content)
}
