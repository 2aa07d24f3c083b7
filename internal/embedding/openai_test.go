package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// captureServer records the last request path, query, and headers, and
// returns one fixed vector.
func captureServer(t *testing.T) (*httptest.Server, *http.Request) {
	t.Helper()
	captured := &http.Request{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*captured = *r
		_ = json.NewEncoder(w).Encode(embedResponse{
			Data: []struct {
				Embedding []float32 `json:"embedding"`
			}{{Embedding: []float32{0.1, 0.2}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestEmbed_AzureURLIncludesOpenAISegment(t *testing.T) {
	t.Parallel()
	srv, captured := captureServer(t)

	// The bare resource endpoint, as shared with the chat client.
	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL,
		APIKey:     "k",
		Model:      "embed-dep",
		Azure:      true,
		APIVersion: "2024-02-01",
	})

	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if got := captured.URL.Path; got != "/openai/deployments/embed-dep/embeddings" {
		t.Errorf("unexpected request path %q", got)
	}
	if got := captured.URL.Query().Get("api-version"); got != "2024-02-01" {
		t.Errorf("unexpected api-version %q", got)
	}
	if got := captured.Header.Get("api-key"); got != "k" {
		t.Errorf("expected api-key header, got %q", got)
	}
}

func TestEmbed_AzureURLSegmentNotDoubled(t *testing.T) {
	t.Parallel()
	srv, captured := captureServer(t)

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL:    srv.URL + "/openai",
		APIKey:     "k",
		Model:      "embed-dep",
		Azure:      true,
		APIVersion: "2024-02-01",
	})

	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := captured.URL.Path; got != "/openai/deployments/embed-dep/embeddings" {
		t.Errorf("unexpected request path %q", got)
	}
}

func TestEmbed_OpenAIURLAndAuth(t *testing.T) {
	t.Parallel()
	srv, captured := captureServer(t)

	e := NewOpenAIEmbedder(&OpenAIConfig{
		BaseURL: srv.URL,
		APIKey:  "k",
		Model:   "text-embedding-3-small",
	})

	if _, err := e.Embed(context.Background(), "hello"); err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if got := captured.URL.Path; got != "/embeddings" {
		t.Errorf("unexpected request path %q", got)
	}
	if got := captured.Header.Get("Authorization"); got != "Bearer k" {
		t.Errorf("expected Bearer auth, got %q", got)
	}
}
