package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docq-ai/docq-go/internal/auth"
	"github.com/docq-ai/docq-go/internal/config"
	"github.com/docq-ai/docq-go/internal/docstore"
	"github.com/docq-ai/docq-go/internal/embedding"
	"github.com/docq-ai/docq-go/internal/queue"
)

// buildStore opens the configured document store. Cosmos is selected by
// STORE_BACKEND=cosmos or implicitly by a configured COSMOS_ENDPOINT; SQLite
// is the local-development fallback.
func buildStore(cfg *config.Config, log *slog.Logger) (docstore.Store, error) {
	backend := cfg.Store.Backend
	if backend == "" {
		if cfg.Cosmos.Endpoint != "" {
			backend = "cosmos"
		} else {
			backend = "sqlite"
		}
	}

	switch backend {
	case "cosmos":
		store, err := docstore.NewCosmosStore(&docstore.CosmosConfig{
			Endpoint:  cfg.Cosmos.Endpoint,
			Key:       cfg.Cosmos.Key,
			Database:  cfg.Cosmos.Database,
			Container: cfg.Cosmos.Container,
		})
		if err != nil {
			return nil, err
		}
		log.Info("store: cosmos",
			slog.String("database", cfg.Cosmos.Database),
			slog.String("container", cfg.Cosmos.Container),
		)
		return store, nil
	case "sqlite":
		store, err := docstore.OpenSQLite(cfg.Store.DBPath)
		if err != nil {
			return nil, err
		}
		log.Info("store: sqlite", slog.String("path", cfg.Store.DBPath))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q: use cosmos or sqlite", backend)
	}
}

// queueTransport bundles the producer and consumer sides of the ingestion
// queue. The Azure backend shares one client for both; the memory backend
// only makes sense when serve and worker run in the same process.
type queueTransport struct {
	producer queue.Producer
	consumer queue.Consumer
	pinger   interface {
		Ping(ctx context.Context) error
	}
}

// buildQueue connects the configured queue transport. Azure Storage Queues
// are selected by QUEUE_BACKEND=azure or implicitly by a configured
// connection string.
func buildQueue(cfg *config.Config, log *slog.Logger) (*queueTransport, error) {
	backend := cfg.Queue.Backend
	if backend == "" {
		if cfg.Queue.ConnectionString != "" {
			backend = "azure"
		} else {
			backend = "memory"
		}
	}

	switch backend {
	case "azure":
		q, err := queue.NewAzureQueue(cfg.Queue.ConnectionString, cfg.Queue.Name)
		if err != nil {
			return nil, err
		}
		log.Info("queue: azure storage", slog.String("name", cfg.Queue.Name))
		return &queueTransport{producer: q, consumer: q, pinger: q}, nil
	case "memory":
		q := queue.NewMemoryQueue()
		log.Warn("queue: in-memory transport, messages do not survive restarts and are invisible to other processes")
		return &queueTransport{producer: q, consumer: q, pinger: q}, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q: use azure or memory", backend)
	}
}

// buildEmbeddings constructs the paced embedding manager over the configured
// Azure OpenAI (or plain OpenAI) embeddings deployment.
func buildEmbeddings(cfg *config.Config) (*embedding.Manager, error) {
	if cfg.OpenAI.APIKey == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_API_KEY is required")
	}
	if cfg.OpenAI.EmbeddingsDeployment == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_EMBEDDINGS_DEPLOYMENT is required")
	}

	azure := cfg.OpenAI.Endpoint != ""
	baseURL := cfg.OpenAI.Endpoint
	if !azure {
		baseURL = "https://api.openai.com/v1"
	}

	embedder := embedding.NewOpenAIEmbedder(&embedding.OpenAIConfig{
		BaseURL:    baseURL,
		APIKey:     cfg.OpenAI.APIKey,
		Model:      cfg.OpenAI.EmbeddingsDeployment,
		Azure:      azure,
		APIVersion: cfg.OpenAI.APIVersion,
	})
	return embedding.NewManager(embedder), nil
}

// buildVerifier constructs the bearer token verifier. AUTH_DEV_BYPASS short-
// circuits verification with a synthetic identity; without it a JWKS URL is
// required, otherwise the API runs unauthenticated (with a startup warning
// from the server).
func buildVerifier(ctx context.Context, cfg *config.Config, log *slog.Logger) (auth.Verifier, error) {
	if cfg.Auth.DevBypass {
		log.Warn("auth: AUTH_DEV_BYPASS enabled, every request is accepted with a synthetic identity")
		return &auth.DevVerifier{}, nil
	}
	if cfg.Auth.JWKSURL == "" {
		return nil, nil
	}

	verifier, err := auth.NewJWKSVerifier(ctx, auth.JWKSConfig{
		JWKSURL:  cfg.Auth.JWKSURL,
		Audience: cfg.Auth.Audience,
		Issuer:   cfg.Auth.Issuer,
	})
	if err != nil {
		return nil, err
	}
	log.Info("auth: JWKS verification enabled", slog.String("jwks_url", cfg.Auth.JWKSURL))
	return verifier, nil
}
