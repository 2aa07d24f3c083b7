package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docq-ai/docq-go/internal/ingest"
	"github.com/docq-ai/docq-go/internal/logging"
	"github.com/docq-ai/docq-go/internal/queue"
)

// NewWorkerCmd constructs the `docq worker` command, the queue consumer that
// processes asynchronous ingestion messages.
func NewWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the ingestion queue consumer",
		Long: `Run the ingestion queue consumer.

The worker polls the ingestion queue and applies each message to the
document store: upserts write the record and attach its embedding, deletes
remove it. Processing is idempotent, so at-least-once delivery is safe.

Requires the Azure Storage queue configuration; the in-memory queue backend
is only visible inside a single process and cannot feed a separate worker.

Examples:
  docq worker
  AZURE_STORAGE_QUEUE_NAME=doc-ingestion docq worker`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			if cfg.Queue.ConnectionString == "" && cfg.Queue.Backend != "azure" {
				return fmt.Errorf("worker: AZURE_STORAGE_CONNECTION_STRING is required, the in-memory queue cannot feed a separate worker process")
			}

			store, err := buildStore(cfg, log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}
			defer func() { _ = store.Close() }()

			transport, err := buildQueue(cfg, log)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			embeddings, err := buildEmbeddings(cfg)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			pipeline, err := ingest.NewPipeline(store, embeddings)
			if err != nil {
				return fmt.Errorf("worker: %w", err)
			}

			log.Info("worker: consuming ingestion queue")
			if err := queue.Consume(ctx, transport.consumer, pipeline.ProcessMessage, log); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("worker: %w", err)
			}
			return nil
		},
	}
}
