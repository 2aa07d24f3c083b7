package commands

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/docq-ai/docq-go/internal/answer"
	"github.com/docq-ai/docq-go/internal/chat"
	"github.com/docq-ai/docq-go/internal/ingest"
	"github.com/docq-ai/docq-go/internal/logging"
	"github.com/docq-ai/docq-go/internal/queue"
	"github.com/docq-ai/docq-go/internal/server"
)

// NewServeCmd constructs the `docq serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docq HTTP API server",
		Long: `Start the docq HTTP API server.

The server exposes upload, ingestion, and question-answering endpoints.
Uploaded rows and documents are stored per user and embedded for retrieval;
the /api/upload-excel endpoint defers row processing to the queue worker
(run 'docq worker' alongside, or use QUEUE_BACKEND=memory for single-process
development).

Examples:
  docq serve
  docq serve --port 9090
  AUTH_DEV_BYPASS=true docq serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			store, err := buildStore(cfg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = store.Close() }()

			transport, err := buildQueue(cfg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			embeddings, err := buildEmbeddings(cfg)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			chatModel, err := chat.New(ctx, cfg.OpenAI)
			if err != nil {
				return fmt.Errorf("serve: initialise chat model: %w", err)
			}

			answerSvc, err := answer.NewService(chatModel, store, embeddings)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			pipeline, err := ingest.NewPipeline(store, embeddings)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			verifier, err := buildVerifier(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			if host == "" {
				host = cfg.Server.Host
			}
			if port == 0 {
				port = cfg.Server.Port
			}

			srv, err := server.New(server.Deps{
				Answer:   answerSvc,
				Pipeline: pipeline,
				Producer: transport.producer,
				Store:    store,
			}, &server.Config{
				Host:        host,
				Port:        port,
				Logger:      log,
				CORSOrigins: cfg.Server.CORSOrigins,
				Verifier:    verifier,
				Pingers: []server.Pinger{
					server.NewPinger("store", store),
					server.NewPinger("queue", transport.pinger),
				},
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			// When the queue is in-process, run the consumer alongside the
			// server so /api/upload-excel rows actually land in the store.
			if _, ok := transport.producer.(*queue.MemoryQueue); ok {
				go func() { _ = queue.Consume(ctx, transport.consumer, pipeline.ProcessMessage, log) }()
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Host address to bind to (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default from config)")

	return cmd
}
