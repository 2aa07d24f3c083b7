// Package commands defines all Cobra CLI commands for the docq binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/docq-ai/docq-go/internal/audit"
	"github.com/docq-ai/docq-go/internal/config"
	"github.com/docq-ai/docq-go/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// cfg is the configuration resolved by the root command's pre-run, shared by
// all subcommands.
var cfg *config.Config

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docq",
		Short: "Document Q&A backend with RAG over uploaded files",
		Long: `docq is the backend for a document question-answering service.

Users upload tabular data (CSV/XLSX) and policy documents (PDF/DOCX/TXT),
which are normalized, embedded, and stored per user. Questions are then
answered by the language model using only that user's documents as context.

Run 'docq serve' for the HTTP API and 'docq worker' for the queue consumer.
Configuration comes from a YAML file (~/.docq/config.yaml), a local .env
file, and environment variables; environment always wins.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Local .env for development. Missing file is not an error.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			cfg = config.FromEnv()

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), path)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.docq/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewWorkerCmd(),
		NewVersionCmd(),
	)

	return root
}
