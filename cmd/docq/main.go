// Command docq is the entry point for the document Q&A backend. It provides
// the HTTP API server, the queue worker, and supporting CLI commands.
package main

import (
	"fmt"
	"os"

	"github.com/docq-ai/docq-go/cmd/docq/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
