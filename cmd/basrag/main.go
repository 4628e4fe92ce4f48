// Command basrag is the entry point for the BAS documentation assistant.
// It provides a CLI interface (via Cobra) and an optional HTTP server
// exposing grounded retrieval and answer synthesis over a REST/SSE API.
package main

import (
	"fmt"
	"os"

	"github.com/daemoniq/basrag/cmd/basrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
