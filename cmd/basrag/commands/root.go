// Package commands defines all Cobra CLI commands for the basrag binary.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/daemoniq/basrag/internal/audit"
	"github.com/daemoniq/basrag/internal/config"
	"github.com/daemoniq/basrag/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "basrag",
		Short: "basrag — ontology-grounded retrieval over building automation docs",
		Long: `basrag is a local-first RAG assistant for building automation engineers.

It indexes equipment manuals, sequences of operations, and commissioning
procedures into a Qdrant vector store, and answers questions about them.
When an ontology grounding service is available, retrieval is steered by
the equipment concepts extracted from each query (VAV boxes, AHUs,
chillers, pumps) and degrades to plain similarity search otherwise.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.basrag/config.yaml).
See 'basrag --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.basrag/config.yaml)")

	root.AddCommand(
		NewAskCmd(),
		NewRetrieveCmd(),
		NewServeCmd(),
		NewIngestCmd(),
		NewVersionCmd(),
	)

	return root
}
