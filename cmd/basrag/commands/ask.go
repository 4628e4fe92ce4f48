package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daemoniq/basrag/internal/embedder"
	"github.com/daemoniq/basrag/internal/provider"
	"github.com/daemoniq/basrag/internal/synthesis"
)

// NewAskCmd constructs the `basrag ask` command, which answers a single
// natural language question from the indexed corpus and streams the
// response to stdout.
func NewAskCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed building automation docs",
		Long: `Ask a natural language question about the indexed documentation.

The answer is synthesized strictly from retrieved document chunks and ends
with the source citations that back it. When RETRIEVAL_MODE=grounded and the
grounding service is reachable, retrieval is steered by the equipment
concepts found in the question.

Examples:
  basrag ask "why is the vav box not delivering airflow?"
  RETRIEVAL_MODE=grounded basrag ask "what is the chiller staging sequence?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("ask: failed to initialise model provider: %w", err)
			}

			components, closeRAG, err := buildRAG(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer closeRAG()

			synth, err := synthesis.New(&synthesis.Config{
				ChatModel: chatModel,
				Retriever: components.retriever,
				TopK:      topK,
			})
			if err != nil {
				return fmt.Errorf("ask: failed to initialise synthesizer: %w", err)
			}

			question := strings.Join(args, " ")
			answer, err := synth.AnswerStream(ctx, question, os.Stdout)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			if len(answer.Sources) > 0 {
				fmt.Printf("\n\nSources:\n")
				for _, src := range answer.Sources {
					fmt.Printf("  - %s\n", src)
				}
			}
			if answer.Retrieval != nil && answer.Retrieval.Reason != "" {
				fmt.Printf("\n(retrieval fell back to vanilla search: %s)\n", answer.Retrieval.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of context chunks to retrieve (0 = default)")

	return cmd
}
