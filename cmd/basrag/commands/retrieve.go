package commands

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daemoniq/basrag/internal/embedder"
)

// snippetLen is the number of content characters printed per candidate.
const snippetLen = 200

// NewRetrieveCmd constructs the `basrag retrieve` command, which runs the
// retrieval decision flow for a single query and prints the ranked
// candidates without answer synthesis.
func NewRetrieveCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "retrieve [query]",
		Short: "Retrieve ranked document chunks for a query",
		Long: `Run the retrieval decision flow for a query and print the ranked candidates.

This is the inspection counterpart to 'basrag ask': it shows which chunks
would feed the answer, which mode served the request (grounded or vanilla),
and the fallback reason when grounding could not be used.

Examples:
  basrag retrieve "vav box not delivering airflow"
  RETRIEVAL_MODE=grounded basrag retrieve --top-k 8 "chiller staging sequence"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}

			components, closeRAG, err := buildRAG(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}
			defer closeRAG()

			query := strings.Join(args, " ")
			result, err := components.retriever.Retrieve(ctx, query, topK)
			if err != nil {
				return fmt.Errorf("retrieve: %w", err)
			}

			fmt.Printf("mode: %s\n", result.Mode)
			if result.Reason != "" {
				fmt.Printf("fallback: %s\n", result.Reason)
			}
			if len(result.Candidates) == 0 {
				fmt.Println("no results")
				return nil
			}

			for i, doc := range result.Candidates {
				fmt.Printf("\n%d. %s (p.%s)  score=%.4f", i+1, doc.Source, doc.Page, doc.Score)
				if doc.RerankedScore > 0 {
					fmt.Printf("  reranked=%.4f", doc.RerankedScore)
				}
				fmt.Println()
				if len(doc.Equipment) > 0 {
					fmt.Printf("   equipment: %s\n", strings.Join(doc.Equipment, ", "))
				}
				fmt.Printf("   %s\n", snippet(doc.Content))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of candidates to return (0 = retriever default)")

	return cmd
}

// snippet truncates content to a single printable line.
func snippet(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	if len(s) > snippetLen {
		s = s[:snippetLen] + "..."
	}
	return s
}
