package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/daemoniq/basrag/internal/embedder"
	"github.com/daemoniq/basrag/internal/ingestion"
)

// NewIngestCmd constructs the `basrag ingest` command, which chunks, grounds,
// and indexes a directory of building automation documents into the Qdrant
// vector store.
func NewIngestCmd() *cobra.Command {
	var dir string
	var chunkSize int
	var chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest building automation documents into the vector store",
		Long: `Chunk, ground, and index a directory of documents into Qdrant.

Supported formats are PDF, plain text, and Markdown. Each chunk is tagged
with equipment concepts from the ontology grounding service when it is
reachable; when it is not, the run finishes ungrounded and the chunks are
still searchable by plain similarity.

Required environment variables:
  QDRANT_HOST          Qdrant server hostname (default: localhost)
  QDRANT_PORT          Qdrant gRPC port (default: 6334)
  QDRANT_COLLECTION    Collection name (default: basrag-docs)
  QDRANT_API_KEY       Optional API key for authenticated clusters
  MODEL_PROVIDER       Embedding backend: ollama, openai, azure (default: ollama)
  GROUNDING_URL        Ontology grounding service (default: http://localhost:8001)
  EMBEDDING_*          Provider-specific overrides (see README)

Examples:
  basrag ingest --dir ./docs
  basrag ingest --dir /srv/manuals --chunk-size 1500 --chunk-overlap 150
  DATA_DIR=./docs basrag ingest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := slog.Default()

			dataDir := dir
			if dataDir == "" {
				dataDir = getEnvOrDefault("DATA_DIR", "")
			}
			if dataDir == "" {
				return fmt.Errorf("ingest: --dir or DATA_DIR is required")
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			emb, err := embedder.NewFromEnv()
			if err != nil {
				return fmt.Errorf("ingest: failed to initialise embedder: %w", err)
			}
			log.Info("embedder initialised", slog.String("provider", getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))))

			store, err := buildStore(ctx)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer store.Close()
			log.Info("qdrant store ready", slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "basrag-docs")))

			if chunkSize == 0 {
				chunkSize = getEnvInt("CHUNK_SIZE", 0)
			}
			if chunkOverlap == 0 {
				chunkOverlap = getEnvInt("CHUNK_OVERLAP", 0)
			}

			pipeline, err := ingestion.NewPipeline(emb, store, buildGrounder(ingestMaxTextLen), &ingestion.Config{
				DataDir:      dataDir,
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.String("dir", dataDir))

			stats, err := pipeline.Ingest(ctx, func(msg string) {
				log.Info(msg)
			})
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed: %w", err)
			}

			log.Info("ingestion complete",
				slog.Int("files", stats.Files),
				slog.Int("chunks", stats.Chunks),
				slog.Int("grounded", stats.Grounded),
				slog.Int("skipped", stats.Skipped),
			)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "Directory of documents to ingest (default: DATA_DIR)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size in characters (0 = default 1000)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Chunk overlap in characters (0 = default 100)")

	return cmd
}
