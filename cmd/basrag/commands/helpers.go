package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/daemoniq/basrag/internal/embedder"
	"github.com/daemoniq/basrag/internal/grounding"
	"github.com/daemoniq/basrag/internal/rag"
)

// ingestMaxTextLen is the grounding truncation limit used for document
// chunks. Queries keep the client default; chunks are longer, so the
// ingestion pipeline submits up to 800 characters per chunk.
const ingestMaxTextLen = 800

// ragComponents bundles the retrieval stack shared by the CLI commands.
type ragComponents struct {
	// embedder converts text to dense vectors.
	embedder rag.Embedder
	// store is the Qdrant-backed vector store.
	store *rag.QdrantStore
	// grounder is the ontology grounding client. Nil when retrieval runs
	// in vanilla mode and no GROUNDING_URL is set.
	grounder *grounding.Client
	// retriever is the assembled decision-flow retriever.
	retriever *rag.GroundedRetriever
}

// buildRAG wires the embedder, vector store, grounding client, and retriever
// from the environment. The returned closer releases the Qdrant connection.
func buildRAG(ctx context.Context, log *slog.Logger, metrics *rag.Metrics) (*ragComponents, func(), error) {
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	store, err := buildStore(ctx)
	if err != nil {
		return nil, nil, err
	}

	grounder := buildGrounder(0)

	retriever, err := rag.NewGroundedRetriever(emb, store, grounder, metrics, retrievalConfig())
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to initialise retriever: %w", err)
	}

	log.Info("retrieval stack ready",
		slog.String("mode", string(retrievalConfig().Mode)),
		slog.String("collection", getEnvOrDefault("QDRANT_COLLECTION", "basrag-docs")),
	)

	return &ragComponents{
		embedder:  emb,
		store:     store,
		grounder:  grounder,
		retriever: retriever,
	}, func() { _ = store.Close() }, nil
}

// buildStore connects to Qdrant using the QDRANT_* environment variables.
func buildStore(ctx context.Context) (*rag.QdrantStore, error) {
	host := getEnvOrDefault("QDRANT_HOST", "localhost")
	port := getEnvInt("QDRANT_PORT", 6334)
	embBackend := getEnvOrDefault("EMBEDDING_PROVIDER", getEnvOrDefault("MODEL_PROVIDER", "ollama"))
	vectorSize := uint64(embedder.DefaultDimensions(embBackend)) //nolint:gosec // dimensions are bounded

	store, err := rag.NewQdrantStore(ctx, &rag.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "basrag-docs"),
		VectorSize: vectorSize,
		APIKey:     os.Getenv("QDRANT_API_KEY"),
		UseTLS:     os.Getenv("QDRANT_TLS") == "true",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", host, port, err)
	}
	return store, nil
}

// buildGrounder constructs the grounding client from GROUNDING_URL.
// A zero maxTextLen keeps the client's query default.
func buildGrounder(maxTextLen int) *grounding.Client {
	return grounding.NewClient(&grounding.ClientConfig{
		BaseURL:    os.Getenv("GROUNDING_URL"),
		MaxTextLen: maxTextLen,
	})
}

// retrievalConfig resolves the retrieval policy from the environment.
func retrievalConfig() *rag.GroundedConfig {
	return &rag.GroundedConfig{
		Mode:                rag.Mode(getEnvOrDefault("RETRIEVAL_MODE", "vanilla")),
		MinConfidence:       getEnvFloat("GROUNDED_MIN_CONF", 0),
		OverFetchMultiplier: getEnvInt("GROUNDED_LIMIT_MULT", 0),
		DefaultTopK:         getEnvInt("RETRIEVAL_TOP_K", 0),
		Debug:               os.Getenv("RETRIEVAL_DEBUG") == "true",
	}
}

// getEnvOrDefault returns the env var value or fallback when unset/empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the env var parsed as int, or fallback when unset or invalid.
func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// getEnvFloat returns the env var parsed as float64, or fallback when unset or invalid.
func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
