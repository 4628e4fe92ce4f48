package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/daemoniq/basrag/internal/embedder"
	"github.com/daemoniq/basrag/internal/ingestion"
	"github.com/daemoniq/basrag/internal/logging"
	"github.com/daemoniq/basrag/internal/provider"
	"github.com/daemoniq/basrag/internal/rag"
	"github.com/daemoniq/basrag/internal/server"
	"github.com/daemoniq/basrag/internal/store"
	"github.com/daemoniq/basrag/internal/synthesis"
	"github.com/daemoniq/basrag/internal/tracing"
)

// NewServeCmd constructs the `basrag serve` command, which starts the HTTP
// server exposing retrieval, answer synthesis, and ingestion.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the basrag HTTP server",
		Long: `Start the basrag HTTP server on localhost.

The server exposes a REST/SSE API: POST /api/retrieve for ranked chunks,
POST /api/query and /api/query/stream for synthesized answers, POST
/api/ingest to reindex the corpus directory, GET /api/history for recent
queries, and GET /metrics for Prometheus scraping.

Examples:
  basrag serve
  basrag serve --port 9090
  RETRIEVAL_MODE=grounded basrag serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Flags win over config; the config file's server section applies
			// only when the flag was left at its default.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("SERVER_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("SERVER_PORT", port)
			}

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting",
				slog.String("provider", os.Getenv("MODEL_PROVIDER")),
				slog.String("retrieval_mode", getEnvOrDefault("RETRIEVAL_MODE", "vanilla")),
			)

			// Setup Langfuse tracing — opt-in, no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			if err := embedder.ValidateForRAG(log); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			chatModel, err := provider.NewFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("serve: failed to initialise model provider: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", getEnvOrDefault("MODEL_PROVIDER", "ollama")))

			retrievalMetrics := rag.NewMetrics(prometheus.DefaultRegisterer)

			components, closeRAG, err := buildRAG(ctx, log, retrievalMetrics)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer closeRAG()

			synth, err := synthesis.New(&synthesis.Config{
				ChatModel: chatModel,
				Retriever: components.retriever,
				TopK:      getEnvInt("RETRIEVAL_TOP_K", 0),
			})
			if err != nil {
				return fmt.Errorf("serve: failed to initialise synthesizer: %w", err)
			}

			// The ingestion endpoint is enabled only when a corpus directory
			// is configured. Chunk grounding uses its own client with the
			// raised truncation limit.
			var pipeline *ingestion.Pipeline
			if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
				pipeline, err = ingestion.NewPipeline(
					components.embedder,
					components.store,
					buildGrounder(ingestMaxTextLen),
					&ingestion.Config{
						DataDir:      dataDir,
						ChunkSize:    getEnvInt("CHUNK_SIZE", 0),
						ChunkOverlap: getEnvInt("CHUNK_OVERLAP", 0),
					},
				)
				if err != nil {
					return fmt.Errorf("serve: failed to create ingestion pipeline: %w", err)
				}
				log.Info("ingestion enabled", slog.String("data_dir", dataDir))
			} else {
				log.Info("ingestion disabled", slog.String("reason", "DATA_DIR not set"))
			}

			// Open the query log. BASRAG_QUERY_LOG_DB overrides the default
			// path (~/.basrag/queries.db). Set to "disabled" to turn it off.
			var queryLog store.QueryLog
			dbPath := os.Getenv("BASRAG_QUERY_LOG_DB")
			if dbPath != "disabled" {
				if dbPath == "" {
					dbPath, err = store.DefaultDBPath()
					if err != nil {
						log.Warn("query log: could not resolve default DB path, disabling", slog.Any("error", err))
					}
				}
				if dbPath != "" {
					ql, qlErr := store.Open(dbPath)
					if qlErr != nil {
						log.Warn("query log: failed to open store, disabling", slog.Any("error", qlErr))
					} else {
						queryLog = ql
						defer func() { _ = ql.Close() }()
						log.Info("query log: store opened", slog.String("path", dbPath))
					}
				}
			} else {
				log.Info("query log: disabled via BASRAG_QUERY_LOG_DB=disabled")
			}

			pingers := []server.Pinger{
				server.NewLLMPinger(chatModel, getEnvOrDefault("MODEL_PROVIDER", "ollama")),
				server.NewQdrantPinger(components.store.Client()),
			}
			if retrievalConfig().Mode == rag.ModeGrounded {
				pingers = append(pingers, components.grounder)
			}

			srv, err := server.New(
				&server.Deps{
					Retriever:   components.retriever,
					Synthesizer: synth,
					Pipeline:    pipeline,
					QueryLog:    queryLog,
				},
				&server.Config{
					Host:    host,
					Port:    port,
					Logger:  log,
					Pingers: pingers,
					APIKey:  os.Getenv("BASRAG_API_KEY"),
				},
			)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
