package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daemoniq/basrag/internal/ingestion"
	"github.com/daemoniq/basrag/internal/rag"
	"github.com/daemoniq/basrag/internal/store"
	"github.com/daemoniq/basrag/internal/synthesis"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// QueryTimeout bounds a single /api/query or /api/query/stream request,
	// including retrieval and model generation. Defaults to 2 minutes.
	QueryTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's Prometheus metric registrations.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs the GET /metrics endpoint.
	// Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Deps bundles the components the server exposes over HTTP.
type Deps struct {
	// Retriever serves POST /api/retrieve and backs answer synthesis.
	Retriever rag.Retriever
	// Synthesizer serves POST /api/query and /api/query/stream.
	Synthesizer *synthesis.Synthesizer
	// Pipeline serves POST /api/ingest. Optional; when nil the endpoint
	// reports that ingestion is not configured.
	Pipeline *ingestion.Pipeline
	// QueryLog persists one record per retrieval/query request. Optional;
	// when nil nothing is recorded and GET /api/history returns an empty list.
	QueryLog store.QueryLog
}

// answerer is the interface the query handlers call to synthesize an answer.
// *synthesis.Synthesizer satisfies it; tests inject a fake.
type answerer interface {
	// Answer produces a complete grounded answer for question.
	Answer(ctx context.Context, question string) (*synthesis.Answer, error)
	// AnswerStream streams the answer text to w as it is generated and
	// returns the accumulated result.
	AnswerStream(ctx context.Context, question string, w io.Writer) (*synthesis.Answer, error)
}

// ingester is the interface handleIngest calls to run a corpus ingestion.
// *ingestion.Pipeline satisfies it; tests inject a fake.
type ingester interface {
	Ingest(ctx context.Context, progress func(msg string)) (*ingestion.Stats, error)
}

// Server is the HTTP server that exposes retrieval, answer synthesis, and
// ingestion over a REST/SSE API.
type Server struct {
	// retriever serves /api/retrieve requests.
	retriever rag.Retriever
	// answerer serves /api/query and /api/query/stream; set to the
	// synthesizer in production, overridden by a fake in tests.
	answerer answerer
	// ingester serves /api/ingest, nil when ingestion is not configured.
	ingester ingester
	// queryLog persists query records, nil when persistence is disabled.
	queryLog store.QueryLog
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
	// metrics holds the Prometheus instruments owned by this server instance.
	metrics *serverMetrics
}

// retrieveRequest is the JSON body for POST /api/retrieve.
type retrieveRequest struct {
	// Query is the natural language retrieval query.
	Query string `json:"query"`
	// TopK is the number of candidates to return. Zero means the
	// retriever's default.
	TopK int `json:"top_k,omitempty"`
}

// retrievedDoc is one ranked candidate in a retrieveResponse.
type retrievedDoc struct {
	// Source is the originating file name.
	Source string `json:"source"`
	// Page is the page label the chunk came from ("?" when unknown).
	Page string `json:"page"`
	// Content is the chunk text.
	Content string `json:"content"`
	// Score is the raw similarity score from the index.
	Score float32 `json:"score"`
	// RerankedScore is the boosted score; zero on the vanilla path.
	RerankedScore float32 `json:"reranked_score,omitempty"`
	// Equipment holds the equipment kinds tagged at ingest time.
	Equipment []string `json:"equipment,omitempty"`
}

// retrieveResponse is the JSON response for POST /api/retrieve.
type retrieveResponse struct {
	// Mode is the retrieval path that served the request: grounded or vanilla.
	Mode string `json:"mode"`
	// Reason is the fallback tag when the vanilla path served a request in
	// grounded mode. Empty when the grounded path completed.
	Reason string `json:"reason,omitempty"`
	// Results is the ranked candidate list.
	Results []retrievedDoc `json:"results"`
}

// queryRequest is the JSON body for POST /api/query and /api/query/stream.
type queryRequest struct {
	// Question is the user's natural language question.
	Question string `json:"question"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	// Answer is the synthesized answer text.
	Answer string `json:"answer"`
	// Sources lists the deduplicated citations backing the answer.
	Sources []string `json:"sources"`
	// Mode is the retrieval path that produced the context.
	Mode string `json:"mode"`
	// Reason is the fallback tag, empty when the grounded path completed.
	Reason string `json:"reason,omitempty"`
}

// ingestResponse is the JSON response for POST /api/ingest.
type ingestResponse struct {
	// Files is the number of source files processed.
	Files int `json:"files"`
	// Chunks is the number of chunks embedded and stored.
	Chunks int `json:"chunks"`
	// Grounded is the number of chunks that received structured concepts.
	Grounded int `json:"grounded"`
	// Skipped is the number of files skipped due to extraction errors.
	Skipped int `json:"skipped"`
}

// historyEntry is one record in the GET /api/history response.
type historyEntry struct {
	// Query is the original query text.
	Query string `json:"query"`
	// Mode is the retrieval path that served it.
	Mode string `json:"mode"`
	// Reason is the fallback tag, empty for grounded or vanilla-mode serves.
	Reason string `json:"reason,omitempty"`
	// Candidates is the number of candidates returned.
	Candidates int `json:"candidates"`
	// DurationMS is the request duration in milliseconds.
	DurationMS int64 `json:"duration_ms"`
	// CreatedAt is the RFC 3339 timestamp of the request.
	CreatedAt time.Time `json:"created_at"`
}
