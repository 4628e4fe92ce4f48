package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/daemoniq/basrag/internal/logging"
	"github.com/daemoniq/basrag/internal/rag"
	"github.com/daemoniq/basrag/internal/store"
)

// defaultHistoryLimit is the number of records GET /api/history returns when
// the caller does not pass ?limit.
const defaultHistoryLimit = 20

// handleRetrieve handles POST /api/retrieve. It runs the retrieval decision
// flow for the query and returns the ranked candidates together with the
// mode that served them.
func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	if req.TopK < 0 {
		http.Error(w, "top_k must not be negative", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.retriever.Retrieve(ctx, req.Query, req.TopK)
	if err != nil {
		// The retriever degrades through every soft failure itself, so an
		// error here means the index could not be searched at all.
		logging.FromContext(r.Context()).Error("retrieve failed", "error", err)
		http.Error(w, "retrieval index unavailable", http.StatusServiceUnavailable)
		return
	}

	s.recordQuery(r.Context(), req.Query, result, time.Since(start))

	resp := retrieveResponse{
		Mode:    string(result.Mode),
		Reason:  string(result.Reason),
		Results: make([]retrievedDoc, 0, len(result.Candidates)),
	}
	for _, doc := range result.Candidates {
		resp.Results = append(resp.Results, retrievedDoc{
			Source:        doc.Source,
			Page:          doc.Page,
			Content:       doc.Content,
			Score:         doc.Score,
			RerankedScore: doc.RerankedScore,
			Equipment:     doc.Equipment,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQuery handles POST /api/query. It retrieves context for the question,
// synthesizes a complete answer, and returns it with its source citations.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuestion(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	answer, err := s.answerer.Answer(ctx, req.Question)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.queryRequestsTotal.WithLabelValues(outcomeLabel(err)).Inc()
		logging.FromContext(r.Context()).Error("query failed", "error", err)
		http.Error(w, "answer generation failed", http.StatusBadGateway)
		return
	}
	s.metrics.queryRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.queryDurationSeconds.WithLabelValues("ok").Observe(elapsed.Seconds())

	s.recordQuery(r.Context(), req.Question, answer.Retrieval, elapsed)

	resp := queryResponse{
		Answer:  answer.Text,
		Sources: answer.Sources,
	}
	if answer.Retrieval != nil {
		resp.Mode = string(answer.Retrieval.Mode)
		resp.Reason = string(answer.Retrieval.Reason)
	}
	if resp.Sources == nil {
		resp.Sources = []string{}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleQueryStream handles POST /api/query/stream. It streams the answer
// over Server-Sent Events so clients can render tokens as they arrive, then
// emits the source citations and a done sentinel.
func (s *Server) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuestion(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.QueryTimeout)
	defer cancel()

	s.metrics.queryActiveStreams.Inc()
	defer s.metrics.queryActiveStreams.Dec()

	sw := &sseWriter{w: w, flusher: flusher}

	start := time.Now()
	answer, err := s.answerer.AnswerStream(ctx, req.Question, sw)
	elapsed := time.Since(start)
	if err != nil {
		outcome := outcomeLabel(err)
		s.metrics.queryRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.queryDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", err.Error())
		flusher.Flush()
		return
	}
	s.metrics.queryRequestsTotal.WithLabelValues("ok").Inc()
	s.metrics.queryDurationSeconds.WithLabelValues("ok").Observe(elapsed.Seconds())

	s.recordQuery(r.Context(), req.Question, answer.Retrieval, elapsed)

	if len(answer.Sources) > 0 {
		if data, err := json.Marshal(answer.Sources); err == nil {
			fmt.Fprintf(w, "event: sources\ndata: %s\n\n", data)
		}
	}
	// Signal stream completion.
	fmt.Fprintf(w, "event: done\ndata: [DONE]\n\n")
	flusher.Flush()
}

// handleIngest handles POST /api/ingest. It runs a synchronous ingestion over
// the configured corpus directory and returns the run statistics.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		http.Error(w, "ingestion is not configured", http.StatusServiceUnavailable)
		return
	}

	log := logging.FromContext(r.Context())
	stats, err := s.ingester.Ingest(r.Context(), func(msg string) {
		log.Info("ingest", "progress", msg)
	})
	if err != nil {
		log.Error("ingest failed", "error", err)
		http.Error(w, "ingestion failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, ingestResponse{
		Files:    stats.Files,
		Chunks:   stats.Chunks,
		Grounded: stats.Grounded,
		Skipped:  stats.Skipped,
	})
}

// handleHistory handles GET /api/history. It returns the most recent query
// records, newest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries := []historyEntry{}
	if s.queryLog != nil {
		records, err := s.queryLog.Recent(r.Context(), limit)
		if err != nil {
			logging.FromContext(r.Context()).Error("history lookup failed", "error", err)
			http.Error(w, "query log unavailable", http.StatusInternalServerError)
			return
		}
		for _, rec := range records {
			entries = append(entries, historyEntry{
				Query:      rec.Query,
				Mode:       rec.Mode,
				Reason:     rec.Reason,
				Candidates: rec.Candidates,
				DurationMS: rec.Duration.Milliseconds(),
				CreatedAt:  rec.CreatedAt,
			})
		}
	}
	writeJSON(w, http.StatusOK, entries)
}

// recordQuery appends one record to the query log. Persistence failures are
// logged and swallowed so they never fail the request that triggered them.
func (s *Server) recordQuery(ctx context.Context, query string, result *rag.Result, elapsed time.Duration) {
	if s.queryLog == nil || result == nil {
		return
	}
	rec := &store.QueryRecord{
		Query:      query,
		Mode:       string(result.Mode),
		Reason:     string(result.Reason),
		Candidates: len(result.Candidates),
		Duration:   elapsed,
	}
	if err := s.queryLog.Append(context.WithoutCancel(ctx), rec); err != nil {
		logging.FromContext(ctx).Warn("query log append failed", "error", err)
	}
}

// decodeQuestion parses and validates the shared request body of the two
// query endpoints. On failure it writes the error response and returns false.
func decodeQuestion(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if req.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// outcomeLabel maps an error to the metric outcome label.
func outcomeLabel(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

// writeJSON encodes v as the JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
