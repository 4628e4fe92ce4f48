// Package synthesis turns retrieval results into grounded answers. It bridges
// the retrieval decision flow and the Eino chat model: retrieved chunks are
// assembled into a context message, trimmed to the token budget, and the
// model is instructed to answer strictly from that context.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/daemoniq/basrag/internal/budget"
	"github.com/daemoniq/basrag/internal/logging"
	"github.com/daemoniq/basrag/internal/rag"
)

// systemPrompt instructs the model to answer from the supplied maintenance
// documentation only. Hallucinated procedures are worse than no answer in a
// building operations setting.
const systemPrompt = `You are a building automation systems (BAS) assistant for facility
operators and HVAC technicians. You answer questions about equipment
operation, maintenance procedures, and fault diagnosis.

Rules:
- Answer ONLY from the provided documentation context. If the context does
  not contain the answer, say so plainly and suggest what documentation the
  operator should consult instead.
- Reference equipment by its standard name (VAV, AHU, FCU, chiller, boiler)
  and include the source document and page when citing a procedure.
- Safety steps (lockout/tagout, refrigerant handling, electrical isolation)
  must never be summarised away. Quote them in full.
- Keep answers concise and procedural: numbered steps for procedures,
  short paragraphs for explanations.`

// Config holds the dependencies required to construct a Synthesizer.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Retriever supplies documentation context for each question.
	Retriever rag.Retriever

	// TopK controls how many retrieved chunks are injected per question.
	// Defaults to 4 if zero.
	TopK int

	// MaxContextTokens is the estimated token budget for the full input
	// (system prompt + context + question). Chunks are trimmed weakest-first
	// to fit. Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
}

// Synthesizer answers questions from retrieved documentation.
type Synthesizer struct {
	// chatModel is the LLM backend.
	chatModel model.BaseChatModel

	// retriever supplies documentation context.
	retriever rag.Retriever

	// topK is the number of chunks injected per question.
	topK int

	// maxContextTokens is the estimated input token budget.
	maxContextTokens int
}

// Answer is a synthesized response with its supporting evidence.
type Answer struct {
	// Text is the model's answer.
	Text string

	// Sources lists the deduplicated source citations, e.g. "ahu-manual.pdf (p.12)".
	Sources []string

	// Retrieval is the retrieval decision that produced the context,
	// including mode and any fallback reason.
	Retrieval *rag.Result
}

// New constructs a Synthesizer from the provided Config.
func New(cfg *Config) (*Synthesizer, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("synthesis: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("synthesis: Retriever must not be nil")
	}

	topK := cfg.TopK
	if topK <= 0 {
		topK = 4
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}

	return &Synthesizer{
		chatModel:        cfg.ChatModel,
		retriever:        cfg.Retriever,
		topK:             topK,
		maxContextTokens: maxCtx,
	}, nil
}

// Answer retrieves context for the question and generates a complete answer.
func (s *Synthesizer) Answer(ctx context.Context, question string) (*Answer, error) {
	messages, ans, err := s.prepare(ctx, question)
	if err != nil {
		return nil, err
	}

	msg, err := s.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("synthesis: generate failed: %w", err)
	}
	ans.Text = msg.Content
	return ans, nil
}

// AnswerStream retrieves context for the question and streams the answer
// token-by-token to w. The full answer text is also returned so callers can
// persist it.
func (s *Synthesizer) AnswerStream(ctx context.Context, question string, w io.Writer) (*Answer, error) {
	messages, ans, err := s.prepare(ctx, question)
	if err != nil {
		return nil, err
	}

	sr, err := s.chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("synthesis: stream failed: %w", err)
	}
	defer sr.Close()

	var sb strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("synthesis: stream receive error: %w", err)
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		sb.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return nil, fmt.Errorf("synthesis: write error: %w", err)
		}
	}

	ans.Text = sb.String()
	return ans, nil
}

// prepare retrieves context, builds the message slice, and returns the
// partially populated Answer (everything but Text).
func (s *Synthesizer) prepare(ctx context.Context, question string) ([]*schema.Message, *Answer, error) {
	result, err := s.retriever.Retrieve(ctx, question, s.topK)
	if err != nil {
		return nil, nil, fmt.Errorf("synthesis: retrieval failed: %w", err)
	}

	chunks := make([]string, 0, len(result.Candidates))
	for _, doc := range result.Candidates {
		chunks = append(chunks, formatChunk(doc))
	}

	fixed := []*schema.Message{
		schema.SystemMessage(systemPrompt),
		schema.UserMessage(question),
	}

	before := len(chunks)
	chunks = budget.TrimChunks(fixed, chunks, s.maxContextTokens)
	if dropped := before - len(chunks); dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped context chunks to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(chunks)),
			slog.Int("max_tokens", s.maxContextTokens),
		)
	}

	messages := []*schema.Message{schema.SystemMessage(systemPrompt)}
	if len(chunks) > 0 {
		messages = append(messages, schema.SystemMessage(buildContext(chunks)))
	}
	messages = append(messages, schema.UserMessage(question))

	ans := &Answer{
		Sources:   collectSources(result.Candidates[:min(len(chunks), len(result.Candidates))]),
		Retrieval: result,
	}
	return messages, ans, nil
}

// formatChunk renders one retrieved document as a context block.
func formatChunk(doc rag.Document) string {
	return fmt.Sprintf("### %s\n%s", citation(doc), doc.Content)
}

// buildContext formats trimmed chunks into a single system message.
func buildContext(chunks []string) string {
	return "## Documentation Context\n\n" +
		"The following excerpts were retrieved for the operator's question. " +
		"Answer from these excerpts only.\n\n" +
		strings.Join(chunks, "\n\n")
}

// citation renders a document's source label, e.g. "ahu-manual.pdf (p.12)".
func citation(doc rag.Document) string {
	if doc.Source == "" {
		return "unknown source"
	}
	if doc.Page != "" && doc.Page != "?" {
		return fmt.Sprintf("%s (p.%s)", doc.Source, doc.Page)
	}
	return doc.Source
}

// collectSources returns the deduplicated citation list in rank order.
func collectSources(docs []rag.Document) []string {
	seen := make(map[string]bool, len(docs))
	var out []string
	for _, doc := range docs {
		c := citation(doc)
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}
