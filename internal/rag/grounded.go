package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/daemoniq/basrag/internal/grounding"
	"github.com/daemoniq/basrag/internal/logging"
)

// Mode selects the retrieval strategy for the whole process.
type Mode string

const (
	// ModeVanilla forces plain similarity search for every request.
	ModeVanilla Mode = "vanilla"
	// ModeGrounded enables the full concept-steered decision flow.
	ModeGrounded Mode = "grounded"
)

// FallbackReason is the enumerable tag recorded on every transition into the
// vanilla path. Tags, not free text: they feed the fallback counter and the
// query log, and threshold tuning depends on them being aggregatable.
type FallbackReason string

const (
	// ReasonVanillaMode — the process is configured for vanilla retrieval.
	ReasonVanillaMode FallbackReason = "vanilla_mode"
	// ReasonGroundingUnavailable — the grounding service failed or timed out.
	ReasonGroundingUnavailable FallbackReason = "grounding_unavailable"
	// ReasonLowConfidence — extraction succeeded below the confidence gate.
	ReasonLowConfidence FallbackReason = "low_confidence"
	// ReasonNoDiscriminativeConcepts — confident grounding, but only generic
	// equipment or raw tags with no filterable structure.
	ReasonNoDiscriminativeConcepts FallbackReason = "no_discriminative_concepts"
	// ReasonNoFilterConditions — the filter builder produced no conditions.
	ReasonNoFilterConditions FallbackReason = "no_filter_conditions"
	// ReasonFilterTooRestrictive — the filtered search matched zero points.
	ReasonFilterTooRestrictive FallbackReason = "filter_too_restrictive"
)

// state enumerates the stages of the grounded retrieval flow. Every failure
// at every stage degrades to stateVanillaSearch; there is no hard-failure
// terminal state reachable from the decision logic itself (only the vector
// index erroring stops a request).
type state int

const (
	stateStart state = iota
	stateGround
	stateGate
	stateClassify
	stateFilterBuild
	stateFilteredSearch
	stateRerank
	stateVanillaSearch
	stateDone
	stateDoneVanilla
)

// String returns the state's log label.
func (s state) String() string {
	switch s {
	case stateStart:
		return "START"
	case stateGround:
		return "GROUND"
	case stateGate:
		return "GATE"
	case stateClassify:
		return "CLASSIFY"
	case stateFilterBuild:
		return "FILTER_BUILD"
	case stateFilteredSearch:
		return "FILTERED_SEARCH"
	case stateRerank:
		return "RERANK"
	case stateVanillaSearch:
		return "VANILLA_SEARCH"
	case stateDone:
		return "DONE"
	case stateDoneVanilla:
		return "DONE_VANILLA"
	default:
		return "UNKNOWN"
	}
}

// outcome carries the results of the side-effecting stages so that the
// transition function itself stays pure and independently testable.
type outcome struct {
	// mode is the configured retrieval mode.
	mode Mode
	// groundingFailed is true when the extractor returned Unavailable.
	groundingFailed bool
	// passedGate is true when confidence cleared the threshold.
	passedGate bool
	// usable is true when the classifier judged the concepts discriminative.
	usable bool
	// filter is the built retrieval filter; nil when no conditions resulted.
	filter *Filter
	// filteredHits is the candidate count returned by the filtered search.
	filteredHits int
}

// transition implements the decision flow's transition table. Given the
// state whose side effects have just completed and their outcome, it returns
// the next state and, on any transition into stateVanillaSearch, the
// triggering reason.
func transition(s state, o *outcome) (state, FallbackReason) {
	switch s {
	case stateStart:
		if o.mode != ModeGrounded {
			return stateVanillaSearch, ReasonVanillaMode
		}
		return stateGround, ""
	case stateGround:
		if o.groundingFailed {
			return stateVanillaSearch, ReasonGroundingUnavailable
		}
		return stateGate, ""
	case stateGate:
		if !o.passedGate {
			return stateVanillaSearch, ReasonLowConfidence
		}
		return stateClassify, ""
	case stateClassify:
		if !o.usable {
			return stateVanillaSearch, ReasonNoDiscriminativeConcepts
		}
		return stateFilterBuild, ""
	case stateFilterBuild:
		if o.filter == nil {
			return stateVanillaSearch, ReasonNoFilterConditions
		}
		return stateFilteredSearch, ""
	case stateFilteredSearch:
		if o.filteredHits == 0 {
			return stateVanillaSearch, ReasonFilterTooRestrictive
		}
		return stateRerank, ""
	case stateRerank:
		return stateDone, ""
	case stateVanillaSearch:
		return stateDoneVanilla, ""
	default:
		return stateDoneVanilla, ""
	}
}

// Result is the outcome of one retrieval handed to downstream consumers.
type Result struct {
	// Mode indicates which path served the request: grounded or vanilla.
	Mode Mode

	// Reason is the fallback tag when the vanilla path served the request.
	// Empty when the grounded path completed.
	Reason FallbackReason

	// Candidates is the ranked result list, length at most the requested
	// topK. On the grounded path RerankedScore is set on every candidate.
	Candidates []Document
}

// GroundedConfig holds the retrieval policy configuration, read once at
// startup and never mutated.
type GroundedConfig struct {
	// Mode selects vanilla or grounded retrieval (default: vanilla).
	Mode Mode

	// MinConfidence is the confidence gate threshold (default: 0.6).
	MinConfidence float64

	// OverFetchMultiplier scales topK for the filtered search so the
	// reranker has a meaningful pool to re-sort (default: 4).
	OverFetchMultiplier int

	// DefaultTopK is the result count used when a caller passes 0
	// (default: 4).
	DefaultTopK int

	// Debug promotes per-transition logging from debug to info level.
	Debug bool

	// Vocabulary is the equipment classification used by the concept
	// classifier. Defaults to grounding.DefaultVocabulary.
	Vocabulary *grounding.Vocabulary
}

// GroundedRetriever implements Retriever with the concept-steered decision
// flow: ground, gate, classify, filter, over-fetch, rerank — falling back to
// plain similarity search whenever any stage yields insufficient signal.
type GroundedRetriever struct {
	// embedder converts the query text to a dense vector.
	embedder Embedder

	// store performs the vector similarity search.
	store VectorStore

	// grounder extracts concepts from the query. May be nil in vanilla mode.
	grounder Grounder

	// metrics records modes, fallback reasons, and stage latency. May be nil.
	metrics *Metrics

	// cfg is the resolved retrieval policy.
	cfg GroundedConfig
}

// NewGroundedRetriever constructs a GroundedRetriever, applying defaults for
// unset config fields. A grounder is required in grounded mode.
func NewGroundedRetriever(embedder Embedder, store VectorStore, grounder Grounder, metrics *Metrics, cfg *GroundedConfig) (*GroundedRetriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}

	resolved := GroundedConfig{}
	if cfg != nil {
		resolved = *cfg
	}
	if resolved.Mode == "" {
		resolved.Mode = ModeVanilla
	}
	if resolved.MinConfidence <= 0 {
		resolved.MinConfidence = 0.6
	}
	if resolved.OverFetchMultiplier <= 0 {
		resolved.OverFetchMultiplier = 4
	}
	if resolved.DefaultTopK <= 0 {
		resolved.DefaultTopK = 4
	}
	if resolved.Vocabulary == nil {
		resolved.Vocabulary = grounding.DefaultVocabulary()
	}
	if resolved.Mode == ModeGrounded && grounder == nil {
		return nil, fmt.Errorf("rag: grounded mode requires a grounder")
	}

	return &GroundedRetriever{
		embedder: embedder,
		store:    store,
		grounder: grounder,
		metrics:  metrics,
		cfg:      resolved,
	}, nil
}

// Retrieve runs the retrieval decision flow for one query. The grounded path
// over-fetches topK × OverFetchMultiplier candidates, reranks them by
// concept overlap, and truncates back to topK; every insufficient-signal
// branch degrades deterministically to a plain topK similarity search.
//
// The only error Retrieve returns is a vector index (or embedding) failure —
// the terminal dependency with no further fallback. Grounding-side failures
// never surface to the caller.
func (r *GroundedRetriever) Retrieve(ctx context.Context, query string, topK int) (*Result, error) {
	if topK <= 0 {
		topK = r.cfg.DefaultTopK
	}

	log := logging.FromContext(ctx)
	logTransition := log.Debug
	if r.cfg.Debug {
		logTransition = log.Info
	}

	embeddings, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	queryEmbedding := embeddings[0]

	o := &outcome{mode: r.cfg.Mode}
	var (
		cs       *grounding.ConceptSet
		filtered []Document
		result   *Result
	)

	s := stateStart
	var reason FallbackReason
	for {
		next, fallback := transition(s, o)
		if fallback != "" {
			reason = fallback
			r.metrics.observeFallback(fallback)
			log.Info("retrieval: falling back to vanilla search",
				slog.String("reason", string(fallback)),
			)
		}
		logTransition("retrieval: state transition",
			slog.String("from", s.String()),
			slog.String("to", next.String()),
		)
		s = next

		switch s {
		case stateGround:
			start := time.Now()
			cs, err = r.grounder.Ground(ctx, query)
			r.metrics.observeStage("ground", time.Since(start))
			if err != nil {
				log.Warn("retrieval: grounding unavailable", slog.Any("error", err))
				o.groundingFailed = true
				cs = nil
			} else {
				logTransition("retrieval: query grounded",
					slog.Any("equipment", cs.Equipment),
					slog.Any("standard_classes", cs.StandardClasses),
					slog.Int("point_descriptors", len(cs.PointDescriptors)),
					slog.Float64("confidence", cs.Confidence),
				)
			}

		case stateGate:
			o.passedGate = grounding.Passes(cs, r.cfg.MinConfidence)

		case stateClassify:
			o.usable = r.cfg.Vocabulary.IsUsable(cs)

		case stateFilterBuild:
			o.filter = BuildConceptFilter(cs)
			if o.filter != nil {
				logTransition("retrieval: filter built",
					slog.Int("conditions", len(o.filter.Conditions)),
				)
			}

		case stateFilteredSearch:
			overFetch := topK * r.cfg.OverFetchMultiplier
			start := time.Now()
			filtered, err = r.store.Search(ctx, queryEmbedding, o.filter, overFetch)
			r.metrics.observeStage("search", time.Since(start))
			if err != nil {
				return nil, fmt.Errorf("rag: filtered search failed: %w", err)
			}
			o.filteredHits = len(filtered)
			logTransition("retrieval: filtered search complete",
				slog.Int("limit", overFetch),
				slog.Int("hits", len(filtered)),
			)

		case stateRerank:
			result = &Result{
				Mode:       ModeGrounded,
				Candidates: RerankByOverlap(ctx, filtered, cs, topK),
			}

		case stateVanillaSearch:
			start := time.Now()
			docs, searchErr := r.store.Search(ctx, queryEmbedding, nil, topK)
			r.metrics.observeStage("search", time.Since(start))
			if searchErr != nil {
				return nil, fmt.Errorf("rag: vector search failed: %w", searchErr)
			}
			result = &Result{
				Mode:       ModeVanilla,
				Reason:     reason,
				Candidates: docs,
			}

		case stateDone, stateDoneVanilla:
			r.metrics.observeRequest(result.Mode)
			log.Debug("retrieval: complete",
				slog.String("mode", string(result.Mode)),
				slog.Int("candidates", len(result.Candidates)),
			)
			return result, nil
		}
	}
}
