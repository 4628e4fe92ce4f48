package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/daemoniq/basrag/internal/grounding"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeEmbedder returns a fixed embedding per input text.
type fakeEmbedder struct {
	// err is returned from Embed when set.
	err error
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

// searchCall records one Search invocation for assertion.
type searchCall struct {
	// filter is the filter passed to the call (nil for vanilla search).
	filter *Filter
	// limit is the requested candidate count.
	limit int
}

// fakeStore implements VectorStore returning canned result sets.
type fakeStore struct {
	// filtered is returned (truncated to limit) for filtered searches.
	filtered []Document
	// vanilla is returned (truncated to limit) for unfiltered searches.
	vanilla []Document
	// err is returned from Search when set.
	err error
	// calls records every Search invocation in order.
	calls []searchCall
}

func (f *fakeStore) Search(_ context.Context, _ []float32, filter *Filter, limit int) ([]Document, error) {
	f.calls = append(f.calls, searchCall{filter: filter, limit: limit})
	if f.err != nil {
		return nil, f.err
	}
	docs := f.vanilla
	if filter != nil {
		docs = f.filtered
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

func (f *fakeStore) Upsert(context.Context, []Document, [][]float32) error { return nil }
func (f *fakeStore) Delete(context.Context, []string) error               { return nil }
func (f *fakeStore) Close() error                                         { return nil }

// fakeGrounder returns a canned concept set or error.
type fakeGrounder struct {
	// cs is the concept set returned on success.
	cs *grounding.ConceptSet
	// err is returned when set (grounding unavailable).
	err error
	// calls counts Ground invocations.
	calls int
}

func (f *fakeGrounder) Ground(context.Context, string) (*grounding.ConceptSet, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.cs, nil
}

// newTestRetriever wires a GroundedRetriever from the given fakes in
// grounded mode with the default thresholds.
func newTestRetriever(t *testing.T, store *fakeStore, grounder Grounder, mode Mode) *GroundedRetriever {
	t.Helper()
	r, err := NewGroundedRetriever(&fakeEmbedder{}, store, grounder, nil, &GroundedConfig{Mode: mode})
	if err != nil {
		t.Fatalf("NewGroundedRetriever: %v", err)
	}
	return r
}

// vavConcepts is a confident, usable grounding result.
func vavConcepts() *grounding.ConceptSet {
	return &grounding.ConceptSet{
		Equipment:       []string{"vav"},
		StandardClasses: []string{"Variable_Air_Volume_Box"},
		Confidence:      1.0,
	}
}

// ---------------------------------------------------------------------------
// Transition table
// ---------------------------------------------------------------------------

func TestTransition_Table(t *testing.T) {
	t.Parallel()

	filter := &Filter{Conditions: []FieldCondition{{Key: FieldEquipment, Any: []string{"vav"}}}}

	tests := []struct {
		name       string
		from       state
		o          outcome
		wantNext   state
		wantReason FallbackReason
	}{
		{"vanilla mode skips grounding", stateStart, outcome{mode: ModeVanilla}, stateVanillaSearch, ReasonVanillaMode},
		{"grounded mode grounds", stateStart, outcome{mode: ModeGrounded}, stateGround, ""},
		{"grounding failure falls back", stateGround, outcome{groundingFailed: true}, stateVanillaSearch, ReasonGroundingUnavailable},
		{"grounding success gates", stateGround, outcome{}, stateGate, ""},
		{"low confidence falls back", stateGate, outcome{passedGate: false}, stateVanillaSearch, ReasonLowConfidence},
		{"passed gate classifies", stateGate, outcome{passedGate: true}, stateClassify, ""},
		{"unusable concepts fall back", stateClassify, outcome{usable: false}, stateVanillaSearch, ReasonNoDiscriminativeConcepts},
		{"usable concepts build filter", stateClassify, outcome{usable: true}, stateFilterBuild, ""},
		{"nil filter falls back", stateFilterBuild, outcome{filter: nil}, stateVanillaSearch, ReasonNoFilterConditions},
		{"filter proceeds to search", stateFilterBuild, outcome{filter: filter}, stateFilteredSearch, ""},
		{"zero hits fall back", stateFilteredSearch, outcome{filteredHits: 0}, stateVanillaSearch, ReasonFilterTooRestrictive},
		{"hits proceed to rerank", stateFilteredSearch, outcome{filteredHits: 3}, stateRerank, ""},
		{"rerank completes", stateRerank, outcome{}, stateDone, ""},
		{"vanilla search completes", stateVanillaSearch, outcome{}, stateDoneVanilla, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next, reason := transition(tt.from, &tt.o)
			if next != tt.wantNext {
				t.Errorf("next state: got %s, want %s", next, tt.wantNext)
			}
			if reason != tt.wantReason {
				t.Errorf("reason: got %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Retrieve — end to end over fakes
// ---------------------------------------------------------------------------

func TestRetrieve_VanillaMode(t *testing.T) {
	t.Parallel()

	store := &fakeStore{vanilla: []Document{{ID: "a", Score: 0.9}}}
	grounder := &fakeGrounder{cs: vavConcepts()}
	r := newTestRetriever(t, store, grounder, ModeVanilla)

	res, err := r.Retrieve(context.Background(), "anything", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Mode != ModeVanilla {
		t.Errorf("mode: got %s, want vanilla", res.Mode)
	}
	if res.Reason != ReasonVanillaMode {
		t.Errorf("reason: got %q, want %q", res.Reason, ReasonVanillaMode)
	}
	if grounder.calls != 0 {
		t.Errorf("grounder must not be called in vanilla mode, got %d calls", grounder.calls)
	}
	if len(store.calls) != 1 || store.calls[0].filter != nil || store.calls[0].limit != 4 {
		t.Errorf("want a single unfiltered topK search, got %+v", store.calls)
	}
}

func TestRetrieve_GroundedHappyPath(t *testing.T) {
	t.Parallel()

	// A pool larger than topK: the boosted candidate must overtake the
	// higher-similarity plain ones after reranking.
	pool := []Document{
		{ID: "p1", Score: 0.80},
		{ID: "p2", Score: 0.78},
		{ID: "boosted", Score: 0.7540, Equipment: []string{"vav"}, StandardClasses: []string{"Variable_Air_Volume_Box"}},
		{ID: "p3", Score: 0.70},
		{ID: "p4", Score: 0.60},
		{ID: "p5", Score: 0.50},
	}
	store := &fakeStore{filtered: pool}
	grounder := &fakeGrounder{cs: vavConcepts()}
	r := newTestRetriever(t, store, grounder, ModeGrounded)

	res, err := r.Retrieve(context.Background(), "VAV discharge air temperature too high", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if res.Mode != ModeGrounded {
		t.Errorf("mode: got %s, want grounded", res.Mode)
	}
	if res.Reason != "" {
		t.Errorf("reason: got %q, want empty", res.Reason)
	}
	if len(store.calls) != 1 {
		t.Fatalf("want a single filtered search, got %d calls", len(store.calls))
	}
	// Over-fetch: topK 4 × multiplier 4.
	if store.calls[0].limit != 16 {
		t.Errorf("over-fetch limit: got %d, want 16", store.calls[0].limit)
	}
	if store.calls[0].filter == nil || len(store.calls[0].filter.Conditions) != 2 {
		t.Errorf("filter: got %+v, want 2 conditions", store.calls[0].filter)
	}

	if len(res.Candidates) != 4 {
		t.Fatalf("candidates: got %d, want topK=4", len(res.Candidates))
	}
	// 0.7540 × 1.5 × 1.3 = 1.4703 beats every plain 0.80.
	if res.Candidates[0].ID != "boosted" {
		t.Errorf("first candidate: got %q, want the boosted one", res.Candidates[0].ID)
	}
	// Filtering narrows: every returned candidate came from the base pool.
	inPool := map[string]bool{}
	for _, d := range pool {
		inPool[d.ID] = true
	}
	for _, c := range res.Candidates {
		if !inPool[c.ID] {
			t.Errorf("candidate %q not present in the retrieved pool", c.ID)
		}
		if c.RerankedScore < c.Score {
			t.Errorf("candidate %q reranked below raw similarity", c.ID)
		}
	}
}

func TestRetrieve_GroundingUnavailable(t *testing.T) {
	t.Parallel()

	store := &fakeStore{vanilla: []Document{{ID: "a", Score: 0.9}}}
	grounder := &fakeGrounder{err: fmt.Errorf("%w: connection refused", grounding.ErrUnavailable)}
	r := newTestRetriever(t, store, grounder, ModeGrounded)

	res, err := r.Retrieve(context.Background(), "query", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Mode != ModeVanilla || res.Reason != ReasonGroundingUnavailable {
		t.Errorf("got mode %s reason %q, want vanilla/grounding_unavailable", res.Mode, res.Reason)
	}
	if len(store.calls) != 1 || store.calls[0].filter != nil {
		t.Errorf("want a single unfiltered search, got %+v", store.calls)
	}
}

func TestRetrieve_LowConfidence(t *testing.T) {
	t.Parallel()

	store := &fakeStore{vanilla: []Document{{ID: "a", Score: 0.9}}}
	// "fan not working": extraction succeeded but found nothing.
	grounder := &fakeGrounder{cs: &grounding.ConceptSet{Confidence: 0.0}}
	r := newTestRetriever(t, store, grounder, ModeGrounded)

	res, err := r.Retrieve(context.Background(), "fan not working", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Mode != ModeVanilla || res.Reason != ReasonLowConfidence {
		t.Errorf("got mode %s reason %q, want vanilla/low_confidence", res.Mode, res.Reason)
	}
}

func TestRetrieve_GenericOnlyConcepts(t *testing.T) {
	t.Parallel()

	store := &fakeStore{vanilla: []Document{{ID: "a", Score: 0.9}}}
	// "sensor status check": confident, but nothing discriminative.
	grounder := &fakeGrounder{cs: &grounding.ConceptSet{
		Equipment:  []string{"sensor"},
		Confidence: 0.9,
	}}
	r := newTestRetriever(t, store, grounder, ModeGrounded)

	res, err := r.Retrieve(context.Background(), "sensor status check", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if res.Mode != ModeVanilla || res.Reason != ReasonNoDiscriminativeConcepts {
		t.Errorf("got mode %s reason %q, want vanilla/no_discriminative_concepts", res.Mode, res.Reason)
	}
}

func TestRetrieve_FilterTooRestrictive(t *testing.T) {
	t.Parallel()

	vanilla := []Document{
		{ID: "v1", Score: 0.5},
		{ID: "v2", Score: 0.4},
		{ID: "v3", Score: 0.3},
		{ID: "v4", Score: 0.2},
	}
	store := &fakeStore{filtered: nil, vanilla: vanilla}
	grounder := &fakeGrounder{cs: vavConcepts()}
	r := newTestRetriever(t, store, grounder, ModeGrounded)

	res, err := r.Retrieve(context.Background(), "rare equipment query", 4)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	if res.Mode != ModeVanilla || res.Reason != ReasonFilterTooRestrictive {
		t.Errorf("got mode %s reason %q, want vanilla/filter_too_restrictive", res.Mode, res.Reason)
	}
	// Filtered attempt first, then the vanilla rescue — never an empty result.
	if len(store.calls) != 2 {
		t.Fatalf("want 2 search calls, got %d", len(store.calls))
	}
	if store.calls[0].filter == nil || store.calls[1].filter != nil {
		t.Errorf("call order wrong: %+v", store.calls)
	}
	if len(res.Candidates) != 4 {
		t.Errorf("want topK vanilla candidates, got %d", len(res.Candidates))
	}
}

func TestRetrieve_IndexUnavailableIsAnError(t *testing.T) {
	t.Parallel()

	indexErr := errors.New("connection refused")
	store := &fakeStore{err: indexErr}
	grounder := &fakeGrounder{cs: vavConcepts()}
	r := newTestRetriever(t, store, grounder, ModeGrounded)

	_, err := r.Retrieve(context.Background(), "query", 4)
	if err == nil {
		t.Fatal("want error when the index is unreachable, got nil")
	}
	if !errors.Is(err, indexErr) {
		t.Errorf("want wrapped index error, got %v", err)
	}
}

func TestRetrieve_DefaultTopK(t *testing.T) {
	t.Parallel()

	store := &fakeStore{vanilla: []Document{{ID: "a", Score: 0.9}}}
	r := newTestRetriever(t, store, nil, ModeVanilla)

	if _, err := r.Retrieve(context.Background(), "query", 0); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if store.calls[0].limit != 4 {
		t.Errorf("default topK: got %d, want 4", store.calls[0].limit)
	}
}

func TestNewGroundedRetriever_Validation(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	if _, err := NewGroundedRetriever(nil, store, nil, nil, nil); err == nil {
		t.Error("nil embedder must be rejected")
	}
	if _, err := NewGroundedRetriever(&fakeEmbedder{}, nil, nil, nil, nil); err == nil {
		t.Error("nil store must be rejected")
	}
	if _, err := NewGroundedRetriever(&fakeEmbedder{}, store, nil, nil, &GroundedConfig{Mode: ModeGrounded}); err == nil {
		t.Error("grounded mode without a grounder must be rejected")
	}
}
