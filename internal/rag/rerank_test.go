package rag

import (
	"context"
	"math"
	"testing"

	"github.com/daemoniq/basrag/internal/grounding"
)

// queryConcepts is the fixed concept set used across rerank tests.
func queryConcepts() *grounding.ConceptSet {
	return &grounding.ConceptSet{
		Equipment:        []string{"vav"},
		StandardClasses:  []string{"Variable_Air_Volume_Box"},
		PointDescriptors: []string{"discharge air temp sensor"},
		Confidence:       1.0,
	}
}

func TestRerankByOverlap_BoostFactors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		doc  Document
		want float32
	}{
		{
			name: "no overlap keeps score",
			doc:  Document{ID: "a", Score: 0.5},
			want: 0.5,
		},
		{
			name: "equipment overlap boosts 1.5x",
			doc:  Document{ID: "b", Score: 0.5, Equipment: []string{"vav", "ahu"}},
			want: 0.75,
		},
		{
			name: "standard class overlap boosts 1.3x",
			doc:  Document{ID: "c", Score: 0.5, StandardClasses: []string{"Variable_Air_Volume_Box"}},
			want: 0.65,
		},
		{
			name: "point descriptor overlap boosts 1.2x",
			doc:  Document{ID: "d", Score: 0.5, PointDescriptors: []string{"discharge air temp sensor"}},
			want: 0.6,
		},
		{
			name: "equipment and class compose to 1.95x",
			doc: Document{ID: "e", Score: 0.7540,
				Equipment:       []string{"vav"},
				StandardClasses: []string{"Variable_Air_Volume_Box"},
			},
			want: 1.4703, // 0.7540 × 1.5 × 1.3
		},
		{
			name: "all three compose to 2.34x",
			doc: Document{ID: "f", Score: 0.5,
				Equipment:        []string{"vav"},
				StandardClasses:  []string{"Variable_Air_Volume_Box"},
				PointDescriptors: []string{"discharge air temp sensor"},
			},
			want: 1.17,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := RerankByOverlap(context.Background(), []Document{tt.doc}, queryConcepts(), 10)
			if len(out) != 1 {
				t.Fatalf("got %d documents, want 1", len(out))
			}
			got := out[0].RerankedScore
			if math.Abs(float64(got-tt.want)) > 1e-4 {
				t.Errorf("reranked score: got %v, want %v", got, tt.want)
			}
			// Boost is always >= 1.0: the reranked score never drops
			// below the raw similarity.
			if got < out[0].Score {
				t.Errorf("reranked score %v below raw score %v", got, out[0].Score)
			}
		})
	}
}

func TestRerankByOverlap_ResortsAndTruncates(t *testing.T) {
	t.Parallel()

	// The lower-similarity candidate overlaps on equipment and must
	// overtake the higher-similarity candidate with no overlap.
	candidates := []Document{
		{ID: "plain", Score: 0.80},
		{ID: "boosted", Score: 0.60, Equipment: []string{"vav"}},
		{ID: "tail", Score: 0.40},
	}

	out := RerankByOverlap(context.Background(), candidates, queryConcepts(), 2)
	if len(out) != 2 {
		t.Fatalf("got %d documents, want topK=2", len(out))
	}
	if out[0].ID != "boosted" {
		t.Errorf("first: got %q, want %q", out[0].ID, "boosted")
	}
	if out[1].ID != "plain" {
		t.Errorf("second: got %q, want %q", out[1].ID, "plain")
	}
}

func TestRerankByOverlap_StableTieBreak(t *testing.T) {
	t.Parallel()

	// Same reranked score, different raw similarity: higher raw wins.
	// Identical raw similarity: original order preserved.
	candidates := []Document{
		{ID: "low-raw-boosted", Score: 0.50, Equipment: []string{"vav"}}, // 0.75
		{ID: "high-raw-plain", Score: 0.75},                              // 0.75
		{ID: "first", Score: 0.30},
		{ID: "second", Score: 0.30},
	}

	out := RerankByOverlap(context.Background(), candidates, queryConcepts(), 4)
	if out[0].ID != "high-raw-plain" {
		t.Errorf("tie-break by raw score: got %q first", out[0].ID)
	}
	if out[1].ID != "low-raw-boosted" {
		t.Errorf("tie-break by raw score: got %q second", out[1].ID)
	}
	if out[2].ID != "first" || out[3].ID != "second" {
		t.Errorf("original order not preserved for full ties: %q, %q", out[2].ID, out[3].ID)
	}
}

func TestRerankByOverlap_Idempotent(t *testing.T) {
	t.Parallel()

	candidates := []Document{
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.7, Equipment: []string{"vav"}},
		{ID: "c", Score: 0.7, StandardClasses: []string{"Variable_Air_Volume_Box"}},
		{ID: "d", Score: 0.2, PointDescriptors: []string{"discharge air temp sensor"}},
	}

	first := RerankByOverlap(context.Background(), candidates, queryConcepts(), 4)
	second := RerankByOverlap(context.Background(), candidates, queryConcepts(), 4)

	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].RerankedScore != second[i].RerankedScore {
			t.Errorf("position %d differs: %s/%v vs %s/%v",
				i, first[i].ID, first[i].RerankedScore, second[i].ID, second[i].RerankedScore)
		}
	}
}

func TestRerankByOverlap_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	candidates := []Document{
		{ID: "a", Score: 0.3},
		{ID: "b", Score: 0.9, Equipment: []string{"vav"}},
	}

	_ = RerankByOverlap(context.Background(), candidates, queryConcepts(), 1)

	if candidates[0].ID != "a" || candidates[1].ID != "b" {
		t.Error("input slice order was mutated")
	}
	if candidates[0].RerankedScore != 0 {
		t.Error("input documents were mutated")
	}
}
