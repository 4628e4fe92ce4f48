package rag

import (
	"context"
	"log/slog"
	"sort"

	"github.com/daemoniq/basrag/internal/grounding"
	"github.com/daemoniq/basrag/internal/logging"
)

// boostRule pairs one concept category with its multiplicative boost factor.
// Rules compose multiplicatively, so a candidate overlapping the query in
// all three categories is boosted by 1.5 × 1.3 × 1.2 = 2.34. Adding a new
// concept category means adding a row here, not touching the rerank loop.
type boostRule struct {
	// name labels the category in debug logs.
	name string

	// factor is the multiplicative boost applied when the category overlaps.
	factor float32

	// query selects the category's values from the query concept set.
	query func(*grounding.ConceptSet) []string

	// doc selects the category's values from a candidate document.
	doc func(*Document) []string
}

// boostRules is the ordered overlap-scoring table. Factors reflect how
// discriminative each category is: equipment kind strongest, raw point
// descriptors weakest.
var boostRules = []boostRule{
	{
		name:   "equip",
		factor: 1.5,
		query:  func(cs *grounding.ConceptSet) []string { return cs.Equipment },
		doc:    func(d *Document) []string { return d.Equipment },
	},
	{
		name:   "brick_equip",
		factor: 1.3,
		query:  func(cs *grounding.ConceptSet) []string { return cs.StandardClasses },
		doc:    func(d *Document) []string { return d.StandardClasses },
	},
	{
		name:   "ptags",
		factor: 1.2,
		query:  func(cs *grounding.ConceptSet) []string { return cs.PointDescriptors },
		doc:    func(d *Document) []string { return d.PointDescriptors },
	},
}

// RerankByOverlap rescales each candidate's similarity score by the boost
// factors of every concept category it shares with the query, re-sorts by
// the boosted score, and truncates to topK.
//
// The boost factor is always >= 1.0, so RerankedScore >= Score for every
// candidate and no candidate is ever discarded for scoring low — truncation
// is purely positional after sorting. Sorting is stable with ties broken by
// original similarity first, so repeated calls with identical input produce
// identical order.
func RerankByOverlap(ctx context.Context, candidates []Document, cs *grounding.ConceptSet, topK int) []Document {
	log := logging.FromContext(ctx)

	reranked := make([]Document, len(candidates))
	copy(reranked, candidates)

	for i := range reranked {
		boost := float32(1.0)
		for _, rule := range boostRules {
			if intersects(rule.query(cs), rule.doc(&reranked[i])) {
				boost *= rule.factor
			}
		}
		reranked[i].RerankedScore = reranked[i].Score * boost

		log.Debug("rerank: candidate boost",
			slog.String("id", reranked[i].ID),
			slog.Float64("score", float64(reranked[i].Score)),
			slog.Float64("boost", float64(boost)),
			slog.Float64("reranked_score", float64(reranked[i].RerankedScore)),
		)
	}

	sort.SliceStable(reranked, func(a, b int) bool {
		if reranked[a].RerankedScore != reranked[b].RerankedScore {
			return reranked[a].RerankedScore > reranked[b].RerankedScore
		}
		return reranked[a].Score > reranked[b].Score
	})

	if topK > 0 && len(reranked) > topK {
		reranked = reranked[:topK]
	}
	return reranked
}

// intersects reports whether the two value lists share at least one element.
func intersects(query, doc []string) bool {
	if len(query) == 0 || len(doc) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(query))
	for _, q := range query {
		set[q] = struct{}{}
	}
	for _, d := range doc {
		if _, ok := set[d]; ok {
			return true
		}
	}
	return false
}
