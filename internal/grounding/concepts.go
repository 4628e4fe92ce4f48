// Package grounding implements the client and decision policy for the
// BAS-Ontology concept grounding service. Free text (a user query, or a
// document chunk at ingest time) is mapped onto canonical building-automation
// concepts: equipment kinds, Brick ontology classes, and point descriptors.
// The retrieval layer uses these concepts to filter and re-rank candidates.
//
// The grounding service itself is an external dependency with a documented,
// imperfect success rate. Everything in this package degrades gracefully:
// a failed or low-quality grounding is a signal, never an error the caller
// has to handle.
package grounding

import (
	"sort"
	"strings"
)

// ConceptSet is the normalized grounding result for one piece of text.
// It is constructed once per extraction call and never mutated afterwards.
type ConceptSet struct {
	// Equipment holds canonical equipment-kind identifiers
	// (lowercase, deduplicated), e.g. "vav", "ahu", "chiller".
	Equipment []string

	// StandardClasses holds Brick ontology class identifiers aligned with
	// the detected equipment, e.g. "Variable_Air_Volume_Box".
	StandardClasses []string

	// PointDescriptors holds free-text point/sensor descriptions built by
	// space-joining the tag sequence of each detected point,
	// e.g. "discharge air temp sensor".
	PointDescriptors []string

	// RawTags holds normalized fallback tags extracted independently of
	// equipment and point matching. Populated whenever extraction succeeds,
	// even if the structured fields above are all empty.
	RawTags []string

	// Confidence is the arithmetic mean of all per-concept confidence
	// scores reported by the grounding service, in [0,1]. 0.0 when the
	// service found no concepts at all.
	Confidence float64
}

// HasStructuredConcepts reports whether any of the three filterable fields
// (Equipment, StandardClasses, PointDescriptors) is non-empty. RawTags carry
// no filterable structure and are deliberately excluded.
func (cs *ConceptSet) HasStructuredConcepts() bool {
	return len(cs.Equipment) > 0 || len(cs.StandardClasses) > 0 || len(cs.PointDescriptors) > 0
}

// Passes reports whether the concept set clears the confidence gate.
// A nil ConceptSet (grounding unavailable) never passes.
// Pure function: identical inputs always yield identical results.
func Passes(cs *ConceptSet, minConfidence float64) bool {
	if cs == nil {
		return false
	}
	return cs.Confidence >= minConfidence
}

// normalizeSet lowercases, deduplicates, and sorts a tag list. Sorting keeps
// the output deterministic across calls so downstream filter construction
// and logging are reproducible.
func normalizeSet(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// dedupe removes duplicates and empty entries while preserving the original
// casing and order. Used for Brick class names, which are case-significant.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
