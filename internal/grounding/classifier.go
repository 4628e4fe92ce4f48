package grounding

// Vocabulary partitions equipment identifiers into "high-value" kinds that
// meaningfully narrow retrieval and "generic" kinds that are too broadly
// applicable to filter on. The lists are injected configuration data, not
// compiled-in policy — operators tune them without touching retrieval logic.
type Vocabulary struct {
	// highValue holds discriminative equipment kinds (terminal units,
	// plant equipment).
	highValue map[string]struct{}

	// generic holds equipment kinds that appear in nearly every document
	// and therefore carry no retrieval signal on their own.
	generic map[string]struct{}
}

// NewVocabulary constructs a Vocabulary from explicit high-value and generic
// equipment lists. Entries are matched exactly against the lowercase
// identifiers in ConceptSet.Equipment.
func NewVocabulary(highValue, generic []string) *Vocabulary {
	v := &Vocabulary{
		highValue: make(map[string]struct{}, len(highValue)),
		generic:   make(map[string]struct{}, len(generic)),
	}
	for _, e := range normalizeSet(highValue) {
		v.highValue[e] = struct{}{}
	}
	for _, e := range normalizeSet(generic) {
		v.generic[e] = struct{}{}
	}
	return v
}

// DefaultVocabulary returns the stock BAS equipment vocabulary: terminal
// units and plant equipment as high-value, and labels like "sensor" that a
// technical corpus mentions on almost every page as generic.
func DefaultVocabulary() *Vocabulary {
	return NewVocabulary(
		[]string{"vav", "ahu", "fcu", "rtu", "chiller", "boiler", "pump", "fan"},
		[]string{"actuator", "meter", "sensor", "controller"},
	)
}

// IsUsable decides whether a concept set that already passed the confidence
// gate actually carries enough retrieval signal to justify filtering.
// It returns false in two cases:
//
//   - Equipment is non-empty but every member is generic and none is
//     high-value. A confident match on "sensor" alone would trigger a filter
//     that excludes relevant results without narrowing anything.
//   - All three structured fields are empty, meaning the confidence came
//     only from raw tags, which have no filterable structure.
//
// Only Equipment is inspected for the generic check. StandardClasses and
// PointDescriptors are inherently more discriminative and are deliberately
// not subjected to it.
func (v *Vocabulary) IsUsable(cs *ConceptSet) bool {
	if cs == nil || !cs.HasStructuredConcepts() {
		return false
	}

	if len(cs.Equipment) == 0 {
		return true
	}

	hasHighValue := false
	allGeneric := true
	for _, e := range cs.Equipment {
		if _, ok := v.highValue[e]; ok {
			hasHighValue = true
		}
		if _, ok := v.generic[e]; !ok {
			allGeneric = false
		}
	}

	if !hasHighValue && allGeneric {
		return false
	}
	return true
}
