package grounding

import "testing"

func TestPasses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		cs            *ConceptSet
		minConfidence float64
		want          bool
	}{
		{"nil concept set never passes", nil, 0.0, false},
		{"above threshold", &ConceptSet{Confidence: 0.9}, 0.6, true},
		{"exactly at threshold", &ConceptSet{Confidence: 0.6}, 0.6, true},
		{"below threshold", &ConceptSet{Confidence: 0.59}, 0.6, false},
		{"zero confidence", &ConceptSet{}, 0.6, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// Repeated calls with identical input must be deterministic.
			for i := 0; i < 3; i++ {
				if got := Passes(tt.cs, tt.minConfidence); got != tt.want {
					t.Errorf("Passes call %d: got %v, want %v", i, got, tt.want)
				}
			}
		})
	}
}

func TestIsUsable_GenericOnlySuppression(t *testing.T) {
	t.Parallel()

	v := DefaultVocabulary()

	// Confidence plays no role here: a concept set whose equipment is
	// entirely generic is unusable even at confidence 1.0.
	cs := &ConceptSet{
		Equipment:  []string{"sensor"},
		Confidence: 1.0,
	}
	if v.IsUsable(cs) {
		t.Error("generic-only equipment must not be usable")
	}

	cs = &ConceptSet{
		Equipment:  []string{"sensor", "controller", "meter"},
		Confidence: 1.0,
	}
	if v.IsUsable(cs) {
		t.Error("multiple generic-only equipment must not be usable")
	}
}

func TestIsUsable_HighValueEquipment(t *testing.T) {
	t.Parallel()

	v := DefaultVocabulary()

	if !v.IsUsable(&ConceptSet{Equipment: []string{"vav"}}) {
		t.Error("high-value equipment must be usable")
	}
	// High-value mixed with generic is still usable.
	if !v.IsUsable(&ConceptSet{Equipment: []string{"vav", "sensor"}}) {
		t.Error("high-value plus generic must be usable")
	}
}

func TestIsUsable_UnknownEquipment(t *testing.T) {
	t.Parallel()

	v := DefaultVocabulary()

	// An equipment kind in neither vocabulary breaks the all-generic
	// condition, so the concept set remains usable.
	if !v.IsUsable(&ConceptSet{Equipment: []string{"humidifier"}}) {
		t.Error("unknown equipment must be usable")
	}
	if v.IsUsable(&ConceptSet{Equipment: []string{"sensor", "humidifier"}}) == false {
		t.Error("generic plus unknown must be usable")
	}
}

func TestIsUsable_EmptyStructuredFields(t *testing.T) {
	t.Parallel()

	v := DefaultVocabulary()

	// Confidence from raw tags alone carries nothing to filter on.
	cs := &ConceptSet{
		RawTags:    []string{"air", "temp"},
		Confidence: 0.9,
	}
	if v.IsUsable(cs) {
		t.Error("raw-tags-only concept set must not be usable")
	}
	if v.IsUsable(nil) {
		t.Error("nil concept set must not be usable")
	}
}

func TestIsUsable_NonEquipmentStructureIsUsable(t *testing.T) {
	t.Parallel()

	v := DefaultVocabulary()

	// The generic check only inspects equipment. Standard classes or point
	// descriptors alone keep the set usable.
	if !v.IsUsable(&ConceptSet{StandardClasses: []string{"Variable_Air_Volume_Box"}}) {
		t.Error("standard-class-only concept set must be usable")
	}
	if !v.IsUsable(&ConceptSet{PointDescriptors: []string{"discharge air temp sensor"}}) {
		t.Error("point-descriptor-only concept set must be usable")
	}
}
