package rag

import (
	"testing"

	"github.com/daemoniq/basrag/internal/grounding"
)

func TestBuildConceptFilter_AllFields(t *testing.T) {
	t.Parallel()

	cs := &grounding.ConceptSet{
		Equipment:        []string{"vav", "ahu"},
		StandardClasses:  []string{"Variable_Air_Volume_Box"},
		PointDescriptors: []string{"discharge air temp sensor"},
		RawTags:          []string{"air", "temp"},
	}

	f := BuildConceptFilter(cs)
	if f == nil {
		t.Fatal("want filter, got nil")
	}
	if len(f.Conditions) != 3 {
		t.Fatalf("conditions: got %d, want 3", len(f.Conditions))
	}

	byKey := map[string][]string{}
	for _, c := range f.Conditions {
		byKey[c.Key] = c.Any
	}
	if got := byKey[FieldEquipment]; len(got) != 2 {
		t.Errorf("equip condition: got %v", got)
	}
	if got := byKey[FieldStandardClass]; len(got) != 1 || got[0] != "Variable_Air_Volume_Box" {
		t.Errorf("brick_equip condition: got %v", got)
	}
	if got := byKey[FieldPointDescriptor]; len(got) != 1 {
		t.Errorf("ptags condition: got %v", got)
	}
	if _, ok := byKey[FieldRawTags]; ok {
		t.Error("raw tags must never produce a filter condition")
	}
}

func TestBuildConceptFilter_SkipsEmptyFields(t *testing.T) {
	t.Parallel()

	cs := &grounding.ConceptSet{
		Equipment:       []string{"vav"},
		StandardClasses: []string{"Variable_Air_Volume_Box"},
	}

	f := BuildConceptFilter(cs)
	if f == nil {
		t.Fatal("want filter, got nil")
	}
	if len(f.Conditions) != 2 {
		t.Fatalf("conditions: got %d, want 2", len(f.Conditions))
	}
	for _, c := range f.Conditions {
		if c.Key == FieldPointDescriptor {
			t.Error("empty point descriptors must not produce a condition")
		}
	}
}

func TestBuildConceptFilter_NilWhenNoStructuredFields(t *testing.T) {
	t.Parallel()

	// Raw tags alone must not produce a filter — a filter with zero
	// conditions is never constructed.
	cs := &grounding.ConceptSet{
		RawTags:    []string{"air", "temp", "sensor"},
		Confidence: 0.9,
	}
	if f := BuildConceptFilter(cs); f != nil {
		t.Errorf("want nil filter, got %+v", f)
	}

	if f := BuildConceptFilter(&grounding.ConceptSet{}); f != nil {
		t.Errorf("empty concept set: want nil filter, got %+v", f)
	}
	if f := BuildConceptFilter(nil); f != nil {
		t.Errorf("nil concept set: want nil filter, got %+v", f)
	}
}
