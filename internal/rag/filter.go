package rag

import "github.com/daemoniq/basrag/internal/grounding"

// Payload field keys shared between ingest-time tagging and query-time
// filtering. Compact on purpose: they are stored on every point in the index.
const (
	// FieldEquipment is the payload key holding equipment kinds.
	FieldEquipment = "equip"
	// FieldStandardClass is the payload key holding Brick classes.
	FieldStandardClass = "brick_equip"
	// FieldPointDescriptor is the payload key holding point descriptors.
	FieldPointDescriptor = "ptags"
	// FieldRawTags is the payload key holding raw normalized tags.
	FieldRawTags = "raw"
	// FieldConfidence is the payload key holding the ingest-time grounding
	// confidence.
	FieldConfidence = "gconf"
)

// BuildConceptFilter converts a usable concept set into a retrieval filter:
// one match-any condition per non-empty structured field, OR-combined.
// RawTags never contribute conditions — they carry no filterable structure.
//
// Returns nil when all three structured fields are empty. A Filter with zero
// conditions is never constructed; nil is the orchestrator's signal to skip
// filtered retrieval entirely.
func BuildConceptFilter(cs *grounding.ConceptSet) *Filter {
	if cs == nil {
		return nil
	}

	var conditions []FieldCondition
	if len(cs.Equipment) > 0 {
		conditions = append(conditions, FieldCondition{Key: FieldEquipment, Any: cs.Equipment})
	}
	if len(cs.StandardClasses) > 0 {
		conditions = append(conditions, FieldCondition{Key: FieldStandardClass, Any: cs.StandardClasses})
	}
	if len(cs.PointDescriptors) > 0 {
		conditions = append(conditions, FieldCondition{Key: FieldPointDescriptor, Any: cs.PointDescriptors})
	}

	if len(conditions) == 0 {
		return nil
	}
	return &Filter{Conditions: conditions}
}
