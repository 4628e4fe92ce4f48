package ingestion

import (
	"path/filepath"
	"strings"
)

// InferredMetadata holds the document type and equipment hint inferred from a
// file name. CLI flags take precedence over inferred values — this is the
// "best-effort" fallback when the operator doesn't specify explicit metadata.
type InferredMetadata struct {
	// DocType classifies the documentation kind (manual, sop, datasheet,
	// sequence, submittal, reference).
	DocType string
	// Equipment is the equipment type hinted by the file name, empty when
	// none is recognised.
	Equipment string
}

// docTypeMarkers maps file name substrings to canonical document types.
// Ordered: the first match wins, so more specific markers come first.
var docTypeMarkers = []struct {
	marker  string
	docType string
}{
	{"sop", "sop"},
	{"procedure", "sop"},
	{"sequence", "sequence"},
	{"soo", "sequence"},
	{"datasheet", "datasheet"},
	{"data-sheet", "datasheet"},
	{"submittal", "submittal"},
	{"manual", "manual"},
	{"iom", "manual"},
	{"guide", "manual"},
}

// equipmentMarkers lists equipment tokens recognised in file names. Matched
// against hyphen/underscore-delimited name parts, not raw substrings, so
// "fan" does not match "fancoil-manual.pdf".
var equipmentMarkers = []string{
	"vav", "ahu", "fcu", "rtu", "chiller", "boiler", "pump", "fan",
}

// InferMetadata inspects a document file name and returns best-effort
// metadata. If the name doesn't match any known pattern the returned fields
// contain the defaults ("reference", "").
//
// Examples:
//
//	vav-iom-manual.pdf      → {manual, vav}
//	chiller_startup_sop.pdf → {sop, chiller}
//	site-notes.txt          → {reference, ""}
func InferMetadata(filename string) InferredMetadata {
	m := InferredMetadata{DocType: "reference"}

	base := strings.ToLower(filepath.Base(filename))
	base = strings.TrimSuffix(base, filepath.Ext(base))

	for _, dm := range docTypeMarkers {
		if strings.Contains(base, dm.marker) {
			m.DocType = dm.docType
			break
		}
	}

	for _, part := range splitNameParts(base) {
		for _, eq := range equipmentMarkers {
			if part == eq {
				m.Equipment = eq
				return m
			}
		}
	}

	return m
}

// splitNameParts splits a file name into non-empty lowercase tokens on
// hyphens, underscores, dots, and spaces.
func splitNameParts(name string) []string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '-' || r == '_' || r == '.' || r == ' '
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
