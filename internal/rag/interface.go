// Package rag implements grounded retrieval over a vector store: vector
// similarity search steered by ontology concepts extracted from the query.
// It defines the storage and embedding interfaces, the structured concept
// filter, the overlap reranker, and the orchestrating state machine that
// decides per request whether grounding is trustworthy enough to use.
// Concrete backends (Qdrant) satisfy these interfaces so the decision logic
// never depends on a specific index.
package rag

import (
	"context"

	"github.com/daemoniq/basrag/internal/grounding"
)

// Document represents a unit of retrieved or stored knowledge.
type Document struct {
	// ID is the unique identifier for this document chunk.
	ID string

	// Content is the raw text content of the chunk.
	Content string

	// Source is the originating file name of the document.
	Source string

	// Page is the page label the chunk was extracted from ("?" when unknown).
	Page string

	// Equipment holds the equipment kinds tagged at ingest time.
	Equipment []string

	// StandardClasses holds the Brick classes tagged at ingest time.
	StandardClasses []string

	// PointDescriptors holds the point descriptors tagged at ingest time.
	PointDescriptors []string

	// RawTags holds the raw normalized tags tagged at ingest time.
	RawTags []string

	// GroundingConfidence is the mean extraction confidence recorded when
	// the chunk was grounded at ingest time. Zero when never grounded.
	GroundingConfidence float64

	// Metadata holds any remaining key-value payload fields.
	Metadata map[string]string

	// Score is the raw cosine similarity assigned by the index during
	// retrieval. Practically in [0,1] for normalized embeddings.
	Score float32

	// RerankedScore is the boosted score assigned by the overlap reranker.
	// Zero until reranking runs; once assigned it is the sort key.
	RerankedScore float32
}

// FieldCondition is one "field value is any of these" clause of a Filter.
type FieldCondition struct {
	// Key is the payload field to match against (e.g. "equip").
	Key string

	// Any is the list of accepted values. A document matches when its
	// field intersects this list.
	Any []string
}

// Filter is a structured retrieval filter: a disjunction over per-field
// match-any conditions. A document satisfies the filter when ANY condition
// matches. A Filter always has at least one condition — builders return nil
// instead of an empty filter.
type Filter struct {
	// Conditions is the non-empty list of OR-combined field conditions.
	Conditions []FieldCondition
}

// VectorStore is the interface for persisting and searching document
// embeddings. Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores or updates a batch of documents with their pre-computed
	// embeddings. embeddings[i] is the vector for docs[i].
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search performs a similarity search and returns up to limit documents
	// ordered by descending Score. When filter is non-nil only documents
	// satisfying it are returned, even if fewer than limit exist.
	Search(ctx context.Context, queryEmbedding []float32, filter *Filter, limit int) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Grounder is the interface the retriever uses to extract concepts from a
// query. *grounding.Client satisfies it; tests inject a fake.
type Grounder interface {
	// Ground maps text onto a ConceptSet, or returns an error (wrapping
	// grounding.ErrUnavailable) when the grounding service cannot answer.
	Ground(ctx context.Context, text string) (*grounding.ConceptSet, error)
}

// Retriever is the high-level interface used by the answer-synthesis layer
// and the HTTP handlers to fetch ranked context for a query.
// Implementations must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve returns the ranked candidates for the query plus the mode
	// (grounded or vanilla) that served it.
	Retrieve(ctx context.Context, query string, topK int) (*Result, error)
}
