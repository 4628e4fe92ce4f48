// Package ingestion implements the document indexing pipeline. It walks a
// local directory of maintenance documentation (PDF, text, markdown),
// extracts and chunks the content, grounds each chunk against the ontology
// service when it is reachable, embeds the chunks, and upserts the results
// into the vector store. The pipeline is invoked by the `basrag ingest` CLI
// command and the /api/ingest endpoint.
package ingestion

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/daemoniq/basrag/internal/logging"
	"github.com/daemoniq/basrag/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// DataDir is the directory scanned recursively for documents.
	DataDir string

	// ChunkSize is the maximum number of characters per document chunk.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters to overlap between consecutive chunks.
	// Defaults to 100 if zero.
	ChunkOverlap int
}

// Stats summarises one ingestion run.
type Stats struct {
	// Files is the number of documents indexed.
	Files int
	// Chunks is the total number of chunks upserted.
	Chunks int
	// Grounded is the number of chunks that received ontology concepts.
	Grounded int
	// Skipped is the number of files skipped (unsupported type, no text).
	Skipped int
}

// Pipeline orchestrates the walk → extract → chunk → ground → embed → upsert
// flow for a documentation directory.
type Pipeline struct {
	// embedder converts text chunks into dense vector embeddings.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// grounder tags chunks with ontology concepts. May be nil, in which
	// case chunks are indexed without concept payloads.
	grounder rag.Grounder

	// cfg holds the resolved pipeline configuration.
	cfg *Config
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, grounder rag.Grounder, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if cfg == nil || cfg.DataDir == "" {
		return nil, fmt.Errorf("ingestion: DataDir must be set")
	}
	resolved := *cfg
	if resolved.ChunkSize <= 0 {
		resolved.ChunkSize = 1000
	}
	if resolved.ChunkOverlap < 0 {
		resolved.ChunkOverlap = 0
	}
	if resolved.ChunkOverlap >= resolved.ChunkSize {
		resolved.ChunkOverlap = resolved.ChunkSize / 10
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		grounder: grounder,
		cfg:      &resolved,
	}, nil
}

// Ingest walks the data directory and indexes every supported document.
// It processes files sequentially and returns the first hard error
// encountered (embedding or upsert failure). Files that yield no text are
// skipped, and grounding failures degrade to ungrounded chunks for the rest
// of the run. Progress is reported via the optional progress callback.
func (p *Pipeline) Ingest(ctx context.Context, progress func(msg string)) (*Stats, error) {
	if progress == nil {
		progress = func(string) {}
	}
	log := logging.FromContext(ctx)

	files, err := p.discover()
	if err != nil {
		return nil, err
	}
	progress(fmt.Sprintf("found %d documents in %s", len(files), p.cfg.DataDir))

	stats := &Stats{}
	groundingDown := p.grounder == nil

	for _, path := range files {
		pages, err := extract(path)
		if err != nil {
			log.Warn("ingestion: skipping file", slog.String("path", path), slog.Any("error", err))
			stats.Skipped++
			continue
		}

		name := filepath.Base(path)
		meta := InferMetadata(name)

		var docs []rag.Document
		var texts []string
		for _, pg := range pages {
			for i, chunk := range p.chunk(pg.text) {
				doc := rag.Document{
					ID:      chunkID(name, pg.page, i),
					Content: chunk,
					Source:  name,
					Page:    pageLabel(pg.page),
					Metadata: map[string]string{
						"doc_type":    meta.DocType,
						"chunk_index": strconv.Itoa(i),
					},
				}

				if !groundingDown {
					cs, err := p.grounder.Ground(ctx, chunk)
					if err != nil {
						// One unavailable answer means they all will be;
						// finish the run ungrounded rather than timing out
						// once per chunk.
						log.Warn("ingestion: grounding unavailable, continuing without concepts",
							slog.Any("error", err))
						groundingDown = true
					} else {
						doc.Equipment = cs.Equipment
						doc.StandardClasses = cs.StandardClasses
						doc.PointDescriptors = cs.PointDescriptors
						doc.RawTags = cs.RawTags
						doc.GroundingConfidence = cs.Confidence
						if cs.HasStructuredConcepts() {
							stats.Grounded++
						}
					}
				}

				docs = append(docs, doc)
				texts = append(texts, chunk)
			}
		}

		if len(docs) == 0 {
			stats.Skipped++
			continue
		}

		embeddings, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("ingestion: embedding failed for %s: %w", name, err)
		}
		if err := p.store.Upsert(ctx, docs, embeddings); err != nil {
			return nil, fmt.Errorf("ingestion: upsert failed for %s: %w", name, err)
		}

		stats.Files++
		stats.Chunks += len(docs)
		progress(fmt.Sprintf("indexed %s: %d chunks", name, len(docs)))
	}

	return stats, nil
}

// discover returns the sorted list of supported document paths under DataDir.
func (p *Pipeline) discover() ([]string, error) {
	var files []string
	err := filepath.WalkDir(p.cfg.DataDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != p.cfg.DataDir {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(d.Name())) {
		case ".pdf", ".txt", ".md":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walk %s: %w", p.cfg.DataDir, err)
	}
	sort.Strings(files)
	return files, nil
}

// chunk splits text into overlapping chunks of cfg.ChunkSize characters.
func (p *Pipeline) chunk(text string) []string {
	text = strings.TrimSpace(text)
	if len(text) == 0 {
		return nil
	}

	var chunks []string
	size := p.cfg.ChunkSize
	overlap := p.cfg.ChunkOverlap

	for start := 0; start < len(text); start += size - overlap {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		chunks = append(chunks, text[start:end])
		if end == len(text) {
			break
		}
	}

	return chunks
}

// pageLabel renders a page number as the payload label, "?" for formats
// without pages.
func pageLabel(page int) string {
	if page <= 0 {
		return "?"
	}
	return strconv.Itoa(page)
}

// chunkID generates a deterministic UUID-shaped ID for a document chunk from
// its file name, page, and chunk index, so re-ingesting a file overwrites its
// previous points instead of duplicating them.
func chunkID(name string, page, index int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d#%d", name, page, index)))
	return fmt.Sprintf("%x-%x-%x-%x-%x", h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
