package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	clientCfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}

	client, err := qdrant.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// Client returns the underlying Qdrant client, used by the readiness pinger.
func (s *QdrantStore) Client() *qdrant.Client { return s.client }

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	return nil
}

// Upsert stores or updates a batch of documents with their embeddings.
// The concept fields are written as list payloads under the compact keys the
// query-time filter matches against (equip, brick_equip, ptags, raw).
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d docs but %d embeddings", len(docs), len(embeddings))
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		payload := map[string]any{
			"content":            doc.Content,
			"file_name":          doc.Source,
			"page_label":         doc.Page,
			FieldEquipment:       toAnySlice(doc.Equipment),
			FieldStandardClass:   toAnySlice(doc.StandardClasses),
			FieldPointDescriptor: toAnySlice(doc.PointDescriptors),
			FieldRawTags:         toAnySlice(doc.RawTags),
		}
		if doc.GroundingConfidence > 0 {
			payload[FieldConfidence] = doc.GroundingConfidence
		}
		for k, v := range doc.Metadata {
			payload[k] = v
		}

		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(doc.ID),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payload),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search and returns up to limit
// documents ordered by descending score. A non-nil filter restricts results
// to points matching any of its conditions (OR semantics); the filter is
// never dropped, even when it yields fewer than limit hits.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, filter *Filter, limit int) ([]Document, error) {
	l := uint64(limit) //nolint:gosec // limit is a small positive result count
	query := &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter != nil {
		query.Filter = toQdrantFilter(filter)
	}

	results, err := s.client.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, pointToDocument(r))
	}

	return docs, nil
}

// Delete removes documents from the collection by their IDs.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("qdrant: delete failed: %w", err)
	}

	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// toQdrantFilter converts the backend-agnostic Filter into Qdrant's native
// representation: Should-combined (OR) match-any conditions.
func toQdrantFilter(f *Filter) *qdrant.Filter {
	should := make([]*qdrant.Condition, 0, len(f.Conditions))
	for _, c := range f.Conditions {
		should = append(should, qdrant.NewMatchKeywords(c.Key, c.Any...))
	}
	return &qdrant.Filter{Should: should}
}

// pointToDocument converts one scored Qdrant point into a Document,
// extracting the concept list fields and provenance from the payload.
func pointToDocument(r *qdrant.ScoredPoint) Document {
	doc := Document{
		ID:       r.Id.GetUuid(),
		Score:    r.Score,
		Metadata: make(map[string]string),
	}

	p := r.Payload
	if p == nil {
		return doc
	}

	if v, ok := p["content"]; ok {
		doc.Content = v.GetStringValue()
	}
	if v, ok := p["file_name"]; ok {
		doc.Source = v.GetStringValue()
	}
	if v, ok := p["page_label"]; ok {
		doc.Page = v.GetStringValue()
	}
	doc.Equipment = listField(p, FieldEquipment)
	doc.StandardClasses = listField(p, FieldStandardClass)
	doc.PointDescriptors = listField(p, FieldPointDescriptor)
	doc.RawTags = listField(p, FieldRawTags)
	if v, ok := p[FieldConfidence]; ok {
		doc.GroundingConfidence = v.GetDoubleValue()
	}

	known := map[string]bool{
		"content": true, "file_name": true, "page_label": true,
		FieldEquipment: true, FieldStandardClass: true,
		FieldPointDescriptor: true, FieldRawTags: true,
		FieldConfidence: true,
	}
	for k, v := range p {
		if known[k] {
			continue
		}
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			doc.Metadata[k] = kind.StringValue
		case *qdrant.Value_DoubleValue:
			doc.Metadata[k] = strconv.FormatFloat(kind.DoubleValue, 'f', -1, 64)
		case *qdrant.Value_IntegerValue:
			doc.Metadata[k] = strconv.FormatInt(kind.IntegerValue, 10)
		}
	}

	return doc
}

// listField extracts a list-of-strings payload field, returning nil when the
// field is absent or not a list.
func listField(payload map[string]*qdrant.Value, key string) []string {
	v, ok := payload[key]
	if !ok {
		return nil
	}
	list := v.GetListValue()
	if list == nil {
		return nil
	}
	values := list.GetValues()
	out := make([]string, 0, len(values))
	for _, item := range values {
		if s := item.GetStringValue(); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// toAnySlice converts a []string to []any for Qdrant payload construction.
func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
