package grounding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// groundTimeout is the fixed per-call deadline for the grounding service.
// Kept short so an unreachable service adds at most this much latency before
// retrieval falls back to the ungrounded path.
const groundTimeout = 2 * time.Second

// defaultMaxTextLen is the maximum number of characters submitted per
// grounding request. Queries are short; chunk grounding at ingest time uses
// a larger cap (see ingestion.Pipeline). Truncation bounds request size and
// extraction cost — the service matches on leading context anyway.
const defaultMaxTextLen = 500

// ErrUnavailable signals that the grounding service could not produce a
// result: connection failure, timeout, or a non-2xx response. Callers treat
// this as "no grounding", distinct from a successful extraction that found
// nothing (an empty ConceptSet with Confidence 0).
var ErrUnavailable = errors.New("grounding service unavailable")

// Client calls the BAS-Ontology grounding API. It is stateless between calls
// and safe for concurrent use. There is deliberately no response caching:
// identical texts re-incur the round trip (~10–20ms), which keeps the client
// trivially correct while the ontology evolves underneath it.
type Client struct {
	// baseURL is the grounding service root, e.g. "http://localhost:8001".
	baseURL string

	// maxTextLen is the truncation limit applied before submission.
	maxTextLen int

	// http is the shared HTTP client carrying the fixed grounding timeout.
	http *http.Client
}

// ClientConfig holds the settings for constructing a grounding Client.
type ClientConfig struct {
	// BaseURL is the grounding service root (default: http://localhost:8001).
	BaseURL string

	// MaxTextLen overrides the truncation limit. Defaults to 500 characters;
	// the ingestion pipeline raises it to 800 for chunk grounding.
	MaxTextLen int
}

// NewClient constructs a grounding Client from the given config.
func NewClient(cfg *ClientConfig) *Client {
	if cfg == nil {
		cfg = &ClientConfig{}
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:8001"
	}
	maxLen := cfg.MaxTextLen
	if maxLen <= 0 {
		maxLen = defaultMaxTextLen
	}
	return &Client{
		baseURL:    baseURL,
		maxTextLen: maxLen,
		http:       &http.Client{Timeout: groundTimeout},
	}
}

// groundRequest is the JSON body sent to POST /api/ground.
type groundRequest struct {
	Query string `json:"query"`
}

// groundResponse mirrors the grounding service's response shape. All three
// top-level arrays are optional and unknown fields are ignored, so the client
// stays forward compatible as the service grows.
type groundResponse struct {
	EquipmentTypes []struct {
		// HaystackKind is the canonical equipment-kind identifier.
		HaystackKind string `json:"haystack_kind"`
		// BrickClass is the standardized ontology class name, when matched.
		BrickClass string `json:"brick_class"`
		// Confidence is this concept's individual match confidence.
		Confidence *float64 `json:"confidence"`
	} `json:"equipment_types"`

	PointTypes []struct {
		// HaystackTags is the multi-tag key identifying the point,
		// e.g. ["discharge", "air", "temp", "sensor"].
		HaystackTags []string `json:"haystack_tags"`
		// Confidence is this concept's individual match confidence.
		Confidence *float64 `json:"confidence"`
	} `json:"point_types"`

	RawTags []string `json:"raw_tags"`
}

// Ground submits text to the grounding service and returns the normalized
// ConceptSet. The text is truncated to the configured maximum length first.
//
// Any transport failure, timeout, or non-2xx status returns an error wrapping
// [ErrUnavailable]; Ground never panics and never returns a partial result.
func (c *Client) Ground(ctx context.Context, text string) (*ConceptSet, error) {
	if len(text) > c.maxTextLen {
		text = text[:c.maxTextLen]
	}

	body, err := json.Marshal(groundRequest{Query: text})
	if err != nil {
		return nil, fmt.Errorf("grounding: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/ground", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("grounding: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var gr groundResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %s", ErrUnavailable, err)
	}

	return normalize(&gr), nil
}

// Ping probes the grounding service's health endpoint. Returns nil when the
// service is reachable and reports healthy, a descriptive error otherwise.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("grounding: create health request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("grounding: health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("grounding: health check returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (c *Client) Name() string { return "ontology" }

// normalize converts the service's heterogeneous response into the
// strongly-typed ConceptSet used everywhere else. This is the single
// translation boundary: nothing downstream ever sees the wire shape.
func normalize(gr *groundResponse) *ConceptSet {
	cs := &ConceptSet{}

	var equipment, classes, points []string
	var confidences []float64

	for _, eq := range gr.EquipmentTypes {
		if eq.HaystackKind != "" {
			equipment = append(equipment, eq.HaystackKind)
		}
		if eq.BrickClass != "" {
			classes = append(classes, eq.BrickClass)
		}
		if eq.Confidence != nil {
			confidences = append(confidences, *eq.Confidence)
		}
	}

	for _, pt := range gr.PointTypes {
		if len(pt.HaystackTags) > 0 {
			points = append(points, strings.Join(pt.HaystackTags, " "))
		}
		if pt.Confidence != nil {
			confidences = append(confidences, *pt.Confidence)
		}
	}

	cs.Equipment = normalizeSet(equipment)
	cs.StandardClasses = dedupe(classes)
	cs.PointDescriptors = dedupe(points)
	cs.RawTags = normalizeSet(gr.RawTags)

	if len(confidences) > 0 {
		var sum float64
		for _, c := range confidences {
			sum += c
		}
		cs.Confidence = sum / float64(len(confidences))
	}

	return cs
}
