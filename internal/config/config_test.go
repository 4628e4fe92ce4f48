package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	log := slog.Default()
	path, err := Load("/nonexistent/path/config.yaml", log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
model:
  provider: ollama
  max_tokens: 4096
  temperature: 0.2
  ollama:
    host: http://localhost:11434
    model: llama3.1
embedding:
  provider: ollama
  model: nomic-embed-text
qdrant:
  host: qdrant.internal
  port: 6334
  collection: bas-docs
retrieval:
  mode: grounded
  min_confidence: 0.7
  overfetch_multiplier: 4
  top_k: 8
grounding:
  url: http://grounding.internal:8001
ingestion:
  data_dir: /srv/bas-docs
  chunk_size: 1000
  chunk_overlap: 100
logging:
  level: debug
  format: text
`)

	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Clear env vars that the YAML should set.
	envKeys := []string{
		"MODEL_PROVIDER", "MODEL_MAX_TOKENS", "MODEL_TEMPERATURE",
		"OLLAMA_HOST", "OLLAMA_MODEL",
		"EMBEDDING_PROVIDER", "EMBEDDING_MODEL",
		"QDRANT_HOST", "QDRANT_PORT", "QDRANT_COLLECTION",
		"RETRIEVAL_MODE", "GROUNDED_MIN_CONF", "GROUNDED_LIMIT_MULT", "RETRIEVAL_TOP_K",
		"GROUNDING_URL",
		"DATA_DIR", "CHUNK_SIZE", "CHUNK_OVERLAP",
		"LOG_LEVEL", "LOG_FORMAT",
	}
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	log := slog.Default()
	loaded, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"MODEL_PROVIDER":      "ollama",
		"MODEL_MAX_TOKENS":    "4096",
		"OLLAMA_HOST":         "http://localhost:11434",
		"OLLAMA_MODEL":        "llama3.1",
		"EMBEDDING_PROVIDER":  "ollama",
		"EMBEDDING_MODEL":     "nomic-embed-text",
		"QDRANT_HOST":         "qdrant.internal",
		"QDRANT_PORT":         "6334",
		"QDRANT_COLLECTION":   "bas-docs",
		"RETRIEVAL_MODE":      "grounded",
		"GROUNDED_MIN_CONF":   "0.7",
		"GROUNDED_LIMIT_MULT": "4",
		"RETRIEVAL_TOP_K":     "8",
		"GROUNDING_URL":       "http://grounding.internal:8001",
		"DATA_DIR":            "/srv/bas-docs",
		"CHUNK_SIZE":          "1000",
		"CHUNK_OVERLAP":       "100",
		"LOG_LEVEL":           "debug",
		"LOG_FORMAT":          "text",
	}
	for k, want := range checks {
		got := os.Getenv(k)
		if got != want {
			t.Errorf("%s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	content := []byte(`
retrieval:
  mode: grounded
`)
	if err := os.WriteFile(cfgPath, content, 0o644); err != nil {
		t.Fatal(err)
	}

	// Set env var BEFORE loading — it should NOT be overwritten.
	t.Setenv("RETRIEVAL_MODE", "vanilla")

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if got := os.Getenv("RETRIEVAL_MODE"); got != "vanilla" {
		t.Errorf("RETRIEVAL_MODE: expected env override %q, got %q", "vanilla", got)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	if err := os.WriteFile(cfgPath, []byte("{{invalid yaml"), 0o644); err != nil {
		t.Fatal(err)
	}

	log := slog.Default()
	_, err := Load(cfgPath, log)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestFloat64Str(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{0.0, ""},
		{0.6, "0.6"},
		{0.75, "0.75"},
		{1.0, "1"},
	}
	for _, tt := range tests {
		if got := float64Str(tt.in); got != tt.want {
			t.Errorf("float64Str(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
