package store

import (
	"context"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	recs := []QueryRecord{
		{Query: "VAV discharge air temp too high", Mode: "grounded", Candidates: 4, Duration: 120 * time.Millisecond},
		{Query: "fan not working", Mode: "vanilla", Reason: "low_confidence", Candidates: 4, Duration: 80 * time.Millisecond},
		{Query: "sensor status check", Mode: "vanilla", Reason: "no_discriminative_concepts", Candidates: 4, Duration: 95 * time.Millisecond},
	}
	for i := range recs {
		if err := s.Append(ctx, &recs[i]); err != nil {
			t.Fatalf("Append(%d): %v", i, err)
		}
	}

	got, err := s.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Recent: got %d records, want 3", len(got))
	}

	// Newest-first ordering.
	if got[0].Query != "sensor status check" {
		t.Errorf("first record: got %q, want the last appended", got[0].Query)
	}
	if got[2].Query != "VAV discharge air temp too high" {
		t.Errorf("last record: got %q, want the first appended", got[2].Query)
	}

	if got[1].Mode != "vanilla" || got[1].Reason != "low_confidence" {
		t.Errorf("record fields: got mode %q reason %q", got[1].Mode, got[1].Reason)
	}
	if got[2].Reason != "" {
		t.Errorf("grounded record should have empty reason, got %q", got[2].Reason)
	}
	if got[1].Duration != 80*time.Millisecond {
		t.Errorf("duration: got %v, want 80ms", got[1].Duration)
	}
	if got[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should be stamped on append")
	}
}

func TestRecent_Limit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := QueryRecord{Query: "q", Mode: "vanilla", Reason: "vanilla_mode", Candidates: 1}
		if err := s.Append(ctx, &rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("Recent limit: got %d records, want 2", len(got))
	}
}

func TestRecent_Empty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	got, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Recent on empty store: got %d records, want 0", len(got))
	}
}

func TestAppend_RejectsUnknownMode(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	rec := QueryRecord{Query: "q", Mode: "hybrid", Candidates: 1}
	if err := s.Append(context.Background(), &rec); err == nil {
		t.Error("expected CHECK constraint violation for unknown mode")
	}
}
