package store

import (
	"context"
	"testing"

	"voicecore/internal/model"
)

func openTestStore(t *testing.T) *SQLite {
	t.Helper()
	s, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertSourceIsKeyedByVideoID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	src := Source{VideoID: "abc123", SourceType: model.SourceRemote, Title: "first"}
	id1, err := s.UpsertSource(ctx, src)
	if err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	src.Title = "updated"
	id2, err := s.UpsertSource(ctx, src)
	if err != nil {
		t.Fatalf("UpsertSource (re-run): %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same source id on re-run, got %q then %q", id1, id2)
	}

	sourceID, _, exists, err := s.CheckVideoExists(ctx, "abc123")
	if err != nil {
		t.Fatalf("CheckVideoExists: %v", err)
	}
	if !exists || sourceID != id1 {
		t.Fatalf("CheckVideoExists = (%q, %v), want (%q, true)", sourceID, exists, id1)
	}
}

func TestUpsertChunksIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	sourceID, err := s.UpsertSource(ctx, Source{VideoID: "v1", SourceType: model.SourceLocal})
	if err != nil {
		t.Fatalf("UpsertSource: %v", err)
	}

	chunks := []model.Chunk{
		{ChunkIndex: 0, Text: "hello world", TStart: 0, TEnd: 10, WordCount: 2, SpeakerName: "Chaffee"},
		{ChunkIndex: 1, Text: "more text", TStart: 10, TEnd: 20, WordCount: 2, SpeakerName: "Chaffee"},
	}

	if err := s.UpsertChunks(ctx, sourceID, chunks); err != nil {
		t.Fatalf("UpsertChunks: %v", err)
	}
	if err := s.UpsertChunks(ctx, sourceID, chunks); err != nil {
		t.Fatalf("UpsertChunks (re-run): %v", err)
	}

	_, count, _, err := s.CheckVideoExists(ctx, "v1")
	if err != nil {
		t.Fatalf("CheckVideoExists: %v", err)
	}
	if count != len(chunks) {
		t.Fatalf("chunk count after re-run = %d, want %d (no duplicates)", count, len(chunks))
	}
}

func TestIngestStateLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	st, err := s.GetIngestState(ctx, "v1")
	if err != nil {
		t.Fatalf("GetIngestState: %v", err)
	}
	if st != nil {
		t.Fatalf("expected no ingest state before first sighting, got %+v", st)
	}

	if err := s.UpdateIngestStatus(ctx, "v1", model.StatusTranscribed, StatusFields{}); err != nil {
		t.Fatalf("UpdateIngestStatus: %v", err)
	}
	st, err = s.GetIngestState(ctx, "v1")
	if err != nil {
		t.Fatalf("GetIngestState: %v", err)
	}
	if st == nil || st.Status != model.StatusTranscribed {
		t.Fatalf("expected status transcribed, got %+v", st)
	}

	if err := s.UpdateIngestStatus(ctx, "v1", model.StatusError, StatusFields{IncrementRetry: true, LastError: "boom"}); err != nil {
		t.Fatalf("UpdateIngestStatus (error): %v", err)
	}
	st, err = s.GetIngestState(ctx, "v1")
	if err != nil {
		t.Fatalf("GetIngestState: %v", err)
	}
	if st.RetryCount != 1 || st.LastError != "boom" {
		t.Fatalf("expected retry_count=1 last_error=boom, got %+v", st)
	}
}
