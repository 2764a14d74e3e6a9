package chunk

import (
	"testing"

	"voicecore/internal/model"
)

func seg(start, end float64, text, speaker string) model.AsrSegment {
	return model.AsrSegment{Start: start, End: end, Text: text, SpeakerName: speaker}
}

func TestChunkClosesAtSentenceBoundary(t *testing.T) {
	segments := []model.AsrSegment{
		seg(0, 44, "Hello there.", "Chaffee"),
		seg(44, 46, "ok", "Chaffee"),
		seg(46, 50, "New chunk starts here.", "Chaffee"),
	}
	chunks := Chunk(segments, "video1", 45)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[0].TEnd != 44 {
		t.Fatalf("expected first chunk to end at 44, got %f", chunks[0].TEnd)
	}
}

func TestChunkIndexesAreMonotonic(t *testing.T) {
	segments := []model.AsrSegment{
		seg(0, 10, "One.", "A"),
		seg(10, 60, "Two.", "A"),
		seg(60, 62, "Three.", "A"),
	}
	chunks := Chunk(segments, "video1", 45)
	for i, c := range chunks {
		if c.ChunkIndex != i {
			t.Fatalf("chunk %d has index %d", i, c.ChunkIndex)
		}
	}
}

func TestCleanTextStripsBracketsAndCapitalizes(t *testing.T) {
	got := cleanText("  [music] hello   world , friend .")
	want := "Hello world, friend."
	if got != want {
		t.Fatalf("cleanText = %q, want %q", got, want)
	}
}

func TestMajoritySpeakerSingleSpeaker(t *testing.T) {
	segments := []model.AsrSegment{
		seg(0, 10, "a", "Chaffee"),
		seg(10, 20, "b", "Chaffee"),
	}
	name, split := majoritySpeaker(segments)
	if name != "Chaffee" || split != nil {
		t.Fatalf("got name=%q split=%v, want Chaffee/nil", name, split)
	}
}

func TestMajoritySpeakerMixedRecordsFractions(t *testing.T) {
	segments := []model.AsrSegment{
		seg(0, 30, "a", "Chaffee"),
		seg(30, 40, "b", "Guest"),
	}
	name, split := majoritySpeaker(segments)
	if name != "Chaffee" {
		t.Fatalf("expected majority Chaffee, got %q", name)
	}
	if split["Chaffee"] < 0.7 || split["Guest"] < 0.2 {
		t.Fatalf("unexpected split: %v", split)
	}
}
