package caption

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	ytdl "github.com/kkdai/youtube/v2"
)

func TestSelectManualTrackPrefersLanguageOverAutoGenerated(t *testing.T) {
	tracks := []ytdl.CaptionTrack{
		{LanguageCode: "en", Kind: "asr", BaseURL: "http://auto.example/en"},
		{LanguageCode: "es", BaseURL: "http://manual.example/es"},
		{LanguageCode: "en", BaseURL: "http://manual.example/en"},
	}

	got := selectManualTrack(tracks, "en")
	if got == nil {
		t.Fatal("expected a manual track, got nil")
	}
	if got.BaseURL != "http://manual.example/en" {
		t.Fatalf("got track %+v, want the manual en track", got)
	}
}

func TestSelectManualTrackFallsBackWhenPreferredLangMissing(t *testing.T) {
	tracks := []ytdl.CaptionTrack{
		{LanguageCode: "en", Kind: "asr", BaseURL: "http://auto.example/en"},
		{LanguageCode: "fr", BaseURL: "http://manual.example/fr"},
	}

	got := selectManualTrack(tracks, "en")
	if got == nil || got.BaseURL != "http://manual.example/fr" {
		t.Fatalf("got %+v, want the manual fr track as fallback", got)
	}
}

func TestSelectManualTrackReturnsNilWhenOnlyAutoGenerated(t *testing.T) {
	tracks := []ytdl.CaptionTrack{
		{LanguageCode: "en", Kind: "asr", BaseURL: "http://auto.example/en"},
	}

	if got := selectManualTrack(tracks, "en"); got != nil {
		t.Fatalf("expected nil for auto-only tracks, got %+v", got)
	}
}

func TestFetchTrackXMLParsesEntriesAndSkipsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<?xml version="1.0" encoding="utf-8"?>
<timedtext>
  <body>
    <p t="0" d="1500"><s>hello</s><s> there</s></p>
    <p t="1500" d="900"></p>
    <p t="2400" d="1200"><s>friend</s></p>
  </body>
</timedtext>`))
	}))
	defer server.Close()

	entries, err := fetchTrackXML(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("fetchTrackXML returned error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 non-empty entries, got %d: %+v", len(entries), entries)
	}
	if entries[0].Text != "hello there" {
		t.Fatalf("entries[0].Text = %q, want %q", entries[0].Text, "hello there")
	}
	if entries[0].StartSeconds != 0 || entries[0].DurationSeconds != 1.5 {
		t.Fatalf("entries[0] timing = %+v, want start=0 duration=1.5", entries[0])
	}
	if entries[1].Text != "friend" {
		t.Fatalf("entries[1].Text = %q, want %q", entries[1].Text, "friend")
	}
}

func TestSegmentsFromEntriesProducesOneWordTokenPerEntry(t *testing.T) {
	entries := []captionEntry{
		{StartSeconds: 0, DurationSeconds: 1.5, Text: "hello there"},
		{StartSeconds: 2.4, DurationSeconds: 1.2, Text: "friend"},
	}

	segments := segmentsFromEntries(entries)
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segments))
	}
	if segments[0].NeedsRefinement {
		t.Fatal("caption-derived segment should never need refinement")
	}
	if len(segments[0].Words) != 1 || segments[0].Words[0].Text != "hello there" {
		t.Fatalf("segments[0].Words = %+v, want a single token with the full entry text", segments[0].Words)
	}
	if segments[1].Start != 2.4 || math.Abs(segments[1].End-3.6) > 1e-9 {
		t.Fatalf("segments[1] span = [%f,%f], want [2.4,3.6]", segments[1].Start, segments[1].End)
	}
}
