package format

import (
	"encoding/json"
	"strings"
	"testing"

	"voicecore/internal/model"
)

func testResult() *Result {
	return &Result{
		VideoID:            "vid1",
		Title:              "Interview",
		DurationSeconds:    20,
		PrimarySpeakerName: "Chaffee",
		Segments: []model.AsrSegment{
			{Start: 0, End: 5, Text: "Welcome back.", SpeakerName: "Chaffee", SpeakerConfidence: 0.9,
				Words: []model.WordToken{
					{Text: "Welcome", Start: 0, End: 2.5, ASRConfidence: 1, SpeakerName: "Chaffee", SpeakerConfidence: 0.9},
					{Text: "back.", Start: 2.5, End: 5, ASRConfidence: 1, SpeakerName: "Chaffee", SpeakerConfidence: 0.9},
				}},
			{Start: 5, End: 10, Text: "Thanks for having me.", SpeakerName: "Guest", SpeakerConfidence: 0.85},
			{Start: 10, End: 15, Text: "Who said that?", SpeakerName: model.UnknownSpeaker},
			{Start: 15, End: 20, Text: "Back to me.", SpeakerName: "Chaffee", SpeakerConfidence: 0.88, WasRefined: true},
		},
	}
}

func TestFormatAsTextGroupsBySpeaker(t *testing.T) {
	text := testResult().FormatAsText()
	paragraphs := strings.Split(text, "\n\n")
	if len(paragraphs) != 4 {
		t.Fatalf("expected 4 speaker paragraphs, got %d:\n%s", len(paragraphs), text)
	}
	if !strings.HasPrefix(paragraphs[0], "Chaffee: ") {
		t.Errorf("first paragraph should carry speaker prefix, got %q", paragraphs[0])
	}
	if strings.Contains(paragraphs[2], ":") && strings.HasPrefix(paragraphs[2], model.UnknownSpeaker) {
		t.Errorf("unknown speaker must not get a prefix, got %q", paragraphs[2])
	}
}

func TestFormatAsTextMergesConsecutiveSameSpeaker(t *testing.T) {
	r := &Result{Segments: []model.AsrSegment{
		{Start: 0, End: 2, Text: "One.", SpeakerName: "Chaffee"},
		{Start: 2, End: 4, Text: "Two.", SpeakerName: "Chaffee"},
	}}
	got := r.FormatAsText()
	want := "Chaffee: One. Two."
	if got != want {
		t.Errorf("expected consecutive segments to merge: got %q, want %q", got, want)
	}
}

func TestFormatAsSRTTimestampsAndPrefix(t *testing.T) {
	srt := testResult().FormatAsSRT()
	if !strings.Contains(srt, "00:00:00,000 --> 00:00:05,000") {
		t.Errorf("SRT timestamp missing or malformed:\n%s", srt)
	}
	if !strings.Contains(srt, "Chaffee: Welcome back.") {
		t.Errorf("SRT entry missing speaker prefix:\n%s", srt)
	}
	if strings.Contains(srt, model.UnknownSpeaker+": ") {
		t.Errorf("SRT must omit prefix for unknown speaker:\n%s", srt)
	}
}

func TestFormatAsVTTSpeakerClasses(t *testing.T) {
	vtt := testResult().FormatAsVTT()
	if !strings.HasPrefix(vtt, "WEBVTT") {
		t.Fatalf("VTT output missing header:\n%s", vtt)
	}
	if !strings.Contains(vtt, "00:00:05.000 --> 00:00:10.000") {
		t.Errorf("VTT timestamp missing or malformed:\n%s", vtt)
	}
	for _, class := range []string{"<c.chaffee>", "<c.guest>", "<c.unknown>"} {
		if !strings.Contains(vtt, class) {
			t.Errorf("VTT output missing %s class:\n%s", class, vtt)
		}
	}
}

func TestFormatAsJSONRoundTrips(t *testing.T) {
	out, err := testResult().FormatAsJSON()
	if err != nil {
		t.Fatalf("FormatAsJSON: %v", err)
	}
	var decoded jsonResult
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(decoded.Segments) != 4 {
		t.Errorf("expected 4 segments in JSON, got %d", len(decoded.Segments))
	}
	if decoded.Segments[0].Speaker != "Chaffee" {
		t.Errorf("expected speaker Chaffee, got %q", decoded.Segments[0].Speaker)
	}
	if !decoded.Segments[3].WasRefined {
		t.Errorf("was_refined flag lost in JSON output")
	}
}

func TestFormatWordsAsJSONFlattens(t *testing.T) {
	out, err := testResult().FormatWordsAsJSON()
	if err != nil {
		t.Fatalf("FormatWordsAsJSON: %v", err)
	}
	var words []jsonWord
	if err := json.Unmarshal([]byte(out), &words); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if len(words) != 2 {
		t.Errorf("expected 2 words, got %d", len(words))
	}
	if words[0].Speaker != "Chaffee" || words[0].SpeakerConfidence != 0.9 {
		t.Errorf("word attribution lost: %+v", words[0])
	}
}

func TestFormatAsSummaryListsSpeakerSharesAndRefinedCount(t *testing.T) {
	summary := testResult().FormatAsSummary()
	if !strings.Contains(summary, "Chaffee") || !strings.Contains(summary, "Guest") {
		t.Errorf("summary missing speakers:\n%s", summary)
	}
	if !strings.Contains(summary, "(50.0%)") {
		t.Errorf("expected Chaffee at 50%% of speaking time:\n%s", summary)
	}
	if !strings.Contains(summary, "1 refined") {
		t.Errorf("summary missing refined count:\n%s", summary)
	}
}

func TestFormatSkipsEmptiedMergedSegments(t *testing.T) {
	r := &Result{Segments: []model.AsrSegment{
		{Start: 0, End: 2, Text: "Kept.", SpeakerName: "Chaffee", WasRefined: true},
		{Start: 2, End: 4, Text: "", WasRefined: true}, // emptied by refinement merge
	}}
	srt := r.FormatAsSRT()
	if strings.Count(srt, "-->") != 1 {
		t.Errorf("emptied segment must not produce an SRT entry:\n%s", srt)
	}
	if r.FormatAsText() != "Chaffee: Kept." {
		t.Errorf("emptied segment leaked into text output: %q", r.FormatAsText())
	}
}
