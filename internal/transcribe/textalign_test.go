package transcribe

import (
	"testing"

	"voicecore/internal/model"
)

func words(texts []string, starts []float64) []model.WordToken {
	out := make([]model.WordToken, len(texts))
	for i, text := range texts {
		out[i] = model.WordToken{Text: text, Start: starts[i], End: starts[i] + 0.4}
	}
	return out
}

func TestAlignRefinedTextIdenticalKeepsTiming(t *testing.T) {
	original := words([]string{"hello", "world"}, []float64{1.0, 2.0})
	got := alignRefinedText(original, "hello world")
	if len(got) != 2 {
		t.Fatalf("expected 2 words, got %d", len(got))
	}
	if got[0].Text != "hello" || got[1].Text != "world" {
		t.Errorf("word texts wrong: %+v", got)
	}
	if got[0].Start < 0.9 || got[0].Start > 1.5 {
		t.Errorf("first word timing drifted: start=%f", got[0].Start)
	}
	if got[1].End < got[1].Start {
		t.Errorf("word end before start: %+v", got[1])
	}
}

func TestAlignRefinedTextCorrectionInterpolates(t *testing.T) {
	// Refinement fixed one word; its timing interpolates between the
	// surviving anchors instead of vanishing.
	original := words([]string{"the", "quik", "fox"}, []float64{0.0, 0.5, 1.0})
	got := alignRefinedText(original, "the quick fox")
	if len(got) != 3 {
		t.Fatalf("expected 3 words, got %d: %+v", len(got), got)
	}
	if got[1].Text != "quick" {
		t.Errorf("corrected word lost: %+v", got[1])
	}
	if got[1].Start < got[0].Start || got[2].Start < got[1].Start {
		t.Errorf("word starts must be non-decreasing: %+v", got)
	}
}

func TestAlignRefinedTextEmptyInputs(t *testing.T) {
	if got := alignRefinedText(nil, "text"); got != nil {
		t.Errorf("no original words must yield nil, got %+v", got)
	}
	if got := alignRefinedText(words([]string{"a"}, []float64{0}), ""); got != nil {
		t.Errorf("empty refined text must yield nil, got %+v", got)
	}
}

func TestComputeLCSAlignmentCoversBothSequences(t *testing.T) {
	alignment := computeLCSAlignment([]rune("abc"), []rune("axc"))
	var matches, inserts, deletes int
	for _, e := range alignment {
		switch e.op {
		case opMatch:
			matches++
		case opInsert:
			inserts++
		case opDelete:
			deletes++
		}
	}
	if matches != 2 {
		t.Errorf("expected 2 matches (a, c), got %d", matches)
	}
	if inserts != 1 || deletes != 1 {
		t.Errorf("expected 1 insert and 1 delete for the substitution, got %d/%d", inserts, deletes)
	}
}

func TestMergeSpansJoinsWithinGap(t *testing.T) {
	spans := []flaggedSpan{
		{start: 0, end: 5, segmentIdx: []int{0}},
		{start: 6, end: 10, segmentIdx: []int{1}},  // 1s gap: merged
		{start: 15, end: 20, segmentIdx: []int{3}}, // 5s gap: separate
	}
	merged := mergeSpans(spans, mergeGapSeconds)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged spans, got %d", len(merged))
	}
	if merged[0].start != 0 || merged[0].end != 10 {
		t.Errorf("first merged span wrong: %+v", merged[0])
	}
	if len(merged[0].segmentIdx) != 2 {
		t.Errorf("merged span must carry both segment indices: %+v", merged[0].segmentIdx)
	}
	if merged[1].start != 15 {
		t.Errorf("distant span must stay separate: %+v", merged[1])
	}
}

func TestMergeSpansEmpty(t *testing.T) {
	if got := mergeSpans(nil, mergeGapSeconds); got != nil {
		t.Errorf("no spans must merge to nil, got %+v", got)
	}
}

func TestFlaggedSpansPicksOnlyFlagged(t *testing.T) {
	segments := []model.AsrSegment{
		{Start: 0, End: 5, NeedsRefinement: true},
		{Start: 5, End: 10},
		{Start: 10, End: 15, NeedsRefinement: true},
	}
	spans := flaggedSpans(segments)
	if len(spans) != 2 {
		t.Fatalf("expected 2 flagged spans, got %d", len(spans))
	}
	if spans[0].segmentIdx[0] != 0 || spans[1].segmentIdx[0] != 2 {
		t.Errorf("span indices wrong: %+v", spans)
	}
}
