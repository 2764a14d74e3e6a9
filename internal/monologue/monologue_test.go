package monologue

import (
	"testing"

	"voicecore/internal/model"
)

func TestApplyLabelsEverySegmentAndWord(t *testing.T) {
	segments := []model.AsrSegment{
		{Start: 0, End: 2, Text: "Hello there.", Words: []model.WordToken{
			{Text: "Hello", Start: 0, End: 1},
			{Text: "there.", Start: 1, End: 2},
		}},
		{Start: 2, End: 4, Text: "Welcome back."},
	}

	Apply(segments, "Chaffee", 0.81)

	for i, seg := range segments {
		if seg.SpeakerName != "Chaffee" {
			t.Errorf("segment %d: expected primary speaker, got %q", i, seg.SpeakerName)
		}
		if seg.SpeakerConfidence != 0.81 {
			t.Errorf("segment %d: expected fast-path confidence 0.81, got %f", i, seg.SpeakerConfidence)
		}
		for j, w := range seg.Words {
			if w.SpeakerName != "Chaffee" || w.SpeakerConfidence != 0.81 {
				t.Errorf("segment %d word %d: attribution not applied: %+v", i, j, w)
			}
		}
	}
}

func TestApplyNeverUsesNonPrimaryName(t *testing.T) {
	segments := []model.AsrSegment{
		{Start: 0, End: 2, Text: "Hi.", SpeakerName: "Guest", SpeakerConfidence: 0.99},
	}
	Apply(segments, "Chaffee", 0.7)
	if segments[0].SpeakerName != "Chaffee" {
		t.Errorf("fast-path must overwrite any prior attribution with the primary name, got %q", segments[0].SpeakerName)
	}
}

func TestGateFloorIsAppliedToLowThresholds(t *testing.T) {
	// The gate is max(0.55, threshold-0.05): a very low primary
	// threshold must not drop the gate below 0.55.
	cases := []struct {
		threshold float64
		want      float64
	}{
		{0.62, 0.57},
		{0.80, 0.75},
		{0.50, 0.55},
		{0.55, 0.55},
	}
	for _, c := range cases {
		g := Gate{PrimaryThreshold: c.threshold}
		if got := g.gate(); got != c.want {
			t.Errorf("threshold %f: expected gate %f, got %f", c.threshold, c.want, got)
		}
	}
}
