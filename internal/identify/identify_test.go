package identify

import (
	"testing"

	"voicecore/internal/model"
)

func profileFor(name string, centroid []float64) *model.VoiceProfile {
	return &model.VoiceProfile{
		Name:       name,
		Centroid:   centroid,
		Embeddings: [][]float64{centroid},
	}
}

func testIdentifier(profiles map[string]*model.VoiceProfile) *Identifier {
	return New(Config{
		PrimarySpeakerName: "Chaffee",
		PrimaryMinSim:      0.62,
		GuestMinSim:        0.82,
		AttrMargin:         0.05,
		MinSpeakerDuration: 3.0,
	}, nil, profiles)
}

func TestAttributePrimaryUsesPrimaryThreshold(t *testing.T) {
	id := testIdentifier(map[string]*model.VoiceProfile{
		"Chaffee": profileFor("Chaffee", []float64{1, 0, 0}),
	})

	// Similarity 0.7 clears the 0.62 primary threshold but would fail
	// the 0.82 guest threshold.
	emb := []float64{0.7, 0.714, 0}
	name, conf, _ := id.attribute(emb, 4.0)
	if name != "Chaffee" {
		t.Fatalf("expected primary attribution, got %q", name)
	}
	if conf <= 0.62 || conf >= 0.72 {
		t.Errorf("confidence should be the raw similarity (~0.7), got %f", conf)
	}
}

func TestAttributeGuestNeedsHigherThreshold(t *testing.T) {
	id := testIdentifier(map[string]*model.VoiceProfile{
		"Guest": profileFor("Guest", []float64{1, 0, 0}),
	})

	// 0.7 is enough for the primary but not for a guest (0.82).
	emb := []float64{0.7, 0.714, 0}
	name, conf, _ := id.attribute(emb, 4.0)
	if name != model.UnknownSpeaker {
		t.Fatalf("guest below guest_min_sim must be unknown, got %q (conf %f)", name, conf)
	}
	if conf != 0 {
		t.Errorf("unknown attribution must carry zero confidence, got %f", conf)
	}
}

func TestAttributeDurationBonusCrossesThreshold(t *testing.T) {
	id := testIdentifier(map[string]*model.VoiceProfile{
		"Chaffee": profileFor("Chaffee", []float64{1, 0, 0}),
	})

	// Raw similarity ~0.6 sits just under the 0.62 primary threshold;
	// the >=10s duration bonus (x1.05) lifts it over.
	emb := []float64{0.6, 0.8, 0}
	if name, _, _ := id.attribute(emb, 4.0); name != model.UnknownSpeaker {
		t.Fatalf("short cluster below threshold should stay unknown, got %q", name)
	}
	if name, _, _ := id.attribute(emb, 12.0); name != "Chaffee" {
		t.Fatalf("duration bonus at >=10s should lift 0.6 over 0.62, got unknown")
	}
}

func TestAttributeMarginGateRejectsCloseCall(t *testing.T) {
	// Two nearly-identical profiles: best wins on boosted similarity
	// but the raw-similarity margin is below attr_margin.
	id := testIdentifier(map[string]*model.VoiceProfile{
		"Chaffee": profileFor("Chaffee", []float64{1, 0, 0}),
		"Guest":   profileFor("Guest", []float64{0.999, 0.0447, 0}),
	})

	emb := []float64{1, 0.01, 0}
	name, _, margin := id.attribute(emb, 12.0)
	if name != model.UnknownSpeaker {
		t.Fatalf("margin %f below attr_margin must reject attribution, got %q", margin, name)
	}
}

func TestAttributeSingleProfileMarginIsRawSim(t *testing.T) {
	id := testIdentifier(map[string]*model.VoiceProfile{
		"Chaffee": profileFor("Chaffee", []float64{1, 0, 0}),
	})

	emb := []float64{1, 0, 0}
	name, conf, margin := id.attribute(emb, 12.0)
	if name != "Chaffee" {
		t.Fatalf("perfect match must attribute, got %q", name)
	}
	if diff := margin - conf; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("single-profile margin must equal raw similarity: margin=%f conf=%f", margin, conf)
	}
}

func TestAttributeNoProfilesIsUnknown(t *testing.T) {
	id := testIdentifier(nil)
	if name, _, _ := id.attribute([]float64{1, 0, 0}, 12.0); name != model.UnknownSpeaker {
		t.Errorf("no enrolled profiles must yield unknown, got %q", name)
	}
}

func TestIdentifyShortClusterIsUnknown(t *testing.T) {
	id := testIdentifier(map[string]*model.VoiceProfile{
		"Chaffee": profileFor("Chaffee", []float64{1, 0, 0}),
	})

	// Total duration 1.0s < min_speaker_duration 3.0s: the whole
	// cluster goes out as unknown without touching the extractor
	// (extractor is nil, so reaching it would panic).
	turns := []model.DiarTurn{
		{Start: 0, End: 0.5, ClusterID: 0},
		{Start: 1.0, End: 1.5, ClusterID: 0},
	}
	out, err := id.Identify("unused.wav", turns)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected one segment per turn, got %d", len(out))
	}
	for _, seg := range out {
		if seg.SpeakerName != model.UnknownSpeaker || seg.Confidence != 0 || seg.Margin != 0 {
			t.Errorf("short cluster turn must be unknown with zero confidence: %+v", seg)
		}
	}
}

func TestIdentifyEmptyTurnsIsEmpty(t *testing.T) {
	id := testIdentifier(nil)
	out, err := id.Identify("unused.wav", nil)
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("Identify(_, []) must be [], got %d segments", len(out))
	}
}

func TestGroupByClusterPreservesTurnsAndOrder(t *testing.T) {
	turns := []model.DiarTurn{
		{Start: 0, End: 1, ClusterID: 1},
		{Start: 1, End: 2, ClusterID: 0},
		{Start: 2, End: 3, ClusterID: 1},
	}
	clusters := groupByCluster(turns)
	if len(clusters) != 2 {
		t.Fatalf("expected 2 clusters, got %d", len(clusters))
	}
	if clusters[0][0].ClusterID != 0 || len(clusters[0]) != 1 {
		t.Errorf("cluster 0 wrong: %+v", clusters[0])
	}
	if clusters[1][0].ClusterID != 1 || len(clusters[1]) != 2 {
		t.Errorf("cluster 1 wrong: %+v", clusters[1])
	}
}

func TestTotalDuration(t *testing.T) {
	turns := []model.DiarTurn{
		{Start: 0, End: 1.5},
		{Start: 2, End: 4},
	}
	if got := totalDuration(turns); got < 3.49 || got > 3.51 {
		t.Errorf("expected total 3.5, got %f", got)
	}
}
