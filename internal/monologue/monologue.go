// Package monologue implements the fast-path pre-check: when the
// opening seconds of audio confidently match the enrolled primary
// speaker, the caller can skip diarization and identification
// entirely and run ASR directly, labeling every word with the
// primary speaker.
package monologue

import (
	"voicecore/internal/embedding"
	"voicecore/internal/model"
	"voicecore/internal/voiceprint"
)

// windowsToSample is the number of leading non-silent windows used: 3
// windows at the extractor's 3s/1.5s window/stride span about the
// first 6s of audio.
const windowsToSample = 3

// Gate decides whether the monologue fast-path applies for a primary
// profile, given the embeddings extracted from the opening of the
// audio.
type Gate struct {
	PrimaryThreshold float64
}

// Check extracts embeddings from audioPath's opening span and reports
// whether the mean similarity to primary clears
// max(0.55, primary_threshold - 0.05). On a hit it also returns that
// mean similarity, to be recorded as the uniform confidence applied
// to every word and segment.
func (g Gate) Check(extractor *embedding.Extractor, audioPath string, primary *model.VoiceProfile) (hit bool, meanSim float64) {
	vecs, err := extractor.ExtractFile(audioPath)
	if err != nil || len(vecs) == 0 {
		return false, 0
	}
	if len(vecs) > windowsToSample {
		vecs = vecs[:windowsToSample]
	}

	var sum float64
	for _, v := range vecs {
		sum += voiceprint.Similarity(toFloat64(v), primary)
	}
	mean := sum / float64(len(vecs))
	return mean >= g.gate(), mean
}

// gate is the deliberately loose fast-path cutoff: the primary
// threshold relaxed by 0.05, floored at 0.55.
func (g Gate) gate() float64 {
	v := g.PrimaryThreshold - 0.05
	if v < 0.55 {
		v = 0.55
	}
	return v
}

// Apply labels every segment and word in segments with the primary
// speaker's name and the fast-path confidence, in place.
func Apply(segments []model.AsrSegment, primaryName string, confidence float64) {
	for i := range segments {
		segments[i].SpeakerName = primaryName
		segments[i].SpeakerConfidence = confidence
		for j := range segments[i].Words {
			segments[i].Words[j].SpeakerName = primaryName
			segments[i].Words[j].SpeakerConfidence = confidence
		}
	}
}

func toFloat64(v embedding.Vector) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
