// Package align reconciles diarizer speaker segments with ASR words
// and segments: each word is attributed to the speaker segment
// with the greatest time overlap, subject to an overlap-tightened
// confidence gate, and segment-level speaker is the majority of its
// words.
package align

import (
	"sort"

	"voicecore/internal/model"
)

// Config carries the overlap bonus applied when a word falls under
// more than one candidate speaker segment, plus the thresholds needed
// to recompute the per-speaker gate during overlap.
type Config struct {
	OverlapBonus       float64
	UnknownLabel       string
	PrimarySpeakerName string
	PrimaryMinSim      float64
	GuestMinSim        float64
}

// threshold returns the non-overlap attribution threshold for name:
// PrimaryMinSim for the configured primary speaker, GuestMinSim
// otherwise.
func (c Config) threshold(name string) float64 {
	if name == c.PrimarySpeakerName {
		return c.PrimaryMinSim
	}
	return c.GuestMinSim
}

// Align writes SpeakerName/SpeakerConfidence/SpeakerMargin/IsOverlap
// onto every word in segments, then propagates a majority speaker and
// mean confidence up to each segment.
func Align(segments []model.AsrSegment, speakerSegments []model.SpeakerSegment, cfg Config) {
	if cfg.UnknownLabel == "" {
		cfg.UnknownLabel = model.UnknownSpeaker
	}

	sorted := append([]model.SpeakerSegment(nil), speakerSegments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i := range segments {
		for j := range segments[i].Words {
			alignWord(&segments[i].Words[j], sorted, cfg)
		}
		propagateToSegment(&segments[i], cfg)
	}
}

type candidate struct {
	seg     *model.SpeakerSegment
	overlap float64
}

func alignWord(word *model.WordToken, speakerSegments []model.SpeakerSegment, cfg Config) {
	var candidates []candidate
	for i := range speakerSegments {
		s := &speakerSegments[i]
		overlap := overlapDuration(word.Start, word.End, s.Start, s.End)
		if overlap > 0 {
			candidates = append(candidates, candidate{seg: s, overlap: overlap})
		}
	}

	if len(candidates) == 0 {
		word.SpeakerName = cfg.UnknownLabel
		word.SpeakerConfidence = 0
		word.SpeakerMargin = 0
		word.IsOverlap = false
		return
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].overlap > candidates[j].overlap })
	best := candidates[0]
	isOverlap := len(candidates) > 1

	word.SpeakerName = best.seg.SpeakerName
	word.SpeakerConfidence = best.seg.Confidence
	word.SpeakerMargin = best.seg.Margin
	word.IsOverlap = isOverlap

	if isOverlap {
		// Tighten the gate: during overlap, the effective threshold is
		// the speaker's normal attribution threshold plus OverlapBonus,
		// applied against the confidence (raw similarity) carried on
		// the speaker segment from identification.
		required := cfg.threshold(best.seg.SpeakerName) + cfg.OverlapBonus
		if best.seg.Confidence < required {
			word.SpeakerName = cfg.UnknownLabel
			word.SpeakerConfidence = 0
			word.SpeakerMargin = 0
		}
	}
}

func overlapDuration(aStart, aEnd, bStart, bEnd float64) float64 {
	start := aStart
	if bStart > start {
		start = bStart
	}
	end := aEnd
	if bEnd < end {
		end = bEnd
	}
	if end <= start {
		return 0
	}
	return end - start
}

// propagateToSegment tallies each segment's words (excluding Unknown)
// and assigns the majority speaker and the mean confidence of its
// contributing words. A segment with no attributed words is Unknown.
func propagateToSegment(seg *model.AsrSegment, cfg Config) {
	tally := map[string]int{}
	confSum := map[string]float64{}

	for _, w := range seg.Words {
		if w.SpeakerName == "" || w.SpeakerName == cfg.UnknownLabel {
			continue
		}
		tally[w.SpeakerName]++
		confSum[w.SpeakerName] += w.SpeakerConfidence
	}

	if len(tally) == 0 {
		seg.SpeakerName = cfg.UnknownLabel
		seg.SpeakerConfidence = 0
		return
	}

	var best string
	var bestCount int
	for name, count := range tally {
		if count > bestCount {
			best = name
			bestCount = count
		}
	}
	seg.SpeakerName = best
	seg.SpeakerConfidence = confSum[best] / float64(bestCount)
}
