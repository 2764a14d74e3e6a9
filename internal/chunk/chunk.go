// Package chunk accumulates ASR segments into retrieval-sized text
// windows: greedy accumulation to a target duration, preferring
// to close at a sentence boundary, followed by text cleanup and
// majority-speaker attribution.
package chunk

import (
	"regexp"
	"strings"

	"voicecore/internal/model"
)

var bracketed = regexp.MustCompile(`\s*[\[(][^\])]*[\])]\s*`)
var multiSpace = regexp.MustCompile(`\s+`)
var spaceBeforePunct = regexp.MustCompile(`\s+([,.!?;:])`)

// Chunk accumulates segments into chunks targeting targetSeconds each,
// closing early at a sentence boundary when doing so avoids
// overshooting.
func Chunk(segments []model.AsrSegment, sourceID string, targetSeconds float64) []model.Chunk {
	if targetSeconds <= 0 {
		targetSeconds = 45.0
	}

	var chunks []model.Chunk
	var current []model.AsrSegment
	var currentStart float64
	index := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, buildChunk(current, sourceID, index))
		index++
		current = nil
	}

	for _, seg := range segments {
		if seg.Text == "" {
			continue // emptied by refinement's merge policy
		}
		if len(current) == 0 {
			currentStart = seg.Start
			current = append(current, seg)
			continue
		}

		span := seg.End - currentStart
		if span > targetSeconds {
			// Close after the last segment that ends a sentence and carry
			// the rest forward. With no clean break, close anyway to
			// respect the target rather than growing the chunk unbounded.
			cut := len(current)
			for i := len(current); i > 0; i-- {
				if endsWithTerminalPunctuation(current[i-1].Text) {
					cut = i
					break
				}
			}
			carry := append([]model.AsrSegment(nil), current[cut:]...)
			current = current[:cut]
			flush()
			current = append(carry, seg)
			currentStart = current[0].Start
			continue
		}
		current = append(current, seg)
	}
	flush()
	return chunks
}

func endsWithTerminalPunctuation(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	last := text[len(text)-1]
	return last == '.' || last == '?' || last == '!'
}

func buildChunk(segments []model.AsrSegment, sourceID string, index int) model.Chunk {
	var textParts []string
	for _, s := range segments {
		textParts = append(textParts, s.Text)
	}
	text := cleanText(strings.Join(textParts, " "))

	speakerName, speakerSplit := majoritySpeaker(segments)

	return model.Chunk{
		ChunkIndex:   index,
		SourceID:     sourceID,
		Text:         text,
		TStart:       segments[0].Start,
		TEnd:         segments[len(segments)-1].End,
		WordCount:    len(strings.Fields(text)),
		SpeakerName:  speakerName,
		SpeakerSplit: speakerSplit,
	}
}

// cleanText collapses whitespace, strips bracketed artifacts, and
// capitalizes the leading letter.
func cleanText(text string) string {
	text = bracketed.ReplaceAllString(text, " ")
	text = multiSpace.ReplaceAllString(text, " ")
	text = spaceBeforePunct.ReplaceAllString(text, "$1")
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	r := []rune(text)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}

// majoritySpeaker returns the speaker attributed to the most segment
// duration; when segments carry more than one speaker, it also
// returns the per-speaker duration fractions.
func majoritySpeaker(segments []model.AsrSegment) (string, map[string]float64) {
	durations := map[string]float64{}
	var total float64
	for _, s := range segments {
		name := s.SpeakerName
		if name == "" {
			name = model.UnknownSpeaker
		}
		d := s.End - s.Start
		durations[name] += d
		total += d
	}

	if len(durations) <= 1 || total == 0 {
		for name := range durations {
			return name, nil
		}
		return model.UnknownSpeaker, nil
	}

	var best string
	var bestDur float64
	split := map[string]float64{}
	for name, d := range durations {
		split[name] = d / total
		if d > bestDur {
			best = name
			bestDur = d
		}
	}
	return best, split
}
