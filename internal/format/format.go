// Package format renders a speaker-attributed transcription result in
// the output formats of the external interface contract: structured
// JSON, SRT, WebVTT with speaker CSS classes, plain text grouped by
// speaker, word-level JSON, and a human-readable summary.
package format

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"voicecore/internal/model"
)

// Result bundles one video's attributed transcription for rendering.
type Result struct {
	VideoID            string
	Title              string
	DurationSeconds    float64
	Segments           []model.AsrSegment
	PrimarySpeakerName string
	UnknownLabel       string
}

func (r *Result) unknown() string {
	if r.UnknownLabel != "" {
		return r.UnknownLabel
	}
	return model.UnknownSpeaker
}

// FormatAsText returns the transcription as plain text grouped by
// speaker: consecutive segments with the same speaker merge into one
// paragraph, prefixed "<Speaker>: " unless the speaker is unknown.
func (r *Result) FormatAsText() string {
	var sb strings.Builder
	var curSpeaker string
	var curText []string
	started := false

	flush := func() {
		if len(curText) == 0 {
			return
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		if curSpeaker != r.unknown() && curSpeaker != "" {
			sb.WriteString(curSpeaker)
			sb.WriteString(": ")
		}
		sb.WriteString(strings.Join(curText, " "))
		curText = nil
	}

	for _, seg := range r.Segments {
		if seg.Text == "" {
			continue
		}
		if !started || seg.SpeakerName != curSpeaker {
			flush()
			curSpeaker = seg.SpeakerName
			started = true
		}
		curText = append(curText, seg.Text)
	}
	flush()
	return sb.String()
}

type jsonWord struct {
	Text              string  `json:"text"`
	Start             float64 `json:"start"`
	End               float64 `json:"end"`
	ASRConfidence     float64 `json:"asr_confidence"`
	Speaker           string  `json:"speaker,omitempty"`
	SpeakerConfidence float64 `json:"speaker_confidence,omitempty"`
	SpeakerMargin     float64 `json:"speaker_margin,omitempty"`
	IsOverlap         bool    `json:"is_overlap,omitempty"`
}

func toJSONWord(w model.WordToken) jsonWord {
	return jsonWord{
		Text:              w.Text,
		Start:             w.Start,
		End:               w.End,
		ASRConfidence:     w.ASRConfidence,
		Speaker:           w.SpeakerName,
		SpeakerConfidence: w.SpeakerConfidence,
		SpeakerMargin:     w.SpeakerMargin,
		IsOverlap:         w.IsOverlap,
	}
}

type jsonSegment struct {
	Start             float64    `json:"start"`
	End               float64    `json:"end"`
	Text              string     `json:"text"`
	Speaker           string     `json:"speaker,omitempty"`
	SpeakerConfidence float64    `json:"speaker_confidence,omitempty"`
	AvgLogprob        float64    `json:"avg_logprob"`
	CompressionRatio  float64    `json:"compression_ratio"`
	NoSpeechProb      float64    `json:"no_speech_prob"`
	WasRefined        bool       `json:"was_refined,omitempty"`
	Words             []jsonWord `json:"words,omitempty"`
}

type jsonResult struct {
	VideoID         string        `json:"video_id,omitempty"`
	Title           string        `json:"title,omitempty"`
	DurationSeconds float64       `json:"duration_seconds,omitempty"`
	Segments        []jsonSegment `json:"segments"`
}

// FormatAsJSON returns the full structured result as formatted JSON.
func (r *Result) FormatAsJSON() (string, error) {
	out := jsonResult{
		VideoID:         r.VideoID,
		Title:           r.Title,
		DurationSeconds: r.DurationSeconds,
		Segments:        make([]jsonSegment, 0, len(r.Segments)),
	}
	for _, seg := range r.Segments {
		js := jsonSegment{
			Start:             seg.Start,
			End:               seg.End,
			Text:              seg.Text,
			Speaker:           seg.SpeakerName,
			SpeakerConfidence: seg.SpeakerConfidence,
			AvgLogprob:        seg.AvgLogprob,
			CompressionRatio:  seg.CompressionRatio,
			NoSpeechProb:      seg.NoSpeechProb,
			WasRefined:        seg.WasRefined,
		}
		for _, w := range seg.Words {
			js.Words = append(js.Words, toJSONWord(w))
		}
		out.Segments = append(out.Segments, js)
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// FormatWordsAsJSON returns a flat word-level JSON array across all
// segments, each word carrying its timing and speaker attribution.
func (r *Result) FormatWordsAsJSON() (string, error) {
	var words []jsonWord
	for _, seg := range r.Segments {
		for _, w := range seg.Words {
			words = append(words, toJSONWord(w))
		}
	}
	data, err := json.MarshalIndent(words, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

// FormatAsSRT returns the transcription as SRT subtitle format, each
// entry prefixed with its speaker unless the speaker is unknown.
func (r *Result) FormatAsSRT() string {
	var sb strings.Builder
	index := 0
	for _, seg := range r.Segments {
		if seg.Text == "" {
			continue
		}
		index++
		sb.WriteString(fmt.Sprintf("%d\n", index))
		sb.WriteString(fmt.Sprintf("%s --> %s\n",
			formatSRTTime(seg.Start),
			formatSRTTime(seg.End),
		))
		sb.WriteString(r.prefixed(seg))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// FormatAsVTT returns the transcription as WebVTT, wrapping each cue's
// text in a speaker CSS class (the primary speaker's lowercased name,
// "guest", or "unknown") so a player stylesheet can color speakers.
func (r *Result) FormatAsVTT() string {
	var sb strings.Builder
	sb.WriteString("WEBVTT\n\n")
	index := 0
	for _, seg := range r.Segments {
		if seg.Text == "" {
			continue
		}
		index++
		sb.WriteString(fmt.Sprintf("%d\n", index))
		sb.WriteString(fmt.Sprintf("%s --> %s\n",
			formatVTTTime(seg.Start),
			formatVTTTime(seg.End),
		))
		sb.WriteString(fmt.Sprintf("<c.%s>%s</c>", r.speakerClass(seg.SpeakerName), r.prefixed(seg)))
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// FormatAsSummary returns a short human-readable report: duration,
// segment/word counts, refinement counts, and per-speaker share of
// speaking time.
func (r *Result) FormatAsSummary() string {
	var totalSpeech float64
	var wordCount, refined int
	bySpeaker := map[string]float64{}
	for _, seg := range r.Segments {
		if seg.Text == "" {
			continue
		}
		dur := seg.End - seg.Start
		totalSpeech += dur
		wordCount += len(seg.Words)
		if seg.WasRefined {
			refined++
		}
		name := seg.SpeakerName
		if name == "" {
			name = r.unknown()
		}
		bySpeaker[name] += dur
	}

	var sb strings.Builder
	if r.Title != "" {
		sb.WriteString(fmt.Sprintf("Title: %s\n", r.Title))
	}
	if r.VideoID != "" {
		sb.WriteString(fmt.Sprintf("Video: %s\n", r.VideoID))
	}
	sb.WriteString(fmt.Sprintf("Speech: %s across %d segments, %d words (%d refined)\n",
		formatClock(totalSpeech), countNonEmpty(r.Segments), wordCount, refined))

	names := make([]string, 0, len(bySpeaker))
	for name := range bySpeaker {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return bySpeaker[names[i]] > bySpeaker[names[j]] })
	for _, name := range names {
		share := 0.0
		if totalSpeech > 0 {
			share = bySpeaker[name] / totalSpeech * 100
		}
		sb.WriteString(fmt.Sprintf("  %s: %s (%.1f%%)\n", name, formatClock(bySpeaker[name]), share))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func countNonEmpty(segments []model.AsrSegment) int {
	n := 0
	for _, seg := range segments {
		if seg.Text != "" {
			n++
		}
	}
	return n
}

// prefixed returns "<Speaker>: <text>", dropping the prefix for the
// unknown sentinel.
func (r *Result) prefixed(seg model.AsrSegment) string {
	if seg.SpeakerName == "" || seg.SpeakerName == r.unknown() {
		return seg.Text
	}
	return seg.SpeakerName + ": " + seg.Text
}

func (r *Result) speakerClass(speaker string) string {
	switch {
	case speaker == "" || speaker == r.unknown():
		return "unknown"
	case r.PrimarySpeakerName != "" && strings.EqualFold(speaker, r.PrimarySpeakerName):
		return strings.ToLower(r.PrimarySpeakerName)
	default:
		return "guest"
	}
}

// formatSRTTime converts seconds to SRT time format (HH:MM:SS,mmm)
func formatSRTTime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

// formatVTTTime converts seconds to WebVTT time format (HH:MM:SS.mmm)
func formatVTTTime(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	ms := int(d.Milliseconds()) % 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func formatClock(seconds float64) string {
	d := time.Duration(seconds * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
