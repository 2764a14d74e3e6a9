// Package transcribe implements the two-stage ASR pipeline: a fast
// primary pass over the whole file, followed by selective refinement
// of the spans it flagged as low-confidence. Both passes run on
// sherpa-onnx offline recognizers; the primary pass additionally
// populates per-segment quality metrics rather than just text.
package transcribe

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sort"
	"strings"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"voicecore/internal/ingesterr"
	"voicecore/internal/model"
)

// Thresholds that flag a primary-pass segment for refinement.
const (
	refineAvgLogprobMax       = -0.35
	refineCompressionRatioMin = 2.4
	refineNoSpeechProbMin     = 0.8
	mergeGapSeconds           = 2.0
)

// TemperatureSchedule lists fallback decoding temperatures. No code in
// this package reads it: neither pass retries a decode at another
// temperature.
var TemperatureSchedule = []float64{0.0, 0.2, 0.4, 0.6, 0.8, 1.0}

// PrimaryConfig configures the fast model.
type PrimaryConfig struct {
	EncoderPath    string
	DecoderPath    string
	JoinerPath     string
	TokensPath     string
	NumThreads     int
	SampleRate     int
	BeamSize       int
	Language       string
	InitialPrompt  string
	VADFilter      bool
}

// Primary wraps a sherpa-onnx transducer model configured for fast,
// whole-file transcription.
type Primary struct {
	cfg        PrimaryConfig
	recognizer *sherpa.OfflineRecognizer
}

// NewPrimary constructs the fast ASR model.
func NewPrimary(cfg PrimaryConfig) (*Primary, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BeamSize == 0 {
		cfg.BeamSize = 5
	}
	for _, path := range []string{cfg.EncoderPath, cfg.DecoderPath, cfg.JoinerPath, cfg.TokensPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("transcribe: primary model file missing: %w", err)
		}
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: cfg.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Transducer: sherpa.OfflineTransducerModelConfig{
				Encoder: cfg.EncoderPath,
				Decoder: cfg.DecoderPath,
				Joiner:  cfg.JoinerPath,
			},
			Tokens:     cfg.TokensPath,
			NumThreads: cfg.NumThreads,
			Debug:      0,
		},
		DecodingMethod: "greedy_search",
		MaxActivePaths: 4,
	}

	recognizer := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("transcribe: failed to create primary recognizer")
	}
	return &Primary{cfg: cfg, recognizer: recognizer}, nil
}

// Close releases the primary model.
func (p *Primary) Close() error {
	if p.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(p.recognizer)
		p.recognizer = nil
	}
	return nil
}

// TranscribePrimary runs the fast pass over the whole file and
// returns sentence-level segments with quality metrics populated and
// NeedsRefinement set per the quality gate.
func (p *Primary) TranscribePrimary(audioPath string) (string, []model.AsrSegment, error) {
	wave := sherpa.ReadWave(audioPath)
	if wave == nil || len(wave.Samples) == 0 {
		return "", nil, ingesterr.Transcription(fmt.Errorf("failed to read %s or file is empty", audioPath))
	}

	stream := sherpa.NewOfflineStream(p.recognizer)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(p.cfg.SampleRate, wave.Samples)
	p.recognizer.Decode(stream)

	result := stream.GetResult()
	if result == nil {
		return "", nil, nil
	}

	segments := segmentFromResult(result, wave.Samples, p.cfg.SampleRate)
	for i := range segments {
		segments[i].NeedsRefinement = needsRefinement(segments[i])
	}
	return strings.TrimSpace(result.Text), segments, nil
}

// needsRefinement applies the three-way quality gate: a segment is
// flagged if its decode confidence is low, its text is degenerately
// repetitive, or it looks like silence misheard as speech.
func needsRefinement(seg model.AsrSegment) bool {
	return seg.AvgLogprob <= refineAvgLogprobMax ||
		seg.CompressionRatio >= refineCompressionRatioMin ||
		seg.NoSpeechProb >= refineNoSpeechProbMin
}

// segmentFromResult buckets the recognizer's flat token stream into
// sentence-level segments and populates quality metrics from the
// decoded waveform and token stream since the fast transducer model
// does not expose Whisper-style logprobs directly.
func segmentFromResult(result *sherpa.OfflineRecognizerResult, samples []float32, sampleRate int) []model.AsrSegment {
	if result == nil || len(result.Tokens) == 0 {
		return nil
	}

	var segments []model.AsrSegment
	var words []model.WordToken
	var text strings.Builder

	flush := func(start, end float64) {
		if text.Len() == 0 {
			return
		}
		segments = append(segments, model.AsrSegment{
			Start:            start,
			End:              end,
			Text:             strings.TrimSpace(text.String()),
			Words:            words,
			AvgLogprob:       estimateAvgLogprob(words),
			CompressionRatio: compressionRatio(text.String()),
			NoSpeechProb:     noSpeechProb(samples, sampleRate, start, end),
		})
		words = nil
		text.Reset()
	}

	var segStart float64
	var prevEnd float64
	for i, tok := range result.Tokens {
		var start, dur float32
		if i < len(result.Timestamps) {
			start = result.Timestamps[i]
		}
		if i < len(result.Durations) {
			dur = result.Durations[i]
		}
		end := float64(start) + float64(dur)

		if len(words) == 0 {
			segStart = float64(start)
		}
		words = append(words, model.WordToken{
			Text:          tok,
			Start:         float64(start),
			End:           end,
			ASRConfidence: 1.0,
		})
		text.WriteString(tok)
		prevEnd = end

		isBoundary := strings.HasSuffix(tok, ".") || strings.HasSuffix(tok, "?") || strings.HasSuffix(tok, "!")
		isLast := i == len(result.Tokens)-1
		if isBoundary || isLast {
			flush(segStart, prevEnd)
		}
	}
	return segments
}

// estimateAvgLogprob approximates Whisper-style decode confidence from
// token repetition and articulation rate, since the fast transducer
// model sherpa-onnx wraps here does not expose per-token
// log-probabilities: a run of immediately-repeated tokens (the
// hallucinated-looping failure mode a real logprob would catch) or an
// implausibly fast token rate both depress the score below the
// refinement gate, while clean speech stays close to the -0.05
// baseline.
func estimateAvgLogprob(words []model.WordToken) float64 {
	if len(words) == 0 {
		return 0
	}

	var repeats int
	for i := 1; i < len(words); i++ {
		if words[i].Text == words[i-1].Text {
			repeats++
		}
	}
	repeatRatio := float64(repeats) / float64(len(words))

	var rateAnomaly float64
	if duration := words[len(words)-1].End - words[0].Start; duration > 0 {
		rate := float64(len(words)) / duration // tokens/sec
		if rate > 8.0 {
			rateAnomaly = (rate - 8.0) / 8.0
		}
	}

	return -0.05 - 0.6*repeatRatio - 0.2*rateAnomaly
}

// compressionRatio is the standard Whisper heuristic for catching
// degenerate repeated/looping output: raw text length over its gzip
// size. Highly repetitive text compresses well, so a high ratio flags
// the same failure mode a real Whisper compression_ratio would.
func compressionRatio(text string) float64 {
	if text == "" {
		return 1.0
	}
	raw := []byte(text)
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, _ = gz.Write(raw)
	gz.Close()
	if buf.Len() == 0 {
		return 1.0
	}
	return float64(len(raw)) / float64(buf.Len())
}

// noSpeechFrameSize matches diarize's RMS frame size (30ms at 16kHz).
const noSpeechFrameSize = 480

// noSpeechSilenceThreshold matches diarize's default RMS silence
// threshold.
const noSpeechSilenceThreshold = 0.01

// noSpeechProb estimates the fraction of a segment's span that is
// silence by RMS energy, the same frame-RMS technique the energy
// diarizer uses to split speech from pauses (internal/diarize),
// repurposed here as a per-segment no-speech proxy rather than a
// turn-boundary detector.
func noSpeechProb(samples []float32, sampleRate int, start, end float64) float64 {
	if len(samples) == 0 || sampleRate <= 0 || end <= start {
		return 0
	}

	startIdx := int(start * float64(sampleRate))
	endIdx := int(end * float64(sampleRate))
	if startIdx < 0 {
		startIdx = 0
	}
	if endIdx > len(samples) {
		endIdx = len(samples)
	}
	if endIdx <= startIdx {
		return 0
	}
	span := samples[startIdx:endIdx]

	frameSize := noSpeechFrameSize
	if frameSize > len(span) {
		frameSize = len(span)
	}
	if frameSize == 0 {
		return 0
	}

	var silentFrames, totalFrames int
	for i := 0; i < len(span); i += frameSize {
		j := i + frameSize
		if j > len(span) {
			j = len(span)
		}
		if rmsEnergy(span[i:j]) < noSpeechSilenceThreshold {
			silentFrames++
		}
		totalFrames++
	}
	if totalFrames == 0 {
		return 0
	}
	return float64(silentFrames) / float64(totalFrames)
}

func rmsEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RefinementConfig configures the higher-quality Whisper model used
// for selective re-transcription.
type RefinementConfig struct {
	EncoderPath string
	DecoderPath string
	TokensPath  string
	Language    string
	Task        string
	NumThreads  int
	SampleRate  int
	BeamSize    int
}

// Refinement wraps the higher-quality Whisper model.
type Refinement struct {
	cfg        RefinementConfig
	recognizer *sherpa.OfflineRecognizer
}

// NewRefinement constructs the refinement model.
func NewRefinement(cfg RefinementConfig) (*Refinement, error) {
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BeamSize == 0 {
		cfg.BeamSize = 8
	}
	for _, path := range []string{cfg.EncoderPath, cfg.DecoderPath, cfg.TokensPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("transcribe: refinement model file missing: %w", err)
		}
	}

	sherpaConfig := sherpa.OfflineRecognizerConfig{
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: cfg.SampleRate,
			FeatureDim: 80,
		},
		ModelConfig: sherpa.OfflineModelConfig{
			Whisper: sherpa.OfflineWhisperModelConfig{
				Encoder:  cfg.EncoderPath,
				Decoder:  cfg.DecoderPath,
				Language: cfg.Language,
				Task:     cfg.Task,
			},
			Tokens:     cfg.TokensPath,
			NumThreads: cfg.NumThreads,
			Debug:      0,
		},
	}

	recognizer := sherpa.NewOfflineRecognizer(&sherpaConfig)
	if recognizer == nil {
		return nil, fmt.Errorf("transcribe: failed to create refinement recognizer")
	}
	return &Refinement{cfg: cfg, recognizer: recognizer}, nil
}

// Close releases the refinement model.
func (r *Refinement) Close() error {
	if r.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(r.recognizer)
		r.recognizer = nil
	}
	return nil
}

// Refine merges adjacent flagged spans within mergeGapSeconds,
// re-transcribes each merged span from the original audio, and
// applies the replacement policy in place: the first segment
// in a merged span absorbs the concatenated refined text and the
// merged span's best quality metrics (highest AvgLogprob, lowest
// CompressionRatio); the rest are emptied. Every segment in the span
// is marked WasRefined.
func (r *Refinement) Refine(audioPath string, segments []model.AsrSegment) error {
	spans := flaggedSpans(segments)
	merged := mergeSpans(spans, mergeGapSeconds)

	for _, span := range merged {
		text, err := r.transcribeSpan(audioPath, span.start, span.end)
		if err != nil {
			return ingesterr.Transcription(err)
		}

		var originalWords []model.WordToken
		bestLogprob := segments[span.segmentIdx[0]].AvgLogprob
		bestRatio := segments[span.segmentIdx[0]].CompressionRatio
		for _, idx := range span.segmentIdx {
			originalWords = append(originalWords, segments[idx].Words...)
			bestLogprob = math.Max(bestLogprob, segments[idx].AvgLogprob)
			bestRatio = math.Min(bestRatio, segments[idx].CompressionRatio)
		}

		first := true
		for _, idx := range span.segmentIdx {
			if first {
				segments[idx].Text = text
				segments[idx].Words = alignRefinedText(originalWords, text)
				segments[idx].AvgLogprob = bestLogprob
				segments[idx].CompressionRatio = bestRatio
				segments[idx].WasRefined = true
				segments[idx].NeedsRefinement = false
				first = false
				continue
			}
			segments[idx].Text = ""
			segments[idx].Words = nil
			segments[idx].WasRefined = true
			segments[idx].NeedsRefinement = false
		}
	}
	return nil
}

type flaggedSpan struct {
	start, end float64
	segmentIdx []int
}

func flaggedSpans(segments []model.AsrSegment) []flaggedSpan {
	var spans []flaggedSpan
	for i, seg := range segments {
		if seg.NeedsRefinement {
			spans = append(spans, flaggedSpan{start: seg.Start, end: seg.End, segmentIdx: []int{i}})
		}
	}
	return spans
}

// mergeSpans merges adjacent flagged spans separated by at most
// gapSeconds, so one ffmpeg extraction covers the whole run.
func mergeSpans(spans []flaggedSpan, gapSeconds float64) []flaggedSpan {
	if len(spans) == 0 {
		return nil
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := []flaggedSpan{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start-last.end <= gapSeconds {
			last.end = s.end
			last.segmentIdx = append(last.segmentIdx, s.segmentIdx...)
		} else {
			merged = append(merged, s)
		}
	}
	return merged
}

// transcribeSpan extracts [start,end) from audioPath at the original
// sample rate via ffmpeg and re-transcribes it with the refinement
// model.
func (r *Refinement) transcribeSpan(audioPath string, start, end float64) (string, error) {
	duration := end - start
	if duration <= 0 {
		return "", fmt.Errorf("invalid refinement span %.2f-%.2f", start, end)
	}

	cmd := exec.Command("ffmpeg",
		"-ss", fmt.Sprintf("%.3f", start),
		"-i", audioPath,
		"-t", fmt.Sprintf("%.3f", duration),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", r.cfg.SampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"pipe:1",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	samples, err := readPCM16(stdout)
	cmd.Wait()
	if err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "", nil
	}

	stream := sherpa.NewOfflineStream(r.recognizer)
	defer sherpa.DeleteOfflineStream(stream)
	stream.AcceptWaveform(r.cfg.SampleRate, samples)
	r.recognizer.Decode(stream)

	result := stream.GetResult()
	if result == nil {
		return "", nil
	}
	return strings.TrimSpace(result.Text), nil
}

func readPCM16(r io.Reader) ([]float32, error) {
	reader := bufio.NewReader(r)
	var samples []float32
	buf := make([]byte, 2)
	for {
		n, err := io.ReadFull(reader, buf)
		if n == 2 {
			v := int16(buf[0]) | int16(buf[1])<<8
			samples = append(samples, float32(v)/32768.0)
		}
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return samples, nil
			}
			return samples, err
		}
	}
}
