// Package embedding wraps sherpa-onnx's speaker embedding extractor into
// the sliding-window API the voiceprint and diarization packages need:
// given a PCM file, return one unit-norm vector per window.
package embedding

import (
	"fmt"
	"math"
	"os"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// Vector is a fixed-dimensionality, L2-normalized speaker embedding.
type Vector []float32

// Config controls the sliding window the extractor walks over each file.
type Config struct {
	ModelPath       string
	NumThreads      int
	Provider        string
	WindowSeconds   float64
	StrideSeconds   float64
	MinWindowEnergy float64
}

// DefaultConfig returns the windowing defaults: a 3s window, 1.5s
// stride, and a floor below which a window is treated as silence and
// skipped.
func DefaultConfig(modelPath string) Config {
	return Config{
		ModelPath:       modelPath,
		NumThreads:      4,
		Provider:        "cpu",
		WindowSeconds:   3.0,
		StrideSeconds:   1.5,
		MinWindowEnergy: 1e-4,
	}
}

// Extractor computes speaker embeddings over sliding windows of audio.
type Extractor struct {
	cfg       Config
	extractor *sherpa.SpeakerEmbeddingExtractor
	dim       int
}

// New creates an Extractor from the given model. It tries cfg.Provider
// first and falls back to "cpu" if construction fails.
func New(cfg Config) (*Extractor, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("embedding: model path is required")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("embedding: model not found: %w", err)
	}
	if cfg.WindowSeconds <= 0 {
		cfg.WindowSeconds = 3.0
	}
	if cfg.StrideSeconds <= 0 {
		cfg.StrideSeconds = 1.5
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "cpu"
	}

	sherpaConfig := &sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      cfg.ModelPath,
		NumThreads: cfg.NumThreads,
		Debug:      0,
		Provider:   provider,
	}

	ex := sherpa.NewSpeakerEmbeddingExtractor(sherpaConfig)
	if ex == nil && provider != "cpu" {
		sherpaConfig.Provider = "cpu"
		ex = sherpa.NewSpeakerEmbeddingExtractor(sherpaConfig)
	}
	if ex == nil {
		return nil, fmt.Errorf("embedding: failed to create speaker embedding extractor")
	}

	return &Extractor{
		cfg:       cfg,
		extractor: ex,
		dim:       ex.Dim(),
	}, nil
}

// Close releases the underlying sherpa-onnx extractor.
func (e *Extractor) Close() error {
	if e.extractor != nil {
		sherpa.DeleteSpeakerEmbeddingExtractor(e.extractor)
		e.extractor = nil
	}
	return nil
}

// Dim returns the embedding vector dimensionality.
func (e *Extractor) Dim() int { return e.dim }

// ExtractFile reads a mono 16kHz WAV file and returns one unit vector
// per sliding window. Windows whose RMS energy falls below
// MinWindowEnergy are treated as silence and skipped. A file shorter
// than one window still yields a single vector, computed over the
// available samples repeated to fill one window.
func (e *Extractor) ExtractFile(path string) ([]Vector, error) {
	wave := sherpa.ReadWave(path)
	if wave == nil || len(wave.Samples) == 0 {
		return nil, fmt.Errorf("embedding: failed to read %s or file is empty", path)
	}
	return e.Extract(wave.Samples, wave.SampleRate)
}

// Extract walks samples (mono, sampleRate Hz) in sliding windows and
// returns one unit vector per non-silent window.
func (e *Extractor) Extract(samples []float32, sampleRate int) ([]Vector, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("embedding: invalid sample rate %d", sampleRate)
	}
	windowLen := int(e.cfg.WindowSeconds * float64(sampleRate))
	strideLen := int(e.cfg.StrideSeconds * float64(sampleRate))
	if windowLen <= 0 || strideLen <= 0 {
		return nil, fmt.Errorf("embedding: degenerate window/stride for sample rate %d", sampleRate)
	}

	if len(samples) <= windowLen {
		window := samples
		if len(samples) > 0 && len(samples) < windowLen {
			window = make([]float32, windowLen)
			for i := range window {
				window[i] = samples[i%len(samples)]
			}
		}
		vec, err := e.computeWindow(window, sampleRate)
		if err != nil {
			return nil, err
		}
		if vec == nil {
			return nil, fmt.Errorf("embedding: audio is silent")
		}
		return []Vector{vec}, nil
	}

	var out []Vector
	for start := 0; start+windowLen <= len(samples); start += strideLen {
		window := samples[start : start+windowLen]
		if rmsEnergy(window) < e.cfg.MinWindowEnergy {
			continue
		}
		vec, err := e.computeWindow(window, sampleRate)
		if err != nil {
			return nil, err
		}
		if vec != nil {
			out = append(out, vec)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("embedding: no non-silent windows found")
	}
	return out, nil
}

func (e *Extractor) computeWindow(samples []float32, sampleRate int) (Vector, error) {
	if rmsEnergy(samples) < e.cfg.MinWindowEnergy {
		return nil, nil
	}

	stream := e.extractor.CreateStream()
	defer sherpa.DeleteOnlineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	stream.InputFinished()

	if !e.extractor.IsReady(stream) {
		return nil, fmt.Errorf("embedding: stream not ready after accepting %d samples", len(samples))
	}

	raw := e.extractor.Compute(stream)
	if raw == nil {
		return nil, fmt.Errorf("embedding: compute returned no vector")
	}
	return Normalize(Vector(raw)), nil
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

// Normalize returns v scaled to unit L2 norm. A zero vector is
// returned unchanged.
func Normalize(v Vector) Vector {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make(Vector, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
