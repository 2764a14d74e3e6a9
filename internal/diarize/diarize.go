// Package diarize implements the pluggable speaker diarizer: a
// zero-dependency energy-based fallback that splits on silence, and a
// neural implementation wrapping sherpa.OfflineSpeakerDiarization.
// The neural diarizer falls back to the energy one on load failure.
package diarize

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os/exec"
	"sort"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"

	"voicecore/internal/ingesterr"
	"voicecore/internal/model"
)

// Diarizer maps a PCM audio file to a sequence of speaker turns,
// sorted by start, with dense cluster ids starting at 0.
type Diarizer interface {
	Diarize(audioPath string) ([]model.DiarTurn, error)
	Close() error
}

// EnergyConfig controls the frame-level RMS fallback diarizer.
type EnergyConfig struct {
	SampleRate         int
	FrameSize          int
	SilenceThreshold   float64
	MinSilenceDuration float64
	MinSpeechDuration  float64
}

// DefaultEnergyConfig uses 30ms frames at 16kHz; a pause of at least
// 0.5s starts a new cluster.
func DefaultEnergyConfig() EnergyConfig {
	return EnergyConfig{
		SampleRate:         16000,
		FrameSize:          480,
		SilenceThreshold:   0.01,
		MinSilenceDuration: 0.5,
		MinSpeechDuration:  0.1,
	}
}

// EnergyDiarizer separates speech from silence by RMS threshold. It
// does not distinguish speakers: every speech run after a long pause
// starts a new cluster id, guaranteeing the pipeline runs even with
// no neural model available.
type EnergyDiarizer struct {
	cfg EnergyConfig
}

// NewEnergyDiarizer returns the zero-dependency fallback diarizer.
func NewEnergyDiarizer(cfg EnergyConfig) *EnergyDiarizer {
	if cfg.SampleRate == 0 {
		cfg = DefaultEnergyConfig()
	}
	return &EnergyDiarizer{cfg: cfg}
}

func (d *EnergyDiarizer) Close() error { return nil }

// Diarize runs ffmpeg to get raw PCM, computes per-frame RMS, and
// groups speech runs separated by pauses ≥ MinSilenceDuration into
// successive cluster ids.
func (d *EnergyDiarizer) Diarize(audioPath string) ([]model.DiarTurn, error) {
	cmd := exec.Command("ffmpeg",
		"-i", audioPath,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", fmt.Sprintf("%d", d.cfg.SampleRate),
		"-ac", "1",
		"-loglevel", "error",
		"-",
	)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, ingesterr.Diarization(fmt.Errorf("failed to create pipe: %w", err))
	}
	if err := cmd.Start(); err != nil {
		return nil, ingesterr.Diarization(fmt.Errorf("failed to start ffmpeg: %w", err))
	}

	frames, err := computeFrameRMS(stdout, d.cfg.FrameSize)
	cmd.Wait()
	if err != nil {
		return nil, ingesterr.Diarization(err)
	}
	if len(frames) == 0 {
		return nil, nil
	}

	frameDuration := float64(d.cfg.FrameSize) / float64(d.cfg.SampleRate)
	minSilenceFrames := int(d.cfg.MinSilenceDuration / frameDuration)
	minSpeechFrames := int(d.cfg.MinSpeechDuration / frameDuration)

	var turns []model.DiarTurn
	inSpeech := false
	speechStart := 0
	silenceCount := 0
	clusterID := -1

	closeRun := func(endFrame int) {
		if endFrame-speechStart < minSpeechFrames {
			return
		}
		clusterID++
		turns = append(turns, model.DiarTurn{
			Start:     float64(speechStart) * frameDuration,
			End:       float64(endFrame) * frameDuration,
			ClusterID: clusterID,
		})
	}

	for i, rms := range frames {
		isSilent := rms < d.cfg.SilenceThreshold
		if !inSpeech {
			if !isSilent {
				inSpeech = true
				speechStart = i
				silenceCount = 0
			}
			continue
		}
		if isSilent {
			silenceCount++
			if silenceCount >= minSilenceFrames {
				closeRun(i - silenceCount + 1)
				inSpeech = false
				silenceCount = 0
			}
		} else {
			silenceCount = 0
		}
	}
	if inSpeech {
		closeRun(len(frames))
	}
	return turns, nil
}

func computeFrameRMS(r io.Reader, frameSize int) ([]float64, error) {
	reader := bufio.NewReader(r)
	var frames []float64
	frameSamples := make([]float32, 0, frameSize)
	buf := make([]byte, 2)

	for {
		_, err := io.ReadFull(reader, buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audio: %w", err)
		}
		sample := float32(int16(binary.LittleEndian.Uint16(buf))) / 32768.0
		frameSamples = append(frameSamples, sample)
		if len(frameSamples) >= frameSize {
			frames = append(frames, rms(frameSamples))
			frameSamples = frameSamples[:0]
		}
	}
	if len(frameSamples) > 0 {
		frames = append(frames, rms(frameSamples))
	}
	return frames, nil
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// NeuralConfig configures the sherpa-onnx speaker diarization pipeline.
type NeuralConfig struct {
	SegmentationModelPath string
	EmbeddingModelPath    string
	NumThreads            int
	Provider              string
	ClusteringThreshold   float64
	MinDurationOn         float64
	MinDurationOff        float64
	SampleRate            int
}

// DefaultNeuralConfig returns conservative defaults for the pyannote
// segmentation + embedding pipeline.
func DefaultNeuralConfig(segmentationPath, embeddingPath string) NeuralConfig {
	return NeuralConfig{
		SegmentationModelPath: segmentationPath,
		EmbeddingModelPath:    embeddingPath,
		NumThreads:            4,
		Provider:              "cpu",
		ClusteringThreshold:   0.5,
		MinDurationOn:         0.3,
		MinDurationOff:        0.5,
		SampleRate:            16000,
	}
}

// NeuralDiarizer wraps sherpa.OfflineSpeakerDiarization.
type NeuralDiarizer struct {
	cfg      NeuralConfig
	diarizer *sherpa.OfflineSpeakerDiarization
}

// NewNeuralDiarizer loads the segmentation + embedding models. The
// caller should fall back to NewEnergyDiarizer and record the failure
// in ingest state if this returns an error.
func NewNeuralDiarizer(cfg NeuralConfig) (*NeuralDiarizer, error) {
	sherpaConfig := &sherpa.OfflineSpeakerDiarizationConfig{
		Segmentation: sherpa.OfflineSpeakerSegmentationModelConfig{
			Pyannote: sherpa.OfflineSpeakerSegmentationPyannoteModelConfig{
				Model: cfg.SegmentationModelPath,
			},
			NumThreads: cfg.NumThreads,
			Debug:      0,
			Provider:   cfg.Provider,
		},
		Embedding: sherpa.SpeakerEmbeddingExtractorConfig{
			Model:      cfg.EmbeddingModelPath,
			NumThreads: cfg.NumThreads,
			Debug:      0,
			Provider:   cfg.Provider,
		},
		Clustering: sherpa.FastClusteringConfig{
			NumClusters: -1,
			Threshold:   cfg.ClusteringThreshold,
		},
		MinDurationOn:  cfg.MinDurationOn,
		MinDurationOff: cfg.MinDurationOff,
	}

	diarizer := sherpa.NewOfflineSpeakerDiarization(sherpaConfig)
	if diarizer == nil {
		return nil, fmt.Errorf("diarize: failed to create neural diarizer (segmentation=%s embedding=%s)",
			cfg.SegmentationModelPath, cfg.EmbeddingModelPath)
	}
	return &NeuralDiarizer{cfg: cfg, diarizer: diarizer}, nil
}

func (d *NeuralDiarizer) Close() error {
	if d.diarizer != nil {
		sherpa.DeleteOfflineSpeakerDiarization(d.diarizer)
		d.diarizer = nil
	}
	return nil
}

// Diarize reads audioPath and runs the neural pipeline, sorting
// output turns by start and renumbering cluster ids densely from 0
// (sherpa-onnx's own ids are already dense, but this is not assumed).
func (d *NeuralDiarizer) Diarize(audioPath string) ([]model.DiarTurn, error) {
	wave := sherpa.ReadWave(audioPath)
	if wave == nil || len(wave.Samples) == 0 {
		return nil, ingesterr.Diarization(fmt.Errorf("failed to read %s or file is empty", audioPath))
	}

	segments := d.diarizer.Process(wave.Samples)
	if len(segments) == 0 {
		return nil, nil
	}

	turns := make([]model.DiarTurn, len(segments))
	for i, seg := range segments {
		turns[i] = model.DiarTurn{
			Start:     float64(seg.Start),
			End:       float64(seg.End),
			ClusterID: seg.Speaker,
		}
	}
	sort.Slice(turns, func(i, j int) bool { return turns[i].Start < turns[j].Start })
	densify(turns)
	return turns, nil
}

// densify remaps cluster ids to a dense 0..k-1 range in first-seen
// order, mutating turns in place.
func densify(turns []model.DiarTurn) {
	remap := map[int]int{}
	next := 0
	for i := range turns {
		id, ok := remap[turns[i].ClusterID]
		if !ok {
			id = next
			remap[turns[i].ClusterID] = id
			next++
		}
		turns[i].ClusterID = id
	}
}
