package diarize

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"voicecore/internal/model"
)

// pcm16 encodes float samples in [-1,1] as little-endian s16 bytes.
func pcm16(samples []float64) []byte {
	var buf bytes.Buffer
	for _, s := range samples {
		v := int16(s * 32767)
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func constSamples(value float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = value
	}
	return out
}

func TestComputeFrameRMSSplitsIntoFrames(t *testing.T) {
	// Two full frames of 480 samples: one loud, one silent.
	samples := append(constSamples(0.5, 480), constSamples(0, 480)...)
	frames, err := computeFrameRMS(bytes.NewReader(pcm16(samples)), 480)
	if err != nil {
		t.Fatalf("computeFrameRMS: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(frames))
	}
	if math.Abs(frames[0]-0.5) > 0.01 {
		t.Errorf("loud frame RMS should be ~0.5, got %f", frames[0])
	}
	if frames[1] > 0.001 {
		t.Errorf("silent frame RMS should be ~0, got %f", frames[1])
	}
}

func TestComputeFrameRMSKeepsPartialTrailingFrame(t *testing.T) {
	samples := constSamples(0.5, 600) // one full frame plus 120 samples
	frames, err := computeFrameRMS(bytes.NewReader(pcm16(samples)), 480)
	if err != nil {
		t.Fatalf("computeFrameRMS: %v", err)
	}
	if len(frames) != 2 {
		t.Errorf("trailing partial frame must be kept, got %d frames", len(frames))
	}
}

func TestComputeFrameRMSEmptyInput(t *testing.T) {
	frames, err := computeFrameRMS(bytes.NewReader(nil), 480)
	if err != nil {
		t.Fatalf("computeFrameRMS: %v", err)
	}
	if len(frames) != 0 {
		t.Errorf("empty audio must yield no frames, got %d", len(frames))
	}
}

func TestRMS(t *testing.T) {
	if got := rms(nil); got != 0 {
		t.Errorf("rms of no samples must be 0, got %f", got)
	}
	if got := rms([]float32{0.5, -0.5, 0.5, -0.5}); math.Abs(got-0.5) > 1e-6 {
		t.Errorf("expected RMS 0.5, got %f", got)
	}
}

func TestDensifyRemapsInFirstSeenOrder(t *testing.T) {
	turns := []model.DiarTurn{
		{Start: 0, End: 1, ClusterID: 7},
		{Start: 1, End: 2, ClusterID: 3},
		{Start: 2, End: 3, ClusterID: 7},
		{Start: 3, End: 4, ClusterID: 9},
	}
	densify(turns)
	want := []int{0, 1, 0, 2}
	for i, turn := range turns {
		if turn.ClusterID != want[i] {
			t.Errorf("turn %d: expected cluster %d, got %d", i, want[i], turn.ClusterID)
		}
	}
}

func TestDefaultEnergyConfigMatchesPauseRule(t *testing.T) {
	cfg := DefaultEnergyConfig()
	if cfg.MinSilenceDuration != 0.5 {
		t.Errorf("pause >=0.5s starts a new cluster; config says %f", cfg.MinSilenceDuration)
	}
	if cfg.SampleRate != 16000 {
		t.Errorf("expected 16kHz frames, got %d", cfg.SampleRate)
	}
}
