// Package voiceprint is the on-disk voice profile store: it
// enrolls speakers from audio via internal/embedding, persists one
// JSON document per profile, and answers similarity queries for the
// identifier and monologue fast-path.
package voiceprint

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"voicecore/internal/embedding"
	"voicecore/internal/model"
)

// Mode selects enrollment behavior for an existing profile name.
type Mode string

const (
	ModeCreate    Mode = "create"    // refuses if the profile already exists
	ModeUpdate    Mode = "update"    // re-extracts from new sources and appends
	ModeOverwrite Mode = "overwrite" // replaces the profile entirely
)

const (
	minEmbeddings     = 3
	thresholdFloor    = 0.75
	thresholdCeiling  = 0.95
	subsampleCap      = 10
)

// Store manages voice profile JSON documents under a directory.
type Store struct {
	dir       string
	extractor *embedding.Extractor
}

// New returns a Store rooted at dir. dir is created if it does not
// exist.
func New(dir string, extractor *embedding.Extractor) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("voiceprint: failed to create voices dir: %w", err)
	}
	return &Store{dir: dir, extractor: extractor}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, strings.ToLower(name)+".json")
}

// Load reads one profile by name, normalizing a legacy list-only
// document (one with embeddings but no centroid key) to a
// centroid-bearing profile in memory.
func (s *Store) Load(name string) (*model.VoiceProfile, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return nil, fmt.Errorf("voiceprint: failed to load profile %q: %w", name, err)
	}

	var raw struct {
		Name                 string          `json:"name"`
		Centroid             []float64       `json:"centroid"`
		Embeddings           [][]float64     `json:"embeddings"`
		RecommendedThreshold float64         `json:"recommended_threshold"`
		CreatedAt            time.Time       `json:"created_at"`
		AudioSources         []string        `json:"audio_sources"`
		Metadata             model.Metadata  `json:"metadata"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("voiceprint: failed to parse profile %q: %w", name, err)
	}

	profile := &model.VoiceProfile{
		Name:                 raw.Name,
		Centroid:             raw.Centroid,
		Embeddings:           raw.Embeddings,
		RecommendedThreshold: raw.RecommendedThreshold,
		CreatedAt:            raw.CreatedAt,
		AudioSources:         raw.AudioSources,
		Metadata:             raw.Metadata,
	}
	if len(profile.Centroid) == 0 && len(profile.Embeddings) > 0 {
		profile.Centroid = computeCentroid(profile.Embeddings)
		if profile.RecommendedThreshold == 0 {
			profile.RecommendedThreshold = deriveThreshold(profile.Centroid, profile.Embeddings)
		}
	}
	return profile, nil
}

// List returns the names of every profile on disk, derived from
// filenames rather than file contents.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("voiceprint: failed to list voices dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		base := e.Name()
		if strings.HasSuffix(base, ".meta.json") || !strings.HasSuffix(base, ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(base, ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// Enroll extracts embeddings from audioPaths and writes (or updates,
// or overwrites) the named profile, per mode.
func (s *Store) Enroll(name string, audioPaths []string, mode Mode, minTotalSeconds float64) (*model.VoiceProfile, error) {
	if s.extractor == nil {
		return nil, fmt.Errorf("voiceprint: no embedding extractor configured")
	}

	existing, loadErr := s.Load(name)
	exists := loadErr == nil

	if mode == ModeCreate && exists {
		return nil, fmt.Errorf("voiceprint: profile %q already exists", name)
	}

	var embeddings [][]float64
	var totalSeconds float64
	for _, path := range audioPaths {
		vecs, err := s.extractor.ExtractFile(path)
		if err != nil {
			return nil, fmt.Errorf("voiceprint: failed to extract embeddings from %s: %w", path, err)
		}
		for _, v := range vecs {
			embeddings = append(embeddings, toFloat64(embedding.Normalize(v)))
		}
		// Each accepted window covers ~3s of audio (the extractor's window).
		totalSeconds += float64(len(vecs)) * 3.0
	}

	if mode == ModeUpdate && exists {
		embeddings = append(existing.Embeddings, embeddings...)
		audioPaths = append(existing.AudioSources, audioPaths...)
	}

	if len(embeddings) < minEmbeddings {
		return nil, fmt.Errorf("voiceprint: only %d embeddings extracted, need at least %d", len(embeddings), minEmbeddings)
	}
	if minTotalSeconds > 0 && totalSeconds < minTotalSeconds {
		return nil, fmt.Errorf("voiceprint: only %.1fs of accepted audio, need at least %.1fs", totalSeconds, minTotalSeconds)
	}

	centroid := computeCentroid(embeddings)
	profile := &model.VoiceProfile{
		Name:                 name,
		Centroid:             centroid,
		Embeddings:           embeddings,
		RecommendedThreshold: deriveThreshold(centroid, embeddings),
		CreatedAt:            time.Now(),
		AudioSources:         audioPaths,
		Metadata: model.Metadata{
			NumEmbeddings:        len(embeddings),
			TotalDurationSeconds: totalSeconds,
			EmbeddingDim:         len(centroid),
			Model:                "ecapa",
		},
	}

	if err := s.write(profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// write persists profile atomically via temp-file + rename.
func (s *Store) write(profile *model.VoiceProfile) error {
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return fmt.Errorf("voiceprint: failed to marshal profile: %w", err)
	}

	dest := s.path(profile.Name)
	tmp, err := os.CreateTemp(s.dir, ".voiceprint-*.tmp")
	if err != nil {
		return fmt.Errorf("voiceprint: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("voiceprint: failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("voiceprint: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("voiceprint: failed to rename temp file into place: %w", err)
	}
	return nil
}

// Similarity computes the cosine similarity between a probe embedding
// and profile. When the profile holds more than subsampleCap
// embeddings, a deterministic stride subsample bounds the cost; the
// returned value is the maximum similarity found over the subsample
// (plus the centroid itself).
func Similarity(probe []float64, profile *model.VoiceProfile) float64 {
	best := cosineSimilarity(probe, profile.Centroid)

	n := len(profile.Embeddings)
	if n == 0 {
		return best
	}
	stride := 1
	if n > subsampleCap {
		stride = (n + subsampleCap - 1) / subsampleCap
	}
	for i := 0; i < n; i += stride {
		sim := cosineSimilarity(probe, profile.Embeddings[i])
		if sim > best {
			best = sim
		}
	}
	return best
}

func computeCentroid(embeddings [][]float64) []float64 {
	if len(embeddings) == 0 {
		return nil
	}
	dim := len(embeddings[0])
	sum := make([]float64, dim)
	for _, e := range embeddings {
		for i, v := range e {
			sum[i] += v
		}
	}
	for i := range sum {
		sum[i] /= float64(len(embeddings))
	}
	return normalize(sum)
}

// deriveThreshold computes clamp(0.75, 0.95, mean_sim - 2*std_sim)
// over each embedding's self-similarity to the centroid.
func deriveThreshold(centroid []float64, embeddings [][]float64) float64 {
	if len(embeddings) == 0 {
		return thresholdFloor
	}
	sims := make([]float64, len(embeddings))
	var sum float64
	for i, e := range embeddings {
		sims[i] = cosineSimilarity(e, centroid)
		sum += sims[i]
	}
	mean := sum / float64(len(sims))

	var variance float64
	for _, s := range sims {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(sims))
	std := math.Sqrt(variance)

	t := mean - 2*std
	if t < thresholdFloor {
		t = thresholdFloor
	}
	if t > thresholdCeiling {
		t = thresholdCeiling
	}
	return t
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func normalize(v []float64) []float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func toFloat64(v embedding.Vector) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
