// Package identify maps diarizer clusters to enrolled voice profile
// names: it groups diarizer turns by cluster, extracts one embedding
// per cluster from a representative audio span, and applies a
// duration-boosted similarity threshold plus a margin gate against
// the next-best profile.
package identify

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"voicecore/internal/embedding"
	"voicecore/internal/ingesterr"
	"voicecore/internal/model"
	"voicecore/internal/voiceprint"
)

// Config carries the thresholds and the primary speaker's name.
type Config struct {
	PrimarySpeakerName string
	PrimaryMinSim      float64
	GuestMinSim        float64
	AttrMargin         float64
	MinSpeakerDuration float64
	UnknownLabel       string
	SampleRate         int
}

// Identifier attributes diarizer clusters to enrolled profiles.
type Identifier struct {
	cfg       Config
	extractor *embedding.Extractor
	profiles  map[string]*model.VoiceProfile
}

// New returns an Identifier over the given loaded profiles, keyed by
// name.
func New(cfg Config, extractor *embedding.Extractor, profiles map[string]*model.VoiceProfile) *Identifier {
	if cfg.UnknownLabel == "" {
		cfg.UnknownLabel = model.UnknownSpeaker
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Identifier{cfg: cfg, extractor: extractor, profiles: profiles}
}

// Identify groups turns by cluster id and attributes each cluster to
// an enrolled profile or the unknown sentinel, emitting one
// SpeakerSegment per original turn.
func (id *Identifier) Identify(audioPath string, turns []model.DiarTurn) ([]model.SpeakerSegment, error) {
	clusters := groupByCluster(turns)

	var out []model.SpeakerSegment
	for _, cluster := range clusters {
		total := totalDuration(cluster)

		if total < id.cfg.MinSpeakerDuration {
			for _, t := range cluster {
				out = append(out, model.SpeakerSegment{
					Start: t.Start, End: t.End, SpeakerName: id.cfg.UnknownLabel,
					Confidence: 0, Margin: 0, ClusterID: t.ClusterID,
				})
			}
			continue
		}

		embVec, err := id.representativeEmbedding(audioPath, cluster)
		if err != nil {
			return nil, ingesterr.Identification(err)
		}

		name, confidence, margin := id.attribute(embVec, total)
		for _, t := range cluster {
			out = append(out, model.SpeakerSegment{
				Start: t.Start, End: t.End, SpeakerName: name,
				Confidence: confidence, Margin: margin, ClusterID: t.ClusterID,
			})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func groupByCluster(turns []model.DiarTurn) [][]model.DiarTurn {
	byID := map[int][]model.DiarTurn{}
	var order []int
	for _, t := range turns {
		if _, ok := byID[t.ClusterID]; !ok {
			order = append(order, t.ClusterID)
		}
		byID[t.ClusterID] = append(byID[t.ClusterID], t)
	}
	sort.Ints(order)
	clusters := make([][]model.DiarTurn, 0, len(order))
	for _, id := range order {
		clusters = append(clusters, byID[id])
	}
	return clusters
}

func totalDuration(turns []model.DiarTurn) float64 {
	var sum float64
	for _, t := range turns {
		sum += t.End - t.Start
	}
	return sum
}

// representativeEmbedding concatenates up to the first 5 turns of
// length ≥0.5s until ≥2s of audio is collected (target 5s), writes
// them to a scratch file via ffmpeg's concat, extracts embeddings,
// and averages them into a single cluster embedding.
func (id *Identifier) representativeEmbedding(audioPath string, turns []model.DiarTurn) ([]float64, error) {
	var selected []model.DiarTurn
	var collected float64
	for _, t := range turns {
		if len(selected) >= 5 {
			break
		}
		dur := t.End - t.Start
		if dur < 0.5 {
			continue
		}
		selected = append(selected, t)
		collected += dur
		if collected >= 5.0 {
			break
		}
	}
	if len(selected) == 0 {
		selected = turns[:1]
	}

	scratch, err := extractTurnsToFile(audioPath, selected, id.cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	defer os.Remove(scratch)

	vecs, err := id.extractor.ExtractFile(scratch)
	if err != nil {
		return nil, err
	}

	dim := len(vecs[0])
	mean := make([]float64, dim)
	for _, v := range vecs {
		for i, x := range v {
			mean[i] += float64(x)
		}
	}
	for i := range mean {
		mean[i] /= float64(len(vecs))
	}
	return mean, nil
}

// extractTurnsToFile extracts and concatenates the given spans from
// srcPath into one temporary WAV file via ffmpeg's concat filter.
func extractTurnsToFile(srcPath string, turns []model.DiarTurn, sampleRate int) (string, error) {
	tmp, err := os.CreateTemp("", "identify-cluster-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create scratch file: %w", err)
	}
	tmp.Close()
	outPath := tmp.Name()

	var filterParts []string
	var inputs []string
	for i, t := range turns {
		inputs = append(inputs, "-ss", fmt.Sprintf("%.3f", t.Start), "-to", fmt.Sprintf("%.3f", t.End), "-i", srcPath)
		filterParts = append(filterParts, fmt.Sprintf("[%d:a]", i))
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=0:a=1[out]", strings.Join(filterParts, ""), len(turns))

	args := append([]string{}, inputs...)
	args = append(args,
		"-filter_complex", filter,
		"-map", "[out]",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", "1",
		"-y", outPath,
	)

	cmd := exec.Command("ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(outPath)
		return "", fmt.Errorf("ffmpeg concat failed: %w\noutput: %s", err, string(out))
	}
	return outPath, nil
}

// attribute applies the duration bonus, threshold, and margin gate
// and returns the attributed name, its cluster-mean confidence, and
// the computed margin.
func (id *Identifier) attribute(clusterEmbedding []float64, totalSeconds float64) (string, float64, float64) {
	type candidate struct {
		name    string
		rawSim  float64
		boosted float64
	}

	bonus := 1.0
	switch {
	case totalSeconds >= 10.0:
		bonus = 1.05
	case totalSeconds >= 5.0:
		bonus = 1.02
	}

	var candidates []candidate
	for name, profile := range id.profiles {
		raw := voiceprint.Similarity(clusterEmbedding, profile)
		candidates = append(candidates, candidate{name: name, rawSim: raw, boosted: raw * bonus})
	}
	if len(candidates) == 0 {
		return id.cfg.UnknownLabel, 0, 0
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].boosted > candidates[j].boosted })
	best := candidates[0]

	margin := best.rawSim
	if len(candidates) > 1 {
		margin = best.rawSim - candidates[1].rawSim
	}

	threshold := id.cfg.GuestMinSim
	if best.name == id.cfg.PrimarySpeakerName {
		threshold = id.cfg.PrimaryMinSim
	}

	if best.boosted >= threshold && margin >= id.cfg.AttrMargin {
		return best.name, best.rawSim, margin
	}
	return id.cfg.UnknownLabel, 0, 0
}
