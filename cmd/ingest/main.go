package main

import (
	"context"
	"crypto/sha256"
	"encoding/csv"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"voicecore/internal/access"
	"voicecore/internal/audio"
	"voicecore/internal/caption"
	"voicecore/internal/config"
	"voicecore/internal/diarize"
	"voicecore/internal/embedding"
	"voicecore/internal/identify"
	"voicecore/internal/ingest"
	"voicecore/internal/model"
	"voicecore/internal/monologue"
	"voicecore/internal/store"
	"voicecore/internal/transcribe"
	"voicecore/internal/voiceprint"
)

func main() {
	var (
		cfgPath   = flag.String("config", "", "TOML config file (default: built-in defaults)")
		videoList = flag.String("videos", "", "CSV file of videos to ingest: video_id,title,duration_seconds,source,url_or_path")
		dsn       = flag.String("postgres", "", "Postgres DSN; empty uses the local sqlite store")
		sqlitePath = flag.String("sqlite", "data/voicecore.db", "sqlite database path, used when -postgres is empty")
		embedModel = flag.String("embed-model", "", "path to the speaker embedding model file (required for diarization/identification/monologue)")
		vramGB    = flag.Float64("vram-gb", 8, "available GPU memory in GB, used to size the GPU worker pool")
	)
	flag.Parse()

	if *videoList == "" {
		fmt.Fprintln(os.Stderr, "Error: -videos is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	videos, err := loadVideoList(*videoList)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load video list: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var st store.Store
	if *dsn != "" {
		st, err = store.OpenPostgres(ctx, *dsn)
	} else {
		st, err = store.OpenSQLite(*sqlitePath)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	acquirer, err := audio.New(audio.DefaultConfig(cfg.AudioStorageDir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to construct audio acquirer: %v\n", err)
		os.Exit(1)
	}

	primary, err := transcribe.NewPrimary(transcribe.PrimaryConfig{
		EncoderPath:   findModelFile(cfg.PrimaryASRModel, "encoder.int8.onnx", "encoder.onnx"),
		DecoderPath:   findModelFile(cfg.PrimaryASRModel, "decoder.int8.onnx", "decoder.onnx"),
		JoinerPath:    findModelFile(cfg.PrimaryASRModel, "joiner.int8.onnx", "joiner.onnx"),
		TokensPath:    findModelFile(cfg.PrimaryASRModel, "tokens.txt"),
		NumThreads:    runtime.NumCPU(),
		SampleRate:    16000,
		BeamSize:      cfg.BeamSize,
		Language:      cfg.Language,
		InitialPrompt: cfg.InitialPrompt,
		VADFilter:     cfg.VADFilter,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load primary ASR model: %v\n", err)
		os.Exit(1)
	}
	defer primary.Close()

	var refinement *transcribe.Refinement
	if cfg.EnableRefinement {
		refinement, err = transcribe.NewRefinement(transcribe.RefinementConfig{
			EncoderPath: findModelFile(cfg.RefinementASRModel, "encoder.onnx"),
			DecoderPath: findModelFile(cfg.RefinementASRModel, "decoder.onnx"),
			TokensPath:  findModelFile(cfg.RefinementASRModel, "tokens.txt"),
			Language:    cfg.Language,
			Task:        string(cfg.Task),
			NumThreads:  runtime.NumCPU(),
			SampleRate:  16000,
			BeamSize:    cfg.RefinementBeamSize,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: refinement model unavailable, continuing with primary-only ASR: %v\n", err)
			refinement = nil
		} else {
			defer refinement.Close()
		}
	}

	var diarizer diarize.Diarizer
	if cfg.EnableDiarization {
		switch cfg.Diarizer {
		case config.DiarizerNeural:
			neuralCfg := diarize.DefaultNeuralConfig(filepath.Join(filepath.Dir(cfg.PrimaryASRModel), "diarization", "segmentation.onnx"), *embedModel)
			neuralCfg.NumThreads = runtime.NumCPU()
			neural, err := diarize.NewNeuralDiarizer(neuralCfg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Warning: neural diarizer unavailable, falling back to energy diarizer: %v\n", err)
				diarizer = diarize.NewEnergyDiarizer(diarize.DefaultEnergyConfig())
			} else {
				diarizer = neural
			}
		default:
			diarizer = diarize.NewEnergyDiarizer(diarize.DefaultEnergyConfig())
		}
	}

	extractor, err := embedding.New(embedding.DefaultConfig(*embedModel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load speaker embedding model: %v\n", err)
		os.Exit(1)
	}
	defer extractor.Close()

	profiles, err := loadAllProfiles(cfg.VoicesDir, extractor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load voice profiles: %v\n", err)
		os.Exit(1)
	}

	identifier := identify.New(identify.Config{
		PrimarySpeakerName: cfg.PrimarySpeakerName,
		PrimaryMinSim:      cfg.PrimaryMinSim,
		GuestMinSim:        cfg.GuestMinSim,
		AttrMargin:         cfg.AttrMargin,
		MinSpeakerDuration: cfg.MinSpeakerDuration,
		UnknownLabel:       cfg.UnknownLabel,
	}, extractor, profiles)

	deps := ingest.Deps{
		Acquirer:   acquirer,
		Prober:     access.New(int64(cfg.ProbeSlots)),
		Caption:    caption.New(cfg.Language),
		Primary:    primary,
		Diarizer:   diarizer,
		Identifier: identifier,
		Monologue:  ingest.MonologueAdapter{Extractor: extractor, Gate: monologue.Gate{PrimaryThreshold: cfg.PrimaryMinSim}},
		Embedder:   textHashEmbedder,
		Store:      st,
		Profiles:   profiles,
	}
	if refinement != nil {
		deps.Refinement = refinement
	}

	orch := ingest.New(cfg, deps, *vramGB, runtime.NumCPU(), 2.5)
	summary := orch.Run(ctx, videos)
	fmt.Println(summary.Render())

	if summary.Failed > 0 {
		os.Exit(1)
	}
}

func findModelFile(dir string, candidates ...string) string {
	for _, candidate := range candidates {
		path := filepath.Join(dir, candidate)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func loadVideoList(path string) ([]model.VideoDescriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	var videos []model.VideoDescriptor
	for i, row := range rows {
		if i == 0 && len(row) > 0 && row[0] == "video_id" {
			continue // header row
		}
		if len(row) < 5 {
			return nil, fmt.Errorf("row %d: expected 5 columns, got %d", i, len(row))
		}
		duration, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid duration_seconds %q: %w", i, row[2], err)
		}
		videos = append(videos, model.VideoDescriptor{
			VideoID:         row[0],
			Title:           row[1],
			DurationSeconds: duration,
			SourceType:      model.SourceType(row[3]),
			URLOrPath:       row[4],
			PublishedAt:     time.Now(),
		})
	}
	return videos, nil
}

func loadAllProfiles(voicesDir string, extractor *embedding.Extractor) (map[string]*model.VoiceProfile, error) {
	voiceStore, err := voiceprint.New(voicesDir, extractor)
	if err != nil {
		return nil, err
	}
	names, err := voiceStore.List()
	if err != nil {
		return nil, err
	}

	profiles := make(map[string]*model.VoiceProfile, len(names))
	for _, name := range names {
		profile, err := voiceStore.Load(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load profile %q: %w", name, err)
		}
		profiles[profile.Name] = profile
	}
	return profiles, nil
}

// textHashEmbedder is the default chunk-text embedder. The chunk
// embedding model itself is an external collaborator: Deps.Embedder
// is a plain function so a real model client can be substituted
// without touching the orchestrator.
// This stand-in produces a deterministic, content-addressed vector so
// upserts stay idempotent and reproducible without one wired in. Its
// 256 dimensions match the Postgres schema's vector(256) column.
func textHashEmbedder(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, 0, 256)
	for block := 0; len(out) < 256; block++ {
		sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%s", block, text)))
		for _, b := range sum {
			out = append(out, (float32(b)/255.0)*2-1)
		}
	}
	return normalize(out), nil
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
