// Package config holds the recognized configuration surface for the
// ingestion core: one flat struct loaded from a TOML file. A .env
// file, if present, is loaded into the process environment; no field
// of the struct is read from the environment.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	toml "github.com/pelletier/go-toml/v2"
)

// DiarizerKind selects the diarizer implementation.
type DiarizerKind string

const (
	DiarizerEnergy DiarizerKind = "energy"
	DiarizerNeural DiarizerKind = "neural"
)

// Task selects transcribe vs. translate for the ASR models.
type Task string

const (
	TaskTranscribe Task = "transcribe"
	TaskTranslate  Task = "translate"
)

// Config is the full recognized configuration surface.
type Config struct {
	PrimarySpeakerName string  `toml:"primary_speaker_name"`
	PrimaryMinSim      float64 `toml:"primary_min_sim"`
	GuestMinSim        float64 `toml:"guest_min_sim"`
	AttrMargin         float64 `toml:"attr_margin"`
	OverlapBonus       float64 `toml:"overlap_bonus"`
	UnknownLabel       string  `toml:"unknown_label"`

	AssumeMonologue bool `toml:"assume_monologue"`
	AlignWords      bool `toml:"align_words"`

	PrimaryASRModel     string  `toml:"primary_asr_model"`
	RefinementASRModel  string  `toml:"refinement_asr_model"`
	EnableRefinement    bool    `toml:"enable_refinement"`
	BeamSize            int     `toml:"beam_size"`
	RefinementBeamSize  int     `toml:"refinement_beam_size"`
	ChunkLength         int     `toml:"chunk_length"`
	VADFilter           bool    `toml:"vad_filter"`
	Language            string  `toml:"language"`
	Task                Task    `toml:"task"`
	InitialPrompt       string  `toml:"initial_prompt"`

	EnableDiarization  bool         `toml:"enable_diarization"`
	Diarizer           DiarizerKind `toml:"diarizer"`
	MinSpeakerDuration float64      `toml:"min_speaker_duration"`

	ChunkTargetSeconds float64 `toml:"chunk_target_seconds"`

	ProbeSlots    int `toml:"probe_slots"`
	DownloadSlots int `toml:"download_slots"`
	GPUWorkers    int `toml:"gpu_workers"`

	VoicesDir       string `toml:"voices_dir"`
	AudioStorageDir string `toml:"audio_storage_dir"`
	ProductionMode  bool   `toml:"production_mode"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		PrimarySpeakerName: "Chaffee",
		PrimaryMinSim:      0.62,
		GuestMinSim:        0.82,
		AttrMargin:         0.05,
		OverlapBonus:       0.03,
		UnknownLabel:       "Unknown",

		AssumeMonologue: true,
		AlignWords:      true,

		PrimaryASRModel:    "fast-en-large",
		RefinementASRModel: "whisper-large-v3",
		EnableRefinement:   true,
		BeamSize:           5,
		RefinementBeamSize: 8,
		ChunkLength:        30,
		VADFilter:          true,
		Language:           "en",
		Task:               TaskTranscribe,

		EnableDiarization:  true,
		Diarizer:           DiarizerEnergy,
		MinSpeakerDuration: 3.0,

		ChunkTargetSeconds: 45.0,

		ProbeSlots:    16,
		DownloadSlots: 8,
		GPUWorkers:    0, // 0 => computed from resources, see worker sizing

		VoicesDir:       "voices",
		AudioStorageDir: "data/audio",
		ProductionMode:  false,
	}
}

// Load reads cfgPath (TOML) over the defaults, then loads a .env file,
// if present, into the process environment. No Config field is taken
// from the environment.
func Load(cfgPath string) (*Config, error) {
	cfg := Default()

	if cfgPath != "" {
		data, err := os.ReadFile(cfgPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgPath, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", cfgPath, err)
		}
	}

	// Best-effort: a missing .env is not an error.
	_ = godotenv.Load()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configuration combinations that would crash a
// worker mid-batch rather than at startup.
func (c *Config) Validate() error {
	if c.PrimaryMinSim <= 0 || c.PrimaryMinSim > 1 {
		return fmt.Errorf("primary_min_sim must be in (0,1], got %f", c.PrimaryMinSim)
	}
	if c.GuestMinSim <= 0 || c.GuestMinSim > 1 {
		return fmt.Errorf("guest_min_sim must be in (0,1], got %f", c.GuestMinSim)
	}
	if c.ChunkTargetSeconds <= 0 {
		return fmt.Errorf("chunk_target_seconds must be positive")
	}
	if c.Diarizer != DiarizerEnergy && c.Diarizer != DiarizerNeural {
		return fmt.Errorf("diarizer must be %q or %q, got %q", DiarizerEnergy, DiarizerNeural, c.Diarizer)
	}
	if c.Task != TaskTranscribe && c.Task != TaskTranslate {
		return fmt.Errorf("task must be %q or %q, got %q", TaskTranscribe, TaskTranslate, c.Task)
	}
	if c.UnknownLabel == "" {
		c.UnknownLabel = "Unknown"
	}
	return nil
}
