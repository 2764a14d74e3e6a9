package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()
	if cfg.PrimarySpeakerName != "Chaffee" {
		t.Errorf("primary_speaker_name default: got %q", cfg.PrimarySpeakerName)
	}
	if cfg.PrimaryMinSim != 0.62 || cfg.GuestMinSim != 0.82 {
		t.Errorf("threshold defaults: primary=%f guest=%f", cfg.PrimaryMinSim, cfg.GuestMinSim)
	}
	if cfg.AttrMargin != 0.05 || cfg.OverlapBonus != 0.03 {
		t.Errorf("margin defaults: attr=%f overlap=%f", cfg.AttrMargin, cfg.OverlapBonus)
	}
	if !cfg.AssumeMonologue || !cfg.AlignWords {
		t.Errorf("assume_monologue and align_words must default on")
	}
	if cfg.ChunkTargetSeconds != 45.0 {
		t.Errorf("chunk_target_seconds default: got %f", cfg.ChunkTargetSeconds)
	}
	if cfg.ProbeSlots != 16 || cfg.DownloadSlots != 8 {
		t.Errorf("slot defaults: probe=%d download=%d", cfg.ProbeSlots, cfg.DownloadSlots)
	}
	if cfg.MinSpeakerDuration != 3.0 {
		t.Errorf("min_speaker_duration default: got %f", cfg.MinSpeakerDuration)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadOverlaysTOMLOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	toml := `
primary_speaker_name = "Smith"
guest_min_sim = 0.9
diarizer = "neural"
chunk_target_seconds = 30.0
`
	if err := os.WriteFile(path, []byte(toml), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PrimarySpeakerName != "Smith" {
		t.Errorf("TOML override lost: primary_speaker_name=%q", cfg.PrimarySpeakerName)
	}
	if cfg.GuestMinSim != 0.9 {
		t.Errorf("TOML override lost: guest_min_sim=%f", cfg.GuestMinSim)
	}
	if cfg.Diarizer != DiarizerNeural {
		t.Errorf("TOML override lost: diarizer=%q", cfg.Diarizer)
	}
	// Untouched keys keep their defaults.
	if cfg.PrimaryMinSim != 0.62 {
		t.Errorf("unset key lost its default: primary_min_sim=%f", cfg.PrimaryMinSim)
	}
}

func TestLoadMissingFileIsAnError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Errorf("expected error for missing config path")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero primary sim", func(c *Config) { c.PrimaryMinSim = 0 }},
		{"guest sim above 1", func(c *Config) { c.GuestMinSim = 1.5 }},
		{"negative chunk target", func(c *Config) { c.ChunkTargetSeconds = -1 }},
		{"unknown diarizer", func(c *Config) { c.Diarizer = "quantum" }},
		{"unknown task", func(c *Config) { c.Task = "summarize" }},
	}
	for _, c := range cases {
		cfg := Default()
		c.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", c.name)
		}
	}
}

func TestValidateBackfillsUnknownLabel(t *testing.T) {
	cfg := Default()
	cfg.UnknownLabel = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.UnknownLabel != "Unknown" {
		t.Errorf("empty unknown_label must backfill to the sentinel, got %q", cfg.UnknownLabel)
	}
}
