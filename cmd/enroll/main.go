package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"voicecore/internal/config"
	"voicecore/internal/embedding"
	"voicecore/internal/voiceprint"
)

func main() {
	var (
		cfgPath    = flag.String("config", "", "TOML config file (default: built-in defaults)")
		name       = flag.String("name", "", "speaker name to enroll")
		audioFiles = flag.String("audio", "", "comma-separated list of WAV files to enroll from")
		embedModel = flag.String("embed-model", "", "path to the speaker embedding model file")
		mode       = flag.String("mode", "create", "create, update, or overwrite")
		minSeconds = flag.Float64("min-seconds", 30.0, "minimum total enrollment audio duration in seconds")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s -name NAME -audio file1.wav,file2.wav [options]\n\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if *name == "" || *audioFiles == "" {
		fmt.Fprintln(os.Stderr, "Error: -name and -audio are required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	var enrollMode voiceprint.Mode
	switch *mode {
	case "create":
		enrollMode = voiceprint.ModeCreate
	case "update":
		enrollMode = voiceprint.ModeUpdate
	case "overwrite":
		enrollMode = voiceprint.ModeOverwrite
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid -mode %q (want create, update, or overwrite)\n", *mode)
		os.Exit(1)
	}

	extractor, err := embedding.New(embedding.DefaultConfig(*embedModel))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to load speaker embedding model: %v\n", err)
		os.Exit(1)
	}
	defer extractor.Close()

	voiceStore, err := voiceprint.New(cfg.VoicesDir, extractor)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open voices directory: %v\n", err)
		os.Exit(1)
	}

	paths := strings.Split(*audioFiles, ",")
	for i, p := range paths {
		paths[i] = strings.TrimSpace(p)
	}

	profile, err := voiceStore.Enroll(*name, paths, enrollMode, *minSeconds)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: enrollment failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Enrolled %q from %d source(s), %.1fs total audio, %d embeddings, recommended_threshold=%.3f\n",
		profile.Name, len(profile.AudioSources), profile.Metadata.TotalDurationSeconds,
		profile.Metadata.NumEmbeddings, profile.RecommendedThreshold)
}
