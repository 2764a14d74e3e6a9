package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"voicecore/internal/align"
	"voicecore/internal/config"
	"voicecore/internal/diarize"
	"voicecore/internal/embedding"
	"voicecore/internal/format"
	"voicecore/internal/identify"
	"voicecore/internal/model"
	"voicecore/internal/transcribe"
	"voicecore/internal/voiceprint"
)

func main() {
	var (
		inputFile  = flag.String("i", "", "Input audio file (WAV format, 16kHz mono)")
		outputFile = flag.String("o", "", "Output file (default: stdout)")
		outFormat  = flag.String("format", "text", "Output format: text, json, srt, vtt, words-json, summary")
		cfgPath    = flag.String("config", "", "TOML config file (default: built-in defaults)")
		embedModel = flag.String("embed-model", "", "Speaker embedding model; enables diarization and speaker attribution")
		verbose    = flag.Bool("v", false, "Verbose output")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -i audio.wav\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i audio.wav -format srt -o subtitles.srt\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -i audio.wav -embed-model models/ecapa.onnx -format vtt\n", os.Args[0])
	}

	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Error: Input file is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(*inputFile); os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Error: Input file not found: %s\n", *inputFile)
		os.Exit(1)
	}
	switch *outFormat {
	case "text", "json", "srt", "vtt", "words-json", "summary":
	default:
		fmt.Fprintf(os.Stderr, "Error: Invalid format '%s'. Must be: text, json, srt, vtt, words-json, or summary\n", *outFormat)
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		fmt.Fprintf(os.Stderr, "Loading primary model from: %s\n", cfg.PrimaryASRModel)
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
		fmt.Fprintf(os.Stderr, "Error: Failed to load primary ASR model: %v\n", err)
		os.Exit(1)
	}
	defer primary.Close()

	_, segments, err := primary.TranscribePrimary(*inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Transcription failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.EnableRefinement {
		refinement, err := transcribe.NewRefinement(transcribe.RefinementConfig{
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
			if *verbose {
				fmt.Fprintf(os.Stderr, "Refinement model unavailable, continuing with primary-only ASR: %v\n", err)
			}
		} else {
			defer refinement.Close()
			if err := refinement.Refine(*inputFile, segments); err != nil {
				fmt.Fprintf(os.Stderr, "Error: Refinement failed: %v\n", err)
				os.Exit(1)
			}
		}
	}

	// Speaker attribution is opt-in: it needs the embedding model plus
	// at least one enrolled profile in voices_dir.
	if *embedModel != "" {
		if err := attributeSpeakers(cfg, *embedModel, *inputFile, segments, *verbose); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Speaker attribution failed: %v\n", err)
			os.Exit(1)
		}
	}

	result := &format.Result{
		VideoID:            filepath.Base(*inputFile),
		Segments:           segments,
		PrimarySpeakerName: cfg.PrimarySpeakerName,
		UnknownLabel:       cfg.UnknownLabel,
	}

	var output string
	switch *outFormat {
	case "json":
		output, err = result.FormatAsJSON()
	case "words-json":
		output, err = result.FormatWordsAsJSON()
	case "srt":
		output = result.FormatAsSRT()
	case "vtt":
		output = result.FormatAsVTT()
	case "summary":
		output = result.FormatAsSummary()
	default:
		output = result.FormatAsText()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to format output: %v\n", err)
		os.Exit(1)
	}

	if *outputFile != "" {
		if err := os.WriteFile(*outputFile, []byte(output), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to write output file: %v\n", err)
			os.Exit(1)
		}
		if *verbose {
			fmt.Fprintf(os.Stderr, "Output written to: %s\n", *outputFile)
		}
	} else {
		fmt.Println(output)
	}
}

// attributeSpeakers runs the diarize → identify → align chain over an
// already-transcribed file, mutating segments in place.
func attributeSpeakers(cfg *config.Config, embedModel, inputFile string, segments []model.AsrSegment, verbose bool) error {
	extractor, err := embedding.New(embedding.DefaultConfig(embedModel))
	if err != nil {
		return fmt.Errorf("failed to load speaker embedding model: %w", err)
	}
	defer extractor.Close()

	voiceStore, err := voiceprint.New(cfg.VoicesDir, extractor)
	if err != nil {
		return err
	}
	names, err := voiceStore.List()
	if err != nil {
		return err
	}
	profiles := make(map[string]*model.VoiceProfile, len(names))
	for _, name := range names {
		profile, err := voiceStore.Load(name)
		if err != nil {
			return fmt.Errorf("failed to load profile %q: %w", name, err)
		}
		profiles[profile.Name] = profile
	}
	if verbose {
		fmt.Fprintf(os.Stderr, "Loaded %d voice profiles from %s\n", len(profiles), cfg.VoicesDir)
	}

	diarizer := diarize.NewEnergyDiarizer(diarize.DefaultEnergyConfig())
	turns, err := diarizer.Diarize(inputFile)
	if err != nil {
		return err
	}

	identifier := identify.New(identify.Config{
		PrimarySpeakerName: cfg.PrimarySpeakerName,
		PrimaryMinSim:      cfg.PrimaryMinSim,
		GuestMinSim:        cfg.GuestMinSim,
		AttrMargin:         cfg.AttrMargin,
		MinSpeakerDuration: cfg.MinSpeakerDuration,
		UnknownLabel:       cfg.UnknownLabel,
	}, extractor, profiles)

	speakerSegments, err := identifier.Identify(inputFile, turns)
	if err != nil {
		return err
	}

	align.Align(segments, speakerSegments, align.Config{
		OverlapBonus:       cfg.OverlapBonus,
		UnknownLabel:       cfg.UnknownLabel,
		PrimarySpeakerName: cfg.PrimarySpeakerName,
		PrimaryMinSim:      cfg.PrimaryMinSim,
		GuestMinSim:        cfg.GuestMinSim,
	})
	return nil
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
