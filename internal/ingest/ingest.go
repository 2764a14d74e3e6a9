// Package ingest implements the ingestion orchestrator: a per-video
// resumable state machine driven across a worker pool sized to the
// batch and to available GPU memory, with golang.org/x/sync's
// semaphore.Weighted/errgroup primitives bounding every concurrent
// stage.
package ingest

import (
	"context"
	"log"

	"golang.org/x/sync/semaphore"

	"voicecore/internal/config"
	"voicecore/internal/model"
	"voicecore/internal/store"
)

// phasedModeThreshold is the batch size above which the orchestrator
// switches from one-task-per-video concurrency to the sequential
// probe/download/GPU-fanout phases.
const phasedModeThreshold = 25

// probeBatchThreshold is the batch size above which the accessibility
// probe is worth running at all.
const probeBatchThreshold = 15

// Acquirer produces normalized audio for one video.
type Acquirer interface {
	Acquire(ctx context.Context, video model.VideoDescriptor) (*model.AudioArtifact, error)
}

// Prober cheaply checks whether a remote video is fetchable.
type Prober interface {
	IsAccessible(ctx context.Context, video model.VideoDescriptor) (bool, error)
}

// PrimaryASR is the fast whole-file transcription pass.
type PrimaryASR interface {
	TranscribePrimary(audioPath string) (text string, segments []model.AsrSegment, err error)
}

// CaptionFetcher is the transcript-first step that runs ahead of ASR
// for remote videos: when a manually-authored YouTube caption
// track exists, it returns sentence-level segments from it and skips
// ASR entirely. The bool return reports whether a usable track was
// found; a miss is not an error, it just means ASR runs as usual.
type CaptionFetcher interface {
	FetchTranscript(ctx context.Context, video model.VideoDescriptor) (segments []model.AsrSegment, found bool, err error)
}

// RefinementASR selectively re-transcribes the spans the primary pass
// flagged. It mutates segments in place.
type RefinementASR interface {
	Refine(audioPath string, segments []model.AsrSegment) error
}

// Diarizer partitions audio into speaker turns. A runtime failure
// here degrades gracefully: the caller treats an error as "no turns"
// rather than failing the video.
type Diarizer interface {
	Diarize(audioPath string) ([]model.DiarTurn, error)
}

// SpeakerIdentifier attributes diarizer clusters to enrolled profiles.
type SpeakerIdentifier interface {
	Identify(audioPath string, turns []model.DiarTurn) ([]model.SpeakerSegment, error)
}

// MonologueChecker is the fast-path pre-check.
type MonologueChecker interface {
	Check(audioPath string, primary *model.VoiceProfile) (hit bool, meanSim float64)
}

// Embedder turns chunk text into a vector. It is the external
// embedding-model collaborator: the ingestion core consumes it as a
// function, never as a concrete model.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Deps bundles every collaborator a video-processing task calls.
// Refinement may be nil to disable the second pass outright. Profiles
// must include
// the configured primary speaker's profile when AssumeMonologue or
// enrolled-speaker identification is in play.
type Deps struct {
	Acquirer   Acquirer
	Prober     Prober
	Caption    CaptionFetcher
	Primary    PrimaryASR
	Refinement RefinementASR
	Diarizer   Diarizer
	Identifier SpeakerIdentifier
	Monologue  MonologueChecker
	Embedder   Embedder
	Store      store.Store
	Profiles   map[string]*model.VoiceProfile
}

// Orchestrator runs the per-video pipeline across a batch, choosing
// concurrent or phased mode by batch size and bounding every
// suspension point with the probe/download/GPU semaphores.
type Orchestrator struct {
	cfg  *config.Config
	deps Deps

	probeSlots    *semaphore.Weighted
	downloadSlots *semaphore.Weighted
	gpuSlots      *semaphore.Weighted
	gpuWorkers    int
}

// New builds an Orchestrator. gpuWorkers, if cfg.GPUWorkers is 0, is
// computed from vramGB/cpuCores/perWorkerGB via ComputeGPUWorkers.
func New(cfg *config.Config, deps Deps, vramGB float64, cpuCores int, perWorkerGB float64) *Orchestrator {
	gpuWorkers := cfg.GPUWorkers
	if gpuWorkers <= 0 {
		gpuWorkers = ComputeGPUWorkers(vramGB, cpuCores, perWorkerGB, 4)
	}
	probeSlots := int64(cfg.ProbeSlots)
	if probeSlots <= 0 {
		probeSlots = 16
	}
	downloadSlots := int64(cfg.DownloadSlots)
	if downloadSlots <= 0 {
		downloadSlots = 8
	}

	return &Orchestrator{
		cfg:           cfg,
		deps:          deps,
		probeSlots:    semaphore.NewWeighted(probeSlots),
		downloadSlots: semaphore.NewWeighted(downloadSlots),
		gpuSlots:      semaphore.NewWeighted(int64(gpuWorkers)),
		gpuWorkers:    gpuWorkers,
	}
}

// Run dispatches to concurrent or phased mode by batch size and
// returns the aggregate batch summary.
func (o *Orchestrator) Run(ctx context.Context, videos []model.VideoDescriptor) *BatchSummary {
	var results []VideoResult
	if len(videos) > phasedModeThreshold {
		log.Printf("ingest: phased mode for %d videos", len(videos))
		results = o.runPhased(ctx, videos)
	} else {
		log.Printf("ingest: concurrent mode for %d videos", len(videos))
		results = o.runConcurrent(ctx, videos)
	}
	return summarize(results)
}

func shouldProbe(batchSize int) bool {
	return batchSize > probeBatchThreshold
}
