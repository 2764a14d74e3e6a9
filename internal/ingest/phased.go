package ingest

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"voicecore/internal/model"
	"voicecore/internal/store"
)

// runPhased implements the sequential probe/download/GPU-fanout
// pipeline used once a batch exceeds phasedModeThreshold videos:
// probing and downloading up front lets
// the GPU stage run back-to-back on audio that is already on disk,
// instead of a download stall idling an expensive GPU slot.
func (o *Orchestrator) runPhased(ctx context.Context, videos []model.VideoDescriptor) []VideoResult {
	results := make([]VideoResult, len(videos))
	skipped := make([]bool, len(videos))

	o.resumePhase(ctx, videos, results, skipped)
	o.probePhase(ctx, videos, results, skipped)
	artifacts := o.downloadPhase(ctx, videos, results, skipped)
	o.gpuPhase(ctx, videos, artifacts, results, skipped)

	return results
}

// resumePhase applies the re-entry rules before any work is spent:
// videos already done are skipped as successes, videos with the retry
// budget exhausted are skipped as failures, and everything else resumes
// from the top of the pipeline.
func (o *Orchestrator) resumePhase(ctx context.Context, videos []model.VideoDescriptor, results []VideoResult, skipped []bool) {
	for i, video := range videos {
		existing, err := o.deps.Store.GetIngestState(ctx, video.VideoID)
		if err != nil {
			results[i] = o.fail(ctx, video.VideoID, time.Now(), err)
			skipped[i] = true
			continue
		}
		if existing == nil {
			continue
		}
		switch {
		case existing.Status == model.StatusDone:
			results[i] = VideoResult{VideoID: video.VideoID, Success: true, Method: methodSkippedDone}
			skipped[i] = true
		case existing.Status == model.StatusError && existing.RetryCount >= model.MaxRetries:
			results[i] = VideoResult{VideoID: video.VideoID, Method: methodSkippedRetries}
			skipped[i] = true
		}
	}
}

func (o *Orchestrator) probePhase(ctx context.Context, videos []model.VideoDescriptor, results []VideoResult, skipped []bool) {
	if !shouldProbe(len(videos)) {
		return
	}

	var g errgroup.Group
	for i, video := range videos {
		if video.SourceType != model.SourceRemote {
			continue
		}
		i, video := i, video
		g.Go(func() error {
			if err := o.probeSlots.Acquire(ctx, 1); err != nil {
				results[i] = o.cancelled(video.VideoID, time.Now())
				skipped[i] = true
				return nil
			}
			accessible, err := o.deps.Prober.IsAccessible(ctx, video)
			o.probeSlots.Release(1)
			if err != nil {
				results[i] = o.fail(ctx, video.VideoID, time.Now(), err)
				skipped[i] = true
				return nil
			}
			if !accessible {
				_ = o.deps.Store.UpdateIngestStatus(ctx, video.VideoID, model.StatusSkipped, store.StatusFields{})
				results[i] = VideoResult{VideoID: video.VideoID, Method: methodSkippedInaccessible}
				skipped[i] = true
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) downloadPhase(ctx context.Context, videos []model.VideoDescriptor, results []VideoResult, skipped []bool) []*model.AudioArtifact {
	artifacts := make([]*model.AudioArtifact, len(videos))

	var g errgroup.Group
	for i, video := range videos {
		if skipped[i] {
			continue
		}
		i, video := i, video
		g.Go(func() error {
			if err := o.downloadSlots.Acquire(ctx, 1); err != nil {
				results[i] = o.cancelled(video.VideoID, time.Now())
				skipped[i] = true
				return nil
			}
			artifact, err := o.deps.Acquirer.Acquire(ctx, video)
			o.downloadSlots.Release(1)
			if err != nil {
				results[i] = o.fail(ctx, video.VideoID, time.Now(), err)
				skipped[i] = true
				return nil
			}
			artifacts[i] = artifact
			return nil
		})
	}
	_ = g.Wait()
	return artifacts
}

// gpuPhase fans the GPU-bound stage of every remaining video out
// across a bounded worker pool pulling from a shared queue, bounded at
// twice the worker count so the queue never
// holds more decoded audio resident than the workers can consume soon.
func (o *Orchestrator) gpuPhase(ctx context.Context, videos []model.VideoDescriptor, artifacts []*model.AudioArtifact, results []VideoResult, skipped []bool) {
	workers := o.gpuWorkers
	if workers < 1 {
		workers = 1
	}
	queue := make(chan int, workers*2)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				results[i] = o.runGPUStage(ctx, videos[i], artifacts[i])
			}
		}()
	}

	for i := range videos {
		if skipped[i] {
			continue
		}
		queue <- i
	}
	close(queue)
	wg.Wait()
}

// runGPUStage picks up a video that has already been probed and
// downloaded, finishing the remainder of processVideo's pipeline
// (transcription through persistence) under the GPU semaphore.
func (o *Orchestrator) runGPUStage(ctx context.Context, video model.VideoDescriptor, artifact *model.AudioArtifact) VideoResult {
	started := time.Now()
	if artifact == nil {
		return VideoResult{VideoID: video.VideoID, Success: false, Error: "audio acquisition did not complete"}
	}
	return o.finishFromArtifact(ctx, video, artifact, started)
}
