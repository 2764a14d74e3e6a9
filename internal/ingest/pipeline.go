package ingest

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"voicecore/internal/align"
	"voicecore/internal/chunk"
	"voicecore/internal/ingesterr"
	"voicecore/internal/model"
	"voicecore/internal/monologue"
	"voicecore/internal/store"
)

// VideoResult is the structured per-video record the orchestrator
// emits for the batch report.
type VideoResult struct {
	VideoID        string
	Success        bool
	Method         string
	Chunks         int
	ProcessingTime time.Duration
	Error          string
}

const (
	methodMonologueFastPath = "monologue_fast_path"
	methodFullPipeline      = "full_pipeline"
	methodCaptionTranscript = "caption_transcript"
	methodSkippedDone       = "already_done"
	methodSkippedRetries    = "skipped_retries_exhausted"
	methodSkippedInaccessible = "skipped_inaccessible"
)

// processVideo resumes or runs one video_id through the whole
// pipeline, acquiring the orchestrator's bounded semaphores at each
// suspension point and recording every transition via the persistence
// adapter.
func (o *Orchestrator) processVideo(ctx context.Context, video model.VideoDescriptor, probe bool) VideoResult {
	started := time.Now()
	res := VideoResult{VideoID: video.VideoID}

	existing, err := o.deps.Store.GetIngestState(ctx, video.VideoID)
	if err != nil {
		return o.fail(ctx, video.VideoID, started, err)
	}
	if existing != nil {
		if existing.Status == model.StatusDone {
			res.Success = true
			res.Method = methodSkippedDone
			res.ProcessingTime = time.Since(started)
			return res
		}
		if existing.Status == model.StatusError && existing.RetryCount >= model.MaxRetries {
			res.Success = false
			res.Method = methodSkippedRetries
			res.ProcessingTime = time.Since(started)
			return res
		}
		// Any other non-terminal state resumes from the beginning; every
		// stage below is idempotent at the persistence layer.
	}

	if probe && video.SourceType == model.SourceRemote {
		if err := o.probeSlots.Acquire(ctx, 1); err != nil {
			return o.cancelled(video.VideoID, started)
		}
		accessible, err := o.deps.Prober.IsAccessible(ctx, video)
		o.probeSlots.Release(1)
		if err != nil {
			return o.fail(ctx, video.VideoID, started, err)
		}
		if !accessible {
			_ = o.deps.Store.UpdateIngestStatus(ctx, video.VideoID, model.StatusSkipped, store.StatusFields{})
			res.Method = methodSkippedInaccessible
			res.ProcessingTime = time.Since(started)
			return res
		}
	}

	if err := o.downloadSlots.Acquire(ctx, 1); err != nil {
		return o.cancelled(video.VideoID, started)
	}
	artifact, err := o.deps.Acquirer.Acquire(ctx, video)
	o.downloadSlots.Release(1)
	if err != nil {
		if errors.Is(err, ingesterr.ErrCancelled) {
			return o.cancelled(video.VideoID, started)
		}
		return o.fail(ctx, video.VideoID, started, err)
	}
	return o.finishFromArtifact(ctx, video, artifact, started)
}

// finishFromArtifact runs transcription through persistence for a
// video whose audio is already on disk. It is shared by the
// concurrent-mode path (processVideo, immediately after acquisition)
// and the phased-mode GPU fan-out stage, which acquires audio in its
// own earlier phase.
func (o *Orchestrator) finishFromArtifact(ctx context.Context, video model.VideoDescriptor, artifact *model.AudioArtifact, started time.Time) VideoResult {
	res := VideoResult{VideoID: video.VideoID}

	if !o.cfg.ProductionMode {
		defer os.Remove(artifact.Path)
	}

	segments, method, monologueHit, hasYTTranscript, err := o.transcribeAndAttribute(ctx, video, artifact)
	if err != nil {
		if errors.Is(err, ingesterr.ErrCancelled) {
			return o.cancelled(video.VideoID, started)
		}
		return o.fail(ctx, video.VideoID, started, err)
	}

	enhanced := o.deps.Refinement != nil && o.cfg.EnableRefinement && !hasYTTranscript
	monoFlag := monologueHit
	hasWhisper := !hasYTTranscript
	if err := o.deps.Store.UpdateIngestStatus(ctx, video.VideoID, model.StatusTranscribed, store.StatusFields{
		EnhancedASRUsed:   &enhanced,
		MonologueFastPath: &monoFlag,
		HasYTTranscript:   &hasYTTranscript,
		HasWhisper:        &hasWhisper,
	}); err != nil {
		return o.fail(ctx, video.VideoID, started, err)
	}

	chunks := chunk.Chunk(segments, video.VideoID, o.cfg.ChunkTargetSeconds)
	chunkCount := len(chunks)
	if err := o.deps.Store.UpdateIngestStatus(ctx, video.VideoID, model.StatusChunked, store.StatusFields{
		ChunkCount: &chunkCount,
	}); err != nil {
		return o.fail(ctx, video.VideoID, started, err)
	}

	embedded := 0
	for i := range chunks {
		vec, err := o.deps.Embedder(ctx, chunks[i].Text)
		if err != nil {
			return o.fail(ctx, video.VideoID, started, ingesterr.Embedding(err))
		}
		chunks[i].Embedding = vec
		embedded++
	}
	if err := o.deps.Store.UpdateIngestStatus(ctx, video.VideoID, model.StatusEmbedded, store.StatusFields{
		EmbeddingCount: &embedded,
	}); err != nil {
		return o.fail(ctx, video.VideoID, started, err)
	}

	sourceID, err := o.deps.Store.UpsertSource(ctx, store.Source{
		VideoID:         video.VideoID,
		SourceType:      video.SourceType,
		Title:           video.Title,
		DurationSeconds: video.DurationSeconds,
		PublishedAt:     video.PublishedAt,
		URLOrPath:       video.URLOrPath,
	})
	if err != nil {
		return o.fail(ctx, video.VideoID, started, ingesterr.Persistence(err))
	}
	for i := range chunks {
		chunks[i].SourceID = sourceID
	}
	if err := o.deps.Store.UpsertChunks(ctx, sourceID, chunks); err != nil {
		return o.fail(ctx, video.VideoID, started, ingesterr.Persistence(err))
	}
	if err := o.deps.Store.UpdateIngestStatus(ctx, video.VideoID, model.StatusUpserted, store.StatusFields{}); err != nil {
		return o.fail(ctx, video.VideoID, started, err)
	}
	if err := o.deps.Store.UpdateIngestStatus(ctx, video.VideoID, model.StatusDone, store.StatusFields{}); err != nil {
		return o.fail(ctx, video.VideoID, started, err)
	}

	res.Success = true
	res.Method = method
	res.Chunks = chunkCount
	res.ProcessingTime = time.Since(started)
	return res
}

// transcribeAndAttribute runs the GPU-bound stage under gpuSlots: the
// caption-transcript check, the monologue fast-path check, and either
// of those shortcuts or the full
// transcribe→refine→diarize→identify→align chain.
func (o *Orchestrator) transcribeAndAttribute(ctx context.Context, video model.VideoDescriptor, artifact *model.AudioArtifact) (segments []model.AsrSegment, method string, monologueHit bool, hasYTTranscript bool, err error) {
	if err := o.gpuSlots.Acquire(ctx, 1); err != nil {
		return nil, "", false, false, ingesterr.ErrCancelled
	}
	defer o.gpuSlots.Release(1)

	var captionSegments []model.AsrSegment
	if video.SourceType == model.SourceRemote && o.deps.Caption != nil {
		found, err := o.fetchCaptionTranscript(ctx, video, &captionSegments)
		if err != nil {
			log.Printf("ingest: video %s: caption fetch failed, falling back to ASR: %v", video.VideoID, err)
		} else if found {
			segs, method, mono, yt, err := o.attributeSegments(video, artifact, captionSegments, methodCaptionTranscript, true)
			if err != nil {
				return nil, "", false, false, err
			}
			return segs, method, mono, yt, nil
		}
	}

	if o.cfg.AssumeMonologue && o.deps.Monologue != nil {
		primary := o.deps.Profiles[o.cfg.PrimarySpeakerName]
		if primary != nil {
			if hit, meanSim := o.deps.Monologue.Check(artifact.Path, primary); hit {
				_, segs, err := o.deps.Primary.TranscribePrimary(artifact.Path)
				if err != nil {
					return nil, "", false, false, ingesterr.Transcription(err)
				}
				if o.deps.Refinement != nil && o.cfg.EnableRefinement {
					if err := o.deps.Refinement.Refine(artifact.Path, segs); err != nil {
						return nil, "", false, false, ingesterr.Transcription(err)
					}
				}
				monologue.Apply(segs, o.cfg.PrimarySpeakerName, meanSim)
				return segs, methodMonologueFastPath, true, false, nil
			}
		}
	}

	_, segs, err := o.deps.Primary.TranscribePrimary(artifact.Path)
	if err != nil {
		return nil, "", false, false, ingesterr.Transcription(err)
	}
	if o.deps.Refinement != nil && o.cfg.EnableRefinement {
		if err := o.deps.Refinement.Refine(artifact.Path, segs); err != nil {
			return nil, "", false, false, ingesterr.Transcription(err)
		}
	}

	return o.attributeSegments(video, artifact, segs, methodFullPipeline, false)
}

// fetchCaptionTranscript tries the caption-transcript step and
// stores its result in out so the caller can keep a single error path.
func (o *Orchestrator) fetchCaptionTranscript(ctx context.Context, video model.VideoDescriptor, out *[]model.AsrSegment) (bool, error) {
	segments, found, err := o.deps.Caption.FetchTranscript(ctx, video)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	*out = segments
	return true, nil
}

// attributeSegments runs diarization, identification, and alignment
// over a segment set already produced by either the caption fetch or
// the ASR passes.
func (o *Orchestrator) attributeSegments(video model.VideoDescriptor, artifact *model.AudioArtifact, segments []model.AsrSegment, method string, hasYTTranscript bool) ([]model.AsrSegment, string, bool, bool, error) {
	var speakerSegments []model.SpeakerSegment
	if o.cfg.EnableDiarization && o.deps.Diarizer != nil {
		turns, err := o.deps.Diarizer.Diarize(artifact.Path)
		if err != nil {
			// Diarization failure degrades gracefully: every segment
			// proceeds as Unknown rather than failing the video.
			log.Printf("ingest: video %s: diarization failed, proceeding as unknown: %v", video.VideoID, err)
			turns = nil
		} else if len(turns) > 0 && o.deps.Identifier != nil {
			speakerSegments, err = o.deps.Identifier.Identify(artifact.Path, turns)
			if err != nil {
				return nil, "", false, false, ingesterr.Identification(err)
			}
		}
	}

	if o.cfg.AlignWords {
		align.Align(segments, speakerSegments, align.Config{
			OverlapBonus:       o.cfg.OverlapBonus,
			UnknownLabel:       o.cfg.UnknownLabel,
			PrimarySpeakerName: o.cfg.PrimarySpeakerName,
			PrimaryMinSim:      o.cfg.PrimaryMinSim,
			GuestMinSim:        o.cfg.GuestMinSim,
		})
	}

	return segments, method, false, hasYTTranscript, nil
}

// fail records a video-level error and bumps retry_count: every error
// but Cancelled is caught at the task boundary and the worker
// continues with the next video.
func (o *Orchestrator) fail(ctx context.Context, videoID string, started time.Time, err error) VideoResult {
	log.Printf("ingest: video %s failed: %v", videoID, err)
	if updateErr := o.deps.Store.UpdateIngestStatus(ctx, videoID, model.StatusError, store.StatusFields{
		IncrementRetry: true,
		LastError:      err.Error(),
	}); updateErr != nil {
		log.Printf("ingest: video %s: failed to record error state: %v", videoID, updateErr)
	}
	return VideoResult{VideoID: videoID, Success: false, Error: err.Error(), ProcessingTime: time.Since(started)}
}

// cancelled unwinds without mutating ingest state beyond what scoped
// resources already cleaned up.
func (o *Orchestrator) cancelled(videoID string, started time.Time) VideoResult {
	return VideoResult{VideoID: videoID, Success: false, Error: "cancelled", ProcessingTime: time.Since(started)}
}
