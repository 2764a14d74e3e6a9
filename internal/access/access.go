// Package access implements the accessibility probe: a cheap,
// simulate-only check that a remote video is fetchable before a task
// commits download and GPU time to it.
package access

import (
	"context"
	"errors"
	"strings"
	"time"

	ytdl "github.com/kkdai/youtube/v2"
	"golang.org/x/sync/semaphore"

	"voicecore/internal/ingesterr"
	"voicecore/internal/model"
)

// probeTimeout bounds a single metadata resolution.
const probeTimeout = 60 * time.Second

// Prober checks video reachability without downloading any media,
// the same path the acquirer uses to resolve formats.
type Prober struct {
	yt  ytdl.Client
	sem *semaphore.Weighted
}

// New returns a Prober bounded by maxConcurrent simultaneous probes
// (the probe_slots semaphore, default 16).
func New(maxConcurrent int64) *Prober {
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	return &Prober{yt: ytdl.Client{}, sem: semaphore.NewWeighted(maxConcurrent)}
}

// IsAccessible resolves the video's metadata and formats without
// downloading any stream. A resolution failure other than cancellation
// is reported as inaccessible (false, nil); the error itself is not
// classified.
func (p *Prober) IsAccessible(ctx context.Context, video model.VideoDescriptor) (bool, error) {
	if video.SourceType != model.SourceRemote {
		return true, nil
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return false, ingesterr.ErrCancelled
	}
	defer p.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	ytVideo, err := p.yt.GetVideoContext(ctx, video.URLOrPath)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false, ingesterr.ErrCancelled
		}
		return false, nil
	}

	for _, f := range ytVideo.Formats {
		if strings.HasPrefix(f.MimeType, "audio/") {
			return true, nil
		}
	}
	return false, nil
}
