package ingest

import (
	"context"
	"sync"

	"voicecore/internal/model"
)

// runConcurrent launches one task per video (batch size ≤25). Each
// task proceeds through the full pipeline
// independently; completion order across videos is never assumed.
func (o *Orchestrator) runConcurrent(ctx context.Context, videos []model.VideoDescriptor) []VideoResult {
	probe := shouldProbe(len(videos))

	results := make([]VideoResult, len(videos))
	var wg sync.WaitGroup
	for i, video := range videos {
		wg.Add(1)
		go func(i int, video model.VideoDescriptor) {
			defer wg.Done()
			results[i] = o.processVideo(ctx, video, probe)
		}(i, video)
	}
	wg.Wait()
	return results
}
