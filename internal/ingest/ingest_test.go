package ingest

import (
	"context"
	"testing"
	"time"

	"voicecore/internal/config"
	"voicecore/internal/model"
	"voicecore/internal/store"
)

func TestComputeGPUWorkers(t *testing.T) {
	cases := []struct {
		name        string
		vramGB      float64
		cpuCores    int
		perWorkerGB float64
		hardCap     int
		want        int
	}{
		{"vram bound", 10, 64, 2.5, 4, 3},    // floor(10*0.85/2.5) = 3
		{"cpu bound", 100, 2, 2.5, 8, 2},     // floor(100*.85/2.5)=34, capped by cpu=2
		{"hard cap bound", 100, 64, 2.5, 4, 4},
		{"never below one", 0.1, 1, 2.5, 4, 1},
		{"defaults applied", 10, 64, 0, 0, 3},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ComputeGPUWorkers(c.vramGB, c.cpuCores, c.perWorkerGB, c.hardCap)
			if got != c.want {
				t.Fatalf("ComputeGPUWorkers(%v,%v,%v,%v) = %d, want %d", c.vramGB, c.cpuCores, c.perWorkerGB, c.hardCap, got, c.want)
			}
		})
	}
}

func TestShouldProbe(t *testing.T) {
	if shouldProbe(15) {
		t.Fatal("batch of 15 should not trigger probing")
	}
	if !shouldProbe(16) {
		t.Fatal("batch of 16 should trigger probing")
	}
}

// fakeAcquirer, fakePrimary, fakeEmbedder back a minimal end-to-end
// run of the orchestrator without any real media or model dependency.
type fakeAcquirer struct{}

func (fakeAcquirer) Acquire(ctx context.Context, video model.VideoDescriptor) (*model.AudioArtifact, error) {
	return &model.AudioArtifact{Path: "/tmp/does-not-matter.wav", SampleRate: 16000, DurationSeconds: 12}, nil
}

type fakePrimary struct{}

func (fakePrimary) TranscribePrimary(audioPath string) (string, []model.AsrSegment, error) {
	return "hello world", []model.AsrSegment{
		{Start: 0, End: 5, Text: "Hello world."},
	}, nil
}

func fakeEmbedder(ctx context.Context, text string) ([]float32, error) {
	return []float32{0.1, 0.2, 0.3}, nil
}

func newTestOrchestrator(t *testing.T, st store.Store) *Orchestrator {
	t.Helper()
	cfg := config.Default()
	cfg.AssumeMonologue = false
	cfg.EnableDiarization = false
	cfg.EnableRefinement = false
	cfg.AlignWords = false

	deps := Deps{
		Acquirer: fakeAcquirer{},
		Primary:  fakePrimary{},
		Embedder: fakeEmbedder,
		Store:    st,
	}
	return New(cfg, deps, 8, 4, 2.5)
}

func TestRunConcurrentPersistsEachVideo(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	o := newTestOrchestrator(t, st)
	videos := []model.VideoDescriptor{
		{VideoID: "v1", SourceType: model.SourceLocal},
		{VideoID: "v2", SourceType: model.SourceLocal},
	}

	summary := o.Run(ctx, videos)
	if summary.Total != 2 || summary.Succeeded != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v, want 2 succeeded", summary)
	}

	for _, v := range videos {
		state, err := st.GetIngestState(ctx, v.VideoID)
		if err != nil {
			t.Fatalf("GetIngestState(%s): %v", v.VideoID, err)
		}
		if state == nil || state.Status != model.StatusDone {
			t.Fatalf("video %s: status = %+v, want done", v.VideoID, state)
		}
	}
}

func TestProcessVideoSkipsAlreadyDone(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	if err := st.UpsertIngestState(ctx, model.IngestState{VideoID: "v1", Status: model.StatusDone, UpdatedAt: time.Now()}); err != nil {
		t.Fatalf("UpsertIngestState: %v", err)
	}

	o := newTestOrchestrator(t, st)
	res := o.processVideo(ctx, model.VideoDescriptor{VideoID: "v1", SourceType: model.SourceLocal}, false)
	if !res.Success || res.Method != methodSkippedDone {
		t.Fatalf("processVideo on done video = %+v, want skipped-done success", res)
	}
}

func TestProcessVideoSkipsAfterRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	st, err := store.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	if err := st.UpsertIngestState(ctx, model.IngestState{
		VideoID: "v1", Status: model.StatusError, RetryCount: model.MaxRetries, UpdatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("UpsertIngestState: %v", err)
	}

	o := newTestOrchestrator(t, st)
	res := o.processVideo(ctx, model.VideoDescriptor{VideoID: "v1", SourceType: model.SourceLocal}, false)
	if res.Success || res.Method != methodSkippedRetries {
		t.Fatalf("processVideo after retries exhausted = %+v, want skipped-retries failure", res)
	}
}
