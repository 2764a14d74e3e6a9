package ingest

import (
	"strings"
	"testing"
	"time"
)

func TestSummarizeCounts(t *testing.T) {
	results := []VideoResult{
		{VideoID: "a", Success: true, Method: methodMonologueFastPath, Chunks: 40},
		{VideoID: "b", Success: true, Method: methodFullPipeline, Chunks: 12},
		{VideoID: "c", Success: false, Method: methodSkippedRetries},
		{VideoID: "d", Success: false, Method: methodSkippedInaccessible},
		{VideoID: "e", Success: false, Error: "download failed"},
	}

	s := summarize(results)
	if s.Total != 5 {
		t.Errorf("total: got %d", s.Total)
	}
	if s.Succeeded != 2 {
		t.Errorf("succeeded: got %d", s.Succeeded)
	}
	if s.Skipped != 2 {
		t.Errorf("skipped: got %d", s.Skipped)
	}
	if s.Failed != 1 {
		t.Errorf("failed: got %d", s.Failed)
	}
}

func TestRenderPlainIsGreppable(t *testing.T) {
	s := summarize([]VideoResult{
		{VideoID: "vid1", Success: true, Method: methodFullPipeline, Chunks: 7, ProcessingTime: 3 * time.Second},
		{VideoID: "vid2", Success: false, Error: "network"},
	})

	out := s.renderPlain()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus one line per video, got %d lines:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "batch: total=2 succeeded=1 failed=1 skipped=0") {
		t.Errorf("header wrong: %q", lines[0])
	}
	if !strings.Contains(lines[1], "vid1") || !strings.Contains(lines[1], "chunks=7") {
		t.Errorf("per-video line missing fields: %q", lines[1])
	}
	if !strings.Contains(lines[2], "failed") || !strings.Contains(lines[2], "network") {
		t.Errorf("failure line missing error: %q", lines[2])
	}
}
