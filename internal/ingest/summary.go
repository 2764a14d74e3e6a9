package ingest

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"
)

// BatchSummary aggregates the per-video results of one Run call.
type BatchSummary struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Results   []VideoResult
}

func summarize(results []VideoResult) *BatchSummary {
	s := &BatchSummary{Total: len(results), Results: results}
	for _, r := range results {
		switch {
		case r.Success:
			s.Succeeded++
		case r.Method == methodSkippedRetries || r.Method == methodSkippedInaccessible:
			s.Skipped++
		default:
			s.Failed++
		}
	}
	return s
}

// Render returns a human-readable batch report: a bordered table when
// stdout is a terminal, a flat line-per-video report otherwise, so
// piping to a log file stays greppable.
func (s *BatchSummary) Render() string {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return s.renderTable()
	}
	return s.renderPlain()
}

func (s *BatchSummary) renderTable() string {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"video_id", "status", "method", "chunks", "duration", "error"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 4, Align: text.AlignRight},
		{Number: 5, Align: text.AlignRight},
	})

	for _, r := range s.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		tw.AppendRow(table.Row{r.VideoID, status, r.Method, r.Chunks, r.ProcessingTime.Round(1e8), r.Error})
	}
	tw.AppendFooter(table.Row{"total", s.Total, fmt.Sprintf("ok=%d", s.Succeeded), fmt.Sprintf("failed=%d", s.Failed), fmt.Sprintf("skipped=%d", s.Skipped), ""})
	return tw.Render()
}

func (s *BatchSummary) renderPlain() string {
	out := fmt.Sprintf("batch: total=%d succeeded=%d failed=%d skipped=%d\n", s.Total, s.Succeeded, s.Failed, s.Skipped)
	for _, r := range s.Results {
		status := "ok"
		if !r.Success {
			status = "failed"
		}
		out += fmt.Sprintf("%s\t%s\t%s\tchunks=%d\t%s\t%s\n", r.VideoID, status, r.Method, r.Chunks, r.ProcessingTime, r.Error)
	}
	return out
}
