// Package store is the persistence adapter: a narrow interface over
// sources, chunks, and per-video ingest state, backed by either a
// local sqlite database (dev/test) or Postgres+pgvector (production).
package store

import (
	"context"
	"time"

	"voicecore/internal/model"
)

// Source is the persisted row for one ingested video.
type Source struct {
	ID              string
	VideoID         string
	SourceType      model.SourceType
	Title           string
	DurationSeconds float64
	PublishedAt     time.Time
	URLOrPath       string
}

// StatusFields carries the optional fields UpdateIngestStatus may set
// alongside a status transition. Zero-value fields are left untouched
// except where a bool is explicitly meaningful (callers pass only the
// fields relevant to the transition at hand).
type StatusFields struct {
	LastError         string
	IncrementRetry    bool
	HasYTTranscript   *bool
	HasWhisper        *bool
	EnhancedASRUsed   *bool
	MonologueFastPath *bool
	ChunkCount        *int
	EmbeddingCount    *int
}

// Store is the persistence adapter every orchestrator task depends on.
// Implementations must make UpsertSource and UpsertChunks idempotent
// under retry: re-running a video's commit must never duplicate rows
// or embeddings.
type Store interface {
	// UpsertSource creates or updates the source row keyed by
	// (source_type, video_id) and returns its persisted id.
	UpsertSource(ctx context.Context, src Source) (sourceID string, err error)

	// UpsertChunks replaces sourceID's chunk set transactionally,
	// all-or-none: re-running with the same chunk list is a no-op
	// observable from outside the transaction.
	UpsertChunks(ctx context.Context, sourceID string, chunks []model.Chunk) error

	// GetIngestState returns the persisted row for videoID, or nil if
	// none exists yet (first sighting).
	GetIngestState(ctx context.Context, videoID string) (*model.IngestState, error)

	// UpsertIngestState creates or replaces videoID's entire row.
	UpsertIngestState(ctx context.Context, state model.IngestState) error

	// UpdateIngestStatus advances videoID to status, applying fields.
	UpdateIngestStatus(ctx context.Context, videoID string, status model.IngestStatus, fields StatusFields) error

	// CheckVideoExists reports whether videoID already has a source
	// row and, if so, its id and persisted segment (chunk) count.
	CheckVideoExists(ctx context.Context, videoID string) (sourceID string, chunkCount int, exists bool, err error)

	Close() error
}
