package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"voicecore/internal/model"
)

//go:embed schema_postgres.sql
var postgresSchema string

// Postgres is the production Store implementation, storing chunk
// embeddings in a native pgvector column so retrieval can run
// similarity search in the database.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and applies the embedded schema
// (idempotent: CREATE ... IF NOT EXISTS).
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) UpsertSource(ctx context.Context, src Source) (string, error) {
	var existingID string
	err := p.pool.QueryRow(ctx,
		`SELECT id FROM sources WHERE source_type = $1 AND video_id = $2`,
		string(src.SourceType), src.VideoID,
	).Scan(&existingID)

	switch {
	case err == pgx.ErrNoRows:
		id := src.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := p.pool.Exec(ctx,
			`INSERT INTO sources (id, video_id, source_type, title, duration_seconds, published_at, url_or_path)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			id, src.VideoID, string(src.SourceType), src.Title, src.DurationSeconds, src.PublishedAt, src.URLOrPath,
		)
		if err != nil {
			return "", fmt.Errorf("store: failed to insert source: %w", err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("store: failed to query source: %w", err)
	default:
		_, err := p.pool.Exec(ctx,
			`UPDATE sources SET title = $1, duration_seconds = $2, published_at = $3, url_or_path = $4 WHERE id = $5`,
			src.Title, src.DurationSeconds, src.PublishedAt, src.URLOrPath, existingID,
		)
		if err != nil {
			return "", fmt.Errorf("store: failed to update source: %w", err)
		}
		return existingID, nil
	}
}

// UpsertChunks replaces sourceID's entire chunk set in one
// transaction via delete-then-batch-insert, the same idempotence
// strategy as the sqlite implementation.
func (p *Postgres) UpsertChunks(ctx context.Context, sourceID string, chunks []model.Chunk) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("store: failed to clear existing chunks: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range chunks {
		var split []byte
		if len(c.SpeakerSplit) > 0 {
			split, err = json.Marshal(c.SpeakerSplit)
			if err != nil {
				return fmt.Errorf("store: failed to marshal speaker split: %w", err)
			}
		}
		var vec interface{}
		if len(c.Embedding) > 0 {
			vec = pgvector.NewVector(c.Embedding)
		}
		batch.Queue(
			`INSERT INTO chunks (source_id, chunk_index, text, t_start, t_end, word_count, speaker_name, speaker_split, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			sourceID, c.ChunkIndex, c.Text, c.TStart, c.TEnd, c.WordCount, c.SpeakerName, nullableJSON(split), vec,
		)
	}

	br := tx.SendBatch(ctx, batch)
	for range chunks {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("store: failed to insert chunk: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("store: failed to close batch: %w", err)
	}

	return tx.Commit(ctx)
}

func (p *Postgres) GetIngestState(ctx context.Context, videoID string) (*model.IngestState, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT video_id, status, retry_count, last_error, has_yt_transcript, has_whisper,
		        enhanced_asr_used, monologue_fast_path, chunk_count, embedding_count, updated_at
		 FROM ingest_state WHERE video_id = $1`, videoID)

	var st model.IngestState
	var status string
	err := row.Scan(&st.VideoID, &status, &st.RetryCount, &st.LastError, &st.HasYTTranscript, &st.HasWhisper,
		&st.EnhancedASRUsed, &st.MonologueFastPath, &st.ChunkCount, &st.EmbeddingCount, &st.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to query ingest state: %w", err)
	}
	st.Status = model.IngestStatus(status)
	return &st, nil
}

func (p *Postgres) UpsertIngestState(ctx context.Context, state model.IngestState) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO ingest_state (video_id, status, retry_count, last_error, has_yt_transcript, has_whisper,
		                           enhanced_asr_used, monologue_fast_path, chunk_count, embedding_count, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		 ON CONFLICT (video_id) DO UPDATE SET
		   status = excluded.status, retry_count = excluded.retry_count, last_error = excluded.last_error,
		   has_yt_transcript = excluded.has_yt_transcript, has_whisper = excluded.has_whisper,
		   enhanced_asr_used = excluded.enhanced_asr_used, monologue_fast_path = excluded.monologue_fast_path,
		   chunk_count = excluded.chunk_count, embedding_count = excluded.embedding_count, updated_at = excluded.updated_at`,
		state.VideoID, string(state.Status), state.RetryCount, state.LastError,
		state.HasYTTranscript, state.HasWhisper, state.EnhancedASRUsed, state.MonologueFastPath,
		state.ChunkCount, state.EmbeddingCount,
	)
	if err != nil {
		return fmt.Errorf("store: failed to upsert ingest state: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateIngestStatus(ctx context.Context, videoID string, status model.IngestStatus, fields StatusFields) error {
	existing, err := p.GetIngestState(ctx, videoID)
	if err != nil {
		return err
	}
	if existing == nil {
		existing = &model.IngestState{VideoID: videoID, Status: model.StatusPending}
	}

	existing.Status = status
	if fields.IncrementRetry {
		existing.RetryCount++
	}
	if fields.LastError != "" {
		existing.LastError = fields.LastError
	}
	if fields.HasYTTranscript != nil {
		existing.HasYTTranscript = *fields.HasYTTranscript
	}
	if fields.HasWhisper != nil {
		existing.HasWhisper = *fields.HasWhisper
	}
	if fields.EnhancedASRUsed != nil {
		existing.EnhancedASRUsed = *fields.EnhancedASRUsed
	}
	if fields.MonologueFastPath != nil {
		existing.MonologueFastPath = *fields.MonologueFastPath
	}
	if fields.ChunkCount != nil {
		existing.ChunkCount = *fields.ChunkCount
	}
	if fields.EmbeddingCount != nil {
		existing.EmbeddingCount = *fields.EmbeddingCount
	}

	return p.UpsertIngestState(ctx, *existing)
}

func (p *Postgres) CheckVideoExists(ctx context.Context, videoID string) (string, int, bool, error) {
	var sourceID string
	err := p.pool.QueryRow(ctx, `SELECT id FROM sources WHERE video_id = $1`, videoID).Scan(&sourceID)
	if err == pgx.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("store: failed to query source: %w", err)
	}

	var count int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks WHERE source_id = $1`, sourceID).Scan(&count); err != nil {
		return "", 0, false, fmt.Errorf("store: failed to count chunks: %w", err)
	}
	return sourceID, count, true, nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
