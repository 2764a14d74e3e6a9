package store

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"voicecore/internal/model"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// SQLite is the local/dev/test Store implementation: WAL mode,
// busy_timeout, embedded schema, hand-written queries.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a sqlite database at path
// and applies the embedded schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to ":memory:" is its own empty database, so
		// the pool is held to the one connection the schema lands on.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to initialize schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// UpsertSource is keyed by (source_type, video_id): a re-run with the
// same video_id updates the existing row's id-stable record rather
// than inserting a duplicate.
func (s *SQLite) UpsertSource(ctx context.Context, src Source) (string, error) {
	var existingID string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM sources WHERE source_type = ? AND video_id = ?`,
		string(src.SourceType), src.VideoID,
	).Scan(&existingID)

	switch {
	case err == sql.ErrNoRows:
		id := src.ID
		if id == "" {
			id = uuid.New().String()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO sources (id, video_id, source_type, title, duration_seconds, published_at, url_or_path)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, src.VideoID, string(src.SourceType), src.Title, src.DurationSeconds, src.PublishedAt, src.URLOrPath,
		)
		if err != nil {
			return "", fmt.Errorf("store: failed to insert source: %w", err)
		}
		return id, nil
	case err != nil:
		return "", fmt.Errorf("store: failed to query source: %w", err)
	default:
		_, err := s.db.ExecContext(ctx,
			`UPDATE sources SET title = ?, duration_seconds = ?, published_at = ?, url_or_path = ? WHERE id = ?`,
			src.Title, src.DurationSeconds, src.PublishedAt, src.URLOrPath, existingID,
		)
		if err != nil {
			return "", fmt.Errorf("store: failed to update source: %w", err)
		}
		return existingID, nil
	}
}

// UpsertChunks replaces sourceID's entire chunk set inside one
// transaction: delete-then-insert makes re-running after a crash
// produce a bit-identical chunk set rather than an ever-growing one.
func (s *SQLite) UpsertChunks(ctx context.Context, sourceID string, chunks []model.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("store: failed to clear existing chunks: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (source_id, chunk_index, text, t_start, t_end, word_count, speaker_name, speaker_split, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		var split []byte
		if len(c.SpeakerSplit) > 0 {
			split, err = json.Marshal(c.SpeakerSplit)
			if err != nil {
				return fmt.Errorf("store: failed to marshal speaker split: %w", err)
			}
		}
		_, err = stmt.ExecContext(ctx,
			sourceID, c.ChunkIndex, c.Text, c.TStart, c.TEnd, c.WordCount, c.SpeakerName,
			nullableBytes(split), encodeEmbedding(c.Embedding),
		)
		if err != nil {
			return fmt.Errorf("store: failed to insert chunk %d: %w", c.ChunkIndex, err)
		}
	}

	return tx.Commit()
}

func (s *SQLite) GetIngestState(ctx context.Context, videoID string) (*model.IngestState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT video_id, status, retry_count, last_error, has_yt_transcript, has_whisper,
		        enhanced_asr_used, monologue_fast_path, chunk_count, embedding_count, updated_at
		 FROM ingest_state WHERE video_id = ?`, videoID)

	var st model.IngestState
	var status string
	var hasYT, hasWhisper, enhanced, monologue int
	err := row.Scan(&st.VideoID, &status, &st.RetryCount, &st.LastError, &hasYT, &hasWhisper,
		&enhanced, &monologue, &st.ChunkCount, &st.EmbeddingCount, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to query ingest state: %w", err)
	}
	st.Status = model.IngestStatus(status)
	st.HasYTTranscript = hasYT != 0
	st.HasWhisper = hasWhisper != 0
	st.EnhancedASRUsed = enhanced != 0
	st.MonologueFastPath = monologue != 0
	return &st, nil
}

func (s *SQLite) UpsertIngestState(ctx context.Context, state model.IngestState) error {
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingest_state (video_id, status, retry_count, last_error, has_yt_transcript, has_whisper,
		                           enhanced_asr_used, monologue_fast_path, chunk_count, embedding_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (video_id) DO UPDATE SET
		   status = excluded.status, retry_count = excluded.retry_count, last_error = excluded.last_error,
		   has_yt_transcript = excluded.has_yt_transcript, has_whisper = excluded.has_whisper,
		   enhanced_asr_used = excluded.enhanced_asr_used, monologue_fast_path = excluded.monologue_fast_path,
		   chunk_count = excluded.chunk_count, embedding_count = excluded.embedding_count, updated_at = excluded.updated_at`,
		state.VideoID, string(state.Status), state.RetryCount, state.LastError,
		boolToInt(state.HasYTTranscript), boolToInt(state.HasWhisper),
		boolToInt(state.EnhancedASRUsed), boolToInt(state.MonologueFastPath),
		state.ChunkCount, state.EmbeddingCount, state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("store: failed to upsert ingest state: %w", err)
	}
	return nil
}

// UpdateIngestStatus applies a partial update to an existing row,
// creating one in StatusPending first if videoID has never been seen.
func (s *SQLite) UpdateIngestStatus(ctx context.Context, videoID string, status model.IngestStatus, fields StatusFields) error {
	existing, err := s.GetIngestState(ctx, videoID)
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
	existing.UpdatedAt = time.Now()

	return s.UpsertIngestState(ctx, *existing)
}

func (s *SQLite) CheckVideoExists(ctx context.Context, videoID string) (string, int, bool, error) {
	var sourceID string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM sources WHERE video_id = ?`, videoID).Scan(&sourceID)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("store: failed to query source: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE source_id = ?`, sourceID).Scan(&count); err != nil {
		return "", 0, false, fmt.Errorf("store: failed to count chunks: %w", err)
	}
	return sourceID, count, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}

// encodeEmbedding serializes a chunk embedding as little-endian
// float32s, the same bit layout the Postgres implementation round
// trips through pgvector; sqlite has no native vector column so this
// repo stores the raw bytes and leaves similarity search to the
// Postgres+pgvector deployment.
func encodeEmbedding(v []float32) interface{} {
	if len(v) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	for _, f := range v {
		binary.Write(buf, binary.LittleEndian, f)
	}
	return buf.Bytes()
}

// decodeEmbedding is the inverse of encodeEmbedding. No code in the
// repository calls it.
func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 {
		return nil
	}
	out := make([]float32, len(b)/4)
	r := bytes.NewReader(b)
	for i := range out {
		binary.Read(r, binary.LittleEndian, &out[i])
	}
	return out
}
