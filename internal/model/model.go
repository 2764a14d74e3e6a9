// Package model holds the data types shared across the ingestion core:
// the per-video descriptor handed in by the lister, the artifacts each
// pipeline stage produces, and the persisted ingest-state row that
// makes the pipeline resumable.
package model

import "time"

// SourceType distinguishes a remote (YouTube) video from a local file.
type SourceType string

const (
	SourceRemote SourceType = "remote"
	SourceLocal  SourceType = "local"
)

// VideoDescriptor identifies one input video. It is immutable once
// created by the listing collaborator (out of scope for this core).
type VideoDescriptor struct {
	VideoID         string
	Title           string
	DurationSeconds float64
	PublishedAt     time.Time
	SourceType      SourceType
	URLOrPath       string
}

// AudioArtifact is the normalized PCM file produced by the audio
// acquirer. It is owned exclusively by the task processing its video
// and is removed on task completion unless production_mode disables
// cleanup.
type AudioArtifact struct {
	Path            string
	SampleRate      int
	Channels        int
	DurationSeconds float64
}

// VoiceProfile is a persisted, shared-read-only enrolled speaker.
type VoiceProfile struct {
	Name                 string      `json:"name"`
	Centroid             []float64   `json:"centroid"`
	Embeddings           [][]float64 `json:"embeddings"`
	RecommendedThreshold float64     `json:"recommended_threshold"`
	CreatedAt            time.Time   `json:"created_at"`
	AudioSources         []string    `json:"audio_sources"`
	Metadata             Metadata    `json:"metadata"`
}

// Metadata is the required-field bag that rides along with a profile.
type Metadata struct {
	NumEmbeddings        int     `json:"num_embeddings"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	EmbeddingDim         int     `json:"embedding_dim"`
	Model                string  `json:"model"`
}

// DiarTurn is one diarizer-assigned time span.
type DiarTurn struct {
	Start     float64
	End       float64
	ClusterID int
}

// UnknownSpeaker is the reserved sentinel used when no enrolled
// profile passes the threshold/margin gate.
const UnknownSpeaker = "Unknown"

// SpeakerSegment attributes one diarizer turn to a speaker.
type SpeakerSegment struct {
	Start       float64
	End         float64
	SpeakerName string
	Confidence  float64
	Margin      float64
	ClusterID   int
	IsOverlap   bool
}

// WordToken is one ASR word with timing, confidence, and (after
// alignment) speaker attribution.
type WordToken struct {
	Text              string
	Start             float64
	End               float64
	ASRConfidence     float64
	SpeakerName       string
	SpeakerConfidence float64
	SpeakerMargin     float64
	IsOverlap         bool
}

// AsrSegment is a sentence-level transcription unit.
type AsrSegment struct {
	Start             float64
	End               float64
	Text              string
	Words             []WordToken
	AvgLogprob        float64
	CompressionRatio  float64
	NoSpeechProb      float64
	NeedsRefinement   bool
	WasRefined        bool
	SpeakerName       string
	SpeakerConfidence float64
}

// Chunk is a retrieval-sized text window with timing and speaker
// provenance, ready for embedding and upsert.
type Chunk struct {
	ChunkIndex     int
	SourceID       string
	Text           string
	TStart         float64
	TEnd           float64
	WordCount      int
	Embedding      []float32
	SpeakerName    string
	SpeakerSplit   map[string]float64 // set only when the chunk mixes speakers
}

// IngestStatus is the closed set of per-video pipeline states.
type IngestStatus string

const (
	StatusPending      IngestStatus = "pending"
	StatusTranscribed  IngestStatus = "transcribed"
	StatusChunked      IngestStatus = "chunked"
	StatusEmbedded     IngestStatus = "embedded"
	StatusUpserted     IngestStatus = "upserted"
	StatusDone         IngestStatus = "done"
	StatusError        IngestStatus = "error"
	StatusNeedsWhisper IngestStatus = "needs_whisper"
	StatusSkipped      IngestStatus = "skipped"
)

// IngestState is the per-video_id persisted resumability row.
type IngestState struct {
	VideoID           string
	Status            IngestStatus
	RetryCount        int
	LastError         string
	HasYTTranscript   bool
	HasWhisper        bool
	EnhancedASRUsed   bool
	MonologueFastPath bool
	ChunkCount        int
	EmbeddingCount    int
	UpdatedAt         time.Time
}

// MaxRetries is the retry budget before a video is marked done-as-skipped.
const MaxRetries = 3
