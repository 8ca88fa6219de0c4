package models

import (
	"time"

	"github.com/google/uuid"
)

// AudioChunk is a bounded, immutable slice of one continuous recording.
// Offsets are milliseconds relative to the start of the recording session.
type AudioChunk struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	SequenceIndex int       `json:"sequence_index"`
	StartOffsetMs int64     `json:"start_offset_ms"`
	EndOffsetMs   int64     `json:"end_offset_ms"`
	ByteSize      int       `json:"byte_size"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}

func NewAudioChunk(sessionID string, index int, startMs, endMs int64, payload []byte) *AudioChunk {
	return &AudioChunk{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		SequenceIndex: index,
		StartOffsetMs: startMs,
		EndOffsetMs:   endMs,
		ByteSize:      len(payload),
		Payload:       payload,
		CreatedAt:     time.Now(),
	}
}

// DurationMs is the span of audio the chunk covers.
func (c *AudioChunk) DurationMs() int64 {
	return c.EndOffsetMs - c.StartOffsetMs
}

type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
)

// UploadRecord tracks the upload of one chunk. It is keyed by ChunkID and
// survives process restarts so interrupted uploads can be resumed.
type UploadRecord struct {
	ChunkID       string       `json:"chunk_id"`
	SessionID     string       `json:"session_id"`
	SequenceIndex int          `json:"sequence_index"`
	Status        UploadStatus `json:"status"`
	Attempts      int          `json:"attempts"`
	LastAttemptAt time.Time    `json:"last_attempt_at"`
	LastError     string       `json:"last_error,omitempty"`
	Receipt       *Receipt     `json:"receipt,omitempty"`
}

// Receipt holds the identifiers an upload backend assigned to a chunk.
type Receipt struct {
	ChunkID  string `json:"chunk_id"`
	Location string `json:"location"`
	ETag     string `json:"etag,omitempty"`
	Size     int64  `json:"size"`
}

// ChunkMetadata travels with a chunk payload to the upload backend.
type ChunkMetadata struct {
	ChunkID       string `json:"chunk_id"`
	SessionID     string `json:"session_id"`
	SequenceIndex int    `json:"index"`
	StartOffsetMs int64  `json:"start_time"`
	EndOffsetMs   int64  `json:"end_time"`
	ContentType   string `json:"content_type"`
}
