package pipeline

import (
	"sync"
	"time"

	"session-processor/pkg/capture"
	"session-processor/pkg/models"
)

type SessionState string

const (
	StateCreated      SessionState = "created"
	StateRecording    SessionState = "recording"
	StateRecorded     SessionState = "recorded"
	StateUploading    SessionState = "uploading"
	StateTranscribing SessionState = "transcribing"
	StateAnalyzing    SessionState = "analyzing"
	StateReady        SessionState = "ready"
	StateSaved        SessionState = "saved"
	StateDiscarded    SessionState = "discarded"
	StateFailed       SessionState = "failed"
)

// SessionView is a point-in-time copy of a session for callers.
type SessionView struct {
	ID         string                    `json:"id"`
	State      SessionState              `json:"state"`
	CreatedAt  time.Time                 `json:"created_at"`
	Chunks     []ChunkView               `json:"chunks"`
	Transcript *models.SessionTranscript `json:"transcript,omitempty"`
	Report     *models.SessionReport     `json:"report,omitempty"`
	Uploaded   bool                      `json:"uploaded"`
	Error      string                    `json:"error,omitempty"`
}

type ChunkView struct {
	ID            string `json:"id"`
	SequenceIndex int    `json:"sequence_index"`
	StartOffsetMs int64  `json:"start_offset_ms"`
	EndOffsetMs   int64  `json:"end_offset_ms"`
	ByteSize      int    `json:"byte_size"`
}

// session is guarded by Manager.mu.
type session struct {
	id        string
	state     SessionState
	createdAt time.Time
	discarded bool
	err       string

	chunks     []*models.AudioChunk
	transcript *models.SessionTranscript
	report     *models.SessionReport

	recorder   *capture.Recorder
	recordDone chan struct{}
	recordErr  error
	ingest     sync.WaitGroup

	uploaded   bool
	processing bool
	confirming bool
}

func (s *session) view() SessionView {
	v := SessionView{
		ID:         s.id,
		State:      s.state,
		CreatedAt:  s.createdAt,
		Chunks:     make([]ChunkView, 0, len(s.chunks)),
		Transcript: s.transcript,
		Report:     s.report,
		Uploaded:   s.uploaded,
		Error:      s.err,
	}
	for _, c := range s.chunks {
		v.Chunks = append(v.Chunks, chunkView(c))
	}
	return v
}

func chunkView(c *models.AudioChunk) ChunkView {
	return ChunkView{
		ID:            c.ID,
		SequenceIndex: c.SequenceIndex,
		StartOffsetMs: c.StartOffsetMs,
		EndOffsetMs:   c.EndOffsetMs,
		ByteSize:      c.ByteSize,
	}
}

func (s *session) chunkIDs() []string {
	ids := make([]string, len(s.chunks))
	for i, c := range s.chunks {
		ids[i] = c.ID
	}
	return ids
}
