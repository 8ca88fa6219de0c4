// Package capture turns a stream of raw audio buffers into bounded chunks.
package capture

import (
	"fmt"
	"time"

	"session-processor/pkg/models"
)

// Buffer is one "data available" event from a capture device.
type Buffer struct {
	Data []byte
	At   time.Time
}

type Limits struct {
	MaxChunkDuration  time.Duration
	MaxChunkSizeBytes int
}

// Segmenter accumulates buffers and cuts a chunk whenever the current chunk
// has spanned MaxChunkDuration or the next buffer would push it past
// MaxChunkSizeBytes. It is not safe for concurrent use.
type Segmenter struct {
	sessionID string
	limits    Limits
	origin    time.Time

	startMs int64
	buffers [][]byte
	size    int
	next    int
	stopped bool
}

// NewSegmenter starts a segmenter whose offsets are measured from origin.
func NewSegmenter(sessionID string, origin time.Time, limits Limits) *Segmenter {
	return &Segmenter{
		sessionID: sessionID,
		limits:    limits,
		origin:    origin,
	}
}

// Push adds a buffer and returns any chunks finalized as a result, in
// sequence order.
func (s *Segmenter) Push(b Buffer) ([]*models.AudioChunk, error) {
	if s.stopped {
		return nil, fmt.Errorf("segmenter for session %s already stopped", s.sessionID)
	}
	if len(b.Data) == 0 {
		return nil, nil
	}
	if len(b.Data) > s.limits.MaxChunkSizeBytes {
		return nil, fmt.Errorf("%w: %d > %d bytes", models.ErrBufferTooLarge, len(b.Data), s.limits.MaxChunkSizeBytes)
	}

	var out []*models.AudioChunk
	at := s.offsetMs(b.At)

	if len(s.buffers) > 0 && s.size+len(b.Data) > s.limits.MaxChunkSizeBytes {
		out = append(out, s.cut(at))
	}

	s.buffers = append(s.buffers, b.Data)
	s.size += len(b.Data)

	if at-s.startMs >= s.limits.MaxChunkDuration.Milliseconds() {
		out = append(out, s.cut(at))
	}
	return out, nil
}

// Stop finalizes whatever is buffered into one last chunk, however short.
// It returns nil when nothing is buffered.
func (s *Segmenter) Stop(at time.Time) *models.AudioChunk {
	if s.stopped {
		return nil
	}
	s.stopped = true
	if len(s.buffers) == 0 {
		return nil
	}
	return s.cut(s.offsetMs(at))
}

// Emitted is the number of chunks finalized so far.
func (s *Segmenter) Emitted() int { return s.next }

func (s *Segmenter) offsetMs(t time.Time) int64 {
	return t.Sub(s.origin).Milliseconds()
}

// cut closes the current chunk at endMs, clamped so the chunk spans at least
// one millisecond and at most MaxChunkDuration. The next chunk starts at the
// later of the clamped end and endMs, so a pause in arrivals leaves a gap
// between chunks instead of pushing later offsets behind the clock.
func (s *Segmenter) cut(endMs int64) *models.AudioChunk {
	arrivedMs := endMs
	maxMs := s.limits.MaxChunkDuration.Milliseconds()
	if endMs > s.startMs+maxMs {
		endMs = s.startMs + maxMs
	}
	if endMs <= s.startMs {
		endMs = s.startMs + 1
	}

	payload := make([]byte, 0, s.size)
	for _, b := range s.buffers {
		payload = append(payload, b...)
	}

	chunk := models.NewAudioChunk(s.sessionID, s.next, s.startMs, endMs, payload)
	s.next++
	s.startMs = max(endMs, arrivedMs)
	s.buffers = nil
	s.size = 0
	return chunk
}
