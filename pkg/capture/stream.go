package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"session-processor/pkg/models"
)

var ErrSourceClosed = errors.New("capture source closed")

// StreamSource is a Source fed by a remote device (a websocket or HTTP
// client pushing buffers). It can be acquired once.
type StreamSource struct {
	ch       chan Buffer
	released chan struct{}

	mu        sync.Mutex
	acquired  bool
	ended     bool
	closeOnce sync.Once
}

func NewStreamSource(queueSize int) *StreamSource {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &StreamSource{
		ch:       make(chan Buffer, queueSize),
		released: make(chan struct{}),
	}
}

func (s *StreamSource) Open(_ context.Context) (<-chan Buffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.released:
		return nil, fmt.Errorf("%w: source already released", models.ErrCaptureUnavailable)
	default:
	}
	if s.acquired {
		return nil, fmt.Errorf("%w: source already in use", models.ErrCaptureUnavailable)
	}
	s.acquired = true
	return s.ch, nil
}

// Write delivers one buffer. It blocks while the queue is full and fails
// once the stream has ended or the source was released.
func (s *StreamSource) Write(data []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return ErrSourceClosed
	}
	select {
	case <-s.released:
		return ErrSourceClosed
	default:
	}
	select {
	case s.ch <- Buffer{Data: data, At: at}:
		return nil
	case <-s.released:
		return ErrSourceClosed
	}
}

// End marks the stream as finished; the recorder flushes and stops once it
// has consumed what was queued.
func (s *StreamSource) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ended {
		s.ended = true
		close(s.ch)
	}
}

func (s *StreamSource) Close() error {
	s.closeOnce.Do(func() { close(s.released) })
	return nil
}
