package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"session-processor/pkg/logger"
	"session-processor/pkg/models"
)

// Source is a capture device. Open acquires it and returns the stream of
// buffers; the stream is closed when the device has nothing more to give.
// Open must fail with an error wrapping models.ErrCaptureUnavailable when
// the device cannot be acquired.
type Source interface {
	Open(ctx context.Context) (<-chan Buffer, error)
	Close() error
}

// Recorder drives one Source through a Segmenter for a single session.
type Recorder struct {
	sessionID string
	source    Source
	limits    Limits
	log       *logger.Logger
	now       func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

func NewRecorder(sessionID string, source Source, limits Limits, log *logger.Logger) *Recorder {
	return &Recorder{
		sessionID: sessionID,
		source:    source,
		limits:    limits,
		log:       log.With("component", "recorder", "session_id", sessionID),
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Stop asks Run to finalize the in-progress chunk and release the source.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Run records until the source stream ends, Stop is called or ctx is done.
// Every finalized chunk is handed to onChunk in sequence order. The final
// chunk is always flushed before the source is released. Run returns the
// number of chunks emitted.
func (r *Recorder) Run(ctx context.Context, onChunk func(*models.AudioChunk) error) (int, error) {
	buffers, err := r.source.Open(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrCaptureUnavailable) {
			err = fmt.Errorf("%w: %v", models.ErrCaptureUnavailable, err)
		}
		r.log.Error("Capture source unavailable", "error", err)
		return 0, err
	}

	seg := NewSegmenter(r.sessionID, r.now(), r.limits)
	r.log.Info("Recording started")

	runErr := r.consume(ctx, seg, buffers, onChunk)

	if final := seg.Stop(r.now()); final != nil && runErr == nil {
		runErr = r.emit(final, onChunk)
	}
	if err := r.source.Close(); err != nil {
		r.log.Warn("Failed to release capture source", "error", err)
	}

	n := seg.Emitted()
	r.log.Info("Recording stopped", "chunks", n)
	if runErr != nil {
		return n, runErr
	}
	if n == 0 {
		return 0, models.ErrNoAudio
	}
	return n, nil
}

func (r *Recorder) consume(ctx context.Context, seg *Segmenter, buffers <-chan Buffer, onChunk func(*models.AudioChunk) error) error {
	for {
		select {
		case b, ok := <-buffers:
			if !ok {
				return nil
			}
			if err := r.push(seg, b, onChunk); err != nil {
				return err
			}
		case <-r.stop:
			return r.drain(seg, buffers, onChunk)
		case <-ctx.Done():
			return r.drain(seg, buffers, onChunk)
		}
	}
}

// drain takes whatever the source had already delivered when recording was
// asked to stop.
func (r *Recorder) drain(seg *Segmenter, buffers <-chan Buffer, onChunk func(*models.AudioChunk) error) error {
	for {
		select {
		case b, ok := <-buffers:
			if !ok {
				return nil
			}
			if err := r.push(seg, b, onChunk); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (r *Recorder) push(seg *Segmenter, b Buffer, onChunk func(*models.AudioChunk) error) error {
	chunks, err := seg.Push(b)
	if err != nil {
		r.log.Warn("Rejected audio buffer", "error", err, "bytes", len(b.Data))
		return err
	}
	for _, c := range chunks {
		if err := r.emit(c, onChunk); err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) emit(c *models.AudioChunk, onChunk func(*models.AudioChunk) error) error {
	r.log.Info("Chunk finalized",
		"chunk_id", c.ID,
		"sequence_index", c.SequenceIndex,
		"start_ms", c.StartOffsetMs,
		"end_ms", c.EndOffsetMs,
		"bytes", c.ByteSize)
	if err := onChunk(c); err != nil {
		return fmt.Errorf("handle chunk %d: %w", c.SequenceIndex, err)
	}
	return nil
}
