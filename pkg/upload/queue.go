package upload

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"session-processor/pkg/logger"
	"session-processor/pkg/models"
	"session-processor/pkg/storage"
)

// Sink is the remote destination for chunk payloads.
type Sink interface {
	Put(ctx context.Context, payload []byte, meta models.ChunkMetadata) (*models.Receipt, error)
}

// ProgressFunc is called after each chunk of a sequential upload settles.
type ProgressFunc func(done, total int, chunk *models.AudioChunk)

// Queue uploads chunks one at a time with retry and persists an
// UploadRecord per chunk.
type Queue struct {
	sink   Sink
	status *storage.UploadStatusStore
	chunks *storage.ChunkStore
	policy RetryPolicy
	log    *logger.Logger

	sleep Sleeper
	now   func() time.Time
}

func NewQueue(sink Sink, status *storage.UploadStatusStore, chunks *storage.ChunkStore, policy RetryPolicy, log *logger.Logger) *Queue {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	return &Queue{
		sink:   sink,
		status: status,
		chunks: chunks,
		policy: policy,
		log:    log.With("component", "upload-queue"),
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Track persists the chunk payload and marks it pending unless it has
// already been uploaded.
func (q *Queue) Track(ctx context.Context, chunk *models.AudioChunk) error {
	rec, err := q.record(ctx, chunk)
	if err != nil {
		return err
	}
	if rec.Status == models.UploadCompleted {
		return nil
	}
	if err := q.chunks.Put(ctx, chunk); err != nil {
		return fmt.Errorf("persist chunk %s: %w", chunk.ID, err)
	}
	rec.Status = models.UploadPending
	return q.status.Put(ctx, rec)
}

// Enqueue uploads one chunk, retrying with backoff. A chunk already marked
// completed is not uploaded again; its stored receipt is returned.
func (q *Queue) Enqueue(ctx context.Context, chunk *models.AudioChunk) (*models.Receipt, error) {
	rec, err := q.record(ctx, chunk)
	if err != nil {
		return nil, err
	}
	if rec.Status == models.UploadCompleted {
		q.log.Debug("Chunk already uploaded", "chunk_id", chunk.ID)
		return rec.Receipt, nil
	}

	meta := Metadata(chunk)
	var lastErr error
	for k := 0; k < q.policy.MaxAttempts; k++ {
		rec.Status = models.UploadUploading
		rec.Attempts++
		rec.LastAttemptAt = q.now()
		rec.LastError = ""
		if err := q.status.Put(ctx, rec); err != nil {
			return nil, err
		}

		receipt, err := q.sink.Put(ctx, chunk.Payload, meta)
		if err == nil {
			rec.Status = models.UploadCompleted
			rec.Receipt = receipt
			if err := q.status.Put(ctx, rec); err != nil {
				return nil, err
			}
			q.log.Info("Chunk uploaded",
				"chunk_id", chunk.ID,
				"sequence_index", chunk.SequenceIndex,
				"attempt", k+1)
			return receipt, nil
		}

		if !errors.Is(err, models.ErrUpload) {
			err = fmt.Errorf("%w: %w", models.ErrUpload, err)
		}
		lastErr = err
		rec.Status = models.UploadFailed
		rec.LastError = err.Error()
		if perr := q.status.Put(ctx, rec); perr != nil {
			return nil, perr
		}

		if k == q.policy.MaxAttempts-1 {
			break
		}
		delay := q.policy.Delay(k)
		q.log.Warn("Chunk upload failed, retrying",
			"chunk_id", chunk.ID,
			"sequence_index", chunk.SequenceIndex,
			"attempt", k+1,
			"delay", delay,
			"error", err)
		if err := q.sleep(ctx, delay); err != nil {
			return nil, err
		}
		rec.Status = models.UploadPending
		if err := q.status.Put(ctx, rec); err != nil {
			return nil, err
		}
	}

	q.log.Error("Chunk upload exhausted retries",
		"chunk_id", chunk.ID,
		"sequence_index", chunk.SequenceIndex,
		"attempts", q.policy.MaxAttempts,
		"error", lastErr)
	return nil, fmt.Errorf("%w: chunk %d (%s) after %d attempts: %w",
		models.ErrChunkUploadFailed, chunk.SequenceIndex, chunk.ID, q.policy.MaxAttempts, lastErr)
}

// UploadChunksSequentially uploads chunks in sequence order, never two at a
// time. All chunks are marked pending first; if one exhausts its retries the
// upload stops and the remaining chunks stay pending.
func (q *Queue) UploadChunksSequentially(ctx context.Context, chunks []*models.AudioChunk, progress ProgressFunc) ([]*models.Receipt, error) {
	ordered := sortedChunks(chunks)
	for _, c := range ordered {
		if err := q.Track(ctx, c); err != nil {
			return nil, err
		}
	}

	receipts := make([]*models.Receipt, 0, len(ordered))
	for i, c := range ordered {
		receipt, err := q.Enqueue(ctx, c)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)
		if progress != nil {
			progress(i+1, len(ordered), c)
		}
	}
	return receipts, nil
}

// RetryFailedUploads re-submits exactly the chunks currently marked failed,
// in sequence order. An empty sessionID covers every session.
func (q *Queue) RetryFailedUploads(ctx context.Context, sessionID string) ([]*models.Receipt, error) {
	failed, err := q.status.List(ctx, sessionID, models.UploadFailed)
	if err != nil {
		return nil, err
	}
	q.log.Info("Retrying failed uploads", "session_id", sessionID, "count", len(failed))

	receipts := make([]*models.Receipt, 0, len(failed))
	for _, rec := range failed {
		chunk, err := q.chunks.Get(ctx, rec.ChunkID)
		if err != nil {
			return receipts, fmt.Errorf("load chunk %s: %w", rec.ChunkID, err)
		}
		receipt, err := q.Enqueue(ctx, chunk)
		if err != nil {
			return receipts, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, nil
}

// Resume re-attempts every pending or failed chunk left by a previous run.
// Chunks whose payload is gone are skipped. Within a session, a chunk that
// exhausts its retries stops the rest of that session.
func (q *Queue) Resume(ctx context.Context) (int, error) {
	recs, err := q.status.List(ctx, "", models.UploadPending, models.UploadUploading, models.UploadFailed)
	if err != nil {
		return 0, err
	}

	var errs []error
	stalled := make(map[string]bool)
	uploaded := 0
	for _, rec := range recs {
		if stalled[rec.SessionID] {
			continue
		}
		chunk, err := q.chunks.Get(ctx, rec.ChunkID)
		if errors.Is(err, storage.ErrChunkNotFound) {
			q.log.Warn("Chunk payload missing, cannot resume upload", "chunk_id", rec.ChunkID)
			continue
		}
		if err != nil {
			return uploaded, err
		}
		if _, err := q.Enqueue(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				return uploaded, ctx.Err()
			}
			stalled[rec.SessionID] = true
			errs = append(errs, err)
			continue
		}
		uploaded++
	}
	q.log.Info("Resumed uploads", "uploaded", uploaded, "stalled_sessions", len(stalled))
	return uploaded, errors.Join(errs...)
}

// Failed lists the chunks of sessionID whose last upload attempt failed.
func (q *Queue) Failed(ctx context.Context, sessionID string) ([]models.UploadRecord, error) {
	return q.status.List(ctx, sessionID, models.UploadFailed)
}

func (q *Queue) Records(ctx context.Context, sessionID string, statuses ...models.UploadStatus) ([]models.UploadRecord, error) {
	return q.status.List(ctx, sessionID, statuses...)
}

func (q *Queue) record(ctx context.Context, chunk *models.AudioChunk) (models.UploadRecord, error) {
	rec, err := q.status.Get(ctx, chunk.ID)
	if errors.Is(err, storage.ErrRecordNotFound) {
		return models.UploadRecord{
			ChunkID:       chunk.ID,
			SessionID:     chunk.SessionID,
			SequenceIndex: chunk.SequenceIndex,
			Status:        models.UploadPending,
		}, nil
	}
	return rec, err
}

func sortedChunks(chunks []*models.AudioChunk) []*models.AudioChunk {
	out := append([]*models.AudioChunk(nil), chunks...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].SequenceIndex < out[j].SequenceIndex
	})
	return out
}
