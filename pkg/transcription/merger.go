// Package transcription transcribes chunks independently and stitches the
// results into one session transcript on a single timeline.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"session-processor/pkg/logger"
	"session-processor/pkg/models"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Service turns one audio payload into a zero-based transcript. Failures
// wrap models.ErrTranscription.
type Service interface {
	Transcribe(ctx context.Context, audio []byte) (*models.Transcript, error)
}

type Merger struct {
	svc         Service
	cache       Cache
	concurrency int
	log         *logger.Logger

	inflight singleflight.Group
}

func NewMerger(svc Service, cache Cache, concurrency int, log *logger.Logger) *Merger {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Merger{
		svc:         svc,
		cache:       cache,
		concurrency: concurrency,
		log:         log.With("component", "transcription"),
	}
}

// Transcribe returns the chunk's transcript, calling the backend only on a
// cache miss. Concurrent calls for the same chunk share one backend call.
func (m *Merger) Transcribe(ctx context.Context, chunk *models.AudioChunk) (*models.ChunkTranscript, error) {
	if t, ok := m.cache.Get(chunk.ID); ok {
		m.log.Debug("Transcript cache hit", "chunk_id", chunk.ID)
		return t, nil
	}

	v, err, _ := m.inflight.Do(chunk.ID, func() (interface{}, error) {
		if t, ok := m.cache.Get(chunk.ID); ok {
			return t, nil
		}
		m.log.Info("Transcribing chunk",
			"chunk_id", chunk.ID,
			"sequence_index", chunk.SequenceIndex,
			"bytes", chunk.ByteSize)

		res, err := m.svc.Transcribe(ctx, chunk.Payload)
		if err != nil {
			if !errors.Is(err, models.ErrTranscription) {
				err = fmt.Errorf("%w: %w", models.ErrTranscription, err)
			}
			return nil, fmt.Errorf("chunk %d (%s): %w", chunk.SequenceIndex, chunk.ID, err)
		}
		t := &models.ChunkTranscript{
			ChunkID:       chunk.ID,
			SequenceIndex: chunk.SequenceIndex,
			StartOffsetMs: chunk.StartOffsetMs,
			Transcript:    *res,
		}
		m.cache.Put(t)
		return t, nil
	})
	if err != nil {
		m.log.Error("Chunk transcription failed", "chunk_id", chunk.ID, "error", err)
		return nil, err
	}
	return v.(*models.ChunkTranscript), nil
}

// TranscribeAll transcribes chunks with bounded concurrency. The result is
// in input order; the first failure cancels the rest.
func (m *Merger) TranscribeAll(ctx context.Context, chunks []*models.AudioChunk) ([]*models.ChunkTranscript, error) {
	out := make([]*models.ChunkTranscript, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for i, c := range chunks {
		g.Go(func() error {
			t, err := m.Transcribe(gctx, c)
			if err != nil {
				return err
			}
			out[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// TranscribeSession transcribes every chunk and merges the results. Any
// chunk failure aborts the whole session; no partial transcript is returned.
func (m *Merger) TranscribeSession(ctx context.Context, chunks []*models.AudioChunk) (*models.SessionTranscript, error) {
	transcripts, err := m.TranscribeAll(ctx, chunks)
	if err != nil {
		return nil, err
	}
	merged := Merge(transcripts)
	m.log.Info("Session transcript merged",
		"chunks", len(transcripts),
		"words", len(merged.Words),
		"segments", len(merged.Segments))
	return merged, nil
}

func (m *Merger) Merge(transcripts []*models.ChunkTranscript) *models.SessionTranscript {
	return Merge(transcripts)
}

// ClearCache drops the cached transcripts of the given chunks.
func (m *Merger) ClearCache(chunkIDs ...string) {
	m.cache.Delete(chunkIDs...)
}

// Merge stitches chunk transcripts in sequence order regardless of the
// order they are given in. Texts are joined by a single space and every
// timestamp is shifted by its chunk's start offset. A chunk that has text
// but no word timings contributes words taken from its segments, or from
// its text at the chunk start, so the word list covers the whole session
// text. The inputs are not modified.
func Merge(transcripts []*models.ChunkTranscript) *models.SessionTranscript {
	ordered := make([]*models.ChunkTranscript, 0, len(transcripts))
	for _, t := range transcripts {
		if t != nil {
			ordered = append(ordered, t)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceIndex < ordered[j].SequenceIndex
	})

	out := &models.SessionTranscript{
		Segments: []models.TimedText{},
		Words:    []models.TimedText{},
	}
	texts := make([]string, 0, len(ordered))
	for _, t := range ordered {
		if text := strings.TrimSpace(t.Text); text != "" {
			texts = append(texts, text)
		}
		out.Segments = appendShifted(out.Segments, t.Segments, t.StartOffsetMs)
		out.Words = appendShifted(out.Words, chunkWords(t.Transcript), t.StartOffsetMs)
	}
	out.Text = strings.Join(texts, " ")
	return out
}

func chunkWords(t models.Transcript) []models.TimedText {
	if hasText(t.Words) {
		return t.Words
	}
	var words []models.TimedText
	for _, seg := range t.Segments {
		words = append(words, spread(seg)...)
	}
	if len(words) > 0 {
		return words
	}
	return spread(models.TimedText{Text: t.Text})
}

// spread splits an entry into words sharing its time span evenly.
func spread(e models.TimedText) []models.TimedText {
	fields := strings.Fields(e.Text)
	n := int64(len(fields))
	span := e.EndMs - e.StartMs
	out := make([]models.TimedText, len(fields))
	for i, f := range fields {
		k := int64(i)
		out[i] = models.TimedText{
			StartMs: e.StartMs + span*k/n,
			EndMs:   e.StartMs + span*(k+1)/n,
			Text:    f,
		}
	}
	return out
}

func hasText(entries []models.TimedText) bool {
	for _, e := range entries {
		if strings.TrimSpace(e.Text) != "" {
			return true
		}
	}
	return false
}

func appendShifted(dst, src []models.TimedText, offsetMs int64) []models.TimedText {
	for _, e := range src {
		dst = append(dst, models.TimedText{
			StartMs: e.StartMs + offsetMs,
			EndMs:   e.EndMs + offsetMs,
			Text:    e.Text,
		})
	}
	return dst
}
