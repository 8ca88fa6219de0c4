package pipeline

import (
	"context"

	"session-processor/pkg/models"
)

func (m *Manager) runIngestionStage() {
	defer m.wg.Done()
	m.log.Debug("Ingestion stage running")

	for {
		select {
		case item := <-m.ingestionCh:
			m.ingest(item)

		case <-m.ctx.Done():
			m.drainIngestion()
			m.log.Debug("Ingestion stage shutting down")
			return
		}
	}
}

// drainIngestion releases chunks still queued at shutdown so recordings
// waiting on them can finish.
func (m *Manager) drainIngestion() {
	for {
		select {
		case item := <-m.ingestionCh:
			m.log.Warn("Chunk not persisted, pipeline is shutting down",
				"session_id", item.sess.id,
				"chunk_id", item.chunk.ID)
			item.sess.ingest.Done()
		default:
			return
		}
	}
}

// ingest persists one finalized chunk so it survives a restart and tells
// subscribers it is ready.
func (m *Manager) ingest(item ingestItem) {
	defer item.sess.ingest.Done()
	s, c := item.sess, item.chunk

	var err error
	switch {
	case m.deps.Uploader != nil:
		err = m.deps.Uploader.Track(m.ctx, c)
	case m.deps.Chunks != nil:
		err = m.deps.Chunks.Put(m.ctx, c)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.log.Error("Failed to persist chunk",
			"session_id", s.id,
			"chunk_id", c.ID,
			"sequence_index", c.SequenceIndex,
			"error", err)
		m.publishLocked(s, Event{Type: EventError, Error: err.Error()})
	}
	view := chunkView(c)
	m.publishLocked(s, Event{Type: EventChunkReady, Chunk: &view})
}

func (m *Manager) runStages(ctx context.Context, s *session, chunks []*models.AudioChunk) (*models.SessionReport, error) {
	if err := m.uploadStage(ctx, s, chunks); err != nil {
		return nil, err
	}
	transcript, err := m.transcribeStage(ctx, s, chunks)
	if err != nil {
		return nil, err
	}
	return m.analyzeStage(ctx, s, transcript)
}

func (m *Manager) uploadStage(ctx context.Context, s *session, chunks []*models.AudioChunk) error {
	m.mu.Lock()
	done := s.uploaded
	m.mu.Unlock()
	if m.deps.Uploader == nil || done {
		return nil
	}
	if err := m.setState(s, StateUploading); err != nil {
		return err
	}

	progress := func(n, total int, c *models.AudioChunk) {
		m.mu.Lock()
		defer m.mu.Unlock()
		view := chunkView(c)
		m.publishLocked(s, Event{Type: EventUploadProgress, Done: n, Total: total, Chunk: &view})
	}
	if _, err := m.deps.Uploader.UploadChunksSequentially(ctx, chunks, progress); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.discarded {
		return models.ErrSessionDiscarded
	}
	s.uploaded = true
	return nil
}

func (m *Manager) transcribeStage(ctx context.Context, s *session, chunks []*models.AudioChunk) (*models.SessionTranscript, error) {
	m.mu.Lock()
	existing := s.transcript
	m.mu.Unlock()
	if existing != nil {
		return existing, nil
	}
	if err := m.setState(s, StateTranscribing); err != nil {
		return nil, err
	}

	transcript, err := m.deps.Transcriber.TranscribeSession(ctx, chunks)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.discarded {
		return nil, models.ErrSessionDiscarded
	}
	s.transcript = transcript
	return transcript, nil
}

func (m *Manager) analyzeStage(ctx context.Context, s *session, transcript *models.SessionTranscript) (*models.SessionReport, error) {
	if err := m.setState(s, StateAnalyzing); err != nil {
		return nil, err
	}

	report, err := m.deps.Analyzer.AnalyzeSession(ctx, transcript)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s.discarded {
		return nil, models.ErrSessionDiscarded
	}
	s.report = report
	s.state = StateReady
	m.publishLocked(s, Event{Type: EventStatusUpdate})
	m.log.Info("Session report ready",
		"session_id", s.id,
		"session_type", report.SessionType,
		"players", len(report.Players))
	return report, nil
}
