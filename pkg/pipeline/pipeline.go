package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"session-processor/pkg/capture"
	"session-processor/pkg/config"
	"session-processor/pkg/logger"
	"session-processor/pkg/models"
	"session-processor/pkg/storage"
	"session-processor/pkg/upload"

	"github.com/google/uuid"
)

var (
	ErrInvalidState   = errors.New("invalid session state")
	ErrNotRunning     = errors.New("pipeline is not running")
	ErrUploadDisabled = errors.New("uploads are disabled")
)

// Uploader moves chunk payloads to remote storage.
type Uploader interface {
	Track(ctx context.Context, chunk *models.AudioChunk) error
	UploadChunksSequentially(ctx context.Context, chunks []*models.AudioChunk, progress upload.ProgressFunc) ([]*models.Receipt, error)
	RetryFailedUploads(ctx context.Context, sessionID string) ([]*models.Receipt, error)
}

type Transcriber interface {
	TranscribeSession(ctx context.Context, chunks []*models.AudioChunk) (*models.SessionTranscript, error)
	ClearCache(chunkIDs ...string)
}

type Analyzer interface {
	AnalyzeSession(ctx context.Context, t *models.SessionTranscript) (*models.SessionReport, error)
}

type ReportSaver interface {
	SaveReport(ctx context.Context, sessionID string, report *models.SessionReport, at time.Time) ([]models.PlayerRecord, error)
}

// Deps are the collaborators a Manager drives. Uploader may be nil, in which
// case chunks are only kept in the chunk store.
type Deps struct {
	Uploader    Uploader
	Chunks      *storage.ChunkStore
	Status      *storage.UploadStatusStore
	Transcriber Transcriber
	Analyzer    Analyzer
	Roster      ReportSaver
}

type ingestItem struct {
	sess  *session
	chunk *models.AudioChunk
}

// Manager runs recording sessions from capture to a confirmed report.
type Manager struct {
	config config.PipelineConfig
	limits capture.Limits
	deps   Deps
	log    *logger.Logger

	ingestionCh chan ingestItem
	events      *broker

	mu       sync.Mutex
	sessions map[string]*session

	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	recordings sync.WaitGroup
	now        func() time.Time
}

func NewManager(cfg config.PipelineConfig, limits capture.Limits, deps Deps, log *logger.Logger) *Manager {
	if cfg.IngestQueueSize <= 0 {
		cfg.IngestQueueSize = 32
	}
	return &Manager{
		config:      cfg,
		limits:      limits,
		deps:        deps,
		log:         log.With("component", "pipeline"),
		ingestionCh: make(chan ingestItem, cfg.IngestQueueSize),
		events:      newBroker(cfg.EventBuffer),
		sessions:    make(map[string]*session),
		now:         time.Now,
	}
}

func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return fmt.Errorf("%w: already started", ErrInvalidState)
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.log.Info("Pipeline manager starting")

	m.wg.Add(1)
	go m.runIngestionStage()
	return nil
}

// Stop finalizes every active recording, waits for its chunks to be
// persisted and then shuts the stages down.
func (m *Manager) Stop() {
	m.log.Info("Pipeline manager stopping")
	m.mu.Lock()
	for _, s := range m.sessions {
		if s.recorder != nil {
			s.recorder.Stop()
		}
	}
	m.mu.Unlock()

	m.recordings.Wait()
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.log.Info("Pipeline manager stopped")
}

// running must be called with m.mu held.
func (m *Manager) running() bool {
	return m.ctx != nil && m.ctx.Err() == nil
}

func (m *Manager) CreateSession() SessionView {
	s := &session{
		id:        uuid.New().String(),
		state:     StateCreated,
		createdAt: m.now(),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	v := s.view()
	m.mu.Unlock()

	m.log.Info("Session created", "session_id", s.id)
	return v
}

func (m *Manager) Session(id string) (SessionView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return SessionView{}, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	return s.view(), nil
}

// Sessions lists every known session, oldest first.
func (m *Manager) Sessions() []SessionView {
	m.mu.Lock()
	out := make([]SessionView, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.view())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Subscribe streams the session's events until the returned cancel func is
// called.
func (m *Manager) Subscribe(id string) (<-chan Event, func(), error) {
	if _, err := m.Session(id); err != nil {
		return nil, nil, err
	}
	ch, cancel := m.events.subscribe(id)
	return ch, cancel, nil
}

// StartRecording acquires source and records it in the background until
// StopRecording, the end of the source stream, or Stop.
func (m *Manager) StartRecording(id string, source capture.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running() {
		return ErrNotRunning
	}
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if s.discarded {
		return models.ErrSessionDiscarded
	}
	if s.state != StateCreated {
		return fmt.Errorf("%w: cannot record a session that is %s", ErrInvalidState, s.state)
	}

	rec := capture.NewRecorder(id, source, m.limits, m.log)
	s.recorder = rec
	s.recordDone = make(chan struct{})
	s.state = StateRecording

	m.recordings.Add(1)
	go m.record(s, rec)

	m.publishLocked(s, Event{Type: EventStatusUpdate})
	return nil
}

func (m *Manager) record(s *session, rec *capture.Recorder) {
	defer m.recordings.Done()
	defer close(s.recordDone)

	n, err := rec.Run(m.ctx, m.onChunk(s))
	s.ingest.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	s.recordErr = err
	if s.discarded {
		return
	}
	switch {
	case err != nil && n == 0:
		s.state = StateFailed
		s.err = err.Error()
		m.log.Error("Recording failed", "session_id", s.id, "error", err)
		m.publishLocked(s, Event{Type: EventError, Error: err.Error()})
	case err != nil:
		// the chunks finalized before the failure are still usable
		s.state = StateRecorded
		s.err = err.Error()
		m.log.Warn("Recording ended with error", "session_id", s.id, "chunks", n, "error", err)
		m.publishLocked(s, Event{Type: EventError, Error: err.Error()})
	default:
		s.state = StateRecorded
		m.log.Info("Recording finished", "session_id", s.id, "chunks", n)
	}
	m.publishLocked(s, Event{Type: EventStatusUpdate})
}

func (m *Manager) onChunk(s *session) func(*models.AudioChunk) error {
	return func(c *models.AudioChunk) error {
		m.mu.Lock()
		if s.discarded {
			m.mu.Unlock()
			return models.ErrSessionDiscarded
		}
		s.chunks = append(s.chunks, c)
		s.ingest.Add(1)
		m.mu.Unlock()

		select {
		case m.ingestionCh <- ingestItem{sess: s, chunk: c}:
			return nil
		case <-m.ctx.Done():
			s.ingest.Done()
			return ErrNotRunning
		}
	}
}

// StopRecording finalizes the in-progress chunk, releases the capture
// source and waits until every chunk is persisted.
func (m *Manager) StopRecording(ctx context.Context, id string) (SessionView, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return SessionView{}, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	rec, done := s.recorder, s.recordDone
	m.mu.Unlock()

	if rec == nil {
		return SessionView{}, fmt.Errorf("%w: session %s is not recording", ErrInvalidState, id)
	}
	rec.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		return SessionView{}, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return s.view(), s.recordErr
}

// ProcessAsync runs Process in the background. Progress and failures are
// reported as events.
func (m *Manager) ProcessAsync(id string) error {
	m.mu.Lock()
	running := m.running()
	m.mu.Unlock()
	if !running {
		return ErrNotRunning
	}
	if _, err := m.Session(id); err != nil {
		return err
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.Process(m.ctx, id); err != nil {
			m.log.Warn("Background processing stopped", "session_id", id, "error", err)
		}
	}()
	return nil
}

// Process takes a recorded session through upload, transcription and
// analysis. Each stage is skipped when an earlier call already completed
// it, so a failed session can be processed again.
func (m *Manager) Process(ctx context.Context, id string) (*models.SessionReport, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	switch {
	case s.discarded:
		m.mu.Unlock()
		return nil, models.ErrSessionDiscarded
	case s.report != nil:
		report := s.report
		m.mu.Unlock()
		return report, nil
	case s.state == StateCreated || s.state == StateRecording:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s has not finished recording", ErrInvalidState, id)
	case s.processing:
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is already being processed", ErrInvalidState, id)
	case len(s.chunks) == 0:
		m.mu.Unlock()
		return nil, models.ErrNoAudio
	}
	s.processing = true
	s.err = ""
	chunks := append([]*models.AudioChunk(nil), s.chunks...)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		s.processing = false
		m.mu.Unlock()
	}()

	report, err := m.runStages(ctx, s, chunks)
	if err != nil {
		m.fail(s, err)
		return nil, err
	}
	return report, nil
}

// RetryUploads re-attempts the session's failed chunk uploads.
func (m *Manager) RetryUploads(ctx context.Context, id string) ([]*models.Receipt, error) {
	if _, err := m.Session(id); err != nil {
		return nil, err
	}
	if m.deps.Uploader == nil {
		return nil, ErrUploadDisabled
	}
	receipts, err := m.deps.Uploader.RetryFailedUploads(ctx, id)
	if err != nil {
		m.mu.Lock()
		m.publishLocked(m.sessions[id], Event{Type: EventError, Error: err.Error()})
		m.mu.Unlock()
		return receipts, err
	}
	return receipts, nil
}

// Uploads lists upload records, optionally filtered by session and status.
func (m *Manager) Uploads(ctx context.Context, sessionID string, status models.UploadStatus) ([]models.UploadRecord, error) {
	if m.deps.Status == nil {
		return []models.UploadRecord{}, nil
	}
	if sessionID == "" && status != "" {
		return m.deps.Status.ListByStatus(ctx, status)
	}
	if status == "" {
		return m.deps.Status.List(ctx, sessionID)
	}
	return m.deps.Status.List(ctx, sessionID, status)
}

// Confirm saves the session report into the player records. edited, when
// given, replaces the analyzed report. Confirming twice does not count the
// session twice.
func (m *Manager) Confirm(ctx context.Context, id string, edited *models.SessionReport) ([]models.PlayerRecord, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if s.discarded {
		m.mu.Unlock()
		return nil, models.ErrSessionDiscarded
	}
	report := edited
	if report == nil {
		report = s.report
	}
	if report == nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s has no report to confirm", ErrInvalidState, id)
	}
	if s.confirming {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: session %s is already being confirmed", ErrInvalidState, id)
	}
	s.confirming = true
	ids := s.chunkIDs()
	m.mu.Unlock()

	records, err := m.deps.Roster.SaveReport(ctx, id, report, m.now())
	if err != nil {
		m.mu.Lock()
		s.confirming = false
		m.mu.Unlock()
		m.log.Error("Failed to save session", "session_id", id, "error", err)
		return nil, err
	}

	m.mu.Lock()
	s.confirming = false
	s.report = report
	s.state = StateSaved
	s.err = ""
	m.publishLocked(s, Event{Type: EventStatusUpdate})
	m.mu.Unlock()

	m.deps.Transcriber.ClearCache(ids...)
	m.log.Info("Session confirmed", "session_id", id, "players", len(records))
	return records, nil
}

// Discard drops the session and everything it stored. Work still in flight
// for the session finishes, but its results are thrown away.
func (m *Manager) Discard(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrSessionNotFound, id)
	}
	if s.state == StateSaved {
		m.mu.Unlock()
		return fmt.Errorf("%w: session %s is already saved", ErrInvalidState, id)
	}
	if s.confirming {
		m.mu.Unlock()
		return fmt.Errorf("%w: session %s is being saved", ErrInvalidState, id)
	}
	if s.discarded {
		m.mu.Unlock()
		return nil
	}
	s.discarded = true
	s.state = StateDiscarded
	s.transcript = nil
	s.report = nil
	rec, done := s.recorder, s.recordDone
	m.publishLocked(s, Event{Type: EventStatusUpdate})
	m.mu.Unlock()

	if rec != nil {
		rec.Stop()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	ids := s.chunkIDs()
	s.chunks = nil
	m.mu.Unlock()

	m.deps.Transcriber.ClearCache(ids...)
	var errs []error
	if m.deps.Chunks != nil {
		for _, cid := range ids {
			if err := m.deps.Chunks.Delete(ctx, cid); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if m.deps.Status != nil {
		if err := m.deps.Status.DeleteSession(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	m.log.Info("Session discarded", "session_id", id, "chunks", len(ids))
	return errors.Join(errs...)
}

func (m *Manager) fail(s *session, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.discarded {
		return
	}
	s.state = StateFailed
	s.err = err.Error()
	m.log.Error("Session processing failed", "session_id", s.id, "error", err)
	m.publishLocked(s, Event{Type: EventError, Error: err.Error()})
	m.publishLocked(s, Event{Type: EventStatusUpdate})
}

// setState moves the session to state unless it was discarded meanwhile.
func (m *Manager) setState(s *session, state SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.discarded {
		return models.ErrSessionDiscarded
	}
	s.state = state
	m.publishLocked(s, Event{Type: EventStatusUpdate})
	return nil
}

// publishLocked must be called with m.mu held.
func (m *Manager) publishLocked(s *session, e Event) {
	if s == nil {
		return
	}
	e.SessionID = s.id
	if e.State == "" {
		e.State = s.state
	}
	e.At = m.now()
	m.events.publish(e)
}
