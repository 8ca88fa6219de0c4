package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"session-processor/pkg/models"
)

// Top-level collection keys. Both collections are read and written as whole
// documents on every mutation.
const (
	PlayersKey      = "players"
	UploadStatusKey = "upload-status"
	chunkKeyPrefix  = "chunk/"
)

var (
	ErrChunkNotFound  = fmt.Errorf("chunk not found")
	ErrPlayerNotFound = fmt.Errorf("player not found")
	ErrRecordNotFound = fmt.Errorf("upload record not found")
)

// Open returns the KeyValueStore selected by backend.
func Open(backend, path, redisAddr string, redisDB int) (KeyValueStore, error) {
	switch backend {
	case "", "badger":
		return NewDiskStore(path)
	case "redis":
		return NewRedisStore(redisAddr, redisDB, "session-processor:")
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}

func loadDocument[T any](ctx context.Context, kv KeyValueStore, key string) (map[string]T, error) {
	doc := make(map[string]T)
	raw, err := kv.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return doc, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return doc, nil
}

func saveDocument[T any](ctx context.Context, kv KeyValueStore, key string, doc map[string]T) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(ctx, key, raw)
}

// --- upload-status ---

type UploadStatusStore struct {
	kv KeyValueStore
	mu sync.Mutex
}

func NewUploadStatusStore(kv KeyValueStore) *UploadStatusStore {
	return &UploadStatusStore{kv: kv}
}

func (s *UploadStatusStore) Get(ctx context.Context, chunkID string) (models.UploadRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := loadDocument[models.UploadRecord](ctx, s.kv, UploadStatusKey)
	if err != nil {
		return models.UploadRecord{}, err
	}
	rec, ok := doc[chunkID]
	if !ok {
		return models.UploadRecord{}, ErrRecordNotFound
	}
	return rec, nil
}

func (s *UploadStatusStore) Put(ctx context.Context, rec models.UploadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := loadDocument[models.UploadRecord](ctx, s.kv, UploadStatusKey)
	if err != nil {
		return err
	}
	doc[rec.ChunkID] = rec
	return saveDocument(ctx, s.kv, UploadStatusKey, doc)
}

// List returns the records matching any of statuses (all records when none
// are given), ordered by session and then sequence index. An empty sessionID
// matches every session.
func (s *UploadStatusStore) List(ctx context.Context, sessionID string, statuses ...models.UploadStatus) ([]models.UploadRecord, error) {
	s.mu.Lock()
	doc, err := loadDocument[models.UploadRecord](ctx, s.kv, UploadStatusKey)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	want := make(map[models.UploadStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	out := make([]models.UploadRecord, 0, len(doc))
	for _, rec := range doc {
		if sessionID != "" && rec.SessionID != sessionID {
			continue
		}
		if len(want) > 0 && !want[rec.Status] {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].SequenceIndex < out[j].SequenceIndex
	})
	return out, nil
}

// ListByStatus returns every record in status across all sessions.
func (s *UploadStatusStore) ListByStatus(ctx context.Context, status models.UploadStatus) ([]models.UploadRecord, error) {
	return s.List(ctx, "", status)
}

// DeleteSession drops every record belonging to sessionID.
func (s *UploadStatusStore) DeleteSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := loadDocument[models.UploadRecord](ctx, s.kv, UploadStatusKey)
	if err != nil {
		return err
	}
	for id, rec := range doc {
		if rec.SessionID == sessionID {
			delete(doc, id)
		}
	}
	return saveDocument(ctx, s.kv, UploadStatusKey, doc)
}

// --- players ---

type PlayerStore struct {
	kv KeyValueStore
	mu sync.Mutex
}

func NewPlayerStore(kv KeyValueStore) *PlayerStore {
	return &PlayerStore{kv: kv}
}

func (s *PlayerStore) All(ctx context.Context) (map[string]models.PlayerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return loadDocument[models.PlayerRecord](ctx, s.kv, PlayersKey)
}

func (s *PlayerStore) Get(ctx context.Context, id string) (models.PlayerRecord, error) {
	players, err := s.All(ctx)
	if err != nil {
		return models.PlayerRecord{}, err
	}
	p, ok := players[id]
	if !ok {
		return models.PlayerRecord{}, ErrPlayerNotFound
	}
	return p, nil
}

// Update runs fn against the whole players document and writes it back only
// if fn succeeds. Nothing is persisted when fn returns an error.
func (s *PlayerStore) Update(ctx context.Context, fn func(players map[string]models.PlayerRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	players, err := loadDocument[models.PlayerRecord](ctx, s.kv, PlayersKey)
	if err != nil {
		return err
	}
	if err := fn(players); err != nil {
		return err
	}
	return saveDocument(ctx, s.kv, PlayersKey, players)
}

// Delete removes the player and reports whether it existed.
func (s *PlayerStore) Delete(ctx context.Context, id string) (bool, error) {
	found := false
	err := s.Update(ctx, func(players map[string]models.PlayerRecord) error {
		_, found = players[id]
		delete(players, id)
		return nil
	})
	return found, err
}

func (s *PlayerStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(ctx, PlayersKey)
}

// --- chunk payloads ---

// ChunkStore keeps chunk payloads so uploads and transcriptions can be
// retried after a restart. Each chunk is its own key.
type ChunkStore struct {
	kv KeyValueStore
}

func NewChunkStore(kv KeyValueStore) *ChunkStore {
	return &ChunkStore{kv: kv}
}

func (s *ChunkStore) Put(ctx context.Context, chunk *models.AudioChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("failed to marshal chunk: %w", err)
	}
	return s.kv.Put(ctx, chunkKeyPrefix+chunk.ID, data)
}

func (s *ChunkStore) Get(ctx context.Context, id string) (*models.AudioChunk, error) {
	data, err := s.kv.Get(ctx, chunkKeyPrefix+id)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrChunkNotFound
	}
	if err != nil {
		return nil, err
	}
	var chunk models.AudioChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return nil, fmt.Errorf("failed to unmarshal chunk %s: %w", id, err)
	}
	return &chunk, nil
}

func (s *ChunkStore) Delete(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, chunkKeyPrefix+id)
}
