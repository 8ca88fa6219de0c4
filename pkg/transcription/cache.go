package transcription

import (
	"sync"

	"session-processor/pkg/models"
)

// Cache holds chunk transcripts by chunk id. Entries live until they are
// deleted; the pipeline clears a session's entries when the session ends.
type Cache interface {
	Get(chunkID string) (*models.ChunkTranscript, bool)
	Put(t *models.ChunkTranscript)
	Delete(chunkIDs ...string)
	Len() int
}

type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*models.ChunkTranscript
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*models.ChunkTranscript)}
}

func (c *MemoryCache) Get(chunkID string) (*models.ChunkTranscript, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.entries[chunkID]
	return t, ok
}

func (c *MemoryCache) Put(t *models.ChunkTranscript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[t.ChunkID] = t
}

func (c *MemoryCache) Delete(chunkIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range chunkIDs {
		delete(c.entries, id)
	}
}

func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
