package pipeline

import (
	"sync"
	"time"
)

type EventType string

const (
	EventChunkReady     EventType = "chunk_ready"
	EventStatusUpdate   EventType = "status_update"
	EventUploadProgress EventType = "upload_progress"
	EventError          EventType = "error"
)

// Event is pushed to subscribers of a session as it moves through the
// pipeline.
type Event struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id"`
	State     SessionState `json:"state,omitempty"`
	Chunk     *ChunkView   `json:"chunk,omitempty"`
	Done      int          `json:"done,omitempty"`
	Total     int          `json:"total,omitempty"`
	Error     string       `json:"error,omitempty"`
	At        time.Time    `json:"at"`
}

// broker fans session events out to subscribers. A subscriber that is not
// keeping up misses events rather than stalling the pipeline.
type broker struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Event
	next   int
	buffer int
}

func newBroker(buffer int) *broker {
	if buffer <= 0 {
		buffer = 16
	}
	return &broker{subs: make(map[string]map[int]chan Event), buffer: buffer}
}

func (b *broker) subscribe(sessionID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan Event)
	}
	b.subs[sessionID][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subs[sessionID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			close(ch)
		})
	}
}

func (b *broker) publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[e.SessionID] {
		select {
		case ch <- e:
		default:
		}
	}
}
