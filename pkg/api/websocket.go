package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"session-processor/pkg/models"
	"session-processor/pkg/pipeline"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is what a capture client sends: "audio" with a base64
// buffer in data, "stop" or "ping". Replies use the same shape; session
// events are pushed as pipeline.Event values.
type WebSocketMessage struct {
	Type      string                `json:"type"`
	SessionID string                `json:"session_id,omitempty"`
	Data      []byte                `json:"data,omitempty"`
	State     pipeline.SessionState `json:"state,omitempty"`
	Error     string                `json:"error,omitempty"`
}

// StreamHandler turns a websocket into the session's capture device. Audio
// buffers flow in; chunk and status events flow out. Closing the socket
// without "stop" ends the stream, which still flushes the last chunk.
func (h *Handlers) StreamHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.manager.Session(id)
	if err != nil {
		h.writeError(w, err)
		return
	}

	src, ok := h.stream(id)
	if !ok {
		if view.State != pipeline.StateCreated {
			h.writeError(w, pipeline.ErrInvalidState)
			return
		}
		if src, err = h.startStream(id); err != nil {
			h.writeError(w, err)
			return
		}
	}

	events, unsubscribe, err := h.manager.Subscribe(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "session_id", id, "error", err)
		src.End()
		return
	}
	defer conn.Close()
	h.log.Info("Capture stream connected", "session_id", id)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	replies := make(chan WebSocketMessage, 8)
	writerDone := make(chan struct{})
	go h.writeLoop(ctx, cancel, conn, events, replies, writerDone)

	stopped := false
	for !stopped {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "audio":
			if err := src.Write(msg.Data, time.Now()); err != nil {
				send(ctx, replies, WebSocketMessage{Type: "error", SessionID: id, Error: err.Error()})
			}
		case "stop":
			stopped = true
			view, err := h.stopStream(ctx, id)
			if err != nil && !errors.Is(err, models.ErrNoAudio) {
				send(ctx, replies, WebSocketMessage{Type: "error", SessionID: id, Error: err.Error()})
				break
			}
			reply := WebSocketMessage{Type: string(pipeline.EventStatusUpdate), SessionID: id, State: view.State}
			if err != nil {
				reply.Error = err.Error()
			}
			send(ctx, replies, reply)
		case "ping":
			send(ctx, replies, WebSocketMessage{Type: "pong"})
		default:
			send(ctx, replies, WebSocketMessage{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}

	if !stopped {
		h.dropStream(id)
		src.End()
	}
	// let queued replies reach the client before closing
	close(replies)
	<-writerDone
	h.log.Info("Capture stream disconnected", "session_id", id)
}

func (h *Handlers) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, events <-chan pipeline.Event, replies <-chan WebSocketMessage, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				cancel()
				return
			}
		case m, ok := <-replies:
			if !ok {
				flushEvents(conn, events)
				return
			}
			if err := conn.WriteJSON(m); err != nil {
				cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// flushEvents writes the events already queued when the stream closes.
func flushEvents(conn *websocket.Conn, events <-chan pipeline.Event) {
	for {
		select {
		case e, ok := <-events:
			if !ok || conn.WriteJSON(e) != nil {
				return
			}
		default:
			return
		}
	}
}

func send(ctx context.Context, replies chan<- WebSocketMessage, m WebSocketMessage) {
	select {
	case replies <- m:
	case <-ctx.Done():
	}
}
