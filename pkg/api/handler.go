package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"session-processor/pkg/capture"
	"session-processor/pkg/logger"
	"session-processor/pkg/models"
	"session-processor/pkg/pipeline"
	"session-processor/pkg/roster"
	"session-processor/pkg/storage"

	"github.com/gorilla/mux"
)

const maxBufferUpload = 32 << 20

type Handlers struct {
	manager   *pipeline.Manager
	roster    *roster.Roster
	queueSize int
	log       *logger.Logger

	mu      sync.Mutex
	streams map[string]*capture.StreamSource
}

// NewHandlers builds the HTTP surface. queueSize bounds how many buffers a
// remote capture client may have in flight.
func NewHandlers(manager *pipeline.Manager, players *roster.Roster, queueSize int, log *logger.Logger) *Handlers {
	return &Handlers{
		manager:   manager,
		roster:    players,
		queueSize: queueSize,
		log:       log.With("component", "api"),
		streams:   make(map[string]*capture.StreamSource),
	}
}

func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/sessions", h.CreateSessionHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions", h.ListSessionsHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", h.GetSessionHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}", h.DiscardHandler).Methods(http.MethodDelete)
	r.HandleFunc("/sessions/{id}/start", h.StartRecordingHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/buffers", h.BufferHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/stop", h.StopRecordingHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/stream", h.StreamHandler)
	r.HandleFunc("/sessions/{id}/process", h.ProcessHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/confirm", h.ConfirmHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/discard", h.DiscardHandler).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/uploads", h.ListUploadsHandler).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/uploads/retry", h.RetryUploadsHandler).Methods(http.MethodPost)
	r.HandleFunc("/uploads", h.ListUploadsHandler).Methods(http.MethodGet)

	r.HandleFunc("/players", h.ListPlayersHandler).Methods(http.MethodGet)
	r.HandleFunc("/players", h.ClearPlayersHandler).Methods(http.MethodDelete)
	r.HandleFunc("/players/{id}", h.GetPlayerHandler).Methods(http.MethodGet)
	r.HandleFunc("/players/{id}", h.UpdatePlayerHandler).Methods(http.MethodPatch)
	r.HandleFunc("/players/{id}", h.DeletePlayerHandler).Methods(http.MethodDelete)
	r.HandleFunc("/players/{id}/history", h.PlayerHistoryHandler).Methods(http.MethodGet)
	r.HandleFunc("/players/{id}/stats/recompute", h.RecomputeStatsHandler).Methods(http.MethodPost)

	return r
}

// --- Sessions ---

func (h *Handlers) CreateSessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.manager.CreateSession())
}

func (h *Handlers) ListSessionsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Sessions())
}

func (h *Handlers) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	view, err := h.manager.Session(mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handlers) StartRecordingHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.startStream(id); err != nil {
		h.writeError(w, err)
		return
	}
	view, err := h.manager.Session(id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// BufferHandler accepts one captured buffer as the multipart "audio" field
// for clients that cannot hold a websocket open.
func (h *Handlers) BufferHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	src, ok := h.stream(id)
	if !ok {
		h.writeError(w, pipeline.ErrInvalidState)
		return
	}

	if err := r.ParseMultipartForm(maxBufferUpload); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to parse form"})
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "audio is required"})
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read audio"})
		return
	}

	if err := src.Write(data, time.Now()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"session_id": id,
		"bytes":      len(data),
	})
}

func (h *Handlers) StopRecordingHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	view, err := h.stopStream(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// ProcessHandler runs upload, transcription and analysis. With ?async=true
// it returns at once and progress is pushed over the session stream.
func (h *Handlers) ProcessHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if r.URL.Query().Get("async") == "true" {
		if err := h.manager.ProcessAsync(id); err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"session_id": id, "status": "processing"})
		return
	}

	report, err := h.manager.Process(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ConfirmHandler saves the session into the player records. A JSON report
// in the body replaces the analyzed one.
func (h *Handlers) ConfirmHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var edited *models.SessionReport
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBufferUpload))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "failed to read body"})
		return
	}
	if len(body) > 0 {
		edited = &models.SessionReport{}
		if err := json.Unmarshal(body, edited); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid report: " + err.Error()})
			return
		}
	}

	records, err := h.manager.Confirm(r.Context(), id, edited)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) DiscardHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	h.dropStream(id)
	if err := h.manager.Discard(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Uploads ---

func (h *Handlers) ListUploadsHandler(w http.ResponseWriter, r *http.Request) {
	status := models.UploadStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.UploadPending, models.UploadUploading, models.UploadCompleted, models.UploadFailed:
	default:
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown upload status " + string(status)})
		return
	}

	records, err := h.manager.Uploads(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handlers) RetryUploadsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := h.manager.RetryUploads(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// --- Players ---

func (h *Handlers) ListPlayersHandler(w http.ResponseWriter, r *http.Request) {
	players, err := h.roster.Players(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, players)
}

func (h *Handlers) GetPlayerHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.roster.Player(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) UpdatePlayerHandler(w http.ResponseWriter, r *http.Request) {
	var upd roster.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid profile update"})
		return
	}
	p, err := h.roster.UpdateProfile(r.Context(), mux.Vars(r)["id"], upd)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) DeletePlayerHandler(w http.ResponseWriter, r *http.Request) {
	found, err := h.roster.Delete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	if !found {
		h.writeError(w, storage.ErrPlayerNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) PlayerHistoryHandler(w http.ResponseWriter, r *http.Request) {
	history, err := h.roster.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handlers) RecomputeStatsHandler(w http.ResponseWriter, r *http.Request) {
	p, err := h.roster.RecomputeStats(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) ClearPlayersHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.roster.Clear(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Streams ---

// startStream begins recording the session from a new remote stream.
func (h *Handlers) startStream(id string) (*capture.StreamSource, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.streams[id]; ok {
		return nil, pipeline.ErrInvalidState
	}
	src := capture.NewStreamSource(h.queueSize)
	if err := h.manager.StartRecording(id, src); err != nil {
		return nil, err
	}
	h.streams[id] = src
	h.log.Info("Remote capture started", "session_id", id)
	return src, nil
}

func (h *Handlers) stream(id string) (*capture.StreamSource, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	src, ok := h.streams[id]
	return src, ok
}

func (h *Handlers) dropStream(id string) {
	h.mu.Lock()
	delete(h.streams, id)
	h.mu.Unlock()
}

func (h *Handlers) stopStream(ctx context.Context, id string) (pipeline.SessionView, error) {
	h.dropStream(id)
	return h.manager.StopRecording(ctx, id)
}

// --- Responses ---

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("Request failed", "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, storage.ErrPlayerNotFound),
		errors.Is(err, storage.ErrChunkNotFound),
		errors.Is(err, storage.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, pipeline.ErrInvalidState),
		errors.Is(err, models.ErrSessionDiscarded),
		errors.Is(err, models.ErrCaptureUnavailable),
		errors.Is(err, capture.ErrSourceClosed):
		return http.StatusConflict
	case errors.Is(err, models.ErrInvalidFeedbackData),
		errors.Is(err, models.ErrNoAudio),
		errors.Is(err, models.ErrBufferTooLarge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, pipeline.ErrUploadDisabled):
		return http.StatusNotImplemented
	case errors.Is(err, pipeline.ErrNotRunning):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrChunkUploadFailed),
		errors.Is(err, models.ErrUpload),
		errors.Is(err, models.ErrTranscription),
		errors.Is(err, models.ErrAnalysis),
		errors.Is(err, models.ErrAnalysisParse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
