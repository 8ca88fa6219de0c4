package upload

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"session-processor/pkg/logger"
	"session-processor/pkg/models"
	"session-processor/pkg/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSink fails the first failures[chunkID] calls for a chunk, then succeeds.
type fakeSink struct {
	mu       sync.Mutex
	failures map[string]int
	calls    []string
}

func newFakeSink() *fakeSink {
	return &fakeSink{failures: make(map[string]int)}
}

func (s *fakeSink) Put(_ context.Context, payload []byte, meta models.ChunkMetadata) (*models.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, meta.ChunkID)
	if s.failures[meta.ChunkID] > 0 {
		s.failures[meta.ChunkID]--
		return nil, errors.New("connection reset")
	}
	return &models.Receipt{ChunkID: meta.ChunkID, Location: "mem://" + meta.ChunkID, Size: int64(len(payload))}, nil
}

type testQueue struct {
	*Queue
	sink   *fakeSink
	delays []time.Duration
}

func newTestQueue(t *testing.T, kv storage.KeyValueStore) *testQueue {
	t.Helper()
	if kv == nil {
		kv = storage.NewMemoryStore()
	}
	sink := newFakeSink()
	tq := &testQueue{sink: sink}
	tq.Queue = NewQueue(sink, storage.NewUploadStatusStore(kv), storage.NewChunkStore(kv), DefaultRetryPolicy(), logger.Nop())
	tq.Queue.sleep = func(_ context.Context, d time.Duration) error {
		tq.delays = append(tq.delays, d)
		return nil
	}
	return tq
}

func chunks(sessionID string, n int) []*models.AudioChunk {
	out := make([]*models.AudioChunk, n)
	for i := range out {
		out[i] = models.NewAudioChunk(sessionID, i, int64(i)*1000, int64(i+1)*1000, []byte{byte(i), 1, 2})
	}
	return out
}

// --- RetryPolicy ---

func TestRetryPolicy_Delay_ShouldGrowExponentially(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))

	p = RetryPolicy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, Multiplier: 3}
	assert.Equal(t, 900*time.Millisecond, p.Delay(2))
}

// --- Enqueue ---

func TestEnqueue_WhenSinkFailsTwiceThenSucceeds_ShouldCompleteAfterBackoff(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)
	c := chunks("s1", 1)[0]
	q.sink.failures[c.ID] = 2

	receipt, err := q.Enqueue(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "mem://"+c.ID, receipt.Location)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, q.delays)

	rec, err := q.status.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadCompleted, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.NotNil(t, rec.Receipt)
}

func TestEnqueue_WhenAllAttemptsFail_ShouldLeaveStatusFailed(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)
	c := chunks("s1", 1)[0]
	q.sink.failures[c.ID] = 10

	_, err := q.Enqueue(ctx, c)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrChunkUploadFailed))
	assert.True(t, errors.Is(err, models.ErrUpload))
	assert.Len(t, q.sink.calls, 3)

	rec, err := q.status.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.UploadFailed, rec.Status)
	assert.NotEmpty(t, rec.LastError)

	require.NoError(t, q.chunks.Put(ctx, c))
	q.sink.failures[c.ID] = 0
	receipts, err := q.RetryFailedUploads(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, c.ID, receipts[0].ChunkID)
}

func TestEnqueue_WhenAlreadyCompleted_ShouldNotCallSink(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)
	c := chunks("s1", 1)[0]

	_, err := q.Enqueue(ctx, c)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, c)
	require.NoError(t, err)
	assert.Len(t, q.sink.calls, 1)
}

func TestEnqueue_WhenContextCancelledDuringBackoff_ShouldReturnContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := newTestQueue(t, nil)
	q.Queue.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}
	c := chunks("s1", 1)[0]
	q.sink.failures[c.ID] = 1

	_, err := q.Enqueue(ctx, c)
	assert.ErrorIs(t, err, context.Canceled)
}

// --- UploadChunksSequentially ---

func TestUploadChunksSequentially_ShouldUploadInSequenceOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)
	cs := chunks("s1", 3)
	shuffled := []*models.AudioChunk{cs[2], cs[0], cs[1]}

	var progress []int
	receipts, err := q.UploadChunksSequentially(ctx, shuffled, func(done, total int, c *models.AudioChunk) {
		assert.Equal(t, 3, total)
		progress = append(progress, c.SequenceIndex)
	})
	require.NoError(t, err)
	assert.Len(t, receipts, 3)
	assert.Equal(t, []int{0, 1, 2}, progress)
	assert.Equal(t, []string{cs[0].ID, cs[1].ID, cs[2].ID}, q.sink.calls)
}

func TestUploadChunksSequentially_WhenChunkExhaustsRetries_ShouldLeaveRestPending(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)
	cs := chunks("s1", 3)
	q.sink.failures[cs[1].ID] = 3

	receipts, err := q.UploadChunksSequentially(ctx, cs, nil)
	require.Error(t, err)
	assert.Len(t, receipts, 1)

	statuses := map[string]models.UploadStatus{}
	all, err := q.Records(ctx, "s1")
	require.NoError(t, err)
	for _, r := range all {
		statuses[r.ChunkID] = r.Status
	}
	assert.Equal(t, models.UploadCompleted, statuses[cs[0].ID])
	assert.Equal(t, models.UploadFailed, statuses[cs[1].ID])
	assert.Equal(t, models.UploadPending, statuses[cs[2].ID])

	failed, err := q.Failed(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, cs[1].ID, failed[0].ChunkID)
}

// --- RetryFailedUploads / Resume ---

func TestRetryFailedUploads_ShouldResubmitOnlyFailedInSequenceOrder(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, nil)
	cs := chunks("s1", 4)
	for _, c := range cs {
		require.NoError(t, q.Track(ctx, c))
	}
	for _, i := range []int{3, 1} {
		rec, err := q.status.Get(ctx, cs[i].ID)
		require.NoError(t, err)
		rec.Status = models.UploadFailed
		require.NoError(t, q.status.Put(ctx, rec))
	}
	_, err := q.Enqueue(ctx, cs[0])
	require.NoError(t, err)
	q.sink.calls = nil

	receipts, err := q.RetryFailedUploads(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, receipts, 2)
	assert.Equal(t, []string{cs[1].ID, cs[3].ID}, q.sink.calls)
}

func TestResume_AfterRestart_ShouldSkipCompletedChunks(t *testing.T) {
	ctx := context.Background()
	kv, err := storage.NewDiskStore(t.TempDir())
	require.NoError(t, err)
	defer kv.Close()

	first := newTestQueue(t, kv)
	cs := chunks("s1", 3)
	first.sink.failures[cs[1].ID] = 3
	_, err = first.UploadChunksSequentially(ctx, cs, nil)
	require.Error(t, err)

	// a fresh queue over the same store stands in for a restarted process
	second := newTestQueue(t, kv)
	n, err := second.Resume(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []string{cs[1].ID, cs[2].ID}, second.sink.calls)

	pending, err := second.Records(ctx, "s1", models.UploadPending, models.UploadFailed)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// --- HTTPSink ---

func TestHTTPSink_Put_ShouldPostMultipartWithMetadata(t *testing.T) {
	var gotMeta models.ChunkMetadata
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("metadata")), &gotMeta))
		f, _, err := r.FormFile("audio")
		require.NoError(t, err)
		gotAudio, _ = io.ReadAll(f)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc","etag":"e1"}`))
	}))
	defer srv.Close()

	c := models.NewAudioChunk("s1", 2, 1000, 2000, []byte("raw-bytes"))
	sink := NewHTTPSink(srv.URL, "secret", time.Second)
	receipt, err := sink.Put(context.Background(), c.Payload, Metadata(c))
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/abc", receipt.Location)
	assert.Equal(t, "e1", receipt.ETag)
	assert.Equal(t, []byte("raw-bytes"), gotAudio)
	assert.Equal(t, 2, gotMeta.SequenceIndex)
	assert.Equal(t, int64(1000), gotMeta.StartOffsetMs)
	assert.Equal(t, "application/octet-stream", gotMeta.ContentType)
}

func TestHTTPSink_Put_WhenServerErrors_ShouldReturnErrUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bucket full", http.StatusInsufficientStorage)
	}))
	defer srv.Close()

	c := models.NewAudioChunk("s1", 0, 0, 1000, []byte("x"))
	_, err := NewHTTPSink(srv.URL, "", time.Second).Put(context.Background(), c.Payload, Metadata(c))
	assert.True(t, errors.Is(err, models.ErrUpload))
}

func TestContentType_ShouldSniffKnownAudio(t *testing.T) {
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)
	assert.Equal(t, "audio/x-wav", ContentType(wav))
	assert.Equal(t, "application/octet-stream", ContentType([]byte("hello")))
}
