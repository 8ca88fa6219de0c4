package transcription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"session-processor/pkg/logger"
	"session-processor/pkg/models"

	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/durationpb"
)

// fakeService transcribes a payload by treating it as the spoken text. Each
// word lasts 500ms and the whole text is one segment.
type fakeService struct {
	calls atomic.Int32
	fail  map[string]bool
	mu    sync.Mutex
}

func (f *fakeService) Transcribe(_ context.Context, audio []byte) (*models.Transcript, error) {
	f.calls.Add(1)
	text := string(audio)
	f.mu.Lock()
	fail := f.fail[text]
	f.mu.Unlock()
	if fail {
		return nil, errors.New("backend unavailable")
	}
	t := &models.Transcript{Text: text}
	var end int64
	for i, w := range strings.Fields(text) {
		start := int64(i) * 500
		end = start + 500
		t.Words = append(t.Words, models.TimedText{StartMs: start, EndMs: end, Text: w})
	}
	t.Segments = []models.TimedText{{StartMs: 0, EndMs: end, Text: text}}
	return t, nil
}

var scenario = []string{
	"Player A drove hard.",
	"Player A passed well.",
	"Team chemistry was strong.",
}

func scenarioChunks() []*models.AudioChunk {
	out := make([]*models.AudioChunk, len(scenario))
	for i, text := range scenario {
		start := int64(i) * 60000
		out[i] = models.NewAudioChunk("s1", i, start, start+60000, []byte(text))
	}
	return out
}

func newTestMerger(svc Service) *Merger {
	return NewMerger(svc, NewMemoryCache(), 2, logger.Nop())
}

// --- Merge ---

func TestTranscribeSession_ShouldStitchTextAndOffsetTimestamps(t *testing.T) {
	m := newTestMerger(&fakeService{})
	got, err := m.TranscribeSession(context.Background(), scenarioChunks())
	require.NoError(t, err)

	assert.Equal(t, "Player A drove hard. Player A passed well. Team chemistry was strong.", got.Text)
	require.Len(t, got.Words, 12)
	assert.Equal(t, models.TimedText{StartMs: 0, EndMs: 500, Text: "Player"}, got.Words[0])
	assert.Equal(t, models.TimedText{StartMs: 60000, EndMs: 60500, Text: "Player"}, got.Words[4])
	assert.Equal(t, models.TimedText{StartMs: 121500, EndMs: 122000, Text: "strong."}, got.Words[11])

	require.Len(t, got.Segments, 3)
	assert.Equal(t, int64(120000), got.Segments[2].StartMs)
}

func TestMerge_WhenCalledTwice_ShouldProduceIdenticalOutput(t *testing.T) {
	m := newTestMerger(&fakeService{})
	ts, err := m.TranscribeAll(context.Background(), scenarioChunks())
	require.NoError(t, err)

	first, err := json.Marshal(Merge(ts))
	require.NoError(t, err)
	second, err := json.Marshal(Merge(ts))
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// merging must not shift the cached transcripts themselves
	assert.Equal(t, int64(0), ts[2].Words[0].StartMs)
}

func TestMerge_ShouldIgnoreArrivalOrder(t *testing.T) {
	m := newTestMerger(&fakeService{})
	ts, err := m.TranscribeAll(context.Background(), scenarioChunks())
	require.NoError(t, err)
	want := Merge(ts)

	perms := [][]int{{0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, p := range perms {
		t.Run(fmt.Sprint(p), func(t *testing.T) {
			shuffled := []*models.ChunkTranscript{ts[p[0]], ts[p[1]], ts[p[2]]}
			assert.Equal(t, want, Merge(shuffled))
		})
	}
}

func TestMerge_WhenChunkHasNoWordTimings_ShouldDeriveWordsFromSegmentsOrText(t *testing.T) {
	got := Merge([]*models.ChunkTranscript{
		{SequenceIndex: 2, StartOffsetMs: 120000, Transcript: models.Transcript{Text: "Box out."}},
		{SequenceIndex: 0, StartOffsetMs: 0, Transcript: models.Transcript{
			Text:  "Maria drove hard.",
			Words: []models.TimedText{
				{StartMs: 0, EndMs: 300, Text: "Maria"},
				{StartMs: 300, EndMs: 600, Text: "drove"},
				{StartMs: 600, EndMs: 900, Text: "hard."},
			},
		}},
		{SequenceIndex: 1, StartOffsetMs: 60000, Transcript: models.Transcript{
			Text:     "John missed every free throw.",
			Segments: []models.TimedText{{StartMs: 1000, EndMs: 6000, Text: "John missed every free throw."}},
		}},
	})

	assert.Equal(t, "Maria drove hard. John missed every free throw. Box out.", got.Text)
	words := make([]string, len(got.Words))
	for i, w := range got.Words {
		words[i] = w.Text
	}
	assert.Equal(t, strings.Fields(got.Text), words)
	assert.Equal(t, models.TimedText{StartMs: 61000, EndMs: 62000, Text: "John"}, got.Words[3])
	assert.Equal(t, models.TimedText{StartMs: 65000, EndMs: 66000, Text: "throw."}, got.Words[7])
	assert.Equal(t, models.TimedText{StartMs: 120000, EndMs: 120000, Text: "Box"}, got.Words[8])
	require.Len(t, got.Segments, 1)
}

func TestMerge_WhenEmpty_ShouldReturnEmptyTranscript(t *testing.T) {
	got := Merge(nil)
	assert.Equal(t, "", got.Text)
	assert.NotNil(t, got.Words)
	assert.Empty(t, got.Words)
}

// --- Cache ---

func TestTranscribe_WhenCached_ShouldNotCallBackendAgain(t *testing.T) {
	svc := &fakeService{}
	m := newTestMerger(svc)
	c := scenarioChunks()[0]

	first, err := m.Transcribe(context.Background(), c)
	require.NoError(t, err)
	second, err := m.Transcribe(context.Background(), c)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), svc.calls.Load())

	m.ClearCache(c.ID)
	_, err = m.Transcribe(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, int32(2), svc.calls.Load())
}

// --- Failures ---

func TestTranscribeSession_WhenOneChunkFails_ShouldAbortWithoutTranscript(t *testing.T) {
	svc := &fakeService{fail: map[string]bool{scenario[1]: true}}
	m := newTestMerger(svc)

	got, err := m.TranscribeSession(context.Background(), scenarioChunks())
	assert.Nil(t, got)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrTranscription))

	// the failing chunk can be retried on its own once the backend recovers
	svc.mu.Lock()
	svc.fail = nil
	svc.mu.Unlock()
	got, err = m.TranscribeSession(context.Background(), scenarioChunks())
	require.NoError(t, err)
	assert.Contains(t, got.Text, "passed well")
}

// --- WhisperClient ---

func TestWhisperClient_ShouldConvertSecondsToMilliseconds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "en", r.FormValue("language"))
		assert.ElementsMatch(t, []string{"word", "segment"}, r.MultipartForm.Value["timestamp_granularities[]"])
		_, _ = w.Write([]byte(`{
			"text": " Good pass.",
			"segments": [{"start": 0.0, "end": 1.25, "text": " Good pass."}],
			"words": [{"word": "Good", "start": 0.0, "end": 0.5}, {"word": "pass.", "start": 0.5, "end": 1.25}]
		}`))
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "key", "whisper-1", "en-US", time.Second)
	got, err := c.Transcribe(context.Background(), []byte("audio"))
	require.NoError(t, err)
	assert.Equal(t, "Good pass.", got.Text)
	assert.Equal(t, []models.TimedText{{StartMs: 0, EndMs: 1250, Text: "Good pass."}}, got.Segments)
	assert.Equal(t, models.TimedText{StartMs: 500, EndMs: 1250, Text: "pass."}, got.Words[1])
}

func TestWhisperClient_WhenBackendErrorsOrAudioEmpty_ShouldReturnErrTranscription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewWhisperClient(srv.URL, "key", "whisper-1", "", time.Second)
	_, err := c.Transcribe(context.Background(), []byte("audio"))
	assert.True(t, errors.Is(err, models.ErrTranscription))

	_, err = c.Transcribe(context.Background(), nil)
	assert.True(t, errors.Is(err, models.ErrTranscription))
}

// --- GoogleSpeech ---

func TestParseRecognizeResponse_ShouldBuildSegmentsFromResults(t *testing.T) {
	resp := &speechpb.LongRunningRecognizeResponse{
		Results: []*speechpb.SpeechRecognitionResult{
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{
					Transcript: "Nice shot",
					Words: []*speechpb.WordInfo{
						{Word: "Nice", StartTime: durationpb.New(100 * time.Millisecond), EndTime: durationpb.New(400 * time.Millisecond)},
						{Word: "shot", StartTime: durationpb.New(400 * time.Millisecond), EndTime: durationpb.New(900 * time.Millisecond)},
					},
				}},
				ResultEndTime: durationpb.New(time.Second),
			},
			{Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: "  "}}},
			{
				Alternatives: []*speechpb.SpeechRecognitionAlternative{{
					Transcript: " Keep going",
					Words: []*speechpb.WordInfo{
						{Word: "Keep", StartTime: durationpb.New(2 * time.Second), EndTime: durationpb.New(2300 * time.Millisecond)},
						{Word: "going", StartTime: durationpb.New(2300 * time.Millisecond), EndTime: durationpb.New(2800 * time.Millisecond)},
					},
				}},
				ResultEndTime: durationpb.New(3 * time.Second),
			},
		},
	}

	got := parseRecognizeResponse(resp)
	assert.Equal(t, "Nice shot Keep going", got.Text)
	require.Len(t, got.Words, 4)
	assert.Equal(t, int64(100), got.Words[0].StartMs)
	assert.Equal(t, []models.TimedText{
		{StartMs: 100, EndMs: 1000, Text: "Nice shot"},
		{StartMs: 2000, EndMs: 3000, Text: "Keep going"},
	}, got.Segments)
}
