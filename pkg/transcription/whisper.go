package transcription

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"session-processor/pkg/models"
)

// WhisperClient calls an OpenAI-compatible /audio/transcriptions endpoint
// asking for word and segment timestamps.
type WhisperClient struct {
	endpoint string
	apiKey   string
	model    string
	language string
	client   *http.Client
}

func NewWhisperClient(endpoint, apiKey, model, language string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

type whisperResponse struct {
	Text     string `json:"text"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
	Words []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Word  string  `json:"word"`
	} `json:"words"`
}

func (w *WhisperClient) Transcribe(ctx context.Context, audio []byte) (*models.Transcript, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio", models.ErrTranscription)
	}

	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	fileWriter, err := writer.CreateFormFile("file", "audio.webm")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	fields := [][2]string{
		{"model", w.model},
		{"response_format", "verbose_json"},
		{"timestamp_granularities[]", "word"},
		{"timestamp_granularities[]", "segment"},
	}
	if lang := whisperLanguage(w.language); lang != "" {
		fields = append(fields, [2]string{"language", lang})
	}
	for _, f := range fields {
		if err := writer.WriteField(f[0], f[1]); err != nil {
			return nil, fmt.Errorf("failed to write field %s: %w", f[0], err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, &requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: API request failed: %v", models.ErrTranscription, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: API error %d: %s", models.ErrTranscription, resp.StatusCode, string(body))
	}

	var parsed whisperResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", models.ErrTranscription, err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return nil, fmt.Errorf("%w: no speech recognized", models.ErrTranscription)
	}

	out := &models.Transcript{
		Text:     strings.TrimSpace(parsed.Text),
		Segments: make([]models.TimedText, 0, len(parsed.Segments)),
		Words:    make([]models.TimedText, 0, len(parsed.Words)),
	}
	for _, s := range parsed.Segments {
		out.Segments = append(out.Segments, models.TimedText{
			StartMs: secToMs(s.Start),
			EndMs:   secToMs(s.End),
			Text:    strings.TrimSpace(s.Text),
		})
	}
	for _, wd := range parsed.Words {
		out.Words = append(out.Words, models.TimedText{
			StartMs: secToMs(wd.Start),
			EndMs:   secToMs(wd.End),
			Text:    strings.TrimSpace(wd.Word),
		})
	}
	return out, nil
}

// whisperLanguage reduces a BCP-47 tag such as "en-US" to the ISO-639-1
// code the endpoint expects.
func whisperLanguage(tag string) string {
	tag = strings.TrimSpace(tag)
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}

func secToMs(s float64) int64 {
	return int64(math.Round(s * 1000))
}
