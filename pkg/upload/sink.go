package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"session-processor/pkg/models"

	"github.com/h2non/filetype"
)

const defaultContentType = "application/octet-stream"

// Metadata describes a chunk to the sink. The content type is sniffed from
// the payload's magic bytes.
func Metadata(chunk *models.AudioChunk) models.ChunkMetadata {
	return models.ChunkMetadata{
		ChunkID:       chunk.ID,
		SessionID:     chunk.SessionID,
		SequenceIndex: chunk.SequenceIndex,
		StartOffsetMs: chunk.StartOffsetMs,
		EndOffsetMs:   chunk.EndOffsetMs,
		ContentType:   ContentType(chunk.Payload),
	}
}

func ContentType(payload []byte) string {
	kind, err := filetype.Match(payload)
	if err != nil || kind == filetype.Unknown {
		return defaultContentType
	}
	return kind.MIME.Value
}

func extension(payload []byte) string {
	kind, err := filetype.Match(payload)
	if err != nil || kind == filetype.Unknown {
		return "bin"
	}
	return kind.Extension
}

// HTTPSink posts each chunk as multipart form data: an "audio" file part and
// a "metadata" JSON field.
type HTTPSink struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPSink(endpoint, apiKey string, timeout time.Duration) *HTTPSink {
	return &HTTPSink{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

type httpSinkResponse struct {
	ID       string `json:"id"`
	Location string `json:"location"`
	ETag     string `json:"etag"`
}

func (s *HTTPSink) Put(ctx context.Context, payload []byte, meta models.ChunkMetadata) (*models.Receipt, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := writer.WriteField("metadata", string(metaJSON)); err != nil {
		return nil, fmt.Errorf("failed to write metadata field: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="chunk-%d.%s"`, meta.SequenceIndex, extension(payload)))
	header.Set("Content-Type", meta.ContentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(payload); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: request failed: %v", models.ErrUpload, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d: %s", models.ErrUpload, resp.StatusCode, string(raw))
	}

	receipt := &models.Receipt{ChunkID: meta.ChunkID, Location: s.endpoint, Size: int64(len(payload))}
	var parsed httpSinkResponse
	if len(raw) > 0 && json.Unmarshal(raw, &parsed) == nil {
		if parsed.Location != "" {
			receipt.Location = parsed.Location
		} else if parsed.ID != "" {
			receipt.Location = s.endpoint + "/" + parsed.ID
		}
		receipt.ETag = parsed.ETag
	}
	return receipt, nil
}
