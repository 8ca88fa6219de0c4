package upload

import (
	"context"
	"fmt"
	"path"

	"session-processor/pkg/models"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSSink writes each chunk to <prefix>/<session>/<index>-<chunk>.<ext> in a
// Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCSSink(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCSSink, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *GCSSink) ObjectName(payload []byte, meta models.ChunkMetadata) string {
	name := fmt.Sprintf("%06d-%s.%s", meta.SequenceIndex, meta.ChunkID, extension(payload))
	return path.Join(s.prefix, meta.SessionID, name)
}

func (s *GCSSink) Put(ctx context.Context, payload []byte, meta models.ChunkMetadata) (*models.Receipt, error) {
	obj := s.client.Bucket(s.bucket).Object(s.ObjectName(payload, meta))

	w := obj.NewWriter(ctx)
	w.ContentType = meta.ContentType
	w.Metadata = map[string]string{
		"chunk_id":   meta.ChunkID,
		"session_id": meta.SessionID,
		"index":      fmt.Sprint(meta.SequenceIndex),
		"start_time": fmt.Sprint(meta.StartOffsetMs),
		"end_time":   fmt.Sprint(meta.EndOffsetMs),
	}
	if _, err := w.Write(payload); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("%w: write gs://%s/%s: %v", models.ErrUpload, s.bucket, obj.ObjectName(), err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: finalize gs://%s/%s: %v", models.ErrUpload, s.bucket, obj.ObjectName(), err)
	}

	attrs := w.Attrs()
	receipt := &models.Receipt{
		ChunkID:  meta.ChunkID,
		Location: fmt.Sprintf("gs://%s/%s", s.bucket, obj.ObjectName()),
		Size:     int64(len(payload)),
	}
	if attrs != nil {
		receipt.ETag = attrs.Etag
		receipt.Size = attrs.Size
	}
	return receipt, nil
}

func (s *GCSSink) Close() error {
	return s.client.Close()
}
