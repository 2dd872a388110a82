// Package gcs uploads snapshots to a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Store writes snapshots to one bucket.
type Store struct {
	client *storage.Client
	bucket string
}

// New returns a Store for bucket. The caller owns client.
func New(client *storage.Client, bucket string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{client: client, bucket: bucket}, nil
}

// PutObject uploads r to path and returns a gs:// URI. A failed copy cancels the
// upload so no partial object is committed.
func (s *Store) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	uploadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(path).NewWriter(uploadCtx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		cancel()
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.bucket, path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.bucket, path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}
