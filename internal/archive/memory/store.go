// Package memory keeps snapshots in process memory.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Snapshot is one stored object.
type Snapshot struct {
	ContentType string
	Body        []byte
}

// Store holds snapshots keyed by path.
type Store struct {
	mu    sync.RWMutex
	items map[string]Snapshot
}

// New creates an empty Store.
func New() *Store {
	return &Store{items: make(map[string]Snapshot)}
}

// PutObject copies the content and returns a memory:// URI.
func (s *Store) PutObject(_ context.Context, path string, contentType string, r io.Reader) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read snapshot: %w", err)
	}
	s.mu.Lock()
	s.items[path] = Snapshot{ContentType: contentType, Body: body}
	s.mu.Unlock()
	return "memory://" + path, nil
}
