// Package memory provides an in-memory BlobStore for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ahandley/textline/internal/ports"
)

// Store keeps uploaded assets in a map keyed by their returned URL.
type Store struct {
	mu      sync.Mutex
	objects map[string][]byte

	// FailUploads makes Upload return an error when set.
	FailUploads bool

	// FailDeletes makes Delete return an error when set.
	FailDeletes bool
}

var _ ports.BlobStore = (*Store)(nil)

// New creates an empty Store.
func New() *Store {
	return &Store{objects: make(map[string][]byte)}
}

func (s *Store) Upload(ctx context.Context, data []byte, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUploads {
		return "", fmt.Errorf("upload %s: store unavailable", path)
	}
	url := "mem://" + path
	buf := make([]byte, len(data))
	copy(buf, data)
	s.objects[url] = buf
	return url, nil
}

func (s *Store) Delete(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailDeletes {
		return fmt.Errorf("delete %s: store unavailable", url)
	}
	delete(s.objects, url)
	return nil
}

// Get returns the stored bytes for url and whether it exists.
func (s *Store) Get(url string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.objects[url]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// Len returns the number of stored assets.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}
