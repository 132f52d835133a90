// Package gcs stores workflow assets in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/ahandley/textline/internal/ports"
)

// Store is a BlobStore backed by one GCS bucket.
type Store struct {
	client *storage.Client
	bucket string
}

var _ ports.BlobStore = (*Store)(nil)

// New creates a Store. Credentials come from the environment.
func New(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs: bucket required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Upload writes data to path and returns its gs:// URL.
func (s *Store) Upload(ctx context.Context, data []byte, path string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(path).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", fmt.Errorf("gcs write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs write %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, path), nil
}

// Delete removes the object behind a gs:// URL previously returned by
// Upload. Deleting an absent object is not an error.
func (s *Store) Delete(ctx context.Context, url string) error {
	object, err := s.objectFromURL(url)
	if err != nil {
		return err
	}
	if err := s.client.Bucket(s.bucket).Object(object).Delete(ctx); err != nil {
		if err == storage.ErrObjectNotExist {
			return nil
		}
		return fmt.Errorf("gcs delete %s: %w", object, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) objectFromURL(url string) (string, error) {
	prefix := "gs://" + s.bucket + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", fmt.Errorf("gcs: %q is not in bucket %s", url, s.bucket)
	}
	return strings.TrimPrefix(url, prefix), nil
}
