package blob

import (
	"context"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Store persists opaque byte blobs and returns a stable reference.
type Store interface {
	Put(ctx context.Context, data []byte, contentType string) (string, error)
	Close() error
}

// GCSStore implements Store on a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS-backed store. Credentials come from the ambient
// environment (service account / GOOGLE_APPLICATION_CREDENTIALS).
func NewGCS(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	if bucket == "" {
		return nil, eris.New("blob: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "blob: create gcs client")
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix}, nil
}

// Put uploads the blob under a fresh object name and returns a gs:// ref.
func (s *GCSStore) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	name := uuid.New().String()
	if s.prefix != "" {
		name = s.prefix + "/" + name
	}

	wc := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := wc.Write(data); err != nil {
		return "", eris.Wrap(err, "blob: write object")
	}
	if err := wc.Close(); err != nil {
		return "", eris.Wrap(err, "blob: close writer")
	}

	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

// MemStore is an in-memory Store for tests and local development.
type MemStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMem creates an empty in-memory store.
func NewMem() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

func (s *MemStore) Put(_ context.Context, data []byte, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := "mem://" + uuid.New().String()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[ref] = cp
	return ref, nil
}

// Get returns a stored blob; test helper.
func (s *MemStore) Get(ref string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blobs[ref]
	return b, ok
}

// Len reports the number of stored blobs; test helper.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

func (s *MemStore) Close() error { return nil }
