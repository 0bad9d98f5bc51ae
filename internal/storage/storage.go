// Package storage provides content blob stores behind engine.BlobStore.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	gcs "cloud.google.com/go/storage"
)

// Memory keeps blobs in a map. Used in tests and single-process runs.
type Memory struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string
}

// NewMemory builds an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		blobs: make(map[string][]byte),
		types: make(map[string]string),
	}
}

// PutObject stores the blob and returns a mem:// URI.
func (m *Memory) PutObject(_ context.Context, path, contentType string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	m.blobs[path] = cp
	m.types[path] = contentType
	return "mem://" + path, nil
}

// GetObject returns a stored blob, for tests and the local API surface.
func (m *Memory) GetObject(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[path]
	return data, ok
}

// Len returns the number of stored blobs.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

// Local writes blobs under a base directory.
type Local struct {
	baseDir string
}

// NewLocal builds a store rooted at baseDir.
func NewLocal(baseDir string) *Local {
	return &Local{baseDir: baseDir}
}

// PutObject writes the blob to disk and returns a file:// URI.
func (l *Local) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	full := filepath.Join(l.baseDir, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o600); err != nil {
		return "", fmt.Errorf("write blob %s: %w", path, err)
	}
	return "file://" + full, nil
}

// GCS writes blobs to a Cloud Storage bucket.
type GCS struct {
	bucket *gcs.BucketHandle
	name   string
}

// NewGCS wraps an existing client for the named bucket.
func NewGCS(client *gcs.Client, bucket string) *GCS {
	return &GCS{bucket: client.Bucket(bucket), name: bucket}
}

// PutObject uploads the blob and returns its gs:// URI.
func (g *GCS) PutObject(ctx context.Context, path, contentType string, data []byte) (string, error) {
	w := g.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gcs object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gcs object %s: %w", path, err)
	}
	return fmt.Sprintf("gs://%s/%s", g.name, path), nil
}
