package blobstore

import (
	"context"
	"slices"
	"strings"
	"sync"
)

// MemoryStore keeps blobs in process memory. It records every Put so tests
// can verify which pages a backend rewrites.
type MemoryStore struct {
	mu     sync.RWMutex
	blobs  map[string][]byte
	writes int
	bytes  int64
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

// Open implements BlobStore. Stored slices are never mutated, so the blob
// shares them without copying.
func (m *MemoryStore) Open(_ context.Context, name string) (Blob, error) {
	m.mu.RLock()
	data, ok := m.blobs[name]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return bytesBlob(data), nil
}

// Put implements BlobStore. The data is copied.
func (m *MemoryStore) Put(_ context.Context, name string, data []byte) error {
	stored := slices.Clone(data)
	if stored == nil {
		stored = []byte{}
	}

	m.mu.Lock()
	m.blobs[name] = stored
	m.writes++
	m.bytes += int64(len(stored))
	m.mu.Unlock()
	return nil
}

// Delete implements BlobStore.
func (m *MemoryStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	delete(m.blobs, name)
	m.mu.Unlock()
	return nil
}

// List implements BlobStore.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	names := make([]string, 0, len(m.blobs))
	for name := range m.blobs {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	m.mu.RUnlock()

	slices.Sort(names)
	return names, nil
}

// Writes returns the number of Put calls and the bytes they stored.
func (m *MemoryStore) Writes() (puts int, bytes int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writes, m.bytes
}

// bytesBlob is a Blob over an immutable byte slice.
type bytesBlob []byte

func (b bytesBlob) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return readAt(b, p, off)
}

func (b bytesBlob) Close() error { return nil }

func (b bytesBlob) Size() int64 { return int64(len(b)) }

func (b bytesBlob) Bytes() ([]byte, error) { return b, nil }
