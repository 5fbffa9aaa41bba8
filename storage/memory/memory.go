// Package memory provides an in-process storage.Backend.
package memory

import (
	"context"
	"sync"

	"github.com/hupe1980/visualindex/storage"
)

// Backend keeps entries in memory. Nothing survives Close.
type Backend struct {
	mu     sync.RWMutex
	cells  map[uint32][]storage.Entry
	ids    map[string]uint32
	closed bool
}

var _ storage.Backend = (*Backend)(nil)

// New returns an empty in-memory backend.
func New() *Backend {
	return &Backend{
		cells: make(map[uint32][]storage.Entry),
		ids:   make(map[string]uint32),
	}
}

func (b *Backend) PutEntry(_ context.Context, e storage.Entry) error {
	e.Code = append([]byte(nil), e.Code...)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	b.cells[e.Cell] = append(b.cells[e.Cell], e)
	b.ids[e.ID] = e.Cell
	return nil
}

func (b *Backend) GetEntries(_ context.Context, cell uint32) ([]storage.Entry, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrClosed
	}
	src := b.cells[cell]
	out := make([]storage.Entry, len(src))
	for i, e := range src {
		e.Code = append([]byte(nil), e.Code...)
		out[i] = e
	}
	return out, nil
}

func (b *Backend) RemoveEntries(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}

	byCell := make(map[uint32]map[string]struct{})
	for _, id := range ids {
		cell, ok := b.ids[id]
		if !ok {
			continue
		}
		delete(b.ids, id)
		if byCell[cell] == nil {
			byCell[cell] = make(map[string]struct{})
		}
		byCell[cell][id] = struct{}{}
	}

	for cell, drop := range byCell {
		kept := b.cells[cell][:0]
		for _, e := range b.cells[cell] {
			if _, ok := drop[e.ID]; !ok {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(b.cells, cell)
			continue
		}
		b.cells[cell] = kept
	}
	return nil
}

func (b *Backend) Sync(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return storage.ErrClosed
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cells = nil
	b.ids = nil
	return nil
}
