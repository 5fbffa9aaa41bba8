// Package blob keeps posting lists in memory and persists them as one
// compressed page per cell in a blobstore.BlobStore.
//
// Pages are written on Sync only, so acknowledged writes between two syncs
// are lost on a crash. All pages are loaded when the backend is opened.
package blob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/hupe1980/visualindex/blobstore"
	"github.com/hupe1980/visualindex/internal/pagecodec"
	"github.com/hupe1980/visualindex/storage"
)

// Options configures the blob backend.
type Options struct {
	// Prefix of page names in the store. Defaults to "pages/".
	Prefix string
	// Compression of new pages: "zstd" (default), "lz4" or "none".
	// Existing pages are read whatever codec wrote them.
	Compression string
}

// Backend is a storage.Backend on top of a blob store.
type Backend struct {
	store  blobstore.BlobStore
	prefix string
	codec  pagecodec.Codec

	mu     sync.Mutex
	cells  map[uint32][]storage.Entry
	ids    map[string]uint32
	dirty  map[uint32]struct{}
	closed bool

	// syncMu serializes page uploads without blocking writers.
	syncMu sync.Mutex
}

var _ storage.Backend = (*Backend)(nil)

// Open loads every page under the prefix from store.
func Open(ctx context.Context, store blobstore.BlobStore, opts Options) (*Backend, error) {
	if opts.Prefix == "" {
		opts.Prefix = "pages/"
	}
	if opts.Compression == "" {
		opts.Compression = "zstd"
	}
	codec, err := pagecodec.ParseCodec(opts.Compression)
	if err != nil {
		return nil, err
	}

	b := &Backend{
		store:  store,
		prefix: opts.Prefix,
		codec:  codec,
		cells:  make(map[uint32][]storage.Entry),
		ids:    make(map[string]uint32),
		dirty:  make(map[uint32]struct{}),
	}

	names, err := store.List(ctx, opts.Prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list pages: %w", storage.ErrBackend, err)
	}
	for _, name := range names {
		cell, ok := b.parsePageName(name)
		if !ok {
			continue
		}
		if err := b.loadPage(ctx, name, cell); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) pageName(cell uint32) string {
	return fmt.Sprintf("%scell-%010d.page", b.prefix, cell)
}

func (b *Backend) parsePageName(name string) (uint32, bool) {
	s, ok := strings.CutPrefix(name, b.prefix+"cell-")
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, ".page")
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(n), true
}

func (b *Backend) loadPage(ctx context.Context, name string, cell uint32) error {
	page, err := blobstore.ReadAll(ctx, b.store, name)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", storage.ErrBackend, name, err)
	}
	raw, err := pagecodec.Decode(page)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", storage.ErrBackend, name, err)
	}
	entries, err := storage.DecodeEntries(raw)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", storage.ErrBackend, name, err)
	}
	for _, e := range entries {
		if e.Cell != cell {
			return fmt.Errorf("%w: %s holds an entry of cell %d", storage.ErrBackend, name, e.Cell)
		}
		b.ids[e.ID] = cell
	}
	b.cells[cell] = entries
	return nil
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
	b.dirty[e.Cell] = struct{}{}
	return nil
}

func (b *Backend) GetEntries(_ context.Context, cell uint32) ([]storage.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

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

	drop := make(map[string]struct{}, len(ids))
	touched := make(map[uint32]struct{})
	for _, id := range ids {
		cell, ok := b.ids[id]
		if !ok {
			continue
		}
		delete(b.ids, id)
		drop[id] = struct{}{}
		touched[cell] = struct{}{}
	}

	for cell := range touched {
		kept := make([]storage.Entry, 0, len(b.cells[cell]))
		for _, e := range b.cells[cell] {
			if _, ok := drop[e.ID]; !ok {
				kept = append(kept, e)
			}
		}
		b.cells[cell] = kept
		b.dirty[cell] = struct{}{}
	}
	return nil
}

type pendingPage struct {
	cell uint32
	data []byte // nil deletes the page
}

// Sync writes every cell changed since the last successful Sync. Cells whose
// upload fails stay dirty for the next attempt.
func (b *Backend) Sync(ctx context.Context) error {
	b.syncMu.Lock()
	defer b.syncMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return storage.ErrClosed
	}
	pages, err := b.snapshotLocked()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	return b.writePages(ctx, pages)
}

func (b *Backend) snapshotLocked() ([]pendingPage, error) {
	pages := make([]pendingPage, 0, len(b.dirty))
	for cell := range b.dirty {
		entries := b.cells[cell]
		if len(entries) == 0 {
			delete(b.cells, cell)
			pages = append(pages, pendingPage{cell: cell})
			continue
		}
		var raw []byte
		for _, e := range entries {
			raw = storage.AppendEntry(raw, e)
		}
		page, err := pagecodec.Encode(raw, b.codec)
		if err != nil {
			return nil, fmt.Errorf("%w: encode cell %d: %w", storage.ErrBackend, cell, err)
		}
		pages = append(pages, pendingPage{cell: cell, data: page})
	}
	clear(b.dirty)
	return pages, nil
}

func (b *Backend) writePages(ctx context.Context, pages []pendingPage) error {
	var errs []error
	for i, p := range pages {
		var err error
		if p.data == nil {
			err = b.store.Delete(ctx, b.pageName(p.cell))
		} else {
			err = b.store.Put(ctx, b.pageName(p.cell), p.data)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("cell %d: %w", p.cell, err))
			b.mu.Lock()
			b.dirty[p.cell] = struct{}{}
			b.mu.Unlock()
		}
		if ctx.Err() != nil {
			b.mu.Lock()
			for _, rest := range pages[i+1:] {
				b.dirty[rest.cell] = struct{}{}
			}
			b.mu.Unlock()
			errs = append(errs, ctx.Err())
			break
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: sync: %w", storage.ErrBackend, errors.Join(errs...))
	}
	return nil
}

// Close writes pending pages and releases memory.
func (b *Backend) Close() error {
	b.syncMu.Lock()
	defer b.syncMu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	pages, err := b.snapshotLocked()
	b.cells = nil
	b.ids = nil
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return b.writePages(context.Background(), pages)
}
