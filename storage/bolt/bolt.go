// Package bolt stores posting entries in a single bbolt file.
//
// Layout: a top-level bucket "cells" holds one nested bucket per cell keyed by
// the big-endian cell number. Inside, entries are keyed by big-endian Seq so a
// cursor walk yields insertion order. The "ids" bucket maps an id to its
// 4-byte cell and 8-byte seq for removal.
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/hupe1980/visualindex/storage"
)

var (
	cellsBucket = []byte("cells")
	idsBucket   = []byte("ids")
)

// Options configures the bbolt backend.
type Options struct {
	// FileMode of a newly created database file. Defaults to 0o600.
	FileMode os.FileMode
	// Timeout waiting for the file lock. Zero waits forever.
	Timeout time.Duration
	// SyncEachWrite fsyncs on every commit instead of only on Sync.
	SyncEachWrite bool
}

// Backend is a storage.Backend on top of bbolt.
type Backend struct {
	db     *bbolt.DB
	closed atomic.Bool
}

var _ storage.Backend = (*Backend)(nil)

// Open opens or creates the database file at path.
func Open(path string, opts Options) (*Backend, error) {
	if opts.FileMode == 0 {
		opts.FileMode = 0o600
	}

	db, err := bbolt.Open(path, opts.FileMode, &bbolt.Options{Timeout: opts.Timeout})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", storage.ErrBackend, path, err)
	}
	db.NoSync = !opts.SyncEachWrite

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(cellsBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(idsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init %s: %w", storage.ErrBackend, path, err)
	}

	return &Backend{db: db}, nil
}

func cellKey(cell uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, cell)
}

func seqKey(seq uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, seq)
}

// PutEntry stores e. Concurrent calls are coalesced into shared transactions.
func (b *Backend) PutEntry(ctx context.Context, e storage.Entry) error {
	if b.closed.Load() {
		return storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	value := storage.EncodeEntry(e)
	ref := binary.BigEndian.AppendUint64(cellKey(e.Cell), e.Seq)

	err := b.db.Batch(func(tx *bbolt.Tx) error {
		cells, err := tx.Bucket(cellsBucket).CreateBucketIfNotExists(cellKey(e.Cell))
		if err != nil {
			return err
		}
		if err := cells.Put(seqKey(e.Seq), value); err != nil {
			return err
		}
		return tx.Bucket(idsBucket).Put([]byte(e.ID), ref)
	})
	if err != nil {
		return fmt.Errorf("%w: put %q: %w", storage.ErrBackend, e.ID, err)
	}
	return nil
}

func (b *Backend) GetEntries(ctx context.Context, cell uint32) ([]storage.Entry, error) {
	if b.closed.Load() {
		return nil, storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []storage.Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(cellsBucket).Bucket(cellKey(cell))
		if bucket == nil {
			return nil
		}
		out = make([]storage.Entry, 0, bucket.Stats().KeyN)
		return bucket.ForEach(func(_, v []byte) error {
			// DecodeEntry copies, values are only valid inside the transaction.
			e, _, err := storage.DecodeEntry(v)
			if err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read cell %d: %w", storage.ErrBackend, cell, err)
	}
	return out, nil
}

func (b *Backend) RemoveEntries(ctx context.Context, ids []string) error {
	if b.closed.Load() {
		return storage.ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		cells := tx.Bucket(cellsBucket)
		idx := tx.Bucket(idsBucket)

		for _, id := range ids {
			ref := idx.Get([]byte(id))
			if len(ref) != 12 {
				continue
			}
			cellBucket := cells.Bucket(ref[:4])
			if cellBucket != nil {
				if err := cellBucket.Delete(ref[4:]); err != nil {
					return err
				}
			}
			if err := idx.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: remove %d ids: %w", storage.ErrBackend, len(ids), err)
	}
	return nil
}

// Sync fsyncs the database file.
func (b *Backend) Sync(context.Context) error {
	if b.closed.Load() {
		return storage.ErrClosed
	}
	if err := b.db.Sync(); err != nil {
		return fmt.Errorf("%w: sync: %w", storage.ErrBackend, err)
	}
	return nil
}

// Close syncs and closes the database file.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	if err := b.db.Sync(); err != nil {
		_ = b.db.Close()
		return fmt.Errorf("%w: sync: %w", storage.ErrBackend, err)
	}
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", storage.ErrBackend, err)
	}
	return nil
}
