// Package storage defines the persistence contract of the IVFPQ index.
//
// The index keeps its posting lists in memory and writes every mutation
// through to a Backend. A Backend owns durability: writes acknowledged by
// PutEntry must be durable once Sync returns. The index never retries a
// failed call.
package storage

import (
	"context"
	"errors"
)

// ErrBackend wraps every error returned by a Backend implementation.
var ErrBackend = errors.New("storage: backend failure")

// ErrClosed is returned by operations on a closed backend.
var ErrClosed = errors.New("storage: backend closed")

// Entry is one indexed item: its coarse cell, global insertion sequence,
// external id and product-quantized residual code.
type Entry struct {
	Cell uint32
	Seq  uint64
	ID   string
	Code []byte
}

// Backend persists posting entries.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// PutEntry stores e in its cell.
	PutEntry(ctx context.Context, e Entry) error
	// GetEntries returns the entries of a cell in insertion order.
	GetEntries(ctx context.Context, cell uint32) ([]Entry, error)
	// RemoveEntries deletes entries by id. Unknown ids are ignored.
	RemoveEntries(ctx context.Context, ids []string) error
	// Sync flushes acknowledged writes to durable storage.
	Sync(ctx context.Context) error
	// Close releases resources. Further calls return ErrClosed.
	Close() error
}
