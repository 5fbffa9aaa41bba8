// Package redis stores posting entries in Redis.
//
// Each cell is a Redis list of encoded entries at <prefix>cell:<n>. The hash
// <prefix>ids maps an id to its encoded entry so removal can LREM the exact
// list element. Writes are buffered and sent in pipelines of script calls,
// each of which stores one entry atomically.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/hupe1980/visualindex/storage"
)

// DefaultKeyPrefix namespaces all keys written by the backend.
const DefaultKeyPrefix = "visualindex:"

// Options configures the Redis backend.
type Options struct {
	Addr     string
	Password string
	DB       int

	// KeyPrefix namespaces keys. Defaults to DefaultKeyPrefix.
	KeyPrefix string
	// BatchSize is the number of buffered writes that triggers a pipeline
	// flush. Defaults to 128.
	BatchSize int
	// DialTimeout for new connections. Defaults to 5s.
	DialTimeout time.Duration
}

// Backend is a storage.Backend on top of a Redis server.
type Backend struct {
	client    redis.UniversalClient
	ownClient bool
	prefix    string
	batchSize int

	mu      sync.Mutex
	pending []storage.Entry
	closed  bool
}

var _ storage.Backend = (*Backend)(nil)

// Open connects to the server described by opts and verifies it with PING.
func Open(ctx context.Context, opts Options) (*Backend, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		MaxRetries:  1,
	})

	b, err := New(ctx, client, opts)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	b.ownClient = true
	return b, nil
}

// New wraps an existing client. The client is not closed by Close.
func New(ctx context.Context, client redis.UniversalClient, opts Options) (*Backend, error) {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = DefaultKeyPrefix
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 128
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: ping redis: %w", storage.ErrBackend, err)
	}

	return &Backend{
		client:    client,
		prefix:    opts.KeyPrefix,
		batchSize: opts.BatchSize,
	}, nil
}

func (b *Backend) cellKey(cell uint32) string {
	return b.prefix + "cell:" + strconv.FormatUint(uint64(cell), 10)
}

func (b *Backend) idsKey() string {
	return b.prefix + "ids"
}

// putScript appends ARGV[2] to the cell list KEYS[2] and records it for id
// ARGV[1] in the hash KEYS[1]. An older element for the same id in cell list
// KEYS[3] is removed first.
var putScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], ARGV[1])
if old and KEYS[3] then
	redis.call('LREM', KEYS[3], 0, old)
end
redis.call('RPUSH', KEYS[2], ARGV[2])
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// PutEntry buffers e. The buffer is flushed once it reaches BatchSize, on
// Sync, and before any read. If the flush fails to write e, e is dropped
// from the buffer and the error is returned; other failed entries stay
// buffered for the next flush.
func (b *Backend) PutEntry(ctx context.Context, e storage.Entry) error {
	e.Code = append([]byte(nil), e.Code...)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	b.pending = append(b.pending, e)
	if len(b.pending) < b.batchSize {
		return nil
	}

	err := b.flushLocked(ctx)
	if err == nil {
		return nil
	}
	if n := len(b.pending); n > 0 && b.pending[n-1].ID == e.ID && b.pending[n-1].Seq == e.Seq {
		b.pending = b.pending[:n-1]
		return err
	}
	return nil
}

// flushLocked writes every buffered entry with one atomic script call, all
// sent in a single pipeline. Entries whose call failed stay buffered.
//
// An id that already has an element on the server is left over from a write
// whose reply was lost. The script replaces that element, so a retried write
// never leaves two entries for one id.
func (b *Backend) flushLocked(ctx context.Context) error {
	if len(b.pending) == 0 {
		return nil
	}

	ids := make([]string, len(b.pending))
	for i, e := range b.pending {
		ids[i] = e.ID
	}
	stale, err := b.client.HMGet(ctx, b.idsKey(), ids...).Result()
	if err != nil {
		return fmt.Errorf("%w: flush %d entries: %w", storage.ErrBackend, len(b.pending), err)
	}

	cmds := make([]*redis.Cmd, len(b.pending))
	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, e := range b.pending {
			keys := []string{b.idsKey(), b.cellKey(e.Cell)}
			if old, ok := stale[i].(string); ok {
				if prev, _, derr := storage.DecodeEntry([]byte(old)); derr == nil {
					keys = append(keys, b.cellKey(prev.Cell))
				}
			}
			cmds[i] = putScript.Eval(ctx, pipe, keys, e.ID, storage.EncodeEntry(e))
		}
		return nil
	})
	if err == nil {
		b.pending = b.pending[:0]
		return nil
	}

	failed := b.pending[:0]
	for i, e := range b.pending {
		if cmds[i] == nil || cmds[i].Err() != nil {
			failed = append(failed, e)
		}
	}
	err = fmt.Errorf("%w: flush %d of %d entries failed: %w", storage.ErrBackend, len(failed), len(b.pending), err)
	b.pending = failed
	return err
}

func (b *Backend) GetEntries(ctx context.Context, cell uint32) ([]storage.Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, storage.ErrClosed
	}
	if err := b.flushLocked(ctx); err != nil {
		return nil, err
	}

	raw, err := b.client.LRange(ctx, b.cellKey(cell), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: read cell %d: %w", storage.ErrBackend, cell, err)
	}

	out := make([]storage.Entry, 0, len(raw))
	for _, v := range raw {
		e, _, err := storage.DecodeEntry([]byte(v))
		if err != nil {
			return nil, fmt.Errorf("%w: cell %d: %w", storage.ErrBackend, cell, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (b *Backend) RemoveEntries(ctx context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}
	if err := b.flushLocked(ctx); err != nil {
		return err
	}

	values, err := b.client.HMGet(ctx, b.idsKey(), ids...).Result()
	if err != nil {
		return fmt.Errorf("%w: lookup %d ids: %w", storage.ErrBackend, len(ids), err)
	}

	_, err = b.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, v := range values {
			s, ok := v.(string)
			if !ok {
				continue
			}
			e, _, err := storage.DecodeEntry([]byte(s))
			if err != nil {
				return err
			}
			pipe.LRem(ctx, b.cellKey(e.Cell), 1, s)
			pipe.HDel(ctx, b.idsKey(), ids[i])
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: remove %d ids: %w", storage.ErrBackend, len(ids), err)
	}
	return nil
}

// Sync flushes buffered writes. Durability beyond that is the server's
// persistence configuration.
func (b *Backend) Sync(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.ErrClosed
	}
	return b.flushLocked(ctx)
}

// Close flushes buffered writes and closes the client if Open created it.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := b.flushLocked(ctx)
	if b.ownClient {
		err = errors.Join(err, b.client.Close())
	}
	return err
}
