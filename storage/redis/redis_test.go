package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/storage"
	"github.com/hupe1980/visualindex/storage/storagetest"
)

// prefixFor gives every test directory its own key namespace, so a reopen of
// the same directory sees its own data.
func prefixFor(dir string) string {
	sum := sha256.Sum256([]byte(dir))
	return "visualindex-test:" + hex.EncodeToString(sum[:8]) + ":"
}

func suiteFactory(addr string) storagetest.Factory {
	return func(t *testing.T, dir string) storage.Backend {
		b, err := Open(context.Background(), Options{
			Addr:      addr,
			KeyPrefix: prefixFor(dir),
			BatchSize: 7,
		})
		require.NoError(t, err)
		return b
	}
}

func openMini(t *testing.T, batchSize int) (*miniredis.Miniredis, *Backend) {
	t.Helper()
	mr := miniredis.RunT(t)
	b, err := Open(context.Background(), Options{Addr: mr.Addr(), BatchSize: batchSize})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return mr, b
}

func TestKeys(t *testing.T) {
	b := &Backend{prefix: "p:"}
	assert.Equal(t, "p:cell:0", b.cellKey(0))
	assert.Equal(t, "p:cell:4294967295", b.cellKey(^uint32(0)))
	assert.Equal(t, "p:ids", b.idsKey())
}

func TestOpenUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := Open(ctx, Options{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	assert.ErrorIs(t, err, storage.ErrBackend)
}

func TestBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	storagetest.Run(t, suiteFactory(mr.Addr()), storagetest.Suite{})
}

func TestFailedFlushDropsEntry(t *testing.T) {
	ctx := context.Background()
	mr, b := openMini(t, 1)

	mr.SetError("ERR server unavailable")
	err := b.PutEntry(ctx, storage.Entry{Cell: 0, Seq: 0, ID: "a", Code: []byte{1}})
	assert.ErrorIs(t, err, storage.ErrBackend)
	mr.SetError("")

	require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 0, Seq: 1, ID: "a", Code: []byte{2}}))
	require.NoError(t, b.Sync(ctx))

	got, err := b.GetEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq)
}

func TestFailedFlushKeepsAcknowledgedEntries(t *testing.T) {
	ctx := context.Background()
	mr, b := openMini(t, 3)

	require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 0, Seq: 0, ID: "x", Code: []byte{1}}))
	require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 1, Seq: 1, ID: "y", Code: []byte{2}}))

	mr.SetError("ERR server unavailable")
	err := b.PutEntry(ctx, storage.Entry{Cell: 0, Seq: 2, ID: "z", Code: []byte{3}})
	assert.ErrorIs(t, err, storage.ErrBackend)
	assert.ErrorIs(t, b.Sync(ctx), storage.ErrBackend)
	mr.SetError("")

	require.NoError(t, b.Sync(ctx))

	cell0, err := b.GetEntries(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []storage.Entry{{Cell: 0, Seq: 0, ID: "x", Code: []byte{1}}}, cell0)

	cell1, err := b.GetEntries(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, cell1, 1)
}

func TestRewriteReplacesOrphan(t *testing.T) {
	ctx := context.Background()
	mr, b := openMini(t, 1)

	// An entry whose write reached the server although the caller saw an error.
	require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 2, Seq: 0, ID: "a", Code: []byte{1}}))
	require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 0, Seq: 1, ID: "a", Code: []byte{2}}))
	require.NoError(t, b.Sync(ctx))

	old, err := b.GetEntries(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, old)

	got, err := b.GetEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(1), got[0].Seq)

	ids, err := mr.HKeys(DefaultKeyPrefix + "ids")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestClosed(t *testing.T) {
	ctx := context.Background()
	_, b := openMini(t, 4)

	require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 0, Seq: 0, ID: "a", Code: []byte{1}}))
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.PutEntry(ctx, storage.Entry{ID: "b"}), storage.ErrClosed)
	_, err := b.GetEntries(ctx, 0)
	assert.ErrorIs(t, err, storage.ErrClosed)
	assert.ErrorIs(t, b.Sync(ctx), storage.ErrClosed)
}

// TestLiveBackend runs the suite against a real server, e.g.
// VISUALINDEX_REDIS_ADDR=localhost:6379 go test ./storage/redis/...
func TestLiveBackend(t *testing.T) {
	addr := os.Getenv("VISUALINDEX_REDIS_ADDR")
	if addr == "" {
		t.Skip("VISUALINDEX_REDIS_ADDR not set")
	}
	storagetest.Run(t, suiteFactory(addr), storagetest.Suite{})
}
