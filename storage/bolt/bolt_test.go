package bolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/storage"
	"github.com/hupe1980/visualindex/storage/storagetest"
)

func TestBackend(t *testing.T) {
	storagetest.Run(t, func(t *testing.T, dir string) storage.Backend {
		b, err := Open(filepath.Join(dir, "index.db"), Options{})
		require.NoError(t, err)
		return b
	}, storagetest.Suite{})
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "index.db"), Options{})
	assert.ErrorIs(t, err, storage.ErrBackend)
}

func TestSeqOrderAcrossBatches(t *testing.T) {
	ctx := context.Background()
	b, err := Open(filepath.Join(t.TempDir(), "index.db"), Options{SyncEachWrite: true})
	require.NoError(t, err)
	defer b.Close()

	// Keys are big-endian so 256 sorts after 255.
	for _, seq := range []uint64{1, 255, 256, 70000} {
		require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 0, Seq: seq, ID: string(rune('a' + seq%26)), Code: []byte{1}}))
	}

	got, err := b.GetEntries(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, uint64(255), got[1].Seq)
	assert.Equal(t, uint64(256), got[2].Seq)
	assert.Equal(t, uint64(70000), got[3].Seq)
}
