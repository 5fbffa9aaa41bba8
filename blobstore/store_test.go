package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store BlobStore) {
	ctx := context.Background()

	_, err := store.Open(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	data := []byte("hello world, this is a test page")
	require.NoError(t, store.Put(ctx, "pages/cell-1.page", data))
	require.NoError(t, store.Put(ctx, "pages/cell-2.page", []byte("two")))
	require.NoError(t, store.Put(ctx, "model/pca.txt", []byte("pca")))

	blob, err := store.Open(ctx, "pages/cell-1.page")
	require.NoError(t, err)
	defer blob.Close()

	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err := blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	tail := make([]byte, 10)
	n, err = blob.ReadAt(ctx, tail, int64(len(data)-4))
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "page", string(tail[:n]))

	_, err = blob.ReadAt(ctx, buf, int64(len(data)))
	assert.ErrorIs(t, err, io.EOF)

	all, err := ReadAll(ctx, store, "pages/cell-1.page")
	require.NoError(t, err)
	assert.Equal(t, data, all)

	// Put replaces.
	require.NoError(t, store.Put(ctx, "pages/cell-2.page", []byte("second")))
	all, err = ReadAll(ctx, store, "pages/cell-2.page")
	require.NoError(t, err)
	assert.Equal(t, "second", string(all))

	names, err := store.List(ctx, "pages/")
	require.NoError(t, err)
	assert.Equal(t, []string{"pages/cell-1.page", "pages/cell-2.page"}, names)

	names, err = store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"model/pca.txt", "pages/cell-1.page", "pages/cell-2.page"}, names)

	require.NoError(t, store.Delete(ctx, "pages/cell-2.page"))
	require.NoError(t, store.Delete(ctx, "pages/cell-2.page"))
	_, err = ReadAll(ctx, store, "pages/cell-2.page")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Put(ctx, "empty", nil))
	all, err = ReadAll(ctx, store, "empty")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMemoryStore(t *testing.T) {
	testStore(t, NewMemoryStore())
}

func TestMemoryStore_PutCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	data := []byte("abc")
	require.NoError(t, store.Put(ctx, "x", data))
	data[0] = 'z'

	got, err := ReadAll(ctx, store, "x")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))

	require.NoError(t, store.Put(ctx, "y", nil))
	puts, bytes := store.Writes()
	assert.Equal(t, 2, puts)
	assert.Equal(t, int64(3), bytes)
}

func TestLocalStore(t *testing.T) {
	testStore(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_Layout(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStore(root)

	require.NoError(t, store.Put(ctx, "a/b/c.bin", []byte{1, 2, 3}))

	raw, err := os.ReadFile(filepath.Join(root, "a", "b", "c.bin"))
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)

	// No temporary files are left behind.
	entries, err := os.ReadDir(filepath.Join(root, "a", "b"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	blob, err := store.Open(ctx, "a/b/c.bin")
	require.NoError(t, err)
	m, ok := blob.(Mappable)
	require.True(t, ok)
	b, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)
	require.NoError(t, blob.Close())
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "nope"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}
