// Package storagetest provides a conformance suite for storage.Backend
// implementations.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/storage"
)

// Factory opens a backend rooted at dir. Opening the same dir twice must
// return backends over the same data. Backends that keep nothing on disk may
// ignore dir and set Suite.NoReopen.
type Factory func(t *testing.T, dir string) storage.Backend

// Suite configures Run.
type Suite struct {
	// NoReopen skips the durability checks across Close and reopen.
	NoReopen bool
}

// Run executes the conformance suite against backends produced by open.
func Run(t *testing.T, open Factory, s Suite) {
	t.Helper()

	t.Run("PutGet", func(t *testing.T) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		want := []storage.Entry{
			{Cell: 1, Seq: 0, ID: "a", Code: []byte{1, 2}},
			{Cell: 1, Seq: 2, ID: "c", Code: []byte{5, 6}},
			{Cell: 1, Seq: 5, ID: "f", Code: []byte{7, 8}},
		}
		require.NoError(t, b.PutEntry(ctx, want[0]))
		require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 2, Seq: 1, ID: "b", Code: []byte{3, 4}}))
		require.NoError(t, b.PutEntry(ctx, want[1]))
		require.NoError(t, b.PutEntry(ctx, want[2]))

		got, err := b.GetEntries(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, want, got)

		empty, err := b.GetEntries(ctx, 99)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("Remove", func(t *testing.T) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		for i := 0; i < 6; i++ {
			require.NoError(t, b.PutEntry(ctx, storage.Entry{
				Cell: uint32(i % 2),
				Seq:  uint64(i),
				ID:   fmt.Sprintf("id-%d", i),
				Code: []byte{byte(i)},
			}))
		}

		require.NoError(t, b.RemoveEntries(ctx, []string{"id-0", "id-3", "unknown"}))

		even, err := b.GetEntries(ctx, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{"id-2", "id-4"}, ids(even))

		odd, err := b.GetEntries(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"id-1", "id-5"}, ids(odd))

		require.NoError(t, b.RemoveEntries(ctx, nil))
	})

	t.Run("Concurrent", func(t *testing.T) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		defer b.Close()

		const writers, perWriter = 4, 25
		var wg sync.WaitGroup
		for w := 0; w < writers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					seq := uint64(w*perWriter + i)
					assert.NoError(t, b.PutEntry(ctx, storage.Entry{
						Cell: uint32(w),
						Seq:  seq,
						ID:   fmt.Sprintf("w%d-%d", w, i),
						Code: []byte{byte(w), byte(i)},
					}))
				}
			}(w)
		}
		wg.Wait()
		require.NoError(t, b.Sync(ctx))

		for w := 0; w < writers; w++ {
			got, err := b.GetEntries(ctx, uint32(w))
			require.NoError(t, err)
			require.Len(t, got, perWriter)
			for i, e := range got {
				assert.Equal(t, uint64(w*perWriter+i), e.Seq)
			}
		}
	})

	t.Run("Closed", func(t *testing.T) {
		ctx := context.Background()
		b := open(t, t.TempDir())
		require.NoError(t, b.Close())

		assert.ErrorIs(t, b.PutEntry(ctx, storage.Entry{ID: "x"}), storage.ErrClosed)
		_, err := b.GetEntries(ctx, 0)
		assert.ErrorIs(t, err, storage.ErrClosed)
		assert.ErrorIs(t, b.Sync(ctx), storage.ErrClosed)
	})

	if s.NoReopen {
		return
	}

	t.Run("Reopen", func(t *testing.T) {
		ctx := context.Background()
		dir := t.TempDir()
		b := open(t, dir)
		require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 3, Seq: 10, ID: "kept", Code: []byte{1}}))
		require.NoError(t, b.PutEntry(ctx, storage.Entry{Cell: 3, Seq: 11, ID: "gone", Code: []byte{2}}))
		require.NoError(t, b.RemoveEntries(ctx, []string{"gone"}))
		require.NoError(t, b.Sync(ctx))
		require.NoError(t, b.Close())

		b = open(t, dir)
		defer b.Close()

		got, err := b.GetEntries(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, []storage.Entry{{Cell: 3, Seq: 10, ID: "kept", Code: []byte{1}}}, got)

		require.NoError(t, b.RemoveEntries(ctx, []string{"kept"}))
		got, err = b.GetEntries(ctx, 3)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func ids(entries []storage.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
