package quantization

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/testutil"
)

func TestCoarseQuantizerNearest(t *testing.T) {
	cq, err := NewCoarseQuantizer(2, []float32{
		0, 0,
		10, 0,
		0, 10,
		10, 10,
	})
	require.NoError(t, err)
	assert.Equal(t, 4, cq.NumCells())

	cell, d, err := cq.Nearest([]float32{9, 1})
	require.NoError(t, err)
	assert.Equal(t, 1, cell)
	assert.Equal(t, float32(2), d)

	// Equidistant from all four cells: the lowest id wins.
	cell, _, err = cq.Nearest([]float32{5, 5})
	require.NoError(t, err)
	assert.Equal(t, 0, cell)
}

func TestCoarseQuantizerNearestN(t *testing.T) {
	cq, err := NewCoarseQuantizer(1, []float32{0, 4, 1, 9, 4})
	require.NoError(t, err)

	cells, err := cq.NearestN([]float32{3}, 3)
	require.NoError(t, err)
	// Distances: 9, 1, 4, 36, 1 → cells 1 and 4 tie, lowest first.
	assert.Equal(t, []int{1, 4, 2}, cells)

	cells, err = cq.NearestN([]float32{3}, 100)
	require.NoError(t, err)
	assert.Len(t, cells, 5)

	cells, err = cq.NearestN([]float32{3}, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, cells)

	_, err = cq.NearestN([]float32{1, 2}, 1)
	assert.Error(t, err)
}

func TestCoarseQuantizerResidual(t *testing.T) {
	cq, err := NewCoarseQuantizer(2, []float32{1, 1, 5, 5})
	require.NoError(t, err)

	dst := make([]float32, 2)
	cq.Residual(dst, []float32{6, 4}, 1)
	assert.Equal(t, []float32{1, -1}, dst)
}

func TestTrainCoarseQuantizer(t *testing.T) {
	rng := testutil.NewRNG(5)
	vecs := rng.ClusteredVectors(400, 8, 4, 0.01)

	cq, err := TrainCoarseQuantizer(context.Background(), testutil.Flatten(vecs), 8, 4, TrainOptions{Seed: 1})
	require.NoError(t, err)

	// Vectors generated around the same centre land in the same cell.
	for i := 4; i < len(vecs); i++ {
		a, _, _ := cq.Nearest(vecs[i])
		b, _, _ := cq.Nearest(vecs[i%4])
		assert.Equal(t, b, a)
	}
}

func TestCoarseQuantizerFileRoundTrip(t *testing.T) {
	cq, err := NewCoarseQuantizer(3, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteCoarseQuantizer(&buf, cq))
	path := filepath.Join(t.TempDir(), "coarse.bin")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := LoadCoarseQuantizer(path)
	require.NoError(t, err)
	assert.True(t, cq.Equal(loaded))

	csv := filepath.Join(t.TempDir(), "coarse.csv")
	require.NoError(t, os.WriteFile(csv, []byte("1,2,3\n4,5,6\n"), 0o600))
	loaded, err = LoadCoarseQuantizer(csv)
	require.NoError(t, err)
	assert.True(t, cq.Equal(loaded))
}

func TestNewCoarseQuantizerInvalid(t *testing.T) {
	_, err := NewCoarseQuantizer(3, []float32{1, 2})
	assert.ErrorIs(t, err, ErrInvalidParameter)
	_, err = NewCoarseQuantizer(0, []float32{1})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}
