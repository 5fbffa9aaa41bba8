package vlad

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/testutil"
)

func TestAggregateHandComputed(t *testing.T) {
	cb, err := NewCodebook(2, []float32{
		0, 0,
		10, 10,
	})
	require.NoError(t, err)

	agg, err := NewAggregator([]*Codebook{cb})
	require.NoError(t, err)
	assert.Equal(t, 4, agg.Length())

	v, err := agg.Aggregate([][]float32{{1, 1}, {1, 1}, {9, 9}})
	require.NoError(t, err)
	// Slot 0: (1,1)+(1,1). Slot 1: (9,9)-(10,10).
	assert.Equal(t, []float32{2, 2, -1, -1}, v)
}

func TestAggregateTieLowestIndex(t *testing.T) {
	cb, err := NewCodebook(1, []float32{0, 2})
	require.NoError(t, err)
	agg, err := NewAggregator([]*Codebook{cb})
	require.NoError(t, err)

	v, err := agg.Aggregate([][]float32{{1}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
}

func TestAggregateMultipleCodebooks(t *testing.T) {
	a, err := NewCodebook(2, []float32{0, 0, 10, 10})
	require.NoError(t, err)
	b, err := NewCodebook(2, []float32{5, 5})
	require.NoError(t, err)

	agg, err := NewAggregator([]*Codebook{a, b})
	require.NoError(t, err)
	assert.Equal(t, 6, agg.Length())

	v, err := agg.Aggregate([][]float32{{1, 1}, {9, 9}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 1, -1, -1, 0, 0}, v)
}

func TestAggregateZeroDescriptors(t *testing.T) {
	cb, err := NewCodebook(4, testutil.Flatten(testutil.NewRNG(1).UniformVectors(8, 4)))
	require.NoError(t, err)

	for _, opts := range [][]Option{nil, {WithL2Normalization(), WithPowerNormalization(0.5)}} {
		agg, err := NewAggregator([]*Codebook{cb}, opts...)
		require.NoError(t, err)

		v, err := agg.Aggregate(nil)
		require.NoError(t, err)
		assert.Len(t, v, 32)
		for _, x := range v {
			assert.Zero(t, x)
		}
	}
}

func TestAggregateDeterministic(t *testing.T) {
	rng := testutil.NewRNG(3)
	cb, err := NewCodebook(16, testutil.Flatten(rng.UniformVectors(32, 16)))
	require.NoError(t, err)
	agg, err := NewAggregator([]*Codebook{cb}, WithPowerNormalization(0.5), WithL2Normalization())
	require.NoError(t, err)

	descs := rng.GaussianVectors(500, 16)
	a, err := agg.Aggregate(descs)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		b, err := agg.Aggregate(descs)
		require.NoError(t, err)
		for j := range a {
			require.Equal(t, math.Float32bits(a[j]), math.Float32bits(b[j]))
		}
	}
}

func TestAggregateNormalization(t *testing.T) {
	cb, err := NewCodebook(2, []float32{0, 0, 10, 10})
	require.NoError(t, err)
	agg, err := NewAggregator([]*Codebook{cb}, WithPowerNormalization(0.5), WithL2Normalization())
	require.NoError(t, err)

	v, err := agg.Aggregate([][]float32{{4, 4}, {1, 1}})
	require.NoError(t, err)

	// Raw block (5,5,0,0) → power (√5,√5,0,0) → L2 (1/√2,1/√2,0,0).
	assert.InDelta(t, 1/math.Sqrt2, v[0], 1e-6)
	assert.InDelta(t, 1/math.Sqrt2, v[1], 1e-6)
	assert.Zero(t, v[2])
	assert.Zero(t, v[3])
}

func TestAggregateDimensionMismatch(t *testing.T) {
	cb, err := NewCodebook(2, []float32{0, 0})
	require.NoError(t, err)
	agg, err := NewAggregator([]*Codebook{cb})
	require.NoError(t, err)

	_, err = agg.Aggregate([][]float32{{1, 2, 3}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	other, err := NewCodebook(3, []float32{0, 0, 0})
	require.NoError(t, err)
	_, err = NewAggregator([]*Codebook{cb, other})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestCodebookInvalid(t *testing.T) {
	_, err := NewCodebook(3, []float32{1, 2})
	assert.ErrorIs(t, err, ErrInvalidCodebook)
	_, err = NewCodebook(2, nil)
	assert.ErrorIs(t, err, ErrInvalidCodebook)
	_, err = NewAggregator(nil)
	assert.ErrorIs(t, err, ErrInvalidCodebook)
}

func TestLoadCodebook(t *testing.T) {
	dir := t.TempDir()

	csv := filepath.Join(dir, "codebook.csv")
	require.NoError(t, os.WriteFile(csv, []byte("0,0\n10,10\n"), 0o600))
	cb, err := LoadCodebook(csv)
	require.NoError(t, err)
	assert.Equal(t, 2, cb.K())
	assert.Equal(t, 2, cb.Dimension())
	assert.Equal(t, []float32{10, 10}, cb.Centroid(1))

	var buf bytes.Buffer
	require.NoError(t, cb.WriteTo(&buf))
	bin := filepath.Join(dir, "codebook.bin")
	require.NoError(t, os.WriteFile(bin, buf.Bytes(), 0o600))
	loaded, err := LoadCodebook(bin)
	require.NoError(t, err)
	assert.Equal(t, cb, loaded)

	_, err = LoadCodebook(filepath.Join(dir, "missing.csv"))
	assert.Error(t, err)
}

func TestTrainCodebook(t *testing.T) {
	rng := testutil.NewRNG(7)
	samples := rng.ClusteredVectors(300, 8, 3, 0.01)

	cb, err := TrainCodebook(context.Background(), samples, 3, TrainOptions{Seed: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, cb.K())

	// Samples from the same generator centre share a centroid.
	for i := 3; i < len(samples); i++ {
		assert.Equal(t, cb.Nearest(samples[i%3]), cb.Nearest(samples[i]))
	}

	_, err = TrainCodebook(context.Background(), nil, 3, TrainOptions{})
	assert.ErrorIs(t, err, ErrInvalidCodebook)
}
