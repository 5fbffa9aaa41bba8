package quantization

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/visualindex/internal/math32"
	"github.com/hupe1980/visualindex/testutil"
)

func TestProductQuantizer(t *testing.T) {
	const (
		dimension     = 64
		numVectors    = 1000
		numSubvectors = 8
		numCentroids  = 256
	)

	rng := testutil.NewRNG(42)
	training := testutil.Flatten(rng.UniformVectors(numVectors, dimension))

	pq, err := TrainProductQuantizer(context.Background(), training, dimension, numSubvectors, numCentroids, TrainOptions{MaxIter: 10, Seed: 1})
	require.NoError(t, err)

	testVec := rng.UniformVectors(1, dimension)[0]
	codes, err := pq.Encode(testVec)
	require.NoError(t, err)
	assert.Len(t, codes, numSubvectors)

	reconstructed, err := pq.Decode(codes)
	require.NoError(t, err)
	assert.Len(t, reconstructed, dimension)

	mse := math32.SquaredL2(testVec, reconstructed) / dimension
	t.Logf("Reconstruction MSE: %f", mse)
	assert.Less(t, mse, float32(0.1))

	assert.InDelta(t, float64(dimension*4)/numSubvectors, pq.CompressionRatio(), 0.01)
	assert.Equal(t, 8, pq.BitsPerCode())
	assert.Equal(t, numSubvectors, pq.BytesPerVector())
}

func TestProductQuantizerAsymmetricDistance(t *testing.T) {
	const dimension = 32

	rng := testutil.NewRNG(7)
	training := testutil.Flatten(rng.UniformVectors(300, dimension))
	pq, err := TrainProductQuantizer(context.Background(), training, dimension, 4, 16, TrainOptions{Seed: 3})
	require.NoError(t, err)

	query := rng.UniformVectors(1, dimension)[0]
	vec := rng.UniformVectors(1, dimension)[0]

	codes, err := pq.Encode(vec)
	require.NoError(t, err)
	table, err := pq.BuildDistanceTable(query)
	require.NoError(t, err)

	decoded, err := pq.Decode(codes)
	require.NoError(t, err)

	// ADC sums per-subspace distances; the direct computation sums per dimension.
	assert.InDelta(t, math32.SquaredL2(query, decoded), pq.AdcDistance(table, codes), 1e-4)
}

func TestProductQuantizerExactWhenFewVectors(t *testing.T) {
	vecs := [][]float32{
		{1, 2, 3, 4},
		{5, 6, 7, 8},
		{-1, 0, 1, 0},
	}
	pq, err := TrainProductQuantizer(context.Background(), testutil.Flatten(vecs), 4, 2, 4, TrainOptions{})
	require.NoError(t, err)

	for _, v := range vecs {
		codes, err := pq.Encode(v)
		require.NoError(t, err)
		table, err := pq.BuildDistanceTable(v)
		require.NoError(t, err)
		assert.Zero(t, pq.AdcDistance(table, codes))
	}
}

func TestProductQuantizerDeterministicTraining(t *testing.T) {
	rng := testutil.NewRNG(9)
	training := testutil.Flatten(rng.UniformVectors(400, 16))

	a, err := TrainProductQuantizer(context.Background(), training, 16, 4, 32, TrainOptions{Seed: 5})
	require.NoError(t, err)
	b, err := TrainProductQuantizer(context.Background(), training, 16, 4, 32, TrainOptions{Seed: 5})
	require.NoError(t, err)
	assert.True(t, a.Equal(b))
}

func TestProductQuantizerInvalidParameters(t *testing.T) {
	tests := []struct {
		name              string
		dim, m, k, values int
	}{
		{"dimension not divisible", 100, 7, 256, 100 * 256},
		{"not power of two", 8, 2, 100, 800},
		{"too many centroids", 8, 2, 512, 8 * 512},
		{"wrong codebook size", 8, 2, 4, 31},
		{"zero dimension", 0, 2, 4, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProductQuantizer(tc.dim, tc.m, tc.k, make([]float32, tc.values))
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestProductQuantizerDimensionMismatch(t *testing.T) {
	pq, err := NewProductQuantizer(4, 2, 2, make([]float32, 8))
	require.NoError(t, err)

	_, err = pq.Encode([]float32{1, 2, 3})
	var de *DimensionError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 4, de.Expected)
	assert.Equal(t, 3, de.Actual)

	_, err = pq.BuildDistanceTable([]float32{1})
	assert.ErrorAs(t, err, &de)

	_, err = pq.Decode([]byte{1})
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestProductQuantizerFileRoundTrip(t *testing.T) {
	rng := testutil.NewRNG(11)
	codebooks := testutil.Flatten(rng.UniformVectors(2*16, 3))
	pq, err := NewProductQuantizer(6, 2, 16, codebooks)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteProductQuantizer(&buf, pq))

	path := filepath.Join(t.TempDir(), "pq.bin")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	loaded, err := LoadProductQuantizer(path)
	require.NoError(t, err)
	assert.True(t, pq.Equal(loaded))

	require.NoError(t, os.WriteFile(path, buf.Bytes()[:buf.Len()-1], 0o600))
	_, err = LoadProductQuantizer(path)
	assert.ErrorIs(t, err, ErrCorruptModel)
}

func BenchmarkProductQuantizerEncode(b *testing.B) {
	rng := testutil.NewRNG(1)
	pq, _ := TrainProductQuantizer(context.Background(), testutil.Flatten(rng.UniformVectors(2000, 128)), 128, 8, 256, TrainOptions{MaxIter: 5})
	vec := rng.UniformVectors(1, 128)[0]

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = pq.Encode(vec)
	}
}

func BenchmarkProductQuantizerAdcDistance(b *testing.B) {
	rng := testutil.NewRNG(1)
	pq, _ := TrainProductQuantizer(context.Background(), testutil.Flatten(rng.UniformVectors(2000, 128)), 128, 8, 256, TrainOptions{MaxIter: 5})
	vec := rng.UniformVectors(1, 128)[0]
	codes, _ := pq.Encode(vec)
	table, _ := pq.BuildDistanceTable(vec)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = pq.AdcDistance(table, codes)
	}
}
