package math32

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDot(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Positive values", []float32{1, 2, 3}, []float32{4, 5, 6}, 32.0},
		{"Negative values", []float32{-1, -2, -3}, []float32{-4, -5, -6}, 32.0},
		{"More than 4", []float32{1, 2, 3, 1, 2, 3}, []float32{4, 5, 6, 4, 5, 6}, 64.0},
		{"Mixed values", []float32{1, -2, 3}, []float32{-4, 5, -6}, -32.0},
		{"Zero values", []float32{0, 0, 0}, []float32{0, 0, 0}, 0.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Dot(tc.a, tc.b))
		})
	}
}

func TestSquaredL2(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float32
	}{
		{"Positive values", []float32{1, 2, 3}, []float32{4, 5, 6}, 27.0},
		{"Negative values", []float32{-1, -2, -3}, []float32{-4, -5, -6}, 27.0},
		{"1 Remainder", []float32{1, 2, 3, 1, 2, 3}, []float32{4, 5, 6, 4, 5, 6}, 54.0},
		{"Mixed values", []float32{1, -2, 3}, []float32{-4, 5, -6}, 155.0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SquaredL2(tc.a, tc.b))
		})
	}
}

func TestNearestIndexLowestWinsTies(t *testing.T) {
	centroids := []float32{
		0, 0,
		2, 2,
		0, 0,
	}
	idx, d := NearestIndex([]float32{1, 1}, centroids, 2)
	assert.Equal(t, 0, idx)
	assert.Equal(t, float32(2), d)

	idx, _ = NearestIndex([]float32{2, 2}, centroids, 2)
	assert.Equal(t, 1, idx)
}

func TestNearestIndexNonFinite(t *testing.T) {
	centroids := []float32{
		0, 0,
		1, 1,
	}

	// Every distance overflows to +Inf.
	idx, d := NearestIndex([]float32{1e20, 1e20}, centroids, 2)
	assert.Equal(t, 0, idx)
	assert.True(t, math.IsInf(float64(d), 1))

	nan := float32(math.NaN())
	idx, _ = NearestIndex([]float32{nan, 0}, centroids, 2)
	assert.Equal(t, 0, idx)

	idx, _ = NearestIndex([]float32{1, 1}, []float32{nan, nan, 1, 1}, 2)
	assert.Equal(t, 1, idx)

	idx, _ = NearestIndex([]float32{1, 1}, nil, 2)
	assert.Equal(t, -1, idx)
}

func TestIsFinite(t *testing.T) {
	assert.True(t, IsFinite([]float32{0, -1, math.MaxFloat32}))
	assert.True(t, IsFinite(nil))
	assert.False(t, IsFinite([]float32{0, float32(math.NaN())}))
	assert.False(t, IsFinite([]float32{float32(math.Inf(-1))}))
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	assert.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.False(t, NormalizeL2InPlace([]float32{0, 0}))

	p := []float32{-4, 9, 0}
	PowerNormalizeInPlace(p, 0.5)
	assert.Equal(t, []float32{-2, 3, 0}, p)
}

func TestPqAdcLookup(t *testing.T) {
	table := []float32{
		1, 2, 3, // m=0
		10, 20, 30, // m=1
	}
	assert.Equal(t, float32(32), PqAdcLookup(table, []byte{1, 2}, 3))
}

func BenchmarkSquaredL2(b *testing.B) {
	const size = 1024
	va := make([]float32, size)
	vb := make([]float32, size)
	for i := range va {
		va[i] = rand.Float32() // nolint gosec
		vb[i] = rand.Float32() // nolint gosec
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = SquaredL2(va, vb)
	}
}
