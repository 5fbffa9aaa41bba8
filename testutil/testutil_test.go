package testutil

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformVectors(8, 32)

	assert.Equal(t, 8, len(v))
	assert.Equal(t, 32, len(v[0]))
	assert.LessOrEqual(t, v[0][0], float32(1.0))
	assert.GreaterOrEqual(t, v[1][0], float32(0.0))
}

func TestRNGReproducible(t *testing.T) {
	a := NewRNG(1).GaussianVectors(4, 4)
	b := NewRNG(1).GaussianVectors(4, 4)
	assert.Equal(t, a, b)
}

func TestClusteredVectors(t *testing.T) {
	v := NewRNG(2).ClusteredVectors(6, 3, 3, 0)
	assert.Equal(t, v[0], v[3], "zero spread puts members on their centre")
	assert.NotEqual(t, v[0], v[1])
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, []float32{1, 2, 3, 4}, Flatten([][]float32{{1, 2}, {3, 4}}))
	assert.Nil(t, Flatten(nil))
}

func TestBlobImage(t *testing.T) {
	img := NewRNG(3).BlobImage(64, 48, 5)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())

	solid := SolidImage(4, 4, color.White)
	assert.Equal(t, uint8(255), solid.Pix[0])
}

func TestBruteForceSearchAndRecall(t *testing.T) {
	vecs := [][]float32{{0, 0}, {1, 1}, {5, 5}}
	res := BruteForceSearch([]string{"a", "b", "c"}, vecs, []float32{0.9, 0.9}, 2)
	assert.Equal(t, "b", res[0].ID)
	assert.Equal(t, "a", res[1].ID)

	assert.Equal(t, 0.5, ComputeRecall(res, res[:1]))
	assert.Equal(t, 1.0, ComputeRecall(nil, nil))
}
