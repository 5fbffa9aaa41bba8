package testutil

import (
	"image"
	"image/color"
	"math/rand"
	"sort"
	"sync"

	"github.com/hupe1980/visualindex/internal/math32"
)

// SearchResult is an exact nearest-neighbour result.
type SearchResult struct {
	ID       string
	Distance float32
}

// RNG is a seeded, goroutine-safe source of test data.
type RNG struct {
	mu   sync.Mutex
	rand *rand.Rand
}

// NewRNG returns an RNG; equal seeds give equal data.
func NewRNG(seed int64) *RNG {
	return &RNG{rand: rand.New(rand.NewSource(seed))} // nolint gosec
}

// Intn returns a pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// vectors fills num vectors of length dim sharing one backing array.
// next is called with r.mu held.
func (r *RNG) vectors(num, dim int, next func(i int) float32) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]float32, num*dim)
	out := make([][]float32, num)
	for i := range out {
		vec := data[i*dim : (i+1)*dim : (i+1)*dim]
		for j := range vec {
			vec[j] = next(i*dim + j)
		}
		out[i] = vec
	}
	return out
}

// UniformVectors returns num vectors with components in [0, 1).
func (r *RNG) UniformVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, func(int) float32 { return r.rand.Float32() })
}

// GaussianVectors returns num vectors with standard normal components.
func (r *RNG) GaussianVectors(num, dim int) [][]float32 {
	return r.vectors(num, dim, func(int) float32 { return float32(r.rand.NormFloat64()) })
}

// ClusteredVectors scatters num vectors with Gaussian noise of the given
// spread around `clusters` uniform centres. Vector i belongs to cluster
// i % clusters.
func (r *RNG) ClusteredVectors(num, dim, clusters int, spread float32) [][]float32 {
	centres := Flatten(r.UniformVectors(clusters, dim))
	return r.vectors(num, dim, func(k int) float32 {
		i, j := k/dim, k%dim
		return centres[(i%clusters)*dim+j] + float32(r.rand.NormFloat64())*spread
	})
}

// Flatten concatenates vectors into one row-major slice.
func Flatten(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}
	out := make([]float32, 0, len(vectors)*len(vectors[0]))
	for _, v := range vectors {
		out = append(out, v...)
	}
	return out
}

// BlobImage draws `blobs` dark and bright discs of random radius on a mid-grey
// background. Blob-like structures give the Hessian detector stable responses.
func (r *RNG) BlobImage(width, height, blobs int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 128
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for b := 0; b < blobs; b++ {
		radius := 4 + r.rand.Intn(max(1, min(width, height)/10))
		cx := radius + r.rand.Intn(max(1, width-2*radius))
		cy := radius + r.rand.Intn(max(1, height-2*radius))
		shade := uint8(20)
		if r.rand.Intn(2) == 0 {
			shade = 235
		}
		for y := cy - radius; y <= cy+radius; y++ {
			for x := cx - radius; x <= cx+radius; x++ {
				dx, dy := x-cx, y-cy
				if dx*dx+dy*dy <= radius*radius && image.Pt(x, y).In(img.Rect) {
					img.SetGray(x, y, color.Gray{Y: shade})
				}
			}
		}
	}
	return img
}

// SolidImage returns a uniformly coloured RGBA image.
func SolidImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// ComputeRecall returns the fraction of groundTruth ids found in approximate.
func ComputeRecall(groundTruth, approximate []SearchResult) float64 {
	if len(groundTruth) == 0 {
		return 1
	}
	seen := make(map[string]struct{}, len(approximate))
	for _, r := range approximate {
		seen[r.ID] = struct{}{}
	}
	hits := 0
	for _, r := range groundTruth {
		if _, ok := seen[r.ID]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(groundTruth))
}

// BruteForceSearch performs exact search for ground truth. ids[i] names vectors[i].
func BruteForceSearch(ids []string, vectors [][]float32, query []float32, k int) []SearchResult {
	results := make([]SearchResult, len(vectors))
	for i, v := range vectors {
		results[i] = SearchResult{ID: ids[i], Distance: math32.SquaredL2(query, v)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})

	if len(results) > k {
		results = results[:k]
	}
	return results
}
