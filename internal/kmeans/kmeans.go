// Package kmeans trains centroid sets for codebooks and quantizers.
package kmeans

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/visualindex/internal/math32"
)

var (
	// ErrNoData is returned when no training vectors are supplied.
	ErrNoData = errors.New("kmeans: no training vectors")
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("kmeans: k must be positive")
)

// Options controls a training run.
type Options struct {
	// MaxIter bounds the number of Lloyd iterations. Defaults to 20.
	MaxIter int
	// Seed makes seeding and empty-cluster repair reproducible.
	Seed int64
	// Workers bounds the parallel assignment step. Defaults to GOMAXPROCS.
	Workers int
}

// Train trains k centroids of dimension dim from the flattened vectors
// (n * dim) with k-means++ seeding followed by Lloyd's algorithm.
// It returns the flattened centroids (k * dim).
//
// When n < k the input rows are repeated cyclically, so every training
// vector becomes an exact centroid.
func Train(ctx context.Context, vectors []float32, dim, k int, opts Options) ([]float32, error) {
	if k <= 0 {
		return nil, ErrInvalidK
	}
	if dim <= 0 || len(vectors) < dim {
		return nil, ErrNoData
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 20
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	n := len(vectors) / dim
	centroids := make([]float32, k*dim)

	if n <= k {
		for i := 0; i < k; i++ {
			src := (i % n) * dim
			copy(centroids[i*dim:(i+1)*dim], vectors[src:src+dim])
		}
		return centroids, nil
	}

	rng := rand.New(rand.NewSource(opts.Seed)) // nolint gosec
	seedPlusPlus(rng, vectors, centroids, n, dim, k)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	for iter := 0; iter < opts.MaxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed, err := assign(ctx, vectors, centroids, assignments, dim, opts.Workers)
		if err != nil {
			return nil, err
		}
		if !changed {
			break
		}

		clear(sums)
		clear(counts)

		for i := 0; i < n; i++ {
			c := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			dst := sums[c*dim : (c+1)*dim]
			for d, v := range vec {
				dst[d] += v
			}
			counts[c]++
		}

		for j := 0; j < k; j++ {
			if counts[j] > 0 {
				scale := 1.0 / float32(counts[j])
				for d := 0; d < dim; d++ {
					centroids[j*dim+d] = sums[j*dim+d] * scale
				}
			} else {
				// Re-seed empty cluster with a random point.
				idx := rng.Intn(n)
				copy(centroids[j*dim:(j+1)*dim], vectors[idx*dim:(idx+1)*dim])
			}
		}
	}

	return centroids, nil
}

// seedPlusPlus picks initial centroids proportionally to squared distance.
func seedPlusPlus(rng *rand.Rand, vectors, centroids []float32, n, dim, k int) {
	first := rng.Intn(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	// minDistSq tracks each vector's squared distance to its nearest chosen centroid.
	minDistSq := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		d := float64(math32.SquaredL2(vectors[i*dim:(i+1)*dim], centroids[:dim]))
		minDistSq[i] = d
		sum += d
	}

	for c := 1; c < k; c++ {
		chosen := 0
		if sum == 0 {
			chosen = rng.Intn(n)
		} else {
			target := rng.Float64() * sum
			var cumsum float64
			for i, d := range minDistSq {
				cumsum += d
				if cumsum >= target {
					chosen = i
					break
				}
			}
		}
		dst := centroids[c*dim : (c+1)*dim]
		copy(dst, vectors[chosen*dim:(chosen+1)*dim])

		sum = 0
		for i := 0; i < n; i++ {
			d := float64(math32.SquaredL2(vectors[i*dim:(i+1)*dim], dst))
			if d < minDistSq[i] {
				minDistSq[i] = d
			}
			sum += minDistSq[i]
		}
	}
}

// assign runs the assignment step in parallel chunks. Each worker owns a
// disjoint range of assignments so the result is independent of scheduling.
func assign(ctx context.Context, vectors, centroids []float32, assignments []int, dim, workers int) (bool, error) {
	n := len(assignments)
	chunk := (n + workers - 1) / workers
	changed := make([]bool, workers)

	g, _ := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		start := w * chunk
		if start >= n {
			break
		}
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				best, _ := math32.NearestIndex(vectors[i*dim:(i+1)*dim], centroids, dim)
				if assignments[i] != best {
					assignments[i] = best
					changed[w] = true
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	for _, c := range changed {
		if c {
			return true, nil
		}
	}
	return false, nil
}

// Assign returns the index of the nearest centroid for vec.
func Assign(vec, centroids []float32, dim int) int {
	idx, _ := math32.NearestIndex(vec, centroids, dim)
	return idx
}

// Inertia returns the sum of squared distances of each vector to its nearest centroid.
func Inertia(vectors, centroids []float32, dim int) float64 {
	var total float64
	for off := 0; off+dim <= len(vectors); off += dim {
		_, d := math32.NearestIndex(vectors[off:off+dim], centroids, dim)
		if d == math.MaxFloat32 {
			continue
		}
		total += float64(d)
	}
	return total
}
