package quantization

import (
	"context"
	"fmt"
	"slices"

	"github.com/hupe1980/visualindex/internal/kmeans"
	"github.com/hupe1980/visualindex/internal/math32"
)

// CoarseQuantizer partitions the vector space into cells around fixed centroids.
type CoarseQuantizer struct {
	dimension int
	numCells  int
	centroids []float32 // numCells * dimension
}

// NewCoarseQuantizer creates a coarse quantizer from flat row-major centroids.
func NewCoarseQuantizer(dimension int, centroids []float32) (*CoarseQuantizer, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidParameter)
	}
	if len(centroids) == 0 || len(centroids)%dimension != 0 {
		return nil, fmt.Errorf("%w: %d centroid values are not a multiple of %d", ErrInvalidParameter, len(centroids), dimension)
	}
	return &CoarseQuantizer{
		dimension: dimension,
		numCells:  len(centroids) / dimension,
		centroids: centroids,
	}, nil
}

// TrainCoarseQuantizer trains numCells centroids from flattened vectors with k-means.
func TrainCoarseQuantizer(ctx context.Context, vectors []float32, dimension, numCells int, opts TrainOptions) (*CoarseQuantizer, error) {
	if dimension <= 0 || len(vectors) == 0 || len(vectors)%dimension != 0 {
		return nil, fmt.Errorf("%w: training data must be a non-empty multiple of %d", ErrInvalidParameter, dimension)
	}
	centroids, err := kmeans.Train(ctx, vectors, dimension, numCells, kmeans.Options{
		MaxIter: opts.MaxIter,
		Seed:    opts.Seed,
	})
	if err != nil {
		return nil, err
	}
	return NewCoarseQuantizer(dimension, centroids)
}

// Nearest returns the cell closest to vec and its squared distance.
// Ties resolve to the lowest cell id.
func (cq *CoarseQuantizer) Nearest(vec []float32) (int, float32, error) {
	if len(vec) != cq.dimension {
		return -1, 0, &DimensionError{Expected: cq.dimension, Actual: len(vec)}
	}
	cell, d := math32.NearestIndex(vec, cq.centroids, cq.dimension)
	return cell, d, nil
}

// NearestN returns the n cells closest to vec ordered by ascending squared
// distance, ties by lowest cell id. n is clamped to [1, NumCells].
func (cq *CoarseQuantizer) NearestN(vec []float32, n int) ([]int, error) {
	if len(vec) != cq.dimension {
		return nil, &DimensionError{Expected: cq.dimension, Actual: len(vec)}
	}
	n = max(1, min(n, cq.numCells))
	if n == 1 {
		cell, _ := math32.NearestIndex(vec, cq.centroids, cq.dimension)
		return []int{cell}, nil
	}

	type cellDist struct {
		id   int
		dist float32
	}
	dists := make([]cellDist, cq.numCells)
	for i := range dists {
		dists[i] = cellDist{id: i, dist: math32.SquaredL2(vec, cq.Centroid(i))}
	}
	slices.SortFunc(dists, func(a, b cellDist) int {
		switch {
		case a.dist < b.dist:
			return -1
		case a.dist > b.dist:
			return 1
		default:
			return a.id - b.id
		}
	})

	out := make([]int, n)
	for i := range out {
		out[i] = dists[i].id
	}
	return out, nil
}

// Centroid returns the centroid of cell i. The slice must not be modified.
func (cq *CoarseQuantizer) Centroid(i int) []float32 {
	return cq.centroids[i*cq.dimension : (i+1)*cq.dimension]
}

// Residual writes vec - centroid(cell) into dst.
func (cq *CoarseQuantizer) Residual(dst, vec []float32, cell int) {
	math32.Sub(dst, vec, cq.Centroid(cell))
}

// Dimension returns the vector dimension.
func (cq *CoarseQuantizer) Dimension() int { return cq.dimension }

// NumCells returns the number of cells.
func (cq *CoarseQuantizer) NumCells() int { return cq.numCells }

// Centroids returns the flat centroids. The slice must not be modified.
func (cq *CoarseQuantizer) Centroids() []float32 { return cq.centroids }

// Equal reports whether both quantizers have identical centroids.
func (cq *CoarseQuantizer) Equal(other *CoarseQuantizer) bool {
	if cq == other {
		return true
	}
	if cq == nil || other == nil {
		return false
	}
	return cq.dimension == other.dimension && equalFloats(cq.centroids, other.centroids)
}
