package quantization

import (
	"context"
	"fmt"
	"math/bits"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/visualindex/internal/kmeans"
	"github.com/hupe1980/visualindex/internal/math32"
)

// ProductQuantizer implements Product Quantization (PQ).
// PQ splits vectors into subvectors and quantizes each independently against
// its own codebook of K centroids.
//
// Example: 128-dim vector with M=8 subvectors → 8 uint8 codes = 8 bytes (64x compression vs float32)
//
// A ProductQuantizer is immutable once constructed and safe for concurrent use.
type ProductQuantizer struct {
	numSubvectors int       // M: number of subvectors
	numCentroids  int       // K: number of centroids per subspace (power of two, <= 256)
	dimension     int       // D: original vector dimension
	subvectorDim  int       // D/M: dimensions per subvector
	codebooks     []float32 // M * K * subvectorDim, row-major
}

// NewProductQuantizer creates a PQ quantizer from trained codebooks.
// Parameters:
//   - dimension: Vector dimensionality (must be divisible by numSubvectors)
//   - numSubvectors: Number of subvectors to split into (M, typically 4, 8 or 16)
//   - numCentroids: Number of centroids per subspace (K, a power of two <= 256)
//   - codebooks: M*K*(dimension/M) floats; codebook m starts at m*K*(dimension/M)
func NewProductQuantizer(dimension, numSubvectors, numCentroids int, codebooks []float32) (*ProductQuantizer, error) {
	if err := validatePQ(dimension, numSubvectors, numCentroids); err != nil {
		return nil, err
	}
	if len(codebooks) != dimension*numCentroids {
		return nil, fmt.Errorf("%w: codebooks have %d values, want %d", ErrInvalidParameter, len(codebooks), dimension*numCentroids)
	}

	return &ProductQuantizer{
		numSubvectors: numSubvectors,
		numCentroids:  numCentroids,
		dimension:     dimension,
		subvectorDim:  dimension / numSubvectors,
		codebooks:     codebooks,
	}, nil
}

func validatePQ(dimension, numSubvectors, numCentroids int) error {
	if dimension <= 0 || numSubvectors <= 0 {
		return fmt.Errorf("%w: dimension and numSubvectors must be positive", ErrInvalidParameter)
	}
	if dimension%numSubvectors != 0 {
		return fmt.Errorf("%w: dimension %d must be divisible by numSubvectors %d", ErrInvalidParameter, dimension, numSubvectors)
	}
	if numCentroids <= 0 || numCentroids > 256 || bits.OnesCount(uint(numCentroids)) != 1 {
		return fmt.Errorf("%w: numCentroids must be a power of two <= 256, got %d", ErrInvalidParameter, numCentroids)
	}
	return nil
}

// TrainProductQuantizer trains one codebook per subspace using k-means on the
// flattened training vectors (n * dimension). Subspaces train in parallel.
func TrainProductQuantizer(ctx context.Context, vectors []float32, dimension, numSubvectors, numCentroids int, opts TrainOptions) (*ProductQuantizer, error) {
	if err := validatePQ(dimension, numSubvectors, numCentroids); err != nil {
		return nil, err
	}
	if len(vectors) == 0 || len(vectors)%dimension != 0 {
		return nil, fmt.Errorf("%w: training data must be a non-empty multiple of %d", ErrInvalidParameter, dimension)
	}

	n := len(vectors) / dimension
	subDim := dimension / numSubvectors
	codebooks := make([]float32, dimension*numCentroids)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for m := 0; m < numSubvectors; m++ {
		g.Go(func() error {
			// Gather subspace m into a contiguous buffer.
			sub := make([]float32, n*subDim)
			for i := 0; i < n; i++ {
				copy(sub[i*subDim:(i+1)*subDim], vectors[i*dimension+m*subDim:i*dimension+(m+1)*subDim])
			}

			centroids, err := kmeans.Train(gctx, sub, subDim, numCentroids, kmeans.Options{
				MaxIter: opts.MaxIter,
				Seed:    opts.Seed + int64(m),
				Workers: 1,
			})
			if err != nil {
				return fmt.Errorf("subspace %d: %w", m, err)
			}
			copy(codebooks[m*numCentroids*subDim:], centroids)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewProductQuantizer(dimension, numSubvectors, numCentroids, codebooks)
}

func (pq *ProductQuantizer) codebook(m int) []float32 {
	size := pq.numCentroids * pq.subvectorDim
	return pq.codebooks[m*size : (m+1)*size]
}

// Encode quantizes a vector into PQ codes.
// Returns M uint8 codes (one per subvector).
func (pq *ProductQuantizer) Encode(vec []float32) ([]byte, error) {
	codes := make([]byte, pq.numSubvectors)
	if err := pq.EncodeInto(codes, vec); err != nil {
		return nil, err
	}
	return codes, nil
}

// EncodeInto writes the PQ codes of vec into dst (len M).
func (pq *ProductQuantizer) EncodeInto(dst []byte, vec []float32) error {
	if len(vec) != pq.dimension {
		return &DimensionError{Expected: pq.dimension, Actual: len(vec)}
	}
	if len(dst) != pq.numSubvectors {
		return fmt.Errorf("%w: code buffer has %d bytes, want %d", ErrInvalidParameter, len(dst), pq.numSubvectors)
	}

	for m := 0; m < pq.numSubvectors; m++ {
		subvec := vec[m*pq.subvectorDim : (m+1)*pq.subvectorDim]
		nearest, _ := math32.NearestIndex(subvec, pq.codebook(m), pq.subvectorDim)
		dst[m] = uint8(nearest)
	}
	return nil
}

// Decode reconstructs an approximate vector from PQ codes.
func (pq *ProductQuantizer) Decode(codes []byte) ([]float32, error) {
	if len(codes) != pq.numSubvectors {
		return nil, fmt.Errorf("%w: invalid code length %d", ErrInvalidParameter, len(codes))
	}

	reconstructed := make([]float32, pq.dimension)
	for m, c := range codes {
		cb := pq.codebook(m)
		copy(reconstructed[m*pq.subvectorDim:(m+1)*pq.subvectorDim], cb[int(c)*pq.subvectorDim:(int(c)+1)*pq.subvectorDim])
	}

	return reconstructed, nil
}

// BuildDistanceTable precomputes distances from a query to all centroids.
// Returns a flattened table of size M * K where table[m*K + k] is the squared distance
// from query subvector m to centroid k.
func (pq *ProductQuantizer) BuildDistanceTable(query []float32) ([]float32, error) {
	table := make([]float32, pq.numSubvectors*pq.numCentroids)
	if err := pq.DistanceTableInto(table, query); err != nil {
		return nil, err
	}
	return table, nil
}

// DistanceTableInto fills table (len M*K) for query, avoiding allocation in the search loop.
func (pq *ProductQuantizer) DistanceTableInto(table, query []float32) error {
	if len(query) != pq.dimension {
		return &DimensionError{Expected: pq.dimension, Actual: len(query)}
	}
	if len(table) != pq.numSubvectors*pq.numCentroids {
		return fmt.Errorf("%w: table has %d entries, want %d", ErrInvalidParameter, len(table), pq.numSubvectors*pq.numCentroids)
	}

	for m := 0; m < pq.numSubvectors; m++ {
		querySubvec := query[m*pq.subvectorDim : (m+1)*pq.subvectorDim]
		cb := pq.codebook(m)
		row := table[m*pq.numCentroids : (m+1)*pq.numCentroids]
		for k := range row {
			row[k] = math32.SquaredL2(querySubvec, cb[k*pq.subvectorDim:(k+1)*pq.subvectorDim])
		}
	}
	return nil
}

// AdcDistance computes the approximate distance between a query (represented by the distance table)
// and a quantized vector (represented by codes).
func (pq *ProductQuantizer) AdcDistance(table []float32, codes []byte) float32 {
	return math32.PqAdcLookup(table, codes, pq.numCentroids)
}

// Dimension returns D.
func (pq *ProductQuantizer) Dimension() int { return pq.dimension }

// NumSubvectors returns the number of subvectors (M).
func (pq *ProductQuantizer) NumSubvectors() int { return pq.numSubvectors }

// NumCentroids returns the number of centroids per subspace (K).
func (pq *ProductQuantizer) NumCentroids() int { return pq.numCentroids }

// SubvectorDim returns D/M.
func (pq *ProductQuantizer) SubvectorDim() int { return pq.subvectorDim }

// BitsPerCode returns log2(K).
func (pq *ProductQuantizer) BitsPerCode() int { return bits.TrailingZeros(uint(pq.numCentroids)) }

// BytesPerVector returns the compressed size per vector in bytes.
func (pq *ProductQuantizer) BytesPerVector() int { return pq.numSubvectors }

// CompressionRatio returns the theoretical compression ratio.
func (pq *ProductQuantizer) CompressionRatio() float64 {
	return float64(pq.dimension*4) / float64(pq.numSubvectors)
}

// Codebooks returns the flat codebooks. The slice must not be modified.
func (pq *ProductQuantizer) Codebooks() []float32 { return pq.codebooks }

// Equal reports whether both quantizers have identical shape and codebooks.
func (pq *ProductQuantizer) Equal(other *ProductQuantizer) bool {
	if pq == other {
		return true
	}
	if pq == nil || other == nil {
		return false
	}
	return pq.dimension == other.dimension &&
		pq.numSubvectors == other.numSubvectors &&
		pq.numCentroids == other.numCentroids &&
		equalFloats(pq.codebooks, other.codebooks)
}

func equalFloats(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
