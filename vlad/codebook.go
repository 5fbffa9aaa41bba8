package vlad

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/visualindex/internal/kmeans"
	"github.com/hupe1980/visualindex/internal/matio"
	"github.com/hupe1980/visualindex/internal/math32"
)

// ErrInvalidCodebook is returned for empty or ragged centroid tables.
var ErrInvalidCodebook = errors.New("vlad: invalid codebook")

// Codebook is an immutable set of K centroids of dimension D, stored row-major.
type Codebook struct {
	k, dim    int
	centroids []float32
}

// NewCodebook creates a codebook from flattened centroids.
func NewCodebook(dim int, centroids []float32) (*Codebook, error) {
	if dim <= 0 || len(centroids) == 0 || len(centroids)%dim != 0 {
		return nil, fmt.Errorf("%w: %d values for dimension %d", ErrInvalidCodebook, len(centroids), dim)
	}
	c := make([]float32, len(centroids))
	copy(c, centroids)
	return &Codebook{k: len(c) / dim, dim: dim, centroids: c}, nil
}

// LoadCodebook reads a codebook from a text (CSV) or binary matrix file.
func LoadCodebook(path string) (*Codebook, error) {
	m, err := matio.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load codebook %s: %w", path, err)
	}
	return NewCodebook(m.Cols, m.Data)
}

// WriteTo writes the codebook in the binary matrix layout.
func (c *Codebook) WriteTo(w io.Writer) error {
	return matio.WriteBinary(w, &matio.Matrix{Rows: c.k, Cols: c.dim, Data: c.centroids})
}

// TrainOptions controls codebook training.
type TrainOptions struct {
	MaxIter int
	Seed    int64
}

// TrainCodebook clusters descriptor samples into k centroids.
func TrainCodebook(ctx context.Context, samples [][]float32, k int, opts TrainOptions) (*Codebook, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidCodebook)
	}
	dim := len(samples[0])
	flat := make([]float32, 0, len(samples)*dim)
	for i, s := range samples {
		if len(s) != dim {
			return nil, fmt.Errorf("%w: sample %d has length %d, want %d", ErrInvalidCodebook, i, len(s), dim)
		}
		flat = append(flat, s...)
	}

	centroids, err := kmeans.Train(ctx, flat, dim, k, kmeans.Options{MaxIter: opts.MaxIter, Seed: opts.Seed})
	if err != nil {
		return nil, err
	}
	return &Codebook{k: k, dim: dim, centroids: centroids}, nil
}

// K returns the number of centroids.
func (c *Codebook) K() int { return c.k }

// Dimension returns the centroid dimension.
func (c *Codebook) Dimension() int { return c.dim }

// Centroid returns centroid i. The slice must not be modified.
func (c *Codebook) Centroid(i int) []float32 {
	return c.centroids[i*c.dim : (i+1)*c.dim]
}

// Nearest returns the index of the centroid closest to vec; ties go to the lowest index.
func (c *Codebook) Nearest(vec []float32) int {
	i, _ := math32.NearestIndex(vec, c.centroids, c.dim)
	return i
}
