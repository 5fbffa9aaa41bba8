package vlad

import (
	"errors"
	"fmt"

	"github.com/hupe1980/visualindex/internal/math32"
)

// ErrDimensionMismatch is returned when a descriptor's length differs from
// the codebook dimension.
var ErrDimensionMismatch = errors.New("vlad: descriptor dimension mismatch")

// Option configures an Aggregator.
type Option func(*options)

type options struct {
	powerAlpha float64
	l2         bool
}

// WithPowerNormalization applies signed power normalization sign(x)*|x|^alpha
// to each codebook block. Values outside (0, 1) disable it.
func WithPowerNormalization(alpha float64) Option {
	return func(o *options) {
		o.powerAlpha = alpha
	}
}

// WithL2Normalization L2-normalizes each codebook block (after power
// normalization, if enabled). All-zero blocks stay zero.
func WithL2Normalization() Option {
	return func(o *options) {
		o.l2 = true
	}
}

// Aggregator builds VLAD vectors over one or more codebooks. It is read-only
// after construction and safe for concurrent use.
type Aggregator struct {
	codebooks []*Codebook
	offsets   []int
	dim       int
	length    int
	opts      options
}

// NewAggregator creates an aggregator over codebooks, which must share the
// descriptor dimension. Their blocks are concatenated in the given order.
func NewAggregator(codebooks []*Codebook, optFns ...Option) (*Aggregator, error) {
	if len(codebooks) == 0 {
		return nil, fmt.Errorf("%w: no codebooks", ErrInvalidCodebook)
	}

	a := &Aggregator{
		codebooks: codebooks,
		offsets:   make([]int, len(codebooks)),
		dim:       codebooks[0].dim,
	}
	for i, cb := range codebooks {
		if cb == nil {
			return nil, fmt.Errorf("%w: codebook %d is nil", ErrInvalidCodebook, i)
		}
		if cb.dim != a.dim {
			return nil, fmt.Errorf("%w: codebook %d has dimension %d, want %d", ErrDimensionMismatch, i, cb.dim, a.dim)
		}
		a.offsets[i] = a.length
		a.length += cb.k * cb.dim
	}

	for _, fn := range optFns {
		fn(&a.opts)
	}
	return a, nil
}

// Length returns the aggregated vector length, Σ K_i × D.
func (a *Aggregator) Length() int { return a.length }

// DescriptorDim returns the expected descriptor length.
func (a *Aggregator) DescriptorDim() int { return a.dim }

// Aggregate returns the VLAD vector of descs. Each descriptor adds its
// residual to the slot of its nearest centroid in every codebook. An empty
// input yields an all-zero vector.
func (a *Aggregator) Aggregate(descs [][]float32) ([]float32, error) {
	out := make([]float32, a.length)

	for i, d := range descs {
		if len(d) != a.dim {
			return nil, fmt.Errorf("%w: descriptor %d has length %d, want %d", ErrDimensionMismatch, i, len(d), a.dim)
		}
		for b, cb := range a.codebooks {
			c := cb.Nearest(d)
			if c < 0 {
				// NaN components match no centroid.
				continue
			}
			slot := out[a.offsets[b]+c*a.dim : a.offsets[b]+(c+1)*a.dim]
			math32.AddSub(slot, d, cb.Centroid(c))
		}
	}

	if len(descs) > 0 {
		a.normalize(out)
	}
	return out, nil
}

func (a *Aggregator) normalize(v []float32) {
	power := a.opts.powerAlpha > 0 && a.opts.powerAlpha < 1
	if !power && !a.opts.l2 {
		return
	}
	for b, cb := range a.codebooks {
		block := v[a.offsets[b] : a.offsets[b]+cb.k*cb.dim]
		if power {
			math32.PowerNormalizeInPlace(block, a.opts.powerAlpha)
		}
		if a.opts.l2 {
			math32.NormalizeL2InPlace(block)
		}
	}
}
