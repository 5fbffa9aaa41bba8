// Package pca projects aggregated vectors onto their leading principal
// components, optionally whitening them.
package pca

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrInvalidProjection is returned for inconsistent projection parameters.
	ErrInvalidProjection = errors.New("pca: invalid projection")
	// ErrDimensionMismatch is returned when an input vector's length differs
	// from the projection's input dimension.
	ErrDimensionMismatch = errors.New("pca: dimension mismatch")
)

// DefaultEpsilon is added to eigenvalues before whitening.
const DefaultEpsilon = 1e-6

// Option configures a Projection.
type Option func(*options)

type options struct {
	whiten  bool
	epsilon float64
}

// WithWhitening divides each projected component by sqrt(eigenvalue + ε).
func WithWhitening() Option {
	return func(o *options) {
		o.whiten = true
	}
}

// WithEpsilon sets the whitening regularizer. Defaults to DefaultEpsilon.
func WithEpsilon(eps float64) Option {
	return func(o *options) {
		o.epsilon = eps
	}
}

// Projection is an immutable mean-centring linear map from inputDim to
// outputDim values. Safe for concurrent use.
type Projection struct {
	inputDim  int
	outputDim int
	identity  bool

	mean        []float64
	components  *mat.Dense // outputDim × inputDim, one component per row
	eigenvalues []float64
	scale       []float64 // whitening factors, nil when disabled

	opts options
}

// New creates a projection from a mean vector, principal components (one per
// row, flattened) and their eigenvalues, keeping the first targetDim
// components. targetDim <= 0 keeps all of them. If targetDim is not smaller
// than the input dimension the projection is the identity.
func New(mean, components, eigenvalues []float32, targetDim int, optFns ...Option) (*Projection, error) {
	inputDim := len(mean)
	if inputDim == 0 {
		return nil, fmt.Errorf("%w: empty mean vector", ErrInvalidProjection)
	}
	if targetDim >= inputDim {
		return Identity(inputDim), nil
	}
	if len(components)%inputDim != 0 {
		return nil, fmt.Errorf("%w: %d component values are not a multiple of %d", ErrInvalidProjection, len(components), inputDim)
	}

	available := len(components) / inputDim
	if targetDim <= 0 {
		targetDim = available
	}
	if targetDim == 0 || targetDim > available {
		return nil, fmt.Errorf("%w: target dimension %d, %d components available", ErrInvalidProjection, targetDim, available)
	}
	if len(eigenvalues) < targetDim {
		return nil, fmt.Errorf("%w: %d eigenvalues for %d components", ErrInvalidProjection, len(eigenvalues), targetDim)
	}

	comp := make([]float64, targetDim*inputDim)
	for i := range comp {
		comp[i] = float64(components[i])
	}
	eig := make([]float64, targetDim)
	for i := range eig {
		eig[i] = float64(eigenvalues[i])
	}
	return newProjection(toFloat64(mean), mat.NewDense(targetDim, inputDim, comp), eig, optFns)
}

func newProjection(mean []float64, components *mat.Dense, eig []float64, optFns []Option) (*Projection, error) {
	p := &Projection{
		mean:        mean,
		components:  components,
		eigenvalues: eig,
		opts:        options{epsilon: DefaultEpsilon},
	}
	p.outputDim, p.inputDim = components.Dims()
	for _, fn := range optFns {
		fn(&p.opts)
	}

	if p.opts.whiten {
		p.scale = make([]float64, p.outputDim)
		for i, e := range eig {
			if e < 0 {
				return nil, fmt.Errorf("%w: negative eigenvalue %g at %d", ErrInvalidProjection, e, i)
			}
			p.scale[i] = 1 / math.Sqrt(e+p.opts.epsilon)
		}
	}
	return p, nil
}

// Identity returns a projection that copies vectors of length dim.
func Identity(dim int) *Projection {
	return &Projection{inputDim: dim, outputDim: dim, identity: true}
}

// InputDim returns the expected input length.
func (p *Projection) InputDim() int { return p.inputDim }

// OutputDim returns the projected length.
func (p *Projection) OutputDim() int { return p.outputDim }

// IsIdentity reports whether Project copies its input.
func (p *Projection) IsIdentity() bool { return p.identity }

// Whitening reports whether whitening is applied.
func (p *Projection) Whitening() bool { return p.scale != nil }

// Check validates that vectors of length inputDim can be projected.
func (p *Projection) Check(inputDim int) error {
	if inputDim != p.inputDim {
		return fmt.Errorf("%w: input has %d values, projection expects %d", ErrDimensionMismatch, inputDim, p.inputDim)
	}
	return nil
}

// Project mean-centres vec and maps it onto the principal components.
func (p *Projection) Project(vec []float32) ([]float32, error) {
	if err := p.Check(len(vec)); err != nil {
		return nil, err
	}
	if p.identity {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}

	centred := make([]float64, p.inputDim)
	for i, v := range vec {
		centred[i] = float64(v) - p.mean[i]
	}

	var proj mat.VecDense
	proj.MulVec(p.components, mat.NewVecDense(p.inputDim, centred))

	out := make([]float32, p.outputDim)
	for i := range out {
		v := proj.AtVec(i)
		if p.scale != nil {
			v *= p.scale[i]
		}
		out[i] = float32(v)
	}
	return out, nil
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
