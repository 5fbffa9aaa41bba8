package pca

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Fit learns a projection onto the targetDim leading principal components of
// samples. It returns the identity when targetDim is not smaller than the
// sample dimension.
func Fit(samples [][]float32, targetDim int, optFns ...Option) (*Projection, error) {
	if len(samples) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 samples, got %d", ErrInvalidProjection, len(samples))
	}
	dim := len(samples[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty samples", ErrInvalidProjection)
	}
	if targetDim >= dim {
		return Identity(dim), nil
	}
	if targetDim <= 0 {
		return nil, fmt.Errorf("%w: target dimension %d", ErrInvalidProjection, targetDim)
	}

	x := mat.NewDense(len(samples), dim, nil)
	for i, s := range samples {
		if len(s) != dim {
			return nil, fmt.Errorf("%w: sample %d has %d values, want %d", ErrDimensionMismatch, i, len(s), dim)
		}
		for j, v := range s {
			x.Set(i, j, float64(v))
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(x, nil); !ok {
		return nil, fmt.Errorf("%w: decomposition failed", ErrInvalidProjection)
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	vars := pc.VarsTo(nil)

	if _, k := vecs.Dims(); k < targetDim {
		return nil, fmt.Errorf("%w: only %d components from %d samples, want %d", ErrInvalidProjection, k, len(samples), targetDim)
	}

	mean := make([]float64, dim)
	for j := range mean {
		mean[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}

	components := mat.NewDense(targetDim, dim, nil)
	components.Copy(vecs.Slice(0, dim, 0, targetDim).T())

	return newProjection(mean, components, vars[:targetDim:targetDim], optFns)
}
