package quantization

import (
	"errors"
	"fmt"
)

// ErrInvalidParameter is returned for malformed quantizer shapes or buffers.
var ErrInvalidParameter = errors.New("quantization: invalid parameter")

// DimensionError indicates a vector whose length does not match the quantizer.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("quantization: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// TrainOptions controls quantizer training.
type TrainOptions struct {
	// MaxIter bounds k-means iterations. Defaults to 20.
	MaxIter int
	// Seed makes training reproducible.
	Seed int64
}
