package visualindex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/visualindex/feature"
	"github.com/hupe1980/visualindex/imageio"
	"github.com/hupe1980/visualindex/internal/matio"
	"github.com/hupe1980/visualindex/ivfpq"
	"github.com/hupe1980/visualindex/pca"
	"github.com/hupe1980/visualindex/pipeline"
	"github.com/hupe1980/visualindex/quantization"
	"github.com/hupe1980/visualindex/storage"
	"github.com/hupe1980/visualindex/vlad"
)

var (
	// ErrConfiguration is returned by Build for missing or inconsistent models.
	// The Indexer never becomes ready after it.
	ErrConfiguration = errors.New("visualindex: configuration error")
	// ErrDecode is returned when an image cannot be fetched or decoded.
	ErrDecode = errors.New("visualindex: decode error")
	// ErrAlreadyIndexed is returned when inserting an id that is already present.
	ErrAlreadyIndexed = errors.New("visualindex: id already indexed")
	// ErrNotConfigured is returned when the index has no quantizers.
	ErrNotConfigured = errors.New("visualindex: index not configured")
	// ErrStorage wraps failures of the storage backend.
	ErrStorage = errors.New("visualindex: storage error")
	// ErrNotReady is returned by operations called before Build succeeded.
	ErrNotReady = errors.New("visualindex: indexer not ready")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("visualindex: indexer closed")
	// ErrBackpressure is returned when too many images are being vectorized.
	ErrBackpressure = errors.New("visualindex: too many outstanding tasks")
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("visualindex: k must be positive")
	// ErrNotFound is returned by SearchBuilder.First when nothing matched.
	ErrNotFound = errors.New("visualindex: not found")
	// ErrInvalidID is returned for empty ids.
	ErrInvalidID = errors.New("visualindex: invalid id")
	// ErrInvalidVector is returned for vectors holding NaN or Inf components.
	ErrInvalidVector = errors.New("visualindex: invalid vector")
)

// ErrDimensionMismatch indicates a vector whose length differs from the
// index dimension.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var idm *ivfpq.DimensionError
	if errors.As(err, &idm) {
		return &ErrDimensionMismatch{Expected: idm.Expected, Actual: idm.Actual, cause: err}
	}
	var qdm *quantization.DimensionError
	if errors.As(err, &qdm) {
		return &ErrDimensionMismatch{Expected: qdm.Expected, Actual: qdm.Actual, cause: err}
	}

	switch {
	case errors.Is(err, ivfpq.ErrAlreadyIndexed):
		return fmt.Errorf("%w: %w", ErrAlreadyIndexed, err)
	case errors.Is(err, ivfpq.ErrNotConfigured):
		return fmt.Errorf("%w: %w", ErrNotConfigured, err)
	case errors.Is(err, ivfpq.ErrInvalidID), errors.Is(err, pipeline.ErrInvalidTask):
		return fmt.Errorf("%w: %w", ErrInvalidID, err)
	case errors.Is(err, ivfpq.ErrNonFiniteVector):
		return fmt.Errorf("%w: %w", ErrInvalidVector, err)
	case errors.Is(err, ivfpq.ErrStorage), errors.Is(err, storage.ErrBackend), errors.Is(err, storage.ErrClosed):
		return fmt.Errorf("%w: %w", ErrStorage, err)
	case errors.Is(err, imageio.ErrDecode), errors.Is(err, imageio.ErrFetch):
		return fmt.Errorf("%w: %w", ErrDecode, err)
	case errors.Is(err, pipeline.ErrBackpressure):
		return fmt.Errorf("%w: %w", ErrBackpressure, err)
	case errors.Is(err, pipeline.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case isConfigurationError(err):
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return err
}

func isConfigurationError(err error) bool {
	for _, target := range []error{
		ivfpq.ErrInvalidConfiguration,
		ivfpq.ErrAlreadyConfigured,
		pipeline.ErrConfiguration,
		vlad.ErrInvalidCodebook,
		vlad.ErrDimensionMismatch,
		pca.ErrInvalidProjection,
		pca.ErrCorruptFile,
		pca.ErrDimensionMismatch,
		quantization.ErrInvalidParameter,
		quantization.ErrCorruptModel,
		feature.ErrInvalidOptions,
		matio.ErrCorrupt,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
