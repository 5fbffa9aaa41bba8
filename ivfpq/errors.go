package ivfpq

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by Insert and Restore before Configure.
	ErrNotConfigured = errors.New("ivfpq: index not configured")
	// ErrAlreadyConfigured is returned when Configure would replace the
	// quantizers of an index that already holds entries.
	ErrAlreadyConfigured = errors.New("ivfpq: index already configured with different quantizers")
	// ErrAlreadyIndexed is returned when inserting an id that is present or
	// still waiting to be purged.
	ErrAlreadyIndexed = errors.New("ivfpq: id already indexed")
	// ErrInvalidConfiguration is returned for missing or inconsistent quantizers.
	ErrInvalidConfiguration = errors.New("ivfpq: invalid configuration")
	// ErrInvalidID is returned for empty ids.
	ErrInvalidID = errors.New("ivfpq: invalid id")
	// ErrStorage wraps failures of the storage backend.
	ErrStorage = errors.New("ivfpq: storage failure")
	// ErrNonFiniteVector is returned for vectors holding NaN or Inf components.
	ErrNonFiniteVector = errors.New("ivfpq: vector has non-finite components")
	// ErrNotEmpty is returned by Restore on an index that already holds entries.
	ErrNotEmpty = errors.New("ivfpq: index not empty")
)

// DimensionError reports a vector or quantizer whose dimension does not
// match the index.
type DimensionError struct {
	Expected int
	Actual   int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("ivfpq: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}
