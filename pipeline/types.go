package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/visualindex/imageio"
)

var (
	// ErrBackpressure is returned by Submit when the outstanding-task ceiling is reached.
	ErrBackpressure = errors.New("pipeline: too many outstanding tasks")
	// ErrClosed is returned after Shutdown.
	ErrClosed = errors.New("pipeline: closed")
	// ErrShutdownTimeout is returned when in-flight tasks outlive the grace period.
	ErrShutdownTimeout = errors.New("pipeline: shutdown grace period elapsed")
	// ErrInvalidTask is returned for tasks without exactly one image source.
	ErrInvalidTask = errors.New("pipeline: invalid task")
	// ErrConfiguration is returned when the stages do not fit together.
	ErrConfiguration = errors.New("pipeline: configuration error")
)

// Reason classifies a failed result.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonDecode
	ReasonExtraction
	ReasonInternal
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonDecode:
		return "decode"
	case ReasonExtraction:
		return "extraction"
	case ReasonInternal:
		return "internal"
	default:
		return fmt.Sprintf("Reason(%d)", uint8(r))
	}
}

// Task is one image to vectorize. Exactly one of Image, Data or Location must be set.
type Task struct {
	ID       string
	Image    *imageio.Image
	Data     []byte
	Location string
}

func (t Task) validate() error {
	n := 0
	if t.Image != nil {
		n++
	}
	if len(t.Data) > 0 {
		n++
	}
	if t.Location != "" {
		n++
	}
	if n != 1 {
		return fmt.Errorf("%w: %q has %d image sources", ErrInvalidTask, t.ID, n)
	}
	return nil
}

// Result is the outcome of a task. Err is nil on success.
type Result struct {
	ID      string
	Vector  []float32
	Err     error
	Reason  Reason
	Elapsed time.Duration
}

// OK reports whether the task succeeded.
func (r Result) OK() bool { return r.Err == nil }
