package feature

import (
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/visualindex/imageio"
)

// ErrInvalidOptions is returned by New for out-of-range options.
var ErrInvalidOptions = errors.New("feature: invalid options")

// Descriptor is a local interest point with its upright SURF vector.
type Descriptor struct {
	X, Y     float32
	Scale    float32
	Response float32
	// Laplacian is the sign of the Hessian trace: +1 for dark-on-bright blobs, -1 otherwise.
	Laplacian int8
	Vector    []float32
}

// Options configures the extractor. Zero fields take the defaults.
type Options struct {
	MinDimension int     // images with a smaller side yield no descriptors (default 32)
	Octaves      int     // default 4
	Intervals    int     // filter sizes per octave, at least 3 (default 4)
	InitSample   int     // sampling step of the first octave (default 2)
	Threshold    float64 // minimum Hessian response on [0,1] luminance (default 0.0004)
	MaxFeatures  int     // keep the strongest N descriptors, 0 keeps all
}

// DefaultOptions returns the default extractor options.
func DefaultOptions() Options {
	return Options{
		MinDimension: 32,
		Octaves:      4,
		Intervals:    4,
		InitSample:   2,
		Threshold:    0.0004,
	}
}

// Extractor detects fast-Hessian interest points and describes them with
// upright SURF descriptors. It holds no per-call state and is safe for
// concurrent use.
type Extractor struct {
	opts Options
}

// New creates an Extractor.
func New(opts Options) (*Extractor, error) {
	def := DefaultOptions()
	if opts.MinDimension == 0 {
		opts.MinDimension = def.MinDimension
	}
	if opts.Octaves == 0 {
		opts.Octaves = def.Octaves
	}
	if opts.Intervals == 0 {
		opts.Intervals = def.Intervals
	}
	if opts.InitSample == 0 {
		opts.InitSample = def.InitSample
	}
	if opts.Threshold == 0 {
		opts.Threshold = def.Threshold
	}

	switch {
	case opts.Octaves < 1 || opts.Octaves > 8:
		return nil, fmt.Errorf("%w: octaves %d", ErrInvalidOptions, opts.Octaves)
	case opts.Intervals < 3:
		return nil, fmt.Errorf("%w: intervals %d", ErrInvalidOptions, opts.Intervals)
	case opts.InitSample < 1:
		return nil, fmt.Errorf("%w: init sample %d", ErrInvalidOptions, opts.InitSample)
	case opts.Threshold < 0 || opts.MaxFeatures < 0 || opts.MinDimension < 0:
		return nil, fmt.Errorf("%w: negative value", ErrInvalidOptions)
	}

	return &Extractor{opts: opts}, nil
}

// Options returns the effective options.
func (e *Extractor) Options() Options { return e.opts }

// Extract returns the descriptors of img in detection order (octave, interval,
// row, column), or strongest first when MaxFeatures is set. Images below the
// minimum dimension and featureless images give an empty result.
func (e *Extractor) Extract(img *imageio.Image) ([]Descriptor, error) {
	if img == nil || len(img.Pix) != img.Width*img.Height {
		return nil, fmt.Errorf("%w: malformed image buffer", imageio.ErrDecode)
	}
	if img.Width < e.opts.MinDimension || img.Height < e.opts.MinDimension {
		return nil, nil
	}

	ii := newIntegral(img)
	kps := e.detect(ii)

	if e.opts.MaxFeatures > 0 && len(kps) > e.opts.MaxFeatures {
		sort.SliceStable(kps, func(i, j int) bool { return kps[i].response > kps[j].response })
		kps = kps[:e.opts.MaxFeatures]
	}

	descs := make([]Descriptor, 0, len(kps))
	for _, kp := range kps {
		vec, ok := describe(ii, kp)
		if !ok {
			continue
		}
		lap := int8(-1)
		if kp.laplacian {
			lap = 1
		}
		descs = append(descs, Descriptor{
			X:         float32(kp.x),
			Y:         float32(kp.y),
			Scale:     float32(kp.scale),
			Response:  kp.response,
			Laplacian: lap,
			Vector:    vec,
		})
	}
	return descs, nil
}

// Vectors returns the descriptor vectors of descs.
func Vectors(descs []Descriptor) [][]float32 {
	out := make([][]float32, len(descs))
	for i := range descs {
		out[i] = descs[i].Vector
	}
	return out
}
