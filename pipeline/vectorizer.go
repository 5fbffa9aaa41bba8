package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/visualindex/feature"
	"github.com/hupe1980/visualindex/imageio"
)

// Extractor produces local descriptors for an image.
type Extractor interface {
	Extract(img *imageio.Image) ([]feature.Descriptor, error)
}

// Aggregator turns a descriptor set into a fixed-length vector.
type Aggregator interface {
	Aggregate(descs [][]float32) ([]float32, error)
	Length() int
}

// Projector reduces an aggregated vector to the final feature vector.
type Projector interface {
	Project(vec []float32) ([]float32, error)
	Check(inputDim int) error
	OutputDim() int
}

// VectorizerOption configures a Vectorizer.
type VectorizerOption func(*Vectorizer)

// WithFetcher sets the fetcher used for Task.Location. Defaults to
// imageio.NewFetcher with zero options.
func WithFetcher(f imageio.Fetcher) VectorizerOption {
	return func(v *Vectorizer) {
		v.fetcher = f
	}
}

// WithImageOptions sets the decode options (pixel budget).
func WithImageOptions(opts imageio.Options) VectorizerOption {
	return func(v *Vectorizer) {
		v.imageOpts = opts
	}
}

// Vectorizer runs decode, extraction, aggregation and projection for one
// image. It is read-only after construction and safe for concurrent use.
type Vectorizer struct {
	extractor  Extractor
	aggregator Aggregator
	projector  Projector
	fetcher    imageio.Fetcher
	imageOpts  imageio.Options
}

// NewVectorizer wires the three stages together. A projector whose input
// length differs from the aggregator output is rejected here, never per image.
func NewVectorizer(ext Extractor, agg Aggregator, proj Projector, optFns ...VectorizerOption) (*Vectorizer, error) {
	if ext == nil || agg == nil || proj == nil {
		return nil, fmt.Errorf("%w: missing stage", ErrConfiguration)
	}
	if err := proj.Check(agg.Length()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	v := &Vectorizer{
		extractor:  ext,
		aggregator: agg,
		projector:  proj,
	}
	for _, fn := range optFns {
		fn(v)
	}
	if v.fetcher == nil {
		v.fetcher = imageio.NewFetcher(imageio.FetcherOptions{})
	}
	return v, nil
}

// Dimension returns the length of produced feature vectors.
func (v *Vectorizer) Dimension() int { return v.projector.OutputDim() }

// Vectorize computes the feature vector of the task's image. On failure the
// returned Reason classifies the error.
func (v *Vectorizer) Vectorize(ctx context.Context, task Task) ([]float32, Reason, error) {
	if err := task.validate(); err != nil {
		return nil, ReasonInternal, err
	}

	img := task.Image
	if img == nil {
		data := task.Data
		if task.Location != "" {
			var err error
			if data, err = v.fetcher.Fetch(ctx, task.Location); err != nil {
				return nil, ReasonDecode, err
			}
		}
		decoded, _, err := imageio.Decode(data, v.imageOpts)
		if err != nil {
			return nil, ReasonDecode, err
		}
		img = decoded
	}

	if err := ctx.Err(); err != nil {
		return nil, ReasonInternal, err
	}

	descs, err := v.extractor.Extract(img)
	if err != nil {
		if errors.Is(err, imageio.ErrDecode) {
			return nil, ReasonDecode, err
		}
		return nil, ReasonExtraction, err
	}

	agg, err := v.aggregator.Aggregate(feature.Vectors(descs))
	if err != nil {
		return nil, ReasonInternal, err
	}

	if err := ctx.Err(); err != nil {
		return nil, ReasonInternal, err
	}

	vec, err := v.projector.Project(agg)
	if err != nil {
		return nil, ReasonInternal, err
	}
	return vec, ReasonNone, nil
}
