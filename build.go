package visualindex

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/visualindex/feature"
	"github.com/hupe1980/visualindex/ivfpq"
	"github.com/hupe1980/visualindex/pca"
	"github.com/hupe1980/visualindex/pipeline"
	"github.com/hupe1980/visualindex/quantization"
	"github.com/hupe1980/visualindex/storage/memory"
	"github.com/hupe1980/visualindex/vlad"
)

// Build loads the models, checks that their dimensions fit together,
// configures the index, restores persisted entries from the backend and
// starts the pipeline and maintenance jobs. Any failure leaves the Indexer
// not ready; model problems are reported as ErrConfiguration.
//
// Build on a ready Indexer is a no-op.
func (ix *Indexer) Build(ctx context.Context) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	switch ix.state {
	case stateReady:
		return nil
	case stateClosed:
		return ErrClosed
	}

	start := time.Now()
	vec, err := ix.buildVectorizer()
	if err != nil {
		return ix.buildFailed(ctx, err)
	}
	coarse, pq, err := ix.loadQuantizers()
	if err != nil {
		return ix.buildFailed(ctx, err)
	}
	if coarse.Dimension() != vec.Dimension() {
		return ix.buildFailed(ctx, fmt.Errorf("%w: coarse quantizer: %w", ErrConfiguration,
			&ErrDimensionMismatch{Expected: vec.Dimension(), Actual: coarse.Dimension()}))
	}

	backend := ix.opts.backend
	if backend == nil {
		backend = memory.New()
	}
	index := ivfpq.New(ivfpq.WithBackend(backend), ivfpq.WithLogger(ix.logger.Logger))
	if err := index.Configure(coarse, pq, ix.opts.probes); err != nil {
		return ix.buildFailed(ctx, fmt.Errorf("%w: %w", ErrConfiguration, err))
	}
	if err := index.Restore(ctx); err != nil {
		return ix.buildFailed(ctx, translateError(err))
	}

	ix.vectorizer = vec
	ix.index = index

	m, err := startMaintenance(ix.logger, maintenanceTasks{
		syncInterval:  ix.opts.syncInterval,
		sync:          index.Sync,
		purgeSchedule: ix.opts.purgeSchedule,
		purge:         ix.purge,
	})
	if err != nil {
		ix.vectorizer, ix.index = nil, nil
		return ix.buildFailed(ctx, err)
	}
	ix.maintenance = m
	ix.pool = pipeline.NewPool(vec,
		pipeline.WithWorkers(ix.opts.workers),
		pipeline.WithMaxOutstanding(ix.opts.maxOutstanding),
		pipeline.WithLogger(ix.logger.Logger),
	)
	ix.state = stateReady

	ix.logger.InfoContext(ctx, "indexer ready",
		"dimension", vec.Dimension(),
		"cells", coarse.NumCells(),
		"subvectors", pq.NumSubvectors(),
		"probes", index.Stats().Probes,
		"restored", index.Len(),
		"elapsed", time.Since(start),
	)
	return nil
}

func (ix *Indexer) buildFailed(ctx context.Context, err error) error {
	ix.logger.ErrorContext(ctx, "build failed", "error", err)
	return err
}

func (ix *Indexer) buildVectorizer() (*pipeline.Vectorizer, error) {
	o := ix.opts

	ext, err := feature.New(o.extractorOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	cbs := o.codebooks
	if len(cbs) == 0 {
		for _, path := range o.files.Codebooks {
			cb, err := vlad.LoadCodebook(path)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
			}
			cbs = append(cbs, cb)
		}
	}
	if len(cbs) == 0 {
		return nil, fmt.Errorf("%w: no codebooks", ErrConfiguration)
	}
	agg, err := vlad.NewAggregator(cbs, o.vladOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if agg.DescriptorDim() != feature.DescriptorSize {
		return nil, fmt.Errorf("%w: codebook: %w", ErrConfiguration,
			&ErrDimensionMismatch{Expected: feature.DescriptorSize, Actual: agg.DescriptorDim()})
	}

	proj := o.projection
	if proj == nil {
		if o.files.PCA != "" {
			var popts []pca.Option
			if o.whitening {
				popts = append(popts, pca.WithWhitening())
			}
			if proj, err = pca.Load(o.files.PCA, o.pcaDim, popts...); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
			}
		} else {
			proj = pca.Identity(agg.Length())
		}
	}

	var vopts []pipeline.VectorizerOption
	if o.fetcher != nil {
		vopts = append(vopts, pipeline.WithFetcher(o.fetcher))
	}
	vopts = append(vopts, pipeline.WithImageOptions(o.imageOpts))

	vec, err := pipeline.NewVectorizer(ext, agg, proj, vopts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return vec, nil
}

func (ix *Indexer) loadQuantizers() (*quantization.CoarseQuantizer, *quantization.ProductQuantizer, error) {
	coarse, pq := ix.opts.coarse, ix.opts.pq

	var err error
	if coarse == nil {
		if ix.opts.files.Coarse == "" {
			return nil, nil, fmt.Errorf("%w: no coarse quantizer", ErrConfiguration)
		}
		if coarse, err = quantization.LoadCoarseQuantizer(ix.opts.files.Coarse); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	if pq == nil {
		if ix.opts.files.PQ == "" {
			return nil, nil, fmt.Errorf("%w: no product quantizer", ErrConfiguration)
		}
		if pq, err = quantization.LoadProductQuantizer(ix.opts.files.PQ); err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
		}
	}
	return coarse, pq, nil
}
