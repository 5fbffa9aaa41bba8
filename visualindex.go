package visualindex

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hupe1980/visualindex/ivfpq"
	"github.com/hupe1980/visualindex/pipeline"
)

type state uint8

const (
	stateNew state = iota
	stateReady
	stateClosed
)

// Indexer is the composition root of an image index. It owns the
// vectorization pipeline, the IVFPQ index and its storage backend.
//
// An Indexer is created with New, becomes usable after Build succeeds and
// is released with Close. Every operation is safe for concurrent use.
type Indexer struct {
	opts    options
	logger  *Logger
	metrics MetricsCollector

	mu          sync.RWMutex
	state       state
	vectorizer  *pipeline.Vectorizer
	pool        *pipeline.Pool
	index       *ivfpq.Index
	maintenance *maintenance
}

// Stats is a point-in-time summary of an Indexer.
type Stats struct {
	ivfpq.Stats
	Dimension      int
	Workers        int
	MaxOutstanding int
	Outstanding    int
}

// New creates an Indexer. No model is loaded until Build.
func New(optFns ...Option) *Indexer {
	o := applyOptions(optFns)
	return &Indexer{
		opts:    o,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}
}

// Ready reports whether Build has succeeded and Close has not been called.
func (ix *Indexer) Ready() bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.state == stateReady
}

// Dimension returns the length of feature vectors, or 0 before Build.
func (ix *Indexer) Dimension() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.vectorizer == nil {
		return 0
	}
	return ix.vectorizer.Dimension()
}

// acquire holds the read lock while the Indexer is ready. The returned
// release func must be called when the operation is done.
func (ix *Indexer) acquire() (func(), error) {
	ix.mu.RLock()
	switch ix.state {
	case stateNew:
		ix.mu.RUnlock()
		return nil, ErrNotReady
	case stateClosed:
		ix.mu.RUnlock()
		return nil, ErrClosed
	}
	return ix.mu.RUnlock, nil
}

// Len returns the number of live entries.
func (ix *Indexer) Len() int {
	release, err := ix.acquire()
	if err != nil {
		return 0
	}
	defer release()
	return ix.index.Len()
}

// IsPresent reports whether id is indexed and not deleted.
func (ix *Indexer) IsPresent(id string) bool {
	release, err := ix.acquire()
	if err != nil {
		return false
	}
	defer release()
	return ix.index.IsPresent(id)
}

// Stats returns index and pipeline statistics.
func (ix *Indexer) Stats() (Stats, error) {
	release, err := ix.acquire()
	if err != nil {
		return Stats{}, err
	}
	defer release()
	return Stats{
		Stats:          ix.index.Stats(),
		Dimension:      ix.vectorizer.Dimension(),
		Workers:        ix.pool.Workers(),
		MaxOutstanding: ix.pool.MaxOutstanding(),
		Outstanding:    ix.pool.Outstanding(),
	}, nil
}

// Sync flushes buffered backend writes.
func (ix *Indexer) Sync(ctx context.Context) error {
	release, err := ix.acquire()
	if err != nil {
		return err
	}
	defer release()

	err = translateError(ix.index.Sync(ctx))
	ix.logger.LogSync(ctx, err)
	return err
}

// Close stops the maintenance jobs, waits up to the shutdown grace for
// in-flight images, purges pending deletes, syncs and closes the storage
// backend. Results still waiting in the pipeline are discarded. Calling
// Close again is a no-op.
//
// Delete marks are held in memory only. A process that exits without Close
// or Purge keeps the marked entries in the backend and restores them.
func (ix *Indexer) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.state == stateClosed {
		return nil
	}
	wasReady := ix.state == stateReady
	ix.state = stateClosed
	if !wasReady {
		if ix.opts.backend != nil {
			return translateError(ix.opts.backend.Close())
		}
		return nil
	}

	start := time.Now()
	ix.maintenance.stop()

	var errs []error
	if err := ix.pool.Shutdown(ix.opts.shutdownGrace); err != nil {
		errs = append(errs, err)
	}
	ctx := context.Background()
	if ix.index.Stats().PendingPurge > 0 {
		if _, err := ix.purge(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := ix.index.Sync(ctx); err != nil {
		errs = append(errs, translateError(err))
	}
	if err := ix.index.Close(); err != nil {
		errs = append(errs, translateError(err))
	}

	err := errors.Join(errs...)
	if err != nil {
		ix.logger.Error("close failed", "error", err)
	} else {
		ix.logger.Info("indexer closed", "elapsed", time.Since(start))
	}
	return err
}
