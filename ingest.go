package visualindex

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/visualindex/pipeline"
)

// IndexResult is the outcome of indexing one image. Reason classifies
// vectorization failures and is ReasonNone when the insert itself failed.
type IndexResult struct {
	ID      string
	Err     error
	Reason  pipeline.Reason
	Elapsed time.Duration
}

// OK reports whether the image was indexed.
func (r IndexResult) OK() bool { return r.Err == nil }

// Vectorize computes the feature vector of one image on the calling
// goroutine.
func (ix *Indexer) Vectorize(ctx context.Context, task pipeline.Task) ([]float32, error) {
	release, err := ix.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	vec, _, err := ix.vectorizer.Vectorize(ctx, task)
	err = translateError(err)
	elapsed := time.Since(start)
	ix.metrics.RecordVectorize(elapsed, err)
	ix.logger.LogVectorize(ctx, task.ID, elapsed, err)
	return vec, err
}

// Insert adds a precomputed feature vector under id.
func (ix *Indexer) Insert(ctx context.Context, id string, vec []float32) error {
	release, err := ix.acquire()
	if err != nil {
		return err
	}
	defer release()
	return ix.insert(ctx, id, vec)
}

func (ix *Indexer) insert(ctx context.Context, id string, vec []float32) error {
	start := time.Now()
	err := translateError(ix.index.Insert(ctx, id, vec))
	ix.metrics.RecordInsert(time.Since(start), err)
	ix.logger.LogInsert(ctx, id, err)
	return err
}

// IndexImage vectorizes one image and inserts it under task.ID.
func (ix *Indexer) IndexImage(ctx context.Context, task pipeline.Task) error {
	vec, err := ix.Vectorize(ctx, task)
	if err != nil {
		return err
	}
	return ix.Insert(ctx, task.ID, vec)
}

// IndexBatch indexes tasks with as many concurrent vectorizations as the
// pipeline has workers. Failures of single images are reported in the
// returned results, which are in task order. The error is non-nil only if
// the Indexer is not usable or ctx is done.
func (ix *Indexer) IndexBatch(ctx context.Context, tasks []pipeline.Task) ([]IndexResult, error) {
	release, err := ix.acquire()
	if err != nil {
		return nil, err
	}
	workers, vectorizer := ix.pool.Workers(), ix.vectorizer
	release()

	results := make([]IndexResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, task := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			vec, reason, err := vectorizer.Vectorize(gctx, task)
			results[i] = ix.complete(gctx, pipeline.Result{
				ID:      task.ID,
				Vector:  vec,
				Err:     err,
				Reason:  reason,
				Elapsed: time.Since(start),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if !r.OK() {
			failed++
		}
	}
	ix.logger.LogBatch(ctx, len(tasks), failed)
	return results, nil
}

// Submit hands an image to the vectorization pipeline without blocking.
// It returns ErrBackpressure while MaxOutstanding images have been
// submitted but not retrieved with Poll or Take.
func (ix *Indexer) Submit(task pipeline.Task) error {
	pool, err := ix.currentPool()
	if err != nil {
		return err
	}
	err = pool.Submit(task)
	if errors.Is(err, pipeline.ErrBackpressure) {
		ix.metrics.RecordBackpressure()
	}
	return translateError(err)
}

// SubmitWait is like Submit but blocks until the pipeline has capacity or
// ctx is done.
func (ix *Indexer) SubmitWait(ctx context.Context, task pipeline.Task) error {
	pool, err := ix.currentPool()
	if err != nil {
		return err
	}
	return translateError(pool.SubmitWait(ctx, task))
}

// CanAcceptMoreTasks reports whether Submit would currently accept a task.
func (ix *Indexer) CanAcceptMoreTasks() bool {
	pool, err := ix.currentPool()
	if err != nil {
		return false
	}
	return pool.CanAcceptMoreTasks()
}

// Poll retrieves the next vectorized image, if any, and inserts it into
// the index. It never blocks on the pipeline.
func (ix *Indexer) Poll(ctx context.Context) (IndexResult, bool) {
	pool, err := ix.currentPool()
	if err != nil {
		return IndexResult{}, false
	}
	res, ok := pool.Poll()
	if !ok {
		return IndexResult{}, false
	}
	return ix.complete(ctx, res), true
}

// Take waits for the next vectorized image and inserts it into the index.
func (ix *Indexer) Take(ctx context.Context) (IndexResult, error) {
	pool, err := ix.currentPool()
	if err != nil {
		return IndexResult{}, err
	}
	res, err := pool.Take(ctx)
	if err != nil {
		return IndexResult{}, translateError(err)
	}
	return ix.complete(ctx, res), nil
}

func (ix *Indexer) currentPool() (*pipeline.Pool, error) {
	release, err := ix.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return ix.pool, nil
}

func (ix *Indexer) complete(ctx context.Context, res pipeline.Result) IndexResult {
	out := IndexResult{ID: res.ID, Reason: res.Reason, Elapsed: res.Elapsed}
	if !res.OK() {
		out.Err = translateError(res.Err)
		ix.metrics.RecordVectorize(res.Elapsed, out.Err)
		ix.logger.LogVectorize(ctx, res.ID, res.Elapsed, out.Err)
		return out
	}
	ix.metrics.RecordVectorize(res.Elapsed, nil)

	release, err := ix.acquire()
	if err != nil {
		out.Err = err
		return out
	}
	defer release()
	out.Err = ix.insert(ctx, res.ID, res.Vector)
	return out
}

// Delete marks ids as deleted. They disappear from search results at once
// and are physically removed by the next Purge, at the latest by Close.
// Unknown ids, and ids whose insert is still in progress, are ignored.
func (ix *Indexer) Delete(ctx context.Context, ids ...string) (int, error) {
	release, err := ix.acquire()
	if err != nil {
		return 0, err
	}
	defer release()

	start := time.Now()
	n, err := ix.index.Delete(ctx, ids...)
	err = translateError(err)
	ix.metrics.RecordDelete(n, time.Since(start), err)
	ix.logger.LogDelete(ctx, len(ids), n, err)
	return n, err
}

// Purge removes deleted entries from the index and the backend and frees
// their ids for reuse.
func (ix *Indexer) Purge(ctx context.Context) (int, error) {
	release, err := ix.acquire()
	if err != nil {
		return 0, err
	}
	defer release()
	return ix.purge(ctx)
}

// purge runs without the lifecycle lock; Close stops the scheduler that
// calls it before the index is closed.
func (ix *Indexer) purge(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := ix.index.Purge(ctx)
	err = translateError(err)
	ix.metrics.RecordPurge(n, time.Since(start), err)
	ix.logger.LogPurge(ctx, n, err)
	return n, err
}
