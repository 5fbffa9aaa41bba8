package visualindex

import (
	"context"
	"iter"
	"time"

	"github.com/hupe1980/visualindex/ivfpq"
	"github.com/hupe1980/visualindex/pipeline"
)

// DefaultK is the number of results returned when K is not set.
const DefaultK = 10

// SearchResult is one match of a search, ordered by ascending Distance.
type SearchResult = ivfpq.Result

// Search creates a search builder for a precomputed query vector.
//
// Example:
//
//	results, err := ix.Search(vec).K(20).Probes(16).Execute(ctx)
func (ix *Indexer) Search(query []float32) *SearchBuilder {
	return &SearchBuilder{ix: ix, query: query, k: DefaultK}
}

// SearchImage creates a search builder whose query is the feature vector
// of an image. The image is vectorized when the search is executed.
//
// Example:
//
//	for r, err := range ix.SearchImage(pipeline.Task{Location: "query.jpg"}).K(5).Stream(ctx) {
//		if err != nil {
//			break
//		}
//		fmt.Println(r.ID, r.Distance)
//	}
func (ix *Indexer) SearchImage(task pipeline.Task) *SearchBuilder {
	return &SearchBuilder{ix: ix, task: &task, k: DefaultK}
}

// SearchBuilder is a fluent builder for search queries.
type SearchBuilder struct {
	ix     *Indexer
	query  []float32
	task   *pipeline.Task
	k      int
	probes int
}

// K sets the number of results.
func (sb *SearchBuilder) K(k int) *SearchBuilder {
	sb.k = k
	return sb
}

// Probes overrides the number of coarse cells visited. More probes improve
// recall and cost latency.
func (sb *SearchBuilder) Probes(n int) *SearchBuilder {
	sb.probes = n
	return sb
}

// Execute runs the search and returns the results.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]SearchResult, error) {
	if sb.k <= 0 {
		return nil, ErrInvalidK
	}

	query := sb.query
	if sb.task != nil {
		vec, err := sb.ix.Vectorize(ctx, *sb.task)
		if err != nil {
			return nil, err
		}
		query = vec
	}

	release, err := sb.ix.acquire()
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	var results []SearchResult
	if sb.probes > 0 {
		results, err = sb.ix.index.SearchWithProbes(ctx, query, sb.k, sb.probes)
	} else {
		results, err = sb.ix.index.Search(ctx, query, sb.k)
	}
	err = translateError(err)
	sb.ix.metrics.RecordSearch(sb.k, time.Since(start), err)
	sb.ix.logger.LogSearch(ctx, sb.k, len(results), err)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// MustExecute runs the search, panicking on error.
// Use this only in tests or when you're certain the query is valid.
func (sb *SearchBuilder) MustExecute(ctx context.Context) []SearchResult {
	results, err := sb.Execute(ctx)
	if err != nil {
		panic(err)
	}
	return results
}

// Stream returns an iterator over the results from nearest to farthest.
// Breaking out of the loop stops the iteration.
func (sb *SearchBuilder) Stream(ctx context.Context) iter.Seq2[SearchResult, error] {
	return func(yield func(SearchResult, error) bool) {
		results, err := sb.Execute(ctx)
		if err != nil {
			yield(SearchResult{}, err)
			return
		}
		for _, r := range results {
			if !yield(r, nil) {
				return
			}
		}
	}
}

// First returns only the nearest result, or ErrNotFound if the index has
// no live entry in the probed cells.
func (sb *SearchBuilder) First(ctx context.Context) (SearchResult, error) {
	sb.k = 1
	results, err := sb.Execute(ctx)
	if err != nil {
		return SearchResult{}, err
	}
	if len(results) == 0 {
		return SearchResult{}, ErrNotFound
	}
	return results[0], nil
}
