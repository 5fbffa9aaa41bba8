// Package pipeline turns images into feature vectors.
//
// A Vectorizer chains decoding, SURF extraction, VLAD aggregation and PCA
// projection for a single image. A Pool runs a Vectorizer on a fixed number
// of workers with a ceiling on outstanding tasks:
//
//	pool := pipeline.NewPool(v, pipeline.WithWorkers(8), pipeline.WithMaxOutstanding(64))
//	defer pool.Shutdown(10 * time.Second)
//
//	if err := pool.Submit(pipeline.Task{ID: "img-1", Location: "/data/img-1.jpg"}); errors.Is(err, pipeline.ErrBackpressure) {
//		// retrieve results before submitting more
//	}
//	res, err := pool.Take(ctx)
//
// Failures of a single image are reported in its Result and never affect
// other tasks.
package pipeline
