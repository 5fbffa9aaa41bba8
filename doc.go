// Package visualindex provides an embeddable content-based image index for Go.
//
// Images are decoded to luminance, described by SURF-like local descriptors,
// aggregated into a VLAD vector over one or more codebooks, reduced with PCA
// and inserted into an IVFPQ index whose posting lists live in a pluggable
// storage backend (memory, bbolt, Redis or compressed pages on a blob store).
//
// # Quick Start
//
//	ix := visualindex.New(
//	    visualindex.WithModelFiles(visualindex.ModelFiles{
//	        Codebooks: []string{"models/codebook-64.csv"},
//	        PCA:       "models/pca.txt",
//	        Coarse:    "models/coarse.bin",
//	        PQ:        "models/pq.bin",
//	    }),
//	    visualindex.WithPCADimension(128),
//	    visualindex.WithWhitening(true),
//	    visualindex.WithBackend(backend),
//	)
//	if err := ix.Build(ctx); err != nil {
//	    log.Fatal(err) // errors.Is(err, visualindex.ErrConfiguration)
//	}
//	defer ix.Close()
//
//	err := ix.IndexImage(ctx, pipeline.Task{ID: "img-1", Location: "/data/img-1.jpg"})
//	results, err := ix.SearchImage(pipeline.Task{Data: queryJPEG}).K(10).Execute(ctx)
//
// # Lifecycle
//
// New only records options. Build loads every model, verifies that
// codebook, projection and quantizer dimensions fit together, configures
// the index and restores persisted entries from the backend. Until Build
// succeeds every operation returns ErrNotReady; after Close, ErrClosed.
//
// # Ingestion
//
// IndexImage and Vectorize run on the calling goroutine. IndexBatch fans a
// slice of images out over the configured number of workers. For streaming
// ingestion, Submit hands images to a bounded worker pool and Poll or Take
// retrieve completed vectors and insert them. Submit returns ErrBackpressure
// while MaxOutstanding images wait to be retrieved.
//
// # Deletion
//
// Delete hides entries from search immediately. Purge compacts the posting
// lists, removes the entries from the backend and frees the ids for
// re-insertion. WithPurgeSchedule runs Purge on a cron schedule.
package visualindex
