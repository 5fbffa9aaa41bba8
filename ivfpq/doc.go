// Package ivfpq implements an inverted-file index over product-quantized
// residuals (IVFPQ).
//
// A coarse quantizer partitions the space into cells. Each inserted vector is
// assigned to its nearest cell and the residual against that cell's centroid
// is encoded by a product quantizer into one byte per subvector. Search probes
// the cells nearest to the query and ranks candidates with a per-cell
// asymmetric distance table:
//
//	idx := ivfpq.New(ivfpq.WithBackend(backend))
//	if err := idx.Configure(coarse, pq, 8); err != nil {
//		return err
//	}
//	if err := idx.Insert(ctx, "img-1", vec); errors.Is(err, ivfpq.ErrAlreadyIndexed) {
//		...
//	}
//	hits, err := idx.Search(ctx, query, 10)
//
// Deletes are soft: deleted entries are hidden at once and removed from the
// postings and the backend by Purge.
package ivfpq
