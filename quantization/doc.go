// Package quantization provides the two quantizers of an IVFPQ index.
//
// # Coarse quantizer
//
// A CoarseQuantizer holds the centroids that partition the vector space into
// cells (inverted lists). Nearest assigns a vector to its cell; NearestN
// returns the cells a multi-probe search visits.
//
// # Product Quantization (PQ)
//
// A ProductQuantizer splits a (residual) vector into M subvectors and encodes
// each as the index of its nearest centroid in a per-subspace codebook of K
// entries, K a power of two <= 256 so each sub-code fits in one byte:
//
//	pq, _ := quantization.TrainProductQuantizer(ctx, residuals, 128, 8, 256, quantization.TrainOptions{})
//	code, _ := pq.Encode(residual)  // 128 floats → 8 bytes
//
// Search uses asymmetric distance computation: the query stays in full
// precision and a per-query table of M*K squared sub-distances turns every
// candidate distance into M table lookups:
//
//	table, _ := pq.BuildDistanceTable(queryResidual)
//	d := pq.AdcDistance(table, code)
//
// Memory reduction:
//   - 128-dim float32 = 512 bytes
//   - PQ(8, 256) = 8 bytes (64x compression)
//   - PQ(16, 256) = 16 bytes (32x compression)
//
// Both quantizers are immutable after construction and may be shared between
// goroutines without locking.
package quantization
