// Package vlad aggregates local descriptors into VLAD vectors (Vector of
// Locally Aggregated Descriptors).
//
// For every descriptor and every codebook the nearest centroid is found and
// the residual descriptor−centroid is added to that centroid's slot. Blocks
// of several codebooks are concatenated in order, so the output length is
// Σ K_i × D. The raw sums are returned unless power or L2 normalization is
// requested.
package vlad
