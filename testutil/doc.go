// Package testutil provides testing utilities for visualindex.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating reproducible random vectors and
// synthetic images, and for computing exact nearest neighbours.
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.UniformVectors(1000, 128)
//	img := rng.BlobImage(256, 192, 12)
//
//	exact := testutil.BruteForceSearch(vecs, query, 10)
//	recall := testutil.ComputeRecall(exact, approx)
package testutil
