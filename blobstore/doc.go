// Package blobstore stores named immutable blobs such as persisted index
// pages and model files.
//
// Implementations must be safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests and ephemeral indexes
//   - LocalStore: local filesystem with mmap reads and atomic rename writes
//   - s3.Store: Amazon S3 with range reads and multipart uploads
//   - minio.Store: MinIO and other S3-compatible servers
//
// Small blobs are usually read whole:
//
//	data, err := blobstore.ReadAll(ctx, store, "pages/cell-00000042.page")
//	if errors.Is(err, blobstore.ErrNotFound) {
//		...
//	}
package blobstore
