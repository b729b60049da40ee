// Package blobstore provides whole-object storage for archived log records.
//
// Store is the interface for writing and reading blobs. Implementations must be
// safe for concurrent use.
//
// # Built-in Implementations
//
//   - MemoryStore: in-memory, for tests
//   - LocalStore: local directory with atomic temp-file renames
//   - s3.Store: Amazon S3 (blobstore/s3)
//   - minio.Store: MinIO and other S3-compatible services (blobstore/minio)
//
// # Custom Implementations
//
//	type Store interface {
//	    Put(ctx, name, data) error
//	    Get(ctx, name) ([]byte, error)
//	    List(ctx, prefix) ([]string, error)
//	    Delete(ctx, name) error
//	}
//
// Get on a missing blob must return an error matching ErrNotFound.
package blobstore
