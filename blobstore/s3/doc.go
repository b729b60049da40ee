// Package s3 provides an S3 implementation of the blobstore.Store interface.
//
// # Usage
//
//	store, err := s3.NewStoreFromConfig(ctx, "my-bucket", "wal/")
//	w, err := archive.Open(ctx, store, "node-1")
//
// # Features
//
//   - CRC32C checksums on every upload
//   - Multipart uploads for blobs larger than UploadConfig.PartSize
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
