package blobstore

import (
	"context"
	"os"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations should return an error that satisfies `errors.Is(err, ErrNotFound)`.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store is an abstraction for whole-object blob storage.
//
// Put must be atomic: readers see either the old object or the complete new
// one. Implementations must be safe for concurrent use.
type Store interface {
	// Put writes (or replaces) the blob name.
	Put(ctx context.Context, name string, data []byte) error
	// Get returns the contents of blob name.
	Get(ctx context.Context, name string) ([]byte, error)
	// List returns the sorted names of all blobs starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes blob name. Deleting a missing blob is not an error.
	Delete(ctx context.Context, name string) error
}
