package storage

import (
	"context"
	"io"
)

// BlobStorage is the staging store for submitted files awaiting relay to the
// remote video host.
type BlobStorage interface {
	// Store saves content at the given path and returns the bytes written.
	Store(ctx context.Context, path string, content io.Reader) (int64, error)

	// Open returns the staged blob at the given path for random-access
	// reads. Resumed uploads re-read ranges, so sequential access is not
	// enough.
	Open(ctx context.Context, path string) (File, error)

	// Delete removes the blob at the given path.
	Delete(ctx context.Context, path string) error

	// Exists checks whether a blob exists at the given path.
	Exists(ctx context.Context, path string) (bool, error)
}

// File is an open staged blob.
type File interface {
	io.ReaderAt
	io.Closer

	// Size returns the blob's size in bytes.
	Size() int64
}
