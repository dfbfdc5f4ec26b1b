package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get and Stat for a key holding nothing.
var ErrNotFound = errors.New("storage: not found")

// Object is one stored blob. For a key that names a tree of blobs, Stat
// reports the key itself with the total size of the tree.
type Object struct {
	Key      string
	Size     int64
	Modified time.Time
}

// Bucket is a flat key space of artifact bytes. Keys are slash separated;
// a step may write a single blob at its output key or a tree of blobs
// below it, and every method treats both the same way.
type Bucket interface {
	Put(ctx context.Context, key string, r io.Reader) error
	// Get opens the blob at key. The caller closes it.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (Object, error)
	// Remove deletes the blob or tree at key. Removing nothing succeeds.
	Remove(ctx context.Context, key string) error
	// Walk calls fn for every blob whose key starts with prefix. Order is
	// up to the provider. An error from fn stops the walk and is returned.
	Walk(ctx context.Context, prefix string, fn func(Object) error) error
	URL(key string) string
}

// Filesystem is implemented by buckets that keep blobs as local files.
// Subprocess and container backends hand these paths to step code.
type Filesystem interface {
	Path(key string) string
}
