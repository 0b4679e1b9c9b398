// Package storage persists index snapshots as opaque blobs. Stores are best
// effort: callers treat every error as non-fatal.
package storage

import (
	"context"
	"fmt"
)

// SnapshotStore is a key/blob store for index snapshots.
type SnapshotStore interface {
	// Get returns the blob for key, or nil with no error when absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, blob []byte) error
	Delete(ctx context.Context, key string) error
	// Path is the file or directory backing the store.
	Path() string
	Close() error
}

// Open returns the store of the given kind ("sqlite" or "disk") at path. For
// "disk", path is a directory.
func Open(kind, path string) (SnapshotStore, error) {
	switch kind {
	case "sqlite", "":
		return NewSQLiteSnapshotStore(path)
	case "disk":
		return NewDiskSnapshotStore(path)
	default:
		return nil, fmt.Errorf("unknown snapshot store %q (supported: sqlite, disk)", kind)
	}
}
