package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// DiskSnapshotStore keeps one file per key under a directory.
type DiskSnapshotStore struct {
	dir string
}

// NewDiskSnapshotStore creates dir if needed.
func NewDiskSnapshotStore(dir string) (*DiskSnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &DiskSnapshotStore{dir: dir}, nil
}

func (s *DiskSnapshotStore) file(key string) string {
	return filepath.Join(s.dir, url.PathEscape(key)+".snap")
}

// Get reads the file for key.
func (s *DiskSnapshotStore) Get(ctx context.Context, key string) ([]byte, error) {
	blob, err := os.ReadFile(s.file(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return blob, nil
}

// Set writes the file for key via a temp file and rename.
func (s *DiskSnapshotStore) Set(ctx context.Context, key string, blob []byte) error {
	path := s.file(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0644); err != nil {
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write snapshot %s: %w", key, err)
	}
	return nil
}

// Delete removes the file for key.
func (s *DiskSnapshotStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(s.file(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete snapshot %s: %w", key, err)
	}
	return nil
}

// Path returns the snapshot directory.
func (s *DiskSnapshotStore) Path() string { return s.dir }

// Close is a no-op.
func (s *DiskSnapshotStore) Close() error { return nil }
