// Implements ObjectStore on a plain directory, typically a mounted share.

package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
)

// DirStore stores objects as files under a root directory. Object IDs are
// root-relative slash-separated paths.
type DirStore struct {
	root string
}

// NewDirStore creates the root directory if needed and returns the store.
func NewDirStore(root string) (*DirStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create object store root %s: %w", root, err)
	}
	return &DirStore{root: root}, nil
}

// List returns the ID of the object named name in folder, if present.
func (s *DirStore) List(_ context.Context, folder, name string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, filepath.FromSlash(folder)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list folder %s: %w", folder, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && entry.Name() == name {
			return []string{path.Join(folder, name)}, nil
		}
	}
	return nil, nil
}

// Get opens the object with the given ID.
func (s *DirStore) Get(_ context.Context, id string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(id)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open object %s: %w", id, err)
	}
	return f, nil
}

// Create stores a new object under folder with the given name.
func (s *DirStore) Create(_ context.Context, folder, name string, r io.Reader) error {
	return writeFileAtomic(filepath.Join(s.root, filepath.FromSlash(folder), name), r)
}

// Update overwrites the object with the given ID.
func (s *DirStore) Update(_ context.Context, id string, r io.Reader) error {
	return writeFileAtomic(filepath.Join(s.root, filepath.FromSlash(id)), r)
}
