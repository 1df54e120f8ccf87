// Package remote mirrors the local table file to a remote object store.
//
// The store is abstracted down to the one access pattern the service needs:
// exactly one object with the canonical file name is expected per folder, and
// find-or-create-or-update is the only operation sequence. Two backends are
// provided: DirStore (a mounted directory) and GitStore (a pushed git
// repository).
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("remote object not found")

// ObjectStore is the minimal remote surface: look up an object by name
// within a folder, stream it, and create or overwrite it.
type ObjectStore interface {
	// List returns the IDs of objects with the given name within folder.
	// An empty result is not an error.
	List(ctx context.Context, folder, name string) ([]string, error)
	// Get opens the object with the given ID for reading.
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	// Create stores a new object under folder with the given name.
	Create(ctx context.Context, folder, name string, r io.Reader) error
	// Update overwrites the object with the given ID.
	Update(ctx context.Context, id string, r io.Reader) error
}

// SyncError reports a remote transfer that failed after exhausting retries.
type SyncError struct {
	Op       string // "upload" or "download"
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("remote %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}
