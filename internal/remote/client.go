// Wraps an ObjectStore with the service's retry and upload-guard policy.

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	defaultAttempts      = 3
	defaultBackoff       = time.Second
	defaultMinUploadSize = 32
)

// Client transfers the table file between the local path and the single
// remote object, retrying with doubling backoff. A failed upload never rolls
// back the local write; local persistence is the source of truth and the
// remote copy is best-effort eventual consistency.
type Client struct {
	Store  ObjectStore
	Folder string
	Name   string

	// Attempts bounds retries per operation; 0 means the default of 3.
	Attempts int
	// Backoff is the delay before the first retry, doubled each attempt.
	Backoff time.Duration
	// MinUploadSize guards against mirroring an empty or truncated file.
	MinUploadSize int64
}

// Download streams the remote object to path, replacing it atomically.
// Returns false when no remote copy exists; that is not an error and the
// caller is expected to initialize an empty table.
func (c *Client) Download(ctx context.Context, path string) (bool, error) {
	found := false
	err := c.retry(ctx, "download", func() error {
		ids, err := c.Store.List(ctx, c.Folder, c.Name)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			found = false
			return nil
		}
		rc, err := c.Store.Get(ctx, ids[0])
		if err != nil {
			return err
		}
		defer func() {
			_ = rc.Close()
		}()
		if err := writeFileAtomic(path, rc); err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, err
}

// Upload creates or updates the single remote object from path. The local
// file must exist and exceed the minimum plausible size.
func (c *Client) Upload(ctx context.Context, path string) error {
	minSize := c.MinUploadSize
	if minSize <= 0 {
		minSize = defaultMinUploadSize
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("refusing to upload: %w", err)
	}
	if fi.Size() < minSize {
		return fmt.Errorf("refusing to upload %s: %d bytes is below the plausible minimum %d", path, fi.Size(), minSize)
	}
	return c.retry(ctx, "upload", func() error {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() {
			_ = f.Close()
		}()
		ids, err := c.Store.List(ctx, c.Folder, c.Name)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			return c.Store.Create(ctx, c.Folder, c.Name, f)
		}
		return c.Store.Update(ctx, ids[0], f)
	})
}

// retry runs fn up to Attempts times with doubling backoff, wrapping the
// final failure in a *SyncError.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	attempts := c.Attempts
	if attempts <= 0 {
		attempts = defaultAttempts
	}
	delay := c.Backoff
	if delay <= 0 {
		delay = defaultBackoff
	}
	var lastErr error
	for attempt := range attempts {
		if attempt > 0 {
			slog.Warn("Retrying remote operation", "op", op, "attempt", attempt+1, "err", lastErr)
			select {
			case <-ctx.Done():
				return &SyncError{Op: op, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
	}
	return &SyncError{Op: op, Attempts: attempts, Err: lastErr}
}

// writeFileAtomic writes r to path via a temp file in the same directory
// followed by a rename, mirroring the local persistence guarantees.
func writeFileAtomic(path string, r io.Reader) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(dir, ".download-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return errors.Join(fmt.Errorf("failed to write temp file: %w", err), os.Remove(tmpPath))
	}
	if err := tmp.Close(); err != nil {
		return errors.Join(fmt.Errorf("failed to close temp file: %w", err), os.Remove(tmpPath))
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return errors.Join(fmt.Errorf("failed to rename temp file over target: %w", err), os.Remove(tmpPath))
	}
	return nil
}
