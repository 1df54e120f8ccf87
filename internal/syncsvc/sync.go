// Package syncsvc provides the single serializing critical section that
// orders local mutation, persistence, and remote sync for the signup table.
//
// Exactly one operation (read or write) executes against the local file at a
// time. Every mutation follows the same cycle: acquire the lock, download the
// remote copy unless local changes are pending, load the table, apply the
// mutation, persist atomically, mark state dirty, attempt an upload. A failed
// upload leaves the dirty flag set so the periodic background cycle retries.
package syncsvc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/maruel/promosign/internal/remote"
	"github.com/maruel/promosign/internal/signup"
	"github.com/maruel/promosign/internal/tabfile"
)

const (
	defaultLockTimeout = 10 * time.Second
	defaultInterval    = 5 * time.Minute
)

// ErrBusy is returned when the lock cannot be acquired within the timeout.
var ErrBusy = errors.New("another operation is in progress")

// State names the coordinator's position in a sync cycle.
type State string

const (
	StateIdle        State = "idle"
	StateDownloading State = "downloading"
	StateLoaded      State = "loaded"
	StateMutated     State = "mutated"
	StatePersisted   State = "persisted"
	StateUploading   State = "uploading"
	StateSyncFailed  State = "sync_failed"
)

// Options tunes the coordinator. Zero values use defaults.
type Options struct {
	// LockTimeout bounds how long a caller queues for the critical section
	// before failing with ErrBusy.
	LockTimeout time.Duration
	// Interval is the period of the background upload loop.
	Interval time.Duration
}

// Coordinator owns the signup table's sync state: the in-flight lock, the
// dirty flag, and the background upload timer. The remote client may be nil,
// in which case the table is local-only and never marked dirty.
type Coordinator struct {
	file        *tabfile.File[*signup.Record]
	client      *remote.Client
	lockTimeout time.Duration
	interval    time.Duration

	// slot is the single critical section; holding the sole token means
	// holding the lock. Blocked senders wake in FIFO order.
	slot chan struct{}

	mu    sync.Mutex
	dirty bool
	state State
}

// New creates a coordinator for the given table file and remote client.
func New(file *tabfile.File[*signup.Record], client *remote.Client, opts Options) *Coordinator {
	lockTimeout := opts.LockTimeout
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Coordinator{
		file:        file,
		client:      client,
		lockTimeout: lockTimeout,
		interval:    interval,
		slot:        make(chan struct{}, 1),
		state:       StateIdle,
	}
}

// Dirty reports whether local mutations have not yet been confirmed uploaded.
func (c *Coordinator) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// CurrentState returns the coordinator's position in the sync cycle.
func (c *Coordinator) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) setDirty(v bool) {
	c.mu.Lock()
	c.dirty = v
	c.mu.Unlock()
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// runExclusive serializes fn behind the in-flight lock, failing with ErrBusy
// after the acquisition timeout. Once started, fn runs on a context detached
// from the requester's cancellation: a client that disconnects while queued
// must not leave the table mid-mutation.
func (c *Coordinator) runExclusive(ctx context.Context, fn func(ctx context.Context) error) error {
	t := time.NewTimer(c.lockTimeout)
	defer t.Stop()
	select {
	case c.slot <- struct{}{}:
	case <-t.C:
		return ErrBusy
	}
	defer func() {
		<-c.slot
		c.setState(StateIdle)
	}()
	return fn(context.WithoutCancel(ctx))
}

// Initialize performs the boot cycle: attempt a remote download, then make
// sure a valid local file exists. A download failure degrades to the local
// copy with a warning; a missing remote and missing local file produce an
// empty table with a valid header.
func (c *Coordinator) Initialize(ctx context.Context) error {
	return c.runExclusive(ctx, func(ctx context.Context) error {
		if c.client != nil {
			c.setState(StateDownloading)
			found, err := c.client.Download(ctx, c.file.Path())
			if err != nil {
				slog.WarnContext(ctx, "Initial download failed, starting from local copy", "err", err)
			} else if !found {
				slog.InfoContext(ctx, "No remote copy found", "path", c.file.Path())
			}
		}
		if !c.file.Exists() {
			return c.file.Write(nil)
		}
		// Validate the local file; salvage and rewrite if corrupt.
		_, err := c.loadLocked(ctx)
		return err
	})
}

// Start launches the periodic upload loop. It returns immediately; the loop
// stops when ctx is cancelled.
func (c *Coordinator) Start(ctx context.Context) {
	if c.client == nil {
		return
	}
	go func() {
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if !c.Dirty() {
					continue
				}
				if err := c.Sync(ctx, false); err != nil {
					slog.WarnContext(ctx, "Periodic sync failed", "err", err)
				}
			}
		}
	}()
}

// Submit inserts a new record. syncPending is true when the local write
// succeeded but the upload did not.
func (c *Coordinator) Submit(ctx context.Context, name, email, phone string) (rec *signup.Record, syncPending bool, err error) {
	syncPending, err = c.mutate(ctx, func(t *signup.Table) (bool, error) {
		r, err := t.Insert(&signup.Record{Name: name, Email: email, Phone: phone})
		if err != nil {
			return false, err
		}
		rec = r
		return true, nil
	})
	return rec, syncPending, err
}

// Delete removes every record matching the normalized email or phone.
func (c *Coordinator) Delete(ctx context.Context, email, phone string) (found, syncPending bool, err error) {
	syncPending, err = c.mutate(ctx, func(t *signup.Table) (bool, error) {
		if !t.DeleteByKey(email, phone) {
			return false, &signup.NotFoundError{Email: email, Phone: phone}
		}
		found = true
		return true, nil
	})
	return found, syncPending, err
}

// SetPrize attaches a prize to the first record with a matching email.
func (c *Coordinator) SetPrize(ctx context.Context, email, prize string) (found, syncPending bool, err error) {
	syncPending, err = c.mutate(ctx, func(t *signup.Table) (bool, error) {
		if !t.SetPrize(email, prize) {
			return false, &signup.NotFoundError{Email: email}
		}
		found = true
		return true, nil
	})
	return found, syncPending, err
}

// Records returns a snapshot of the current table.
func (c *Coordinator) Records(ctx context.Context) ([]*signup.Record, error) {
	var out []*signup.Record
	err := c.runExclusive(ctx, func(ctx context.Context) error {
		rows, err := c.loadLocked(ctx)
		if err != nil {
			return err
		}
		out = signup.Load(rows).Records()
		return nil
	})
	return out, err
}

// Snapshot returns the raw bytes of the current table file, taken under the
// lock so it is never a half-written view.
func (c *Coordinator) Snapshot(ctx context.Context) ([]byte, error) {
	var out []byte
	err := c.runExclusive(ctx, func(ctx context.Context) error {
		// Validate (and repair) before exporting.
		if _, err := c.loadLocked(ctx); err != nil {
			return err
		}
		data, err := os.ReadFile(c.file.Path())
		if err != nil {
			return err
		}
		out = data
		return nil
	})
	return out, err
}

// Sync runs a sync cycle outside any mutation: upload when dirty, otherwise
// download when forced. Used by the background loop and the manual endpoint.
func (c *Coordinator) Sync(ctx context.Context, force bool) error {
	if c.client == nil {
		return nil
	}
	return c.runExclusive(ctx, func(ctx context.Context) error {
		if c.Dirty() {
			c.setState(StateUploading)
			if err := c.client.Upload(ctx, c.file.Path()); err != nil {
				c.setState(StateSyncFailed)
				return err
			}
			c.setDirty(false)
			return nil
		}
		if force {
			c.setState(StateDownloading)
			if _, err := c.client.Download(ctx, c.file.Path()); err != nil {
				c.setState(StateSyncFailed)
				return err
			}
			if !c.file.Exists() {
				return c.file.Write(nil)
			}
			_, err := c.loadLocked(ctx)
			return err
		}
		return nil
	})
}

// mutate runs one full sync cycle around op. op reports whether it changed
// the table; an unchanged table (e.g. delete of an absent key) is not
// persisted or uploaded.
func (c *Coordinator) mutate(ctx context.Context, op func(*signup.Table) (bool, error)) (syncPending bool, err error) {
	err = c.runExclusive(ctx, func(ctx context.Context) error {
		if c.client != nil && !c.Dirty() {
			// Downloading over un-uploaded local changes would discard them,
			// so the remote copy is only fetched when local state is clean.
			c.setState(StateDownloading)
			if _, err := c.client.Download(ctx, c.file.Path()); err != nil {
				slog.WarnContext(ctx, "Download failed, continuing with local copy", "err", err)
			}
		}

		rows, err := c.loadLocked(ctx)
		if err != nil {
			return err
		}
		c.setState(StateLoaded)
		table := signup.Load(rows)

		changed, err := op(table)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		c.setState(StateMutated)

		if err := c.file.Write(table.Records()); err != nil {
			return err
		}
		c.setState(StatePersisted)
		if c.client == nil {
			return nil
		}
		c.setDirty(true)

		c.setState(StateUploading)
		if err := c.client.Upload(ctx, c.file.Path()); err != nil {
			// Local persistence already succeeded; the dirty flag stays set
			// and the periodic cycle retries.
			c.setState(StateSyncFailed)
			slog.WarnContext(ctx, "Upload failed, local write kept", "err", err)
			syncPending = true
			return nil
		}
		c.setDirty(false)
		return nil
	})
	return syncPending, err
}

// loadLocked reads the table file, salvaging and reinitializing on
// corruption. Only a second failure, during the rewrite, is fatal. Must be
// called with the critical section held.
func (c *Coordinator) loadLocked(ctx context.Context) ([]*signup.Record, error) {
	rows, err := c.file.Read()
	if err == nil {
		return rows, nil
	}
	var ce *tabfile.CorruptionError
	if !errors.As(err, &ce) {
		return nil, err
	}
	slog.WarnContext(ctx, "Table file corrupt, salvaging", "err", err)
	salvaged := c.file.Salvage()
	if err := c.file.Write(salvaged); err != nil {
		return nil, fmt.Errorf("failed to reinitialize after corruption: %w", err)
	}
	// The repaired local file now diverges from the remote copy.
	if c.client != nil {
		c.setDirty(true)
	}
	return salvaged, nil
}
