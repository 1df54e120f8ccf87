// Implements ObjectStore on a git repository using go-git (pure Go, no git
// binary dependency).

package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

const gitOpTimeout = 5 * time.Minute

// GitStore mirrors objects through a git repository: each upload becomes a
// commit pushed to the remote, each lookup a pull. The local clone under dir
// is reused across operations. Credentials, when needed, are embedded in the
// remote URL.
type GitStore struct {
	dir            string
	url            string
	branch         string
	committerName  string
	committerEmail string
	repo           *gogit.Repository
	mu             sync.Mutex
}

// NewGitStore opens or clones the mirror repository under dir.
func NewGitStore(ctx context.Context, dir, url, branch string) (*GitStore, error) {
	if branch == "" {
		branch = "master"
	}
	s := &GitStore{
		dir:            dir,
		url:            url,
		branch:         branch,
		committerName:  "promosign",
		committerEmail: "promosign@localhost",
	}

	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		ctx, cancel := context.WithTimeout(ctx, gitOpTimeout)
		defer cancel()
		repo, err = gogit.PlainCloneContext(ctx, dir, false, &gogit.CloneOptions{
			URL:           url,
			ReferenceName: plumbing.NewBranchReferenceName(branch),
			SingleBranch:  true,
		})
		if errors.Is(err, transport.ErrEmptyRemoteRepository) {
			// Fresh remote — initialize locally, first push creates the branch.
			repo, err = gogit.PlainInit(dir, false)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to open git mirror at %s: %w", dir, err)
		}
	}
	s.repo = repo

	if err := s.ensureRemote(); err != nil {
		return nil, err
	}
	return s, nil
}

// ensureRemote points origin at the configured URL. go-git has no set-url, so
// an existing remote is deleted and re-created.
func (s *GitStore) ensureRemote() error {
	if r, err := s.repo.Remote("origin"); err == nil {
		if cfg := r.Config(); len(cfg.URLs) == 1 && cfg.URLs[0] == s.url {
			return nil
		}
		if err := s.repo.DeleteRemote("origin"); err != nil {
			return fmt.Errorf("failed to update remote: %w", err)
		}
	}
	_, err := s.repo.CreateRemote(&config.RemoteConfig{
		Name: "origin",
		URLs: []string{s.url},
	})
	if err != nil {
		return fmt.Errorf("failed to create remote: %w", err)
	}
	return nil
}

// List pulls the mirror and returns the ID of the object if present.
func (s *GitStore) List(ctx context.Context, folder, name string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pull(ctx); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.localPath(path.Join(folder, name))); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return []string{path.Join(folder, name)}, nil
}

// Get pulls the mirror and opens the object with the given ID.
func (s *GitStore) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.pull(ctx); err != nil {
		return nil, err
	}
	f, err := os.Open(s.localPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to open object %s: %w", id, err)
	}
	return f, nil
}

// Create stores a new object and pushes the commit.
func (s *GitStore) Create(ctx context.Context, folder, name string, r io.Reader) error {
	return s.commitAndPush(ctx, path.Join(folder, name), r)
}

// Update overwrites the object with the given ID and pushes the commit.
func (s *GitStore) Update(ctx context.Context, id string, r io.Reader) error {
	return s.commitAndPush(ctx, id, r)
}

func (s *GitStore) localPath(id string) string {
	return filepath.Join(s.dir, filepath.FromSlash(id))
}

func (s *GitStore) commitAndPush(ctx context.Context, id string, r io.Reader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, gitOpTimeout)
	defer cancel()

	if err := writeFileAtomic(s.localPath(id), r); err != nil {
		return err
	}

	w, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if _, err := w.Add(filepath.FromSlash(id)); err != nil {
		return fmt.Errorf("failed to stage %s: %w", id, err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if !status.IsClean() {
		now := time.Now()
		sig := &object.Signature{Name: s.committerName, Email: s.committerEmail, When: now}
		if _, err := w.Commit(fmt.Sprintf("Update %s", id), &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
			return fmt.Errorf("failed to commit: %w", err)
		}
	}

	err = s.repo.PushContext(ctx, &gogit.PushOptions{RemoteName: "origin"})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to push: %w", err)
	}
	return nil
}

// pull fast-forwards the local clone. A remote with no commits yet is not an
// error; the local state simply stands.
func (s *GitStore) pull(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, gitOpTimeout)
	defer cancel()

	w, err := s.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	err = w.PullContext(ctx, &gogit.PullOptions{
		RemoteName:    "origin",
		ReferenceName: plumbing.NewBranchReferenceName(s.branch),
		SingleBranch:  true,
	})
	switch {
	case err == nil,
		errors.Is(err, gogit.NoErrAlreadyUpToDate),
		errors.Is(err, transport.ErrEmptyRemoteRepository),
		errors.Is(err, plumbing.ErrReferenceNotFound):
		return nil
	default:
		return fmt.Errorf("failed to pull: %w", err)
	}
}
