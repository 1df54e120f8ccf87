package remote

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// flakyStore fails every operation until the failure budget is spent, then
// delegates to an in-memory object.
type flakyStore struct {
	failures int
	calls    int
	content  string
	exists   bool
}

var errTransient = errors.New("connection reset")

func (s *flakyStore) fail() bool {
	s.calls++
	if s.failures > 0 {
		s.failures--
		return true
	}
	return false
}

func (s *flakyStore) List(_ context.Context, folder, name string) ([]string, error) {
	if s.fail() {
		return nil, errTransient
	}
	if !s.exists {
		return nil, nil
	}
	return []string{folder + "/" + name}, nil
}

func (s *flakyStore) Get(_ context.Context, _ string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.content)), nil
}

func (s *flakyStore) Create(_ context.Context, _, _ string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.content = string(data)
	s.exists = true
	return nil
}

func (s *flakyStore) Update(_ context.Context, _ string, r io.Reader) error {
	return s.Create(context.Background(), "", "", r)
}

func newTestClient(store ObjectStore) *Client {
	return &Client{
		Store:         store,
		Folder:        "promosign",
		Name:          "signups.jsonl",
		Backoff:       time.Millisecond,
		MinUploadSize: 1,
	}
}

func localFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signups.jsonl")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestClientUploadRetries(t *testing.T) {
	store := &flakyStore{failures: 2}
	c := newTestClient(store)
	if err := c.Upload(context.Background(), localFile(t, "payload")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if store.calls != 3 {
		t.Errorf("got %d attempts, want 3", store.calls)
	}
	if store.content != "payload" {
		t.Errorf("got remote content %q, want %q", store.content, "payload")
	}
}

func TestClientUploadExhaustsRetries(t *testing.T) {
	store := &flakyStore{failures: 10}
	c := newTestClient(store)
	err := c.Upload(context.Background(), localFile(t, "payload"))
	var se *SyncError
	if !errors.As(err, &se) {
		t.Fatalf("Upload() = %v, want *SyncError", err)
	}
	if se.Op != "upload" || se.Attempts != 3 {
		t.Errorf("got op=%q attempts=%d, want upload/3", se.Op, se.Attempts)
	}
	if !errors.Is(err, errTransient) {
		t.Errorf("SyncError does not wrap the underlying error: %v", err)
	}
}

func TestClientUploadUpdatesExisting(t *testing.T) {
	store := &flakyStore{exists: true, content: "old"}
	c := newTestClient(store)
	if err := c.Upload(context.Background(), localFile(t, "new")); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if store.content != "new" {
		t.Errorf("got remote content %q, want %q", store.content, "new")
	}
}

func TestClientUploadMinSizeGuard(t *testing.T) {
	store := &flakyStore{}
	c := newTestClient(store)
	c.MinUploadSize = 32
	err := c.Upload(context.Background(), localFile(t, "tiny"))
	if err == nil {
		t.Fatal("expected refusal for undersized file")
	}
	// The guard fails fast; the store must never be touched.
	if store.calls != 0 {
		t.Errorf("store was called %d times, want 0", store.calls)
	}
}

func TestClientUploadMissingFile(t *testing.T) {
	c := newTestClient(&flakyStore{})
	if err := c.Upload(context.Background(), filepath.Join(t.TempDir(), "absent.jsonl")); err == nil {
		t.Fatal("expected refusal for missing file")
	}
}

func TestClientDownload(t *testing.T) {
	store := &flakyStore{exists: true, content: "remote copy", failures: 1}
	c := newTestClient(store)
	path := filepath.Join(t.TempDir(), "db", "signups.jsonl")
	found, err := c.Download(context.Background(), path)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if !found {
		t.Fatal("Download reported not found for an existing object")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "remote copy" {
		t.Errorf("got %q, want %q", data, "remote copy")
	}
}

func TestClientDownloadNotFound(t *testing.T) {
	c := newTestClient(&flakyStore{})
	path := filepath.Join(t.TempDir(), "signups.jsonl")
	found, err := c.Download(context.Background(), path)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if found {
		t.Fatal("Download reported found for an empty store")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("local file created for a missing remote object: %v", err)
	}
}

func TestClientRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := &flakyStore{failures: 10}
	c := newTestClient(store)
	c.Backoff = time.Minute
	err := c.Upload(ctx, localFile(t, "payload"))
	var se *SyncError
	if !errors.As(err, &se) {
		t.Fatalf("Upload() = %v, want *SyncError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("SyncError does not wrap context.Canceled: %v", err)
	}
}
