package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func newTestEngine(t *testing.T, libraryPath string) (*Engine, *memProvider) {
	t.Helper()
	withIsolatedConfigDir(t)
	p := newMemProvider()
	e := NewEngine()
	e.provider = p
	e.Configure(StorageConfig{Provider: "s3", Params: map[string]string{}}, libraryPath)
	return e, p
}

func TestSyncNowUploadsNewLocalFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "book.epub"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, p := newTestEngine(t, dir)

	report, err := e.SyncNow(context.Background(), nil)
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if len(report.Uploaded) != 1 || report.Uploaded[0] != "book.epub" {
		t.Fatalf("expected book.epub uploaded, got %+v", report.Uploaded)
	}
	if _, ok := p.objects["book.epub"]; !ok {
		t.Fatalf("expected book.epub in remote store")
	}
	if !report.MetadataSynced {
		t.Fatalf("expected sidecar write to succeed")
	}
}

func TestSyncNowDownloadsNewRemoteFile(t *testing.T) {
	dir := t.TempDir()
	e, p := newTestEngine(t, dir)
	p.objects["novel.pdf"] = []byte("remote bytes")

	report, err := e.SyncNow(context.Background(), nil)
	if err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if len(report.Downloaded) != 1 || report.Downloaded[0] != "novel.pdf" {
		t.Fatalf("expected novel.pdf downloaded, got %+v", report.Downloaded)
	}
	data, err := os.ReadFile(filepath.Join(dir, "novel.pdf"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(data) != "remote bytes" {
		t.Fatalf("downloaded content mismatch: %q", data)
	}
}

func TestSyncNowIdempotentOnSecondPass(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "book.epub"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, _ := newTestEngine(t, dir)

	if _, err := e.SyncNow(context.Background(), nil); err != nil {
		t.Fatalf("first SyncNow: %v", err)
	}
	report, err := e.SyncNow(context.Background(), nil)
	if err != nil {
		t.Fatalf("second SyncNow: %v", err)
	}
	if len(report.Uploaded) != 0 || len(report.Downloaded) != 0 || len(report.Conflicts) != 0 {
		t.Fatalf("expected no actions on an unchanged second pass, got %+v", report)
	}
}

func TestSyncNowHonorsRemoteDeletion(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "book.epub"), []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, p := newTestEngine(t, dir)

	if _, err := e.SyncNow(context.Background(), nil); err != nil {
		t.Fatalf("first SyncNow: %v", err)
	}
	// Remote deletion: the object disappears, local content is unchanged.
	delete(p.objects, "book.epub")

	report, err := e.SyncNow(context.Background(), nil)
	if err != nil {
		t.Fatalf("second SyncNow: %v", err)
	}
	if len(report.Uploaded) != 0 {
		t.Fatalf("expected the remote deletion to be honored (no re-upload), got %+v", report.Uploaded)
	}
	if _, ok := p.objects["book.epub"]; ok {
		t.Fatalf("expected book.epub to remain deleted remotely")
	}
}

func TestSyncNowUploadsLocalModificationAfterRemoteDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "book.epub")
	if err := os.WriteFile(path, []byte("hello"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, p := newTestEngine(t, dir)

	if _, err := e.SyncNow(context.Background(), nil); err != nil {
		t.Fatalf("first SyncNow: %v", err)
	}
	delete(p.objects, "book.epub")
	if err := os.WriteFile(path, []byte("hello, modified"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	report, err := e.SyncNow(context.Background(), nil)
	if err != nil {
		t.Fatalf("second SyncNow: %v", err)
	}
	if len(report.Uploaded) != 1 || report.Uploaded[0] != "book.epub" {
		t.Fatalf("expected re-upload of the locally modified file, got %+v", report.Uploaded)
	}
}

func TestSyncNowDetectsConflict(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.epub")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	e, p := newTestEngine(t, dir)

	if _, err := e.SyncNow(context.Background(), nil); err != nil {
		t.Fatalf("first SyncNow: %v", err)
	}

	// Both sides change since the snapshot: local content and the
	// sidecar's recorded last_modified for the same key.
	if err := os.WriteFile(path, []byte("v2, local edit"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	sc, err := LoadSidecar(context.Background(), p)
	if err != nil {
		t.Fatalf("LoadSidecar: %v", err)
	}
	meta := sc.Books["a.epub"]
	meta.LastModified = "2099-01-01T00:00:00Z"
	sc.Books["a.epub"] = meta
	if err := SaveSidecar(context.Background(), p, sc); err != nil {
		t.Fatalf("SaveSidecar: %v", err)
	}
	p.objects["a.epub"] = []byte("v1")

	report, err := e.SyncNow(context.Background(), nil)
	if err != nil {
		t.Fatalf("second SyncNow: %v", err)
	}
	if len(report.Conflicts) != 1 || report.Conflicts[0] != "a.epub" {
		t.Fatalf("expected a.epub reported as a conflict, got %+v", report.Conflicts)
	}
	if string(p.objects["a.epub"]) != "v1" {
		t.Fatalf("conflict must not overwrite the remote side")
	}
}

func TestSyncNowMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	e, _ := newTestEngine(t, dir)

	e.mu.Lock()
	e.status.Syncing = true
	e.mu.Unlock()

	_, err := e.SyncNow(context.Background(), nil)
	if !errors.Is(err, ErrSyncInProgress) {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}

func TestSyncNowRequiresConfiguration(t *testing.T) {
	e := NewEngine()
	_, err := e.SyncNow(context.Background(), nil)
	if !errors.Is(err, ErrNoStorageConfigured) {
		t.Fatalf("expected ErrNoStorageConfigured, got %v", err)
	}
}

func TestBookProgressRoundTripAcrossFreshEngine(t *testing.T) {
	dir := t.TempDir()
	withIsolatedConfigDir(t)
	p := newMemProvider()

	e1 := NewEngine()
	e1.provider = p
	e1.Configure(StorageConfig{Provider: "s3", Params: map[string]string{}}, dir)

	want := BookProgress{Chapter: 3, Page: 42, Percent: 0.15}
	if err := e1.UpdateBookProgress(context.Background(), "a.epub", want); err != nil {
		t.Fatalf("UpdateBookProgress: %v", err)
	}

	e2 := NewEngine()
	e2.provider = p
	e2.Configure(StorageConfig{Provider: "s3", Params: map[string]string{}}, dir)

	got, ok, err := e2.GetBookProgress(context.Background(), "a.epub")
	if err != nil {
		t.Fatalf("GetBookProgress: %v", err)
	}
	if !ok {
		t.Fatalf("expected a progress entry to exist")
	}
	if got != want {
		t.Fatalf("progress mismatch: got %+v want %+v", got, want)
	}
}
