package backend

import (
	"os"
	"path/filepath"
	"testing"
)

func withIsolatedConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	return dir
}

func TestLocalSyncStateDefaultsWhenMissing(t *testing.T) {
	withIsolatedConfigDir(t)
	st, err := LoadLocalSyncState()
	if err != nil {
		t.Fatalf("LoadLocalSyncState: %v", err)
	}
	if len(st.FileHashes) != 0 {
		t.Fatalf("expected empty baseline, got %+v", st)
	}
}

func TestLocalSyncStateSaveLoadRoundTrip(t *testing.T) {
	withIsolatedConfigDir(t)

	st := NewLocalSyncState()
	st.FileHashes["book.epub"] = FileSnapshot{MD5: "abc123", Size: 10, LastModified: "2026-01-01T00:00:00Z"}
	st.LastSync = "2026-01-01T00:00:00Z"
	st.ConfigHash = "deadbeef"

	if err := SaveLocalSyncState(st); err != nil {
		t.Fatalf("SaveLocalSyncState: %v", err)
	}

	loaded, err := LoadLocalSyncState()
	if err != nil {
		t.Fatalf("LoadLocalSyncState: %v", err)
	}
	snap, ok := loaded.FileHashes["book.epub"]
	if !ok || snap.MD5 != "abc123" {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
	if loaded.ConfigHash != "deadbeef" {
		t.Fatalf("config hash not preserved: %q", loaded.ConfigHash)
	}
}

func TestLocalSyncStatePreservesCorruptFile(t *testing.T) {
	dir := withIsolatedConfigDir(t)

	p, err := stateFile()
	if err != nil {
		t.Fatalf("stateFile: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte("{not valid json"), 0o644); err != nil {
		t.Fatalf("write corrupt state: %v", err)
	}

	st, err := LoadLocalSyncState()
	if err != nil {
		t.Fatalf("LoadLocalSyncState should fall back, got error: %v", err)
	}
	if len(st.FileHashes) != 0 {
		t.Fatalf("expected default baseline after corrupt file, got %+v", st)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "klioreader"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	foundBad := false
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".json" && e.Name() != "sync_state.json" {
			foundBad = true
		}
	}
	if !foundBad {
		t.Errorf("expected a preserved sync_state.bad-*.json alongside the default")
	}
}
