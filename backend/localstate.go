package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// stateFile returns <user-config-dir>/klioreader/sync_state.json.
func stateFile() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}
	return filepath.Join(dir, "klioreader", "sync_state.json"), nil
}

// LoadLocalSyncState reads sync_state.json, returning the default baseline
// if it does not exist or fails to parse. A corrupt file is preserved
// alongside for post-mortem rather than silently discarded.
func LoadLocalSyncState() (*LocalSyncState, error) {
	p, err := stateFile()
	if err != nil {
		return nil, err
	}

	b, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewLocalSyncState(), nil
		}
		return nil, fmt.Errorf("read local sync state: %w", err)
	}

	var st LocalSyncState
	if err := json.Unmarshal(b, &st); err != nil {
		_ = preserveCorruptState(p, b)
		return NewLocalSyncState(), nil
	}
	if st.FileHashes == nil {
		st.FileHashes = map[string]FileSnapshot{}
	}
	return &st, nil
}

// SaveLocalSyncState writes the state atomically: write to a temp file,
// fsync, rename, then best-effort fsync the parent directory.
func SaveLocalSyncState(st *LocalSyncState) error {
	p, err := stateFile()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure state dir: %w", err)
	}

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal local sync state: %w", err)
	}

	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open tmp state for write: %w", err)
	}
	_, werr := f.Write(b)
	serr := f.Sync()
	cerr := f.Close()
	if werr != nil {
		return fmt.Errorf("write tmp state: %w", werr)
	}
	if serr != nil {
		return fmt.Errorf("sync tmp state: %w", serr)
	}
	if cerr != nil {
		return fmt.Errorf("close tmp state: %w", cerr)
	}

	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("atomic rename state: %w", err)
	}

	if d, derr := os.Open(dir); derr == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func preserveCorruptState(path string, data []byte) error {
	bad := filepath.Join(filepath.Dir(path),
		fmt.Sprintf("sync_state.bad-%s.json", time.Now().UTC().Format("20060102T150405Z")))
	return os.WriteFile(bad, data, 0o644)
}
