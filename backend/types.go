package backend

import "time"

// LocalFileInfo describes one book file found by a local library scan.
// Rebuilt fresh on every scan; never persisted as-is.
type LocalFileInfo struct {
	Filename     string `json:"filename"` // basename, or "subfolder/basename"
	AbsolutePath string `json:"absolutePath"`
	MD5          string `json:"md5"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"` // RFC3339, empty if unavailable
}

// RemoteFile describes one object returned by a provider listing.
// Key is relative to the provider's configured prefix/scoping folder.
type RemoteFile struct {
	Key          string  `json:"key"`
	Size         int64   `json:"size"`
	LastModified string  `json:"lastModified"`
	ETag         *string `json:"etag,omitempty"`
}

// FileSnapshot is what LocalSyncState remembers about one file as of the
// last successful sync.
type FileSnapshot struct {
	MD5          string `json:"md5"`
	Size         int64  `json:"size"`
	LastModified string `json:"lastModified"`
}

// LocalSyncState is persisted at <user-config-dir>/klioreader/sync_state.json.
// It is the baseline the next pass compares local/remote inventories against.
type LocalSyncState struct {
	LastSync    string                  `json:"lastSync"`
	FileHashes  map[string]FileSnapshot `json:"fileHashes"`
	ConfigHash  string                  `json:"configHash"`
}

// NewLocalSyncState returns the zero-value baseline used before any sync
// has ever run, or after a corrupt state file is discarded.
func NewLocalSyncState() *LocalSyncState {
	return &LocalSyncState{
		FileHashes: map[string]FileSnapshot{},
	}
}

// BookProgress is a reading position within one book.
type BookProgress struct {
	Chapter int     `json:"chapter"`
	Page    int     `json:"page"`
	Percent float64 `json:"percent"`
}

// BookSyncMeta is the per-book entry stored in the remote sidecar.
type BookSyncMeta struct {
	Filename     string        `json:"filename"`
	Size         int64         `json:"size"`
	LastModified string        `json:"lastModified"`
	Progress     *BookProgress `json:"progress,omitempty"`
	Notes        []any         `json:"notes"`
	Bookmarks    []any         `json:"bookmarks"`
}

// RemoteSidecar is the single JSON object ".klio-sync.json" kept at the
// root of the remote store: the shared source of truth for reading
// progress and the mtime reference used to detect remote content changes
// without downloading.
type RemoteSidecar struct {
	Books    map[string]BookSyncMeta `json:"books"`
	LastSync string                  `json:"lastSync"`
}

// NewRemoteSidecar returns the default sidecar for a store that has never
// been synced.
func NewRemoteSidecar() *RemoteSidecar {
	return &RemoteSidecar{
		Books:    map[string]BookSyncMeta{},
		LastSync: time.Now().UTC().Format(time.RFC3339),
	}
}

// StorageConfig identifies and parameterizes one provider. Recognized
// params per provider are listed in the provider factory.
type StorageConfig struct {
	Provider string            `json:"provider"` // "s3" | "webdav" | "gdrive"
	Params   map[string]string `json:"params"`
}

// SyncStatus is the engine's live, externally-readable state.
type SyncStatus struct {
	Syncing               bool    `json:"syncing"`
	LastSync              *string `json:"lastSync,omitempty"`
	PendingUp             int     `json:"pendingUp"`
	PendingDown           int     `json:"pendingDown"`
	Error                 *string `json:"error,omitempty"`
	AutoSyncEnabled       bool    `json:"autoSyncEnabled"`
	AutoSyncIntervalSecs  uint64  `json:"autoSyncIntervalSecs"`
}

// SyncReport is the return value of one sync pass.
type SyncReport struct {
	Uploaded       []string `json:"uploaded"`
	Downloaded     []string `json:"downloaded"`
	DeletedRemote  []string `json:"deletedRemote"`
	DeletedLocal   []string `json:"deletedLocal"`
	Conflicts      []string `json:"conflicts"`
	Errors         []string `json:"errors"`
	MetadataSynced bool     `json:"metadataSynced"`
}

func newSyncReport() *SyncReport {
	return &SyncReport{
		Uploaded:      []string{},
		Downloaded:    []string{},
		DeletedRemote: []string{},
		DeletedLocal:  []string{},
		Conflicts:     []string{},
		Errors:        []string{},
	}
}
