package backend

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Engine-level sentinel errors. Their .Error() strings are the exact
// wording a caller that only reads the string (rather than using
// errors.Is) would still recognize.
var (
	ErrSyncInProgress      = errors.New("Sync already in progress")
	ErrNoStorageConfigured = errors.New("No storage configured")
	ErrNoLibraryPath       = errors.New("No library path configured")
)

// Engine holds the single piece of shared mutable state a device keeps
// about its library's sync configuration and live status, guarded by a
// mutex so a manual SyncNow and the auto-sync goroutine never race.
type Engine struct {
	mu sync.Mutex

	config      *StorageConfig
	libraryPath string
	status      SyncStatus

	autoSync *autoSyncHandle

	// provider overrides resolveProvider's CreateProvider call when set.
	// Production code never sets it; it exists so engine tests can run
	// the reconciliation algorithm against an in-memory Provider without
	// a real S3/WebDAV/Drive endpoint.
	provider Provider
}

func (e *Engine) resolveProvider(cfg StorageConfig) (Provider, error) {
	if e.provider != nil {
		return e.provider, nil
	}
	return CreateProvider(cfg)
}

// NewEngine returns an engine with no storage configured yet.
func NewEngine() *Engine {
	return &Engine{
		status: SyncStatus{AutoSyncIntervalSecs: 300},
	}
}

// Configure binds the provider config and library path. It does not
// itself test the connection; callers typically call TestConnection
// first.
func (e *Engine) Configure(cfg StorageConfig, libraryPath string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfgCopy := cfg
	e.config = &cfgCopy
	e.libraryPath = libraryPath
}

// TestConnection builds a throwaway provider from cfg and probes it,
// without touching the engine's bound configuration.
func (e *Engine) TestConnection(ctx context.Context, cfg StorageConfig) (bool, error) {
	p, err := CreateProvider(cfg)
	if err != nil {
		return false, err
	}
	return p.TestConnection(ctx)
}

// Status returns a snapshot of the engine's live state.
func (e *Engine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// ListRemote lists the remote inventory under the bound configuration.
func (e *Engine) ListRemote(ctx context.Context) ([]RemoteFile, error) {
	e.mu.Lock()
	cfg := e.config
	e.mu.Unlock()
	if cfg == nil {
		return nil, ErrNoStorageConfigured
	}
	p, err := e.resolveProvider(*cfg)
	if err != nil {
		return nil, err
	}
	return p.ListFiles(ctx, "")
}

// UpdateBookProgress is a read-modify-write against the remote sidecar;
// it does not run a full sync pass.
func (e *Engine) UpdateBookProgress(ctx context.Context, filename string, progress BookProgress) error {
	e.mu.Lock()
	cfg := e.config
	e.mu.Unlock()
	if cfg == nil {
		return ErrNoStorageConfigured
	}
	p, err := e.resolveProvider(*cfg)
	if err != nil {
		return err
	}
	sc, err := LoadSidecar(ctx, p)
	if err != nil {
		return err
	}
	meta := sc.Books[filename]
	meta.Filename = filename
	progressCopy := progress
	meta.Progress = &progressCopy
	if meta.Notes == nil {
		meta.Notes = []any{}
	}
	if meta.Bookmarks == nil {
		meta.Bookmarks = []any{}
	}
	sc.Books[filename] = meta
	sc.LastSync = time.Now().UTC().Format(time.RFC3339)
	return SaveSidecar(ctx, p, sc)
}

// GetBookProgress returns the last-recorded progress for filename, and
// whether an entry exists at all.
func (e *Engine) GetBookProgress(ctx context.Context, filename string) (BookProgress, bool, error) {
	e.mu.Lock()
	cfg := e.config
	e.mu.Unlock()
	if cfg == nil {
		return BookProgress{}, false, ErrNoStorageConfigured
	}
	p, err := e.resolveProvider(*cfg)
	if err != nil {
		return BookProgress{}, false, err
	}
	sc, err := LoadSidecar(ctx, p)
	if err != nil {
		return BookProgress{}, false, err
	}
	meta, ok := sc.Books[filename]
	if !ok || meta.Progress == nil {
		return BookProgress{}, false, nil
	}
	return *meta.Progress, true, nil
}

// SyncNow runs one full reconciliation pass per the four-bit decision
// table (L/R/S/LM/RM), emitting progress through emitter. emitter may be
// NoopEmitter{} if the caller doesn't care.
func (e *Engine) SyncNow(ctx context.Context, emitter Emitter) (*SyncReport, error) {
	if emitter == nil {
		emitter = NoopEmitter{}
	}

	e.mu.Lock()
	if e.status.Syncing {
		e.mu.Unlock()
		return nil, ErrSyncInProgress
	}
	e.status.Syncing = true
	e.status.Error = nil
	cfg := e.config
	libraryPath := e.libraryPath
	e.mu.Unlock()

	report, err := e.runPass(ctx, cfg, libraryPath, emitter)

	e.mu.Lock()
	e.status.Syncing = false
	if err != nil {
		errStr := err.Error()
		e.status.Error = &errStr
	} else {
		e.status.Error = nil
		now := time.Now().UTC().Format(time.RFC3339)
		e.status.LastSync = &now
	}
	e.mu.Unlock()

	emitter.EmitComplete(report, err)
	return report, err
}

func (e *Engine) runPass(ctx context.Context, cfg *StorageConfig, libraryPath string, emitter Emitter) (*SyncReport, error) {
	if cfg == nil {
		return nil, ErrNoStorageConfigured
	}
	if libraryPath == "" {
		return nil, ErrNoLibraryPath
	}

	provider, err := e.resolveProvider(*cfg)
	if err != nil {
		return nil, err
	}

	report := newSyncReport()
	emitter.EmitProgress(ProgressEvent{Stage: "starting"})

	localFiles, scanErrs, err := ScanLibrary(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("scan library: %w", err)
	}
	report.Errors = append(report.Errors, scanErrs...)

	localByName := make(map[string]LocalFileInfo, len(localFiles))
	for _, lf := range localFiles {
		localByName[lf.Filename] = lf
	}

	emitter.EmitProgress(ProgressEvent{Stage: "listing_remote"})
	remoteFiles, err := provider.ListFiles(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list remote: %w", err)
	}
	remoteByName := make(map[string]RemoteFile, len(remoteFiles))
	for _, rf := range remoteFiles {
		if rf.Key == sidecarKey {
			continue
		}
		remoteByName[rf.Key] = rf
	}

	sidecar, err := LoadSidecar(ctx, provider)
	if err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("load sidecar: %v", err))
		sidecar = NewRemoteSidecar()
	}

	prevState, err := LoadLocalSyncState()
	if err != nil {
		return nil, fmt.Errorf("load local sync state: %w", err)
	}

	emitter.EmitProgress(ProgressEvent{Stage: "comparing"})

	names := make(map[string]bool, len(localByName)+len(remoteByName))
	for n := range localByName {
		names[n] = true
	}
	for n := range remoteByName {
		names[n] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	for _, name := range sorted {
		local, L := localByName[name]
		remote, R := remoteByName[name]
		snap, S := prevState.FileHashes[name]

		LM := L && S && local.MD5 != snap.MD5
		RM := R && S && sidecar.Books[name].LastModified != snap.LastModified

		switch {
		case L && !R && !S:
			e.doUpload(ctx, provider, local, name, report, emitter)
		case L && !R && S && !LM:
			// ignore: remote deletion honored
		case L && !R && S && LM:
			e.doUpload(ctx, provider, local, name, report, emitter)
		case !L && R && !S:
			e.doDownload(ctx, provider, libraryPath, remote, name, report, emitter)
		case !L && R && S:
			// ignore: local deletion honored
		case L && R && !LM && !RM:
			// ignore: agreed
		case L && R && LM && !RM:
			e.doUpload(ctx, provider, local, name, report, emitter)
		case L && R && !LM && RM:
			// ignore: remote-only change, conservative, picked up next pass
		case L && R && LM && RM:
			report.Conflicts = append(report.Conflicts, name)
			emitter.EmitConflict(ConflictEvent{File: name, LocalModified: local.LastModified})
		}
	}

	finalLocalFiles, finalScanErrs, err := ScanLibrary(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("rescan library: %w", err)
	}
	report.Errors = append(report.Errors, finalScanErrs...)

	for _, lf := range finalLocalFiles {
		existing, ok := sidecar.Books[lf.Filename]
		meta := BookSyncMeta{
			Filename:     lf.Filename,
			Size:         lf.Size,
			LastModified: lf.LastModified,
		}
		if ok {
			meta.Progress = existing.Progress
			meta.Notes = existing.Notes
			meta.Bookmarks = existing.Bookmarks
		}
		if meta.Notes == nil {
			meta.Notes = []any{}
		}
		if meta.Bookmarks == nil {
			meta.Bookmarks = []any{}
		}
		sidecar.Books[lf.Filename] = meta
	}
	sidecar.LastSync = time.Now().UTC().Format(time.RFC3339)

	if err := SaveSidecar(ctx, provider, sidecar); err != nil {
		report.MetadataSynced = false
		report.Errors = append(report.Errors, fmt.Sprintf("save sidecar: %v", err))
	} else {
		report.MetadataSynced = true
	}

	newState := NewLocalSyncState()
	for _, lf := range finalLocalFiles {
		newState.FileHashes[lf.Filename] = FileSnapshot{
			MD5:          lf.MD5,
			Size:         lf.Size,
			LastModified: lf.LastModified,
		}
	}
	newState.LastSync = time.Now().UTC().Format(time.RFC3339)
	newState.ConfigHash = computeConfigHash(*cfg)

	if err := SaveLocalSyncState(newState); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("save local sync state: %v", err))
	}

	return report, nil
}

func (e *Engine) doUpload(ctx context.Context, p Provider, local LocalFileInfo, name string, report *SyncReport, emitter Emitter) {
	emitter.EmitProgress(ProgressEvent{Stage: "uploading", Context: map[string]any{"file": name}})
	if err := p.Upload(ctx, local.AbsolutePath, name); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("upload %s: %v", name, err))
		return
	}
	report.Uploaded = append(report.Uploaded, name)
}

func (e *Engine) doDownload(ctx context.Context, p Provider, libraryPath string, remote RemoteFile, name string, report *SyncReport, emitter Emitter) {
	emitter.EmitProgress(ProgressEvent{Stage: "downloading", Context: map[string]any{"file": name}})
	localPath := joinLibraryPath(libraryPath, name)

	if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("download %s: %v", name, err))
		return
	}

	// Download to a uniquely-suffixed temp file first so a reader never
	// observes a partially-written book, then rename into place.
	tmpPath := localPath + ".download-" + uuid.NewString() + ".tmp"
	if err := p.Download(ctx, name, tmpPath); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("download %s: %v", name, err))
		_ = os.Remove(tmpPath)
		return
	}
	if err := os.Rename(tmpPath, localPath); err != nil {
		report.Errors = append(report.Errors, fmt.Sprintf("download %s: %v", name, err))
		_ = os.Remove(tmpPath)
		return
	}
	report.Downloaded = append(report.Downloaded, name)
}

func joinLibraryPath(libraryPath, name string) string {
	return filepath.Join(libraryPath, filepath.FromSlash(name))
}

// computeConfigHash is a deterministic FNV-1a digest of the provider name
// and its sorted params. runPass stores it in sync_state.json as
// ConfigHash; nothing reads it back, so it does not affect any sync
// decision. It is informational, not a security control.
func computeConfigHash(cfg StorageConfig) string {
	keys := make([]string, 0, len(cfg.Params))
	for k := range cfg.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := fnv.New64a()
	_, _ = io.WriteString(h, cfg.Provider)
	for _, k := range keys {
		_, _ = io.WriteString(h, "\x00")
		_, _ = io.WriteString(h, k)
		_, _ = io.WriteString(h, "=")
		_, _ = io.WriteString(h, cfg.Params[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
