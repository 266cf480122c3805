package backend

// ProgressEvent is emitted at each stage of a sync pass.
// Stage is one of: starting, listing_remote, comparing, uploading, downloading.
type ProgressEvent struct {
	Stage   string         `json:"stage"`
	Context map[string]any `json:"context,omitempty"`
}

// ConflictEvent is emitted once per file for which both sides changed.
type ConflictEvent struct {
	File          string `json:"file"`
	LocalModified string `json:"localModified"`
}

// Emitter is the host-side sink for sync events. A Wails-bound shell, a
// CLI printer, or a test double all satisfy this without the core
// importing a GUI framework.
type Emitter interface {
	EmitProgress(ProgressEvent)
	EmitConflict(ConflictEvent)
	EmitComplete(report *SyncReport, err error)
}

// NoopEmitter discards every event; useful as a default when the caller
// doesn't care about progress. SyncNow and uiapi.New fall back to it when
// given a nil Emitter.
type NoopEmitter struct{}

func (NoopEmitter) EmitProgress(ProgressEvent)     {}
func (NoopEmitter) EmitConflict(ConflictEvent)     {}
func (NoopEmitter) EmitComplete(*SyncReport, error) {}
