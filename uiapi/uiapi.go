// Package uiapi is the host-facing command surface: a plain Go struct
// whose methods are what a GUI shell, CLI, or test double calls. The
// core (backend) never imports a GUI framework; uiapi is the only layer
// that knows it's being called from one.
package uiapi

import (
	"context"

	"kliosync/backend"
)

// API is bound once at startup and exposes the command table.
type API struct {
	ctx     context.Context
	engine  *backend.Engine
	emitter backend.Emitter
}

// New builds an API bound to engine, emitting through emitter. Pass
// backend.NoopEmitter{} if the host doesn't need progress events.
func New(engine *backend.Engine, emitter backend.Emitter) *API {
	if emitter == nil {
		emitter = backend.NoopEmitter{}
	}
	return &API{engine: engine, emitter: emitter}
}

// SetContext binds the context later handlers should thread through, the
// same pattern a Wails-style shell uses at app startup.
func (a *API) SetContext(ctx context.Context) { a.ctx = ctx }

func (a *API) context() context.Context {
	if a.ctx != nil {
		return a.ctx
	}
	return context.Background()
}

// UserStorageTestConnection probes cfg without binding it to the engine.
func (a *API) UserStorageTestConnection(cfg backend.StorageConfig) (bool, error) {
	return a.engine.TestConnection(a.context(), cfg)
}

// UserStorageConfigure binds the storage config and library path the
// engine will use for every subsequent sync.
func (a *API) UserStorageConfigure(cfg backend.StorageConfig, libraryPath string) {
	a.engine.Configure(cfg, libraryPath)
}

// UserStorageSyncNow runs one reconciliation pass.
func (a *API) UserStorageSyncNow() (*backend.SyncReport, error) {
	return a.engine.SyncNow(a.context(), a.emitter)
}

// UserStorageStartAutoSync enables the periodic background scheduler.
func (a *API) UserStorageStartAutoSync() {
	a.engine.StartAutoSync(a.emitter)
}

// UserStorageStopAutoSync disables the scheduler.
func (a *API) UserStorageStopAutoSync() {
	a.engine.StopAutoSync()
}

// UserStorageSetAutoSyncInterval stores the scheduler's tick interval. A
// running scheduler keeps its current period until it is started again.
func (a *API) UserStorageSetAutoSyncInterval(secs uint64) {
	a.engine.SetAutoSyncInterval(secs)
}

// UserStorageGetStatus returns the engine's live status snapshot.
func (a *API) UserStorageGetStatus() backend.SyncStatus {
	return a.engine.Status()
}

// UserStorageListRemote lists the configured provider's current inventory.
func (a *API) UserStorageListRemote() ([]backend.RemoteFile, error) {
	return a.engine.ListRemote(a.context())
}

// UserStorageUpdateProgress records a reading position for filename.
func (a *API) UserStorageUpdateProgress(filename string, chapter, page int, percent float64) error {
	return a.engine.UpdateBookProgress(a.context(), filename, backend.BookProgress{
		Chapter: chapter,
		Page:    page,
		Percent: percent,
	})
}

// UserStorageGetProgress returns the last-recorded progress for filename.
func (a *API) UserStorageGetProgress(filename string) (backend.BookProgress, bool, error) {
	return a.engine.GetBookProgress(a.context(), filename)
}

// GdriveStartAuth runs the interactive OAuth flow and returns the tokens
// to persist into a gdrive StorageConfig.
func (a *API) GdriveStartAuth(clientID, clientSecret string) (*backend.GDriveAuthResult, error) {
	return backend.StartGDriveInteractiveAuth(a.context(), clientID, clientSecret)
}
