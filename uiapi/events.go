package uiapi

import "kliosync/backend"

// EventFunc is called once per emitted event, name first, then a JSON-
// serializable payload — the shape a Wails runtime.EventsEmit(ctx, name,
// payload) call, or a CLI's log line, or a test's recorder all accept.
type EventFunc func(name string, payload any)

// CallbackEmitter adapts a single EventFunc into backend.Emitter so the
// host only needs to implement one dispatch point.
type CallbackEmitter struct {
	Emit EventFunc
}

func (c CallbackEmitter) EmitProgress(ev backend.ProgressEvent) {
	c.Emit("sync-progress", ev)
}

func (c CallbackEmitter) EmitConflict(ev backend.ConflictEvent) {
	c.Emit("sync-conflict", ev)
}

func (c CallbackEmitter) EmitComplete(report *backend.SyncReport, err error) {
	if err != nil {
		c.Emit("sync-complete", map[string]string{"error": err.Error()})
		return
	}
	c.Emit("sync-complete", report)
}
