package backend

import (
	"context"
	"log"
	"time"
)

// autoSyncHandle tracks the background ticker goroutine's lifetime.
type autoSyncHandle struct {
	cancel   context.CancelFunc
	interval time.Duration
}

// StartAutoSync launches a goroutine that calls SyncNow on every tick.
// A time.Ticker first fires one full interval after it is created, so the
// next interval boundary, not the call itself, triggers the first pass.
// Calling StartAutoSync while already running restarts it with the
// current interval.
func (e *Engine) StartAutoSync(emitter Emitter) {
	e.mu.Lock()
	if e.autoSync != nil {
		e.autoSync.cancel()
	}
	interval := time.Duration(e.status.AutoSyncIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.autoSync = &autoSyncHandle{cancel: cancel, interval: interval}
	e.status.AutoSyncEnabled = true
	e.mu.Unlock()

	go e.runAutoSync(ctx, interval, emitter)
}

func (e *Engine) runAutoSync(ctx context.Context, interval time.Duration, emitter Emitter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.mu.Lock()
			enabled := e.status.AutoSyncEnabled
			e.mu.Unlock()
			if !enabled {
				return
			}
			if _, err := e.SyncNow(context.Background(), emitter); err != nil {
				log.Printf("auto-sync pass failed: %v", err)
			}
		}
	}
}

// StopAutoSync cancels the background goroutine at its next suspension
// point. An in-flight pass runs to completion.
func (e *Engine) StopAutoSync() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.AutoSyncEnabled = false
	if e.autoSync != nil {
		e.autoSync.cancel()
		e.autoSync = nil
	}
}

// SetAutoSyncInterval stores the new interval. A currently running
// ticker keeps its period until the caller restarts it with
// StartAutoSync; this call never restarts it itself.
func (e *Engine) SetAutoSyncInterval(secs uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.AutoSyncIntervalSecs = secs
}
