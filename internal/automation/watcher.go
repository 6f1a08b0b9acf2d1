//go:build !no_automation

package automation

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 250 * time.Millisecond

// Reloader is the part of the engine the watcher drives. ReloadScript stops
// the old VM before looking the script up.
type Reloader interface {
	ReloadScript(id string) error
}

// Watcher reloads scripts edited directly in the scripts directory.
type Watcher struct {
	fsw    *fsnotify.Watcher
	target Reloader
	logger *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWatcher starts watching dir.
func NewWatcher(dir string, target Reloader, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	w := &Watcher{
		fsw:    fsw,
		target: target,
		logger: logger.With("component", "script-watcher"),
		timers: make(map[string]*time.Timer),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	w.logger.Info("watching scripts", "dir", dir)
	return w, nil
}

// Close stops the watcher and drops pending reloads.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsw.Close()
	w.wg.Wait()
	w.mu.Lock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	id, ok := scriptIDFromFile(filepath.Base(ev.Name))
	if !ok || ev.Op == fsnotify.Chmod {
		return
	}
	w.schedule(id)
}

// schedule runs a reload once the file has been quiet for reloadDelay.
func (w *Watcher) schedule(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[id]; ok {
		t.Reset(reloadDelay)
		return
	}
	w.timers[id] = time.AfterFunc(reloadDelay, func() {
		w.mu.Lock()
		delete(w.timers, id)
		w.mu.Unlock()
		select {
		case <-w.done:
			return
		default:
		}
		w.reload(id)
	})
}

func (w *Watcher) reload(id string) {
	err := w.target.ReloadScript(id)
	switch {
	case err == nil:
		w.logger.Info("script reloaded", "id", id)
	case errors.Is(err, ErrScriptNotFound):
		w.logger.Info("script removed", "id", id)
	default:
		w.logger.Warn("reload script", "id", id, "err", err)
	}
}
