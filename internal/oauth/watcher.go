package oauth

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"sheetgate/pkg/logging"
)

// KeyForgetter drops in-memory state for a principal identified by its
// PrincipalKey. *Manager implements it.
type KeyForgetter interface {
	ForgetKey(key string)
}

// TokenDirWatcher watches the token directory and tells the Manager when a
// record is removed behind its back, so a deleted credential is not served
// from memory.
type TokenDirWatcher struct {
	mu sync.Mutex

	dir    string
	target KeyForgetter

	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	doneCh    chan struct{}
	running   bool
}

// NewTokenDirWatcher creates a watcher for dir.
func NewTokenDirWatcher(dir string, target KeyForgetter) *TokenDirWatcher {
	return &TokenDirWatcher{dir: dir, target: target}
}

// Start begins watching. A platform without fsnotify support is logged and
// tolerated; the Manager then only notices removals through Revoke.
func (w *TokenDirWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("TokenWatcher", "fsnotify not available, external removals will not be detected: %v", err)
		return nil
	}
	if err := watcher.Add(w.dir); err != nil {
		watcher.Close()
		logging.Warn("TokenWatcher", "Failed to watch %s: %v", w.dir, err)
		return nil
	}

	w.fsWatcher = watcher
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true

	// Capture channels before releasing the lock so Stop cannot race us.
	go w.processEvents(watcher.Events, watcher.Errors, w.stopCh, w.doneCh)

	logging.Info("TokenWatcher", "Watching %s for credential changes", w.dir)
	return nil
}

func (w *TokenDirWatcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("TokenWatcher", err, "fsnotify error")
		}
	}
}

func (w *TokenDirWatcher) handleEvent(event fsnotify.Event) {
	key, ok := recordKey(event.Name)
	if !ok {
		return
	}
	if event.Op&(fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	logging.Debug("TokenWatcher", "Credential record %s removed", filepath.Base(event.Name))
	w.target.ForgetKey(key)
}

// recordKey extracts the principal key from a record path. Temp files from
// in-progress writes are ignored.
func recordKey(path string) (string, bool) {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, tokenFileExt) {
		return "", false
	}
	return strings.TrimSuffix(name, tokenFileExt), true
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *TokenDirWatcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	doneCh := w.doneCh
	fsWatcher := w.fsWatcher
	w.fsWatcher = nil
	w.mu.Unlock()

	<-doneCh
	if err := fsWatcher.Close(); err != nil {
		logging.Warn("TokenWatcher", "Error closing fsnotify watcher: %v", err)
	}
	logging.Info("TokenWatcher", "Stopped watching %s", w.dir)
	return nil
}
