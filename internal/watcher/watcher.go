// Package watcher reloads the admission rules file when it changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// defaultDebounce is the quiet period required before a reload fires.
// Editors often emit several write events per save.
const defaultDebounce = 200 * time.Millisecond

// RulesWatcher watches a single rules file and invokes a reload callback
// after changes settle.
type RulesWatcher struct {
	path     string
	reload   func() error
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	watcher *fsnotify.Watcher
}

// New builds a watcher for the given rules file. The reload callback runs on
// the watcher goroutine after the debounce interval elapses without further
// events.
func New(path string, reload func() error) (*RulesWatcher, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("watcher: rules path is empty")
	}
	if reload == nil {
		return nil, fmt.Errorf("watcher: reload callback is nil")
	}
	return &RulesWatcher{
		path:     trimmed,
		reload:   reload,
		debounce: defaultDebounce,
	}, nil
}

// Start begins watching. It returns immediately; events are handled on a
// background goroutine until Stop is called or ctx is cancelled.
func (rw *RulesWatcher) Start(ctx context.Context) error {
	if rw == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: create: %w", err)
	}
	// Watch the parent directory so the file is still tracked across the
	// rename-then-replace saves that editors and atomic writers perform.
	dir := filepath.Dir(rw.path)
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("watcher: add %s: %w", dir, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	rw.mu.Lock()
	rw.watcher = fw
	rw.cancel = cancel
	rw.mu.Unlock()

	rw.wg.Add(1)
	go func() {
		defer rw.wg.Done()
		rw.run(runCtx, fw)
	}()

	log.Infof("rules watcher started (path=%s debounce=%s)", rw.path, rw.debounce)
	return nil
}

// Stop cancels the watch loop and waits for it to exit.
func (rw *RulesWatcher) Stop() error {
	if rw == nil {
		return nil
	}
	rw.mu.Lock()
	if rw.cancel != nil {
		rw.cancel()
		rw.cancel = nil
	}
	if rw.timer != nil {
		rw.timer.Stop()
		rw.timer = nil
	}
	fw := rw.watcher
	rw.watcher = nil
	rw.mu.Unlock()

	rw.wg.Wait()
	if fw != nil {
		return fw.Close()
	}
	return nil
}

func (rw *RulesWatcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			if !rw.relevant(event) {
				continue
			}
			log.Debugf("rules file event: %s %s", event.Op, event.Name)
			rw.schedule()
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("rules watcher error")
		}
	}
}

// relevant reports whether the event concerns the watched file and is an
// operation that can change its contents.
func (rw *RulesWatcher) relevant(event fsnotify.Event) bool {
	if event.Op&fsnotify.Chmod == fsnotify.Chmod {
		return false
	}
	return filepath.Clean(event.Name) == filepath.Clean(rw.path)
}

// schedule arms the debounce timer, replacing any pending one.
func (rw *RulesWatcher) schedule() {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if rw.timer != nil {
		rw.timer.Stop()
	}
	rw.timer = time.AfterFunc(rw.debounce, func() {
		if err := rw.reload(); err != nil {
			log.WithError(err).Warn("rules reload failed; previous rules remain active")
			return
		}
		log.Info("rules reloaded")
	})
}
