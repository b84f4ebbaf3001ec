package rulesource

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"upbitmt/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// ChangeListener is called after the rule file settles following a change.
type ChangeListener func(path string)

// Watcher reports changes to one file. It watches the parent directory so
// editors that save by rename are still seen, and coalesces bursts of events
// into one callback per debounce window.
type Watcher struct {
	path     string
	debounce time.Duration

	mu        sync.Mutex
	listeners []ChangeListener
}

func NewWatcher(path string, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{path: filepath.Clean(path), debounce: debounce}
}

func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fsw.Close()
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	logger.Infof("rulesource: watching %s", w.path)

	var (
		timer  *time.Timer
		fire   <-chan time.Time
		target = filepath.Base(w.path)
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case evt, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(evt.Name) != target {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) {
				continue
			}
			logger.Debugf("rulesource: %s %s", evt.Op, evt.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("rulesource: watcher error: %v", err)
		case <-fire:
			fire = nil
			w.notify()
		}
	}
}

func (w *Watcher) notify() {
	w.mu.Lock()
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("rule file listener panic: %v", r)
				}
			}()
			fn(w.path)
		}()
	}
}
