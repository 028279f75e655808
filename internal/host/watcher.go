package host

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"llmnode/internal/manifest"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reports changes under a plugin directory tree. Bursts of events are
// coalesced into one callback.
type Watcher struct {
	fw       *fsnotify.Watcher
	debounce time.Duration
	onChange func()
	log      zerolog.Logger

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
	done   chan struct{}
}

// Watch starts watching dir and its immediate subdirectories. onChange runs
// on its own goroutine after a quiet period of debounce (100ms if zero).
func (h *Host) Watch(dir string, debounce time.Duration, onChange func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	w := &Watcher{fw: fw, debounce: debounce, onChange: onChange, log: h.log, done: make(chan struct{})}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, err
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if e.IsDir() {
			if err := fw.Add(filepath.Join(dir, e.Name())); err != nil {
				w.log.Warn().Err(err).Str("dir", e.Name()).Msg("watch plugin subdirectory")
			}
		}
	}
	go w.loop()
	return w, nil
}

func relevant(ev fsnotify.Event) bool {
	base := filepath.Base(ev.Name)
	if base == manifest.FileName {
		return true
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".so", ".dylib", ".dll":
		return true
	}
	// new or removed plugin directories
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.fw.Add(ev.Name)
				}
			}
			if relevant(ev) {
				w.schedule()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("plugin watcher error")
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.onChange)
}

// Close stops watching. Pending callbacks are cancelled.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	err := w.fw.Close()
	<-w.done
	return err
}
