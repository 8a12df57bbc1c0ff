// Package watcher observes compiled unit directories and forwards change events.
package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zot/hotswap/internal/config"
)

// EventType is the kind of change observed on a path.
type EventType int

const (
	Created EventType = iota
	Modified
	Deleted
)

func (t EventType) String() string {
	switch t {
	case Created:
		return "Created"
	case Modified:
		return "Modified"
	case Deleted:
		return "Deleted"
	default:
		return "Unknown"
	}
}

// Event is a single change under one of the watched roots.
type Event struct {
	Path string
	Root string
	Type EventType
}

// Sink receives every forwarded event.
type Sink func(Event)

func noopSink(Event) {}

// Watcher watches a fixed set of root directories (recursively) and forwards
// debounced events to its sink from a single goroutine.
type Watcher struct {
	config  *config.Config
	roots   []string
	watcher *fsnotify.Watcher // nil when disabled

	sinkMu sync.RWMutex
	sink   Sink

	// Directory tracking
	watchedDirs map[string]string // dir path -> root it belongs to
	mu          sync.Mutex

	// Debouncing
	pending       map[string]pendingEvent
	debounceMu    sync.Mutex
	debounceDelay time.Duration

	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

type pendingEvent struct {
	event    Event
	queuedAt time.Time
}

// New creates a watcher for roots. Roots that are not directories are ignored.
// When nothing can be watched the watcher is returned disabled: Start does
// nothing and Active reports false.
func New(cfg *config.Config, roots []string) *Watcher {
	w := &Watcher{
		config:        cfg,
		sink:          noopSink,
		watchedDirs:   make(map[string]string),
		pending:       make(map[string]pendingEvent),
		debounceDelay: cfg.Watch.Debounce.Duration(),
		done:          make(chan struct{}),
	}

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			cfg.Log(0, "Watcher: cannot resolve root %s: %v", root, err)
			continue
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			cfg.Log(1, "Watcher: skipping %s (not a directory)", root)
			continue
		}
		w.roots = append(w.roots, abs)
	}
	if len(w.roots) == 0 {
		cfg.Log(0, "Watcher: no valid roots to watch")
		return w
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		cfg.Log(0, "Watcher: failed to create watcher: %v", err)
		return w
	}
	w.watcher = fw

	added := 0
	for _, root := range w.roots {
		added += w.addTree(root, root)
	}
	if added == 0 {
		cfg.Log(0, "Watcher: could not watch any root")
		fw.Close()
		w.watcher = nil
	}
	return w
}

// Roots returns the absolute roots being watched.
func (w *Watcher) Roots() []string {
	return append([]string(nil), w.roots...)
}

// SetOnEvent replaces the sink. A nil sink discards events.
func (w *Watcher) SetOnEvent(sink Sink) {
	if sink == nil {
		sink = noopSink
	}
	w.sinkMu.Lock()
	w.sink = sink
	w.sinkMu.Unlock()
}

// Active reports whether the underlying watch handle exists and is open.
func (w *Watcher) Active() bool {
	if w.watcher == nil {
		return false
	}
	select {
	case <-w.done:
		return false
	default:
		return true
	}
}

// Start begins forwarding events. It does nothing on a disabled watcher.
func (w *Watcher) Start() {
	if w.watcher == nil || w.started {
		return
	}
	w.started = true

	go w.eventLoop()
	go w.debounceLoop()

	w.config.Log(1, "Watcher: watching %s", strings.Join(w.roots, ", "))
}

// Stop shuts the watcher down. Close failures are logged, not returned.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			if err := w.watcher.Close(); err != nil {
				w.config.Log(0, "Watcher: failed to close: %v", err)
			}
		}
	})
}

// addTree watches dir and every directory below it. It returns the number of
// directories added.
func (w *Watcher) addTree(dir, root string) int {
	added := 0
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			w.config.Log(2, "Watcher: cannot walk %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if w.addWatch(path, root) {
			added++
		}
		return nil
	})
	return added
}

func (w *Watcher) addWatch(dir, root string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watchedDirs[dir]; ok {
		return false
	}
	if err := w.watcher.Add(dir); err != nil {
		w.config.Log(1, "Watcher: cannot watch %s: %v", dir, err)
		return false
	}
	w.watchedDirs[dir] = root
	w.config.Log(2, "Watcher: added watch for %s", dir)
	return true
}

func (w *Watcher) removeWatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.watchedDirs[dir]; !ok {
		return
	}
	// fsnotify drops watches of removed directories itself
	w.watcher.Remove(dir)
	delete(w.watchedDirs, dir)
	w.config.Log(2, "Watcher: removed watch for %s", dir)
}

// rootOf returns the longest root containing path.
func (w *Watcher) rootOf(path string) string {
	best := ""
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			if len(root) > len(best) {
				best = root
			}
		}
	}
	return best
}

// eventLoop processes file system events.
func (w *Watcher) eventLoop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.config.Log(0, "Watcher: watcher error: %v", err)
		}
	}
}

// handleEvent translates a single fsnotify event.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	w.config.Log(3, "Watcher: event %s on %s", event.Op, event.Name)

	root := w.rootOf(event.Name)
	if root == "" {
		return
	}

	var kind EventType
	switch {
	case event.Op&fsnotify.Create != 0:
		kind = Created
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addTree(event.Name, root)
		}
	case event.Op&fsnotify.Write != 0:
		kind = Modified
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = Deleted
		w.removeWatch(event.Name)
	default:
		return
	}

	w.queue(Event{Path: event.Name, Root: root, Type: kind})
}

// queue hands ev to the debounce loop, or straight to the sink when
// debouncing is off.
func (w *Watcher) queue(ev Event) {
	if w.debounceDelay <= 0 {
		w.forward(ev)
		return
	}
	w.debounceMu.Lock()
	w.pending[ev.Path] = pendingEvent{event: ev, queuedAt: time.Now()}
	w.debounceMu.Unlock()
}

// debounceLoop forwards pending events after the debounce delay.
func (w *Watcher) debounceLoop() {
	if w.debounceDelay <= 0 {
		return
	}
	tick := w.debounceDelay / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.processPending()
		}
	}
}

// processPending forwards events that have been pending for longer than debounceDelay.
func (w *Watcher) processPending() {
	w.debounceMu.Lock()
	now := time.Now()
	var ready []pendingEvent
	for path, p := range w.pending {
		if now.Sub(p.queuedAt) >= w.debounceDelay {
			ready = append(ready, p)
			delete(w.pending, path)
		}
	}
	w.debounceMu.Unlock()

	// keep arrival order among the events released together
	sort.Slice(ready, func(i, j int) bool {
		return ready[i].queuedAt.Before(ready[j].queuedAt)
	})
	for _, p := range ready {
		w.forward(p.event)
	}
}

func (w *Watcher) forward(ev Event) {
	w.sinkMu.RLock()
	sink := w.sink
	w.sinkMu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			w.config.Log(0, "Watcher: PANIC handling %s: %v", ev.Path, r)
		}
	}()
	sink(ev)
}
