// Package watch adapts OS change notifications into normalized tree
// events. It maintains one watch per loaded directory (the set observers
// care about), coalesces bursts on the same path, and degrades to
// manual-refresh mode when the OS watch cannot be established.
package watch

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/arborfs/arbor/internal/metrics"
	"github.com/arborfs/arbor/internal/tree"
)

// RescanAll is the path of an EvRescan event that asks for a full
// re-scan of every loaded directory (overflow fallback).
const RescanAll = ""

// Notice reports a change in watcher health.
type Notice struct {
	Degraded bool
	Reason   string
}

// Config controls debouncing and re-establishment behavior.
type Config struct {
	Debounce   time.Duration // coalescing window per path
	RetryDelay time.Duration // initial backoff between re-establish attempts
	MaxRetries int           // attempts before staying degraded
}

// Adapter converts fsnotify events into tree.Events.
type Adapter struct {
	cfg Config
	log *zap.Logger

	events  chan tree.Event
	notices chan Notice

	mu       sync.Mutex
	w        *fsnotify.Watcher
	dirs     map[string]bool // desired watch set, survives re-establishment
	pending  map[string]*pendingEvent
	degraded bool
	closed   bool

	done chan struct{}
}

type pendingEvent struct {
	ev    tree.Event
	timer *time.Timer
}

// New creates an adapter. Call Start before Watch.
func New(cfg Config, log *zap.Logger) *Adapter {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	return &Adapter{
		cfg:     cfg,
		log:     log,
		events:  make(chan tree.Event, 256),
		notices: make(chan Notice, 4),
		dirs:    make(map[string]bool),
		pending: make(map[string]*pendingEvent),
		done:    make(chan struct{}),
	}
}

// Events is the normalized, debounced event stream.
func (a *Adapter) Events() <-chan tree.Event { return a.events }

// Notices reports transitions in and out of degraded mode.
func (a *Adapter) Notices() <-chan Notice { return a.notices }

// Degraded reports whether the adapter is in manual-refresh mode.
func (a *Adapter) Degraded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.degraded
}

// Start establishes the OS watch. Failure is non-fatal: the adapter goes
// degraded and retries with backoff.
func (a *Adapter) Start() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		a.log.Warn("watch: cannot establish watcher, degrading", zap.Error(err))
		a.setDegraded(true, err.Error())
		go a.retryLoop()
		return
	}
	a.mu.Lock()
	a.w = w
	a.mu.Unlock()
	go a.run(w)
}

// Close stops the adapter and releases the OS watch.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	w := a.w
	a.w = nil
	for _, p := range a.pending {
		p.timer.Stop()
	}
	a.mu.Unlock()
	close(a.done)
	if w != nil {
		w.Close()
	}
}

// Watch adds dir to the watch set. Errors degrade a single directory,
// not the adapter: the tree still serves cached state for it.
func (a *Adapter) Watch(dir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dirs[dir] = true
	if a.w == nil {
		return nil // degraded; retryLoop replays the set on recovery
	}
	return a.w.Add(dir)
}

// Unwatch removes dir from the watch set.
func (a *Adapter) Unwatch(dir string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.dirs, dir)
	if a.w != nil {
		a.w.Remove(dir)
	}
}

func (a *Adapter) run(w *fsnotify.Watcher) {
	for {
		select {
		case <-a.done:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			metrics.FsEvents.Inc()
			a.ingest(ev)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			a.log.Warn("watch: event stream error, falling back to rescan", zap.Error(err))
			// Overflow or truncated stream: do not trust the partial
			// sequence, re-scan everything that is loaded.
			a.emit(tree.Event{Kind: tree.EvRescan, Path: RescanAll})
		}
	}
}

// ingest normalizes and debounces one fsnotify event.
func (a *Adapter) ingest(ev fsnotify.Event) {
	var kind tree.EventKind
	switch {
	case ev.Op.Has(fsnotify.Create):
		kind = tree.EvCreated
	case ev.Op.Has(fsnotify.Remove):
		kind = tree.EvRemoved
	case ev.Op.Has(fsnotify.Rename):
		// fsnotify reports only the source half; the destination shows
		// up as a separate Create in its own directory.
		kind = tree.EvRemoved
	case ev.Op.Has(fsnotify.Write), ev.Op.Has(fsnotify.Chmod):
		kind = tree.EvModified
	default:
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	if p, ok := a.pending[ev.Name]; ok {
		p.ev.Kind = coalesce(p.ev.Kind, kind)
		p.timer.Reset(a.cfg.Debounce)
		return
	}
	p := &pendingEvent{ev: tree.Event{Kind: kind, Path: ev.Name}}
	p.timer = time.AfterFunc(a.cfg.Debounce, func() { a.flush(ev.Name) })
	a.pending[ev.Name] = p
}

func (a *Adapter) flush(path string) {
	a.mu.Lock()
	p, ok := a.pending[path]
	if ok {
		delete(a.pending, path)
	}
	closed := a.closed
	a.mu.Unlock()
	if !ok || closed {
		return
	}
	a.emit(p.ev)
}

func (a *Adapter) emit(ev tree.Event) {
	select {
	case a.events <- ev:
	case <-a.done:
	}
}

// coalesce merges two event kinds observed on the same path within the
// debounce window. A removal followed by a reappearance (the usual
// remove-then-rewrite save pattern) becomes a modification so the store
// re-stats instead of pruning a live entry; otherwise removal wins and
// creation subsumes modification.
func coalesce(old, new tree.EventKind) tree.EventKind {
	switch {
	case old == tree.EvRemoved && new != tree.EvRemoved:
		return tree.EvModified
	case new == tree.EvRemoved || old == tree.EvRemoved:
		return tree.EvRemoved
	case old == tree.EvCreated:
		return tree.EvCreated
	default:
		return new
	}
}

func (a *Adapter) setDegraded(v bool, reason string) {
	a.mu.Lock()
	changed := a.degraded != v
	a.degraded = v
	a.mu.Unlock()
	if changed {
		select {
		case a.notices <- Notice{Degraded: v, Reason: reason}:
		default:
		}
	}
}

// retryLoop attempts to re-establish the OS watch with backoff. After
// MaxRetries it gives up and the server stays in manual-refresh mode.
func (a *Adapter) retryLoop() {
	delay := a.cfg.RetryDelay
	for attempt := 0; attempt < a.cfg.MaxRetries; attempt++ {
		select {
		case <-a.done:
			return
		case <-time.After(delay):
		}
		w, err := fsnotify.NewWatcher()
		if err != nil {
			delay *= 2
			continue
		}
		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			w.Close()
			return
		}
		a.w = w
		for dir := range a.dirs {
			w.Add(dir)
		}
		a.mu.Unlock()
		a.setDegraded(false, "")
		go a.run(w)
		// The cached state may have drifted while degraded.
		a.emit(tree.Event{Kind: tree.EvRescan, Path: RescanAll})
		return
	}
	a.log.Warn("watch: giving up re-establishment, staying in manual-refresh mode")
}
