// Package session implements the protocol layer: per-client view state,
// request handling, and selective fan-out of tree deltas.
package session

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/arborfs/arbor/internal/metrics"
	"github.com/arborfs/arbor/internal/ops"
	"github.com/arborfs/arbor/internal/tree"
	"github.com/arborfs/arbor/internal/vcs"
	"github.com/arborfs/arbor/internal/watch"
	"github.com/arborfs/arbor/pkg/types"
)

// Config controls session defaults.
type Config struct {
	DefaultShowHidden bool
	Buffer            int // outbound frames per session
}

// Manager owns the shared tree, overlay, engine and clipboard, routes
// session requests, and fans out deltas to the sessions observing the
// affected subtree.
type Manager struct {
	cfg       Config
	store     *tree.Store
	overlay   *vcs.Overlay   // nil when the overlay is disabled
	watcher   *watch.Adapter // nil when the watch is disabled
	engine    *ops.Engine
	clipboard *Clipboard
	log       *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires the core components together.
func NewManager(cfg Config, store *tree.Store, overlay *vcs.Overlay, watcher *watch.Adapter, engine *ops.Engine, log *zap.Logger) *Manager {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 256
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		overlay:   overlay,
		watcher:   watcher,
		engine:    engine,
		clipboard: NewClipboard(),
		log:       log,
		sessions:  make(map[string]*Session),
	}
}

// Run consumes the watcher event stream and overlay updates until the
// context is cancelled. It is the tree's single writer for out-of-band
// changes; engine writes go through the same store lock.
func (m *Manager) Run(ctx context.Context) {
	var events <-chan tree.Event
	var notices <-chan watch.Notice
	if m.watcher != nil {
		events = m.watcher.Events()
		notices = m.watcher.Notices()
	}
	var updates <-chan struct{}
	if m.overlay != nil {
		updates = m.overlay.Updates()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			m.handleFsEvent(ev)
		case n := <-notices:
			kind := types.DeltaWatchDegraded
			if !n.Degraded {
				kind = types.DeltaResync
			}
			m.broadcastAll(types.Delta{Kind: kind})
		case <-updates:
			for _, repo := range m.overlay.TakeDirty() {
				m.distributeStatus(repo)
			}
		}
	}
}

func (m *Manager) handleFsEvent(ev tree.Event) {
	if ev.Kind == tree.EvRescan && ev.Path == watch.RescanAll {
		for _, dir := range m.store.LoadedDirs() {
			m.broadcast(m.store.ApplyEvent(tree.Event{Kind: tree.EvRescan, Path: dir}))
			m.scheduleVcs(dir)
		}
		return
	}

	// Loss of the root itself is fatal for the view, not the server.
	if ev.Path == m.store.Root() && ev.Kind == tree.EvRemoved {
		if _, err := os.Stat(ev.Path); err != nil {
			m.log.Warn("session: tree root invalidated", zap.String("root", ev.Path))
			m.broadcastAll(types.Delta{Kind: types.DeltaRootInvalidated, Path: ev.Path})
			return
		}
	}

	deltas := m.store.ApplyEvent(ev)
	m.broadcast(deltas)
	m.pruneWatches(deltas)
	m.scheduleVcs(filepath.Dir(ev.Path))
}

// pruneWatches releases watches on directories removed from the tree.
func (m *Manager) pruneWatches(deltas []types.Delta) {
	if m.watcher == nil {
		return
	}
	for _, d := range deltas {
		if d.Kind == types.DeltaRemoved {
			m.watcher.Unwatch(d.Path)
		}
	}
}

func (m *Manager) scheduleVcs(dir string) {
	if m.overlay != nil {
		m.overlay.Schedule(dir)
	}
}

// distributeStatus folds a recomputed repository status onto the tree.
func (m *Manager) distributeStatus(repo string) {
	m.broadcast(m.store.ApplyStatuses(repo, m.overlay.StatusFor(repo)))
}

// Connect registers a new session. The view is negotiated by the
// session's hello request.
func (m *Manager) Connect() *Session {
	s := newSession(m.cfg.Buffer)
	s.showHidden = m.cfg.DefaultShowHidden
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
	m.log.Info("session: connected", zap.String("session", s.ID))
	return s
}

// Disconnect destroys a session. In-flight operations it initiated run
// to completion; only delta delivery stops.
func (m *Manager) Disconnect(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s.ID)
	n := len(m.sessions)
	m.mu.Unlock()
	metrics.SessionsActive.Set(float64(n))
	s.close()
	m.collapseUnobserved(s.ExpandedSet())
	m.log.Info("session: disconnected", zap.String("session", s.ID))
}

// broadcast delivers deltas to sessions whose expansion set covers the
// delta's parent path. Sessions not observing a subtree receive nothing
// for it.
func (m *Manager) broadcast(deltas []types.Delta) {
	if len(deltas) == 0 {
		return
	}
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, d := range deltas {
		parent := filepath.Dir(d.Path)
		name := filepath.Base(d.Path)
		frame := types.Response{Type: types.PushDelta, OK: true, Delta: &d}
		for _, s := range sessions {
			if s.observes(d.Path, parent, name) {
				s.push(frame)
			}
		}
	}
}

// broadcastAll delivers a delta to every session regardless of view.
func (m *Manager) broadcastAll(d types.Delta) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()
	frame := types.Response{Type: types.PushDelta, OK: true, Delta: &d}
	for _, s := range sessions {
		s.push(frame)
	}
}

// collapseUnobserved evicts directories no remaining session has
// expanded, bounding memory. Cached children survive for re-expansion.
func (m *Manager) collapseUnobserved(candidates map[string]bool) {
	m.mu.Lock()
	for _, s := range m.sessions {
		s.mu.Lock()
		for p := range s.expanded {
			delete(candidates, p)
		}
		if s.root != "" {
			delete(candidates, s.root)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()
	for p := range candidates {
		m.store.Collapse(p)
		if m.watcher != nil {
			m.watcher.Unwatch(p)
		}
	}
}
