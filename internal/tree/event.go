package tree

import (
	"path/filepath"

	"github.com/arborfs/arbor/pkg/types"
)

// EventKind is a normalized filesystem change kind.
type EventKind int

const (
	EvCreated EventKind = iota
	EvRemoved
	EvModified
	EvRenamed
	// EvRescan asks the store to re-scan a directory instead of trusting
	// an event sequence (overflow fallback, explicit refresh).
	EvRescan
)

func (k EventKind) String() string {
	switch k {
	case EvCreated:
		return "created"
	case EvRemoved:
		return "removed"
	case EvModified:
		return "modified"
	case EvRenamed:
		return "renamed"
	case EvRescan:
		return "rescan"
	}
	return "unknown"
}

// Event is one normalized filesystem change.
type Event struct {
	Kind EventKind
	Path string
	To   string // rename destination
}

// ApplyEvent folds an observed filesystem change into the tree and
// returns the deltas it caused. Events under unloaded parents are
// dropped; applying the same event twice is a no-op the second time.
func (s *Store) ApplyEvent(ev Event) []types.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case EvCreated:
		return s.applyCreatedLocked(filepath.Clean(ev.Path))
	case EvRemoved:
		return s.applyRemovedLocked(filepath.Clean(ev.Path))
	case EvModified:
		return s.applyModifiedLocked(filepath.Clean(ev.Path))
	case EvRenamed:
		out := s.applyRemovedLocked(filepath.Clean(ev.Path))
		added := s.applyCreatedLocked(filepath.Clean(ev.To))
		for i := range added {
			if added[i].Kind == types.DeltaAdded {
				added[i].From = filepath.Clean(ev.Path)
			}
		}
		return append(out, added...)
	case EvRescan:
		return s.rescanLocked(filepath.Clean(ev.Path))
	}
	return nil
}

func (s *Store) loadedParentLocked(path string) *node {
	parent, ok := s.nodes[filepath.Dir(path)]
	if !ok || !parent.Loaded {
		return nil
	}
	return parent
}

func (s *Store) applyCreatedLocked(path string) []types.Delta {
	parent := s.loadedParentLocked(path)
	if parent == nil {
		return nil
	}
	e, err := lstatEntry(path, filepath.Base(path))
	if err != nil {
		// Created then gone already; a removal event will follow if the
		// entry was ever visible.
		return nil
	}
	if existing, ok := parent.children[e.Name]; ok {
		if sameContent(existing.Entry, e) {
			return nil // engine already applied this change
		}
		status := existing.Status
		loaded := existing.Loaded
		if existing.Kind != e.Kind {
			s.removeSubtreeLocked(existing)
			return append(
				[]types.Delta{{Kind: types.DeltaRemoved, Path: path}},
				s.insertLocked(parent, e)...)
		}
		existing.Entry = e
		existing.Status = status
		existing.Loaded = loaded
		info := existing.Info()
		return []types.Delta{{Kind: types.DeltaUpdated, Path: path, Entry: &info}}
	}
	return s.insertLocked(parent, e)
}

func (s *Store) insertLocked(parent *node, e Entry) []types.Delta {
	child := &node{Entry: e, parent: parent, children: make(map[string]*node)}
	parent.children[e.Name] = child
	parent.childCount = len(parent.children)
	s.nodes[e.Path] = child
	info := child.Info()
	return []types.Delta{{Kind: types.DeltaAdded, Path: e.Path, Entry: &info}}
}

func (s *Store) applyRemovedLocked(path string) []types.Delta {
	n, ok := s.nodes[path]
	if !ok {
		return nil // never modeled, or already removed
	}
	if n.parent == nil {
		return nil // root removal is handled by the session manager
	}
	observed := n.parent.Loaded
	s.removeSubtreeLocked(n)
	if !observed {
		return nil // stale cache pruned, no observer cares
	}
	return []types.Delta{{Kind: types.DeltaRemoved, Path: path}}
}

func (s *Store) applyModifiedLocked(path string) []types.Delta {
	n, ok := s.nodes[path]
	if !ok {
		// A remove-then-recreate burst coalesces to a modification; the
		// entry may not be cached by the time it lands.
		return s.applyCreatedLocked(path)
	}
	if n.parent == nil || !n.parent.Loaded {
		return nil
	}
	e, err := lstatEntry(path, n.Name)
	if err != nil {
		return s.applyRemovedLocked(path)
	}
	if e.Kind != n.Kind {
		// Recreated as a different kind within one window.
		return s.applyCreatedLocked(path)
	}
	if sameContent(n.Entry, e) {
		return nil
	}
	status := n.Status
	loaded := n.Loaded
	n.Entry = e
	n.Status = status
	n.Loaded = loaded
	info := n.Info()
	return []types.Delta{{Kind: types.DeltaUpdated, Path: path, Entry: &info}}
}

// rescanLocked re-reads a loaded directory and diffs it against the
// cached children, emitting the corresponding deltas.
func (s *Store) rescanLocked(path string) []types.Delta {
	n, ok := s.nodes[path]
	if !ok || n.Kind != types.KindDir || !n.Loaded {
		return nil
	}
	before := make(map[string]Entry, len(n.children))
	for name, c := range n.children {
		before[name] = c.Entry
	}
	if err := s.scanLocked(n); err != nil {
		return nil
	}
	var out []types.Delta
	for name, prev := range before {
		c, ok := n.children[name]
		if !ok {
			out = append(out, types.Delta{Kind: types.DeltaRemoved, Path: prev.Path})
			continue
		}
		if !sameContent(prev, c.Entry) {
			info := c.Info()
			out = append(out, types.Delta{Kind: types.DeltaUpdated, Path: c.Path, Entry: &info})
		}
	}
	for name, c := range n.children {
		if _, ok := before[name]; !ok {
			info := c.Info()
			out = append(out, types.Delta{Kind: types.DeltaAdded, Path: c.Path, Entry: &info})
		}
	}
	return out
}
