// Package tree implements the authoritative, lazily-populated in-memory
// model of the filesystem subtree served to sessions.
//
// The store is an arena of entries keyed by absolute path. Structural
// mutation goes through a single write lock; readers take snapshots and
// never see aliased mutable state.
package tree

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/arborfs/arbor/internal/domain"
	"github.com/arborfs/arbor/pkg/types"
)

// Store is the authoritative tree of filesystem entries.
type Store struct {
	mu    sync.RWMutex
	root  string // current effective root, absolute
	nodes map[string]*node
}

// New creates a store rooted at dir, which must be an existing directory.
func New(dir string) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)
	s := &Store{nodes: make(map[string]*node)}
	if _, err := s.ensureDir(abs); err != nil {
		return nil, err
	}
	s.root = abs
	return s, nil
}

// Root returns the current effective root path.
func (s *Store) Root() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.root
}

// ChangeRoot moves the effective root up or down. Cached subtrees under
// the old root are kept; re-rooting never discards the arena.
func (s *Store) ChangeRoot(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.ensureDir(abs); err != nil {
		return "", err
	}
	s.root = abs
	return abs, nil
}

// ensureDir stats path and installs a directory node for it if missing.
// Caller holds the write lock (or is the constructor).
func (s *Store) ensureDir(path string) (*node, error) {
	if n, ok := s.nodes[path]; ok {
		if n.Kind != types.KindDir {
			return nil, domain.ErrNotDirectory
		}
		return n, nil
	}
	e, err := lstatEntry(path, filepath.Base(path))
	if err != nil {
		return nil, mapFsError(err)
	}
	if e.Kind != types.KindDir {
		return nil, domain.ErrNotDirectory
	}
	n := &node{Entry: e, children: make(map[string]*node)}
	s.nodes[path] = n
	if parent, ok := s.nodes[filepath.Dir(path)]; ok && parent != n {
		n.parent = parent
		parent.children[n.Name] = n
	}
	return n, nil
}

// Expand loads the immediate children of path from the filesystem if they
// are not already loaded and returns the up-to-date child list.
func (s *Store) Expand(path string) ([]Entry, error) {
	path = filepath.Clean(path)

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.ensureDir(path)
	if err != nil {
		return nil, err
	}
	if !n.Loaded {
		if err := s.scanLocked(n); err != nil {
			return nil, err
		}
	}
	return childList(n), nil
}

// Collapse marks a directory unloaded. Cached children are retained but
// no longer live for delta purposes; re-expansion re-scans.
func (s *Store) Collapse(path string) {
	path = filepath.Clean(path)
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[path]; ok && n.Kind == types.KindDir {
		n.Loaded = false
	}
}

// Lookup returns a copy of the entry at path.
func (s *Store) Lookup(path string) (Entry, bool) {
	path = filepath.Clean(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[path]
	if !ok {
		return Entry{}, false
	}
	return n.Entry, true
}

// LoadedDirs returns every directory currently marked loaded. The watcher
// adapter mirrors this set as its watch list.
func (s *Store) LoadedDirs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var dirs []string
	for path, n := range s.nodes {
		if n.Kind == types.KindDir && n.Loaded {
			dirs = append(dirs, path)
		}
	}
	sort.Strings(dirs)
	return dirs
}

// scanLocked populates n's children from the filesystem, preserving the
// cached subtree of children that are still present with the same kind.
// Caller holds the write lock.
func (s *Store) scanLocked(n *node) error {
	ents, err := os.ReadDir(n.Path)
	if err != nil {
		n.ScanErr = err.Error()
		return mapFsError(err)
	}
	n.ScanErr = ""

	seen := make(map[string]bool, len(ents))
	for _, de := range ents {
		name := de.Name()
		seen[name] = true
		childPath := filepath.Join(n.Path, name)
		e, err := lstatEntry(childPath, name)
		if err != nil {
			// Entry vanished or is unreadable mid-scan: record, keep going.
			if existing, ok := n.children[name]; ok {
				existing.ScanErr = err.Error()
			}
			continue
		}
		if existing, ok := n.children[name]; ok && existing.Kind == e.Kind {
			status := existing.Status
			loaded := existing.Loaded
			existing.Entry = e
			existing.Status = status
			existing.Loaded = loaded
			existing.childCount = len(existing.children)
			continue
		}
		// Kind changed or new: replace wholesale.
		if existing, ok := n.children[name]; ok {
			s.removeSubtreeLocked(existing)
		}
		child := &node{Entry: e, parent: n, children: make(map[string]*node)}
		n.children[name] = child
		s.nodes[childPath] = child
	}
	for name, child := range n.children {
		if !seen[name] {
			s.removeSubtreeLocked(child)
		}
	}
	n.Loaded = true
	n.childCount = len(n.children)
	return nil
}

// removeSubtreeLocked unlinks a node and its descendants from the arena.
func (s *Store) removeSubtreeLocked(n *node) {
	for _, child := range n.children {
		s.removeSubtreeLocked(child)
	}
	if n.parent != nil {
		delete(n.parent.children, n.Name)
		n.parent.childCount = len(n.parent.children)
	}
	delete(s.nodes, n.Path)
}

// childList returns sorted copies of n's children: directories first,
// then case-insensitive by name.
func childList(n *node) []Entry {
	out := make([]Entry, 0, len(n.children))
	for _, c := range n.children {
		e := c.Entry
		e.childCount = len(c.children)
		if c.Kind == types.KindDir && !c.Loaded {
			e.childCount = 0
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

func sortEntries(list []Entry) {
	sort.Slice(list, func(i, j int) bool {
		di, dj := list[i].Kind == types.KindDir, list[j].Kind == types.KindDir
		if di != dj {
			return di
		}
		return strings.ToLower(list[i].Name) < strings.ToLower(list[j].Name)
	})
}

func mapFsError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return domain.ErrPermissionDenied
	default:
		return err
	}
}
