package tree

import (
	"strings"

	"github.com/arborfs/arbor/pkg/types"
)

// Visible returns the entries a session sees: the children of root in
// display order, recursing into directories present in the expansion set.
// The result contains copies; mutating it never touches the store.
func (s *Store) Visible(root string, expanded map[string]bool, showHidden bool) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[root]
	if !ok || n.Kind != types.KindDir || !n.Loaded {
		return nil
	}
	var out []Entry
	s.visibleLocked(n, expanded, showHidden, &out)
	return out
}

func (s *Store) visibleLocked(n *node, expanded map[string]bool, showHidden bool, out *[]Entry) {
	for _, e := range childList(n) {
		if !showHidden && strings.HasPrefix(e.Name, ".") {
			continue
		}
		*out = append(*out, e)
		if e.Kind == types.KindDir && expanded[e.Path] {
			if c, ok := n.children[e.Name]; ok && c.Loaded {
				s.visibleLocked(c, expanded, showHidden, out)
			}
		}
	}
}

// Search returns the visible paths whose name matches query,
// case-insensitively. Exact requires the whole name to match.
func (s *Store) Search(root string, expanded map[string]bool, showHidden bool, query string, exact bool) []string {
	query = strings.ToLower(query)
	var paths []string
	for _, e := range s.Visible(root, expanded, showHidden) {
		name := strings.ToLower(e.Name)
		if exact && name == query || !exact && strings.Contains(name, query) {
			paths = append(paths, e.Path)
		}
	}
	return paths
}
