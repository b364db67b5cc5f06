package tree

import (
	"strings"

	"github.com/arborfs/arbor/pkg/types"
)

// ApplyStatuses distributes version-control statuses onto the modeled
// entries under repoRoot and recomputes directory aggregates. statusFor
// is consulted for every non-directory entry and for each directory's
// own reported status; the returned deltas cover every entry whose
// status changed.
//
// A loaded directory's aggregate is the highest-severity status among
// its own reported status and its children's; unloaded directories
// report unknown and contribute nothing to their parent.
func (s *Store) ApplyStatuses(repoRoot string, statusFor func(path string) types.VcsStatus) []types.Delta {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.nodes[repoRoot]
	if !ok {
		// The repository root may sit above the tree root.
		if root, rok := s.nodes[s.root]; rok && isUnder(s.root, repoRoot) {
			start = root
		} else {
			return nil
		}
	}
	if start.Kind != types.KindDir || !start.Loaded {
		return nil
	}
	var out []types.Delta
	s.applyStatusLocked(start, statusFor, &out)
	return out
}

func (s *Store) applyStatusLocked(n *node, statusFor func(string) types.VcsStatus, out *[]types.Delta) types.VcsStatus {
	agg := statusFor(n.Path)
	for _, c := range n.children {
		var st types.VcsStatus
		switch {
		case c.Kind == types.KindDir && c.Loaded:
			st = s.applyStatusLocked(c, statusFor, out)
		case c.Kind == types.KindDir:
			st = types.StatusUnknown
		default:
			st = statusFor(c.Path)
		}
		s.setStatusLocked(c, st, out)
		if st.Severity() > agg.Severity() {
			agg = st
		}
	}
	s.setStatusLocked(n, agg, out)
	return agg
}

func (s *Store) setStatusLocked(n *node, st types.VcsStatus, out *[]types.Delta) {
	if n.Status == st {
		return
	}
	n.Status = st
	if n.parent != nil && !n.parent.Loaded {
		return // cached but not live, nobody is watching
	}
	info := n.Info()
	*out = append(*out, types.Delta{Kind: types.DeltaStatus, Path: n.Path, Entry: &info})
}

// isUnder reports whether path is inside (or equal to) dir.
func isUnder(path, dir string) bool {
	if path == dir {
		return true
	}
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	return strings.HasPrefix(path, dir)
}
