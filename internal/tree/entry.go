package tree

import (
	"io/fs"
	"os"
	"time"

	"github.com/arborfs/arbor/pkg/types"
)

// Entry is one modeled filesystem node. Paths are absolute and cleaned;
// every entry's path is a strict descendant of its parent's path.
type Entry struct {
	Path    string
	Name    string
	Kind    types.EntryKind
	Size    int64
	ModTime time.Time
	Mode    fs.FileMode
	Status  types.VcsStatus

	// Loaded is meaningful for directories only: children have been
	// scanned and are considered live for delta purposes.
	Loaded bool

	// ScanErr records a per-entry scan failure (e.g. permission denied
	// on a subdirectory) instead of failing the whole expansion.
	ScanErr string

	childCount int
}

// Info converts the entry to its wire form.
func (e Entry) Info() types.EntryInfo {
	return types.EntryInfo{
		Path:       e.Path,
		Name:       e.Name,
		Kind:       e.Kind,
		Size:       e.Size,
		ModTime:    e.ModTime.Unix(),
		Mode:       uint32(e.Mode.Perm()),
		Status:     e.Status,
		ChildCount: e.childCount,
		Loaded:     e.Loaded,
		ScanError:  e.ScanErr,
	}
}

// node is the arena-internal representation. Never leaves the store.
type node struct {
	Entry
	parent   *node
	children map[string]*node // keyed by name
}

func kindOf(mode fs.FileMode) types.EntryKind {
	switch {
	case mode&fs.ModeSymlink != 0:
		return types.KindSymlink
	case mode.IsDir():
		return types.KindDir
	default:
		return types.KindFile
	}
}

// lstatEntry builds an Entry from symlink-aware metadata. Symlinks are
// modeled as leaves and never traversed.
func lstatEntry(path, name string) (Entry, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Path:    path,
		Name:    name,
		Kind:    kindOf(fi.Mode()),
		Size:    fi.Size(),
		ModTime: fi.ModTime(),
		Mode:    fi.Mode(),
		Status:  types.StatusUnknown,
	}, nil
}

// sameContent reports whether two entries describe the same filesystem
// state, used to absorb watcher echoes of engine-applied changes.
func sameContent(a, b Entry) bool {
	return a.Kind == b.Kind && a.Size == b.Size && a.ModTime.Equal(b.ModTime) && a.Mode == b.Mode
}
