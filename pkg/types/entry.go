package types

// EntryKind classifies a tree entry.
type EntryKind string

const (
	KindFile    EntryKind = "file"
	KindDir     EntryKind = "dir"
	KindSymlink EntryKind = "symlink"
)

// VcsStatus is the version-control status of an entry.
type VcsStatus string

const (
	StatusModified      VcsStatus = "modified"
	StatusStaged        VcsStatus = "staged"
	StatusUntracked     VcsStatus = "untracked"
	StatusIgnored       VcsStatus = "ignored"
	StatusClean         VcsStatus = "clean"
	StatusUnknown       VcsStatus = "unknown"
	StatusNotApplicable VcsStatus = "none"
)

// Severity orders statuses for directory aggregation. Higher wins.
func (s VcsStatus) Severity() int {
	switch s {
	case StatusModified, StatusStaged:
		return 4
	case StatusUntracked:
		return 3
	case StatusIgnored:
		return 2
	case StatusClean:
		return 1
	default:
		return 0
	}
}

// EntryInfo is the wire form of one filesystem entry.
type EntryInfo struct {
	Path       string    `json:"path"` // absolute, cleaned
	Name       string    `json:"name"`
	Kind       EntryKind `json:"kind"`
	Size       int64     `json:"size,omitempty"`
	ModTime    int64     `json:"modTime,omitempty"` // unix seconds
	Mode       uint32    `json:"mode,omitempty"`
	Status     VcsStatus `json:"status,omitempty"`
	ChildCount int       `json:"childCount,omitempty"`
	Loaded     bool      `json:"loaded,omitempty"`
	ScanError  string    `json:"scanError,omitempty"`
}
