// Package vcs computes the version-control status overlay. Repository
// boundaries are discovered lazily, status is fetched per repository
// with one bulk git query, and recomputation is debounced the same way
// watcher events are.
package vcs

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arborfs/arbor/internal/domain"
	"github.com/arborfs/arbor/internal/metrics"
	"github.com/arborfs/arbor/pkg/types"
)

// Config controls the overlay.
type Config struct {
	GitBin   string
	Timeout  time.Duration
	Debounce time.Duration
}

// Overlay caches per-repository status and answers per-path queries.
type Overlay struct {
	cfg Config
	log *zap.Logger

	mu       sync.Mutex
	repoOf   map[string]string     // directory -> repository root, "" = outside any repo
	statuses map[string]repoStatus // repository root -> parsed bulk status
	pending  map[string]*time.Timer

	dirty   map[string]bool // repository roots recomputed since the last drain
	updates chan struct{}   // wake-up for the consumer, capacity 1
	closed  bool
}

type repoStatus struct {
	entries  map[string]types.VcsStatus // repo-relative path -> status
	prefixes map[string]types.VcsStatus // repo-relative dir -> status applying to descendants
	ok       bool                       // false: query failed, everything reports unknown
}

// New creates an overlay.
func New(cfg Config, log *zap.Logger) *Overlay {
	if cfg.GitBin == "" {
		cfg.GitBin = "git"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 50 * time.Millisecond
	}
	return &Overlay{
		cfg:      cfg,
		log:      log,
		repoOf:   make(map[string]string),
		statuses: make(map[string]repoStatus),
		pending:  make(map[string]*time.Timer),
		dirty:    make(map[string]bool),
		updates:  make(chan struct{}, 1),
	}
}

// Updates signals that at least one repository's status has been
// recomputed; drain the affected roots with TakeDirty. Recomputations
// accumulate in a set, so a busy consumer coalesces rather than misses.
func (o *Overlay) Updates() <-chan struct{} { return o.updates }

// TakeDirty returns and clears the set of repository roots recomputed
// since the last call.
func (o *Overlay) TakeDirty() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.dirty))
	for r := range o.dirty {
		out = append(out, r)
	}
	o.dirty = make(map[string]bool)
	return out
}

func (o *Overlay) markDirty(repo string) {
	o.mu.Lock()
	o.dirty[repo] = true
	o.mu.Unlock()
	select {
	case o.updates <- struct{}{}:
	default: // a wake-up is already pending; its drain picks this repo up
	}
}

// Close stops pending recomputations.
func (o *Overlay) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for _, t := range o.pending {
		t.Stop()
	}
}

// RepoRoot returns the nearest ancestor of dir containing repository
// metadata, or "" when dir is outside any repository. Results are cached.
func (o *Overlay) RepoRoot(dir string) string {
	dir = filepath.Clean(dir)

	o.mu.Lock()
	if root, ok := o.repoOf[dir]; ok {
		o.mu.Unlock()
		return root
	}
	o.mu.Unlock()

	root := ""
	for d := dir; ; {
		// .git may be a directory or, for worktrees and submodules, a file.
		if _, err := os.Lstat(filepath.Join(d, ".git")); err == nil {
			root = d
			break
		}
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}

	o.mu.Lock()
	o.repoOf[dir] = root
	o.mu.Unlock()
	return root
}

// Schedule queues a debounced status recomputation for the repository
// containing dir. A no-op outside any repository.
func (o *Overlay) Schedule(dir string) {
	repo := o.RepoRoot(dir)
	if repo == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	if t, ok := o.pending[repo]; ok {
		t.Reset(o.cfg.Debounce)
		return
	}
	o.pending[repo] = time.AfterFunc(o.cfg.Debounce, func() {
		o.mu.Lock()
		delete(o.pending, repo)
		closed := o.closed
		o.mu.Unlock()
		if closed {
			return
		}
		o.Refresh(context.Background(), repo)
		o.markDirty(repo)
	})
}

// Refresh runs the bulk status query for a repository. A query failure
// marks the repository unknown rather than propagating the error to the
// surrounding operation.
func (o *Overlay) Refresh(ctx context.Context, repo string) error {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, o.cfg.GitBin, "-C", repo, "status", "--porcelain", "--ignored", "-z")
	out, err := cmd.Output()
	metrics.VcsRefreshDuration.Observe(time.Since(start).Seconds())

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.log.Warn("vcs: status query failed", zap.String("repo", repo), zap.Error(err))
		o.statuses[repo] = repoStatus{ok: false}
		return fmt.Errorf("%w: %v", domain.ErrVcsQueryFailed, err)
	}
	o.statuses[repo] = parsePorcelain(out)
	return nil
}

// StatusFor returns a lookup function distributing repo's cached bulk
// status onto absolute paths. Paths outside the repository report
// not-applicable; a failed or missing query reports unknown.
func (o *Overlay) StatusFor(repo string) func(path string) types.VcsStatus {
	o.mu.Lock()
	st, ok := o.statuses[repo]
	o.mu.Unlock()

	return func(path string) types.VcsStatus {
		rel, err := filepath.Rel(repo, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			return types.StatusNotApplicable
		}
		if !ok || !st.ok {
			return types.StatusUnknown
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return types.StatusClean // root aggregate is computed by the tree
		}
		if s, hit := st.entries[rel]; hit {
			return s
		}
		// Untracked and ignored directories are reported as one entry
		// covering the directory and all descendants.
		for d := rel; d != ""; d = pathDir(d) {
			if s, hit := st.prefixes[d]; hit {
				return s
			}
		}
		return types.StatusClean
	}
}

func pathDir(rel string) string {
	i := strings.LastIndexByte(rel, '/')
	if i < 0 {
		return ""
	}
	return rel[:i]
}

// parsePorcelain parses `git status --porcelain --ignored -z` output.
func parsePorcelain(out []byte) repoStatus {
	st := repoStatus{
		entries:  make(map[string]types.VcsStatus),
		prefixes: make(map[string]types.VcsStatus),
		ok:       true,
	}
	fields := bytes.Split(out, []byte{0})
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) < 4 {
			continue
		}
		x, y := f[0], f[1]
		path := string(f[3:])

		var s types.VcsStatus
		switch {
		case x == '?' && y == '?':
			s = types.StatusUntracked
		case x == '!' && y == '!':
			s = types.StatusIgnored
		case y != ' ':
			s = types.StatusModified
		default:
			s = types.StatusStaged
		}
		if x == 'R' || x == 'C' {
			// Rename/copy entries carry the source path in the next field.
			i++
		}
		if strings.HasSuffix(path, "/") {
			st.prefixes[strings.TrimSuffix(path, "/")] = s
			continue
		}
		st.entries[path] = s
	}
	return st
}
