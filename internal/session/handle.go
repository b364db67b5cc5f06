package session

import (
	"context"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/arborfs/arbor/internal/metrics"
	"github.com/arborfs/arbor/internal/ops"
	"github.com/arborfs/arbor/internal/tree"
	"github.com/arborfs/arbor/pkg/types"
)

// Handle executes one session request and returns the direct response.
// Deltas caused by the request are fanned out to every observing
// session (including the requester) before the response is built, so an
// acknowledgment never precedes the tree change it caused.
func (m *Manager) Handle(ctx context.Context, s *Session, req types.Request) types.Response {
	switch req.Type {
	case types.ReqHello:
		return m.handleHello(s, req)
	case types.ReqExpand:
		return m.handleExpand(s, req)
	case types.ReqCollapse:
		return m.handleCollapse(s, req)
	case types.ReqChangeRoot:
		return m.handleChangeRoot(s, req)
	case types.ReqRefresh:
		return m.handleRefresh(s, req)
	case types.ReqOp:
		return m.handleOp(ctx, s, req)
	case types.ReqSelect, types.ReqDeselect:
		return m.handleSelect(s, req)
	case types.ReqCopy, types.ReqCut:
		return m.handleClipboardSet(s, req)
	case types.ReqPaste:
		return m.handlePaste(ctx, s, req)
	case types.ReqClipboard:
		paths, mode := m.clipboard.Get()
		return types.Response{ID: req.ID, Type: types.RespAck, OK: true, Paths: paths, Mode: mode}
	case types.ReqSearch:
		paths := m.store.Search(s.Root(), s.ExpandedSet(), s.showHiddenNow(), req.Query, req.Exact)
		return types.Response{ID: req.ID, Type: types.RespMatches, OK: true, Paths: paths}
	default:
		return errResp(req.ID, types.CodeBadRequest, "unknown request type "+req.Type)
	}
}

func (s *Session) showHiddenNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.showHidden
}

// resolve normalizes a client-supplied path. Relative paths resolve
// against the session's current root, never the server process cwd.
func (s *Session) resolve(p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.Root(), p)
	}
	return filepath.Clean(p)
}

func (s *Session) resolveAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = s.resolve(p)
	}
	return out
}

func (m *Manager) handleHello(s *Session, req types.Request) types.Response {
	root := req.Root
	if root == "" {
		root = m.store.Root()
	}
	if !filepath.IsAbs(root) {
		// No session root yet; relative hello roots hang off the server root.
		root = filepath.Join(m.store.Root(), root)
	}
	root = filepath.Clean(root)
	if _, err := m.store.Expand(root); err != nil {
		return errFrom(req.ID, err)
	}
	metrics.TreeExpands.Inc()
	m.watchDir(root)
	m.scheduleVcs(root)

	s.mu.Lock()
	s.root = root
	if req.ShowHidden != nil {
		s.showHidden = *req.ShowHidden
	}
	s.mu.Unlock()

	resp := m.snapshot(req.ID, s)
	if m.watcher != nil && m.watcher.Degraded() {
		s.push(types.Response{Type: types.PushDelta, OK: true,
			Delta: &types.Delta{Kind: types.DeltaWatchDegraded}})
	}
	return resp
}

func (m *Manager) handleExpand(s *Session, req types.Request) types.Response {
	path := s.resolve(req.Path)
	entries, err := m.store.Expand(path)
	if err != nil {
		return errFrom(req.ID, err)
	}
	metrics.TreeExpands.Inc()
	m.watchDir(path)
	m.scheduleVcs(path)

	s.mu.Lock()
	s.expanded[path] = true
	hidden := s.showHidden
	s.mu.Unlock()

	return types.Response{ID: req.ID, Type: types.RespEntries, OK: true,
		Root: path, Entries: toInfos(entries, hidden)}
}

func (m *Manager) handleCollapse(s *Session, req types.Request) types.Response {
	path := s.resolve(req.Path)
	s.mu.Lock()
	delete(s.expanded, path)
	s.mu.Unlock()
	// Evict from the shared store only once nobody is watching it.
	m.collapseUnobserved(map[string]bool{path: true})
	return types.Response{ID: req.ID, Type: types.RespAck, OK: true}
}

func (m *Manager) handleChangeRoot(s *Session, req types.Request) types.Response {
	root := s.resolve(req.Path)
	if _, err := m.store.Expand(root); err != nil {
		return errFrom(req.ID, err)
	}
	m.watchDir(root)
	m.scheduleVcs(root)

	s.mu.Lock()
	old := s.expanded
	s.root = root
	s.expanded = make(map[string]bool)
	s.selection = make(map[string]bool)
	s.mu.Unlock()
	m.collapseUnobserved(old)

	return m.snapshot(req.ID, s)
}

func (m *Manager) handleRefresh(s *Session, req types.Request) types.Response {
	dirs := s.ExpandedSet()
	dirs[s.Root()] = true
	for dir := range dirs {
		m.broadcast(m.store.ApplyEvent(tree.Event{Kind: tree.EvRescan, Path: dir}))
		m.scheduleVcs(dir)
	}
	s.clearResync()
	return m.snapshot(req.ID, s)
}

func (m *Manager) handleOp(ctx context.Context, s *Session, req types.Request) types.Response {
	if req.Op == nil {
		return errResp(req.ID, types.CodeBadRequest, "op request without op body")
	}
	op := *req.Op
	op.Paths = s.resolveAll(op.Paths)
	if op.Dest != "" {
		op.Dest = s.resolve(op.Dest)
	}
	return m.runOp(ctx, req.ID, op)
}

// runOp executes an operation and pushes its deltas before returning
// the per-path outcomes.
func (m *Manager) runOp(ctx context.Context, id uint64, op types.Op) types.Response {
	results, deltas := m.engine.Execute(ctx, op)
	m.broadcast(deltas)
	for _, d := range deltas {
		m.scheduleVcs(filepath.Dir(d.Path))
	}
	ok := true
	for _, r := range results {
		if !r.OK {
			ok = false
			break
		}
	}
	return types.Response{ID: id, Type: types.RespOpResult, OK: ok, Results: results}
}

func (m *Manager) handleSelect(s *Session, req types.Request) types.Response {
	paths := s.resolveAll(req.Paths)
	s.mu.Lock()
	for _, p := range paths {
		if req.Type == types.ReqSelect {
			s.selection[p] = true
		} else {
			delete(s.selection, p)
		}
	}
	s.mu.Unlock()
	return types.Response{ID: req.ID, Type: types.RespAck, OK: true, Paths: s.Selection()}
}

func (m *Manager) handleClipboardSet(s *Session, req types.Request) types.Response {
	paths := s.resolveAll(req.Paths)
	if len(paths) == 0 {
		paths = s.Selection()
	}
	if len(paths) == 0 {
		return errResp(req.ID, types.CodeBadRequest, "nothing selected to "+req.Type)
	}
	mode := types.ClipboardCopy
	if req.Type == types.ReqCut {
		mode = types.ClipboardCut
	}
	m.clipboard.Set(paths, mode)
	return types.Response{ID: req.ID, Type: types.RespAck, OK: true, Paths: paths, Mode: mode}
}

func (m *Manager) handlePaste(ctx context.Context, s *Session, req types.Request) types.Response {
	paths, mode := m.clipboard.Get()
	if len(paths) == 0 {
		return errResp(req.ID, types.CodeBadRequest, "clipboard is empty")
	}
	kind := types.OpCopy
	if mode == types.ClipboardCut {
		kind = types.OpMove
	}
	dest := req.Dest
	if dest != "" {
		dest = s.resolve(dest)
	}
	resp := m.runOp(ctx, req.ID, types.Op{Kind: kind, Paths: paths, Dest: dest})
	if mode == types.ClipboardCut {
		// A consumed cut no longer points at its sources.
		var moved []string
		for _, r := range resp.Results {
			if r.OK {
				moved = append(moved, r.Path)
			}
		}
		m.clipboard.Remove(moved)
	}
	return resp
}

// snapshot builds the entries visible under the session's current view.
func (m *Manager) snapshot(id uint64, s *Session) types.Response {
	s.mu.Lock()
	root := s.root
	hidden := s.showHidden
	expanded := make(map[string]bool, len(s.expanded))
	for p := range s.expanded {
		expanded[p] = true
	}
	s.mu.Unlock()

	entries := m.store.Visible(root, expanded, hidden)
	infos := make([]types.EntryInfo, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, e.Info())
	}
	return types.Response{ID: id, Type: types.RespSnapshot, OK: true, Root: root, Entries: infos}
}

func (m *Manager) watchDir(dir string) {
	if m.watcher == nil {
		return
	}
	if err := m.watcher.Watch(dir); err != nil {
		m.log.Warn("session: cannot watch directory", zap.String("dir", dir), zap.Error(err))
	}
}

func toInfos(entries []tree.Entry, showHidden bool) []types.EntryInfo {
	infos := make([]types.EntryInfo, 0, len(entries))
	for _, e := range entries {
		if !showHidden && len(e.Name) > 0 && e.Name[0] == '.' {
			continue
		}
		infos = append(infos, e.Info())
	}
	return infos
}

func errResp(id uint64, code, msg string) types.Response {
	return types.Response{ID: id, Type: types.RespError, Code: code, Error: msg}
}

func errFrom(id uint64, err error) types.Response {
	return types.Response{ID: id, Type: types.RespError, Code: ops.ErrCode(err), Error: err.Error()}
}
