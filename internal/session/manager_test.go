package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/arborfs/arbor/internal/ops"
	"github.com/arborfs/arbor/internal/tree"
	"github.com/arborfs/arbor/pkg/types"
)

func newManager(t *testing.T, dir string) *Manager {
	t.Helper()
	store, err := tree.New(dir)
	if err != nil {
		t.Fatalf("tree.New() error: %v", err)
	}
	engine := ops.New(ops.Config{TrashEnabled: true, TrashDir: t.TempDir()}, store, zap.NewNop())
	return NewManager(Config{Buffer: 64}, store, nil, nil, engine, zap.NewNop())
}

func hello(t *testing.T, m *Manager, s *Session, root string) types.Response {
	t.Helper()
	resp := m.Handle(context.Background(), s, types.Request{ID: 1, Type: types.ReqHello, Root: root})
	if !resp.OK {
		t.Fatalf("hello failed: %+v", resp)
	}
	return resp
}

func drainDeltas(s *Session) []types.Delta {
	var out []types.Delta
	for {
		select {
		case resp := <-s.Out():
			if resp.Delta != nil {
				out = append(out, *resp.Delta)
			}
		default:
			return out
		}
	}
}

func mkfile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestHelloReturnsSnapshot(t *testing.T) {
	dir := t.TempDir()
	mkfile(t, filepath.Join(dir, "present.txt"))
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)

	resp := hello(t, m, s, dir)
	if resp.Type != types.RespSnapshot || resp.Root != dir {
		t.Fatalf("expected snapshot for %s, got %+v", dir, resp)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Name != "present.txt" {
		t.Fatalf("expected the directory contents, got %v", resp.Entries)
	}
	if resp.ID != 1 {
		t.Errorf("response should echo the request ID, got %d", resp.ID)
	}
}

func TestHelloDefaultsToServerRoot(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)

	resp := hello(t, m, s, "")
	if resp.Root != dir {
		t.Fatalf("expected server root %s, got %s", dir, resp.Root)
	}
}

func TestOpDeltaReachesObservingSessions(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	a := m.Connect()
	b := m.Connect()
	defer m.Disconnect(a)
	defer m.Disconnect(b)
	hello(t, m, a, dir)
	hello(t, m, b, dir)

	path := filepath.Join(dir, "shared.txt")
	resp := m.Handle(context.Background(), a, types.Request{ID: 2, Type: types.ReqOp,
		Op: &types.Op{Kind: types.OpCreateFile, Paths: []string{path}}})
	if !resp.OK {
		t.Fatalf("op failed: %+v", resp)
	}

	for _, s := range []*Session{a, b} {
		deltas := drainDeltas(s)
		found := false
		for _, d := range deltas {
			if d.Kind == types.DeltaAdded && d.Path == path {
				found = true
			}
		}
		if !found {
			t.Errorf("session %s should observe the creation, got %v", s.ID, deltas)
		}
	}
}

func TestDisjointSessionReceivesNothing(t *testing.T) {
	dir := t.TempDir()
	other := filepath.Join(dir, "other")
	if err := os.Mkdir(other, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newManager(t, dir)
	a := m.Connect()
	b := m.Connect()
	defer m.Disconnect(a)
	defer m.Disconnect(b)
	hello(t, m, a, dir)
	hello(t, m, b, other) // b watches only the subdirectory

	resp := m.Handle(context.Background(), a, types.Request{Type: types.ReqOp,
		Op: &types.Op{Kind: types.OpCreateFile, Paths: []string{filepath.Join(dir, "top.txt")}}})
	if !resp.OK {
		t.Fatalf("op failed: %+v", resp)
	}

	if deltas := drainDeltas(b); len(deltas) != 0 {
		t.Fatalf("session outside the subtree should receive nothing, got %v", deltas)
	}
}

func TestHiddenEntriesFilteredFromPush(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqOp,
		Op: &types.Op{Kind: types.OpCreateFile, Paths: []string{filepath.Join(dir, ".secret")}}})
	if !resp.OK {
		t.Fatalf("op failed: %+v", resp)
	}
	if deltas := drainDeltas(s); len(deltas) != 0 {
		t.Fatalf("hidden entry should be filtered, got %v", deltas)
	}
}

func TestExpandSubscribesToSubtree(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)
	drainDeltas(s)

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqExpand, Path: sub})
	if !resp.OK || resp.Type != types.RespEntries {
		t.Fatalf("expand failed: %+v", resp)
	}

	inner := filepath.Join(sub, "inner.txt")
	m.Handle(context.Background(), s, types.Request{Type: types.ReqOp,
		Op: &types.Op{Kind: types.OpCreateFile, Paths: []string{inner}}})

	deltas := drainDeltas(s)
	found := false
	for _, d := range deltas {
		if d.Kind == types.DeltaAdded && d.Path == inner {
			found = true
		}
	}
	if !found {
		t.Fatalf("expanded session should observe the subtree, got %v", deltas)
	}
}

func TestCollapseStopsSubtreeDeltas(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)
	m.Handle(context.Background(), s, types.Request{Type: types.ReqExpand, Path: sub})
	m.Handle(context.Background(), s, types.Request{Type: types.ReqCollapse, Path: sub})
	drainDeltas(s)

	m.Handle(context.Background(), s, types.Request{Type: types.ReqOp,
		Op: &types.Op{Kind: types.OpCreateFile, Paths: []string{filepath.Join(sub, "quiet.txt")}}})
	for _, d := range drainDeltas(s) {
		if filepath.Dir(d.Path) == sub {
			t.Fatalf("collapsed subtree should be silent, got %+v", d)
		}
	}
}

func TestRootOwnDeltaReachesSession(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)
	drainDeltas(s)

	// The root's parent is outside the view; the root entry itself is
	// still part of it.
	m.broadcast([]types.Delta{{Kind: types.DeltaStatus, Path: dir}})
	for _, d := range drainDeltas(s) {
		if d.Kind == types.DeltaStatus && d.Path == dir {
			return
		}
	}
	t.Fatal("delta for the view root itself should be delivered")
}

func TestChangeRootResetsView(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mkfile(t, filepath.Join(sub, "inside.txt"))
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)
	m.Handle(context.Background(), s, types.Request{Type: types.ReqExpand, Path: sub})

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqChangeRoot, Path: sub})
	if !resp.OK || resp.Root != sub {
		t.Fatalf("changeRoot failed: %+v", resp)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Name != "inside.txt" {
		t.Fatalf("expected new root contents, got %v", resp.Entries)
	}
	if len(s.ExpandedSet()) != 0 {
		t.Error("expansion set should reset on root change")
	}
}

func TestChangeRootParentViaDotDot(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, sub)

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqChangeRoot, Path: ".."})
	if !resp.OK || resp.Root != dir {
		t.Fatalf("expected root %q, got %+v", dir, resp)
	}
}

func TestRelativePathsResolveAgainstSessionRoot(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mkfile(t, filepath.Join(sub, "inside.txt"))
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqExpand, Path: "sub"})
	if !resp.OK || resp.Root != sub {
		t.Fatalf("relative expand should resolve under the session root, got %+v", resp)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Name != "inside.txt" {
		t.Fatalf("expected sub contents, got %v", resp.Entries)
	}

	op := types.Op{Kind: types.OpCreateFile, Paths: []string{"sub/made.txt"}}
	opResp := m.Handle(context.Background(), s, types.Request{Type: types.ReqOp, Op: &op})
	if !opResp.OK {
		t.Fatalf("relative op failed: %+v", opResp)
	}
	if _, err := os.Lstat(filepath.Join(sub, "made.txt")); err != nil {
		t.Fatalf("expected file under session root: %v", err)
	}
}

func TestClipboardCopyPaste(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "doc.txt")
	mkfile(t, src)
	destDir := filepath.Join(dir, "dest")
	if err := os.Mkdir(destDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqCopy, Paths: []string{src}})
	if !resp.OK || resp.Mode != types.ClipboardCopy {
		t.Fatalf("copy failed: %+v", resp)
	}

	resp = m.Handle(context.Background(), s, types.Request{Type: types.ReqPaste, Dest: destDir})
	if !resp.OK {
		t.Fatalf("paste failed: %+v", resp)
	}
	if _, err := os.Stat(filepath.Join(destDir, "doc.txt")); err != nil {
		t.Fatalf("pasted file missing: %v", err)
	}
	// Copy mode leaves the source and keeps the clipboard.
	if _, err := os.Stat(src); err != nil {
		t.Error("copy-paste must not disturb the source")
	}
	paths, mode := m.clipboard.Get()
	if len(paths) != 1 || mode != types.ClipboardCopy {
		t.Errorf("clipboard should persist after copy-paste, got %v %s", paths, mode)
	}
}

func TestClipboardCutPasteConsumes(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "moving.txt")
	mkfile(t, src)
	destDir := filepath.Join(dir, "dest")
	if err := os.Mkdir(destDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)

	if resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqCut, Paths: []string{src}}); !resp.OK {
		t.Fatalf("cut failed: %+v", resp)
	}
	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqPaste, Dest: destDir})
	if !resp.OK {
		t.Fatalf("paste failed: %+v", resp)
	}

	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("cut-paste should move the source away")
	}
	paths, _ := m.clipboard.Get()
	if len(paths) != 0 {
		t.Errorf("consumed cut should clear the clipboard, got %v", paths)
	}
}

func TestClipboardSharedAcrossSessions(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "common.txt")
	mkfile(t, src)
	m := newManager(t, dir)
	a := m.Connect()
	b := m.Connect()
	defer m.Disconnect(a)
	defer m.Disconnect(b)
	hello(t, m, a, dir)
	hello(t, m, b, dir)

	m.Handle(context.Background(), a, types.Request{Type: types.ReqCopy, Paths: []string{src}})
	resp := m.Handle(context.Background(), b, types.Request{Type: types.ReqClipboard})
	if len(resp.Paths) != 1 || resp.Paths[0] != src {
		t.Fatalf("clipboard should be process-wide, got %v", resp.Paths)
	}
}

func TestSelectionFeedsClipboard(t *testing.T) {
	dir := t.TempDir()
	one := filepath.Join(dir, "one.txt")
	two := filepath.Join(dir, "two.txt")
	mkfile(t, one)
	mkfile(t, two)
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)

	m.Handle(context.Background(), s, types.Request{Type: types.ReqSelect, Paths: []string{one, two}})
	m.Handle(context.Background(), s, types.Request{Type: types.ReqDeselect, Paths: []string{two}})
	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqCopy})
	if !resp.OK || len(resp.Paths) != 1 || resp.Paths[0] != one {
		t.Fatalf("clipboard should take the selection, got %+v", resp)
	}
}

func TestEmptyClipboardActionsRejected(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqCopy})
	if resp.OK || resp.Code != types.CodeBadRequest {
		t.Fatalf("copy with nothing selected should fail, got %+v", resp)
	}
	resp = m.Handle(context.Background(), s, types.Request{Type: types.ReqPaste, Dest: dir})
	if resp.OK || resp.Code != types.CodeBadRequest {
		t.Fatalf("paste with empty clipboard should fail, got %+v", resp)
	}
}

func TestSlowSessionFlaggedForResync(t *testing.T) {
	dir := t.TempDir()
	store, err := tree.New(dir)
	if err != nil {
		t.Fatalf("tree.New() error: %v", err)
	}
	engine := ops.New(ops.Config{}, store, zap.NewNop())
	m := NewManager(Config{Buffer: 1}, store, nil, nil, engine, zap.NewNop())
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)
	drainDeltas(s)

	// Fill the buffer beyond capacity without draining.
	var paths []string
	for _, name := range []string{"a", "b", "c", "d"} {
		paths = append(paths, filepath.Join(dir, name))
	}
	m.Handle(context.Background(), s, types.Request{Type: types.ReqOp,
		Op: &types.Op{Kind: types.OpCreateFile, Paths: paths}})

	s.mu.Lock()
	flagged := s.needResync
	s.mu.Unlock()
	if !flagged {
		t.Fatal("overflowing session should be flagged for resync")
	}
	if deltas := drainDeltas(s); len(deltas) >= len(paths) {
		t.Error("overflow should drop deltas, not deliver all of them")
	}

	// Refresh heals the view and clears the flag.
	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqRefresh})
	if !resp.OK || len(resp.Entries) != len(paths) {
		t.Fatalf("refresh should return the full view, got %+v", resp)
	}
	s.mu.Lock()
	stillFlagged := s.needResync
	s.mu.Unlock()
	if stillFlagged {
		t.Error("refresh should clear the resync flag")
	}
}

func TestRefreshPicksUpExternalChanges(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)

	// Change the directory behind the manager's back.
	mkfile(t, filepath.Join(dir, "surprise.txt"))

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqRefresh})
	if !resp.OK {
		t.Fatalf("refresh failed: %+v", resp)
	}
	if len(resp.Entries) != 1 || resp.Entries[0].Name != "surprise.txt" {
		t.Fatalf("refresh should surface external changes, got %v", resp.Entries)
	}
}

func TestSearchRequest(t *testing.T) {
	dir := t.TempDir()
	mkfile(t, filepath.Join(dir, "report.pdf"))
	mkfile(t, filepath.Join(dir, "notes.txt"))
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)
	hello(t, m, s, dir)

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqSearch, Query: "rep"})
	if !resp.OK || resp.Type != types.RespMatches {
		t.Fatalf("search failed: %+v", resp)
	}
	if len(resp.Paths) != 1 || filepath.Base(resp.Paths[0]) != "report.pdf" {
		t.Fatalf("expected report.pdf, got %v", resp.Paths)
	}
}

func TestHelloOnMissingRoot(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, dir)
	s := m.Connect()
	defer m.Disconnect(s)

	resp := m.Handle(context.Background(), s, types.Request{Type: types.ReqHello,
		Root: filepath.Join(dir, "absent")})
	if resp.OK || resp.Code != types.CodeNotFound {
		t.Fatalf("expected notFound for a missing root, got %+v", resp)
	}
}

func TestDisconnectCollapsesUnobserved(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := newManager(t, dir)
	a := m.Connect()
	b := m.Connect()
	hello(t, m, a, dir)
	hello(t, m, b, dir)
	m.Handle(context.Background(), a, types.Request{Type: types.ReqExpand, Path: sub})
	m.Handle(context.Background(), b, types.Request{Type: types.ReqExpand, Path: sub})

	m.Disconnect(a)
	e, _ := m.store.Lookup(sub)
	if !e.Loaded {
		t.Fatal("directory still observed by another session must stay loaded")
	}

	m.Disconnect(b)
	e, _ = m.store.Lookup(sub)
	if e.Loaded {
		t.Fatal("directory observed by nobody should be collapsed")
	}
}
