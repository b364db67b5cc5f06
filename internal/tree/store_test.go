package tree

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arborfs/arbor/pkg/types"
)

func mkfile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func mkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func names(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name)
	}
	return out
}

func TestExpandListsDirectory(t *testing.T) {
	dir := t.TempDir()
	mkfile(t, filepath.Join(dir, "b.txt"))
	mkfile(t, filepath.Join(dir, "a.txt"))
	mkdir(t, filepath.Join(dir, "sub"))

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	entries, err := s.Expand(dir)
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	got := names(entries)
	want := []string{"sub", "a.txt", "b.txt"}
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestExpandOrderingDirsFirstCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	mkfile(t, filepath.Join(dir, "Alpha"))
	mkfile(t, filepath.Join(dir, "beta"))
	mkdir(t, filepath.Join(dir, "Zoo"))
	mkdir(t, filepath.Join(dir, "attic"))

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	entries, err := s.Expand(dir)
	if err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	got := names(entries)
	want := []string{"attic", "Zoo", "Alpha", "beta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, got)
		}
	}
}

func TestExpandIsLazy(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	mkdir(t, sub)
	mkfile(t, filepath.Join(sub, "inner.txt"))

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.Expand(dir); err != nil {
		t.Fatalf("Expand(root) error: %v", err)
	}

	// Only root and its immediate children are modeled so far.
	if _, ok := s.Lookup(filepath.Join(sub, "inner.txt")); ok {
		t.Error("child of unexpanded directory should not be modeled")
	}
	e, ok := s.Lookup(sub)
	if !ok {
		t.Fatal("immediate child directory should be modeled")
	}
	if e.Loaded {
		t.Error("unexpanded directory should not be marked loaded")
	}

	if _, err := s.Expand(sub); err != nil {
		t.Fatalf("Expand(sub) error: %v", err)
	}
	if _, ok := s.Lookup(filepath.Join(sub, "inner.txt")); !ok {
		t.Error("child should be modeled after expansion")
	}
}

func TestExpandNotADirectory(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plain.txt")
	mkfile(t, file)

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.Expand(dir); err != nil {
		t.Fatalf("Expand(root) error: %v", err)
	}
	if _, err := s.Expand(file); err == nil {
		t.Fatal("expanding a file should fail")
	}
}

func TestExpandMissingDirectory(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.Expand(filepath.Join(dir, "nope")); err == nil {
		t.Fatal("expanding a missing directory should fail")
	}
}

func TestCollapseAndReExpand(t *testing.T) {
	dir := t.TempDir()
	mkfile(t, filepath.Join(dir, "one"))

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.Expand(dir); err != nil {
		t.Fatalf("Expand() error: %v", err)
	}

	s.Collapse(dir)
	e, _ := s.Lookup(dir)
	if e.Loaded {
		t.Error("collapsed directory should not be loaded")
	}

	// Change the directory while collapsed; re-expansion rescans.
	mkfile(t, filepath.Join(dir, "two"))
	entries, err := s.Expand(dir)
	if err != nil {
		t.Fatalf("re-Expand() error: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after re-expansion, got %v", names(entries))
	}
}

func TestChangeRootKeepsArena(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	mkdir(t, sub)
	mkfile(t, filepath.Join(sub, "kept.txt"))

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.Expand(sub); err != nil {
		t.Fatalf("Expand(sub) error: %v", err)
	}

	if _, err := s.ChangeRoot(sub); err != nil {
		t.Fatalf("ChangeRoot(sub) error: %v", err)
	}
	if s.Root() != sub {
		t.Fatalf("expected root %s, got %s", sub, s.Root())
	}
	if _, ok := s.Lookup(filepath.Join(sub, "kept.txt")); !ok {
		t.Error("cached entries should survive a root change")
	}

	// Moving the root back up keeps working too.
	if _, err := s.ChangeRoot(dir); err != nil {
		t.Fatalf("ChangeRoot(parent) error: %v", err)
	}
	if s.Root() != dir {
		t.Fatalf("expected root %s, got %s", dir, s.Root())
	}
}

func TestLoadedDirs(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	mkdir(t, sub)

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.Expand(dir); err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	if _, err := s.Expand(sub); err != nil {
		t.Fatalf("Expand(sub) error: %v", err)
	}

	dirs := s.LoadedDirs()
	if len(dirs) != 2 || dirs[0] != dir || dirs[1] != sub {
		t.Fatalf("expected loaded dirs [%s %s], got %v", dir, sub, dirs)
	}

	s.Collapse(sub)
	dirs = s.LoadedDirs()
	if len(dirs) != 1 || dirs[0] != dir {
		t.Fatalf("expected loaded dirs [%s], got %v", dir, dirs)
	}
}

func TestSymlinksAreLeaves(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	mkdir(t, target)
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	s, err := New(dir)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	if _, err := s.Expand(dir); err != nil {
		t.Fatalf("Expand() error: %v", err)
	}
	e, ok := s.Lookup(link)
	if !ok {
		t.Fatal("symlink should be modeled")
	}
	if e.Kind != types.KindSymlink {
		t.Fatalf("expected symlink kind, got %s", e.Kind)
	}
	if _, err := s.Expand(link); err == nil {
		t.Error("expanding a symlink should fail, links are never traversed")
	}
}
