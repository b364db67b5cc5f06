package ops

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arborfs/arbor/internal/domain"
	"github.com/arborfs/arbor/internal/tree"
	"github.com/arborfs/arbor/pkg/types"
)

// trash moves a path into the freedesktop trash directory, writing the
// matching .trashinfo record. It never falls back to permanent delete.
func (e *Engine) trash(path string) (types.PathResult, []types.Delta) {
	unlock := e.locks.lock(path)
	defer unlock()

	if _, err := os.Lstat(path); err != nil {
		return failure(path, mapErr(err)), nil
	}
	if !e.cfg.TrashEnabled {
		return failure(path, domain.ErrTrashUnavailable), nil
	}

	dir, err := e.trashDir()
	if err != nil {
		return failure(path, err), nil
	}
	filesDir := filepath.Join(dir, "files")
	infoDir := filepath.Join(dir, "info")
	if err := os.MkdirAll(filesDir, 0o700); err != nil {
		return failure(path, mapErr(err)), nil
	}
	if err := os.MkdirAll(infoDir, 0o700); err != nil {
		return failure(path, mapErr(err)), nil
	}

	name := uniqueTrashName(filesDir, filepath.Base(path))
	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		path, time.Now().Format("2006-01-02T15:04:05"))
	if err := os.WriteFile(filepath.Join(infoDir, name+".trashinfo"), []byte(info), 0o600); err != nil {
		return failure(path, mapErr(err)), nil
	}

	if err := os.Rename(path, filepath.Join(filesDir, name)); err != nil {
		os.Remove(filepath.Join(infoDir, name + ".trashinfo"))
		if isCrossDevice(err) {
			// Trash lives on another filesystem; surface it instead of
			// silently copying or permanently deleting.
			return failure(path, domain.ErrTrashUnavailable), nil
		}
		return failure(path, mapErr(err)), nil
	}
	return success(path, ""), e.store.ApplyEvent(tree.Event{Kind: tree.EvRemoved, Path: path})
}

func (e *Engine) trashDir() (string, error) {
	if e.cfg.TrashDir != "" {
		return e.cfg.TrashDir, nil
	}
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "Trash"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", domain.ErrTrashUnavailable
	}
	return filepath.Join(home, ".local", "share", "Trash"), nil
}

// uniqueTrashName avoids clobbering an earlier trashed entry of the
// same name.
func uniqueTrashName(filesDir, base string) string {
	name := base
	for i := 2; ; i++ {
		if _, err := os.Lstat(filepath.Join(filesDir, name)); os.IsNotExist(err) {
			return name
		}
		ext := filepath.Ext(base)
		name = fmt.Sprintf("%s.%d%s", strings.TrimSuffix(base, ext), i, ext)
	}
}
