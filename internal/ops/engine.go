// Package ops executes mutating file operations against the real
// filesystem and folds each outcome into the tree store before the
// acknowledgment is returned, so sessions never observe the gap between
// the syscall and the watcher echo.
package ops

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/arborfs/arbor/internal/domain"
	"github.com/arborfs/arbor/internal/metrics"
	"github.com/arborfs/arbor/internal/tree"
	"github.com/arborfs/arbor/pkg/types"
)

// Config controls the engine.
type Config struct {
	TrashEnabled bool
	TrashDir     string // override, defaults to the XDG trash directory
}

// Engine executes file operations. Operations on the same path are
// serialized; the second of two conflicting operations observes the
// filesystem state left by the first and fails naturally.
type Engine struct {
	cfg   Config
	store *tree.Store
	log   *zap.Logger
	locks *pathLocks
}

// New creates an engine bound to the tree store.
func New(cfg Config, store *tree.Store, log *zap.Logger) *Engine {
	return &Engine{cfg: cfg, store: store, log: log, locks: newPathLocks()}
}

// Execute runs one operation request. Multi-path operations process each
// path independently: one failure never aborts the remainder, and the
// per-path outcomes enumerate exactly what happened. The returned deltas
// are the tree changes the operation caused.
func (e *Engine) Execute(ctx context.Context, op types.Op) ([]types.PathResult, []types.Delta) {
	var results []types.PathResult
	var deltas []types.Delta

	for _, path := range op.Paths {
		if err := ctx.Err(); err != nil {
			results = append(results, failure(path, domain.ErrCancelled))
			continue
		}
		res, d := e.executeOne(ctx, op, filepath.Clean(path))
		results = append(results, res)
		deltas = append(deltas, d...)

		outcome := "ok"
		if !res.OK {
			outcome = res.Code
		}
		metrics.Operations.WithLabelValues(string(op.Kind), outcome).Inc()
	}
	return results, deltas
}

func (e *Engine) executeOne(ctx context.Context, op types.Op, path string) (types.PathResult, []types.Delta) {
	switch op.Kind {
	case types.OpCreateFile:
		return e.create(path, false)
	case types.OpCreateDir:
		return e.create(path, true)
	case types.OpRename, types.OpMove:
		dest := filepath.Clean(op.Dest)
		if op.Kind == types.OpMove {
			dest = filepath.Join(dest, filepath.Base(path))
		}
		return e.rename(ctx, path, dest, op.Overwrite)
	case types.OpCopy:
		return e.copy(ctx, path, filepath.Join(filepath.Clean(op.Dest), filepath.Base(path)), op.Overwrite)
	case types.OpTrash:
		return e.trash(path)
	case types.OpDelete:
		if !op.Permanent {
			// Never fall over to permanent delete silently.
			return types.PathResult{Path: path, Code: types.CodeBadRequest,
				Error: "permanent delete requires the permanent flag; use trash otherwise"}, nil
		}
		return e.deletePermanent(path)
	default:
		return types.PathResult{Path: path, Code: types.CodeBadRequest,
			Error: fmt.Sprintf("unknown operation %q", op.Kind)}, nil
	}
}

func (e *Engine) create(path string, dir bool) (types.PathResult, []types.Delta) {
	unlock := e.locks.lock(path)
	defer unlock()

	var err error
	if dir {
		err = os.Mkdir(path, 0o755)
	} else {
		var f *os.File
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
		}
	}
	if err != nil {
		return failure(path, mapErr(err)), nil
	}
	return success(path, ""), e.store.ApplyEvent(tree.Event{Kind: tree.EvCreated, Path: path})
}

func (e *Engine) rename(ctx context.Context, src, dest string, overwrite bool) (types.PathResult, []types.Delta) {
	unlock := e.locks.lock(src, dest)
	defer unlock()

	if _, err := os.Lstat(src); err != nil {
		return failure(src, mapErr(err)), nil
	}
	if !overwrite {
		if _, err := os.Lstat(dest); err == nil {
			return failure(src, domain.ErrAlreadyExists), nil
		}
	}

	err := os.Rename(src, dest)
	if isCrossDevice(err) {
		// Degrade to copy-then-delete, reported as one logical operation.
		if cerr := copyAll(ctx, src, dest); cerr != nil {
			os.RemoveAll(dest)
			return failure(src, cerr), nil
		}
		if derr := os.RemoveAll(src); derr != nil {
			// Copy succeeded but the source survives: distinct from total failure.
			res := types.PathResult{Path: src, Dest: dest, Code: types.CodePartial,
				Error: fmt.Sprintf("moved to %s but source not removed: %v", dest, derr)}
			return res, e.store.ApplyEvent(tree.Event{Kind: tree.EvCreated, Path: dest})
		}
		err = nil
	}
	if err != nil {
		return failure(src, mapErr(err)), nil
	}
	return success(src, dest), e.store.ApplyEvent(tree.Event{Kind: tree.EvRenamed, Path: src, To: dest})
}

func (e *Engine) copy(ctx context.Context, src, dest string, overwrite bool) (types.PathResult, []types.Delta) {
	unlock := e.locks.lock(src, dest)
	defer unlock()

	if _, err := os.Lstat(src); err != nil {
		return failure(src, mapErr(err)), nil
	}
	if !overwrite {
		if _, err := os.Lstat(dest); err == nil {
			return failure(src, domain.ErrAlreadyExists), nil
		}
	}
	if err := copyAll(ctx, src, dest); err != nil {
		os.RemoveAll(dest)
		return failure(src, err), nil
	}
	return success(src, dest), e.store.ApplyEvent(tree.Event{Kind: tree.EvCreated, Path: dest})
}

func (e *Engine) deletePermanent(path string) (types.PathResult, []types.Delta) {
	unlock := e.locks.lock(path)
	defer unlock()

	if _, err := os.Lstat(path); err != nil {
		return failure(path, mapErr(err)), nil
	}
	if err := os.RemoveAll(path); err != nil {
		return failure(path, mapErr(err)), nil
	}
	return success(path, ""), e.store.ApplyEvent(tree.Event{Kind: tree.EvRemoved, Path: path})
}

// copyAll copies a file, symlink, or directory tree. The context is
// checked between entries so long copies stay cancellable.
func copyAll(ctx context.Context, src, dest string) error {
	if err := ctx.Err(); err != nil {
		return domain.ErrCancelled
	}
	fi, err := os.Lstat(src)
	if err != nil {
		return mapErr(err)
	}
	switch {
	case fi.Mode()&fs.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return mapErr(err)
		}
		return mapErr(os.Symlink(target, dest))
	case fi.IsDir():
		if err := os.MkdirAll(dest, fi.Mode().Perm()); err != nil {
			return mapErr(err)
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return mapErr(err)
		}
		for _, de := range entries {
			if err := copyAll(ctx, filepath.Join(src, de.Name()), filepath.Join(dest, de.Name())); err != nil {
				return err
			}
		}
		return nil
	default:
		return copyFile(src, dest, fi.Mode().Perm())
	}
}

func copyFile(src, dest string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return mapErr(err)
	}
	defer in.Close()
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return mapErr(err)
	}
	if _, err := out.ReadFrom(in); err != nil {
		out.Close()
		return mapErr(err)
	}
	return mapErr(out.Close())
}

func success(path, dest string) types.PathResult {
	return types.PathResult{Path: path, Dest: dest, OK: true}
}

func failure(path string, err error) types.PathResult {
	return types.PathResult{Path: path, Code: ErrCode(err), Error: err.Error()}
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.EXDEV)
}

func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return domain.ErrNotFound
	case errors.Is(err, fs.ErrExist):
		return domain.ErrAlreadyExists
	case errors.Is(err, fs.ErrPermission):
		return domain.ErrPermissionDenied
	default:
		return err
	}
}

// ErrCode maps taxonomy errors to wire failure codes.
func ErrCode(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return types.CodeNotFound
	case errors.Is(err, domain.ErrPermissionDenied):
		return types.CodePermissionDenied
	case errors.Is(err, domain.ErrAlreadyExists):
		return types.CodeAlreadyExists
	case errors.Is(err, domain.ErrCrossDevice):
		return types.CodeCrossDevice
	case errors.Is(err, domain.ErrWatchUnavailable):
		return types.CodeWatchUnavailable
	case errors.Is(err, domain.ErrTrashUnavailable):
		return types.CodeTrashUnavailable
	case errors.Is(err, domain.ErrVcsQueryFailed):
		return types.CodeVcsQueryFailed
	case errors.Is(err, domain.ErrCancelled), errors.Is(err, context.Canceled):
		return types.CodeCancelled
	case errors.Is(err, domain.ErrPartialFailure):
		return types.CodePartial
	default:
		return types.CodeInternal
	}
}
