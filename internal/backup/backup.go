// SPDX-License-Identifier: MPL-2.0

// Package backup preserves the filesystem state an install is about to
// destroy, so that uninstall can be a faithful inverse. Each installed
// package owns one archive directory holding per-path snapshots and a full
// snapshot of the package's descriptor directory.
package backup

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"dotctl/internal/fsutil"
	"dotctl/pkg/pkgfile"
)

// Archive is one package's backup directory. Path snapshots live under
// files/, keyed by the action's target path as written in the descriptor
// (variables unexpanded, so uninstall resolves them in its own context). The
// descriptor directory snapshot lives under package/.
type Archive struct {
	dir string
}

// New opens the archive rooted at dir. Nothing is created until the first
// snapshot.
func New(dir string) *Archive {
	return &Archive{dir: dir}
}

// Dir returns the archive's root directory.
func (a *Archive) Dir() string {
	return a.dir
}

// Has reports whether a snapshot exists for the key.
func (a *Archive) Has(key string) bool {
	_, err := os.Lstat(a.keyPath(key))
	return err == nil
}

// Snapshot copies realPath's current content into the archive under key,
// unless a snapshot for that key already exists. First writer wins: re-running
// the same destructive action must not overwrite the true original with an
// already-modified copy. A missing realPath is not an error; there is nothing
// to preserve.
func (a *Archive) Snapshot(key, realPath string) error {
	if a.Has(key) {
		return nil
	}
	info, err := os.Lstat(realPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	dst := a.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	log.Debug("archiving previous content", "path", realPath, "key", key)
	if info.IsDir() {
		return fsutil.CopyTree(realPath, dst)
	}
	return fsutil.CopyFile(realPath, dst)
}

// Restore copies the snapshot for key back to realPath. A key with no
// snapshot is a no-op, reported as a warning only.
func (a *Archive) Restore(key, realPath string) error {
	src := a.keyPath(key)
	info, err := os.Lstat(src)
	if os.IsNotExist(err) {
		log.Warn("no backup found, nothing to restore", "path", realPath)
		return nil
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(realPath), 0o755); err != nil {
		return err
	}
	log.Debug("restoring previous content", "path", realPath)
	if info.IsDir() {
		if err := os.RemoveAll(realPath); err != nil {
			return err
		}
		return fsutil.CopyTree(src, realPath)
	}
	return fsutil.CopyFile(src, realPath)
}

// SnapshotPackageDir copies the package's descriptor directory into the
// archive, so uninstall operates on the exact resources install used
// regardless of later changes to the live source tree. Directories owned by
// subpackages are left out.
func (a *Archive) SnapshotPackageDir(resourceDir string) error {
	dst := a.PackageDir()
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	return filepath.WalkDir(resourceDir, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(resourceDir, path)
		if err != nil {
			return err
		}
		if entry.IsDir() {
			if rel != "." {
				if _, err := os.Stat(filepath.Join(path, pkgfile.DescriptorName)); err == nil {
					return filepath.SkipDir
				}
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		return fsutil.CopyFile(path, filepath.Join(dst, rel))
	})
}

// PackageDir returns the directory holding the descriptor snapshot; during
// uninstall $PACKAGE_DIR points here.
func (a *Archive) PackageDir() string {
	return filepath.Join(a.dir, "package")
}

// HasPackageDir reports whether a descriptor snapshot was taken.
func (a *Archive) HasPackageDir() bool {
	info, err := os.Stat(a.PackageDir())
	return err == nil && info.IsDir()
}

// Delete removes the whole archive. Called only after the package's uninstall
// completed successfully.
func (a *Archive) Delete() error {
	return os.RemoveAll(a.dir)
}

func (a *Archive) keyPath(key string) string {
	key = strings.TrimLeft(key, string(os.PathSeparator))
	return filepath.Join(a.dir, "files", key)
}

// Inverse synthesizes the uninstall counterpart of one executed install
// action. targets are the action's destination paths as the interpreter
// computed them, variables still unexpanded. The second return is false for
// action types that reverse nothing (print, shell and friends) — an explicit
// case, not an error.
func Inverse(t pkgfile.ActionType, targets []string) (pkgfile.Action, bool) {
	switch t {
	case pkgfile.ActionCopy, pkgfile.ActionSymlink:
		inv := pkgfile.Action{Type: pkgfile.ActionRemove, IgnoreMissing: true}
		if len(targets) == 1 {
			inv.File = targets[0]
		} else {
			inv.Files = targets
		}
		return inv, true

	case pkgfile.ActionCopyTree:
		return pkgfile.Action{Type: pkgfile.ActionRemoveTree, Dir: targets[0]}, true

	case pkgfile.ActionMakeDirs:
		return pkgfile.Action{Type: pkgfile.ActionRemoveDirs, Dirs: targets}, true

	case pkgfile.ActionRemove, pkgfile.ActionReplace:
		inv := pkgfile.Action{Type: pkgfile.ActionRestore}
		if len(targets) == 1 {
			inv.File = targets[0]
		} else {
			inv.Files = targets
		}
		return inv, true

	case pkgfile.ActionRemoveDirs, pkgfile.ActionRemoveTree, pkgfile.ActionRestore,
		pkgfile.ActionPrint, pkgfile.ActionShell, pkgfile.ActionShellAll,
		pkgfile.ActionShellAny, pkgfile.ActionGitClone, pkgfile.ActionCopyResource:
		return pkgfile.Action{}, false
	}
	return pkgfile.Action{}, false
}

// Recorder collects the synthesized uninstall actions of one install run.
// Every recorded action is prepended, so the stored list is already in the
// reverse declaration order uninstall must replay.
type Recorder struct {
	actions []pkgfile.Action
}

// Record prepends one synthesized action.
func (r *Recorder) Record(action pkgfile.Action) {
	r.actions = append([]pkgfile.Action{action}, r.actions...)
}

// Actions returns the recorded list, newest first.
func (r *Recorder) Actions() []pkgfile.Action {
	return r.actions
}

// Empty reports whether nothing reversible was executed.
func (r *Recorder) Empty() bool {
	return len(r.actions) == 0
}
