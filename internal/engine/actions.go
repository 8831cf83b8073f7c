// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	"dotctl/internal/fsutil"
	"dotctl/pkg/pkgfile"
)

// computeTarget resolves what a copy, replace or symlink with these
// parameters actually points at. With a prefix (or when the caller asks for
// it explicitly) the source's file name is appended to the destination and
// the prefix is prepended to that name; otherwise "to" already is the full
// destination.
func computeTarget(source, to, prefix string, includeFilename bool) string {
	target := to
	if prefix != "" || includeFilename {
		target = filepath.Join(to, filepath.Base(source))
	}
	if prefix != "" {
		dir, name := filepath.Split(target)
		target = filepath.Join(dir, prefix+name)
	}
	return target
}

// sourceList normalizes the file-or-files argument pair into one slice.
func sourceList(file string, files []string) []string {
	if len(files) > 0 {
		return files
	}
	return []string{file}
}

func copyOrSymlink(ctx *Context, action *pkgfile.Action, symlink bool) error {
	to := ctx.Expander.Expand(action.To)
	if !filepath.IsAbs(to) {
		return fmt.Errorf("'to' must be given as an absolute path, got %q", action.To)
	}
	if len(action.Files) > 0 {
		if info, err := os.Stat(to); err != nil || !info.IsDir() {
			return fmt.Errorf("'to' must be an existing directory when handling multiple files, got %q", action.To)
		}
	}

	var targets []string
	for _, file := range sourceList(action.File, action.Files) {
		source := file
		if action.From != "" {
			source = filepath.Join(action.From, file)
		}
		sourceReal := ctx.abs(source)

		// A symlink to a single file placed into a directory must spell out
		// the file name; a copy lands inside the directory either way.
		sourceIsDir := false
		if info, err := os.Stat(sourceReal); err == nil {
			sourceIsDir = info.IsDir()
		}
		toIsDir := false
		if info, err := os.Stat(to); err == nil {
			toIsDir = info.IsDir()
		}

		includeFilename := symlink && !sourceIsDir && toIsDir
		target := ctx.Expander.Expand(
			computeTarget(sourceReal, to, action.Prefix, includeFilename))

		if symlink {
			if info, err := os.Lstat(target); err == nil && !info.IsDir() {
				if err := os.Remove(target); err != nil {
					return err
				}
			}
			pointsTo := sourceReal
			if action.Relative {
				rel, err := filepath.Rel(filepath.Dir(target), sourceReal)
				if err != nil {
					return err
				}
				pointsTo = rel
			}
			log.Debug("creating symlink", "target", target, "points_to", pointsTo)
			if err := os.Symlink(pointsTo, target); err != nil {
				return err
			}
		} else {
			copyDst := target
			if info, err := os.Stat(target); err == nil && info.IsDir() {
				copyDst = filepath.Join(target, filepath.Base(sourceReal))
			}
			log.Debug("copying file", "source", sourceReal, "target", copyDst)
			if err := fsutil.CopyFile(sourceReal, copyDst); err != nil {
				return err
			}
		}

		// The recorded removal target keeps unexpanded variable references,
		// so a later invocation resolves them in its own environment.
		uninsPath := computeTarget(sourceReal, action.To, action.Prefix, includeFilename)
		if info, err := os.Lstat(target); err == nil && info.IsDir() {
			uninsPath = filepath.Join(uninsPath, filepath.Base(sourceReal))
		}
		targets = append(targets, uninsPath)
	}

	record(ctx, action.Type, targets)
	return nil
}

func copyTree(ctx *Context, action *pkgfile.Action) error {
	src := ctx.abs(action.Dir)
	dst := ctx.Expander.Expand(action.To)
	log.Debug("copying tree", "source", src, "target", dst)
	if err := fsutil.CopyTree(src, dst); err != nil {
		return err
	}
	record(ctx, action.Type, []string{action.To})
	return nil
}

func makeDirs(ctx *Context, action *pkgfile.Action) error {
	var created []string
	for _, dir := range action.Dirs {
		if err := os.MkdirAll(ctx.abs(dir), 0o755); err != nil {
			return err
		}
		// Every path component is a removal candidate at uninstall; removal
		// only deletes the ones left empty.
		created = append(created, pathComponents(dir)...)
	}
	record(ctx, action.Type, created)
	return nil
}

// pathComponents lists path and each of its ancestors, most specific first,
// stopping before the filesystem root.
func pathComponents(path string) []string {
	var parts []string
	for p := path; ; {
		parts = append(parts, p)
		parent := filepath.Dir(p)
		if parent == p || parent == "." || parent == "/" {
			break
		}
		p = parent
	}
	return parts
}

func remove(ctx *Context, action *pkgfile.Action) error {
	where := ""
	whereReal := ""
	if action.Where != "" {
		whereReal = ctx.Expander.Expand(action.Where)
		if !filepath.IsAbs(whereReal) {
			return fmt.Errorf("'where' must be given as an absolute path, got %q", action.Where)
		}
		if info, err := os.Stat(whereReal); err != nil || !info.IsDir() {
			return fmt.Errorf("'where' must be an existing directory, got %q", action.Where)
		}
		where = action.Where
	}

	var removed []string
	for _, file := range sourceList(action.File, action.Files) {
		unexpanded := file
		real := ctx.Expander.Expand(file)
		if where != "" {
			unexpanded = filepath.Join(where, file)
			real = filepath.Join(whereReal, real)
		} else if !filepath.IsAbs(real) {
			return fmt.Errorf("without 'where' every removal target must be an absolute path, got %q", file)
		}

		if ctx.Phase == pkgfile.PhaseInstall && ctx.Archive != nil {
			existed := false
			if _, err := os.Lstat(real); err == nil {
				existed = true
			}
			if err := ctx.Archive.Snapshot(unexpanded, real); err != nil {
				return err
			}
			if existed {
				removed = append(removed, unexpanded)
			}
		}

		info, err := os.Lstat(real)
		if err != nil {
			log.Debug("removal target does not exist, skipping", "path", real)
			continue
		}
		if info.IsDir() {
			log.Debug("removal target is a directory, skipping", "path", real)
			continue
		}
		log.Debug("deleting file", "path", real)
		if err := os.Remove(real); err != nil {
			if action.IgnoreMissing && os.IsNotExist(err) {
				continue
			}
			return err
		}
	}

	record(ctx, action.Type, removed)
	return nil
}

func removeDirs(ctx *Context, action *pkgfile.Action) error {
	for _, dir := range action.Dirs {
		real := ctx.abs(dir)
		if err := os.Remove(real); err != nil {
			log.Warn("could not remove directory", "path", real, "err", err)
			continue
		}
		log.Debug("removed directory", "path", real)
	}
	return nil
}

func removeTree(ctx *Context, action *pkgfile.Action) error {
	real := ctx.abs(action.Dir)
	info, err := os.Stat(real)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("'dir' must be an existing directory, got %q", action.Dir)
	}
	log.Debug("removing tree", "path", real)
	return os.RemoveAll(real)
}

func replace(ctx *Context, action *pkgfile.Action) error {
	var restored []string
	for _, file := range sourceList(action.WithFile, action.WithFiles) {
		source := file
		if action.From != "" {
			source = filepath.Join(action.From, file)
		}

		target := computeTarget(source, action.At, action.Prefix, false)
		targetReal := ctx.Expander.Expand(target)
		if !filepath.IsAbs(targetReal) {
			return fmt.Errorf("'at' must resolve to an absolute path, got %q", action.At)
		}

		existed := false
		if _, err := os.Lstat(targetReal); err == nil {
			existed = true
		}
		if ctx.Archive != nil {
			if err := ctx.Archive.Snapshot(target, targetReal); err != nil {
				return err
			}
		}
		if existed {
			restored = append(restored, target)
		}

		log.Debug("replacing file", "target", targetReal, "with", source)
		if err := fsutil.CopyFile(ctx.abs(source), targetReal); err != nil {
			return err
		}
	}

	record(ctx, action.Type, restored)
	return nil
}

func restore(ctx *Context, action *pkgfile.Action) error {
	if ctx.Archive == nil {
		return fmt.Errorf("restore requires an install archive")
	}
	for _, file := range sourceList(action.File, action.Files) {
		real := ctx.Expander.Expand(file)
		if !filepath.IsAbs(real) {
			return fmt.Errorf("every restore target must be an absolute path, got %q", file)
		}
		if err := ctx.Archive.Restore(file, real); err != nil {
			return err
		}
	}
	return nil
}

func copyResource(ctx *Context, path string) error {
	resourceDir := ctx.Package.Dir
	source := filepath.Join(resourceDir, path)
	absSource, err := filepath.Abs(source)
	if err != nil {
		return err
	}
	absResource, err := filepath.Abs(resourceDir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(absResource, absSource)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("resource path %q leads outside the package directory", path)
	}
	if rel == "." {
		return fmt.Errorf("resource-copying the entire package directory is forbidden")
	}

	tempDir, ok := ctx.Expander.Lookup("TEMPORARY_DIR")
	if !ok {
		return fmt.Errorf("no scratch directory available for the resource copy")
	}
	target := filepath.Join(tempDir, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}

	info, err := os.Stat(absSource)
	if err != nil {
		return fmt.Errorf("no such resource %q in the package directory", path)
	}
	log.Debug("copying resource", "source", absSource, "target", target)
	if info.IsDir() {
		return fsutil.CopyTree(absSource, target)
	}
	return fsutil.CopyFile(absSource, target)
}
