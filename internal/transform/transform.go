// SPDX-License-Identifier: MPL-2.0

// Package transform rewrites install-phase action lists before execution.
// Transformers are named, globally enabled per invocation, and individually
// opt-outable per action through the descriptor's "$transform" map.
package transform

import (
	"fmt"
	"path/filepath"
	"strings"

	"dotctl/pkg/pkgfile"
)

// CopiesAsSymlinks rewrites copies into symbolic links pointing back at the
// source tree, so edits to a deployed file land in the original repository.
const CopiesAsSymlinks = "copies as symlinks"

// UnexecutedError reports a "$transform" configuration for a transformer that
// never ran over its action. A leftover enabled entry means the descriptor
// expected a rewrite the invocation did not perform.
type UnexecutedError struct {
	Transformer string
	ActionIndex int
}

func (e *UnexecutedError) Error() string {
	return fmt.Sprintf("transformer %q is configured on action #%d but did not execute; enable it for the run or disable it in the descriptor",
		e.Transformer, e.ActionIndex)
}

// Normalize maps the CLI spelling of a transformer name to its canonical
// descriptor spelling.
func Normalize(name string) string {
	return strings.ReplaceAll(name, "-", " ")
}

// Known reports whether the name identifies an implemented transformer.
func Known(name string) bool {
	return Normalize(name) == CopiesAsSymlinks
}

// Apply runs the enabled transformers over the action list of one phase and
// then verifies that no action is left holding configuration for a rewrite
// that never happened. Only the install phase is ever rewritten; other phases
// still get the verification pass.
func Apply(phase pkgfile.Phase, actions []pkgfile.Action, enabled []string) ([]pkgfile.Action, error) {
	symlinks := false
	for _, name := range enabled {
		if !Known(name) {
			return nil, fmt.Errorf("unknown transformer %q", name)
		}
		symlinks = true
	}

	out := make([]pkgfile.Action, 0, len(actions))
	for _, action := range actions {
		if symlinks && phase == pkgfile.PhaseInstall && action.TransformEnabled(CopiesAsSymlinks) {
			out = append(out, rewriteCopies(action)...)
			continue
		}
		out = append(out, action)
	}

	for i := range out {
		if err := verify(&out[i], i); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// rewriteCopies turns a copy into a relative symlink, a copy tree into a
// relative symlink at the tree's destination, and a replace into a remove +
// relative symlink pair. Actions mentioning $TEMPORARY_DIR are left alone:
// the scratch directory is deleted after install, so a link into it would
// dangle.
func rewriteCopies(action pkgfile.Action) []pkgfile.Action {
	switch action.Type {
	case pkgfile.ActionCopy, pkgfile.ActionCopyTree, pkgfile.ActionReplace:
	default:
		return []pkgfile.Action{action}
	}
	if mentionsTemporaryDir(&action) {
		return []pkgfile.Action{action}
	}

	switch action.Type {
	case pkgfile.ActionCopy:
		link := action
		link.Type = pkgfile.ActionSymlink
		link.Relative = true
		link.Transform = stripConfig(link.Transform)
		return []pkgfile.Action{link}

	case pkgfile.ActionCopyTree:
		// The whole tree collapses into one link at the destination pointing
		// back at the source directory.
		link := action
		link.Type = pkgfile.ActionSymlink
		link.Relative = true
		link.File = action.Dir
		link.Dir = ""
		link.Transform = stripConfig(link.Transform)
		return []pkgfile.Action{link}

	case pkgfile.ActionReplace:
		// Keep the user-visible expectation of "replace": the previous file
		// is archived at remove time and comes back at uninstall.
		remove := pkgfile.Action{
			Type:          pkgfile.ActionRemove,
			Where:         action.At,
			File:          applyPrefix(action.Prefix, action.WithFile),
			IgnoreMissing: true,
			If:            action.If,
			IfNot:         action.IfNot,
		}
		for _, f := range action.WithFiles {
			remove.Files = append(remove.Files, applyPrefix(action.Prefix, f))
		}

		link := pkgfile.Action{
			Type:     pkgfile.ActionSymlink,
			Relative: true,
			To:       action.At,
			File:     action.WithFile,
			Files:    action.WithFiles,
			From:     action.From,
			Prefix:   action.Prefix,
			If:       action.If,
			IfNot:    action.IfNot,
		}
		return []pkgfile.Action{remove, link}
	}
	return []pkgfile.Action{action}
}

// verify strips disabled "$transform" entries and rejects enabled ones that
// survived the pipeline.
func verify(action *pkgfile.Action, index int) error {
	if len(action.Transform) == 0 {
		return nil
	}
	for name, cfg := range action.Transform {
		if cfg.Enabled {
			return &UnexecutedError{Transformer: name, ActionIndex: index}
		}
	}
	// Everything left is an explicit disable; strip it before execution.
	action.Transform = nil
	return nil
}

func mentionsTemporaryDir(action *pkgfile.Action) bool {
	args := []string{action.File, action.To, action.From, action.At, action.WithFile, action.Where, action.Dir}
	args = append(args, action.Files...)
	args = append(args, action.WithFiles...)
	for _, arg := range args {
		if strings.Contains(arg, "$TEMPORARY_DIR") {
			return true
		}
	}
	return false
}

// applyPrefix prepends the prefix to the file name component of path.
func applyPrefix(prefix, path string) string {
	if path == "" || prefix == "" {
		return path
	}
	return filepath.Join(filepath.Dir(path), prefix+filepath.Base(path))
}

// stripConfig drops the copies-as-symlinks entry after a successful rewrite,
// leaving other transformers' configuration for the verification pass.
func stripConfig(cfg map[string]pkgfile.TransformConfig) map[string]pkgfile.TransformConfig {
	if len(cfg) == 0 {
		return nil
	}
	out := make(map[string]pkgfile.TransformConfig, len(cfg))
	for name, c := range cfg {
		if name == CopiesAsSymlinks {
			continue
		}
		out[name] = c
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
