// SPDX-License-Identifier: MPL-2.0

// Package engine executes the ordered, transformed, condition-filtered
// action list of one package phase.
package engine

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"dotctl/internal/backup"
	"dotctl/internal/condition"
	"dotctl/pkg/pkgfile"
)

// ActionError identifies the package, phase and action index of a failed
// action. It aborts the remainder of the phase and the package's install.
type ActionError struct {
	Package string
	Phase   pkgfile.Phase
	Index   int
	Type    pkgfile.ActionType
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("execution of %q action #%d failed for %s in the %s phase: %v",
		e.Type, e.Index, e.Package, e.Phase, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Context carries the state one phase execution runs against.
type Context struct {
	Package *pkgfile.Descriptor
	Phase   pkgfile.Phase

	// BaseDir anchors relative path arguments: the package's scratch
	// directory during prepare, the descriptor directory during install, the
	// archived snapshot directory during uninstall.
	BaseDir string

	Expander *Expander
	Checker  *condition.Checker

	// Archive receives path snapshots during install and serves restores
	// during uninstall.
	Archive *backup.Archive
	// Recorder collects synthesized inverse actions; set during install only.
	Recorder *backup.Recorder

	// Out receives the text of print actions. Defaults to stdout.
	Out io.Writer
}

func (c *Context) out() io.Writer {
	if c.Out != nil {
		return c.Out
	}
	return os.Stdout
}

// abs expands s and resolves it against the context's base directory when
// relative.
func (c *Context) abs(s string) string {
	expanded := c.Expander.Expand(s)
	if filepath.IsAbs(expanded) {
		return expanded
	}
	return filepath.Join(c.BaseDir, expanded)
}

// Execute runs the actions in declared order. Actions whose conditions are
// not satisfied are skipped, which is not an error. The first failing action
// aborts the rest of the phase.
func Execute(ctx *Context, actions []pkgfile.Action) error {
	for i := range actions {
		action := &actions[i]
		if !ctx.Checker.Satisfies(action.If, action.IfNot) {
			log.Debug("skipping action, conditions not satisfied",
				"package", ctx.Package.Name, "phase", ctx.Phase, "action", action.Type)
			continue
		}
		if err := dispatch(ctx, action); err != nil {
			return &ActionError{
				Package: ctx.Package.Name,
				Phase:   ctx.Phase,
				Index:   i,
				Type:    action.Type,
				Err:     err,
			}
		}
	}
	return nil
}

func dispatch(ctx *Context, action *pkgfile.Action) error {
	switch action.Type {
	case pkgfile.ActionPrint:
		fmt.Fprintf(ctx.out(), "MESSAGE FROM '%s':\n\t%s\n",
			ctx.Package.Name, ctx.Expander.Expand(action.Text))
		return nil
	case pkgfile.ActionShell:
		return runShell(ctx, action.Command)
	case pkgfile.ActionShellAll:
		return runShellAll(ctx, action.Commands)
	case pkgfile.ActionShellAny:
		return runShellAny(ctx, action.Commands)
	case pkgfile.ActionGitClone:
		return gitClone(ctx, action.Repository)
	case pkgfile.ActionCopyResource:
		return copyResource(ctx, action.Path)
	case pkgfile.ActionCopy:
		return copyOrSymlink(ctx, action, false)
	case pkgfile.ActionSymlink:
		return copyOrSymlink(ctx, action, true)
	case pkgfile.ActionCopyTree:
		return copyTree(ctx, action)
	case pkgfile.ActionMakeDirs:
		return makeDirs(ctx, action)
	case pkgfile.ActionRemove:
		return remove(ctx, action)
	case pkgfile.ActionRemoveDirs:
		return removeDirs(ctx, action)
	case pkgfile.ActionRemoveTree:
		return removeTree(ctx, action)
	case pkgfile.ActionReplace:
		return replace(ctx, action)
	case pkgfile.ActionRestore:
		return restore(ctx, action)
	}
	return fmt.Errorf("unknown action %q", action.Type)
}

// record hands the synthesized inverse of an executed action to the recorder,
// when one is attached and the action type has an inverse at all.
func record(ctx *Context, t pkgfile.ActionType, targets []string) {
	if ctx.Recorder == nil || len(targets) == 0 {
		return
	}
	if inverse, ok := backup.Inverse(t, targets); ok {
		ctx.Recorder.Record(inverse)
	}
}
