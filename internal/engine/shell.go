// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

// runShell executes one command through the embedded shell and fails on a
// non-zero exit status.
func runShell(ctx *Context, command string) error {
	command = ctx.Expander.Expand(command)

	prog, err := syntax.NewParser().Parse(strings.NewReader(command), "command")
	if err != nil {
		return fmt.Errorf("parsing shell command: %w", err)
	}

	runner, err := interp.New(
		interp.Dir(ctx.BaseDir),
		interp.Env(expand.ListEnviron(ctx.Expander.Environ()...)),
		interp.StdIO(os.Stdin, ctx.out(), os.Stderr),
	)
	if err != nil {
		return fmt.Errorf("creating shell interpreter: %w", err)
	}

	log.Debug("running shell command", "package", ctx.Package.Name, "command", command)
	if err := runner.Run(context.Background(), prog); err != nil {
		var status interp.ExitStatus
		if errors.As(err, &status) {
			return fmt.Errorf("command exited with status %d", int(status))
		}
		return err
	}
	return nil
}

// runShellAll executes the commands in order, failing at the first non-zero
// exit; the remaining commands do not run.
func runShellAll(ctx *Context, commands []string) error {
	for _, command := range commands {
		if err := runShell(ctx, command); err != nil {
			return err
		}
	}
	return nil
}

// runShellAny executes the commands in order and succeeds at the first zero
// exit; it fails only when every command failed.
func runShellAny(ctx *Context, commands []string) error {
	var last error
	for _, command := range commands {
		if last = runShell(ctx, command); last == nil {
			return nil
		}
	}
	return fmt.Errorf("every alternative failed, last: %w", last)
}

// gitClone takes a shallow clone of the repository into the working
// directory. The external git binary does the transport work.
func gitClone(ctx *Context, repository string) error {
	repository = ctx.Expander.Expand(repository)
	cmd := exec.Command("git", "clone", repository,
		"--origin", "upstream", "--depth", "1")
	cmd.Dir = ctx.BaseDir
	cmd.Stdout = ctx.out()
	cmd.Stderr = os.Stderr

	log.Debug("cloning repository", "package", ctx.Package.Name, "repository", repository)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone of %q failed: %w", repository, err)
	}
	return nil
}
