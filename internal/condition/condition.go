// SPDX-License-Identifier: MPL-2.0

// Package condition evaluates the closed set of named predicates that gate
// packages and individual actions. The result of the privilege probe is
// cached for the whole invocation; it is never refreshed mid-run.
package condition

import (
	"os"
	"os/exec"
	"sync"

	"github.com/charmbracelet/log"

	"dotctl/pkg/pkgfile"
)

// Checker answers condition queries against the current session context.
type Checker struct {
	probeOnce sync.Once
	elevated  bool
	probe     func() bool
}

// New creates a Checker whose superuser state is determined by a single
// sudo probe, run lazily on first use.
func New() *Checker {
	return &Checker{probe: sudoProbe}
}

// NewStatic creates a Checker with a fixed superuser answer. Used by tests
// and by the CLI when the user declined elevation up front.
func NewStatic(elevated bool) *Checker {
	return &Checker{probe: func() bool { return elevated }}
}

// Superuser reports whether the session holds cached elevated-privilege
// authorization, probing at most once.
func (c *Checker) Superuser() bool {
	c.probeOnce.Do(func() {
		c.elevated = c.probe()
	})
	return c.elevated
}

// Satisfies reports whether every condition in positive holds and no
// condition in negative holds. Unknown names are rejected at descriptor load
// time, so holds treats them as simply false here.
func (c *Checker) Satisfies(positive, negative []string) bool {
	for _, name := range positive {
		if !c.holds(name) {
			return false
		}
	}
	for _, name := range negative {
		if c.holds(name) {
			return false
		}
	}
	return true
}

// SatisfiesPackage evaluates the package-level condition lists of a
// descriptor.
func (c *Checker) SatisfiesPackage(d *pkgfile.Descriptor) bool {
	return c.Satisfies(d.If, d.IfNot)
}

func (c *Checker) holds(name string) bool {
	switch pkgfile.Condition(name) {
	case pkgfile.CondSuperuser:
		return c.Superuser()
	}
	return false
}

// sudoProbe tests for cached superuser access by running a no-op command
// through sudo. The prompt is interactive; pressing Ctrl-D denies elevation
// without failing the run.
func sudoProbe() bool {
	log.Info("testing sudo access, enter your password if prompted (Ctrl-D to skip)")
	cmd := exec.Command("sudo", "-p", "[sudo] password for dotctl: ", "true")
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		log.Warn("sudo access not available", "err", err)
		return false
	}
	return true
}
