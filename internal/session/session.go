// SPDX-License-Identifier: MPL-2.0

// Package session owns the scratch directories of one invocation: a single
// session-wide directory shared by every package, and one temporary directory
// per package's prepare phase. Both are ephemeral.
package session

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// Session tracks the scratch directories created during one invocation.
// It is not safe for concurrent use; execution is strictly sequential.
type Session struct {
	dir     string
	pkgDirs map[string]string
}

// New creates the session-wide scratch directory.
func New() (*Session, error) {
	dir, err := os.MkdirTemp("", "dotctl-")
	if err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}
	return &Session{dir: dir, pkgDirs: make(map[string]string)}, nil
}

// Dir returns the session-wide scratch directory, the value of $SESSION_DIR.
func (s *Session) Dir() string {
	return s.dir
}

// PackageTempDir returns the named package's scratch directory, the value of
// $TEMPORARY_DIR, creating it under the session directory on first use.
func (s *Session) PackageTempDir(name string) (string, error) {
	if dir, ok := s.pkgDirs[name]; ok {
		return dir, nil
	}
	dir, err := os.MkdirTemp(s.dir, name+"-")
	if err != nil {
		return "", fmt.Errorf("creating scratch directory for %q: %w", name, err)
	}
	s.pkgDirs[name] = dir
	return dir, nil
}

// HasPackageTempDir reports whether the named package already owns a scratch
// directory. $TEMPORARY_DIR is only meaningful in the install phase when a
// prepare phase ran before it.
func (s *Session) HasPackageTempDir(name string) bool {
	_, ok := s.pkgDirs[name]
	return ok
}

// ReleasePackage removes the named package's scratch directory. Called once
// the package's install phase finished; later phases of other packages must
// not see its contents.
func (s *Session) ReleasePackage(name string) {
	dir, ok := s.pkgDirs[name]
	if !ok {
		return
	}
	delete(s.pkgDirs, name)
	if err := os.RemoveAll(dir); err != nil {
		log.Warn("could not clean up package scratch directory", "package", name, "err", err)
	}
}

// Close removes the session directory and everything below it, including any
// package scratch directory not yet released.
func (s *Session) Close() {
	if s.dir == "" {
		return
	}
	if err := os.RemoveAll(s.dir); err != nil {
		log.Warn("could not clean up session directory", "dir", s.dir, "err", err)
	}
	s.dir = ""
	s.pkgDirs = nil
}
