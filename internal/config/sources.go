// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
)

// Source types. A local source points at a directory on this machine; a git
// source is cloned under the data directory on first use.
const (
	SourceTypeLocal = "local"
	SourceTypeGit   = "git"
)

type (
	// Source is one prioritized package source. Earlier entries in the list
	// shadow later ones during package discovery.
	Source struct {
		// Name is the logical name of the source. Must be unique and must
		// not contain path separators or spaces.
		Name string `toml:"name"`
		// Type is either "local" or "git".
		Type string `toml:"type"`
		// Directory is the package directory for local sources, or the
		// packages subdirectory inside the repository for git sources
		// (empty means the repository root).
		Directory string `toml:"directory,omitempty"`
		// Repository is the clone URL for git sources.
		Repository string `toml:"repository,omitempty"`
		// Refspec is the branch or commit to check out for git sources
		// (empty means the remote default).
		Refspec string `toml:"refspec,omitempty"`
	}

	// SourceList is the ordered set of configured sources.
	SourceList struct {
		Sources []Source `toml:"source"`

		// path is where the list was loaded from.
		path string
	}

	// Root is one assembled source: a name and the on-disk directory that
	// package discovery should walk.
	Root struct {
		Name string
		Path string
	}
)

// DefaultSourceList is used when no sources file exists yet.
func DefaultSourceList(path string) *SourceList {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &SourceList{
		Sources: []Source{{
			Name:      "my-dotfiles",
			Type:      SourceTypeLocal,
			Directory: filepath.Join(home, "dotfiles", "packages"),
		}},
		path: path,
	}
}

// LoadSources reads the source list file. A missing file yields the default
// list (and is not an error); a malformed file is.
func LoadSources(path string) (*SourceList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultSourceList(path), nil
		}
		return nil, fmt.Errorf("failed to read source list: %w", err)
	}

	var sl SourceList
	if err := toml.Unmarshal(data, &sl); err != nil {
		return nil, fmt.Errorf("failed to parse source list %s: %w", path, err)
	}
	sl.path = path

	if err := sl.validate(); err != nil {
		return nil, fmt.Errorf("invalid source list %s: %w", path, err)
	}
	return &sl, nil
}

// Save writes the source list back to the file it was loaded from.
func (sl *SourceList) Save() error {
	if err := sl.validate(); err != nil {
		return err
	}
	data, err := toml.Marshal(sl)
	if err != nil {
		return fmt.Errorf("failed to encode source list: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(sl.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(sl.path, data, 0o644)
}

// Path returns the file the list was loaded from.
func (sl *SourceList) Path() string { return sl.path }

// Add appends a source to the end of the priority list.
func (sl *SourceList) Add(s Source) error {
	for _, existing := range sl.Sources {
		if existing.Name == s.Name {
			return fmt.Errorf("source %q already exists", s.Name)
		}
	}
	sl.Sources = append(sl.Sources, s)
	return sl.validate()
}

// Remove deletes the named source. Removing an unknown name is an error.
func (sl *SourceList) Remove(name string) error {
	for i, s := range sl.Sources {
		if s.Name == name {
			sl.Sources = append(sl.Sources[:i], sl.Sources[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("source %q is not configured", name)
}

func (sl *SourceList) validate() error {
	seen := make(map[string]bool, len(sl.Sources))
	for i, s := range sl.Sources {
		if s.Name == "" {
			return fmt.Errorf("source #%d has no name", i)
		}
		if filepath.Base(s.Name) != s.Name || s.Name == "." || s.Name == ".." {
			return fmt.Errorf("source name %q must not contain path separators", s.Name)
		}
		if seen[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		seen[s.Name] = true

		switch s.Type {
		case SourceTypeLocal:
			if s.Directory == "" {
				return fmt.Errorf("local source %q has no directory", s.Name)
			}
		case SourceTypeGit:
			if s.Repository == "" {
				return fmt.Errorf("git source %q has no repository", s.Name)
			}
		default:
			return fmt.Errorf("source %q has unknown type %q", s.Name, s.Type)
		}
	}
	return nil
}

// Assemble materializes every source as an on-disk root, in priority order.
// Local sources are used in place; git sources are cloned under
// <dataDir>/sources/<name> if not yet present. A source that cannot be
// assembled is skipped with a warning so that the remaining sources stay
// usable.
func (sl *SourceList) Assemble(dataDir string) []Root {
	roots := make([]Root, 0, len(sl.Sources))
	for _, s := range sl.Sources {
		path, err := s.assemble(dataDir)
		if err != nil {
			log.Warn("skipping package source", "source", s.Name, "err", err)
			continue
		}
		roots = append(roots, Root{Name: s.Name, Path: path})
	}
	return roots
}

func (s *Source) assemble(dataDir string) (string, error) {
	switch s.Type {
	case SourceTypeLocal:
		dir := expandHome(s.Directory)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return "", fmt.Errorf("directory %s does not exist", dir)
		}
		return dir, nil

	case SourceTypeGit:
		checkout := filepath.Join(dataDir, "sources", s.Name)
		if _, err := os.Stat(filepath.Join(checkout, ".git")); err != nil {
			if err := s.clone(checkout); err != nil {
				return "", err
			}
		}
		return filepath.Join(checkout, filepath.FromSlash(s.Directory)), nil
	}
	return "", fmt.Errorf("unknown source type %q", s.Type)
}

func (s *Source) clone(checkout string) error {
	if err := os.MkdirAll(filepath.Dir(checkout), 0o755); err != nil {
		return err
	}
	args := []string{"clone", "--depth", "1"}
	if s.Refspec != "" {
		args = append(args, "--branch", s.Refspec)
	}
	args = append(args, s.Repository, checkout)

	log.Info("cloning package source", "source", s.Name, "repository", s.Repository)
	cmd := exec.Command("git", args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone of %s failed: %w", s.Repository, err)
	}
	return nil
}

func expandHome(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
