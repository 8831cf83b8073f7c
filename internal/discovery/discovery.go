// SPDX-License-Identifier: MPL-2.0

// Package discovery scans the configured source roots for package
// descriptors and answers logical-name lookups against the resulting
// catalog.
package discovery

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/exp/maps"

	"dotctl/internal/condition"
	"dotctl/internal/config"
	"dotctl/pkg/pkgfile"
)

// NotFoundError is returned when a logical name does not resolve to a
// visible package.
type NotFoundError struct {
	// Name is the requested logical package name.
	Name string
	// Hidden is true when the package exists but its package-level
	// conditions are not satisfied in this session.
	Hidden bool
}

func (e *NotFoundError) Error() string {
	if e.Hidden {
		return fmt.Sprintf("package %q exists but its conditions are not satisfied", e.Name)
	}
	return fmt.Sprintf("package %q was not found in any configured source", e.Name)
}

// Diagnostic reports one malformed descriptor encountered during the scan.
// A malformed descriptor never aborts discovery of sibling packages.
type Diagnostic struct {
	Path string
	Err  error
}

// Catalog is the result of scanning all source roots: every resolvable
// package, keyed by logical name.
type Catalog struct {
	packages map[string]*pkgfile.Descriptor
	// hidden tracks packages whose descriptors parsed but whose package-level
	// conditions are unsatisfied. They cannot be requested, listed, or pulled
	// in as dependencies.
	hidden map[string]bool
	// broken maps names whose descriptor failed to parse to the parse error,
	// so a request for one reports the malformed descriptor instead of a
	// generic not-found.
	broken      map[string]error
	diagnostics []Diagnostic
}

// Discover walks every root in priority order and builds the catalog. When
// the same logical name exists under multiple roots, the earlier root wins
// and the later definition is shadowed entirely; a later root may not extend
// a package tree owned by an earlier root with subpackages either.
func Discover(roots []config.Root, checker *condition.Checker) *Catalog {
	c := &Catalog{
		packages: make(map[string]*pkgfile.Descriptor),
		hidden:   make(map[string]bool),
		broken:   make(map[string]error),
	}

	// claimed holds every name registered by previous roots, both visible
	// and condition-hidden.
	claimed := make(map[string]bool)

	for _, root := range roots {
		inThisRoot := make(map[string]bool)

		err := filepath.WalkDir(root.Path, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				return nil // unreadable subtree, keep scanning the rest
			}
			if entry.IsDir() || entry.Name() != pkgfile.DescriptorName {
				return nil
			}

			name := pkgfile.NameForDir(root.Path, filepath.Dir(path))
			if name == "" {
				// A descriptor directly in the root has no logical name.
				return nil
			}
			if shadowedBy(claimed, name) {
				log.Debug("package shadowed by an earlier source", "package", name, "source", root.Name)
				return nil
			}

			desc, perr := pkgfile.Parse(path, name, root.Name)
			if perr != nil {
				log.Warn("skipping malformed package descriptor", "path", path, "err", perr)
				c.diagnostics = append(c.diagnostics, Diagnostic{Path: path, Err: perr})
				if _, claimed := c.broken[name]; !claimed {
					c.broken[name] = perr
				}
				return nil
			}

			inThisRoot[name] = true
			if !checker.SatisfiesPackage(desc) {
				c.hidden[name] = true
				return nil
			}
			c.packages[name] = desc
			return nil
		})
		if err != nil {
			log.Warn("failed to scan package source", "source", root.Name, "err", err)
		}

		maps.Copy(claimed, inThisRoot)
	}

	return c
}

// shadowedBy reports whether the name, or any of its dotted-path ancestors,
// was already registered by an earlier root.
func shadowedBy(claimed map[string]bool, name string) bool {
	if claimed[name] {
		return true
	}
	parts := strings.Split(name, ".")
	for i := 1; i < len(parts); i++ {
		if claimed[strings.Join(parts[:i], ".")] {
			return true
		}
	}
	return false
}

// Resolve answers the catalog lookup for a logical name.
func (c *Catalog) Resolve(name string) (*pkgfile.Descriptor, error) {
	if d, ok := c.packages[name]; ok {
		return d, nil
	}
	if err, ok := c.broken[name]; ok {
		return nil, err
	}
	return nil, &NotFoundError{Name: name, Hidden: c.hidden[name]}
}

// Has reports whether the name resolves to a visible package.
func (c *Catalog) Has(name string) bool {
	_, ok := c.packages[name]
	return ok
}

// Names returns every visible logical name, sorted.
func (c *Catalog) Names() []string {
	names := maps.Keys(c.packages)
	sort.Strings(names)
	return names
}

// Diagnostics returns the malformed descriptors encountered during the scan.
func (c *Catalog) Diagnostics() []Diagnostic {
	return c.diagnostics
}

// LoadInstalled adds descriptors for installed packages whose archived
// snapshot exists but which are no longer present in any source, so that
// uninstall keeps working after a source disappears. Existing catalog
// entries are not replaced.
func (c *Catalog) LoadInstalled(names []string, snapshotDir func(string) string) {
	for _, name := range names {
		if c.Has(name) {
			continue
		}
		dir := snapshotDir(name)
		path := filepath.Join(dir, pkgfile.DescriptorName)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		desc, err := pkgfile.Parse(path, name, "installed")
		if err != nil {
			log.Warn("ignoring corrupt archived descriptor", "package", name, "err", err)
			continue
		}
		c.packages[name] = desc
	}
}
