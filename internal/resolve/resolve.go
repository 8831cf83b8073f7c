// SPDX-License-Identifier: MPL-2.0

// Package resolve turns requested package names into deterministic,
// dependency-ordered installation and removal plans.
package resolve

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"dotctl/internal/dag"
	"dotctl/internal/discovery"
	"dotctl/pkg/pkgfile"
)

type (
	// UnknownPackageError indicates that a requested name, or a declared
	// dependency, does not resolve to a visible package. It aborts the whole
	// plan before any action runs.
	UnknownPackageError struct {
		// Name is the unresolvable logical name.
		Name string
		// Dependent is the package that declared Name as a dependency, or
		// "" when Name was requested directly.
		Dependent string
		// Hidden is true when the package exists but its conditions are not
		// satisfied.
		Hidden bool
	}

	// SupportPackageError indicates that a support package was requested as
	// a direct install or uninstall target.
	SupportPackageError struct {
		Name string
	}
)

func (e *UnknownPackageError) Error() string {
	what := fmt.Sprintf("package %q", e.Name)
	if e.Hidden {
		what += " (exists, but its conditions are not satisfied)"
	}
	if e.Dependent != "" {
		return fmt.Sprintf("dependency %s of %q was not found", what, e.Dependent)
	}
	return fmt.Sprintf("%s was not found", what)
}

func (e *SupportPackageError) Error() string {
	return fmt.Sprintf("%q is a support package: it only exists to help other packages install and cannot be a direct target", e.Name)
}

// globSuffixes are the accepted group-glob spellings. "shells.*" and
// "shells.__ALL__" both expand to every resolvable package whose leading
// dotted segment path is "shells".
var globSuffixes = []string{".*", ".__ALL__"}

// Expand resolves group-glob patterns against the catalog. Non-glob names
// pass through untouched (even if unresolvable; Plan reports those with full
// context). The result keeps the first occurrence of every name.
func Expand(catalog *discovery.Catalog, patterns []string) ([]string, error) {
	var out []string
	for _, pattern := range patterns {
		suffix := matchedGlobSuffix(pattern)
		if suffix == "" {
			if strings.HasSuffix(pattern, "*") || strings.HasSuffix(pattern, "__ALL__") {
				return nil, fmt.Errorf("glob pattern %q must name a group with a closing dot before the glob", pattern)
			}
			out = append(out, pattern)
			continue
		}

		group := strings.TrimSuffix(pattern, suffix)
		if strings.ContainsAny(group, "*") || strings.Contains(group, "__ALL__") {
			return nil, fmt.Errorf("glob pattern %q may only contain a single trailing glob", pattern)
		}

		var matched []string
		for _, name := range catalog.Names() {
			if name == group || strings.HasPrefix(name, group+".") {
				matched = append(matched, name)
			}
		}
		sort.Strings(matched)
		out = append(out, matched...)
	}
	return dedupe(out), nil
}

func matchedGlobSuffix(pattern string) string {
	for _, suffix := range globSuffixes {
		if strings.HasSuffix(pattern, suffix) {
			return suffix
		}
	}
	return ""
}

// Plan builds the dependency-ordered install plan for the requested names.
// The order is deterministic: ties break by request order first, then by the
// lexicographic order dependencies are declared in. Names accepted by the
// ignore callback (typically "already installed") are treated as satisfied
// and never planned.
func Plan(catalog *discovery.Catalog, requested []string, ignore func(string) bool) ([]*pkgfile.Descriptor, error) {
	if ignore == nil {
		ignore = func(string) bool { return false }
	}

	graph := dag.New()
	descriptors := make(map[string]*pkgfile.Descriptor)

	var queue []string
	enqueued := make(map[string]bool)
	for _, name := range requested {
		desc, err := catalog.Resolve(name)
		if err != nil {
			return nil, notFound(err, name, "")
		}
		if desc.IsSupport() {
			return nil, &SupportPackageError{Name: name}
		}
		if ignore(name) || enqueued[name] {
			continue
		}
		queue = append(queue, name)
		enqueued[name] = true
	}

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]

		desc, err := catalog.Resolve(name)
		if err != nil {
			return nil, notFound(err, name, "")
		}
		descriptors[name] = desc
		graph.AddNode(name)

		deps := desc.EffectiveDependencies()
		sort.Strings(deps)
		for _, dep := range deps {
			if ignore(dep) {
				continue
			}
			if _, err := catalog.Resolve(dep); err != nil {
				if dep == desc.ParentName() && !isHidden(err) {
					// The dotted-path parent is allowed to be a plain
					// directory rather than a package.
					continue
				}
				return nil, notFound(err, dep, name)
			}
			graph.AddEdge(dep, name)
			if !enqueued[dep] {
				queue = append(queue, dep)
				enqueued[dep] = true
			}
		}
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}

	plan := make([]*pkgfile.Descriptor, 0, len(order))
	for _, name := range order {
		plan = append(plan, descriptors[name])
	}
	return plan, nil
}

// ReversePlan builds the uninstall plan for the requested names: the
// requested packages plus every installed package that transitively depends
// on one of them, in reverse install order.
func ReversePlan(catalog *discovery.Catalog, requested, installed []string) ([]*pkgfile.Descriptor, error) {
	for _, name := range requested {
		if pkgfile.IsSupportName(name) {
			return nil, &SupportPackageError{Name: name}
		}
		if desc, err := catalog.Resolve(name); err == nil && desc.IsSupport() {
			return nil, &SupportPackageError{Name: name}
		}
	}

	// Grow the removal set with installed dependents until it is closed
	// under "depends on something being removed".
	removal := make(map[string]bool, len(requested))
	for _, name := range requested {
		removal[name] = true
	}
	for changed := true; changed; {
		changed = false
		for _, name := range installed {
			if removal[name] {
				continue
			}
			desc, err := catalog.Resolve(name)
			if err != nil {
				continue
			}
			for _, dep := range transitiveDependencies(catalog, desc, nil) {
				if removal[dep] {
					removal[name] = true
					changed = true
					break
				}
			}
		}
	}

	// Order the removal set like an install plan of itself, then reverse:
	// dependents come down before their dependencies.
	names := make([]string, 0, len(removal))
	for _, name := range requested {
		if removal[name] {
			names = append(names, name)
			delete(removal, name)
		}
	}
	rest := make([]string, 0, len(removal))
	for name := range removal {
		rest = append(rest, name)
	}
	sort.Strings(rest)
	names = append(names, rest...)

	inSet := make(map[string]bool, len(names))
	for _, name := range names {
		inSet[name] = true
	}

	graph := dag.New()
	descriptors := make(map[string]*pkgfile.Descriptor)
	for _, name := range names {
		desc, err := catalog.Resolve(name)
		if err != nil {
			return nil, notFound(err, name, "")
		}
		descriptors[name] = desc
		graph.AddNode(name)
		deps := desc.EffectiveDependencies()
		sort.Strings(deps)
		for _, dep := range deps {
			if inSet[dep] {
				graph.AddEdge(dep, name)
			}
		}
	}

	order, err := graph.TopologicalSort()
	if err != nil {
		return nil, err
	}
	slices.Reverse(order)

	plan := make([]*pkgfile.Descriptor, 0, len(order))
	for _, name := range order {
		plan = append(plan, descriptors[name])
	}
	return plan, nil
}

// transitiveDependencies walks the dependency closure of desc within the
// catalog. Unresolvable names terminate their branch silently; ignore guards
// against dependency cycles during the walk.
func transitiveDependencies(catalog *discovery.Catalog, desc *pkgfile.Descriptor, ignore []string) []string {
	if slices.Contains(ignore, desc.Name) {
		return nil
	}
	var deps []string
	for _, dep := range desc.EffectiveDependencies() {
		if slices.Contains(ignore, dep) {
			continue
		}
		depDesc, err := catalog.Resolve(dep)
		if err != nil {
			continue
		}
		deps = append(deps, dep)
		deps = append(deps, transitiveDependencies(catalog, depDesc, append(ignore, desc.Name))...)
	}
	return dedupe(deps)
}

func notFound(err error, name, dependent string) error {
	var nf *discovery.NotFoundError
	if errors.As(err, &nf) {
		return &UnknownPackageError{Name: name, Dependent: dependent, Hidden: nf.Hidden}
	}
	return err
}

func isHidden(err error) bool {
	var nf *discovery.NotFoundError
	return errors.As(err, &nf) && nf.Hidden
}

// dedupe keeps the first occurrence of every element.
func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0]
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
