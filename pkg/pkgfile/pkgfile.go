// SPDX-License-Identifier: MPL-2.0

// Package pkgfile defines the typed model for package descriptor files and
// their decoding from YAML. A package directory is any directory containing a
// package.yaml; the descriptor names the package's dependencies, conditions,
// and the ordered actions of its prepare, install and uninstall phases.
package pkgfile

import (
	"path/filepath"
	"slices"
	"strings"
)

// DescriptorName is the file name that marks a directory as a package.
const DescriptorName = "package.yaml"

// Phase identifies one of the three ordered action lists of a package.
type Phase string

const (
	// PhasePrepare runs before install, in a per-package temporary directory.
	PhasePrepare Phase = "prepare"
	// PhaseInstall performs the package's persistent changes.
	PhaseInstall Phase = "install"
	// PhaseUninstall reverses a previous install.
	PhaseUninstall Phase = "uninstall"
)

// Descriptor is the decoded content of one package.yaml, together with the
// identity the package was discovered under.
type Descriptor struct {
	// Name is the dot-joined logical package name, derived from the package
	// directory's path relative to its source root.
	Name string `yaml:"-" json:"name"`
	// Dir is the absolute path of the directory holding the descriptor and
	// the package's resource files.
	Dir string `yaml:"-" json:"-"`
	// Root is the name of the source root the package was loaded from.
	Root string `yaml:"-" json:"-"`

	Description  string   `yaml:"description" json:"description,omitempty"`
	Dependencies []string `yaml:"dependencies" json:"dependencies,omitempty"`
	// DependOnParent adds an implicit dependency on the dotted-path parent
	// package. Defaults to true; see UnmarshalYAML.
	DependOnParent bool `yaml:"depend on parent" json:"depend_on_parent"`
	// Superuser marks the whole package as requiring elevated privileges.
	Superuser bool `yaml:"superuser" json:"superuser,omitempty"`
	// Support marks the package as installable only as a dependency of
	// another package. Its installed status is never persisted.
	Support bool `yaml:"support" json:"support,omitempty"`

	// If and IfNot gate the whole package: all names in If must hold and no
	// name in IfNot may hold for the package to be visible at all.
	If    []string `yaml:"if" json:"if,omitempty"`
	IfNot []string `yaml:"if not" json:"if_not,omitempty"`

	Prepare   []Action `yaml:"prepare" json:"prepare,omitempty"`
	Install   []Action `yaml:"install" json:"install,omitempty"`
	Uninstall []Action `yaml:"uninstall" json:"uninstall,omitempty"`
}

// NameForDir derives the logical package name for a package directory under
// the given source root. Path separators become dots.
func NameForDir(root, dir string) string {
	rel, err := filepath.Rel(root, dir)
	if err != nil || rel == "." {
		return ""
	}
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", ".")
}

// DirForName converts a logical package name back into the package directory
// path under the given source root.
func DirForName(root, name string) string {
	return filepath.Join(root, filepath.FromSlash(strings.ReplaceAll(name, ".", "/")))
}

// ParentName returns the logical name of the package's dotted-path parent, or
// "" for a top-level package. The parent is not guaranteed to exist as an
// installable package.
func ParentName(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return ""
	}
	return name[:idx]
}

// IsSupportName reports whether the logical name alone forces support status.
// Any package with an "internal" path segment is a support package regardless
// of its descriptor.
func IsSupportName(name string) bool {
	return slices.Contains(strings.Split(name, "."), "internal")
}

// IsSupport reports whether the package may only be installed as a dependency.
func (d *Descriptor) IsSupport() bool {
	return d.Support || IsSupportName(d.Name)
}

// ParentName returns the logical name of the descriptor's dotted-path parent.
func (d *Descriptor) ParentName() string {
	return ParentName(d.Name)
}

// EffectiveDependencies returns the declared dependencies plus the implicit
// parent dependency, if enabled and the package is not top-level.
func (d *Descriptor) EffectiveDependencies() []string {
	deps := slices.Clone(d.Dependencies)
	if parent := d.ParentName(); parent != "" && d.DependOnParent {
		deps = append(deps, parent)
	}
	return deps
}

// Actions returns the action list for the given phase.
func (d *Descriptor) Actions(phase Phase) []Action {
	switch phase {
	case PhasePrepare:
		return d.Prepare
	case PhaseInstall:
		return d.Install
	case PhaseUninstall:
		return d.Uninstall
	}
	return nil
}

// SuggestsSuperuser reports whether any action of the descriptor references
// the superuser condition, positively or negatively. Such packages can take
// extra optional steps when elevation is available without requiring it.
func (d *Descriptor) SuggestsSuperuser() bool {
	mentions := func(actions []Action) bool {
		for _, a := range actions {
			if slices.Contains(a.If, string(CondSuperuser)) ||
				slices.Contains(a.IfNot, string(CondSuperuser)) {
				return true
			}
		}
		return false
	}
	return mentions(d.Prepare) || mentions(d.Install) || mentions(d.Uninstall)
}

// ConditionNames returns every condition name referenced by the descriptor,
// both at package level and on individual actions.
func (d *Descriptor) ConditionNames() []string {
	var names []string
	names = append(names, d.If...)
	names = append(names, d.IfNot...)
	for _, actions := range [][]Action{d.Prepare, d.Install, d.Uninstall} {
		for _, a := range actions {
			names = append(names, a.If...)
			names = append(names, a.IfNot...)
		}
	}
	return names
}

// CondSuperuser is the condition meaning "the invoking session holds cached
// elevated-privilege authorization". The set of known conditions is closed;
// it grows only by adding a new constant here and a check in the evaluator.
type Condition string

// CondSuperuser is currently the only defined condition.
const CondSuperuser Condition = "superuser"

// KnownCondition reports whether the given name is a defined condition.
func KnownCondition(name string) bool {
	return Condition(name) == CondSuperuser
}
