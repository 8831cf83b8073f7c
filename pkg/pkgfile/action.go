// SPDX-License-Identifier: MPL-2.0

package pkgfile

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ActionType is the closed set of tags an action record may carry. Unknown
// tags reject the whole descriptor at load time.
type ActionType string

const (
	ActionCopy         ActionType = "copy"
	ActionCopyTree     ActionType = "copy tree"
	ActionMakeDirs     ActionType = "make dirs"
	ActionRemove       ActionType = "remove"
	ActionRemoveDirs   ActionType = "remove dirs"
	ActionRemoveTree   ActionType = "remove tree"
	ActionReplace      ActionType = "replace"
	ActionRestore      ActionType = "restore"
	ActionSymlink      ActionType = "symlink"
	ActionPrint        ActionType = "print"
	ActionShell        ActionType = "shell"
	ActionShellAll     ActionType = "shell all"
	ActionShellAny     ActionType = "shell any"
	ActionGitClone     ActionType = "git clone"
	ActionCopyResource ActionType = "copy resource"
)

// phaseActions lists which action types each phase accepts. Prepare is
// restricted to scratch-directory work, uninstall to reversal work.
var phaseActions = map[Phase][]ActionType{
	PhasePrepare: {
		ActionPrint, ActionShell, ActionShellAll, ActionShellAny,
		ActionGitClone, ActionCopyResource, ActionMakeDirs,
	},
	PhaseInstall: {
		ActionCopy, ActionCopyTree, ActionMakeDirs, ActionRemove,
		ActionRemoveTree, ActionReplace, ActionSymlink,
		ActionPrint, ActionShell, ActionShellAll, ActionShellAny,
	},
	PhaseUninstall: {
		ActionRemove, ActionRemoveDirs, ActionRemoveTree, ActionRestore,
		ActionPrint, ActionShell, ActionShellAll, ActionShellAny,
	},
}

// Action is one decoded action record. Only the argument fields meaningful
// for the record's Type are set; Validate enforces the per-type shape.
type Action struct {
	Type ActionType `yaml:"action" json:"action"`

	// File/Files name the source(s) of copy, symlink and replace, or the
	// target(s) of remove and restore. Exactly one of the two may be set.
	File  string   `yaml:"file" json:"file,omitempty"`
	Files []string `yaml:"files" json:"files,omitempty"`
	// To is the destination path or directory of copy, copy tree and symlink.
	To string `yaml:"to" json:"to,omitempty"`
	// From prefixes relative source paths.
	From string `yaml:"from" json:"from,omitempty"`
	// Prefix is prepended to every destination file name.
	Prefix string `yaml:"prefix" json:"prefix,omitempty"`
	// Relative makes a symlink point at a path relative to its own directory.
	Relative bool `yaml:"relative" json:"relative,omitempty"`
	// Dirs names the directories of make dirs and remove dirs.
	Dirs []string `yaml:"dirs" json:"dirs,omitempty"`
	// Dir names the source of copy tree and the target of remove tree.
	Dir string `yaml:"dir" json:"dir,omitempty"`
	// Where optionally anchors relative remove targets.
	Where string `yaml:"where" json:"where,omitempty"`
	// At is the destination directory or path of replace.
	At string `yaml:"at" json:"at,omitempty"`
	// WithFile/WithFiles name the replacement source(s) of replace.
	WithFile  string   `yaml:"with file" json:"with_file,omitempty"`
	WithFiles []string `yaml:"with files" json:"with_files,omitempty"`
	// IgnoreMissing suppresses the error when a remove target does not exist.
	IgnoreMissing bool `yaml:"ignore missing" json:"ignore_missing,omitempty"`
	// Text is the message of print.
	Text string `yaml:"text" json:"text,omitempty"`
	// Command is the single command of shell.
	Command string `yaml:"command" json:"command,omitempty"`
	// Commands are the ordered commands of shell all and shell any.
	Commands []string `yaml:"commands" json:"commands,omitempty"`
	// Repository is the clone URL of git clone.
	Repository string `yaml:"repository" json:"repository,omitempty"`
	// Path is the package-relative resource path of copy resource.
	Path string `yaml:"path" json:"path,omitempty"`

	If    []string `yaml:"if" json:"if,omitempty"`
	IfNot []string `yaml:"if not" json:"if_not,omitempty"`

	// Transform carries per-transformer configuration, keyed by transformer
	// name. Setting a transformer to false opts the action out of it.
	Transform map[string]TransformConfig `yaml:"$transform" json:"transform,omitempty"`
}

// TransformConfig is the per-action configuration of one transformer. In the
// descriptor it may be written either as a bare bool or as a mapping with an
// optional "enabled" key.
type TransformConfig struct {
	Enabled bool `json:"enabled"`
}

// UnmarshalYAML accepts both the bool and the mapping form.
func (c *TransformConfig) UnmarshalYAML(value *yaml.Node) error {
	var asBool bool
	if err := value.Decode(&asBool); err == nil {
		c.Enabled = asBool
		return nil
	}
	var asMap struct {
		Enabled *bool `yaml:"enabled"`
	}
	if err := value.Decode(&asMap); err != nil {
		return fmt.Errorf("$transform entries must be a bool or a mapping: %w", err)
	}
	c.Enabled = asMap.Enabled == nil || *asMap.Enabled
	return nil
}

// TransformEnabled reports whether the action allows the named transformer to
// rewrite it. Absent configuration means allowed.
func (a *Action) TransformEnabled(name string) bool {
	cfg, ok := a.Transform[name]
	return !ok || cfg.Enabled
}

// allowedIn reports whether the action type may appear in the given phase.
func (t ActionType) allowedIn(phase Phase) bool {
	for _, allowed := range phaseActions[phase] {
		if t == allowed {
			return true
		}
	}
	return false
}

// Validate checks the per-type argument shape of the action and that the
// action may appear in the given phase. It runs at descriptor load time so
// that a malformed action is rejected before any action of the package runs.
func (a *Action) Validate(phase Phase) error {
	if a.Type == "" {
		return fmt.Errorf("action record has no 'action' tag")
	}
	if !a.Type.allowedIn(phase) {
		if _, known := actionKnown(a.Type); !known {
			return fmt.Errorf("unknown action %q", a.Type)
		}
		return fmt.Errorf("action %q is not allowed in the %s phase", a.Type, phase)
	}

	oneSource := func(file string, files []string) error {
		if file != "" && len(files) > 0 {
			return fmt.Errorf("%q must specify either 'file' or 'files', not both", a.Type)
		}
		if file == "" && len(files) == 0 {
			return fmt.Errorf("%q requires 'file' or 'files'", a.Type)
		}
		return nil
	}

	switch a.Type {
	case ActionCopy, ActionSymlink:
		if err := oneSource(a.File, a.Files); err != nil {
			return err
		}
		if a.To == "" {
			return fmt.Errorf("%q requires 'to'", a.Type)
		}
		if a.File != "" && a.Prefix != "" {
			return fmt.Errorf("%q with a single 'file' must name the full destination in 'to' instead of using 'prefix'", a.Type)
		}
		if a.Type == ActionCopy && a.Relative {
			return fmt.Errorf("a 'relative' copy is meaningless")
		}
	case ActionCopyTree:
		if a.Dir == "" || a.To == "" {
			return fmt.Errorf("%q requires 'dir' and 'to'", a.Type)
		}
	case ActionMakeDirs, ActionRemoveDirs:
		if len(a.Dirs) == 0 {
			return fmt.Errorf("%q requires 'dirs'", a.Type)
		}
	case ActionRemove, ActionRestore:
		if err := oneSource(a.File, a.Files); err != nil {
			return err
		}
	case ActionRemoveTree:
		if a.Dir == "" {
			return fmt.Errorf("%q requires 'dir'", a.Type)
		}
	case ActionReplace:
		if a.WithFile != "" && len(a.WithFiles) > 0 {
			return fmt.Errorf("%q must specify either 'with file' or 'with files', not both", a.Type)
		}
		if a.WithFile == "" && len(a.WithFiles) == 0 {
			return fmt.Errorf("%q requires 'with file' or 'with files'", a.Type)
		}
		if a.At == "" {
			return fmt.Errorf("%q requires 'at'", a.Type)
		}
	case ActionPrint:
		if a.Text == "" {
			return fmt.Errorf("%q requires 'text'", a.Type)
		}
	case ActionShell:
		if a.Command == "" {
			return fmt.Errorf("%q requires 'command'", a.Type)
		}
	case ActionShellAll, ActionShellAny:
		if len(a.Commands) == 0 {
			return fmt.Errorf("%q requires 'commands'", a.Type)
		}
	case ActionGitClone:
		if a.Repository == "" {
			return fmt.Errorf("%q requires 'repository'", a.Type)
		}
	case ActionCopyResource:
		if a.Path == "" {
			return fmt.Errorf("%q requires 'path'", a.Type)
		}
	}

	for _, name := range a.If {
		if !KnownCondition(name) {
			return fmt.Errorf("unknown condition %q in 'if'", name)
		}
	}
	for _, name := range a.IfNot {
		if !KnownCondition(name) {
			return fmt.Errorf("unknown condition %q in 'if not'", name)
		}
	}
	return nil
}

// actionKnown reports whether t is a member of the closed action set in any
// phase.
func actionKnown(t ActionType) (Phase, bool) {
	for phase, types := range phaseActions {
		for _, known := range types {
			if t == known {
				return phase, true
			}
		}
	}
	return "", false
}
