// SPDX-License-Identifier: MPL-2.0

package pkgfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DescriptorError indicates that a package.yaml is malformed or violates the
// descriptor schema. It aborts only the affected package's discovery, never
// the whole source scan.
type DescriptorError struct {
	// Name is the logical package name, if it could be derived.
	Name string
	// Path is the descriptor file path.
	Path string
	// Cause is the underlying decode or validation error.
	Cause error
}

func (e *DescriptorError) Error() string {
	who := e.Name
	if who == "" {
		who = e.Path
	}
	return fmt.Sprintf("package %q: invalid descriptor: %v", who, e.Cause)
}

func (e *DescriptorError) Unwrap() error { return e.Cause }

// rawDescriptor mirrors Descriptor for decoding so that absent optional keys
// can be told apart from explicit zero values.
type rawDescriptor struct {
	Description    string   `yaml:"description"`
	Dependencies   []string `yaml:"dependencies"`
	DependOnParent *bool    `yaml:"depend on parent"`
	Superuser      bool     `yaml:"superuser"`
	Support        bool     `yaml:"support"`
	If             []string `yaml:"if"`
	IfNot          []string `yaml:"if not"`
	Prepare        []Action `yaml:"prepare"`
	Install        []Action `yaml:"install"`
	Uninstall      []Action `yaml:"uninstall"`
}

// Parse reads and validates the descriptor file at path. The name is the
// logical package name the descriptor was discovered under and root the
// source root's name; both are recorded on the returned Descriptor.
func Parse(path, name, root string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DescriptorError{Name: name, Path: path, Cause: err}
	}
	d, err := Decode(data, name)
	if err != nil {
		return nil, &DescriptorError{Name: name, Path: path, Cause: err}
	}
	d.Dir = dirOf(path)
	d.Root = root
	return d, nil
}

// Decode decodes and validates descriptor bytes. Unknown keys, unknown action
// tags, unknown condition names and wrongly shaped arguments are all errors;
// nothing is deferred to execution time.
func Decode(data []byte, name string) (*Descriptor, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var raw rawDescriptor
	if err := dec.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	d := &Descriptor{
		Name:           name,
		Description:    raw.Description,
		Dependencies:   raw.Dependencies,
		DependOnParent: raw.DependOnParent == nil || *raw.DependOnParent,
		Superuser:      raw.Superuser,
		Support:        raw.Support,
		If:             raw.If,
		IfNot:          raw.IfNot,
		Prepare:        raw.Prepare,
		Install:        raw.Install,
		Uninstall:      raw.Uninstall,
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// Validate checks the descriptor-level invariants and every action of every
// phase.
func (d *Descriptor) Validate() error {
	if d.IsSupport() && len(d.Uninstall) > 0 {
		return fmt.Errorf("package is marked as support but has an 'uninstall' section")
	}
	for _, name := range d.If {
		if !KnownCondition(name) {
			return fmt.Errorf("unknown condition %q in 'if'", name)
		}
	}
	for _, name := range d.IfNot {
		if !KnownCondition(name) {
			return fmt.Errorf("unknown condition %q in 'if not'", name)
		}
	}
	for _, phase := range []Phase{PhasePrepare, PhaseInstall, PhaseUninstall} {
		for i, action := range d.Actions(phase) {
			if err := action.Validate(phase); err != nil {
				return fmt.Errorf("%s action #%d: %w", phase, i, err)
			}
		}
	}
	return nil
}

func dirOf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.Dir(path)
}
