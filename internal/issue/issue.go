// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	NoSourcesId Id = iota + 1
	PackageNotFoundId
	DescriptorParseErrorId
	DependencyCycleId
	SuperuserRequiredId
	StateLockedId
	ActionFailedId
	SupportPackageRequestedId
)

type MarkdownMsg string

type HttpLink string

type Renderer interface {
	Render(in string, stylePath string) (string, error)
}

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // must never be empty, because we need to have docs about all issue types
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also: "
		for _, link := range i.docLinks {
			extraMd += "- [" + string(link) + "]"
		}
		for _, link := range i.extLinks {
			extraMd += "- [" + string(link) + "]"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	noSourcesIssue = &Issue{
		id: NoSourcesId,
		mdMsg: `
# No package sources configured!

dotctl looks for packages inside the source directories listed in your
configuration, but none are set up yet (or none of them exist on disk).

## Things you can try:
- Register the directory that holds your packages:
~~~
$ dotctl sources add ~/.dotfiles
~~~

- List the sources dotctl currently knows about:
~~~
$ dotctl sources list
~~~

## Expected source layout:
~~~
~/.dotfiles/
  shells/
    bash/
      package.yaml
      bashrc
  editors/
    vim/
      package.yaml
      vimrc
~~~`,
	}

	packageNotFoundIssue = &Issue{
		id: PackageNotFoundId,
		mdMsg: `
# Package not found!

The package you named was not found in any configured source directory.

## Things you can try:
- List every discoverable package:
~~~
$ dotctl list
~~~

- Check for typos in the package name (names are dot-separated, e.g. ` + "`shells.bash`" + `)
- Use a glob to see what a group contains:
~~~
$ dotctl list 'shells.*'
~~~

- If the package lives in a directory dotctl does not know about yet:
~~~
$ dotctl sources add /path/to/that/directory
~~~`,
	}

	descriptorParseErrorIssue = &Issue{
		id: DescriptorParseErrorId,
		mdMsg: `
# Failed to parse a package descriptor!

A package.yaml file contains syntax errors or fields dotctl does not recognize.

## Common issues:
- Invalid YAML syntax (bad indentation, missing colons)
- Unknown field names (descriptors are parsed strictly)
- A condition or action key that is misspelled

## Example of a valid descriptor:
~~~yaml
description: Bash shell configuration
depends:
  - shells
install:
  - copy:
      file: bashrc
      to: $HOME/.bashrc
uninstall:
  - remove:
      file: $HOME/.bashrc
~~~`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected!

Your package dependencies form a cycle, so no valid installation
order exists.

## Example of a cycle:
~~~yaml
# a/package.yaml
depends:
  - b

# b/package.yaml
depends:
  - a      # Cycle: a -> b -> a
~~~

## Things you can try:
- Review the 'depends' lists of the packages named in the error
- Move the shared pieces into a third package both can depend on`,
	}

	superuserRequiredIssue = &Issue{
		id: SuperuserRequiredId,
		mdMsg: `
# Superuser privileges required!

A package in the installation plan declares that it needs superuser
privileges, but dotctl could not acquire them.

## Things you can try:
- Re-run the command so sudo can prompt for your password:
~~~
$ dotctl install <package>
~~~

- Pre-authenticate before running dotctl:
~~~
$ sudo -v
~~~

- Skip privileged packages entirely by leaving them out of the request`,
	}

	stateLockedIssue = &Issue{
		id: StateLockedId,
		mdMsg: `
# The installation state is locked!

Another dotctl process appears to be running, so this one refuses to
touch the shared installation state.

## Things you can try:
- Wait for the other dotctl invocation to finish
- If no other dotctl process is running, a previous run probably
  crashed; remove the stale lock file reported in the error and retry`,
	}

	actionFailedIssue = &Issue{
		id: ActionFailedId,
		mdMsg: `
# A package action failed!

One of the package's actions could not be completed, so processing of
that package (and anything depending on it) stopped.

## Common causes:
- A target path that is not absolute or not writable
- A shell command exiting with a non-zero status
- A source file missing from the package directory

## Things you can try:
- Read the action error above: it names the package, the phase, and the
  position of the failing action in the list
- Run with verbose mode for more details:
~~~
$ dotctl --verbose install <package>
~~~

- Fix the descriptor or the environment and re-run the install`,
	}

	supportPackageRequestedIssue = &Issue{
		id: SupportPackageRequestedId,
		mdMsg: `
# Support packages cannot be requested directly!

The package you named is a support package: it exists only to be pulled
in as a dependency of other packages, and it never appears in the
installed state.

## Things you can try:
- Install a package that depends on it instead
- If the package should be installable on its own, remove the
  'support: true' flag (or the 'internal' name segment) from it`,
	}

	issues = map[Id]*Issue{
		noSourcesIssue.Id():               noSourcesIssue,
		packageNotFoundIssue.Id():         packageNotFoundIssue,
		descriptorParseErrorIssue.Id():    descriptorParseErrorIssue,
		dependencyCycleIssue.Id():         dependencyCycleIssue,
		superuserRequiredIssue.Id():       superuserRequiredIssue,
		stateLockedIssue.Id():             stateLockedIssue,
		actionFailedIssue.Id():            actionFailedIssue,
		supportPackageRequestedIssue.Id(): supportPackageRequestedIssue,
	}
)

func Values() []*Issue {
	return maps.Values(issues)
}

func Get(id Id) *Issue {
	return issues[id]
}
