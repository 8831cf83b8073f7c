// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for dotctl.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"dotctl/internal/config"
	"dotctl/internal/dag"
	"dotctl/internal/issue"
	"dotctl/internal/resolve"
	"dotctl/internal/state"
	"dotctl/pkg/pkgfile"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"

	// Verbose enables verbose output
	verbose bool
	// sourceFilter restricts discovery to one configured source
	sourceFilter string
	// transformNames holds the transformers enabled for this invocation
	transformNames []string

	// rootCmd represents the base command when called without any subcommands.
	// Running it bare lists the discoverable packages.
	rootCmd = &cobra.Command{
		Use:   "dotctl",
		Short: "A declarative dotfiles and environment provisioner",
		Long: TitleStyle.Render("dotctl") + SubtitleStyle.Render(" - A declarative dotfiles and environment provisioner") + `

dotctl installs configuration packages discovered under prioritized
source directories. A package is any directory holding a package.yaml
descriptor that names its dependencies, conditions, and the ordered
actions of its prepare, install and uninstall phases. Everything an
install overwrites is archived first, so uninstalling restores the
machine to its pre-install state.

` + SubtitleStyle.Render("Quick Start:") + `
  1. Register the directory that holds your packages:
     dotctl sources add ~/.dotfiles
  2. See what is available: dotctl list
  3. Install a package: dotctl install shells.bash

` + SubtitleStyle.Render("Examples:") + `
  dotctl                        List all discoverable packages
  dotctl install shells.bash    Install the 'shells.bash' package
  dotctl install 'editors.*'    Install every package in the group
  dotctl uninstall shells.bash  Revert a previous install
  dotctl sources list           Show the configured package sources`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd, nil)
		},
	}
)

func init() {
	cobra.OnInitialize(initRootConfig)

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&sourceFilter, "source", "", "restrict discovery to one configured source")
	rootCmd.PersistentFlags().StringArrayVar(&transformNames, "transform", nil, "enable a named transformer (repeatable)")

	// Add subcommands
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(uninstallCmd)
	rootCmd.AddCommand(sourcesCmd)
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Use fang.Execute for enhanced Cobra styling
	// Pass version via fang.WithVersion() since fang overrides rootCmd.Version
	if err := fang.Execute(
		context.Background(),
		rootCmd,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// initRootConfig reads in the config file if one exists.
func initRootConfig() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+formatErrorForDisplay(err, verbose))
	}

	// Apply verbose from config if not set via flag
	if cfg != nil && !verbose {
		verbose = cfg.Verbose
	}
	if verbose {
		log.SetLevel(log.DebugLevel)
	}
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}

// reportIssue renders the guidance page for a known failure class to stderr.
// Rendering problems fall back to the raw markdown.
func reportIssue(id issue.Id) {
	i := issue.Get(id)
	if i == nil {
		return
	}
	rendered, err := i.Render("auto")
	if err != nil {
		rendered = string(i.MarkdownMsg())
	}
	fmt.Fprintln(os.Stderr, rendered)
}

// classifyIssue maps planning and state errors onto the guidance page that
// explains them. Zero means no page applies.
func classifyIssue(err error) issue.Id {
	var (
		unknown    *resolve.UnknownPackageError
		support    *resolve.SupportPackageError
		cycle      *dag.CycleError
		locked     *state.LockedError
		notInst    *state.NotInstalledError
		descriptor *pkgfile.DescriptorError
		superuser  *PrivilegeError
	)
	switch {
	case errors.As(err, &unknown):
		return issue.PackageNotFoundId
	case errors.As(err, &descriptor):
		return issue.DescriptorParseErrorId
	case errors.As(err, &support):
		return issue.SupportPackageRequestedId
	case errors.As(err, &cycle):
		return issue.DependencyCycleId
	case errors.As(err, &locked):
		return issue.StateLockedId
	case errors.As(err, &notInst):
		return issue.PackageNotFoundId
	case errors.As(err, &superuser):
		return issue.SuperuserRequiredId
	}
	return 0
}

// fail wraps err into an ExitError after printing its guidance page, if any.
func fail(err error) error {
	if err == nil {
		return nil
	}
	if id := classifyIssue(err); id != 0 {
		reportIssue(id)
	}
	return &ExitError{Code: 1, Err: err}
}

// PrivilegeError reports a package that requires superuser privileges the
// session could not acquire.
type PrivilegeError struct {
	Package string
}

func (e *PrivilegeError) Error() string {
	return fmt.Sprintf("package %q requires superuser privileges", e.Package)
}
