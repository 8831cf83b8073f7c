// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"dotctl/internal/backup"
	"dotctl/internal/engine"
	"dotctl/internal/issue"
	"dotctl/internal/resolve"
	"dotctl/internal/session"
	"dotctl/internal/state"
	"dotctl/internal/transform"
	"dotctl/pkg/pkgfile"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall <package>...",
	Short: "Uninstall packages and restore what they replaced",
	Long: `Uninstall the named packages, dependents-first.

Installed packages that depend on a named package are uninstalled too,
before their dependency comes down. The package's own uninstall actions
run first, then the inverse of every recorded install action; files the
install overwrote are restored from the archive. Uninstalling works even
after the package's source directory is gone, against the snapshot taken
at install time.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUninstall,
}

func runUninstall(cmd *cobra.Command, args []string) error {
	ws, err := openWorkspace(sourceFilter)
	if err != nil {
		return fail(err)
	}

	store, err := state.Open(ws.dataDir)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	// Packages whose source is gone resolve against the snapshot taken at
	// install time.
	ws.catalog.LoadInstalled(store.Installed(), func(name string) string {
		record, err := store.Lookup(name)
		if err != nil {
			return ""
		}
		return backup.New(store.ArchivePath(record)).PackageDir()
	})

	requested, err := resolve.Expand(ws.catalog, args)
	if err != nil {
		return fail(err)
	}
	for _, name := range requested {
		if !store.IsInstalled(name) {
			return fail(&state.NotInstalledError{Name: name})
		}
	}

	plan, err := resolve.ReversePlan(ws.catalog, requested, store.Installed())
	if err != nil {
		return fail(err)
	}

	sess, err := session.New()
	if err != nil {
		return fail(err)
	}
	defer sess.Close()

	for _, desc := range plan {
		if !store.IsInstalled(desc.Name) {
			continue
		}
		if err := uninstallOne(store, sess, ws, desc); err != nil {
			// A dependent that failed to come down blocks its dependencies:
			// removing them anyway would leave the dependent broken.
			reportIssue(issue.ActionFailedId)
			return &ExitError{Code: 1, Err: fmt.Errorf("uninstall of %q failed, leaving its dependencies installed: %w", desc.Name, err)}
		}
		log.Info("uninstalled", "package", desc.Name)
	}
	return nil
}

// uninstallOne reverses one installed package: its explicit uninstall actions
// first, then the recorded inverse log. The archive and the installed record
// disappear only after both succeed.
func uninstallOne(store *state.Store, sess *session.Session, ws *workspace, desc *pkgfile.Descriptor) error {
	record, err := store.Lookup(desc.Name)
	if err != nil {
		return err
	}
	archive := backup.New(store.ArchivePath(record))

	// Uninstall runs against the descriptor-directory snapshot: both the
	// package resources and the uninstall directives themselves are the ones
	// archived at install time, not whatever the source holds today.
	baseDir := desc.Dir
	directives := desc.Uninstall
	if archive.HasPackageDir() {
		baseDir = archive.PackageDir()
		snap, err := pkgfile.Parse(filepath.Join(baseDir, pkgfile.DescriptorName), desc.Name, desc.Root)
		if err != nil {
			log.Warn("archived descriptor unreadable, falling back to the source descriptor",
				"package", desc.Name, "err", err)
		} else {
			directives = snap.Uninstall
		}
	}

	exp := engine.NewExpander()
	exp.Register("SESSION_DIR", sess.Dir())
	exp.Register("PACKAGE_DIR", baseDir)

	actions, err := transform.Apply(pkgfile.PhaseUninstall, directives, transformNames)
	if err != nil {
		return err
	}

	ctx := &engine.Context{
		Package:  desc,
		Phase:    pkgfile.PhaseUninstall,
		BaseDir:  baseDir,
		Expander: exp,
		Checker:  ws.checker,
		Archive:  archive,
	}
	if err := engine.Execute(ctx, actions); err != nil {
		return issue.Wrap(err, fmt.Sprintf("uninstall package %q", desc.Name), baseDir,
			"Re-run with --verbose for the full error chain")
	}
	// The recorded list is already in replay order (inverses were prepended
	// as their actions executed).
	if err := engine.Execute(ctx, record.Uninstall); err != nil {
		return issue.Wrap(err, fmt.Sprintf("restore files replaced by %q", desc.Name), archive.Dir(),
			"The archive is kept on disk; the paths it holds can be restored by hand")
	}

	if err := archive.Delete(); err != nil {
		log.Warn("failed to delete archive", "package", desc.Name, "archive", archive.Dir(), "err", err)
	}
	return store.Forget(desc.Name)
}
