// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"os"
	"time"

	"dotctl/internal/backup"
	"dotctl/internal/condition"
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

var installCmd = &cobra.Command{
	Use:   "install <package>...",
	Short: "Install packages and their dependencies",
	Long: `Install the named packages, dependency-first.

Names accept group globs ('shells.*' installs every package of the
group). Dependencies are pulled in automatically and installed before
their dependents. Already-installed packages are skipped. Every path an
install overwrites or removes is archived first, so a later uninstall
restores it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInstall,
}

func runInstall(cmd *cobra.Command, args []string) error {
	for _, name := range transformNames {
		if !transform.Known(transform.Normalize(name)) {
			return fail(fmt.Errorf("unknown transformer %q", name))
		}
	}

	ws, err := openWorkspace(sourceFilter)
	if err != nil {
		return fail(err)
	}

	store, err := state.Open(ws.dataDir)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	requested, err := resolve.Expand(ws.catalog, args)
	if err != nil {
		return fail(err)
	}
	for _, name := range requested {
		if store.IsInstalled(name) {
			log.Info("already installed -- skipping", "package", name)
		}
	}

	plan, err := resolve.Plan(ws.catalog, requested, store.IsInstalled)
	if err != nil {
		return fail(err)
	}
	if len(plan) == 0 {
		log.Info("nothing to install")
		return nil
	}

	// One up-front privilege probe when anything in the plan wants it, so the
	// sudo prompt does not interrupt the middle of an install.
	elevated := false
	for _, desc := range plan {
		if desc.Superuser || desc.SuggestsSuperuser() {
			elevated = ws.checker.Superuser()
			break
		}
	}

	sess, err := session.New()
	if err != nil {
		return fail(err)
	}
	defer sess.Close()

	skipped := make(map[string]bool)
	var failed int
	for _, desc := range plan {
		if dep := skippedDependency(desc, skipped); dep != "" {
			log.Warn("skipping package, a dependency was not installed",
				"package", desc.Name, "dependency", dep)
			skipped[desc.Name] = true
			continue
		}
		if desc.Superuser && !elevated {
			perr := &PrivilegeError{Package: desc.Name}
			fmt.Fprintln(os.Stderr, WarningStyle.Render("Warning: ")+perr.Error()+", skipping")
			reportIssue(issue.SuperuserRequiredId)
			skipped[desc.Name] = true
			continue
		}

		if err := installOne(store, sess, ws.checker, desc); err != nil {
			log.Error("package installation failed",
				"package", desc.Name, "err", formatErrorForDisplay(err, verbose))
			skipped[desc.Name] = true
			failed++
			continue
		}
		log.Info("installed", "package", desc.Name)
	}

	if failed > 0 {
		reportIssue(issue.ActionFailedId)
		return &ExitError{Code: 1, Err: fmt.Errorf("%d package(s) failed to install", failed)}
	}
	return nil
}

// skippedDependency returns the first effective dependency of desc that was
// skipped earlier in the run, or "".
func skippedDependency(desc *pkgfile.Descriptor, skipped map[string]bool) string {
	for _, dep := range desc.EffectiveDependencies() {
		if skipped[dep] {
			return dep
		}
	}
	return ""
}

// installOne runs the prepare and install phases of one package and records
// the result. A failed install is rolled back from the actions and snapshots
// recorded up to the failure, so a package is either installed or absent.
func installOne(store *state.Store, sess *session.Session, checker *condition.Checker, desc *pkgfile.Descriptor) error {
	tempDir, err := sess.PackageTempDir(desc.Name)
	if err != nil {
		return err
	}
	defer sess.ReleasePackage(desc.Name)

	exp := engine.NewExpander()
	exp.Register("SESSION_DIR", sess.Dir())
	exp.Register("PACKAGE_DIR", desc.Dir)
	exp.Register("TEMPORARY_DIR", tempDir)

	prepare, err := transform.Apply(pkgfile.PhasePrepare, desc.Prepare, transformNames)
	if err != nil {
		return err
	}
	install, err := transform.Apply(pkgfile.PhaseInstall, desc.Install, transformNames)
	if err != nil {
		return err
	}

	if len(prepare) > 0 {
		pctx := &engine.Context{
			Package:  desc,
			Phase:    pkgfile.PhasePrepare,
			BaseDir:  tempDir,
			Expander: exp,
			Checker:  checker,
		}
		if err := engine.Execute(pctx, prepare); err != nil {
			return issue.Wrap(err, fmt.Sprintf("prepare package %q", desc.Name), desc.Dir,
				"Re-run with --verbose for the full error chain")
		}
	}

	archiveDir := store.NewArchiveDir(desc.Name)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return err
	}
	archive := backup.New(archiveDir)
	recorder := &backup.Recorder{}

	ictx := &engine.Context{
		Package:  desc,
		Phase:    pkgfile.PhaseInstall,
		BaseDir:  desc.Dir,
		Expander: exp,
		Checker:  checker,
		Archive:  archive,
		Recorder: recorder,
	}
	if err := engine.Execute(ictx, install); err != nil {
		rollback(desc, exp, checker, archive, recorder)
		return issue.Wrap(err, fmt.Sprintf("install package %q", desc.Name), desc.Dir,
			"Check the failing action in the package's install section",
			"Re-run with --verbose for the full error chain")
	}

	if desc.IsSupport() {
		// Support installs are never tracked, so their archive has no future.
		if derr := archive.Delete(); derr != nil {
			log.Warn("failed to delete support package archive", "package", desc.Name, "err", derr)
		}
		return nil
	}

	if err := archive.SnapshotPackageDir(desc.Dir); err != nil {
		return err
	}
	return store.Record(desc, state.InstalledRecord{
		ArchiveDir:  store.ArchiveName(archiveDir),
		Uninstall:   recorder.Actions(),
		InstalledAt: time.Now(),
	})
}

// rollback replays the inverse actions recorded before the failure, undoing
// the partial install. An archive that could not be fully replayed is kept on
// disk for manual recovery.
func rollback(desc *pkgfile.Descriptor, exp *engine.Expander, checker *condition.Checker, archive *backup.Archive, recorder *backup.Recorder) {
	if recorder.Empty() {
		if err := archive.Delete(); err != nil {
			log.Warn("failed to delete archive of failed install", "package", desc.Name, "err", err)
		}
		return
	}

	log.Warn("rolling back partial install", "package", desc.Name)
	uctx := &engine.Context{
		Package:  desc,
		Phase:    pkgfile.PhaseUninstall,
		BaseDir:  desc.Dir,
		Expander: exp,
		Checker:  checker,
		Archive:  archive,
	}
	if err := engine.Execute(uctx, recorder.Actions()); err != nil {
		log.Error("rollback incomplete, archive kept for manual recovery",
			"package", desc.Name, "archive", archive.Dir(), "err", err)
		return
	}
	if err := archive.Delete(); err != nil {
		log.Warn("failed to delete archive of rolled-back install", "package", desc.Name, "err", err)
	}
}
