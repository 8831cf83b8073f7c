// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dotctl/internal/config"
	"dotctl/internal/issue"
	"dotctl/internal/resolve"
	"dotctl/internal/state"
	"dotctl/pkg/pkgfile"
)

// setupWorkspace redirects the config and data directories into the test's
// temp space and registers one local source rooted at the returned directory.
// Global flag state is reset so tests do not leak into each other.
func setupWorkspace(t *testing.T) (sourceDir, dataDir string) {
	t.Helper()

	cfgDir := t.TempDir()
	dataDir = t.TempDir()
	sourceDir = t.TempDir()
	config.SetDirOverrides(cfgDir, dataDir)
	t.Cleanup(func() { config.SetDirOverrides("", "") })

	sourcesFile := filepath.Join(cfgDir, config.SourcesFileName)
	contents := "[[source]]\nname = \"test\"\ntype = \"local\"\ndirectory = \"" + sourceDir + "\"\n"
	if err := os.WriteFile(sourcesFile, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	sourceFilter = ""
	transformNames = nil
	return sourceDir, dataDir
}

// writePackage creates a package directory with a descriptor and resource
// files under the source root.
func writePackage(t *testing.T, sourceDir, name, descriptor string, files map[string]string) {
	t.Helper()
	dir := pkgfile.DirForName(sourceDir, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, pkgfile.DescriptorName), []byte(descriptor), 0o644); err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		if err := os.WriteFile(filepath.Join(dir, rel), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestInstallAndUninstall_RoundTrip(t *testing.T) {
	sourceDir, dataDir := setupWorkspace(t)
	target := t.TempDir()
	t.Setenv("DOTCTL_TEST_TARGET", target)

	// The replace target exists before install; uninstall must bring back
	// its original bytes.
	profile := filepath.Join(target, "profile")
	if err := os.WriteFile(profile, []byte("original profile"), 0o644); err != nil {
		t.Fatal(err)
	}

	writePackage(t, sourceDir, "shells.bash", `
description: bash configuration
install:
  - action: copy
    file: bashrc
    to: $DOTCTL_TEST_TARGET/bashrc
  - action: replace
    at: $DOTCTL_TEST_TARGET/profile
    with file: profile
`, map[string]string{
		"bashrc":  "managed bashrc",
		"profile": "managed profile",
	})

	if err := runInstall(installCmd, []string{"shells.bash"}); err != nil {
		t.Fatalf("runInstall: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(target, "bashrc"))
	if err != nil || string(got) != "managed bashrc" {
		t.Fatalf("copied file = %q, %v", got, err)
	}
	got, err = os.ReadFile(profile)
	if err != nil || string(got) != "managed profile" {
		t.Fatalf("replaced file = %q, %v", got, err)
	}

	store, err := state.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if !store.IsInstalled("shells.bash") {
		t.Fatal("package not recorded as installed")
	}
	record, err := store.Lookup("shells.bash")
	if err != nil {
		t.Fatal(err)
	}
	if len(record.Uninstall) == 0 {
		t.Error("no inverse actions were recorded")
	}
	archiveDir := store.ArchivePath(record)
	if _, err := os.Stat(archiveDir); err != nil {
		t.Fatalf("archive directory missing: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	if err := runUninstall(uninstallCmd, []string{"shells.bash"}); err != nil {
		t.Fatalf("runUninstall: %v", err)
	}

	if _, err := os.Lstat(filepath.Join(target, "bashrc")); !os.IsNotExist(err) {
		t.Errorf("copied file should be removed, err = %v", err)
	}
	got, err = os.ReadFile(profile)
	if err != nil || string(got) != "original profile" {
		t.Fatalf("profile after uninstall = %q, %v; want original bytes back", got, err)
	}
	if _, err := os.Stat(archiveDir); !os.IsNotExist(err) {
		t.Errorf("archive should be deleted after uninstall, err = %v", err)
	}

	store, err = state.Open(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if store.IsInstalled("shells.bash") {
		t.Error("package still recorded after uninstall")
	}
}

func TestInstall_DependencyOrderAndSkip(t *testing.T) {
	sourceDir, _ := setupWorkspace(t)
	target := t.TempDir()
	t.Setenv("DOTCTL_TEST_TARGET", target)

	marker := filepath.Join(target, "order")
	writePackage(t, sourceDir, "lib", `
install:
  - action: shell
    command: echo lib >> $DOTCTL_TEST_TARGET/order
`, nil)
	writePackage(t, sourceDir, "app", `
dependencies:
  - lib
install:
  - action: shell
    command: echo app >> $DOTCTL_TEST_TARGET/order
`, nil)

	if err := runInstall(installCmd, []string{"app"}); err != nil {
		t.Fatalf("runInstall: %v", err)
	}
	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "lib\napp\n" {
		t.Errorf("execution order = %q, want lib before app", got)
	}

	// A second install finds everything installed and does nothing.
	if err := os.Remove(marker); err != nil {
		t.Fatal(err)
	}
	if err := runInstall(installCmd, []string{"app"}); err != nil {
		t.Fatalf("second runInstall: %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Errorf("already-installed package ran again, err = %v", err)
	}
}

func TestInstall_FailureCascadesToDependents(t *testing.T) {
	sourceDir, dataDir := setupWorkspace(t)

	writePackage(t, sourceDir, "base", `
install:
  - action: shell
    command: exit 1
`, nil)
	writePackage(t, sourceDir, "child", `
dependencies:
  - base
install:
  - action: print
    text: should never run
`, nil)

	err := runInstall(installCmd, []string{"child"})
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("runInstall error = %v, want ExitError", err)
	}

	store, serr := state.Open(dataDir)
	if serr != nil {
		t.Fatal(serr)
	}
	defer store.Close()
	if store.IsInstalled("base") || store.IsInstalled("child") {
		t.Error("neither package should be recorded as installed")
	}
}

func TestInstall_UnknownPackage(t *testing.T) {
	setupWorkspace(t)

	err := runInstall(installCmd, []string{"no.such.package"})
	if err == nil {
		t.Fatal("expected an error for an unknown package")
	}
	var unknown *resolve.UnknownPackageError
	if !errors.As(err, &unknown) {
		t.Fatalf("error = %v, want UnknownPackageError", err)
	}
	if unknown.Name != "no.such.package" {
		t.Errorf("Name = %q", unknown.Name)
	}
}

func TestInstall_SupportPackageRejected(t *testing.T) {
	sourceDir, _ := setupWorkspace(t)
	writePackage(t, sourceDir, "helpers", `
support: true
install:
  - action: print
    text: helper
`, nil)

	err := runInstall(installCmd, []string{"helpers"})
	var support *resolve.SupportPackageError
	if !errors.As(err, &support) {
		t.Fatalf("error = %v, want SupportPackageError", err)
	}
}

func TestUninstall_NotInstalled(t *testing.T) {
	sourceDir, _ := setupWorkspace(t)
	writePackage(t, sourceDir, "present", `
install:
  - action: print
    text: hi
`, nil)

	err := runUninstall(uninstallCmd, []string{"present"})
	var notInst *state.NotInstalledError
	if !errors.As(err, &notInst) {
		t.Fatalf("error = %v, want NotInstalledError", err)
	}
}

func TestInstall_UnknownTransformer(t *testing.T) {
	setupWorkspace(t)
	transformNames = []string{"frobnicate"}

	err := runInstall(installCmd, []string{"anything"})
	if err == nil {
		t.Fatal("expected an error for an unknown transformer")
	}
}

func TestUninstall_RunsDirectivesArchivedAtInstallTime(t *testing.T) {
	sourceDir, _ := setupWorkspace(t)
	target := t.TempDir()
	t.Setenv("DOTCTL_TEST_TARGET", target)

	writePackage(t, sourceDir, "editors.vim", `
install:
  - action: print
    text: installing
uninstall:
  - action: shell
    command: echo install-time >> $DOTCTL_TEST_TARGET/uninstall.log
`, nil)

	if err := runInstall(installCmd, []string{"editors.vim"}); err != nil {
		t.Fatalf("runInstall: %v", err)
	}

	// Edits to the source descriptor after install must not change what
	// uninstall replays; the snapshot taken at install time governs.
	writePackage(t, sourceDir, "editors.vim", `
install:
  - action: print
    text: installing
uninstall:
  - action: shell
    command: echo edited >> $DOTCTL_TEST_TARGET/uninstall.log
`, nil)

	if err := runUninstall(uninstallCmd, []string{"editors.vim"}); err != nil {
		t.Fatalf("runUninstall: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(target, "uninstall.log"))
	if err != nil {
		t.Fatalf("uninstall log: %v", err)
	}
	if string(got) != "install-time\n" {
		t.Fatalf("uninstall log = %q, want the install-time directive only", got)
	}
}

func TestUninstall_FailureNamesTheOperation(t *testing.T) {
	sourceDir, _ := setupWorkspace(t)

	writePackage(t, sourceDir, "broken", `
install:
  - action: print
    text: installing
uninstall:
  - action: shell
    command: exit 1
`, nil)

	if err := runInstall(installCmd, []string{"broken"}); err != nil {
		t.Fatalf("runInstall: %v", err)
	}

	err := runUninstall(uninstallCmd, []string{"broken"})
	var ae *issue.ActionableError
	if !errors.As(err, &ae) {
		t.Fatalf("error = %v, want an ActionableError", err)
	}
	if !strings.Contains(ae.Operation, "broken") {
		t.Errorf("Operation = %q, want it to name the package", ae.Operation)
	}
}

func TestInstall_MalformedDescriptorReported(t *testing.T) {
	sourceDir, _ := setupWorkspace(t)
	writePackage(t, sourceDir, "mangled", "install:\n  - action: warp\n", nil)

	err := runInstall(installCmd, []string{"mangled"})
	var derr *pkgfile.DescriptorError
	if !errors.As(err, &derr) {
		t.Fatalf("error = %v, want a DescriptorError", err)
	}
}
