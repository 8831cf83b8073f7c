// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dotctl/internal/backup"
	"dotctl/internal/condition"
	"dotctl/pkg/pkgfile"
)

// testContext builds an install-phase context over a fresh package directory
// with an archive and a recorder attached.
func testContext(t *testing.T, phase pkgfile.Phase) (*Context, *backup.Recorder) {
	t.Helper()
	pkgDir := t.TempDir()
	exp := NewExpander()
	exp.Register("PACKAGE_DIR", pkgDir)

	rec := &backup.Recorder{}
	ctx := &Context{
		Package:  &pkgfile.Descriptor{Name: "test.pkg", Dir: pkgDir},
		Phase:    phase,
		BaseDir:  pkgDir,
		Expander: exp,
		Checker:  condition.NewStatic(false),
		Archive:  backup.New(t.TempDir()),
		Out:      &bytes.Buffer{},
	}
	if phase == pkgfile.PhaseInstall {
		ctx.Recorder = rec
	}
	return ctx, rec
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestCopySingleFile(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)
	writeFile(t, filepath.Join(ctx.BaseDir, "bashrc"), "export A=1")
	dest := filepath.Join(t.TempDir(), ".bashrc")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionCopy, File: "bashrc", To: dest},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "export A=1" {
		t.Errorf("copied content = %q", got)
	}

	inv := rec.Actions()
	if len(inv) != 1 || inv[0].Type != pkgfile.ActionRemove || inv[0].File != dest {
		t.Errorf("expected a remove inverse for %q, got %+v", dest, inv)
	}
}

func TestCopyFilesWithPrefixIntoDirectory(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)
	writeFile(t, filepath.Join(ctx.BaseDir, "one"), "1")
	writeFile(t, filepath.Join(ctx.BaseDir, "two"), "2")
	destDir := t.TempDir()

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionCopy, Files: []string{"one", "two"}, To: destDir, Prefix: "dot-"},
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"dot-one", "dot-two"} {
		if _, err := os.Stat(filepath.Join(destDir, name)); err != nil {
			t.Errorf("expected %q in destination: %v", name, err)
		}
	}

	inv := rec.Actions()
	if len(inv) != 1 || inv[0].Type != pkgfile.ActionRemove || len(inv[0].Files) != 2 {
		t.Fatalf("expected one remove inverse for both files, got %+v", inv)
	}
}

func TestCopyIntoMissingDirectoryFails(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t, pkgfile.PhaseInstall)
	writeFile(t, filepath.Join(ctx.BaseDir, "f"), "x")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionCopy, Files: []string{"f"}, To: filepath.Join(t.TempDir(), "gone")},
	})
	var actionErr *ActionError
	if !errors.As(err, &actionErr) {
		t.Fatalf("expected ActionError, got %v", err)
	}
	if actionErr.Package != "test.pkg" || actionErr.Phase != pkgfile.PhaseInstall || actionErr.Index != 0 {
		t.Errorf("error lacks context: %+v", actionErr)
	}
}

func TestSymlinkRelative(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t, pkgfile.PhaseInstall)
	source := filepath.Join(ctx.BaseDir, "gitconfig")
	writeFile(t, source, "[user]")
	dest := filepath.Join(t.TempDir(), ".gitconfig")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionSymlink, File: "gitconfig", To: dest, Relative: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	pointsTo, err := os.Readlink(dest)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.IsAbs(pointsTo) {
		t.Errorf("relative symlink must not point at an absolute path, got %q", pointsTo)
	}
	resolved, err := filepath.EvalSymlinks(dest)
	if err != nil {
		t.Fatal(err)
	}
	want, _ := filepath.EvalSymlinks(source)
	if resolved != want {
		t.Errorf("link resolves to %q, want %q", resolved, want)
	}
}

func TestSymlinkIntoDirectoryKeepsFileName(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)
	writeFile(t, filepath.Join(ctx.BaseDir, "theme.conf"), "dark")
	destDir := t.TempDir()

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionSymlink, File: "theme.conf", To: destDir},
	})
	if err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(destDir, "theme.conf")
	if _, err := os.Readlink(link); err != nil {
		t.Fatalf("expected symlink at %q: %v", link, err)
	}
	inv := rec.Actions()
	if len(inv) != 1 || inv[0].File != link {
		t.Errorf("inverse must remove the created link path, got %+v", inv)
	}
}

func TestConditionSkipContinues(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t, pkgfile.PhaseInstall)
	writeFile(t, filepath.Join(ctx.BaseDir, "f"), "x")
	dest := filepath.Join(t.TempDir(), "f")

	// The first action is gated on an unsatisfied condition; the second must
	// still run.
	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionShell, Command: "exit 1", If: []string{"superuser"}},
		{Type: pkgfile.ActionCopy, File: "f", To: dest},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dest); err != nil {
		t.Errorf("second action must have executed: %v", err)
	}
}

func TestMakeDirsRecordsComponents(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)
	root := t.TempDir()
	deep := filepath.Join(root, "a", "b", "c")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionMakeDirs, Dirs: []string{deep}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if info, err := os.Stat(deep); err != nil || !info.IsDir() {
		t.Fatalf("directory chain not created: %v", err)
	}

	inv := rec.Actions()
	if len(inv) != 1 || inv[0].Type != pkgfile.ActionRemoveDirs {
		t.Fatalf("expected remove dirs inverse, got %+v", inv)
	}
	if len(inv[0].Dirs) == 0 || inv[0].Dirs[0] != deep {
		t.Errorf("components must start with the deepest dir, got %v", inv[0].Dirs)
	}
}

func TestRemoveArchivesAndRecordsRestore(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)
	victim := filepath.Join(t.TempDir(), "old.conf")
	writeFile(t, victim, "precious")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionRemove, File: victim},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(victim); !os.IsNotExist(err) {
		t.Fatal("file must be gone after remove")
	}
	if !ctx.Archive.Has(victim) {
		t.Error("removed file must be archived first")
	}
	inv := rec.Actions()
	if len(inv) != 1 || inv[0].Type != pkgfile.ActionRestore || inv[0].File != victim {
		t.Fatalf("expected restore inverse, got %+v", inv)
	}

	// Replaying the inverse brings back the exact content.
	unctx := &Context{
		Package:  ctx.Package,
		Phase:    pkgfile.PhaseUninstall,
		BaseDir:  ctx.BaseDir,
		Expander: ctx.Expander,
		Checker:  ctx.Checker,
		Archive:  ctx.Archive,
	}
	if err := Execute(unctx, inv); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(victim)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "precious" {
		t.Errorf("restored content = %q, want %q", got, "precious")
	}
}

func TestRemoveMissingTargetTolerated(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionRemove, File: filepath.Join(t.TempDir(), "never-existed")},
	})
	if err != nil {
		t.Fatalf("removing a nonexistent file must not fail: %v", err)
	}
	if !rec.Empty() {
		t.Errorf("nothing existed, nothing to restore, got %+v", rec.Actions())
	}
}

func TestReplaceRoundTrip(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)
	writeFile(t, filepath.Join(ctx.BaseDir, "new.conf"), "new content")
	target := filepath.Join(t.TempDir(), "app.conf")
	writeFile(t, target, "original content")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionReplace, WithFile: "new.conf", At: target},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(target)
	if string(got) != "new content" {
		t.Fatalf("replace did not write the new content, got %q", got)
	}

	inv := rec.Actions()
	if len(inv) != 1 || inv[0].Type != pkgfile.ActionRestore {
		t.Fatalf("expected restore inverse, got %+v", inv)
	}
	unctx := &Context{
		Package:  ctx.Package,
		Phase:    pkgfile.PhaseUninstall,
		BaseDir:  ctx.BaseDir,
		Expander: ctx.Expander,
		Checker:  ctx.Checker,
		Archive:  ctx.Archive,
	}
	if err := Execute(unctx, inv); err != nil {
		t.Fatal(err)
	}
	got, _ = os.ReadFile(target)
	if string(got) != "original content" {
		t.Errorf("uninstall must restore the prior bytes, got %q", got)
	}
}

func TestReplaceOnNewPathRecordsNothing(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)
	writeFile(t, filepath.Join(ctx.BaseDir, "new.conf"), "new")
	target := filepath.Join(t.TempDir(), "fresh.conf")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionReplace, WithFile: "new.conf", At: target},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Empty() {
		t.Errorf("no prior content existed, nothing to restore, got %+v", rec.Actions())
	}
}

func TestCopyTreeAndRemoveTree(t *testing.T) {
	t.Parallel()
	ctx, rec := testContext(t, pkgfile.PhaseInstall)
	writeFile(t, filepath.Join(ctx.BaseDir, "skel", "colors", "dark.vim"), "hi")
	dest := filepath.Join(t.TempDir(), "vimfiles")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionCopyTree, Dir: "skel", To: dest},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dest, "colors", "dark.vim")); err != nil {
		t.Fatalf("tree content missing: %v", err)
	}

	inv := rec.Actions()
	if len(inv) != 1 || inv[0].Type != pkgfile.ActionRemoveTree || inv[0].Dir != dest {
		t.Fatalf("expected remove tree inverse, got %+v", inv)
	}
	unctx := &Context{
		Package: ctx.Package, Phase: pkgfile.PhaseUninstall,
		BaseDir: ctx.BaseDir, Expander: ctx.Expander,
		Checker: ctx.Checker, Archive: ctx.Archive,
	}
	if err := Execute(unctx, inv); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("tree must be gone after the inverse ran")
	}
}

func TestRemoveTreeRequiresDirectory(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t, pkgfile.PhaseUninstall)
	file := filepath.Join(t.TempDir(), "plain")
	writeFile(t, file, "x")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionRemoveTree, Dir: file},
	})
	if err == nil {
		t.Fatal("remove tree on a plain file must fail")
	}
}

func TestRemoveDirsOnlyDeletesEmpty(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t, pkgfile.PhaseUninstall)
	root := t.TempDir()
	empty := filepath.Join(root, "empty")
	full := filepath.Join(root, "full")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(full, "keep"), "x")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionRemoveDirs, Dirs: []string{empty, full}},
	})
	if err != nil {
		t.Fatalf("remove dirs never fails the phase: %v", err)
	}
	if _, err := os.Stat(empty); !os.IsNotExist(err) {
		t.Error("empty directory must be removed")
	}
	if _, err := os.Stat(full); err != nil {
		t.Error("non-empty directory must survive")
	}
}

func TestShellSemantics(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		action  pkgfile.Action
		wantErr bool
	}{
		{"shell zero exit", pkgfile.Action{Type: pkgfile.ActionShell, Command: "exit 0"}, false},
		{"shell non-zero exit", pkgfile.Action{Type: pkgfile.ActionShell, Command: "exit 3"}, true},
		{"shell all stops at first failure", pkgfile.Action{
			Type: pkgfile.ActionShellAll, Commands: []string{"exit 0", "exit 1", "exit 0"},
		}, true},
		{"shell any succeeds on first success", pkgfile.Action{
			Type: pkgfile.ActionShellAny, Commands: []string{"exit 1", "exit 0"},
		}, false},
		{"shell any fails when all fail", pkgfile.Action{
			Type: pkgfile.ActionShellAny, Commands: []string{"exit 1", "exit 2"},
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx, _ := testContext(t, pkgfile.PhaseInstall)
			err := Execute(ctx, []pkgfile.Action{tt.action})
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr = %v", err, tt.wantErr)
			}
		})
	}
}

func TestShellSeesRegisteredVariables(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t, pkgfile.PhaseInstall)
	marker := filepath.Join(t.TempDir(), "marker")

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionShell, Command: "echo -n \"$PACKAGE_DIR\" > " + marker},
	})
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != ctx.BaseDir {
		t.Errorf("shell saw PACKAGE_DIR=%q, want %q", got, ctx.BaseDir)
	}
}

func TestPrintWritesMessage(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t, pkgfile.PhaseInstall)
	var buf bytes.Buffer
	ctx.Out = &buf

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionPrint, Text: "hello there"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "test.pkg") || !strings.Contains(buf.String(), "hello there") {
		t.Errorf("print output %q must name the package and the text", buf.String())
	}
}

func TestCopyResourceConfinement(t *testing.T) {
	t.Parallel()
	ctx, _ := testContext(t, pkgfile.PhasePrepare)
	writeFile(t, filepath.Join(ctx.Package.Dir, "assets", "logo.txt"), "logo")
	tempDir := t.TempDir()
	ctx.Expander.Register("TEMPORARY_DIR", tempDir)
	ctx.BaseDir = tempDir

	err := Execute(ctx, []pkgfile.Action{
		{Type: pkgfile.ActionCopyResource, Path: filepath.Join("assets", "logo.txt")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "assets", "logo.txt")); err != nil {
		t.Errorf("resource must land on the same relative path: %v", err)
	}

	for _, escape := range []string{"../outside", "."} {
		err := Execute(ctx, []pkgfile.Action{
			{Type: pkgfile.ActionCopyResource, Path: escape},
		})
		if err == nil {
			t.Errorf("resource path %q must be rejected", escape)
		}
	}
}

func TestExpander(t *testing.T) {
	// No t.Parallel: t.Setenv below forbids it.
	exp := NewExpander()
	exp.Register("PACKAGE_DIR", "/pkg")

	if got := exp.Expand("$PACKAGE_DIR/file"); got != "/pkg/file" {
		t.Errorf("Expand = %q", got)
	}
	// Unknown variables keep their literal spelling.
	if got := exp.Expand("$TEMPORARY_DIR/file"); got != "$TEMPORARY_DIR/file" {
		t.Errorf("unset variable must stay literal, got %q", got)
	}
	t.Setenv("DOTCTL_TEST_VALUE", "from-env")
	if got := exp.Expand("$DOTCTL_TEST_VALUE"); got != "from-env" {
		t.Errorf("environment expansion failed, got %q", got)
	}
}
