// SPDX-License-Identifier: MPL-2.0

package backup

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	"dotctl/pkg/pkgfile"
)

func TestSnapshotAndRestore(t *testing.T) {
	t.Parallel()
	arch := New(t.TempDir())
	live := filepath.Join(t.TempDir(), "bashrc")
	if err := os.WriteFile(live, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := arch.Snapshot("$HOME/.bashrc", live); err != nil {
		t.Fatal(err)
	}
	if !arch.Has("$HOME/.bashrc") {
		t.Fatal("snapshot must be recorded under its key")
	}

	if err := os.WriteFile(live, []byte("clobbered"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := arch.Restore("$HOME/.bashrc", live); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(live)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "original" {
		t.Errorf("restore must bring back the exact prior bytes, got %q", got)
	}
}

func TestSnapshotFirstWriterWins(t *testing.T) {
	t.Parallel()
	arch := New(t.TempDir())
	live := filepath.Join(t.TempDir(), "conf")
	if err := os.WriteFile(live, []byte("true original"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := arch.Snapshot("/etc/conf", live); err != nil {
		t.Fatal(err)
	}

	// A second snapshot after the file was modified must not replace the
	// original.
	if err := os.WriteFile(live, []byte("modified"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := arch.Snapshot("/etc/conf", live); err != nil {
		t.Fatal(err)
	}
	if err := arch.Restore("/etc/conf", live); err != nil {
		t.Fatal(err)
	}
	got, _ := os.ReadFile(live)
	if string(got) != "true original" {
		t.Errorf("first snapshot must win, got %q", got)
	}
}

func TestSnapshotMissingSourceIsNoop(t *testing.T) {
	t.Parallel()
	arch := New(t.TempDir())
	if err := arch.Snapshot("/nowhere/file", filepath.Join(t.TempDir(), "gone")); err != nil {
		t.Fatalf("snapshotting a nonexistent path must not fail: %v", err)
	}
	if arch.Has("/nowhere/file") {
		t.Error("no snapshot may exist for a path that never existed")
	}
}

func TestRestoreWithoutSnapshotIsNoop(t *testing.T) {
	t.Parallel()
	arch := New(t.TempDir())
	target := filepath.Join(t.TempDir(), "never-archived")
	if err := arch.Restore("/never/archived", target); err != nil {
		t.Fatalf("restore without a backup must be a no-op, got %v", err)
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("no file may be created by a no-op restore")
	}
}

func TestSnapshotPackageDirSkipsSubpackages(t *testing.T) {
	t.Parallel()
	src := t.TempDir()
	files := map[string]string{
		pkgfile.DescriptorName:                              "description: root\n",
		"resource.txt":                                      "data",
		filepath.Join("assets", "theme.conf"):               "theme",
		filepath.Join("child", pkgfile.DescriptorName):      "description: sub\n",
		filepath.Join("child", "child-only.txt"):            "nope",
		filepath.Join("assets", "deep", "nested.txt"):       "deep",
	}
	for rel, content := range files {
		path := filepath.Join(src, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	arch := New(t.TempDir())
	if err := arch.SnapshotPackageDir(src); err != nil {
		t.Fatal(err)
	}
	if !arch.HasPackageDir() {
		t.Fatal("package snapshot must exist")
	}

	for _, rel := range []string{pkgfile.DescriptorName, "resource.txt",
		filepath.Join("assets", "theme.conf"), filepath.Join("assets", "deep", "nested.txt")} {
		if _, err := os.Stat(filepath.Join(arch.PackageDir(), rel)); err != nil {
			t.Errorf("expected %q in package snapshot: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(arch.PackageDir(), "child")); !os.IsNotExist(err) {
		t.Error("subpackage directories must not be snapshotted")
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "arch")
	arch := New(dir)
	live := filepath.Join(t.TempDir(), "f")
	if err := os.WriteFile(live, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := arch.Snapshot("/f", live); err != nil {
		t.Fatal(err)
	}
	if err := arch.Delete(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Error("archive directory must be gone after Delete")
	}
}

func TestInverse(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		typ     pkgfile.ActionType
		targets []string
		want    pkgfile.Action
		ok      bool
	}{
		{
			"copy single", pkgfile.ActionCopy, []string{"$HOME/.vimrc"},
			pkgfile.Action{Type: pkgfile.ActionRemove, File: "$HOME/.vimrc", IgnoreMissing: true}, true,
		},
		{
			"symlink many", pkgfile.ActionSymlink, []string{"/a", "/b"},
			pkgfile.Action{Type: pkgfile.ActionRemove, Files: []string{"/a", "/b"}, IgnoreMissing: true}, true,
		},
		{
			"copy tree", pkgfile.ActionCopyTree, []string{"/opt/pkg"},
			pkgfile.Action{Type: pkgfile.ActionRemoveTree, Dir: "/opt/pkg"}, true,
		},
		{
			"make dirs", pkgfile.ActionMakeDirs, []string{"/a/b/c", "/a/b", "/a"},
			pkgfile.Action{Type: pkgfile.ActionRemoveDirs, Dirs: []string{"/a/b/c", "/a/b", "/a"}}, true,
		},
		{
			"remove", pkgfile.ActionRemove, []string{"/etc/old"},
			pkgfile.Action{Type: pkgfile.ActionRestore, File: "/etc/old"}, true,
		},
		{
			"replace", pkgfile.ActionReplace, []string{"/etc/conf"},
			pkgfile.Action{Type: pkgfile.ActionRestore, File: "/etc/conf"}, true,
		},
		{"print", pkgfile.ActionPrint, nil, pkgfile.Action{}, false},
		{"shell", pkgfile.ActionShell, nil, pkgfile.Action{}, false},
		{"git clone", pkgfile.ActionGitClone, nil, pkgfile.Action{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Inverse(tt.typ, tt.targets)
			if ok != tt.ok {
				t.Fatalf("Inverse(%q) ok = %v, want %v", tt.typ, ok, tt.ok)
			}
			if got.Type != tt.want.Type || got.File != tt.want.File ||
				got.Dir != tt.want.Dir || got.IgnoreMissing != tt.want.IgnoreMissing ||
				!slices.Equal(got.Files, tt.want.Files) || !slices.Equal(got.Dirs, tt.want.Dirs) {
				t.Errorf("Inverse(%q) = %+v, want %+v", tt.typ, got, tt.want)
			}
		})
	}
}

func TestRecorderPrepends(t *testing.T) {
	t.Parallel()
	var rec Recorder
	if !rec.Empty() {
		t.Fatal("new recorder must be empty")
	}
	rec.Record(pkgfile.Action{Type: pkgfile.ActionRemove, File: "/first"})
	rec.Record(pkgfile.Action{Type: pkgfile.ActionRemove, File: "/second"})

	got := rec.Actions()
	if len(got) != 2 || got[0].File != "/second" || got[1].File != "/first" {
		t.Errorf("recorded actions must be in reverse execution order, got %+v", got)
	}
}
