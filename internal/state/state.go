// SPDX-License-Identifier: MPL-2.0

// Package state persists which packages are installed, together with the
// data a later invocation needs to reverse them: the archive location and the
// synthesized uninstall actions. The store is guarded by a pid lock file so
// two invocations cannot mutate it concurrently.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/exp/maps"

	"dotctl/pkg/pkgfile"
)

const (
	stateFileName = "state.json"
	lockFileName  = ".state.json.lock"
)

// InstalledRecord is everything persisted for one installed package.
type InstalledRecord struct {
	// ArchiveDir is the name of the package's archive directory, relative to
	// the store directory.
	ArchiveDir string `json:"archive_dir,omitempty"`
	// Uninstall holds the synthesized inverse actions, already in the order
	// uninstall replays them.
	Uninstall   []pkgfile.Action `json:"generated_uninstall,omitempty"`
	InstalledAt time.Time        `json:"installed_at"`
}

// NotInstalledError reports a lookup for a package the store does not know.
type NotInstalledError struct {
	Name string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("package %q is not installed", e.Name)
}

// LockedError reports that another invocation holds the store.
type LockedError struct {
	Holder string
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("the install state is locked by another invocation (%s)", e.Holder)
}

type fileFormat struct {
	Packages map[string]InstalledRecord `json:"packages"`
}

// Store is the on-disk install state, held open (and locked) for the
// lifetime of one invocation.
type Store struct {
	dir      string
	path     string
	lockPath string
	packages map[string]InstalledRecord
}

// Open loads the store under dir, creating an empty one on first use. It
// fails with LockedError when another process holds the lock.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		dir:      dir,
		path:     filepath.Join(dir, stateFileName),
		lockPath: filepath.Join(dir, lockFileName),
		packages: make(map[string]InstalledRecord),
	}

	if holder, err := os.ReadFile(s.lockPath); err == nil {
		return nil, &LockedError{Holder: strings.TrimSpace(string(holder))}
	}

	data, err := os.ReadFile(s.path)
	switch {
	case os.IsNotExist(err):
		// First run; the file appears with the first record.
	case err != nil:
		return nil, err
	default:
		var file fileFormat
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("install state %s is corrupt: %w", s.path, err)
		}
		if file.Packages != nil {
			s.packages = file.Packages
		}
	}

	lock := fmt.Sprintf("pid: %d\n", os.Getpid())
	if err := os.WriteFile(s.lockPath, []byte(lock), 0o644); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the lock. State changes are flushed as they happen, so a
// killed process loses at most the action in flight, not the whole run.
func (s *Store) Close() error {
	if s.lockPath == "" {
		return nil
	}
	err := os.Remove(s.lockPath)
	s.lockPath = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Record persists the installed record of a package. Support packages are
// never recorded; their installed status must not survive the invocation.
func (s *Store) Record(desc *pkgfile.Descriptor, record InstalledRecord) error {
	if desc.IsSupport() {
		return nil
	}
	s.packages[desc.Name] = record
	return s.save()
}

// Lookup returns the installed record of name.
func (s *Store) Lookup(name string) (InstalledRecord, error) {
	record, ok := s.packages[name]
	if !ok {
		return InstalledRecord{}, &NotInstalledError{Name: name}
	}
	return record, nil
}

// IsInstalled reports whether the store holds a record for name.
func (s *Store) IsInstalled(name string) bool {
	_, ok := s.packages[name]
	return ok
}

// Forget drops the record of name. Called after a successful uninstall.
func (s *Store) Forget(name string) error {
	delete(s.packages, name)
	return s.save()
}

// Installed returns the recorded package names, sorted.
func (s *Store) Installed() []string {
	names := maps.Keys(s.packages)
	sort.Strings(names)
	return names
}

// NewArchiveDir returns the directory a fresh install of name should archive
// into, unique per install so quick successive reinstalls cannot collide.
func (s *Store) NewArchiveDir(name string) string {
	base := fmt.Sprintf("%s_%d", name, time.Now().Unix())
	dir := filepath.Join(s.dir, base)
	for i := 1; ; i++ {
		if _, err := os.Lstat(dir); os.IsNotExist(err) {
			return dir
		}
		dir = filepath.Join(s.dir, fmt.Sprintf("%s_%d", base, i))
	}
}

// ArchivePath resolves a record's archive directory name against the store.
func (s *Store) ArchivePath(record InstalledRecord) string {
	return filepath.Join(s.dir, record.ArchiveDir)
}

// ArchiveName converts an absolute archive directory to the name persisted
// in a record.
func (s *Store) ArchiveName(dir string) string {
	return filepath.Base(dir)
}

func (s *Store) save() error {
	data, err := json.Marshal(fileFormat{Packages: s.packages})
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
