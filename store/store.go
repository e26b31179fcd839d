// Package store owns the on-disk inventory of the watched storage folder.
// The directory listing is the source of truth: entries are never cached
// across refreshes, and every mutation revalidates against the filesystem
// under a single store-wide lock.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	tempdesk "github.com/wolfeidau/tempdesk"
	"github.com/wolfeidau/tempdesk/notify"
)

const (
	// ArchiveDirName is the subfolder that holds expired-but-retained
	// entries. It is excluded from the live listing.
	ArchiveDirName = "old"

	// tmpPrefix marks in-flight copies. Temp files are excluded from
	// listings and removed on failure.
	tmpPrefix = ".tmp-"
)

var (
	// ErrNotFound is returned when a named entry or ingest source does not
	// exist. For Remove the condition is treated as success by the store
	// itself; other callers decide.
	ErrNotFound = errors.New("entry not found")

	// ErrPermissionDenied is returned when the OS denies an operation,
	// e.g. a file held open by another process.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrExists is returned by Rename when the target name is taken.
	ErrExists = errors.New("entry already exists")
)

// Mode selects the filesystem operation performed by Ingest.
type Mode string

const (
	// ModeCopy duplicates the source into the store, leaving it in place.
	ModeCopy Mode = "copy"

	// ModeMove transfers the source into the store, removing the origin.
	ModeMove Mode = "move"
)

// IngestRecorder receives a record of each successful ingestion. Recording
// is best effort and never fails the ingest.
type IngestRecorder interface {
	RecordIngest(ctx context.Context, entry tempdesk.Entry, source string, mode Mode) error
}

// Notifier publishes store-changed events for the UI layer. The store holds
// no UI references.
type Notifier interface {
	Publish(event notify.Event)
}

// Store manages the files directly under a storage folder. All mutations
// serialize on one mutex so a sweep cannot race an in-flight ingest.
type Store struct {
	root     string
	mu       sync.Mutex
	logger   *slog.Logger
	journal  IngestRecorder
	notifier Notifier
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger for store operations.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithJournal sets a recorder for successful ingestions.
func WithJournal(j IngestRecorder) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// SetJournal swaps the ingest recorder, used when the storage folder (and
// the journal kept inside it) is repointed at runtime.
func (s *Store) SetJournal(j IngestRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
}

// WithNotifier sets the store-changed event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Store) {
		s.notifier = n
	}
}

// New creates a store rooted at the given folder, creating it if absent.
func New(root string, opts ...Option) (*Store, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage folder: %w", err)
	}

	s := &Store{
		root:   absRoot,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.EnsureFolder(); err != nil {
		return nil, err
	}
	return s, nil
}

// Root returns the storage folder path.
func (s *Store) Root() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root
}

// ArchiveDir returns the path of the expired-entry subfolder.
func (s *Store) ArchiveDir() string {
	return filepath.Join(s.Root(), ArchiveDirName)
}

// EnsureFolder creates the storage folder and its parents if missing.
// Idempotent.
func (s *Store) EnsureFolder() error {
	if err := os.MkdirAll(s.Root(), 0o755); err != nil {
		return fmt.Errorf("creating storage folder: %w", err)
	}
	return nil
}

// SetRoot repoints the store at a new folder, creating it if absent. Used
// by the settings live-reload; in-flight operations complete against the
// old folder before the swap takes effect.
func (s *Store) SetRoot(root string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolving storage folder: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return fmt.Errorf("creating storage folder %s: %w", absRoot, err)
	}

	s.mu.Lock()
	s.root = absRoot
	s.mu.Unlock()

	s.publish(notify.Event{Kind: notify.KindRefresh})
	return nil
}

// List returns a snapshot of the regular files directly under the storage
// folder. Subfolders (including the retention archive), dotfiles and
// in-flight temp files are excluded. Ordering is not guaranteed; callers
// sort for display. List takes no lock: it tolerates entries vanishing
// mid-enumeration, and callers treat ErrNotFound on a listed entry as
// benign.
func (s *Store) List(ctx context.Context) ([]tempdesk.Entry, error) {
	return listDir(ctx, s.Root())
}

// ListArchive returns a snapshot of the entries in the retention archive.
// A missing archive folder yields an empty listing.
func (s *Store) ListArchive(ctx context.Context) ([]tempdesk.Entry, error) {
	entries, err := listDir(ctx, s.ArchiveDir())
	if err != nil && errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return entries, err
}

func listDir(ctx context.Context, dir string) ([]tempdesk.Entry, error) {
	dirents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("listing %s: %w", dir, ErrNotFound)
		}
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	entries := make([]tempdesk.Entry, 0, len(dirents))
	for _, de := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Vanished between ReadDir and stat; the next refresh
			// will not see it either.
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, tempdesk.Entry{
			Name:    de.Name(),
			Path:    filepath.Join(dir, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Kind:    tempdesk.KindForName(de.Name()),
		})
	}
	return entries, nil
}

// Remove deletes the named entry. A file that is already gone counts as
// success: the desired end state, absence, holds.
func (s *Store) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.root, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("remove of missing entry", "name", name)
			return nil
		}
		if os.IsPermission(err) {
			return fmt.Errorf("removing %s: %w", name, ErrPermissionDenied)
		}
		return fmt.Errorf("removing %s: %w", name, err)
	}

	s.publish(notify.Event{Kind: notify.KindRemove, Name: name})
	return nil
}

// RemoveArchived deletes the named entry from the retention archive. Like
// Remove, an already-missing file counts as success.
func (s *Store) RemoveArchived(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.root, ArchiveDirName, name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		if os.IsPermission(err) {
			return fmt.Errorf("removing archived %s: %w", name, ErrPermissionDenied)
		}
		return fmt.Errorf("removing archived %s: %w", name, err)
	}
	return nil
}

// Rename changes an entry's name within the store. It fails with ErrExists
// if the target name is taken; renaming never overwrites.
func (s *Store) Rename(oldName, newName string) error {
	if err := validName(oldName); err != nil {
		return err
	}
	if err := validName(newName); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	newPath := filepath.Join(s.root, newName)
	if _, err := os.Lstat(newPath); err == nil {
		return fmt.Errorf("renaming %s to %s: %w", oldName, newName, ErrExists)
	}

	oldPath := filepath.Join(s.root, oldName)
	if err := os.Rename(oldPath, newPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("renaming %s: %w", oldName, ErrNotFound)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("renaming %s: %w", oldName, ErrPermissionDenied)
		}
		return fmt.Errorf("renaming %s: %w", oldName, err)
	}

	s.publish(notify.Event{Kind: notify.KindRename, Name: newName})
	return nil
}

// Clear removes every live entry. Per-entry failures are collected and do
// not stop the remaining deletions.
func (s *Store) Clear(ctx context.Context) error {
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := os.Remove(filepath.Join(s.root, e.Name)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("clear: could not delete entry", "name", e.Name, "error", err)
			errs = append(errs, fmt.Errorf("removing %s: %w", e.Name, err))
		}
	}

	s.publish(notify.Event{Kind: notify.KindRefresh})
	return errors.Join(errs...)
}

// Archive relocates the named entry into the retention archive subfolder,
// applying the same duplicate-name resolution as ingestion.
func (s *Store) Archive(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	archiveDir := filepath.Join(s.root, ArchiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("creating archive folder: %w", err)
	}

	dest := resolveName(archiveDir, name)
	if err := os.Rename(filepath.Join(s.root, name), filepath.Join(archiveDir, dest)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("archiving %s: %w", name, ErrNotFound)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("archiving %s: %w", name, ErrPermissionDenied)
		}
		return fmt.Errorf("archiving %s: %w", name, err)
	}

	s.publish(notify.Event{Kind: notify.KindArchive, Name: name})
	return nil
}

// Restore moves an archived entry back into the live folder, applying
// duplicate-name resolution against the live listing.
func (s *Store) Restore(name string) error {
	if err := validName(name); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dest := resolveName(s.root, name)
	src := filepath.Join(s.root, ArchiveDirName, name)
	if err := os.Rename(src, filepath.Join(s.root, dest)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("restoring %s: %w", name, ErrNotFound)
		}
		if os.IsPermission(err) {
			return fmt.Errorf("restoring %s: %w", name, ErrPermissionDenied)
		}
		return fmt.Errorf("restoring %s: %w", name, err)
	}

	s.publish(notify.Event{Kind: notify.KindRestore, Name: dest})
	return nil
}

// resolveName returns name if it is free in dir, otherwise the lowest
// unused "stem_N.ext" variant with N starting at 1. A reserved name (the
// archive folder) is treated as taken so a file literally named "old"
// lands as "old_1". Callers hold the store lock, so the chosen name stays
// free until they use it.
func resolveName(dir, name string) string {
	if validName(name) == nil && !exists(filepath.Join(dir, name)) {
		return name
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, n, ext)
		if !exists(filepath.Join(dir, candidate)) {
			return candidate
		}
	}
}

func exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// validName rejects names that would escape the storage folder or collide
// with store-internal paths.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("empty entry name: %w", ErrNotFound)
	}
	if name == ArchiveDirName {
		return fmt.Errorf("%q is reserved: %w", name, ErrPermissionDenied)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("hidden names are not managed: %w", ErrNotFound)
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid entry name %q: %w", name, ErrNotFound)
	}
	return nil
}

func (s *Store) publish(event notify.Event) {
	if s.notifier == nil {
		return
	}
	event.At = time.Now()
	s.notifier.Publish(event)
}

func (s *Store) record(ctx context.Context, entry tempdesk.Entry, source string, mode Mode) {
	if s.journal == nil {
		return
	}
	// Best effort, never fails the ingest.
	if err := s.journal.RecordIngest(ctx, entry, source, mode); err != nil {
		s.logger.Warn("journal record failed", "name", entry.Name, "error", err)
	}
}
