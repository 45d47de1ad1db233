// Package workspace allocates the per-job scratch area that holds submitted
// source files and compiled artifacts.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const dirPrefix = "job-"

// ErrExists is returned when a job directory or file is already present.
// Two jobs never share a workspace, so this always indicates an id collision.
var ErrExists = errors.New("workspace already exists")

// NewJobID returns a collision-free job identifier. xids embed a timestamp
// followed by machine, pid and counter bytes, so ids sort by creation time.
func NewJobID() string {
	return xid.New().String()
}

// ValidJobID reports whether id was produced by NewJobID.
func ValidJobID(id string) bool {
	_, err := xid.FromString(id)
	return err == nil
}

// Manager owns the scratch root shared by all concurrent jobs.
type Manager struct {
	root string
}

// NewManager creates the scratch root if it is absent.
func NewManager(root string) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "codeexec")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving scratch root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch root %s: %w", abs, err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute scratch root.
func (m *Manager) Root() string { return m.root }

// Allocate creates the exclusive directory for one job.
func (m *Manager) Allocate(jobID string) (*Workspace, error) {
	if !ValidJobID(jobID) {
		return nil, fmt.Errorf("invalid job id %q", jobID)
	}
	dir := filepath.Join(m.root, dirPrefix+jobID)
	if err := os.Mkdir(dir, 0o700); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrExists, dir)
		}
		return nil, fmt.Errorf("creating job directory: %w", err)
	}
	return &Workspace{JobID: jobID, Dir: dir}, nil
}

// SweepOrphans removes job directories older than maxAge. They can only be
// left behind when a previous process died between Allocate and Release.
func (m *Manager) SweepOrphans(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("listing scratch root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	var removed int
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.root, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Warn().Err(err).Str("dir", path).Msg("failed to remove orphaned workspace")
			continue
		}
		removed++
	}
	return removed, nil
}

// Workspace is the scratch directory of exactly one job.
type Workspace struct {
	JobID string
	Dir   string

	mu       sync.Mutex
	files    []string
	released bool
}

// Path returns the absolute path of name inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Dir, name)
}

// WriteFile creates name exclusively and records it for cleanup.
func (w *Workspace) WriteFile(name, content string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid workspace file name %q", name)
	}
	path := w.Path(name)

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, path)
		}
		return "", fmt.Errorf("creating %s: %w", name, err)
	}
	w.Track(path)

	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing %s: %w", name, err)
	}
	return path, nil
}

// Track records artifacts produced by toolchains so Release removes them
// even if they were written outside Dir.
func (w *Workspace) Track(paths ...string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = append(w.files, paths...)
}

// Artifacts returns the tracked files that currently exist.
func (w *Workspace) Artifacts() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var present []string
	for _, path := range w.files {
		if _, err := os.Lstat(path); err == nil {
			present = append(present, path)
		}
	}
	return present
}

// Release deletes every tracked artifact and the job directory. It is safe
// to call more than once; all removals are attempted before an error is
// returned.
func (w *Workspace) Release() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.released {
		return nil
	}
	w.released = true

	var errs []error
	for _, path := range w.files {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		errs = append(errs, err)
	}
	w.files = nil
	return errors.Join(errs...)
}
