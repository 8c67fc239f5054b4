// Package scratch manages per-job working directories on local disk.
package scratch

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/maauso/clip-worker/internal/clip/id"
)

// ErrInvalidJobID is returned when a job id cannot name a directory.
var ErrInvalidJobID = errors.New("scratch: invalid job id")

// Area is a root directory holding one subdirectory per running job.
type Area struct {
	root   string
	logger *slog.Logger
}

// New creates the scratch root if needed.
func New(root string, logger *slog.Logger) (*Area, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "video-clips")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	return &Area{root: root, logger: logger}, nil
}

// Root returns the scratch root.
func (a *Area) Root() string {
	return a.root
}

// Create makes the directory for jobID and returns its path.
func (a *Area) Create(jobID string) (string, error) {
	if !id.Valid(jobID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidJobID, jobID)
	}
	dir := filepath.Join(a.root, jobID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("create scratch directory: %w", err)
	}
	return dir, nil
}

// OutputPath is the media output file for jobID inside dir.
func OutputPath(dir, jobID, format string) string {
	return filepath.Join(dir, jobID+"."+format)
}

// Remove deletes dir and everything in it.
func (a *Area) Remove(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove scratch directory: %w", err)
	}
	return nil
}

// Sweep removes job directories last modified more than maxAge before now
// and returns how many were removed. Entries not named like a job id are
// left alone.
func (a *Area) Sweep(maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(a.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("read scratch root: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !id.Valid(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}

		dir := filepath.Join(a.root, e.Name())
		if err := os.RemoveAll(dir); err != nil {
			a.logger.Warn("failed to remove stale scratch directory",
				slog.String("dir", dir),
				slog.String("error", err.Error()),
			)
			continue
		}
		a.logger.Info("removed stale scratch directory", slog.String("dir", dir))
		removed++
	}
	return removed, nil
}
