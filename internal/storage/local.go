package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/maauso/clip-worker/internal/fault"
)

// Compile-time check that LocalStore implements Store.
var _ Store = (*LocalStore)(nil)

// LocalStore implements Store on local disk. It is used in development
// when no bucket is configured.
type LocalStore struct {
	root string
}

// NewLocalStore creates a LocalStore rooted at root.
// The directory is created if it doesn't exist.
func NewLocalStore(root string) (*LocalStore, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "clip-artifacts")
	}

	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}

	return &LocalStore{root: root}, nil
}

// Root returns the artifact directory.
func (s *LocalStore) Root() string {
	return s.root
}

// Upload copies the file under the root at key.
func (s *LocalStore) Upload(ctx context.Context, localPath, key, _ string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context cancelled: %w", err)
	}

	dst, err := s.path(key)
	if err != nil {
		return 0, err
	}

	src, err := os.Open(localPath) // #nosec G304 - path comes from the job's scratch directory
	if err != nil {
		return 0, fault.Storage(fmt.Sprintf("Failed to open file for upload: %v", err), err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return 0, fault.Storage(fmt.Sprintf("Failed to create artifact directory: %v", err), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload_*")
	if err != nil {
		return 0, fault.Storage(fmt.Sprintf("Failed to create artifact file: %v", err), err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, src)
	if err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return 0, fault.Storage(fmt.Sprintf("Failed to write artifact: %v", err), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return 0, fault.Storage(fmt.Sprintf("Failed to write artifact: %v", err), err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return 0, fault.Storage(fmt.Sprintf("Failed to store artifact: %v", err), err)
	}

	return n, nil
}

// Delete removes the file at key. A missing file is not an error.
func (s *LocalStore) Delete(_ context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fault.Storage(fmt.Sprintf("Failed to delete artifact: %v", err), err)
	}
	return nil
}

// Exists reports whether a file is stored at key.
func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	p, err := s.path(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fault.Storage(fmt.Sprintf("Failed to check artifact: %v", err), err)
	}
}

func (s *LocalStore) path(key string) (string, error) {
	if key == "" || !filepath.IsLocal(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
