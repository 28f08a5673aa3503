package linkstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/yuya-takeyama/dedup-ingest/internal/checksum"
)

// FSStore keeps one symlink per fingerprint in a directory. The link points
// back at the claimed file with a relative target so the tree can be moved.
//
// The existence check and the creation are separate syscalls; the symlink
// call itself fails with EEXIST when another worker won, which is reported as
// an ordinary duplicate.
type FSStore struct {
	dir string
}

// NewFSStore creates the link directory if needed
func NewFSStore(dir string) (*FSStore, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return nil, fmt.Errorf("create link directory: %w", err)
	}
	return &FSStore{dir: absDir}, nil
}

// Dir returns the absolute link directory
func (s *FSStore) Dir() string {
	return s.dir
}

func (s *FSStore) linkPath(fp checksum.Fingerprint) string {
	return filepath.Join(s.dir, string(fp))
}

// Link implements Store
func (s *FSStore) Link(ctx context.Context, fp checksum.Fingerprint, path string) (bool, error) {
	if err := validate(fp); err != nil {
		return false, err
	}

	linkPath := s.linkPath(fp)
	if _, err := os.Lstat(linkPath); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat link: %w", err)
	}

	target, err := relativeTarget(s.dir, path)
	if err != nil {
		return false, err
	}

	if err := os.Symlink(target, linkPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create link: %w", err)
	}
	return true, nil
}

// Unlink implements Store
func (s *FSStore) Unlink(ctx context.Context, fp checksum.Fingerprint) error {
	if err := validate(fp); err != nil {
		return err
	}
	if err := os.Remove(s.linkPath(fp)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove link: %w", err)
	}
	return nil
}

// Exists implements Store
func (s *FSStore) Exists(ctx context.Context, fp checksum.Fingerprint) (bool, error) {
	if err := validate(fp); err != nil {
		return false, err
	}
	if _, err := os.Lstat(s.linkPath(fp)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat link: %w", err)
	}
	return true, nil
}

// Target returns the stored relative target for fp
func (s *FSStore) Target(fp checksum.Fingerprint) (string, error) {
	if err := validate(fp); err != nil {
		return "", err
	}
	target, err := os.Readlink(s.linkPath(fp))
	if err != nil {
		return "", fmt.Errorf("read link: %w", err)
	}
	return target, nil
}
