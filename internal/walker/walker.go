package walker

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileInfo represents a regular file found under the root
type FileInfo struct {
	Path    string // Absolute path
	RelPath string // Relative path from root
	Size    int64
	ModTime int64 // Unix timestamp
	Mode    os.FileMode
}

// Walker enumerates regular files with exclude pattern support
type Walker struct {
	root     string
	excludes []string
	skip     map[string]struct{}
}

// Option configures a Walker
type Option func(*Walker)

// WithSkip prunes the given paths (files or directory subtrees) from every walk.
// Paths outside the root are ignored.
func WithSkip(paths ...string) Option {
	return func(w *Walker) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			abs, err := filepath.Abs(p)
			if err != nil {
				continue
			}
			w.skip[filepath.Clean(abs)] = struct{}{}
		}
	}
}

// NewWalker creates a new file walker
func NewWalker(root string, excludes []string, opts ...Option) (*Walker, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("get absolute path: %w", err)
	}

	// Validate root exists and is a directory
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root is not a directory: %s", absRoot)
	}

	w := &Walker{
		root:     absRoot,
		excludes: excludes,
		skip:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Root returns the absolute root directory
func (w *Walker) Root() string {
	return w.root
}

// Files returns a lazy sequence of the regular files under the root.
// Every call walks from scratch. Entries that vanish during the walk are
// skipped; other per-entry failures are yielded and the walk continues.
func (w *Walker) Files(ctx context.Context) iter.Seq2[FileInfo, error] {
	return func(yield func(FileInfo, error) bool) {
		err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}

			if err != nil {
				if path == w.root {
					return err
				}
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				if !yield(FileInfo{}, fmt.Errorf("walk %s: %w", path, err)) {
					return filepath.SkipAll
				}
				return nil
			}

			if _, ok := w.skip[path]; ok {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}

			// Get relative path
			relPath, err := filepath.Rel(w.root, path)
			if err != nil {
				return fmt.Errorf("get relative path: %w", err)
			}

			// Convert to forward slashes for pattern matching
			relPathForward := filepath.ToSlash(relPath)

			if d.IsDir() {
				if path != w.root && w.isExcludedDir(relPathForward) {
					return filepath.SkipDir
				}
				return nil
			}

			// Symlinks, devices, sockets and pipes are never content
			if !d.Type().IsRegular() {
				return nil
			}

			if w.isExcluded(relPathForward) {
				return nil
			}

			info, err := d.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				if !yield(FileInfo{}, fmt.Errorf("get file info: %w", err)) {
					return filepath.SkipAll
				}
				return nil
			}

			if !yield(FileInfo{
				Path:    path,
				RelPath: relPath,
				Size:    info.Size(),
				ModTime: info.ModTime().Unix(),
				Mode:    info.Mode(),
			}, nil) {
				return filepath.SkipAll
			}
			return nil
		})

		if err != nil {
			yield(FileInfo{}, fmt.Errorf("walk directory: %w", err))
		}
	}
}

// Walk collects every file of one enumeration. Per-entry failures are logged
// and skipped; only cancellation or an unreadable root fails the walk.
func (w *Walker) Walk(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo

	for file, err := range w.Files(ctx) {
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if file.Path == "" && !w.rootReadable() {
				return nil, err
			}
			slog.Warn("skipping unreadable entry", "error", err)
			continue
		}
		files = append(files, file)
	}

	return files, nil
}

func (w *Walker) rootReadable() bool {
	_, err := os.ReadDir(w.root)
	return err == nil
}

// isExcluded checks if a path matches any exclude pattern
func (w *Walker) isExcluded(path string) bool {
	for _, pattern := range w.excludes {
		// Handle directory patterns (ending with /)
		if strings.HasSuffix(pattern, "/") {
			dirPattern := strings.TrimSuffix(pattern, "/")
			// Check if any parent directory matches
			parts := strings.Split(path, "/")
			for i := 1; i < len(parts); i++ {
				subPath := strings.Join(parts[:i], "/")
				if matched, _ := doublestar.Match(dirPattern, subPath); matched {
					return true
				}
			}
		} else {
			if matched, _ := doublestar.Match(pattern, path); matched {
				return true
			}
		}
	}
	return false
}

// isExcludedDir reports whether a whole directory subtree can be pruned
func (w *Walker) isExcludedDir(path string) bool {
	for _, pattern := range w.excludes {
		if !strings.HasSuffix(pattern, "/") {
			continue
		}
		if matched, _ := doublestar.Match(strings.TrimSuffix(pattern, "/"), path); matched {
			return true
		}
	}
	return false
}
