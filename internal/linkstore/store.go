// Package linkstore records which content fingerprints have already been
// claimed for ingestion. A claim is a link from the fingerprint to the first
// path seen with that content; whoever creates the link owns the upload.
package linkstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/yuya-takeyama/dedup-ingest/internal/checksum"
)

// Store is the dedup gate shared by all workers.
type Store interface {
	// Link claims fp for path. It returns false when fp was already claimed.
	Link(ctx context.Context, fp checksum.Fingerprint, path string) (bool, error)
	// Unlink releases a claim. Releasing a missing claim is not an error.
	Unlink(ctx context.Context, fp checksum.Fingerprint) error
	// Exists reports whether fp is currently claimed.
	Exists(ctx context.Context, fp checksum.Fingerprint) (bool, error)
}

// Open selects a Store from location. An s3:// URI selects an S3Store whose
// link targets are recorded relative to linkDir; anything else is ignored and
// a filesystem store rooted at linkDir is returned.
func Open(ctx context.Context, location, linkDir string) (Store, error) {
	if strings.HasPrefix(location, "s3://") {
		return NewS3StoreFromURI(ctx, location, linkDir)
	}
	return NewFSStore(linkDir)
}

// relativeTarget returns path as seen from dir.
func relativeTarget(dir, path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("get absolute path: %w", err)
	}
	target, err := filepath.Rel(dir, absPath)
	if err != nil {
		return "", fmt.Errorf("get relative target: %w", err)
	}
	return target, nil
}

func validate(fp checksum.Fingerprint) error {
	if !fp.Valid() {
		return fmt.Errorf("invalid fingerprint %q", fp)
	}
	return nil
}
