// Package relocate files a tree into a content-addressed layout
// dest/<h0>/<h1>/<hash><ext>, recording every file in the catalog.
package relocate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/renameio"

	"github.com/yuya-takeyama/dedup-ingest/internal/checksum"
	"github.com/yuya-takeyama/dedup-ingest/internal/ingest"
	"github.com/yuya-takeyama/dedup-ingest/internal/walker"
	"github.com/yuya-takeyama/dedup-ingest/pkg/logger"
)

// Phase is the name reported to observers
const Phase = "relocate"

// Mode selects whether sources are kept
type Mode string

const (
	ModeCopy Mode = "copy"
	ModeMove Mode = "move"
)

// ParseMode validates a mode name
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCopy, ModeMove:
		return Mode(s), nil
	}
	return "", fmt.Errorf("invalid mode %q: must be copy or move", s)
}

const (
	ActionCopied = "copied"
	ActionMoved  = "moved"
	ActionExists = "exists"
	ActionFailed = logger.ActionFailed
)

// Result is the outcome for one file
type Result struct {
	Source      string
	Dest        string
	Fingerprint checksum.Fingerprint
	Action      string
	Err         error
}

// Relocator places files by content
type Relocator struct {
	Dest     string
	Mode     Mode
	Catalog  ingest.Recorder // optional
	Observer logger.Observer // optional
	Logger   *slog.Logger
}

// Path returns the destination for fp with the source extension ext
func Path(dest string, fp checksum.Fingerprint, ext string) string {
	s := string(fp)
	return filepath.Join(dest, s[:1], s[1:2], s+ext)
}

func (r *Relocator) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run relocates files one at a time. It stops early only on cancellation.
func (r *Relocator) Run(ctx context.Context, files []walker.FileInfo) ([]Result, error) {
	obs := r.Observer
	if obs == nil {
		obs = &logger.NullLogger{}
	}

	obs.PhaseStart(Phase, len(files))
	results := make([]Result, 0, len(files))
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			obs.PhaseComplete(Phase, len(results))
			return results, err
		}
		res := r.Relocate(ctx, file)
		obs.ItemProcessed(Phase, file.RelPath, res.Action)
		results = append(results, res)
	}
	obs.PhaseComplete(Phase, len(results))
	return results, nil
}

// Relocate hashes one file, records it and places it unless its content is
// already at the destination.
func (r *Relocator) Relocate(ctx context.Context, file walker.FileInfo) Result {
	res := Result{Source: file.Path, Action: ActionFailed}
	log := r.logger().With("path", file.Path)

	fp, err := checksum.CalculateFileSHA256(file.Path)
	if err != nil {
		log.Warn("hash failed", "error", err)
		res.Err = err
		return res
	}
	res.Fingerprint = fp
	res.Dest = Path(r.Dest, fp, filepath.Ext(file.Path))

	if r.Catalog != nil {
		if _, err := r.Catalog.Record(ctx, file.Path, fp); err != nil {
			log.Warn("catalog record failed", "sha256", fp, "error", err)
		}
	}

	if _, err := os.Lstat(res.Dest); err == nil {
		res.Action = ActionExists
		return res
	}

	if err := os.MkdirAll(filepath.Dir(res.Dest), 0o755); err != nil {
		res.Err = fmt.Errorf("create destination directory: %w", err)
		return res
	}

	switch r.Mode {
	case ModeMove:
		err = move(file.Path, res.Dest, fp)
		res.Action = ActionMoved
	default:
		err = copyVerified(file.Path, res.Dest, fp)
		res.Action = ActionCopied
	}
	if err != nil {
		log.Error("relocate failed", "sha256", fp, "dest", res.Dest, "error", err)
		res.Action = ActionFailed
		res.Err = err
	}
	return res
}

// copyVerified copies src through a temporary file next to dst and only
// renames it into place when the copied bytes still hash to fp.
func copyVerified(src, dst string, fp checksum.Fingerprint) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	pending, err := renameio.TempFile(filepath.Dir(dst), dst)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer pending.Cleanup()

	tee := checksum.NewTeeReaderWithChecksum(in)
	if _, err := io.Copy(pending, tee); err != nil {
		return fmt.Errorf("copy: %w", err)
	}

	got, err := tee.Checksum()
	if err != nil {
		return err
	}
	if got != fp {
		return fmt.Errorf("source changed during copy: expected %s, got %s", fp, got)
	}

	if err := pending.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}

// move renames src, falling back to copy and remove across devices
func move(src, dst string, fp checksum.Fingerprint) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return fmt.Errorf("rename: %w", err)
	}
	if err := copyVerified(src, dst, fp); err != nil {
		return err
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("remove source: %w", err)
	}
	return nil
}
