// Package ingest runs the per-file pipeline: hash, claim, shape, upload,
// and roll the claim back when the upload is permanently lost.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/yuya-takeyama/dedup-ingest/internal/checksum"
	"github.com/yuya-takeyama/dedup-ingest/internal/esclient"
	"github.com/yuya-takeyama/dedup-ingest/internal/linkstore"
	"github.com/yuya-takeyama/dedup-ingest/internal/walker"
)

// State is the last stage a file reached
type State string

const (
	StateHashed            State = "HASHED"
	StateDedupChecked      State = "DEDUP_CHECKED"
	StateSkipped           State = "SKIPPED"
	StateSizeClassified    State = "SIZE_CLASSIFIED"
	StateUploadAttempted   State = "UPLOAD_ATTEMPTED"
	StateFallbackAttempted State = "FALLBACK_ATTEMPTED"
	StateDone              State = "DONE"
	StateFailed            State = "FAILED"
	StateErrored           State = "ERRORED"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateDone, StateFailed, StateErrored:
		return true
	}
	return false
}

// Uploader stores documents in the index
type Uploader interface {
	Put(ctx context.Context, doc esclient.Document) (esclient.Response, error)
}

// Recorder keeps the optional path/fingerprint catalog
type Recorder interface {
	Record(ctx context.Context, path string, fp checksum.Fingerprint) (bool, error)
}

// Processor carries everything a worker needs. It is built once and shared
// read-only by all workers.
type Processor struct {
	Links     linkstore.Store
	Uploader  Uploader
	Catalog   Recorder // nil disables the catalog
	Threshold int64
	Logger    *slog.Logger
}

// Result is the outcome for one file
type Result struct {
	File        walker.FileInfo
	Fingerprint checksum.Fingerprint
	State       State
	Inline      bool
	Fallback    bool
	StatusCode  int
	Attempts    int
	Err         error
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Process runs one file to a terminal state. Errors are reported in the
// Result and never returned; a panic is recovered and reported as ERRORED.
func (p *Processor) Process(ctx context.Context, file walker.FileInfo) (res Result) {
	res.File = file
	log := p.logger().With("path", file.Path)
	claimed := false

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic", "sha256", res.Fingerprint, "state", res.State, "panic", r)
			if claimed && res.State != StateDone {
				p.rollback(ctx, log, res.Fingerprint)
			}
			res.State = StateErrored
			res.Err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		res.State = StateErrored
		res.Err = err
		return res
	}

	fp, err := checksum.CalculateFileSHA256(file.Path)
	if err != nil {
		if errors.Is(err, checksum.ErrVanished) {
			log.Warn("file vanished before hashing", "error", err)
		} else {
			log.Error("hash failed", "error", err)
		}
		res.State = StateErrored
		res.Err = err
		return res
	}
	res.Fingerprint = fp
	res.State = StateHashed
	log = log.With("sha256", fp)

	if p.Catalog != nil {
		if _, err := p.Catalog.Record(ctx, file.Path, fp); err != nil {
			log.Warn("catalog record failed", "error", err)
		}
	}

	created, err := p.Links.Link(ctx, fp, file.Path)
	if err != nil {
		log.Error("link failed", "error", err)
		res.State = StateErrored
		res.Err = err
		return res
	}
	res.State = StateDedupChecked

	if !created {
		log.Debug("duplicate content")
		res.State = StateSkipped
		return res
	}
	claimed = true

	payload := Shape(file.Size, p.Threshold)
	res.State = StateSizeClassified
	res.Inline = payload.Inline

	doc := esclient.Document{
		Filename: file.Path,
		SHA256:   string(fp),
		MTime:    file.ModTime,
		Message:  payload.Message,
	}
	if payload.Inline {
		data, err := os.ReadFile(file.Path)
		if err != nil {
			log.Error("read failed", "error", err)
			p.rollback(ctx, log, fp)
			res.State = StateErrored
			res.Err = fmt.Errorf("read file: %w", err)
			return res
		}
		doc.Data = data
	}

	res.State = StateUploadAttempted
	resp, err := p.Uploader.Put(ctx, doc)
	res.Attempts = resp.Attempts
	res.StatusCode = resp.StatusCode
	if err != nil {
		return p.fail(ctx, log, res, err)
	}
	if esclient.IsSuccess(resp.StatusCode) {
		res.State = StateDone
		return res
	}

	// Rejected documents get exactly one metadata-only retry carrying the
	// index's explanation in place of the content.
	log.Warn("document rejected, sending fallback", "status", resp.StatusCode)
	res.State = StateFallbackAttempted
	res.Fallback = true

	fallback := doc
	fallback.Data = nil
	fallback.Message = resp.Body

	resp, err = p.Uploader.Put(ctx, fallback)
	res.Attempts += resp.Attempts
	res.StatusCode = resp.StatusCode
	if err != nil {
		return p.fail(ctx, log, res, err)
	}
	if !esclient.IsSuccess(resp.StatusCode) {
		return p.fail(ctx, log, res, fmt.Errorf("%w: fallback status %d: %s", esclient.ErrRejected, resp.StatusCode, resp.Body))
	}

	res.State = StateDone
	return res
}

func (p *Processor) fail(ctx context.Context, log *slog.Logger, res Result, err error) Result {
	log.Error("upload failed", "state", StateFailed, "attempts", res.Attempts, "error", err)
	p.rollback(ctx, log, res.Fingerprint)
	res.State = StateFailed
	res.Err = err
	return res
}

// rollback releases the claim so a later run retries the file. It runs even
// when ctx is already cancelled; failures are only logged.
func (p *Processor) rollback(ctx context.Context, log *slog.Logger, fp checksum.Fingerprint) {
	if err := p.Links.Unlink(context.WithoutCancel(ctx), fp); err != nil {
		log.Warn("rollback failed", "error", err)
	}
}
