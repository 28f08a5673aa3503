package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/sync/errgroup"

	"github.com/yuya-takeyama/dedup-ingest/internal/ingest"
	"github.com/yuya-takeyama/dedup-ingest/internal/walker"
	"github.com/yuya-takeyama/dedup-ingest/pkg/logger"
)

// Phase is the name reported to observers
const Phase = "ingest"

// Processor runs one file to completion
type Processor interface {
	Process(ctx context.Context, file walker.FileInfo) ingest.Result
}

// Pool manages concurrent workers
type Pool struct {
	proc        Processor
	concurrency int
	observer    logger.Observer
}

// NewPool creates a new worker pool. A non-positive concurrency uses one
// worker per CPU.
func NewPool(proc Processor, concurrency int, observer logger.Observer) *Pool {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	if observer == nil {
		observer = &logger.NullLogger{}
	}
	return &Pool{
		proc:        proc,
		concurrency: concurrency,
		observer:    observer,
	}
}

// Concurrency returns the number of workers
func (p *Pool) Concurrency() int {
	return p.concurrency
}

// Execute processes every file and returns one result per file, in input
// order. Files not yet started when ctx is cancelled are reported as ERRORED.
func (p *Pool) Execute(ctx context.Context, files []walker.FileInfo) ([]ingest.Result, Stats) {
	results := make([]ingest.Result, len(files))
	p.observer.PhaseStart(Phase, len(files))

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, file := range files {
		if err := ctx.Err(); err != nil {
			results[i] = ingest.Result{File: file, State: ingest.StateErrored, Err: err}
			continue
		}
		g.Go(func() error {
			results[i] = p.proc.Process(ctx, file)
			p.observer.ItemProcessed(Phase, file.RelPath, Action(results[i].State))
			return nil
		})
	}
	_ = g.Wait()

	stats := Summarize(results)
	p.observer.PhaseComplete(Phase, stats.Processed)
	return results, stats
}

// Action is the observer label for a terminal state
func Action(s ingest.State) string {
	return strings.ToLower(string(s))
}

// Stats tracks run statistics
type Stats struct {
	Processed    int   `json:"processed"`
	Uploaded     int   `json:"uploaded"`
	Fallbacks    int   `json:"fallbacks"`
	Skipped      int   `json:"skipped"`
	Failed       int   `json:"failed"`
	Errored      int   `json:"errored"`
	BytesInlined int64 `json:"bytes_inlined"`
}

// HasFailures reports whether any file ended FAILED or ERRORED
func (s Stats) HasFailures() bool {
	return s.Failed > 0 || s.Errored > 0
}

// Summarize aggregates results after all workers have finished
func Summarize(results []ingest.Result) Stats {
	var stats Stats
	for _, r := range results {
		stats.Processed++
		if r.Fallback {
			stats.Fallbacks++
		}
		switch r.State {
		case ingest.StateDone:
			stats.Uploaded++
			if r.Inline && !r.Fallback {
				stats.BytesInlined += r.File.Size
			}
		case ingest.StateSkipped:
			stats.Skipped++
		case ingest.StateFailed:
			stats.Failed++
		default:
			stats.Errored++
		}
	}
	return stats
}

// WriteMarker atomically writes the completion marker with the current time
func WriteMarker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create marker directory: %w", err)
	}
	stamp := time.Now().UTC().Format(time.RFC3339) + "\n"
	if err := renameio.WriteFile(path, []byte(stamp), 0o644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}
