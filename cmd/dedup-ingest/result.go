package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/yuya-takeyama/dedup-ingest/internal/ingest"
	"github.com/yuya-takeyama/dedup-ingest/internal/worker"
)

// RunResult represents the outcome of an ingest run
type RunResult struct {
	Files   []ResultFile `json:"files"`
	Errors  []ErrorFile  `json:"errors"`
	Summary worker.Stats `json:"summary"`
}

type ResultFile struct {
	State    string `json:"state"` // "done", "skipped"
	Source   string `json:"source"`
	SHA256   string `json:"sha256"`
	Inline   bool   `json:"inline"`
	Fallback bool   `json:"fallback,omitempty"`
}

type ErrorFile struct {
	State    string `json:"state"` // "failed", "errored"
	Source   string `json:"source"`
	SHA256   string `json:"sha256,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error"`
}

func buildRunResult(results []ingest.Result, stats worker.Stats) RunResult {
	out := RunResult{
		Files:   []ResultFile{},
		Errors:  []ErrorFile{},
		Summary: stats,
	}

	for _, r := range results {
		switch r.State {
		case ingest.StateDone, ingest.StateSkipped:
			out.Files = append(out.Files, ResultFile{
				State:    worker.Action(r.State),
				Source:   getAbsolutePath(r.File.Path),
				SHA256:   string(r.Fingerprint),
				Inline:   r.Inline,
				Fallback: r.Fallback,
			})
		default:
			out.Errors = append(out.Errors, ErrorFile{
				State:    worker.Action(r.State),
				Source:   getAbsolutePath(r.File.Path),
				SHA256:   string(r.Fingerprint),
				Attempts: r.Attempts,
				Error:    errString(r.Err),
			})
		}
	}
	return out
}

func writeRunResult(path string, results []ingest.Result, stats worker.Stats) error {
	data, err := json.MarshalIndent(buildRunResult(results, stats), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
