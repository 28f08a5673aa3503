package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/yuya-takeyama/dedup-ingest/internal/worker"
)

// Options controls the process-wide logger
type Options struct {
	Level string // debug, info, warn, error
	JSON  bool
	Quiet bool // only warnings and errors
}

// ParseLevel maps a level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if name == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// NewHandler builds the handler for w: JSON when requested, otherwise tint
// with colour only on terminals.
func NewHandler(w io.Writer, opts Options) (slog.Handler, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	if opts.Quiet && level < slog.LevelWarn {
		level = slog.LevelWarn
	}

	if opts.JSON {
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	}

	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd())
	}
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
		NoColor:    noColor,
	}), nil
}

// Setup installs the default logger writing to stderr
func Setup(opts Options) (*slog.Logger, error) {
	handler, err := NewHandler(os.Stderr, opts)
	if err != nil {
		return nil, err
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

// PrintSummary prints a summary of the ingest run
func PrintSummary(w io.Writer, stats worker.Stats, duration time.Duration, quiet bool) {
	if quiet && !stats.HasFailures() {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "=== Summary ===")
	fmt.Fprintf(w, "Processed: %d files\n", stats.Processed)
	fmt.Fprintf(w, "Uploaded: %d files (%s inline)\n", stats.Uploaded, humanize.IBytes(uint64(stats.BytesInlined)))
	fmt.Fprintf(w, "Skipped: %d duplicates\n", stats.Skipped)
	if stats.Fallbacks > 0 {
		fmt.Fprintf(w, "Fallbacks: %d\n", stats.Fallbacks)
	}
	if stats.Failed > 0 {
		fmt.Fprintf(w, "Failed: %d\n", stats.Failed)
	}
	if stats.Errored > 0 {
		fmt.Fprintf(w, "Errored: %d\n", stats.Errored)
	}
	fmt.Fprintf(w, "Duration: %s\n", duration.Round(time.Millisecond))
}
