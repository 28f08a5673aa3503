package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yuya-takeyama/dedup-ingest/internal/catalog"
	"github.com/yuya-takeyama/dedup-ingest/internal/config"
	"github.com/yuya-takeyama/dedup-ingest/internal/esclient"
	"github.com/yuya-takeyama/dedup-ingest/internal/ingest"
	"github.com/yuya-takeyama/dedup-ingest/internal/linkstore"
	"github.com/yuya-takeyama/dedup-ingest/internal/logging"
	"github.com/yuya-takeyama/dedup-ingest/internal/walker"
	"github.com/yuya-takeyama/dedup-ingest/internal/worker"
	"github.com/yuya-takeyama/dedup-ingest/pkg/logger"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	builtBy = "unknown"
)

var (
	configFile     string
	check          bool
	strict         bool
	progressBar    bool
	quiet          bool
	logLevel       string
	logJSON        bool
	resultJSONFile string
)

// configFlags maps flag names to config keys
var configFlags = map[string]string{
	"files":            "ingest.files",
	"max-size":         "ingest.max_size",
	"link-dir":         "ingest.link_dir",
	"link-store":       "ingest.link_store",
	"marker":           "ingest.marker",
	"exclude":          "ingest.exclude",
	"concurrency":      "ingest.concurrency",
	"attempts":         "ingest.attempts",
	"backoff":          "ingest.backoff",
	"timeout":          "ingest.timeout",
	"catalog":          "catalog.enabled",
	"catalog-path":     "catalog.path",
	"elastic-scheme":   "elastic.scheme",
	"elastic-host":     "elastic.host",
	"elastic-port":     "elastic.port",
	"elastic-user":     "elastic.user",
	"elastic-index":    "elastic.index",
	"elastic-pipeline": "elastic.pipeline",
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "dedup-ingest [files]",
		Short: "Deduplicating bulk ingester for a search index",
		Long: `dedup-ingest fingerprints every regular file under a tree with SHA-256,
claims each distinct content once through a link directory, and submits one
CBOR document per content to a search index ingest pipeline.`,
		Version:           fmt.Sprintf("%s (commit: %s, built at: %s by %s)", version, commit, date, builtBy),
		Args:              cobra.MaximumNArgs(1),
		SilenceUsage:      true,
		PersistentPreRunE: setupLogging,
		RunE:              run,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ./ingest.{yaml,json,toml})")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log as JSON")

	flags := rootCmd.Flags()
	flags.String("files", "", "Root of the tree to ingest")
	flags.String("max-size", "", "Largest file sent with its content, e.g. 100MB")
	flags.String("link-dir", "", "Link directory")
	flags.String("link-store", "", "s3://bucket/prefix to keep links in S3 instead of the link directory")
	flags.String("marker", "", "Completion marker path")
	flags.StringSlice("exclude", nil, "Exclude patterns (multiple allowed)")
	flags.Int("concurrency", 0, "Number of workers (0 = one per CPU)")
	flags.Int("attempts", 0, "Attempts per document")
	flags.Duration("backoff", 0, "Delay between attempts")
	flags.Duration("timeout", 0, "Per-request timeout")
	flags.Bool("catalog", false, "Record path and fingerprint of every file in sqlite")
	flags.String("catalog-path", "", "Catalog database path")
	flags.String("elastic-scheme", "", "Index URL scheme")
	flags.String("elastic-host", "", "Index host")
	flags.Int("elastic-port", 0, "Index port")
	flags.String("elastic-user", "", "Index user")
	flags.String("elastic-index", "", "Index name")
	flags.String("elastic-pipeline", "", "Ingest pipeline name")
	flags.BoolVar(&check, "check", false, "Verify the index is reachable before starting")
	flags.BoolVar(&strict, "strict", false, "Exit non-zero when any file failed")
	flags.BoolVar(&progressBar, "progress", false, "Show a progress bar on terminals")
	flags.StringVar(&resultJSONFile, "result-json-file", "", "Path to output result as JSON file")

	rootCmd.AddCommand(newRelocateCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command, args []string) error {
	_, err := logging.Setup(logging.Options{Level: logLevel, JSON: logJSON, Quiet: quiet})
	return err
}

// loadConfig layers the config file, environment and changed flags
func loadConfig(cmd *cobra.Command, args []string) (config.Config, error) {
	v := config.New()
	if err := config.ReadFile(v, configFile); err != nil {
		return config.Config{}, err
	}

	if err := bindFlags(v, cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	if len(args) == 1 {
		v.Set("ingest.files", args[0])
	}

	return config.Load(v)
}

// bindFlags binds only flags the user set, so flag zero values never mask
// file or environment settings
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range configFlags {
		flag := flags.Lookup(name)
		if flag == nil || !flag.Changed {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return err
	}

	links, err := linkstore.Open(ctx, cfg.LinkStore, cfg.LinkDir)
	if err != nil {
		return fmt.Errorf("open link store: %w", err)
	}

	client := esclient.New(cfg.ClientConfig())
	if check {
		if err := client.Ping(ctx); err != nil {
			return fmt.Errorf("index check failed: %w", err)
		}
	}

	proc := &ingest.Processor{
		Links:     links,
		Uploader:  client,
		Threshold: cfg.MaxSize,
		Logger:    slog.Default(),
	}

	skip := []string{cfg.Marker}
	if fsLinks, ok := links.(*linkstore.FSStore); ok {
		skip = append(skip, fsLinks.Dir())
	}

	if cfg.Catalog.Enabled {
		cat, err := catalog.Open(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		defer cat.Close()
		proc.Catalog = cat
		skip = append(skip, cfg.Catalog.Path, cfg.Catalog.Path+"-wal", cfg.Catalog.Path+"-shm")
	}

	w, err := walker.NewWalker(cfg.Files, cfg.Exclude, walker.WithSkip(skip...))
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}

	files, err := w.Walk(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate files: %w", err)
	}
	slog.Info("enumerated files", "root", w.Root(), "files", len(files))

	pool := worker.NewPool(proc, cfg.Concurrency, newObserver())
	results, stats := pool.Execute(ctx, files)

	if ctx.Err() == nil {
		if err := worker.WriteMarker(cfg.Marker); err != nil {
			return err
		}
	}

	if resultJSONFile != "" {
		if err := writeRunResult(resultJSONFile, results, stats); err != nil {
			return fmt.Errorf("failed to write result JSON: %w", err)
		}
	}

	logging.PrintSummary(os.Stdout, stats, time.Since(start), quiet)

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if strict && stats.HasFailures() {
		return fmt.Errorf("%d files failed", stats.Failed+stats.Errored)
	}
	return nil
}

func newObserver() logger.Observer {
	switch {
	case quiet:
		return &logger.QuietLogger{Out: os.Stderr}
	case progressBar && isatty.IsTerminal(os.Stderr.Fd()):
		return logger.NewBarLogger(os.Stderr)
	default:
		return &logger.VerboseLogger{Logger: slog.Default()}
	}
}

func getAbsolutePath(path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path // fallback to original path
	}
	return absPath
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	var exhausted *esclient.ExhaustedError
	if errors.As(err, &exhausted) {
		return fmt.Sprintf("gave up after %d attempts: %v", exhausted.Attempts, exhausted.Last)
	}
	return err.Error()
}
