package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/yuya-takeyama/dedup-ingest/internal/catalog"
	"github.com/yuya-takeyama/dedup-ingest/internal/relocate"
	"github.com/yuya-takeyama/dedup-ingest/internal/walker"
)

var (
	relocateCatalogPath string
	relocateNoCatalog   bool
	relocateExcludes    []string
)

func newRelocateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relocate <source> <dest> <copy|move>",
		Short: "Copy or move files into a sha256-named tree and record them in the catalog",
		Args:  cobra.ExactArgs(3),
		RunE:  runRelocate,
	}

	cmd.Flags().StringVar(&relocateCatalogPath, "catalog-path", "file_hashes.db", "Catalog database path")
	cmd.Flags().BoolVar(&relocateNoCatalog, "no-catalog", false, "Do not record files in the catalog")
	cmd.Flags().StringSliceVar(&relocateExcludes, "exclude", nil, "Exclude patterns (multiple allowed)")

	return cmd
}

func runRelocate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	source, dest := args[0], args[1]

	mode, err := relocate.ParseMode(args[2])
	if err != nil {
		return err
	}

	if info, err := os.Stat(dest); err == nil && !info.IsDir() {
		return fmt.Errorf("destination %q exists and is not a directory", dest)
	}

	r := &relocate.Relocator{
		Dest:     dest,
		Mode:     mode,
		Observer: newObserver(),
		Logger:   slog.Default(),
	}

	skip := []string{dest}
	if !relocateNoCatalog {
		cat, err := catalog.Open(relocateCatalogPath)
		if err != nil {
			return err
		}
		defer cat.Close()
		r.Catalog = cat
		skip = append(skip, relocateCatalogPath, relocateCatalogPath+"-wal", relocateCatalogPath+"-shm")
	}

	w, err := walker.NewWalker(source, relocateExcludes, walker.WithSkip(skip...))
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	files, err := w.Walk(ctx)
	if err != nil {
		return fmt.Errorf("failed to enumerate files: %w", err)
	}

	results, err := r.Run(ctx, files)
	var failed int
	for _, res := range results {
		if res.Err != nil {
			failed++
		}
	}
	slog.Info("relocate finished", "dest", getAbsolutePath(filepath.Clean(dest)), "files", len(results), "failed", failed)
	if err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d files failed", failed)
	}
	return nil
}
