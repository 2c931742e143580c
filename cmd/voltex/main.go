package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"voltex/internal/cli"
	"voltex/internal/config"
	"voltex/internal/convert"
	"voltex/internal/logging"
	"voltex/internal/pipeline"
	"voltex/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "voltex: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	ds, err := config.LoadDataset(datasetPath(cfg))
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		return fmt.Errorf("open run store: %w", err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conv := convert.New(convert.Options{
		Dataset:   ds,
		Output:    cfg.Paths.Output,
		Lookahead: cfg.Processing.Lookahead,
		Compress:  cfg.Processing.Compress,
		Logger:    logger,
	})

	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, logger, store, conv)
	defer pipe.Stop()

	rootCmd := cli.NewRootCmd(cfg, ds, logger, store, pipe)
	return rootCmd.ExecuteContext(ctx)
}

// datasetPath resolves the dataset description file, treating relative
// paths as data-root relative.
func datasetPath(cfg *config.Config) string {
	p := cfg.Paths.DatasetFile
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.Paths.DataRoot, p)
}
