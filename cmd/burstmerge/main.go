package main

import (
	"context"
	"fmt"
	"os"

	"burstmerge/internal/cli"
	"burstmerge/internal/config"
	"burstmerge/internal/logging"
	"burstmerge/internal/pipeline"
	"burstmerge/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "burstmerge: %v\n", err)
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

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		logger.Warn("job journal unavailable", "path", cfg.Paths.DatabasePath, "error", err)
		store = nil
	}
	defer store.Close()

	ctx := context.Background()
	pipe := pipeline.New(ctx, cfg.Processing.ParallelJobs, logger, store, cfg)
	defer pipe.Stop()

	rootCmd := cli.NewRootCmd(cfg, logger, store, pipe)
	return rootCmd.Execute()
}
