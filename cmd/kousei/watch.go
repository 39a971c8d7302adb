package main

import (
	"context"
	"errors"
	"sync"

	"github.com/hyperjump/kousei/internal/knowledge"
	"github.com/hyperjump/kousei/internal/watcher"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the knowledge base in sync with the knowledge directories",
	Long: `Watches the configured knowledge directories and ingests files as they are created
or changed. Existing files are ingested on start unless watch.sync_on_start is false.
Unchanged content is served from the cache, so a full sync is cheap.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if len(cfg.Knowledge.Directories) == 0 {
		return errors.New("no knowledge directories configured")
	}

	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	var saveMu sync.Mutex
	onChange := func(ctx context.Context, path string) {
		r, err := components.Ingestor.IngestFile(ctx, path, "")
		if err != nil {
			logger.Warn("watch ingest failed", zap.String("path", path), zap.Error(err))
			return
		}
		if r.Written == 0 {
			return
		}
		saveMu.Lock()
		defer saveMu.Unlock()
		if err := components.SaveSnapshot(); err != nil {
			logger.Warn("snapshot save failed", zap.Error(err))
		}
	}

	w := watcher.New(cfg.Knowledge.Directories, onChange,
		watcher.WithFilter(knowledge.Supports),
		watcher.WithDebounce(cfg.Watch.Debounce),
		watcher.WithLogger(logger),
	)
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()
	if cfg.Watch.SyncOnStartOrDefault() {
		w.Sync(ctx)
	}

	cmd.Printf("Watching %d knowledge directories. Press Ctrl+C to stop.\n", len(w.Roots()))
	<-ctx.Done()
	logger.Info("shutting down watcher")
	return nil
}
