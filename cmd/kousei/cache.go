package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/hyperjump/kousei/internal/cache"
	"github.com/hyperjump/kousei/internal/cli"
	"github.com/spf13/cobra"
)

var (
	cacheStatsJSON bool

	cleanupNotAccessedFor time.Duration
	cleanupMaxAge         time.Duration
	cleanupMinHits        int64
	cleanupMaxEntryBytes  int64
	cleanupLabel          string
	cleanupDryRun         bool
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the content-addressed cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics and maintenance hints",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove cache entries matching a cleanup policy",
	Long: `Removes cache entries matching any of the given criteria. Flags override the
cache.cleanup section of the config; with neither, nothing is removed. --label restricts
removal to entries with that label (for example hyde, knowledge or analysis/document).`,
	Args: cobra.NoArgs,
	RunE: runCacheCleanup,
}

func init() {
	cacheStatsCmd.Flags().BoolVar(&cacheStatsJSON, "json", false, "output JSON")

	f := cacheCleanupCmd.Flags()
	f.DurationVar(&cleanupNotAccessedFor, "not-accessed-for", 0, "remove entries idle for longer than this")
	f.DurationVar(&cleanupMaxAge, "max-age", 0, "remove entries older than this")
	f.Int64Var(&cleanupMinHits, "min-hits", 0, "remove entries read fewer times than this")
	f.Int64Var(&cleanupMaxEntryBytes, "max-entry-bytes", 0, "remove entries larger than this")
	f.StringVar(&cleanupLabel, "label", "", "only consider entries with this label")
	f.BoolVar(&cleanupDryRun, "dry-run", false, "report matching entries without removing them")

	cacheCmd.AddCommand(cacheStatsCmd, cacheCleanupCmd)
	rootCmd.AddCommand(cacheCmd)
}

func runCacheStats(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, sqlite, err := openCache(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer c.Close()

	stats, err := c.Stats(cmd.Context())
	if err != nil {
		return err
	}
	recs, err := c.Recommendations(cmd.Context())
	if err != nil {
		return err
	}
	report := &cli.CacheReport{Stats: stats, Recommendations: recs}
	if sqlite != nil {
		if report.DiskBytes, err = sqlite.DiskUsage(); err != nil {
			return fmt.Errorf("failed to measure cache size: %w", err)
		}
	}
	return cli.WriteCacheStats(cmd.OutOrStdout(), report, cli.FormatFor(cacheStatsJSON))
}

// cleanupPolicy overlays the flags that were set on the configured policy.
func cleanupPolicy(cmd *cobra.Command, base cache.CleanupPolicy) cache.CleanupPolicy {
	f := cmd.Flags()
	if f.Changed("not-accessed-for") {
		base.NotAccessedFor = cleanupNotAccessedFor
	}
	if f.Changed("max-age") {
		base.MaxAge = cleanupMaxAge
	}
	if f.Changed("min-hits") {
		base.MinHits = cleanupMinHits
	}
	if f.Changed("max-entry-bytes") {
		base.MaxEntryBytes = cleanupMaxEntryBytes
	}
	return base
}

func runCacheCleanup(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	pred, err := cleanupPolicy(cmd, cfg.Cache.Cleanup).Predicate(time.Now())
	if errors.Is(err, cache.ErrEmptyPolicy) {
		return errors.New("no cleanup criteria: pass a flag or set cache.cleanup in the config")
	}
	if err != nil {
		return err
	}
	if cleanupLabel != "" {
		pred = cache.AllOf(cache.LabelIs(cleanupLabel), pred)
	}

	ctx := cmd.Context()
	c, sqlite, err := openCache(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer c.Close()

	if cleanupDryRun {
		n, err := c.Count(ctx, pred)
		if err != nil {
			return err
		}
		cmd.Printf("%d entries would be removed\n", n)
		return nil
	}
	n, err := c.Cleanup(ctx, pred)
	if err != nil {
		return err
	}
	if sqlite != nil && n > 0 {
		if err := sqlite.Vacuum(ctx); err != nil {
			return fmt.Errorf("failed to vacuum cache: %w", err)
		}
	}
	cmd.Printf("Removed %d entries\n", n)
	return nil
}
