package main

import (
	"github.com/hyperjump/kousei/internal/cli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	enrichMode    string
	enrichWorkers int
	enrichJSON    bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich <file.tex>",
	Short: "Retrieve proofreading knowledge for every chunk of a paper",
	Long: `Chunks a LaTeX paper, generates HyDE queries for each chunk and retrieves matching
knowledge items. Chunks whose query generation or retrieval fails are still reported,
marked as fallback or degraded.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().StringVar(&enrichMode, "mode", "", "split mode, or \"auto\" (default from config)")
	enrichCmd.Flags().IntVar(&enrichWorkers, "workers", 0, "chunks processed concurrently (default from config)")
	enrichCmd.Flags().BoolVar(&enrichJSON, "json", false, "output JSON")
	rootCmd.AddCommand(enrichCmd)
}

func runEnrich(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()
	if enrichWorkers > 0 {
		cfg.Pipeline.Workers = enrichWorkers
	}

	doc, err := loadPaper(cfg, args[0], enrichMode)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	if n, err := components.Store.Count(ctx); err == nil && n == 0 {
		logger.Warn("knowledge base is empty; run kousei ingest first")
	}
	results, err := components.Enricher.Enrich(ctx, doc)
	if results != nil {
		if werr := cli.WriteEnriched(cmd.OutOrStdout(), results, cli.FormatFor(enrichJSON)); werr != nil {
			return werr
		}
	}
	if err != nil {
		logger.Warn("enrichment interrupted", zap.Int("completed", len(results)), zap.Error(err))
	}
	return err
}
