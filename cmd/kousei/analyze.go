package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kousei/internal/analysis"
	"github.com/hyperjump/kousei/internal/cli"
	"github.com/spf13/cobra"
)

var (
	analyzePage int
	analyzeJSON bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Extract the text of a document",
	Long: `Extracts the text of a PDF, Office, OpenDocument or text file page by page. Results
are cached by content, so analyzing the same file again is served from the cache.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().IntVar(&analyzePage, "page", 0, "print only this page (1-based)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "output JSON")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	path := args[0]
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	c, _, err := openCache(cmd.Context(), cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer c.Close()

	analyzer := analysis.NewCachedAnalyzer(analysis.NewLocalAnalyzer(), c,
		analysis.WithRetryPolicy(cfg.Retry), analysis.WithLogger(logger))
	result, err := analyzer.Analyze(cmd.Context(), content, filepath.Ext(path))
	if err != nil {
		return err
	}

	pages := result.Pages
	if analyzePage > 0 {
		pages = nil
		for _, p := range result.Pages {
			if p.Number == analyzePage {
				pages = append(pages, p)
			}
		}
		if len(pages) == 0 {
			return fmt.Errorf("%s has no page %d (%d pages)", path, analyzePage, result.PageCount())
		}
	}

	if analyzeJSON {
		view := *result
		view.Pages = pages
		if analyzePage > 0 {
			view.Content = pages[0].Content
		}
		return cli.WriteJSON(cmd.OutOrStdout(), view)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %s, %d pages", path, result.Format, result.PageCount())
	if result.Encoding != "" {
		fmt.Fprintf(out, ", %s", result.Encoding)
	}
	fmt.Fprintln(out)
	for _, p := range pages {
		fmt.Fprintf(out, "--- page %d ---\n%s\n", p.Number, p.Content)
	}
	return nil
}
