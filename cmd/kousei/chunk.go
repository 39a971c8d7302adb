package main

import (
	"fmt"

	"github.com/hyperjump/kousei/internal/analysis"
	"github.com/hyperjump/kousei/internal/chunking"
	"github.com/hyperjump/kousei/internal/cli"
	"github.com/hyperjump/kousei/internal/config"
	"github.com/hyperjump/kousei/internal/models"
	"github.com/spf13/cobra"
)

// modeAuto asks the chunker to pick a split mode from the document's structure.
const modeAuto = "auto"

var (
	chunkMode string
	chunkJSON bool
)

var chunkCmd = &cobra.Command{
	Use:   "chunk <file.tex>",
	Short: "Split a LaTeX document into chunks",
	Long: `Splits a LaTeX document with one of the split modes (section, command, sentence,
hybrid, recursive_nlp) and prints the resulting chunks. Use --mode auto to let the
chunker pick a mode from the document's structure.`,
	Args: cobra.ExactArgs(1),
	RunE: runChunk,
}

func init() {
	chunkCmd.Flags().StringVar(&chunkMode, "mode", "", "split mode, or \"auto\" (default from config)")
	chunkCmd.Flags().BoolVar(&chunkJSON, "json", false, "output JSON")
	rootCmd.AddCommand(chunkCmd)
}

// loadPaper reads path with the mode named by flag, falling back to the configured mode.
func loadPaper(cfg *config.Config, path, flag string) (*models.Document, error) {
	name := flag
	if name == "" {
		name = cfg.Chunking.Mode
	}
	if name == modeAuto {
		doc, err := analysis.LoadDocument(path, models.SplitHybrid)
		if err != nil {
			return nil, err
		}
		doc.Mode = chunking.Recommend(doc.Text)
		return doc, nil
	}
	mode, err := models.ParseSplitMode(name)
	if err != nil {
		return nil, err
	}
	return analysis.LoadDocument(path, mode)
}

func runChunk(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	doc, err := loadPaper(cfg, args[0], chunkMode)
	if err != nil {
		return err
	}
	chunker, err := chunking.NewChunker(cfg.Chunking.Constraints(), chunking.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to initialize chunker: %w", err)
	}
	chunks, err := chunker.Chunk(doc)
	if err != nil {
		return err
	}
	return cli.WriteChunks(cmd.OutOrStdout(), doc, chunks, cli.FormatFor(chunkJSON))
}
