package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hyperjump/kousei/internal/cli"
	"github.com/hyperjump/kousei/internal/knowledge"
	"github.com/spf13/cobra"
)

var (
	ingestType string
	ingestJSON bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path]",
	Short: "Extract knowledge from reference documents",
	Long: `Extracts proofreading knowledge from a file or a directory of style guides and
reviewed papers and adds it to the knowledge base. Without a path, every configured
knowledge directory is ingested. The knowledge type defaults to the name of the
directory holding each file.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestType, "type", "", "knowledge type (default: parent directory name)")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer logger.Sync()

	paths := cfg.Knowledge.Directories
	if len(args) == 1 {
		paths = args
	}
	if len(paths) == 0 {
		return errors.New("no path given and no knowledge directories configured")
	}

	ctx := cmd.Context()
	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	reports, ingestErr := ingestPaths(ctx, components.Ingestor, paths, ingestType)
	if err := components.SaveSnapshot(); err != nil {
		return err
	}
	if err := cli.WriteIngestReports(cmd.OutOrStdout(), reports, cli.FormatFor(ingestJSON)); err != nil {
		return err
	}
	return ingestErr
}

// ingestPaths ingests each file or directory. Failures are collected and the remaining
// paths are still processed.
func ingestPaths(ctx context.Context, ing *knowledge.Ingestor, paths []string, knowledgeType string) ([]*knowledge.IngestReport, error) {
	var reports []*knowledge.IngestReport
	var errs []error
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to stat %s: %w", p, err))
			continue
		}
		if info.IsDir() {
			rs, err := ing.IngestDir(ctx, p, knowledgeType)
			reports = append(reports, rs...)
			if err != nil {
				errs = append(errs, err)
			}
			continue
		}
		r, err := ing.IngestFile(ctx, p, knowledgeType)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		reports = append(reports, r)
	}
	return reports, errors.Join(errs...)
}
