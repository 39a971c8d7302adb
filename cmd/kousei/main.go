// Command kousei prepares LaTeX papers for LLM proofreading: it chunks a paper, generates
// HyDE queries per chunk and retrieves matching proofreading knowledge.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hyperjump/kousei/internal/config"
	"github.com/hyperjump/kousei/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "0.1.0"

const defaultConfigName = "kousei.yaml"

var (
	configPath string
	debugFlag  bool
)

var rootCmd = &cobra.Command{
	Use:   "kousei",
	Short: "Retrieval pipeline for LaTeX proofreading",
	Long: `kousei splits LaTeX papers into chunks, generates hypothetical-document queries
for each chunk and retrieves proofreading knowledge extracted from style guides and
reviewed papers.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ./"+defaultConfigName+" or ~/.kousei/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "enable debug logging")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config file. An explicit --config must exist; otherwise
// ./kousei.yaml is preferred over ~/.kousei/config.yaml, and built-in defaults are used
// when neither exists. It returns the config and the path actually loaded ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	var candidates []string
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, defaultConfigName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".kousei", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			cfg, err := config.Load(c)
			if err != nil {
				return nil, "", err
			}
			return cfg, c, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}
	}
	cfg, err := config.Default()
	if err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// setup loads the configuration and builds the command logger. Logs go to stderr.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug := cfg.Debug || debugFlag
	logger, err := utils.NewCLILogger(debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debug))
	return cfg, logger, nil
}
