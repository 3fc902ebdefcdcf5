// Package main provides the entry point for the site deployer service and its tools.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonathan/site-deployer/internal/config"
	"github.com/jonathan/site-deployer/internal/observability"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "site_agent",
	Short:        "Site Deployer task fulfillment service",
	Long:         "Site Deployer accepts task briefs over HTTP, generates a static site for each, publishes it, and notifies the caller's evaluation endpoint.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a config file (optional; environment variables take precedence)")
}

// loadConfig reads and validates configuration and builds the process logger
func loadConfig(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	logger := observability.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, isTerminal(os.Stderr))
	return cfg, logger, nil
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
