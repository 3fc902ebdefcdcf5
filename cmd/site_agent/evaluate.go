package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/evaluation"
	"github.com/jonathan/site-deployer/internal/fetch"
	"github.com/jonathan/site-deployer/internal/observability"
)

var (
	evaluateBrowser     bool
	evaluateConcurrency int
	evaluateTimeout     time.Duration
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run acceptance checks on every recorded publication",
	Long:  "Checks each publication for an MIT LICENSE and for the #total-sales or #brief element on its page, and stores one result per check.",
	RunE:  runEvaluate,
}

func init() {
	evaluateCmd.Flags().BoolVar(&evaluateBrowser, "browser", false, "Render pages in headless Chrome before checking")
	evaluateCmd.Flags().IntVar(&evaluateConcurrency, "concurrency", 4, "Publications evaluated at once")
	evaluateCmd.Flags().DurationVar(&evaluateTimeout, "timeout", 10*time.Second, "Timeout per fetch")
	rootCmd.AddCommand(evaluateCmd)
}

func runEvaluate(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	store, err := db.Open(ctx, db.Options{DatabaseURL: cfg.DatabaseURL, Path: cfg.DBPath})
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() { _ = store.Close() }()

	opts := evaluation.Options{Concurrency: evaluateConcurrency, Timeout: evaluateTimeout}
	if evaluateBrowser {
		opts.Render = func(ctx context.Context, url string) (string, error) {
			return fetch.WithBrowser(ctx, url, 20*time.Second, logger)
		}
	}

	pubs, err := store.ListPublications(ctx)
	if err != nil {
		return err
	}
	printer := observability.NewPrinter(cmd.OutOrStdout())
	printer.PrintPublications(pubs)

	results, err := evaluation.New(store, opts, logger).Run(ctx)
	if err != nil {
		return fmt.Errorf("evaluation failed: %w", err)
	}
	printer.PrintResults(results)
	return nil
}
