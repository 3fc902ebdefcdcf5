package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jonathan/site-deployer/internal/config"
	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/generator"
	"github.com/jonathan/site-deployer/internal/llm"
	"github.com/jonathan/site-deployer/internal/notify"
	"github.com/jonathan/site-deployer/internal/pipeline"
	"github.com/jonathan/site-deployer/internal/publish"
	"github.com/jonathan/site-deployer/internal/server"
	"github.com/jonathan/site-deployer/internal/server/ratelimit"
)

var (
	servePort      int
	serveWhitelist string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the intake server",
	Long:  `Start an HTTP server that accepts task requests on /api-endpoint and publication reports on /evaluation/notify.`,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides PORT)")
	serveCmd.Flags().StringVar(&serveWhitelist, "rate-limit-whitelist", "", "Comma-separated client IPs exempt from rate limiting")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Port = servePort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, db.Options{DatabaseURL: cfg.DatabaseURL, Path: cfg.DBPath})
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}

	app, err := buildPipeline(ctx, cfg, store, logger)
	if err != nil {
		_ = store.Close()
		return err
	}
	defer app.close()

	srv := server.New(server.Config{
		Port:         cfg.Port,
		MaxBodyBytes: cfg.MaxBodyBytes,
		DrainTimeout: cfg.DeliveryCeiling(),
		RateLimit:    ratelimit.NewConfig(cfg.RateLimitEnabled, cfg.RateLimitRPS, cfg.RateLimitBurst, serveWhitelist),
	}, app.pipeline, app.background, store, logger)

	logger.Info("publish target ready", slog.String("mode", cfg.PublishMode))
	return srv.Start(ctx)
}

// application holds the wired pipeline and what must be released with it
type application struct {
	pipeline   *pipeline.Pipeline
	background *pipeline.Background
	llmClient  llm.Client
}

func (a *application) close() {
	if a.llmClient != nil {
		_ = a.llmClient.Close()
	}
}

// buildPipeline wires generator, publish target and notifier around store
func buildPipeline(ctx context.Context, cfg *config.Config, store db.Store, logger *slog.Logger) (*application, error) {
	app := &application{}

	var gen generator.Generator = generator.Default(logger)
	if cfg.GeminiAPIKey != "" {
		client, err := llm.NewClient(ctx, llm.DefaultConfig(), cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		app.llmClient = client
		gen = generator.NewEnriched(gen, client, logger)
		logger.Info("README enrichment enabled")
	}

	target, err := publish.NewFromConfig(ctx, cfg)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("failed to create publish target: %w", err)
	}

	notifier := notify.New(logger,
		notify.WithAttemptTimeout(cfg.NotifyAttemptTimeout),
		notify.WithInitialBackoff(cfg.NotifyInitialBackoff),
	)

	app.background = pipeline.NewBackground(logger)
	app.pipeline = pipeline.New(store, gen, target, notifier, app.background, pipeline.Options{
		SharedSecret:      cfg.SharedSecret,
		NotifyMaxAttempts: cfg.NotifyMaxAttempts,
		DeliveryCeiling:   cfg.DeliveryCeiling(),
		Owner:             cfg.GitHubUser,
	}, logger)
	return app, nil
}
