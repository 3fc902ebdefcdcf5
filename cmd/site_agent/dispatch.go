package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/dispatch"
	"github.com/jonathan/site-deployer/internal/notify"
	"github.com/jonathan/site-deployer/internal/observability"
)

var (
	dispatchRound    int
	dispatchCSV      string
	dispatchEndpoint string
	dispatchAttempts int
	dispatchPause    time.Duration
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Send round tasks to student endpoints",
	Long: `Round 1 sends a sum-of-sales task to every row of the submission CSV (endpoint, email, secret).
Round 2 sends the follow-up task to every email with a recorded publication, using the CSV row
for that email when present and --endpoint with the shared secret otherwise.`,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().IntVar(&dispatchRound, "round", 1, "Round to dispatch (1 or 2)")
	dispatchCmd.Flags().StringVar(&dispatchCSV, "csv", "", "Submission CSV (default from SUBMISSION_CSV)")
	dispatchCmd.Flags().StringVar(&dispatchEndpoint, "endpoint", "", "Round 2 intake endpoint for emails missing from the CSV")
	dispatchCmd.Flags().IntVar(&dispatchAttempts, "attempts", dispatch.DefaultMaxAttempts, "Attempts per task")
	dispatchCmd.Flags().DurationVar(&dispatchPause, "pause", dispatch.DefaultPause, "Wait between tasks")
	rootCmd.AddCommand(dispatchCmd)
}

func runDispatch(cmd *cobra.Command, _ []string) error {
	if dispatchRound != 1 && dispatchRound != 2 {
		return fmt.Errorf("--round must be 1 or 2, got %d", dispatchRound)
	}
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	csvPath := dispatchCSV
	if csvPath == "" {
		csvPath = cfg.SubmissionCSV
	}
	subs, err := readSubmissionFile(csvPath, dispatchRound == 1)
	if err != nil {
		return err
	}

	var jobs []dispatch.Job
	if dispatchRound == 1 {
		jobs = dispatch.RoundOneJobs(subs, cfg.EvaluationURL, dispatch.Seed(time.Now()))
	} else {
		store, err := db.Open(ctx, db.Options{DatabaseURL: cfg.DatabaseURL, Path: cfg.DBPath})
		if err != nil {
			return fmt.Errorf("failed to open record store: %w", err)
		}
		pubs, err := store.ListPublications(ctx)
		_ = store.Close()
		if err != nil {
			return err
		}

		var skipped []string
		jobs, skipped = dispatch.RoundTwoJobs(dispatch.PublishedEmails(pubs), subs, dispatchEndpoint, cfg.SharedSecret, cfg.EvaluationURL)
		for _, email := range skipped {
			logger.Warn("no endpoint for published email, skipping", slog.String("email", email))
		}
	}

	sender := notify.New(logger, notify.WithAttemptTimeout(cfg.NotifyAttemptTimeout), notify.WithInitialBackoff(cfg.NotifyInitialBackoff))
	d := dispatch.New(sender, dispatch.Options{MaxAttempts: dispatchAttempts, Pause: dispatchPause}, logger)
	sent, err := d.Send(ctx, jobs)
	observability.NewPrinter(cmd.OutOrStdout()).PrintDispatch(dispatchRound, sent)
	return err
}

// readSubmissionFile loads the CSV. A missing file is only an error when required.
func readSubmissionFile(path string, required bool) ([]dispatch.Submission, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open submission file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return dispatch.ReadSubmissions(f)
}
