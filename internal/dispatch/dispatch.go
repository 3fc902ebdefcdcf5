// Package dispatch builds round tasks and sends them to student endpoints.
package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/types"
)

// Defaults for sending
const (
	DefaultMaxAttempts = 3
	DefaultPause       = time.Second
)

// RoundOneTemplate is the task family sent in round 1
const RoundOneTemplate = "sum-of-sales"

// RoundTwoTaskName is the task sent to every published student in round 2
const RoundTwoTaskName = "round2-task"

// sampleCSV is the data.csv attachment of a round 1 task
const sampleCSV = "product,sale\nA,100\nB,50\n"

var requiredColumns = []string{"endpoint", "email", "secret"}

// Submission is one registered student endpoint
type Submission struct {
	Endpoint string
	Email    string
	Secret   string
}

// Job is a task addressed to an endpoint
type Job struct {
	Endpoint string
	Task     types.TaskRequest
}

// Sent records the delivery of one job
type Sent struct {
	Job
	Delivered bool
}

// ReadSubmissions parses a CSV with a header row naming at least the
// endpoint, email and secret columns. Rows with an empty endpoint or email
// are rejected.
func ReadSubmissions(r io.Reader) ([]Submission, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("submission file is empty")
		}
		return nil, fmt.Errorf("failed to read submission header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, fmt.Errorf("submission file is missing the %q column", col)
		}
	}

	var subs []Submission
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read submission line %d: %w", line, err)
		}
		sub := Submission{
			Endpoint: strings.TrimSpace(record[index["endpoint"]]),
			Email:    strings.TrimSpace(record[index["email"]]),
			Secret:   record[index["secret"]],
		}
		if sub.Endpoint == "" || sub.Email == "" {
			return nil, fmt.Errorf("submission line %d needs an endpoint and an email", line)
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

// RoundOneTask builds the sum-of-sales task for a student. seed picks the
// task suffix and the page title.
func RoundOneTask(email, secret, evaluationURL string, seed int) types.TaskRequest {
	suffix := strconv.Itoa(seed)
	if len(suffix) > 5 {
		suffix = suffix[:5]
	}
	round := 1
	return types.TaskRequest{
		Email:  email,
		Secret: secret,
		Task:   RoundOneTemplate + "-" + suffix,
		Round:  &round,
		Nonce:  uuid.NewString(),
		Brief: fmt.Sprintf("Publish a single-page site that fetches data.csv from attachments, sums its sales column, "+
			"sets the title to 'Sales Summary %d', displays the total inside #total-sales, and loads Bootstrap 5 from jsdelivr.", seed),
		Checks: rawChecks(
			"Repo has MIT license",
			"README.md is professional",
			"Page displays total inside #total-sales",
		),
		EvaluationURL: evaluationURL,
		Attachments: []types.Attachment{{
			Name: "data.csv",
			URL:  "data:text/csv;base64," + base64.StdEncoding.EncodeToString([]byte(sampleCSV)),
		}},
	}
}

// RoundTwoTask builds the follow-up task sent after a first publication
func RoundTwoTask(email, secret, evaluationURL string) types.TaskRequest {
	round := 2
	return types.TaskRequest{
		Email:         email,
		Secret:        secret,
		Task:          RoundTwoTaskName,
		Round:         &round,
		Nonce:         uuid.NewString(),
		Brief:         "Round 2: generate a site that visualizes your previous results in a chart",
		Checks:        rawChecks("Chart displays total correctly", "MIT license", "README present"),
		EvaluationURL: evaluationURL,
	}
}

// Seed derives the round 1 seed from a clock reading
func Seed(now time.Time) int {
	return int(now.Unix() % 100000)
}

// RoundOneJobs addresses a round 1 task to every submission
func RoundOneJobs(subs []Submission, evaluationURL string, seed int) []Job {
	jobs := make([]Job, 0, len(subs))
	for _, sub := range subs {
		jobs = append(jobs, Job{Endpoint: sub.Endpoint, Task: RoundOneTask(sub.Email, sub.Secret, evaluationURL, seed)})
	}
	return jobs
}

// PublishedEmails returns each email with a publication once, in first-seen order
func PublishedEmails(pubs []db.Publication) []string {
	seen := make(map[string]bool, len(pubs))
	var emails []string
	for _, pub := range pubs {
		if pub.Email == "" || seen[pub.Email] {
			continue
		}
		seen[pub.Email] = true
		emails = append(emails, pub.Email)
	}
	return emails
}

// RoundTwoJobs addresses a round 2 task to every email. The endpoint and
// secret come from the matching submission when there is one, else from
// the fallbacks. Emails left without an endpoint are returned as skipped.
func RoundTwoJobs(emails []string, subs []Submission, fallbackEndpoint, fallbackSecret, evaluationURL string) (jobs []Job, skipped []string) {
	byEmail := make(map[string]Submission, len(subs))
	for _, sub := range subs {
		byEmail[sub.Email] = sub
	}
	for _, email := range emails {
		endpoint, secret := fallbackEndpoint, fallbackSecret
		if sub, ok := byEmail[email]; ok {
			endpoint, secret = sub.Endpoint, sub.Secret
		}
		if endpoint == "" {
			skipped = append(skipped, email)
			continue
		}
		jobs = append(jobs, Job{Endpoint: endpoint, Task: RoundTwoTask(email, secret, evaluationURL)})
	}
	return jobs, skipped
}

// Sender posts a JSON payload with retries
type Sender interface {
	Deliver(ctx context.Context, url string, payload any, maxAttempts int) bool
}

// Options configures a Dispatcher
type Options struct {
	MaxAttempts int
	// Pause is the wait between two jobs
	Pause time.Duration
}

// Dispatcher sends jobs one at a time
type Dispatcher struct {
	sender Sender
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// New creates a Dispatcher
func New(sender Sender, opts Options, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}
	return &Dispatcher{sender: sender, opts: opts, sleep: sleepContext, logger: logger}
}

// Send delivers every job in order and reports each outcome. A failed
// delivery does not stop the run; ctx cancellation does.
func (d *Dispatcher) Send(ctx context.Context, jobs []Job) ([]Sent, error) {
	sent := make([]Sent, 0, len(jobs))
	for i, job := range jobs {
		if i > 0 && d.opts.Pause > 0 {
			if err := d.sleep(ctx, d.opts.Pause); err != nil {
				return sent, err
			}
		}
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		ok := d.sender.Deliver(ctx, job.Endpoint, job.Task, d.opts.MaxAttempts)
		log := d.logger.With(slog.String("endpoint", job.Endpoint), slog.String("key", job.Task.Key().String()))
		if ok {
			log.Info("task dispatched")
		} else {
			log.Warn("task not accepted")
		}
		sent = append(sent, Sent{Job: job, Delivered: ok})
	}
	return sent, nil
}

func rawChecks(checks ...string) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(checks))
	for _, c := range checks {
		b, _ := json.Marshal(c)
		out = append(out, b)
	}
	return out
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
