// Package pipeline fulfills task requests: it persists, authorizes,
// generates, publishes, records, and hands notification to the background.
package pipeline

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/generator"
	"github.com/jonathan/site-deployer/internal/notify"
	"github.com/jonathan/site-deployer/internal/pipeline/steps"
	"github.com/jonathan/site-deployer/internal/publish"
	"github.com/jonathan/site-deployer/internal/schemas"
	"github.com/jonathan/site-deployer/internal/types"
)

// Notifier delivers the completion payload to a callback URL
type Notifier interface {
	Deliver(ctx context.Context, url string, payload any, maxAttempts int) bool
}

// Options holds pipeline settings
type Options struct {
	SharedSecret      string
	NotifyMaxAttempts int
	// DeliveryCeiling is the advisory end-to-end budget for notification.
	// Deliveries that outlive it are logged, not canceled.
	DeliveryCeiling time.Duration
	// Owner is the license holder written into generated sites
	Owner string
}

// Response is returned to the caller of Submit
type Response struct {
	OK       bool    `json:"ok"`
	Message  string  `json:"message"`
	RepoURL  *string `json:"repo_url"`
	PagesURL *string `json:"pages_url"`
}

// Ack is returned to the caller of Report
type Ack struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Pipeline orchestrates task fulfillment
type Pipeline struct {
	store      db.Store
	generator  generator.Generator
	target     publish.Target
	notifier   Notifier
	background *Background
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

// New creates a Pipeline. background may be shared with other components.
func New(store db.Store, gen generator.Generator, target publish.Target, notifier Notifier, background *Background, opts Options, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.NotifyMaxAttempts <= 0 {
		opts.NotifyMaxAttempts = notify.DefaultMaxAttempts
	}
	return &Pipeline{
		store:      store,
		generator:  gen,
		target:     target,
		notifier:   notifier,
		background: background,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit runs a task request through the pipeline. Rejections are returned
// as *MissingFieldsError, *InvalidPayloadError or *SecretMismatchError; any
// other error is an internal failure. Once the task row is written, ctx
// cancellation no longer stops the remaining steps. Notification is started
// before returning and is not awaited.
func (p *Pipeline) Submit(ctx context.Context, raw []byte) (*Response, error) {
	sub := newSubmission(p.logger)

	req, err := decodeTaskRequest(raw)
	if err != nil {
		p.reject(sub, err)
		return nil, err
	}
	if err := sub.advance(StateValidated); err != nil {
		return nil, err
	}

	key := req.Key()
	log := p.logger.With(slog.String("key", key.String()))
	sub.logger = log
	completed := map[string]bool{}

	// Secret outcome is recorded before it is enforced
	secretOK := subtle.ConstantTimeCompare([]byte(req.Secret), []byte(p.opts.SharedSecret)) == 1
	submittedAt := p.now().UTC()

	checks, err := marshalChecks(req.Checks)
	if err != nil {
		return nil, p.fail(sub, steps.PersistTask, err)
	}
	task := &db.Task{
		ID:            uuid.New(),
		Timestamp:     submittedAt,
		Email:         req.Email,
		Task:          req.Task,
		Round:         key.Round,
		Nonce:         req.Nonce,
		Brief:         req.Brief,
		Checks:        checks,
		EvaluationURL: req.EvaluationURL,
		SecretOK:      secretOK,
		RawRequest:    requestSnapshot(raw),
	}
	if err := p.store.InsertTask(ctx, task); err != nil {
		return nil, p.fail(sub, steps.PersistTask, err)
	}
	completed[steps.PersistTask] = true
	if err := sub.advance(StatePersisted); err != nil {
		return nil, err
	}

	// The caller hanging up must not stop a recorded task short of its
	// publication row and notification.
	ctx = context.WithoutCancel(ctx)

	if !secretOK {
		log.Warn("secret mismatch, task recorded and rejected", slog.String("task_id", task.ID.String()))
		rejection := &SecretMismatchError{Key: key}
		p.reject(sub, rejection)
		return nil, rejection
	}
	completed[steps.Authorize] = true
	if err := sub.advance(StateAuthorized); err != nil {
		return nil, err
	}

	files, err := p.generate(ctx, log, completed, req, submittedAt)
	if err != nil {
		return nil, p.fail(sub, steps.Generate, err)
	}
	if err := sub.advance(StateGenerated); err != nil {
		return nil, err
	}

	outcome := p.publish(ctx, log, completed, req.Task, submittedAt, files)
	if err := sub.advance(StatePublished); err != nil {
		return nil, err
	}

	if err := steps.ValidateDependencies(completed, steps.RecordPublication); err != nil {
		return nil, p.fail(sub, steps.RecordPublication, err)
	}
	pub := &db.Publication{
		ID:        uuid.New(),
		Timestamp: submittedAt,
		Email:     req.Email,
		Task:      req.Task,
		Round:     key.Round,
		Nonce:     req.Nonce,
		RepoURL:   outcome.Location.RepoURL,
		CommitSHA: outcome.Location.CommitSHA,
		PagesURL:  outcome.Location.PagesURL,
	}
	if err := p.store.InsertPublication(ctx, pub); err != nil {
		return nil, p.fail(sub, steps.RecordPublication, err)
	}
	completed[steps.RecordPublication] = true
	if err := sub.advance(StateRecorded); err != nil {
		return nil, err
	}

	payload := types.EvaluationPayload{
		Email:     req.Email,
		Task:      req.Task,
		Round:     key.Round,
		Nonce:     req.Nonce,
		RepoURL:   pub.RepoURL,
		CommitSHA: pub.CommitSHA,
		PagesURL:  pub.PagesURL,
	}
	if err := sub.advance(StateResponded); err != nil {
		return nil, err
	}
	p.startNotification(log, sub, req.EvaluationURL, payload)

	log.Info("task fulfilled", slog.String("publish_status", string(outcome.Status)))
	return &Response{
		OK:       true,
		Message:  "Accepted",
		RepoURL:  pub.RepoURL,
		PagesURL: pub.PagesURL,
	}, nil
}

func (p *Pipeline) generate(ctx context.Context, log *slog.Logger, completed map[string]bool, req *types.TaskRequest, at time.Time) (types.Files, error) {
	if err := steps.ValidateDependencies(completed, steps.Generate); err != nil {
		return nil, err
	}

	res, err := p.generator.Generate(ctx, req.Brief, req.Attachments, generator.Options{Task: req.Task, Owner: p.opts.Owner, Now: at})
	status := types.StatusFailed
	if err == nil && res != nil {
		status = res.Status
	}
	if steps.Decide(steps.Generate, status) == steps.Abort {
		if err == nil {
			err = fmt.Errorf("generator returned status %s", status)
		}
		return nil, err
	}
	if status == types.StatusDegraded {
		log.Warn("generation degraded", slog.String("reason", res.Reason))
	}
	completed[steps.Generate] = true
	return res.Files, nil
}

func (p *Pipeline) publish(ctx context.Context, log *slog.Logger, completed map[string]bool, taskName string, at time.Time, files types.Files) publish.Outcome {
	if err := steps.ValidateDependencies(completed, steps.Publish); err != nil {
		return publish.Outcome{Status: types.StatusFailed, Reason: err.Error()}
	}

	name := publish.DestinationName(taskName, at)
	outcome := publish.Publish(ctx, p.target, name, files, log)
	if outcome.Status != types.StatusOK {
		log.Warn("publish incomplete, recording partial location",
			slog.String("status", string(outcome.Status)),
			slog.String("reason", outcome.Reason))
	}
	if steps.Decide(steps.Publish, outcome.Status) == steps.Continue {
		completed[steps.Publish] = true
	}
	return outcome
}

func (p *Pipeline) startNotification(log *slog.Logger, sub *submission, url string, payload types.EvaluationPayload) {
	started := p.background.Go("notify", func(ctx context.Context) {
		begin := time.Now()
		ok := p.notifier.Deliver(ctx, url, payload, p.opts.NotifyMaxAttempts)

		next := StateNotified
		if !ok {
			next = StateNotifyExhausted
			log.Error("failed to notify evaluation url after retries", slog.String("url", url))
		}
		if err := sub.advance(next); err != nil {
			log.Error("notification state", slog.String("error", err.Error()))
		}
		if elapsed := time.Since(begin); p.opts.DeliveryCeiling > 0 && elapsed > p.opts.DeliveryCeiling {
			log.Warn("notification exceeded delivery ceiling",
				slog.Duration("elapsed", elapsed),
				slog.Duration("ceiling", p.opts.DeliveryCeiling))
		}
	})
	if !started {
		log.Error("notification not started, shutting down", slog.String("url", url))
	}
}

// Report records a publication produced out-of-band for an existing task.
// Returns *InvalidPayloadError, *MissingFieldsError or *NoMatchingTaskError
// on rejection.
func (p *Pipeline) Report(ctx context.Context, raw []byte) (*Ack, error) {
	if err := schemas.ValidatePublicationReport(raw); err != nil {
		return nil, &InvalidPayloadError{Err: err}
	}
	var report types.PublicationReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, &InvalidPayloadError{Err: err}
	}
	missing, err := report.Validate()
	if err != nil {
		return nil, &InvalidPayloadError{Err: err}
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}

	key := report.Key()
	task, err := p.store.FindTask(ctx, key)
	if err != nil {
		return nil, &StepError{Step: "find_task", Err: err}
	}
	if task == nil {
		return nil, &NoMatchingTaskError{Key: key}
	}

	pub := &db.Publication{
		ID:        uuid.New(),
		Timestamp: p.now().UTC(),
		Email:     report.Email,
		Task:      report.Task,
		Round:     key.Round,
		Nonce:     report.Nonce,
		RepoURL:   report.RepoURL,
		CommitSHA: report.CommitSHA,
		PagesURL:  report.PagesURL,
	}
	if err := p.store.InsertPublication(ctx, pub); err != nil {
		return nil, &StepError{Step: steps.RecordPublication, Err: err}
	}

	p.logger.Info("publication reported", slog.String("key", key.String()), slog.String("task_id", task.ID.String()))
	return &Ack{OK: true, Message: "Repo recorded"}, nil
}

func decodeTaskRequest(raw []byte) (*types.TaskRequest, error) {
	if err := schemas.ValidateTaskRequest(raw); err != nil {
		return nil, &InvalidPayloadError{Err: err}
	}
	var req types.TaskRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, &InvalidPayloadError{Err: err}
	}
	missing, err := req.Validate()
	if err != nil {
		return nil, &InvalidPayloadError{Err: err}
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{Fields: missing}
	}
	return &req, nil
}

func marshalChecks(checks []json.RawMessage) (json.RawMessage, error) {
	if len(checks) == 0 {
		return json.RawMessage("[]"), nil
	}
	b, err := json.Marshal(checks)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checks: %w", err)
	}
	return b, nil
}

func (p *Pipeline) reject(sub *submission, err error) {
	if advErr := sub.advance(StateRejected); advErr != nil {
		p.logger.Error("submission state", slog.String("error", advErr.Error()))
	}
	var missing *MissingFieldsError
	if errors.As(err, &missing) {
		p.logger.Info("task rejected", slog.Any("missing", missing.Fields))
		return
	}
	p.logger.Info("task rejected", slog.String("reason", err.Error()))
}

func (p *Pipeline) fail(sub *submission, step string, err error) error {
	if advErr := sub.advance(StateFailed); advErr != nil {
		p.logger.Error("submission state", slog.String("error", advErr.Error()))
	}
	p.logger.Error("task failed", slog.String("step", step), slog.String("error", err.Error()))
	return &StepError{Step: step, Err: err}
}
