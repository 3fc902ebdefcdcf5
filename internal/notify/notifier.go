// Package notify delivers completion callbacks with bounded retry.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Defaults for the retry budget
const (
	DefaultMaxAttempts    = 8
	DefaultAttemptTimeout = 30 * time.Second
	DefaultInitialBackoff = time.Second
)

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in the latter case
type SleepFunc func(ctx context.Context, d time.Duration) error

// Notifier POSTs JSON payloads to callback URLs
type Notifier struct {
	client         *http.Client
	attemptTimeout time.Duration
	initialBackoff time.Duration
	sleep          SleepFunc
	logger         *slog.Logger
}

// Option configures a Notifier
type Option func(*Notifier)

// WithHTTPClient sets the HTTP client used for delivery
func WithHTTPClient(c *http.Client) Option {
	return func(n *Notifier) { n.client = c }
}

// WithAttemptTimeout bounds each individual POST
func WithAttemptTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.attemptTimeout = d }
}

// WithInitialBackoff sets the delay after the first failed attempt
func WithInitialBackoff(d time.Duration) Option {
	return func(n *Notifier) { n.initialBackoff = d }
}

// WithSleep replaces the wait between attempts
func WithSleep(s SleepFunc) Option {
	return func(n *Notifier) { n.sleep = s }
}

// New creates a Notifier
func New(logger *slog.Logger, opts ...Option) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Notifier{
		client:         &http.Client{},
		attemptTimeout: DefaultAttemptTimeout,
		initialBackoff: DefaultInitialBackoff,
		sleep:          sleepContext,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Deliver POSTs payload as JSON to url until a 2xx response or maxAttempts
// tries. The delay between attempts starts at the initial backoff and
// doubles after each failure. No wait follows the final attempt. Failures are
// logged, never returned; the result is true only when the receiver accepted.
func (n *Notifier) Deliver(ctx context.Context, url string, payload any, maxAttempts int) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("failed to encode notification payload", slog.String("error", err.Error()))
		return false
	}

	log := n.logger.With(slog.String("url", url))
	delay := n.initialBackoff
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		status, err := n.post(ctx, url, body)
		switch {
		case err == nil && status >= 200 && status < 300:
			log.Info("notification delivered", slog.Int("attempt", attempt), slog.Int("status", status))
			return true
		case err != nil:
			log.Warn("notification attempt failed", slog.Int("attempt", attempt), slog.String("error", err.Error()))
		default:
			log.Warn("notification rejected", slog.Int("attempt", attempt), slog.Int("status", status))
		}

		if attempt == maxAttempts {
			break
		}
		if err := n.sleep(ctx, delay); err != nil {
			log.Warn("notification abandoned", slog.Int("attempt", attempt), slog.String("error", err.Error()))
			return false
		}
		delay *= 2
	}

	log.Error("notification exhausted", slog.Int("attempts", maxAttempts))
	return false
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, n.attemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	return resp.StatusCode, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
