// Package evaluation scores recorded publications with automated
// acceptance checks and stores one Result row per check.
package evaluation

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/site-deployer/internal/db"
	"github.com/jonathan/site-deployer/internal/fetch"
)

// Check names as stored in results.check_name
const (
	CheckLicense = "license"
	CheckPage    = "page"
)

// DefaultRawBaseURL serves raw file contents of public GitHub repositories
const DefaultRawBaseURL = "https://raw.githubusercontent.com"

// licenseMarker must appear in LICENSE for the license check to pass
const licenseMarker = "MIT License"

// PageSelectors are the elements the page check looks for, in order
var PageSelectors = []string{"#total-sales", "#brief"}

var licenseBranches = []string{"main", "master"}

// Store is the subset of the record store the evaluator needs
type Store interface {
	ListPublications(ctx context.Context) ([]db.Publication, error)
	InsertResult(ctx context.Context, r *db.Result) error
}

// RenderFunc returns the HTML of a page after its scripts have run
type RenderFunc func(ctx context.Context, url string) (string, error)

// Options configures an Evaluator
type Options struct {
	Concurrency int           // publications evaluated at once, default 4
	Timeout     time.Duration // per fetch, default 10s
	RawBaseURL  string        // default DefaultRawBaseURL
	// Render, when set, loads the entry page in a browser instead of a plain fetch
	Render RenderFunc
}

// Evaluator runs the acceptance checks
type Evaluator struct {
	store  Store
	opts   Options
	fetch  *fetch.Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates an Evaluator
func New(store Store, opts Options, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RawBaseURL == "" {
		opts.RawBaseURL = DefaultRawBaseURL
	}
	fetchOpts := fetch.DefaultOptions()
	fetchOpts.Timeout = opts.Timeout
	return &Evaluator{store: store, opts: opts, fetch: fetchOpts, logger: logger, now: time.Now}
}

// Outcome is the result of one check before it is stored
type Outcome struct {
	Passed bool
	Reason string
	Logs   []string
}

// Run evaluates every recorded publication and returns the stored results
// in publication order, license check first.
func (e *Evaluator) Run(ctx context.Context) ([]db.Result, error) {
	pubs, err := e.store.ListPublications(ctx)
	if err != nil {
		return nil, err
	}

	results := make([][]db.Result, len(pubs))
	var mu sync.Mutex

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i := range pubs {
		pub := pubs[i]
		g.Go(func() error {
			rows, err := e.evaluate(gCtx, &pub)
			if err != nil {
				return err
			}
			mu.Lock()
			results[i] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []db.Result
	for _, rows := range results {
		out = append(out, rows...)
	}
	return out, nil
}

func (e *Evaluator) evaluate(ctx context.Context, pub *db.Publication) ([]db.Result, error) {
	log := e.logger.With(slog.String("key", pub.Key().String()))
	log.Info("evaluating publication", slog.String("repo_url", deref(pub.RepoURL)))

	checks := []struct {
		name string
		run  func(context.Context, *db.Publication) Outcome
	}{
		{CheckLicense, e.CheckLicense},
		{CheckPage, e.CheckPage},
	}

	rows := make([]db.Result, 0, len(checks))
	for _, c := range checks {
		outcome := c.run(ctx, pub)
		score := 0.0
		if outcome.Passed {
			score = 1
		}
		row := db.Result{
			ID:        uuid.New(),
			Timestamp: e.now().UTC(),
			Email:     pub.Email,
			Task:      pub.Task,
			Round:     pub.Round,
			RepoURL:   pub.RepoURL,
			CommitSHA: pub.CommitSHA,
			PagesURL:  pub.PagesURL,
			CheckName: c.name,
			Score:     score,
			Reason:    outcome.Reason,
			Logs:      strings.Join(outcome.Logs, "\n"),
		}
		if err := e.store.InsertResult(ctx, &row); err != nil {
			return nil, fmt.Errorf("failed to store %s result: %w", c.name, err)
		}
		log.Info("check finished", slog.String("check", c.name), slog.Bool("passed", outcome.Passed), slog.String("reason", outcome.Reason))
		rows = append(rows, row)
	}
	return rows, nil
}

// CheckLicense looks for an MIT LICENSE in the published repository.
// GitHub repositories are read through the raw content host on main, then
// master. Other locations are read as LICENSE next to the repository URL,
// or next to the pages URL when the repository URL cannot be fetched (s3://).
func (e *Evaluator) CheckLicense(ctx context.Context, pub *db.Publication) Outcome {
	if pub.RepoURL == nil || *pub.RepoURL == "" {
		return Outcome{Reason: "No repo url recorded"}
	}
	repoURL := *pub.RepoURL

	if owner, repo, ok := githubRepo(repoURL); ok {
		var logs []string
		for _, branch := range licenseBranches {
			raw := fmt.Sprintf("%s/%s/%s/%s/LICENSE", strings.TrimSuffix(e.opts.RawBaseURL, "/"), owner, repo, branch)
			logs = append(logs, "GET "+raw)
			res, err := fetch.URL(ctx, raw, e.fetch)
			if err != nil {
				if res == nil {
					return Outcome{Reason: fmt.Sprintf("Error fetching LICENSE: %v", err), Logs: logs}
				}
				continue
			}
			if strings.Contains(res.Body, licenseMarker) {
				return Outcome{Passed: true, Reason: "MIT found on " + branch, Logs: logs}
			}
		}
		return Outcome{Reason: "No MIT found on main/master", Logs: logs}
	}

	base := repoURL
	if !fetchable(base) {
		if pub.PagesURL == nil || !fetchable(*pub.PagesURL) {
			return Outcome{Reason: "Repo url is not fetchable: " + repoURL}
		}
		base = *pub.PagesURL
	}
	target, err := fetch.Resolve(base, "LICENSE")
	if err != nil {
		return Outcome{Reason: err.Error()}
	}
	logs := []string{"GET " + target}
	res, err := fetch.URL(ctx, target, e.fetch)
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("Error fetching LICENSE: %v", err), Logs: logs}
	}
	if !strings.Contains(res.Body, licenseMarker) {
		return Outcome{Reason: "LICENSE is not MIT", Logs: logs}
	}
	return Outcome{Passed: true, Reason: "MIT found", Logs: logs}
}

// CheckPage loads the pages URL and looks for one of PageSelectors.
// The visible text of the matched element is kept in the logs.
func (e *Evaluator) CheckPage(ctx context.Context, pub *db.Publication) Outcome {
	if pub.PagesURL == nil || *pub.PagesURL == "" {
		return Outcome{Reason: "No pages url recorded"}
	}
	pagesURL := *pub.PagesURL
	logs := []string{"LOAD " + pagesURL}

	var html string
	if e.opts.Render != nil {
		rendered, err := e.opts.Render(ctx, pagesURL)
		if err != nil {
			return Outcome{Reason: fmt.Sprintf("Error loading page: %v", err), Logs: logs}
		}
		html = rendered
	} else {
		res, err := fetch.URL(ctx, pagesURL, e.fetch)
		if err != nil {
			return Outcome{Reason: fmt.Sprintf("Error loading page: %v", err), Logs: logs}
		}
		html = res.Body
	}

	selector, found, err := fetch.FindFirst(html, PageSelectors...)
	if err != nil {
		return Outcome{Reason: fmt.Sprintf("Error loading page: %v", err), Logs: logs}
	}
	if !found {
		return Outcome{Reason: "Element missing", Logs: logs}
	}
	if text, err := fetch.ExtractMainText(html, selector); err == nil && text != "" {
		logs = append(logs, "TEXT "+excerpt(text, pageTextLimit))
	}
	return Outcome{Passed: true, Reason: "Required element exists: " + selector, Logs: logs}
}

// pageTextLimit caps the element text kept in result logs, in runes
const pageTextLimit = 200

func excerpt(s string, limit int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func githubRepo(repoURL string) (owner, repo string, ok bool) {
	rest, found := strings.CutPrefix(repoURL, "https://github.com/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), true
}

func fetchable(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "file", "http", "https":
		return true
	default:
		return false
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
