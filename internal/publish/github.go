package publish

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/jonathan/site-deployer/internal/types"
)

// pagesBranch is the branch the contents API commits to on a fresh repository
const pagesBranch = "main"

// GitHubTarget publishes each site as a public repository served by GitHub Pages
type GitHubTarget struct {
	client *github.Client
	owner  string
}

// NewGitHub creates a GitHub target authenticated with token. owner is used
// when the API does not report the repository owner. apiURL overrides the
// API base, for GitHub Enterprise or tests.
func NewGitHub(token, owner, apiURL string) (*GitHubTarget, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}
	client := github.NewClient(nil).WithAuthToken(token)
	if apiURL != "" {
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		base, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url %q: %w", apiURL, err)
		}
		client.BaseURL = base
	}
	return &GitHubTarget{client: client, owner: owner}, nil
}

// Kind implements Target
func (t *GitHubTarget) Kind() string { return "github" }

// CreateDestination creates a public repository for the authenticated user
func (t *GitHubTarget) CreateDestination(ctx context.Context, name string) (*Destination, error) {
	repo, _, err := t.client.Repositories.Create(ctx, "", &github.Repository{
		Name:     github.String(name),
		Private:  github.Bool(false),
		AutoInit: github.Bool(false),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create repository %s: %w", name, err)
	}

	owner := repo.GetOwner().GetLogin()
	if owner == "" {
		owner = t.owner
	}
	repoName := repo.GetName()
	if repoName == "" {
		repoName = name
	}
	repoURL := repo.GetHTMLURL()
	if repoURL == "" {
		repoURL = fmt.Sprintf("https://github.com/%s/%s", owner, repoName)
	}

	return &Destination{
		Name:     repoName,
		Owner:    owner,
		RepoURL:  repoURL,
		PagesURL: fmt.Sprintf("https://%s.github.io/%s/", owner, repoName),
	}, nil
}

// PutFiles commits each file through the contents API and returns the last commit SHA
func (t *GitHubTarget) PutFiles(ctx context.Context, dest *Destination, files types.Files) (string, error) {
	var sha string
	for _, p := range files.Paths() {
		resp, _, err := t.client.Repositories.CreateFile(ctx, dest.Owner, dest.Name, p, &github.RepositoryContentFileOptions{
			Message: github.String("Add " + p),
			Content: files[p],
		})
		if err != nil {
			return "", fmt.Errorf("failed to commit %s: %w", p, err)
		}
		sha = resp.Commit.GetSHA()
	}
	return sha, nil
}

// EnableSite turns on GitHub Pages from the root of the main branch
func (t *GitHubTarget) EnableSite(ctx context.Context, dest *Destination) error {
	_, _, err := t.client.Repositories.EnablePages(ctx, dest.Owner, dest.Name, &github.Pages{
		Source: &github.PagesSource{
			Branch: github.String(pagesBranch),
			Path:   github.String("/"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable pages for %s/%s: %w", dest.Owner, dest.Name, err)
	}
	return nil
}
