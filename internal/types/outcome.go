package types

import "sort"

// Status is the outcome of a single fulfillment step.
type Status string

const (
	// StatusOK means the step produced its preferred result
	StatusOK Status = "ok"
	// StatusDegraded means the step produced a fallback or partial result
	StatusDegraded Status = "degraded"
	// StatusFailed means the step produced nothing usable
	StatusFailed Status = "failed"
)

// Files maps a relative file path to its content.
type Files map[string][]byte

// Paths returns the file paths in lexical order.
func (f Files) Paths() []string {
	paths := make([]string, 0, len(f))
	for p := range f {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Location describes where a published site lives. Any field may be nil when
// the publish target did not get far enough to produce it.
type Location struct {
	RepoURL   *string `json:"repo_url"`
	CommitSHA *string `json:"commit_sha"`
	PagesURL  *string `json:"pages_url"`
}
