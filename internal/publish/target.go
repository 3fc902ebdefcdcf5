// Package publish puts generated site files onto a hosting target.
package publish

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonathan/site-deployer/internal/types"
)

// Destination is a created hosting location
type Destination struct {
	Name     string
	Owner    string
	RepoURL  string
	PagesURL string
}

// Target is a hosting provider capability set
type Target interface {
	// Kind names the target for logs ("dryrun", "github", "s3")
	Kind() string
	// CreateDestination creates a new named destination
	CreateDestination(ctx context.Context, name string) (*Destination, error)
	// PutFiles uploads every file and returns the resulting content version
	PutFiles(ctx context.Context, dest *Destination, files types.Files) (string, error)
	// EnableSite turns on public serving. It may fail when serving is already enabled.
	EnableSite(ctx context.Context, dest *Destination) error
}

// Outcome is the result of a publish attempt. Location fields are nil when
// the target did not get far enough to produce them.
type Outcome struct {
	Location types.Location
	Status   types.Status
	Reason   string
}

// Publish runs create, upload and enable against target.
// A create failure yields StatusFailed with an empty location, an upload
// failure yields StatusDegraded with only the repository URL, and an enable
// failure is logged and ignored.
func Publish(ctx context.Context, target Target, name string, files types.Files, logger *slog.Logger) Outcome {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With(slog.String("target", target.Kind()), slog.String("destination", name))

	dest, err := target.CreateDestination(ctx, name)
	if err != nil {
		log.Error("failed to create destination", slog.String("error", err.Error()))
		return Outcome{Status: types.StatusFailed, Reason: fmt.Sprintf("create destination: %v", err)}
	}

	repoURL := dest.RepoURL
	version, err := target.PutFiles(ctx, dest, files)
	if err != nil {
		log.Error("failed to upload files", slog.String("repo_url", repoURL), slog.String("error", err.Error()))
		return Outcome{
			Location: types.Location{RepoURL: &repoURL},
			Status:   types.StatusDegraded,
			Reason:   fmt.Sprintf("upload files: %v", err),
		}
	}

	if err := target.EnableSite(ctx, dest); err != nil {
		log.Warn("failed to enable site serving, continuing", slog.String("error", err.Error()))
	}

	pagesURL := dest.PagesURL
	log.Info("published", slog.Int("files", len(files)), slog.String("version", version))
	return Outcome{
		Location: types.Location{RepoURL: &repoURL, CommitSHA: &version, PagesURL: &pagesURL},
		Status:   types.StatusOK,
	}
}
