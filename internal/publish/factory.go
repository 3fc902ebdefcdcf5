package publish

import (
	"context"
	"fmt"

	"github.com/jonathan/site-deployer/internal/config"
)

// NewFromConfig builds the target selected by the publish mode
func NewFromConfig(ctx context.Context, cfg *config.Config) (Target, error) {
	switch cfg.PublishMode {
	case config.ModeDryRun, "":
		t, err := NewDryRun(cfg.OutputDir)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.ModeGitHub:
		t, err := NewGitHub(cfg.GitHubToken, cfg.GitHubUser, cfg.GitHubAPIURL)
		if err != nil {
			return nil, err
		}
		return t, nil
	case config.ModeS3:
		t, err := NewS3(ctx, S3Config{
			Bucket:      cfg.S3Bucket,
			Region:      cfg.S3Region,
			Endpoint:    cfg.S3Endpoint,
			SiteBaseURL: cfg.S3SiteBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported publish mode: %s", cfg.PublishMode)
	}
}
