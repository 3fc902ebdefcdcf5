// Package config provides configuration loading and validation for the site deployer.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Publish modes.
const (
	ModeDryRun = "dryrun"
	ModeGitHub = "github"
	ModeS3     = "s3"
)

// Config holds every setting of the service. Values come from the environment,
// an optional config file, and the defaults below, in that order of precedence.
type Config struct {
	// Intake
	Port         int    `mapstructure:"port"`
	SharedSecret string `mapstructure:"shared_secret"`
	MaxBodyBytes int64  `mapstructure:"max_body_bytes"`

	// Storage
	DBPath      string `mapstructure:"db_path"`      // SQLite file
	DatabaseURL string `mapstructure:"database_url"` // PostgreSQL, takes precedence over DBPath

	// Publishing
	PublishMode   string `mapstructure:"publish_mode"`
	EnableGitHub  bool   `mapstructure:"enable_github"` // legacy switch for PublishMode=github
	OutputDir     string `mapstructure:"output_dir"`
	GitHubToken   string `mapstructure:"github_token"`
	GitHubUser    string `mapstructure:"github_user"`
	GitHubAPIURL  string `mapstructure:"github_api_url"`
	S3Bucket      string `mapstructure:"s3_bucket"`
	S3Region      string `mapstructure:"s3_region"`
	S3Endpoint    string `mapstructure:"s3_endpoint"`
	S3SiteBaseURL string `mapstructure:"s3_site_base_url"`

	// Notification
	EvalPostTimeout      int           `mapstructure:"eval_post_timeout"` // seconds
	NotifyMaxAttempts    int           `mapstructure:"notify_max_attempts"`
	NotifyAttemptTimeout time.Duration `mapstructure:"notify_attempt_timeout"`
	NotifyInitialBackoff time.Duration `mapstructure:"notify_initial_backoff"`

	// Generation
	GeminiAPIKey string `mapstructure:"gemini_api_key"`

	// Dispatch
	SubmissionCSV string `mapstructure:"submission_csv"`
	EvaluationURL string `mapstructure:"evaluation_url"` // callback written into dispatched tasks

	// Behavior
	LogLevel         string  `mapstructure:"log_level"`
	RateLimitEnabled bool    `mapstructure:"rate_limit_enabled"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

var defaults = map[string]any{
	"port":                   4000,
	"shared_secret":          "replace_me",
	"max_body_bytes":         int64(50 << 20),
	"db_path":                "data/deploy.db",
	"database_url":           "",
	"publish_mode":           "",
	"enable_github":          false,
	"output_dir":             "out",
	"github_token":           "",
	"github_user":            "",
	"github_api_url":         "",
	"s3_bucket":              "",
	"s3_region":              "us-east-1",
	"s3_endpoint":            "",
	"s3_site_base_url":       "",
	"eval_post_timeout":      600,
	"notify_max_attempts":    8,
	"notify_attempt_timeout": 30 * time.Second,
	"notify_initial_backoff": time.Second,
	"gemini_api_key":         "",
	"submission_csv":         "submission.csv",
	"evaluation_url":         "http://localhost:4000/evaluation/notify",
	"log_level":              "info",
	"rate_limit_enabled":     true,
	"rate_limit_rps":         5.0,
	"rate_limit_burst":       20,
}

// Load reads configuration from the environment and, when path is non-empty,
// from that config file. Environment variables use the upper-cased key names
// (PORT, DB_PATH, SHARED_SECRET, ...).
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.PublishMode = strings.ToLower(strings.TrimSpace(cfg.PublishMode))
	if cfg.PublishMode == "" {
		cfg.PublishMode = ModeDryRun
		if cfg.EnableGitHub {
			cfg.PublishMode = ModeGitHub
		}
	}

	return &cfg, nil
}

// Validate checks that the configuration is consistent
func (c *Config) Validate() error {
	switch c.PublishMode {
	case ModeDryRun:
		if c.OutputDir == "" {
			return fmt.Errorf("config error: 'output_dir' is required in dry-run mode")
		}
	case ModeGitHub:
		if c.GitHubToken == "" {
			return fmt.Errorf("config error: 'github_token' is required in github mode")
		}
	case ModeS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config error: 's3_bucket' is required in s3 mode")
		}
	default:
		return fmt.Errorf("config error: unknown publish mode %q", c.PublishMode)
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config error: 'port' must be between 1 and 65535")
	}
	if c.DatabaseURL == "" && c.DBPath == "" {
		return fmt.Errorf("config error: one of 'database_url' or 'db_path' is required")
	}
	if c.NotifyMaxAttempts <= 0 {
		return fmt.Errorf("config error: 'notify_max_attempts' must be positive")
	}
	if c.NotifyInitialBackoff <= 0 {
		return fmt.Errorf("config error: 'notify_initial_backoff' must be positive")
	}
	if c.EvalPostTimeout < 0 {
		return fmt.Errorf("config error: 'eval_post_timeout' must be non-negative")
	}
	return nil
}

// DeliveryCeiling is the advisory end-to-end budget for background notification.
func (c *Config) DeliveryCeiling() time.Duration {
	return time.Duration(c.EvalPostTimeout) * time.Second
}
