package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/site-deployer/internal/types"
)

// RawRequestLimit bounds the audit snapshot stored with each task, in runes.
const RawRequestLimit = 10000

// Task represents a submitted task record. Rejected submissions are stored too.
type Task struct {
	ID            uuid.UUID       `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Email         string          `json:"email"`
	Task          string          `json:"task"`
	Round         int             `json:"round"`
	Nonce         string          `json:"nonce"`
	Brief         string          `json:"brief"`
	Checks        json.RawMessage `json:"checks"`
	EvaluationURL string          `json:"evaluation_url"`
	SecretOK      bool            `json:"secret_ok"`
	RawRequest    string          `json:"raw_request"`
}

// Key returns the correlating tuple of the task.
func (t *Task) Key() types.CorrelationKey {
	return types.CorrelationKey{Email: t.Email, Task: t.Task, Round: t.Round, Nonce: t.Nonce}
}

// Publication represents the recorded outcome of fulfilling or reporting a task.
// URL fields are nil when unknown.
type Publication struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Email     string    `json:"email"`
	Task      string    `json:"task"`
	Round     int       `json:"round"`
	Nonce     string    `json:"nonce"`
	RepoURL   *string   `json:"repo_url"`
	CommitSHA *string   `json:"commit_sha"`
	PagesURL  *string   `json:"pages_url"`
}

// Key returns the correlating tuple of the publication.
func (p *Publication) Key() types.CorrelationKey {
	return types.CorrelationKey{Email: p.Email, Task: p.Task, Round: p.Round, Nonce: p.Nonce}
}

// Result is a per-check evaluation score attached to a publication.
type Result struct {
	ID        uuid.UUID `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Email     string    `json:"email"`
	Task      string    `json:"task"`
	Round     int       `json:"round"`
	RepoURL   *string   `json:"repo_url"`
	CommitSHA *string   `json:"commit_sha"`
	PagesURL  *string   `json:"pages_url"`
	CheckName string    `json:"check_name"`
	Score     float64   `json:"score"`
	Reason    string    `json:"reason"`
	Logs      string    `json:"logs"`
}

// checksText returns the JSON text persisted for checks, "[]" when empty.
func checksText(checks json.RawMessage) string {
	if len(checks) == 0 {
		return "[]"
	}
	return string(checks)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
