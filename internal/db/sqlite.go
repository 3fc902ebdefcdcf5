package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jonathan/site-deployer/internal/types"

	_ "modernc.org/sqlite"
)

// SQLStore implements Store on database/sql with SQLite-style placeholders.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite database at path and migrates it.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	sqlDB, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers; SQLite allows only one at a time anyway.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := NewSQLStore(sqlDB)
	if err := s.Migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database handle. Call Migrate before first use on a fresh database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates missing tables.
func (s *SQLStore) Migrate(ctx context.Context) error {
	for _, q := range schemaDDL {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// InsertTask appends a task row.
func (s *SQLStore) InsertTask(ctx context.Context, t *Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, timestamp, email, task, round, nonce, brief, checks, evaluation_url, secret_ok, raw_request)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), toMillis(t.Timestamp), t.Email, t.Task, t.Round, t.Nonce, t.Brief,
		checksText(t.Checks), t.EvaluationURL, boolToInt(t.SecretOK), t.RawRequest,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// InsertPublication appends a publication row.
func (s *SQLStore) InsertPublication(ctx context.Context, p *Publication) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repos (id, timestamp, email, task, round, nonce, repo_url, commit_sha, pages_url)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID.String(), toMillis(p.Timestamp), p.Email, p.Task, p.Round, p.Nonce,
		nullString(p.RepoURL), nullString(p.CommitSHA), nullString(p.PagesURL),
	)
	if err != nil {
		return fmt.Errorf("failed to insert publication: %w", err)
	}
	return nil
}

// InsertResult appends an evaluation result row.
func (s *SQLStore) InsertResult(ctx context.Context, r *Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO results (id, timestamp, email, task, round, repo_url, commit_sha, pages_url, check_name, score, reason, logs)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), toMillis(r.Timestamp), r.Email, r.Task, r.Round,
		nullString(r.RepoURL), nullString(r.CommitSHA), nullString(r.PagesURL),
		r.CheckName, r.Score, r.Reason, r.Logs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// FindTask looks up the latest task row matching the correlating tuple.
func (s *SQLStore) FindTask(ctx context.Context, key types.CorrelationKey) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, timestamp, email, task, round, nonce, brief, checks, evaluation_url, secret_ok, raw_request
		 FROM tasks
		 WHERE email = ? AND task = ? AND round = ? AND nonce = ?
		 ORDER BY timestamp DESC
		 LIMIT 1`,
		key.Email, key.Task, key.Round, key.Nonce,
	)

	var (
		t                             Task
		id                            string
		ts                            int64
		brief, checks, evalURL, rawRq sql.NullString
		secretOK                      int
	)
	err := row.Scan(&id, &ts, &t.Email, &t.Task, &t.Round, &t.Nonce, &brief, &checks, &evalURL, &secretOK, &rawRq)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to parse task id %q: %w", id, err)
	}
	t.Timestamp = fromMillis(ts)
	t.Brief = brief.String
	if checks.Valid {
		t.Checks = []byte(checks.String)
	}
	t.EvaluationURL = evalURL.String
	t.SecretOK = secretOK != 0
	t.RawRequest = rawRq.String
	return &t, nil
}

// ListPublications returns every publication row, oldest first.
func (s *SQLStore) ListPublications(ctx context.Context) ([]Publication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, email, task, round, nonce, repo_url, commit_sha, pages_url
		 FROM repos
		 ORDER BY timestamp ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var pubs []Publication
	for rows.Next() {
		var (
			p                  Publication
			id                 string
			ts                 int64
			repo, commit, page sql.NullString
		)
		if err := rows.Scan(&id, &ts, &p.Email, &p.Task, &p.Round, &p.Nonce, &repo, &commit, &page); err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse publication id %q: %w", id, err)
		}
		p.Timestamp = fromMillis(ts)
		p.RepoURL = stringPtr(repo)
		p.CommitSHA = stringPtr(commit)
		p.PagesURL = stringPtr(page)
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	return pubs, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}
