// Package db provides the append-only record store for tasks, publications and results.
package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/site-deployer/internal/types"
)

// PostgresStore implements Store on a PostgreSQL connection pool
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool to the database and ensures the schema exists
func Connect(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	for _, q := range schemaDDL {
		if _, err := pool.Exec(ctx, q); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool
func (db *PostgresStore) Close() error {
	if db.pool != nil {
		db.pool.Close()
	}
	return nil
}

// InsertTask appends a task row
func (db *PostgresStore) InsertTask(ctx context.Context, t *Task) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO tasks (id, timestamp, email, task, round, nonce, brief, checks, evaluation_url, secret_ok, raw_request)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID.String(), toMillis(t.Timestamp), t.Email, t.Task, t.Round, t.Nonce, t.Brief,
		checksText(t.Checks), t.EvaluationURL, boolToInt(t.SecretOK), t.RawRequest,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// InsertPublication appends a publication row
func (db *PostgresStore) InsertPublication(ctx context.Context, p *Publication) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO repos (id, timestamp, email, task, round, nonce, repo_url, commit_sha, pages_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		p.ID.String(), toMillis(p.Timestamp), p.Email, p.Task, p.Round, p.Nonce,
		p.RepoURL, p.CommitSHA, p.PagesURL,
	)
	if err != nil {
		return fmt.Errorf("failed to insert publication: %w", err)
	}
	return nil
}

// InsertResult appends an evaluation result row
func (db *PostgresStore) InsertResult(ctx context.Context, r *Result) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO results (id, timestamp, email, task, round, repo_url, commit_sha, pages_url, check_name, score, reason, logs)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		r.ID.String(), toMillis(r.Timestamp), r.Email, r.Task, r.Round,
		r.RepoURL, r.CommitSHA, r.PagesURL, r.CheckName, r.Score, r.Reason, r.Logs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}
	return nil
}

// FindTask retrieves the latest task matching the correlating tuple
func (db *PostgresStore) FindTask(ctx context.Context, key types.CorrelationKey) (*Task, error) {
	var (
		t                      Task
		id                     string
		ts                     int64
		brief, checks, evalURL *string
		rawRequest             *string
		secretOK               int
	)
	err := db.pool.QueryRow(ctx,
		`SELECT id, timestamp, email, task, round, nonce, brief, checks, evaluation_url, secret_ok, raw_request
		 FROM tasks
		 WHERE email = $1 AND task = $2 AND round = $3 AND nonce = $4
		 ORDER BY timestamp DESC
		 LIMIT 1`,
		key.Email, key.Task, key.Round, key.Nonce,
	).Scan(&id, &ts, &t.Email, &t.Task, &t.Round, &t.Nonce, &brief, &checks, &evalURL, &secretOK, &rawRequest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find task: %w", err)
	}

	if t.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("failed to parse task id %q: %w", id, err)
	}
	t.Timestamp = fromMillis(ts)
	t.Brief = deref(brief)
	if checks != nil {
		t.Checks = []byte(*checks)
	}
	t.EvaluationURL = deref(evalURL)
	t.SecretOK = secretOK != 0
	t.RawRequest = deref(rawRequest)
	return &t, nil
}

// ListPublications retrieves every publication, oldest first
func (db *PostgresStore) ListPublications(ctx context.Context) ([]Publication, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, timestamp, email, task, round, nonce, repo_url, commit_sha, pages_url
		 FROM repos ORDER BY timestamp ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	defer rows.Close()

	var pubs []Publication
	for rows.Next() {
		var (
			p  Publication
			id string
			ts int64
		)
		if err := rows.Scan(&id, &ts, &p.Email, &p.Task, &p.Round, &p.Nonce, &p.RepoURL, &p.CommitSHA, &p.PagesURL); err != nil {
			return nil, fmt.Errorf("failed to scan publication: %w", err)
		}
		if p.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("failed to parse publication id %q: %w", id, err)
		}
		p.Timestamp = fromMillis(ts)
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list publications: %w", err)
	}
	return pubs, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
