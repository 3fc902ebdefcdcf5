package db

import (
	"context"
	"fmt"

	"github.com/jonathan/site-deployer/internal/types"
)

// Store is the append-only record store for tasks, publications and results.
// There are no updates or deletes: every state change is a new row.
type Store interface {
	InsertTask(ctx context.Context, t *Task) error
	InsertPublication(ctx context.Context, p *Publication) error
	InsertResult(ctx context.Context, r *Result) error
	// FindTask returns the most recent task with the given key, or nil if none exists.
	FindTask(ctx context.Context, key types.CorrelationKey) (*Task, error)
	ListPublications(ctx context.Context) ([]Publication, error)
	Close() error
}

// Options selects and locates the backing store.
type Options struct {
	// DatabaseURL selects PostgreSQL when set.
	DatabaseURL string
	// Path is the SQLite file used when DatabaseURL is empty.
	Path string
}

// Open connects to the configured store and ensures its schema exists.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.DatabaseURL != "" {
		return Connect(ctx, opts.DatabaseURL)
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("either a database URL or a SQLite path is required")
	}
	return OpenSQLite(ctx, opts.Path)
}
