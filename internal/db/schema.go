package db

// schemaDDL creates the three tables. Timestamps are unix milliseconds.
// The statements are portable between SQLite and PostgreSQL.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		email TEXT NOT NULL,
		task TEXT NOT NULL,
		round INTEGER NOT NULL,
		nonce TEXT NOT NULL,
		brief TEXT,
		checks TEXT,
		evaluation_url TEXT,
		secret_ok INTEGER NOT NULL,
		raw_request TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_key ON tasks (email, task, round, nonce)`,
	`CREATE TABLE IF NOT EXISTS repos (
		id TEXT PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		email TEXT NOT NULL,
		task TEXT NOT NULL,
		round INTEGER NOT NULL,
		nonce TEXT NOT NULL,
		repo_url TEXT,
		commit_sha TEXT,
		pages_url TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		timestamp BIGINT NOT NULL,
		email TEXT,
		task TEXT,
		round INTEGER,
		repo_url TEXT,
		commit_sha TEXT,
		pages_url TEXT,
		check_name TEXT,
		score REAL,
		reason TEXT,
		logs TEXT
	)`,
}
