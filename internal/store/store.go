// Package store persists uploaded specs, correction runs and LLM call records in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Table names.
const (
	TableSpecs    = "specs"
	TableRuns     = "runs"
	TableLLMCalls = "llm_calls"
)

const schema = `
CREATE TABLE IF NOT EXISTS specs (
	id         TEXT PRIMARY KEY,
	source     TEXT NOT NULL,
	filename   TEXT DEFAULT '',
	url        TEXT DEFAULT '',
	path       TEXT DEFAULT '',
	format     TEXT DEFAULT '',
	version    TEXT DEFAULT '',
	size       INTEGER NOT NULL DEFAULT 0,
	sha256     TEXT DEFAULT '',
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_specs_created_at ON specs(created_at);
CREATE INDEX IF NOT EXISTS idx_specs_sha256 ON specs(sha256);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	spec_id     TEXT DEFAULT '',
	kind        TEXT NOT NULL,
	provider    TEXT DEFAULT '',
	model       TEXT DEFAULT '',
	status      TEXT NOT NULL,
	attempts    INTEGER NOT NULL DEFAULT 0,
	input_valid BOOLEAN NOT NULL DEFAULT 0,
	valid       BOOLEAN NOT NULL DEFAULT 0,
	errors      TEXT DEFAULT '[]',
	result      TEXT DEFAULT '',
	error       TEXT DEFAULT '',
	created_at  DATETIME NOT NULL,
	finished_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_runs_spec ON runs(spec_id);

CREATE TABLE IF NOT EXISTS llm_calls (
	id            TEXT PRIMARY KEY,
	timestamp     DATETIME NOT NULL,
	latency_ms    INTEGER NOT NULL DEFAULT 0,
	run_id        TEXT DEFAULT '',
	spec_id       TEXT DEFAULT '',
	prompt_key    TEXT NOT NULL,
	provider      TEXT DEFAULT '',
	model         TEXT DEFAULT '',
	temperature   REAL,
	input_tokens  INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 1,
	response      TEXT DEFAULT '',
	success       BOOLEAN NOT NULL DEFAULT 0,
	error         TEXT DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_llm_calls_timestamp ON llm_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_llm_calls_run ON llm_calls(run_id);
`

var (
	knownTables = map[string]bool{TableSpecs: true, TableRuns: true, TableLLMCalls: true}
	columnName  = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

// Store wraps the SQLite database.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path.
func (s *Store) Path() string {
	return s.path
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert writes a single row into table.
func (s *Store) Insert(ctx context.Context, table string, row map[string]any) error {
	return s.InsertMany(ctx, table, []map[string]any{row})
}

// InsertMany writes rows into table inside one transaction.
func (s *Store) InsertMany(ctx context.Context, table string, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	if !knownTables[table] {
		return fmt.Errorf("unknown table %q", table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, row := range rows {
		cols, args, err := columns(row)
		if err != nil {
			return err
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), placeholders)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Update sets the given columns on the row with id.
func (s *Store) Update(ctx context.Context, table, id string, row map[string]any) error {
	if !knownTables[table] {
		return fmt.Errorf("unknown table %q", table)
	}
	cols, args, err := columns(row)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return nil
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", table, strings.Join(sets, ", ")), args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	return expectRow(res)
}

// Delete removes the row with id from table.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	if !knownTables[table] {
		return fmt.Errorf("unknown table %q", table)
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("delete from %s: %w", table, err)
	}
	return expectRow(res)
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int, error) {
	if !knownTables[table] {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}

// columns returns the row's column names in sorted order with matching args.
func columns(row map[string]any) ([]string, []any, error) {
	cols := make([]string, 0, len(row))
	for c := range row {
		if !columnName.MatchString(c) {
			return nil, nil, fmt.Errorf("invalid column name %q", c)
		}
		cols = append(cols, c)
	}
	sort.Strings(cols)
	args := make([]any, len(cols))
	for i, c := range cols {
		v := row[c]
		if t, ok := v.(time.Time); ok {
			v = t.UTC()
		}
		args[i] = v
	}
	return cols, args, nil
}

func expectRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOptions pages list queries.
type ListOptions struct {
	Limit  int
	Offset int
}

func (o ListOptions) clause() (string, []any) {
	limit := o.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	offset := o.Offset
	if offset < 0 {
		offset = 0
	}
	return " LIMIT ? OFFSET ?", []any{limit, offset}
}
