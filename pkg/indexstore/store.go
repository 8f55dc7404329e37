// Package indexstore is the durable indexed store the station is built on:
// named ordered key→value maps plus secondary indexes (ordered key-only
// sets) supporting inclusive range scans, all backed by a single sqlite
// database. The store handle is constructed once at process start and
// threaded through every repository; all mutation goes through Map and
// IndexSet so index consistency is centrally enforced.
package indexstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"

	_ "modernc.org/sqlite"
)

// runner abstracts *sql.DB and *sql.Tx so Map and IndexSet operate
// identically inside and outside a transaction.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var nameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Store owns the backing database. Process-wide singleton by construction,
// not by hidden global state.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the store at the given sqlite DSN. Use
// "file:station.db" for a durable store or ":memory:" in tests.
func Open(dsn string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// sqlite allows one writer; serialize access through a single conn so
	// a primary+index write sequence is never interleaved.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(context.Background(), `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// DB exposes the underlying handle for layers that speak database/sql
// directly (the audit ledger).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Map returns the named primary map, creating its table if needed.
func (s *Store) Map(ctx context.Context, name string) (*Map, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid map name %q", name)
	}
	table := "kv_" + name
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k BLOB PRIMARY KEY, v BLOB NOT NULL)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create map %s: %w", name, err)
	}
	return &Map{name: name, table: table, run: s.db}, nil
}

// Index returns the named secondary index, creating its table if needed.
func (s *Store) Index(ctx context.Context, name string) (*IndexSet, error) {
	if !nameRe.MatchString(name) {
		return nil, fmt.Errorf("invalid index name %q", name)
	}
	table := "idx_" + name
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (k BLOB PRIMARY KEY)`, table)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return nil, fmt.Errorf("create index %s: %w", name, err)
	}
	return &IndexSet{name: name, table: table, run: s.db}, nil
}

// Tx scopes Map and IndexSet handles to one transaction. A record's primary
// and index writes must go through the same Tx so they commit as one unit.
type Tx struct {
	tx *sql.Tx
}

// Map rebinds a map handle to this transaction.
func (t *Tx) Map(m *Map) *Map {
	return &Map{name: m.name, table: m.table, run: t.tx, cache: m.cache}
}

// Index rebinds an index handle to this transaction.
func (t *Tx) Index(i *IndexSet) *IndexSet {
	return &IndexSet{name: i.name, table: i.table, run: t.tx}
}

// WithinTx runs fn inside a transaction, committing on nil and rolling back
// on error. Primary and index writes must land in one fn with no blocking
// work in between, so readers never see a half-indexed record.
func (s *Store) WithinTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
