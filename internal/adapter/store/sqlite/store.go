// Package sqlite is the relational store for round tables, rounds, messages
// and jobs, backed by modernc.org/sqlite. It also provides a search result
// cache sharing the same database.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/DanielMax937/round-table-sub000/internal/domain"
)

// Store implements domain.RoundTableStore, domain.RoundStore and
// domain.JobStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens (or creates) the database at path and runs migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("%w: create data dir: %v", domain.ErrPersistence, err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrPersistence, err)
	}
	// SQLite write safety: single writer.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrPersistence, err)
	}
	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrPersistence, err)
	}

	return &Store{db: db, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SearchCache returns a search result cache backed by this database.
func (s *Store) SearchCache() *SearchCache {
	return &SearchCache{db: s.db, logger: s.logger, now: s.now}
}

func newID() string {
	return ulid.Make().String()
}

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrPersistence, err)
}

func notFound(subsystem, op, id string) error {
	return domain.NewSubSystemError(subsystem, op, domain.ErrNotFound, id)
}

// execOne runs a single-row update and reports whether a row changed.
func execOne(ctx context.Context, db execer, query string, args ...any) (bool, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

var (
	_ domain.RoundTableStore = (*Store)(nil)
	_ domain.RoundStore      = (*Store)(nil)
	_ domain.JobStore        = (*Store)(nil)
)
