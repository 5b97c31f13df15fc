// Package store is the relational event store: it persists TradeEvent and
// TradeDaySync rows in SQLite and implements the two-tier upsert, the
// non-voided read predicate, and the day-sync bookkeeping the sync
// orchestrator depends on.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB opened against the projectx event schema.
type Store struct {
	db  *sql.DB
	log *logrus.Logger
}

// Open opens (or creates) the SQLite database at path and runs migrations.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{db: sqlDB, log: logrus.StandardLogger()}
	if err := s.migrate(context.Background()); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for callers that need a raw connection,
// e.g. to seed fixtures.
func (s *Store) DB() *sql.DB { return s.db }
