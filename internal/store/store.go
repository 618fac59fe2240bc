package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"opsdec/internal/crypto"
)

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx. Query
// methods declared on queries work both standalone and inside WithTx.
type dbtx interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

type Store struct {
	db *sql.DB
	queries
	encryptor *crypto.Encryptor
}

// Tx exposes the transactional slice of the store API. One reconciliation
// cycle runs entirely inside a single Tx.
type Tx struct {
	queries
}

type Option func(*Store)

func WithEncryptor(e *crypto.Encryptor) Option {
	return func(s *Store) { s.encryptor = e }
}

func New(dbPath string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite")
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	s := &Store{db: db}
	s.queries.db = db
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// HasEncryptor reports whether the store was initialized with an encryption key.
func (s *Store) HasEncryptor() bool {
	return s.encryptor != nil
}

// WithTx runs fn inside one write transaction. Rolls back on error.
func (s *Store) WithTx(fn func(tx *Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&Tx{queries{db: tx}}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Checkpoint issues a truncating WAL checkpoint. Called by the job runner
// periodically and once more during graceful shutdown.
func (s *Store) Checkpoint() error {
	_, err := s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	if err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping() error {
	return s.db.Ping()
}
