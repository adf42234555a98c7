package kv

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - no schema
// 1 - kv table
// 2 - meta table recording the key layout
const currentSchemaVersion = 2

// keyLayout identifies how grove encodes flat keys. Opening a database
// written with a different layout fails instead of misreading it.
const keyLayout = "grove-prefix-v1"

// SQLite is a backend on a single SQLite table.
// Uses WAL mode; the pool holds one connection, so a reader blocks while a
// writer transaction is open.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite creates or opens a database at path (":memory:" for tests).
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("kv: sqlite path is required")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 2 {
		if _, err := db.Exec(
			`INSERT INTO meta (name, value) VALUES ('key_layout', ?) ON CONFLICT(name) DO NOTHING`,
			keyLayout,
		); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}

	var layout string
	if err := db.QueryRow(`SELECT value FROM meta WHERE name = 'key_layout'`).Scan(&layout); err != nil {
		return fmt.Errorf("read key layout: %w", err)
	}
	if layout != keyLayout {
		return fmt.Errorf("database key layout %q is not supported (want %q)", layout, keyLayout)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Begin implements Backend.
func (s *SQLite) Begin(ctx context.Context, writable bool) (Txn, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: !writable})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &sqliteTxn{ctx: ctx, tx: tx, writable: writable}, nil
}

// Close implements Backend.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type sqliteTxn struct {
	ctx      context.Context
	tx       *sql.Tx
	writable bool
	done     bool
}

func (t *sqliteTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrClosed
	}
	var v []byte
	err := t.tx.QueryRowContext(t.ctx, `SELECT v FROM kv WHERE k = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	return v, nil
}

func (t *sqliteTxn) Set(key, value []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO kv (k, v) VALUES (?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v`,
		key, nonNil(value))
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (t *sqliteTxn) Delete(key []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM kv WHERE k = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

// Iterate loads the matching rows before invoking fn so that fn may issue
// further reads on the same transaction.
func (t *sqliteTxn) Iterate(prefix []byte, reverse bool, fn func(key, value []byte) error) error {
	if t.done {
		return ErrClosed
	}
	order := "ASC"
	if reverse {
		order = "DESC"
	}

	var rows *sql.Rows
	var err error
	if end := prefixEnd(prefix); end != nil {
		rows, err = t.tx.QueryContext(t.ctx,
			`SELECT k, v FROM kv WHERE k >= ? AND k < ? ORDER BY k `+order, prefix, end)
	} else {
		rows, err = t.tx.QueryContext(t.ctx,
			`SELECT k, v FROM kv WHERE k >= ? ORDER BY k `+order, nonNil(prefix))
	}
	if err != nil {
		return fmt.Errorf("sqlite iterate: %w", err)
	}

	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.value); err != nil {
			rows.Close()
			return fmt.Errorf("sqlite iterate scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("sqlite iterate: %w", err)
	}
	rows.Close()

	for _, e := range entries {
		if err := fn(e.key, e.value); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *sqliteTxn) Commit() error {
	if t.done {
		return ErrClosed
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

func (t *sqliteTxn) Discard() {
	if t.done {
		return
	}
	t.done = true
	_ = t.tx.Rollback()
}

func (t *sqliteTxn) checkWrite() error {
	if t.done {
		return ErrClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}

// nonNil keeps an empty prefix from binding as SQL NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
