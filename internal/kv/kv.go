// Package kv provides the ordered byte key/value backends underneath the
// grove tree.
//
// Every backend offers snapshot read transactions and a single serialized
// writer. Keys iterate in bytewise order in both directions.
package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNotFound is returned by Txn.Get when the key is absent.
var ErrNotFound = errors.New("kv: key not found")

// ErrStop can be returned from an Iterate callback to end iteration early
// without an error.
var ErrStop = errors.New("kv: stop iteration")

// ErrReadOnly is returned when a read transaction attempts a write.
var ErrReadOnly = errors.New("kv: transaction is read-only")

// ErrClosed is returned when using a finished transaction.
var ErrClosed = errors.New("kv: transaction already finished")

// Backend is an ordered key/value store.
type Backend interface {
	// Begin starts a transaction. Writable transactions are serialized.
	Begin(ctx context.Context, writable bool) (Txn, error)
	Close() error
}

// Txn is a transaction over a Backend. Discard is safe to call after Commit.
type Txn interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// Iterate visits every key with the given prefix in order (descending
	// when reverse). The callback must not retain key or value.
	Iterate(prefix []byte, reverse bool, fn func(key, value []byte) error) error
	Commit() error
	Discard()
}

// Kind names a backend implementation.
type Kind string

const (
	KindMemory Kind = "memory"
	KindBadger Kind = "badger"
	KindSQLite Kind = "sqlite"
)

// Open opens a backend by kind. path is ignored for the memory backend.
func Open(kind Kind, path string, logger *slog.Logger) (Backend, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch kind {
	case KindMemory, "":
		return NewMemory(), nil
	case KindBadger:
		cfg := DefaultBadgerConfig()
		cfg.Path = path
		cfg.Logger = logger
		return OpenBadger(cfg)
	case KindSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("kv: unknown backend %q", kind)
	}
}

// View runs fn in a read transaction.
func View(ctx context.Context, b Backend, fn func(Txn) error) error {
	txn, err := b.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer txn.Discard()
	return fn(txn)
}

// Update runs fn in a write transaction and commits when fn succeeds.
func Update(ctx context.Context, b Backend, fn func(Txn) error) error {
	txn, err := b.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// prefixEnd returns the smallest key greater than every key with the prefix,
// or nil when no such key exists (prefix is empty or all 0xFF).
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}
