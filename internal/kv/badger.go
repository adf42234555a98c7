package kv

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// maxKeySuffix bounds how far past an iteration prefix a key may extend.
const maxKeySuffix = 1024

// BadgerConfig holds configuration for a Badger backend.
type BadgerConfig struct {
	// Path is the directory for database files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM.
	InMemory bool

	// SyncWrites fsyncs every commit.
	SyncWrites bool

	// Logger receives badger's internal log lines. Nil disables them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns durable defaults.
func DefaultBadgerConfig() BadgerConfig {
	return BadgerConfig{SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

// Badger is a persistent LSM backend. Badger provides snapshot isolation
// itself; a mutex serializes writers so conflicting commits never happen.
type Badger struct {
	db     *badger.DB
	writer chan struct{}
}

// OpenBadger opens a Badger backend.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("kv: badger path is required for a persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db, writer: make(chan struct{}, 1)}, nil
}

// Begin implements Backend.
func (b *Badger) Begin(ctx context.Context, writable bool) (Txn, error) {
	if writable {
		select {
		case b.writer <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &badgerTxn{owner: b, txn: b.db.NewTransaction(writable), writable: writable}, nil
}

// Close implements Backend.
func (b *Badger) Close() error {
	return b.db.Close()
}

type badgerTxn struct {
	owner    *Badger
	txn      *badger.Txn
	writable bool
	done     bool
}

func (t *badgerTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrClosed
	}
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return item.ValueCopy(nil)
}

func (t *badgerTxn) Set(key, value []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := t.txn.Set(bytes.Clone(key), bytes.Clone(value)); err != nil {
		return fmt.Errorf("badger set: %w", err)
	}
	return nil
}

func (t *badgerTxn) Delete(key []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if err := t.txn.Delete(bytes.Clone(key)); err != nil {
		return fmt.Errorf("badger delete: %w", err)
	}
	return nil
}

func (t *badgerTxn) Iterate(prefix []byte, reverse bool, fn func(key, value []byte) error) error {
	if t.done {
		return ErrClosed
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.Reverse = reverse
	it := t.txn.NewIterator(opts)
	defer it.Close()

	// CRITICAL: reverse iteration seeks to the first key at or below the
	// seek key, so it must start past every key carrying the prefix. Keys
	// longer than maxKeySuffix past the prefix are not supported.
	seek := prefix
	if reverse {
		seek = append(bytes.Clone(prefix), bytes.Repeat([]byte{0xff}, maxKeySuffix)...)
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return fmt.Errorf("badger iterate: %w", err)
		}
		if err := fn(item.Key(), val); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func (t *badgerTxn) Commit() error {
	if t.done {
		return ErrClosed
	}
	defer t.finish()
	if !t.writable {
		return nil
	}
	if err := t.txn.Commit(); err != nil {
		return fmt.Errorf("badger commit: %w", err)
	}
	return nil
}

func (t *badgerTxn) Discard() {
	if !t.done {
		t.finish()
	}
}

func (t *badgerTxn) finish() {
	t.done = true
	t.txn.Discard()
	if t.writable {
		<-t.owner.writer
	}
}

func (t *badgerTxn) checkWrite() error {
	if t.done {
		return ErrClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}
