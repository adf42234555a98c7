package kv

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/google/btree"
)

const memoryDegree = 32

type entry struct {
	key   []byte
	value []byte
}

func lessEntry(a, b entry) bool { return bytes.Compare(a.key, b.key) < 0 }

// Memory is an in-process backend on a copy-on-write B-tree. Read
// transactions see a snapshot taken at Begin; the single writer works on a
// clone that replaces the shared tree on Commit.
type Memory struct {
	mu     sync.Mutex
	tree   *btree.BTreeG[entry]
	writer sync.Mutex
	closed bool
}

// NewMemory returns an empty memory backend.
func NewMemory() *Memory {
	return &Memory{tree: btree.NewG(memoryDegree, lessEntry)}
}

// Begin implements Backend. A writable Begin blocks until the previous
// writer finishes or ctx is done.
func (m *Memory) Begin(ctx context.Context, writable bool) (Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if writable {
		m.writer.Lock()
	}
	// Clone mutates the source tree's copy-on-write state, so it takes the
	// exclusive lock even for readers.
	m.mu.Lock()
	closed := m.closed
	snap := m.tree.Clone()
	m.mu.Unlock()
	if closed {
		if writable {
			m.writer.Unlock()
		}
		return nil, errors.New("kv: memory backend closed")
	}
	return &memoryTxn{db: m, tree: snap, writable: writable}, nil
}

// Close implements Backend.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type memoryTxn struct {
	db       *Memory
	tree     *btree.BTreeG[entry]
	writable bool
	done     bool
}

func (t *memoryTxn) Get(key []byte) ([]byte, error) {
	if t.done {
		return nil, ErrClosed
	}
	e, ok := t.tree.Get(entry{key: key})
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.value), nil
}

func (t *memoryTxn) Set(key, value []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.tree.ReplaceOrInsert(entry{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (t *memoryTxn) Delete(key []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	t.tree.Delete(entry{key: key})
	return nil
}

func (t *memoryTxn) Iterate(prefix []byte, reverse bool, fn func(key, value []byte) error) error {
	if t.done {
		return ErrClosed
	}
	var cbErr error
	visit := func(e entry) bool {
		if !bytes.HasPrefix(e.key, prefix) {
			return false
		}
		if err := fn(e.key, e.value); err != nil {
			cbErr = err
			return false
		}
		return true
	}

	end := prefixEnd(prefix)
	switch {
	case !reverse:
		t.tree.AscendGreaterOrEqual(entry{key: prefix}, visit)
	case end == nil:
		t.tree.Descend(visit)
	default:
		t.tree.DescendLessOrEqual(entry{key: end}, func(e entry) bool {
			if bytes.Equal(e.key, end) {
				return true
			}
			return visit(e)
		})
	}
	if errors.Is(cbErr, ErrStop) {
		return nil
	}
	return cbErr
}

func (t *memoryTxn) Commit() error {
	if t.done {
		return ErrClosed
	}
	if t.writable {
		t.db.mu.Lock()
		t.db.tree = t.tree
		t.db.mu.Unlock()
	}
	t.finish()
	return nil
}

func (t *memoryTxn) Discard() {
	if !t.done {
		t.finish()
	}
}

func (t *memoryTxn) finish() {
	t.done = true
	if t.writable {
		t.db.writer.Unlock()
	}
}

func (t *memoryTxn) checkWrite() error {
	if t.done {
		return ErrClosed
	}
	if !t.writable {
		return ErrReadOnly
	}
	return nil
}
