package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type backendFactory struct {
	name string
	open func(t *testing.T) Backend
}

func backends() []backendFactory {
	return []backendFactory{
		{"memory", func(t *testing.T) Backend { return NewMemory() }},
		{"badger", func(t *testing.T) Backend {
			b, err := OpenBadger(InMemoryBadgerConfig())
			require.NoError(t, err)
			return b
		}},
		{"sqlite", func(t *testing.T) Backend {
			b, err := OpenSQLite(filepath.Join(t.TempDir(), "kv.db"))
			require.NoError(t, err)
			return b
		}},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, b Backend)) {
	for _, f := range backends() {
		t.Run(f.name, func(t *testing.T) {
			b := f.open(t)
			t.Cleanup(func() { b.Close() })
			fn(t, b)
		})
	}
}

func seed(t *testing.T, b Backend, pairs ...string) {
	t.Helper()
	require.NoError(t, Update(context.Background(), b, func(txn Txn) error {
		for i := 0; i+1 < len(pairs); i += 2 {
			if err := txn.Set([]byte(pairs[i]), []byte(pairs[i+1])); err != nil {
				return err
			}
		}
		return nil
	}))
}

func collect(t *testing.T, b Backend, prefix string, reverse bool) []string {
	t.Helper()
	var keys []string
	require.NoError(t, View(context.Background(), b, func(txn Txn) error {
		return txn.Iterate([]byte(prefix), reverse, func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	}))
	return keys
}

func TestGetSetDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		seed(t, b, "a", "1")

		require.NoError(t, View(context.Background(), b, func(txn Txn) error {
			v, err := txn.Get([]byte("a"))
			require.NoError(t, err)
			assert.Equal(t, []byte("1"), v)

			_, err = txn.Get([]byte("missing"))
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		}))

		require.NoError(t, Update(context.Background(), b, func(txn Txn) error {
			return txn.Delete([]byte("a"))
		}))
		require.NoError(t, View(context.Background(), b, func(txn Txn) error {
			_, err := txn.Get([]byte("a"))
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		}))
	})
}

func TestIteratePrefixBothDirections(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		seed(t, b,
			"p/b", "2",
			"p/a", "1",
			"p/c", "3",
			"q/a", "x",
			"o/z", "y",
			"p\xff", "edge",
		)

		assert.Equal(t, []string{"p/a", "p/b", "p/c"}, collect(t, b, "p/", false))
		assert.Equal(t, []string{"p/c", "p/b", "p/a"}, collect(t, b, "p/", true))
		assert.Equal(t, []string{"o/z", "p/a", "p/b", "p/c", "p\xff", "q/a"}, collect(t, b, "", false))
		assert.Equal(t, []string{"p\xff", "p/c", "p/b", "p/a"}, collect(t, b, "p", true))
	})
}

func TestIterateStopsEarly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		seed(t, b, "k1", "", "k2", "", "k3", "")

		var seen []string
		require.NoError(t, View(context.Background(), b, func(txn Txn) error {
			return txn.Iterate([]byte("k"), false, func(k, _ []byte) error {
				seen = append(seen, string(k))
				if len(seen) == 2 {
					return ErrStop
				}
				return nil
			})
		}))
		assert.Equal(t, []string{"k1", "k2"}, seen)

		boom := errors.New("boom")
		err := View(context.Background(), b, func(txn Txn) error {
			return txn.Iterate([]byte("k"), false, func(k, _ []byte) error { return boom })
		})
		assert.ErrorIs(t, err, boom)
	})
}

func TestDiscardRollsBack(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		err := Update(context.Background(), b, func(txn Txn) error {
			require.NoError(t, txn.Set([]byte("k"), []byte("v")))
			return errors.New("abort")
		})
		require.Error(t, err)
		assert.Empty(t, collect(t, b, "", false))
	})
}

func TestReadOnlyTxnRejectsWrites(t *testing.T) {
	forEachBackend(t, func(t *testing.T, b Backend) {
		require.NoError(t, View(context.Background(), b, func(txn Txn) error {
			assert.ErrorIs(t, txn.Set([]byte("k"), []byte("v")), ErrReadOnly)
			assert.ErrorIs(t, txn.Delete([]byte("k")), ErrReadOnly)
			return nil
		}))
	})
}

func TestMemorySnapshotIsolation(t *testing.T) {
	m := NewMemory()
	seed(t, m, "a", "1")

	reader, err := m.Begin(context.Background(), false)
	require.NoError(t, err)
	defer reader.Discard()

	seed(t, m, "a", "2", "b", "3")

	v, err := reader.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v, "reader sees the snapshot taken at Begin")
	_, err = reader.Get([]byte("b"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenFactory(t *testing.T) {
	b, err := Open(KindMemory, "", nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(KindSQLite, filepath.Join(t.TempDir(), "f.db"), nil)
	require.NoError(t, err)
	require.NoError(t, b.Close())

	_, err = Open("bogus", "", nil)
	require.Error(t, err)
}

func TestSQLiteReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	seed(t, s, "k", "v")
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []string{"k"}, collect(t, s, "", false))
}

func TestPrefixEnd(t *testing.T) {
	assert.Equal(t, []byte("b"), prefixEnd([]byte("a")))
	assert.Equal(t, []byte{0x02}, prefixEnd([]byte{0x01, 0xff}))
	assert.Nil(t, prefixEnd([]byte{0xff, 0xff}))
	assert.Nil(t, prefixEnd(nil))
}
