// Package grove is a Merkelized tree of layers stored over an ordered kv
// backend.
//
// A layer is addressed by its path, a sequence of key segments. Each layer
// holds elements: items, references, and trees that open child layers. Every
// layer has a hash over its entries and every tree element carries its child
// layer's hash, so the root layer's hash commits to the whole store.
// Query execution and proof generation share one traversal (see query.go).
package grove

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/docgrove/internal/kv"
	"github.com/roach88/docgrove/internal/value"
)

// layerPrefixSize is the length of the hashed path prefix of every flat key.
const layerPrefixSize = 16

// DB is a grove tree over a kv backend.
type DB struct {
	backend kv.Backend
	logger  *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		db.logger = logger
	}
}

// Open wraps a backend. The DB does not own the backend unless Close is
// called.
func Open(backend kv.Backend, opts ...Option) *DB {
	db := &DB{backend: backend, logger: slog.Default()}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Close closes the underlying backend.
func (db *DB) Close() error {
	return db.backend.Close()
}

// Begin starts a transaction.
func (db *DB) Begin(ctx context.Context, writable bool) (*Tx, error) {
	txn, err := db.backend.Begin(ctx, writable)
	if err != nil {
		return nil, fmt.Errorf("grove begin: %w", err)
	}
	return &Tx{
		txn:      txn,
		writable: writable,
		dirty:    make(map[string][][]byte),
		logger:   db.logger,
	}, nil
}

// View runs fn in a read transaction.
func (db *DB) View(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer tx.Discard()
	return fn(tx)
}

// Update runs fn in a write transaction, committing when fn succeeds.
func (db *DB) Update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := db.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Cost accumulates low-level operation counters for a transaction.
type Cost struct {
	Seeks         uint64
	LoadedBytes   uint64
	StorageWrites uint64
	WrittenBytes  uint64
	HashCalls     uint64
}

// Per-operation weights used by Fee.
const (
	feePerSeek       = 4000
	feePerLoadedByte = 10
	feePerWrite      = 20000
	feePerWriteByte  = 27
	feePerHash       = 100
)

// Fee folds the counters into a single processing cost. The weights are
// fixed so the same work always costs the same.
func (c Cost) Fee() uint64 {
	return c.Seeks*feePerSeek +
		c.LoadedBytes*feePerLoadedByte +
		c.StorageWrites*feePerWrite +
		c.WrittenBytes*feePerWriteByte +
		c.HashCalls*feePerHash
}

// Add returns the sum of two costs.
func (c Cost) Add(o Cost) Cost {
	return Cost{
		Seeks:         c.Seeks + o.Seeks,
		LoadedBytes:   c.LoadedBytes + o.LoadedBytes,
		StorageWrites: c.StorageWrites + o.StorageWrites,
		WrittenBytes:  c.WrittenBytes + o.WrittenBytes,
		HashCalls:     c.HashCalls + o.HashCalls,
	}
}

// Sub returns the counters accumulated since o was taken.
func (c Cost) Sub(o Cost) Cost {
	return Cost{
		Seeks:         c.Seeks - o.Seeks,
		LoadedBytes:   c.LoadedBytes - o.LoadedBytes,
		StorageWrites: c.StorageWrites - o.StorageWrites,
		WrittenBytes:  c.WrittenBytes - o.WrittenBytes,
		HashCalls:     c.HashCalls - o.HashCalls,
	}
}

// Tx is a transaction on the tree. It is not safe for concurrent use.
//
// Layer hashes are recomputed lazily: writes mark their layer dirty and
// Commit, RootHash, and Prove propagate hashes from the deepest dirty layer
// up to the root.
type Tx struct {
	txn      kv.Txn
	writable bool
	dirty    map[string][][]byte
	cost     Cost
	logger   *slog.Logger
	done     bool
}

// Cost returns the counters accumulated so far.
func (t *Tx) Cost() Cost { return t.cost }

// Writable reports whether the transaction may write.
func (t *Tx) Writable() bool { return t.writable }

// Commit propagates hashes and commits the underlying transaction.
func (t *Tx) Commit() error {
	if t.done {
		return kv.ErrClosed
	}
	if err := t.flush(); err != nil {
		return err
	}
	t.done = true
	return t.txn.Commit()
}

// Discard abandons the transaction. Safe after Commit.
func (t *Tx) Discard() {
	t.done = true
	t.txn.Discard()
}

func layerPrefix(path [][]byte) []byte {
	h := value.HashWithDomain(value.DomainPath, path...)
	out := make([]byte, 1+layerPrefixSize)
	out[0] = 'e'
	copy(out[1:], h[:layerPrefixSize])
	return out
}

func flatKey(path [][]byte, key []byte) []byte {
	return append(layerPrefix(path), key...)
}

func pathID(path [][]byte) string {
	return string(layerPrefix(path))
}

// rawGet reads an element without checking that its layer exists.
func (t *Tx) rawGet(path [][]byte, key []byte) (Element, bool, error) {
	t.cost.Seeks++
	data, err := t.txn.Get(flatKey(path, key))
	if errors.Is(err, kv.ErrNotFound) {
		return Element{}, false, nil
	}
	if err != nil {
		return Element{}, false, err
	}
	t.cost.LoadedBytes += uint64(len(data))
	el, err := decodeElement(data)
	if err != nil {
		return Element{}, false, err
	}
	return el, true, nil
}

func (t *Tx) rawPut(path [][]byte, key []byte, el Element) error {
	data, err := el.encode()
	if err != nil {
		return err
	}
	t.cost.StorageWrites++
	t.cost.WrittenBytes += uint64(len(key) + len(data))
	if err := t.txn.Set(flatKey(path, key), data); err != nil {
		return err
	}
	t.markDirty(path)
	return nil
}

func (t *Tx) markDirty(path [][]byte) {
	id := pathID(path)
	if _, ok := t.dirty[id]; !ok {
		t.dirty[id] = clonePath(path)
	}
}

type layerEntry struct {
	key []byte
	el  Element
}

// rawLayer lists a layer's entries in key order (descending when reverse).
func (t *Tx) rawLayer(path [][]byte, reverse bool) ([]layerEntry, error) {
	prefix := layerPrefix(path)
	var out []layerEntry
	t.cost.Seeks++
	err := t.txn.Iterate(prefix, reverse, func(k, v []byte) error {
		t.cost.LoadedBytes += uint64(len(v))
		el, err := decodeElement(v)
		if err != nil {
			return err
		}
		out = append(out, layerEntry{key: clone(k[len(prefix):]), el: el})
		return nil
	})
	return out, err
}

// checkLayer verifies that every segment of path names a tree.
func (t *Tx) checkLayer(path [][]byte) error {
	for i := range path {
		el, ok, err := t.rawGet(path[:i], path[i])
		if err != nil {
			return err
		}
		if !ok || !el.IsTree() {
			kind := PathParentLayerNotFound
			if i == len(path)-1 {
				kind = PathNotFound
			}
			return &PathError{Kind: kind, Path: clonePath(path[:i+1])}
		}
	}
	return nil
}

// Get returns the element at (path, key) without following references.
func (t *Tx) Get(path [][]byte, key []byte) (Element, error) {
	if err := t.checkLayer(path); err != nil {
		return Element{}, err
	}
	el, ok, err := t.rawGet(path, key)
	if err != nil {
		return Element{}, err
	}
	if !ok {
		return Element{}, &PathError{Kind: PathKeyNotFound, Path: clonePath(path), Key: clone(key)}
	}
	return el, nil
}

// GetItem returns the item value at (path, key), following references.
func (t *Tx) GetItem(path [][]byte, key []byte) ([]byte, error) {
	el, err := t.Get(path, key)
	if err != nil {
		return nil, err
	}
	el, err = resolveReference(liveSource{t}, el)
	if err != nil {
		return nil, err
	}
	if el.Kind != KindItem {
		return nil, &CorruptedError{Message: fmt.Sprintf("expected item, found %s", el.Kind)}
	}
	return el.Value, nil
}

// Has reports whether (path, key) exists. Missing layers read as absent.
func (t *Tx) Has(path [][]byte, key []byte) (bool, error) {
	_, err := t.Get(path, key)
	if IsAbsence(err) {
		return false, nil
	}
	return err == nil, err
}

func (t *Tx) checkWritable() error {
	if t.done {
		return kv.ErrClosed
	}
	if !t.writable {
		return kv.ErrReadOnly
	}
	return nil
}

// Insert stores el at (path, key), replacing an existing item or reference.
// Inserting a tree where a tree already exists keeps the existing tree.
func (t *Tx) Insert(path [][]byte, key []byte, el Element) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := t.checkLayer(path); err != nil {
		return err
	}
	existing, ok, err := t.rawGet(path, key)
	if err != nil {
		return err
	}
	if ok && (existing.IsTree() || el.IsTree()) {
		if existing.IsTree() && el.IsTree() {
			return nil
		}
		return ErrOverwriteTree
	}
	if el.IsTree() {
		el.Hash = emptyLayerHash
	}
	return t.rawPut(path, key, el)
}

// InsertIfNotExists stores el only when the key is absent.
func (t *Tx) InsertIfNotExists(path [][]byte, key []byte, el Element) (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}
	if err := t.checkLayer(path); err != nil {
		return false, err
	}
	_, ok, err := t.rawGet(path, key)
	if err != nil || ok {
		return false, err
	}
	if el.IsTree() {
		el.Hash = emptyLayerHash
	}
	return true, t.rawPut(path, key, el)
}

// InsertTreeIfNotExists creates an empty tree at (path, key) when absent.
func (t *Tx) InsertTreeIfNotExists(path [][]byte, key []byte) (bool, error) {
	return t.InsertIfNotExists(path, key, NewTree())
}

// EnsurePath creates every missing tree along path.
func (t *Tx) EnsurePath(path [][]byte) error {
	for i := range path {
		if _, err := t.InsertTreeIfNotExists(path[:i], path[i]); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes (path, key). Trees must be empty.
func (t *Tx) Delete(path [][]byte, key []byte) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	el, err := t.Get(path, key)
	if err != nil {
		return err
	}
	if el.IsTree() {
		child := append(clonePath(path), clone(key))
		empty, err := t.layerEmpty(child)
		if err != nil {
			return err
		}
		if !empty {
			return ErrTreeNotEmpty
		}
		delete(t.dirty, pathID(child))
	}
	t.cost.StorageWrites++
	if err := t.txn.Delete(flatKey(path, key)); err != nil {
		return err
	}
	t.markDirty(path)
	return nil
}

// DeleteUpTreeWhileEmpty removes (path, key) and then every ancestor tree
// left empty, never shortening the path below keepDepth segments.
func (t *Tx) DeleteUpTreeWhileEmpty(path [][]byte, key []byte, keepDepth int) error {
	if err := t.Delete(path, key); err != nil {
		return err
	}
	for p := path; len(p) > keepDepth; p = p[:len(p)-1] {
		empty, err := t.layerEmpty(p)
		if err != nil {
			return err
		}
		if !empty {
			return nil
		}
		if err := t.Delete(p[:len(p)-1], p[len(p)-1]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) layerEmpty(path [][]byte) (bool, error) {
	empty := true
	err := t.txn.Iterate(layerPrefix(path), false, func(_, _ []byte) error {
		empty = false
		return kv.ErrStop
	})
	return empty, err
}

// RootHash returns the hash committing to the whole tree.
func (t *Tx) RootHash() ([32]byte, error) {
	if err := t.flush(); err != nil {
		return [32]byte{}, err
	}
	return t.computeLayerHash(nil)
}

func (t *Tx) computeLayerHash(path [][]byte) ([32]byte, error) {
	entries, err := t.rawLayer(path, false)
	if err != nil {
		return [32]byte{}, err
	}
	hashes := make([][32]byte, len(entries))
	for i, e := range entries {
		vh, err := e.el.valueHash()
		if err != nil {
			return [32]byte{}, err
		}
		hashes[i] = entryHash(e.el.Kind, e.key, vh)
	}
	t.cost.HashCalls += uint64(len(entries) + 1)
	return layerHash(hashes), nil
}

// flush propagates dirty layer hashes to the root, deepest layer first.
func (t *Tx) flush() error {
	for len(t.dirty) > 0 {
		var id string
		var path [][]byte
		depth := -1
		for k, p := range t.dirty {
			if len(p) > depth || (len(p) == depth && k < id) {
				id, path, depth = k, p, len(p)
			}
		}
		delete(t.dirty, id)
		if len(path) == 0 {
			continue
		}

		parent, key := path[:len(path)-1], path[len(path)-1]
		el, ok, err := t.rawGet(parent, key)
		if err != nil {
			return err
		}
		if !ok || !el.IsTree() {
			continue
		}
		h, err := t.computeLayerHash(path)
		if err != nil {
			return err
		}
		if h == el.Hash {
			continue
		}
		el.Hash = h
		if err := t.rawPut(parent, key, el); err != nil {
			return err
		}
	}
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func clonePath(path [][]byte) [][]byte {
	out := make([][]byte, len(path))
	for i, s := range path {
		out[i] = clone(s)
	}
	return out
}

func joinPath(path [][]byte, segs ...[]byte) [][]byte {
	out := make([][]byte, 0, len(path)+len(segs))
	out = append(out, path...)
	return append(out, segs...)
}
