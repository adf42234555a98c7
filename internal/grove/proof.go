package grove

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/roach88/docgrove/internal/pathquery"
	"github.com/roach88/docgrove/internal/value"
)

const proofVersion = 1

// A proof carries every layer the traversal touched, each with all of its
// entries so that absence is provable. Entries the traversal read in full
// carry the encoded element; the rest carry only their value hash.
type proofWire struct {
	Version int          `codec:"v"`
	Layers  []proofLayer `codec:"l"`
}

type proofLayer struct {
	Path    [][]byte     `codec:"p"`
	Entries []proofEntry `codec:"e"`
}

type proofEntry struct {
	Key     []byte `codec:"k"`
	Kind    uint8  `codec:"t"`
	Hash    []byte `codec:"h"`
	Element []byte `codec:"x,omitempty"`
}

// recorder wraps the live store and records what a traversal reads.
type recorder struct {
	live   liveSource
	layers map[string]*recordedLayer
}

type recordedLayer struct {
	path     [][]byte
	entries  []proofEntry
	index    map[string]int
	revealed map[string]bool
}

func (r *recorder) record(path [][]byte) (*recordedLayer, error) {
	id := pathID(path)
	if l, ok := r.layers[id]; ok {
		return l, nil
	}
	entries, err := r.live.layer(path, false)
	if err != nil {
		return nil, err
	}
	l := &recordedLayer{path: clonePath(path), index: make(map[string]int), revealed: make(map[string]bool)}
	for _, e := range entries {
		vh, err := e.el.valueHash()
		if err != nil {
			return nil, err
		}
		l.index[string(e.key)] = len(l.entries)
		l.entries = append(l.entries, proofEntry{Key: e.key, Kind: uint8(e.el.Kind), Hash: vh[:]})
	}
	r.layers[id] = l
	return l, nil
}

func (r *recorder) layer(path [][]byte, reverse bool) ([]layerEntry, error) {
	if _, err := r.record(path); err != nil {
		return nil, err
	}
	return r.live.layer(path, reverse)
}

func (r *recorder) element(path [][]byte, key []byte) (Element, bool, error) {
	l, err := r.record(path)
	if err != nil {
		return Element{}, false, err
	}
	el, ok, err := r.live.element(path, key)
	if err != nil || !ok {
		return el, ok, err
	}
	if !el.IsTree() && !l.revealed[string(key)] {
		enc, err := el.encode()
		if err != nil {
			return Element{}, false, err
		}
		l.entries[l.index[string(key)]].Element = enc
		l.revealed[string(key)] = true
	}
	return el, true, nil
}

// Prove executes each path query and returns one proof from which
// VerifyPathQuery recomputes the root hash and the result of any of them.
// Each query runs independently with its own limit. Absent paths still
// produce a proof; it verifies to an empty result.
func (t *Tx) Prove(pqs ...pathquery.PathQuery) ([]byte, error) {
	if err := t.flush(); err != nil {
		return nil, err
	}
	rec := &recorder{live: liveSource{t}, layers: make(map[string]*recordedLayer)}
	if _, err := rec.record(nil); err != nil {
		return nil, err
	}
	for _, pq := range pqs {
		if _, err := execute(rec, pq); err != nil && !IsAbsence(err) {
			return nil, err
		}
	}

	wire := proofWire{Version: proofVersion}
	for _, l := range rec.layers {
		wire.Layers = append(wire.Layers, proofLayer{Path: l.path, Entries: l.entries})
	}
	slices.SortFunc(wire.Layers, func(a, b proofLayer) int {
		if len(a.Path) != len(b.Path) {
			return len(a.Path) - len(b.Path)
		}
		for i := range a.Path {
			if c := bytes.Compare(a.Path[i], b.Path[i]); c != 0 {
				return c
			}
		}
		return 0
	})
	t.cost.HashCalls += uint64(len(wire.Layers))
	return value.EncodeCBOR(wire)
}

// proofView is a source backed by a decoded proof.
type proofView struct {
	layers map[string]*viewLayer
	hashes map[string][32]byte
}

type viewLayer struct {
	path    [][]byte
	entries []proofEntry
	index   map[string]int
}

// VerifyPathQuery checks a proof produced by Prove for pq. It returns the
// root hash the proof commits to and the query result it attests. The caller
// compares the root hash with a trusted one.
func VerifyPathQuery(proof []byte, pq pathquery.PathQuery) ([32]byte, *QueryResult, error) {
	var wire proofWire
	if err := value.DecodeCBORInto(proof, &wire); err != nil {
		return [32]byte{}, nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if wire.Version != proofVersion {
		return [32]byte{}, nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidProof, wire.Version)
	}

	view := &proofView{layers: make(map[string]*viewLayer), hashes: make(map[string][32]byte)}
	for _, l := range wire.Layers {
		id := pathID(l.Path)
		if _, dup := view.layers[id]; dup {
			return [32]byte{}, nil, fmt.Errorf("%w: duplicate layer", ErrInvalidProof)
		}
		vl := &viewLayer{path: l.Path, entries: l.Entries, index: make(map[string]int)}
		for i, e := range l.Entries {
			if i > 0 && bytes.Compare(l.Entries[i-1].Key, e.Key) >= 0 {
				return [32]byte{}, nil, fmt.Errorf("%w: layer entries out of order", ErrInvalidProof)
			}
			vl.index[string(e.Key)] = i
		}
		view.layers[id] = vl
	}

	root, err := view.hash(nil)
	if err != nil {
		return [32]byte{}, nil, err
	}

	res, err := execute(view, pq)
	if IsAbsence(err) {
		return root, &QueryResult{}, nil
	}
	if err != nil {
		return [32]byte{}, nil, err
	}
	return root, res, nil
}

// hash computes a layer's hash from the proof, descending into every child
// layer the proof contains.
func (v *proofView) hash(path [][]byte) ([32]byte, error) {
	id := pathID(path)
	if h, ok := v.hashes[id]; ok {
		return h, nil
	}
	l, ok := v.layers[id]
	if !ok {
		return [32]byte{}, fmt.Errorf("%w: layer missing from proof", ErrInvalidProof)
	}
	hashes := make([][32]byte, len(l.entries))
	for i, e := range l.entries {
		vh, err := v.valueHash(path, e)
		if err != nil {
			return [32]byte{}, err
		}
		hashes[i] = entryHash(ElementKind(e.Kind), e.Key, vh)
	}
	h := layerHash(hashes)
	v.hashes[id] = h
	return h, nil
}

func (v *proofView) valueHash(path [][]byte, e proofEntry) ([32]byte, error) {
	if ElementKind(e.Kind) == KindTree {
		child := joinPath(path, e.Key)
		if _, ok := v.layers[pathID(child)]; ok {
			return v.hash(child)
		}
	}
	if len(e.Element) > 0 {
		el, err := decodeElement(e.Element)
		if err != nil {
			return [32]byte{}, fmt.Errorf("%w: %v", ErrInvalidProof, err)
		}
		if el.Kind != ElementKind(e.Kind) {
			return [32]byte{}, fmt.Errorf("%w: element kind mismatch", ErrInvalidProof)
		}
		return el.valueHash()
	}
	if len(e.Hash) != 32 {
		return [32]byte{}, fmt.Errorf("%w: bad entry hash", ErrInvalidProof)
	}
	var h [32]byte
	copy(h[:], e.Hash)
	return h, nil
}

func (v *proofView) layer(path [][]byte, reverse bool) ([]layerEntry, error) {
	l, ok := v.layers[pathID(path)]
	if !ok {
		return nil, fmt.Errorf("%w: layer missing from proof", ErrInvalidProof)
	}
	out := make([]layerEntry, len(l.entries))
	for i, e := range l.entries {
		out[i] = layerEntry{key: e.Key, el: Element{Kind: ElementKind(e.Kind)}}
	}
	if reverse {
		slices.Reverse(out)
	}
	return out, nil
}

func (v *proofView) element(path [][]byte, key []byte) (Element, bool, error) {
	l, ok := v.layers[pathID(path)]
	if !ok {
		return Element{}, false, fmt.Errorf("%w: layer missing from proof", ErrInvalidProof)
	}
	i, ok := l.index[string(key)]
	if !ok {
		return Element{}, false, nil
	}
	e := l.entries[i]
	if ElementKind(e.Kind) == KindTree {
		h, err := v.valueHash(path, e)
		if err != nil {
			return Element{}, false, err
		}
		return Element{Kind: KindTree, Hash: h}, true, nil
	}
	if len(e.Element) == 0 {
		return Element{}, false, fmt.Errorf("%w: element %x not revealed", ErrInvalidProof, key)
	}
	el, err := decodeElement(e.Element)
	if err != nil {
		return Element{}, false, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	return el, true, nil
}
