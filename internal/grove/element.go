package grove

import (
	"fmt"

	"github.com/roach88/docgrove/internal/value"
)

// ElementKind discriminates stored elements.
type ElementKind uint8

const (
	// KindItem holds an opaque value.
	KindItem ElementKind = iota
	// KindTree opens a child layer.
	KindTree
	// KindReference points at an element elsewhere in the tree.
	KindReference
)

func (k ElementKind) String() string {
	switch k {
	case KindItem:
		return "item"
	case KindTree:
		return "tree"
	case KindReference:
		return "reference"
	}
	return fmt.Sprintf("ElementKind(%d)", k)
}

// Element is one value stored in a layer.
type Element struct {
	Kind ElementKind
	// Value is the payload of an item.
	Value []byte
	// Hash is the root hash of a tree's child layer. Maintained by the
	// transaction; callers never set it.
	Hash [32]byte
	// RefPath and RefKey locate a reference's target.
	RefPath [][]byte
	RefKey  []byte
}

// NewItem returns an item element.
func NewItem(v []byte) Element { return Element{Kind: KindItem, Value: v} }

// NewTree returns an empty tree element.
func NewTree() Element { return Element{Kind: KindTree, Hash: emptyLayerHash} }

// NewReference returns a reference to the element at (path, key).
func NewReference(path [][]byte, key []byte) Element {
	return Element{Kind: KindReference, RefPath: path, RefKey: key}
}

// IsTree reports whether the element opens a child layer.
func (e Element) IsTree() bool { return e.Kind == KindTree }

type referenceWire struct {
	Path [][]byte `codec:"p"`
	Key  []byte   `codec:"k"`
}

// encode serializes the element: one kind byte followed by the payload.
func (e Element) encode() ([]byte, error) {
	switch e.Kind {
	case KindItem:
		out := make([]byte, 1+len(e.Value))
		out[0] = byte(KindItem)
		copy(out[1:], e.Value)
		return out, nil
	case KindTree:
		out := make([]byte, 1+32)
		out[0] = byte(KindTree)
		copy(out[1:], e.Hash[:])
		return out, nil
	case KindReference:
		payload, err := value.EncodeCBOR(referenceWire{Path: e.RefPath, Key: e.RefKey})
		if err != nil {
			return nil, fmt.Errorf("encode reference: %w", err)
		}
		return append([]byte{byte(KindReference)}, payload...), nil
	}
	return nil, fmt.Errorf("encode element: unknown kind %d", e.Kind)
}

func decodeElement(data []byte) (Element, error) {
	if len(data) == 0 {
		return Element{}, &CorruptedError{Message: "empty element"}
	}
	switch ElementKind(data[0]) {
	case KindItem:
		v := make([]byte, len(data)-1)
		copy(v, data[1:])
		return Element{Kind: KindItem, Value: v}, nil
	case KindTree:
		if len(data) != 33 {
			return Element{}, &CorruptedError{Message: fmt.Sprintf("tree element has %d bytes", len(data))}
		}
		var e Element
		e.Kind = KindTree
		copy(e.Hash[:], data[1:])
		return e, nil
	case KindReference:
		var w referenceWire
		if err := value.DecodeCBORInto(data[1:], &w); err != nil {
			return Element{}, &CorruptedError{Message: "reference: " + err.Error()}
		}
		return Element{Kind: KindReference, RefPath: w.Path, RefKey: w.Key}, nil
	}
	return Element{}, &CorruptedError{Message: fmt.Sprintf("unknown element kind %d", data[0])}
}

// valueHash is the element's contribution to its layer hash. Trees
// contribute their child layer hash.
func (e Element) valueHash() ([32]byte, error) {
	switch e.Kind {
	case KindTree:
		return e.Hash, nil
	case KindItem:
		return value.HashWithDomain(value.DomainItem, e.Value), nil
	}
	enc, err := e.encode()
	if err != nil {
		return [32]byte{}, err
	}
	return value.HashWithDomain(value.DomainItem, enc), nil
}

func entryHash(kind ElementKind, key []byte, valueHash [32]byte) [32]byte {
	return value.HashWithDomain(value.DomainNode, []byte{byte(kind)}, key, valueHash[:])
}

var emptyLayerHash = value.HashWithDomain(value.DomainLayer)

func layerHash(entryHashes [][32]byte) [32]byte {
	if len(entryHashes) == 0 {
		return emptyLayerHash
	}
	parts := make([][]byte, len(entryHashes))
	for i := range entryHashes {
		parts[i] = entryHashes[i][:]
	}
	return value.HashWithDomain(value.DomainLayer, parts...)
}
