package value

import (
	"bytes"
	"fmt"

	base58 "github.com/jbenet/go-base58"
)

// IdentifierSize is the byte length of every identifier (document ids,
// owner ids, contract ids, token ids, action ids).
const IdentifierSize = 32

// Identifier is a 32-byte identifier. Its text form is base58.
type Identifier [IdentifierSize]byte

func (Identifier) value() {}

// String returns the base58 rendering.
func (id Identifier) String() string {
	return base58.Encode(id[:])
}

// Bytes returns a copy of the identifier as a slice.
func (id Identifier) Bytes() []byte {
	out := make([]byte, IdentifierSize)
	copy(out, id[:])
	return out
}

// IsZero reports whether every byte is zero.
func (id Identifier) IsZero() bool {
	return id == Identifier{}
}

// Compare orders identifiers bytewise.
func (id Identifier) Compare(other Identifier) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText implements encoding.TextMarshaler (base58).
func (id Identifier) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler (base58).
func (id *Identifier) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentifier(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseIdentifier decodes a base58 identifier.
func ParseIdentifier(s string) (Identifier, error) {
	if s == "" {
		return Identifier{}, fmt.Errorf("identifier: empty string")
	}
	raw := base58.Decode(s)
	if len(raw) != IdentifierSize {
		return Identifier{}, fmt.Errorf("identifier %q: decoded to %d bytes, expected %d", s, len(raw), IdentifierSize)
	}
	var id Identifier
	copy(id[:], raw)
	return id, nil
}

// MustParseIdentifier is like ParseIdentifier but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustParseIdentifier(s string) Identifier {
	id, err := ParseIdentifier(s)
	if err != nil {
		panic(err)
	}
	return id
}

// IdentifierFromBytes copies a 32-byte slice into an Identifier.
func IdentifierFromBytes(b []byte) (Identifier, error) {
	if len(b) != IdentifierSize {
		return Identifier{}, fmt.Errorf("identifier: got %d bytes, expected %d", len(b), IdentifierSize)
	}
	var id Identifier
	copy(id[:], b)
	return id, nil
}

// IdentifierFromValue accepts an Identifier, 32 raw Bytes, or a base58 String.
func IdentifierFromValue(v Value) (Identifier, error) {
	switch val := v.(type) {
	case Identifier:
		return val, nil
	case Bytes:
		return IdentifierFromBytes(val)
	case String:
		return ParseIdentifier(string(val))
	default:
		return Identifier{}, fmt.Errorf("identifier: cannot convert %s", Kind(v))
	}
}
