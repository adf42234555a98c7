package value

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf16"
)

// Value is a sealed interface over the constrained value kinds.
// Only Null, String, Int, Bool, Bytes, Identifier, Array, and Map implement it.
type Value interface {
	value() // Sealed - only these types implement it
}

// Null is an explicit null. A missing document field reads as Null.
type Null struct{}

func (Null) value() {}

// String is a UTF-8 string value.
type String string

func (String) value() {}

// Int is a signed 64-bit integer. There is no float kind.
type Int int64

func (Int) value() {}

// Bool is a boolean value.
type Bool bool

func (Bool) value() {}

// Bytes is an opaque byte string.
type Bytes []byte

func (Bytes) value() {}

// Array is an ordered list of values.
type Array []Value

func (Array) value() {}

// Map is a string-keyed map. Use SortedKeys for deterministic iteration.
type Map map[string]Value

func (Map) value() {}

// Kind returns a short lowercase name for the value's kind, used in error
// messages.
func Kind(v Value) string {
	switch v.(type) {
	case nil, Null:
		return "null"
	case String:
		return "string"
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Bytes:
		return "bytes"
	case Identifier:
		return "identifier"
	case Array:
		return "array"
	case Map:
		return "map"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	switch v.(type) {
	case nil, Null:
		return true
	}
	return false
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces a DIFFERENT order.
func (m Map) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

// Get returns the value at key, or Null when absent.
func (m Map) Get(key string) Value {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return Null{}
}

// GetPath resolves a dotted path ("address.city") through nested maps.
func (m Map) GetPath(path string) Value {
	var cur Value = m
	for _, part := range strings.Split(path, ".") {
		mm, ok := cur.(Map)
		if !ok {
			return Null{}
		}
		cur = mm.Get(part)
	}
	return cur
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}
