package value

import (
	"bytes"
	"fmt"
	"strings"
)

// Compare orders two values of compatible kinds.
//
// Identifiers and Bytes compare bytewise against each other. Strings compare
// bytewise on their UTF-8 form, which matches the order of their tree keys.
// Comparing incompatible kinds is an error, never a silent ordering.
func Compare(a, b Value) (int, error) {
	switch x := a.(type) {
	case nil, Null:
		if IsNull(b) {
			return 0, nil
		}
	case Int:
		if y, ok := b.(Int); ok {
			switch {
			case x < y:
				return -1, nil
			case x > y:
				return 1, nil
			}
			return 0, nil
		}
	case String:
		if y, ok := b.(String); ok {
			return strings.Compare(string(x), string(y)), nil
		}
	case Bool:
		if y, ok := b.(Bool); ok {
			switch {
			case x == y:
				return 0, nil
			case !bool(x):
				return -1, nil
			}
			return 1, nil
		}
	case Bytes:
		switch y := b.(type) {
		case Bytes:
			return bytes.Compare(x, y), nil
		case Identifier:
			return bytes.Compare(x, y[:]), nil
		}
	case Identifier:
		switch y := b.(type) {
		case Identifier:
			return x.Compare(y), nil
		case Bytes:
			return bytes.Compare(x[:], y), nil
		}
	}
	return 0, fmt.Errorf("cannot compare %s with %s", Kind(a), Kind(b))
}

// Equal reports deep equality. Identifier and 32-byte Bytes with the same
// content are equal.
func Equal(a, b Value) bool {
	switch x := a.(type) {
	case Array:
		y, ok := b.(Array)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	case Map:
		y, ok := b.(Map)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, xv := range x {
			yv, ok := y[k]
			if !ok || !Equal(xv, yv) {
				return false
			}
		}
		return true
	}
	c, err := Compare(a, b)
	return err == nil && c == 0
}
