package value

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// FromGo converts decoded YAML, JSON, or CBOR data into a Value.
//
// Accepted inputs: nil, bool, string, every integer kind, integral floats
// (YAML and JSON decoders produce float64 for plain numbers), json.Number,
// []byte, [32]byte, []any, map[string]any, map[any]any with string keys,
// and Values themselves. Non-integral floats are rejected.
func FromGo(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int8:
		return Int(val), nil
	case int16:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint:
		return uintToValue(uint64(val))
	case uint8:
		return Int(val), nil
	case uint16:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case uint64:
		return uintToValue(val)
	case float32:
		return floatToValue(float64(val))
	case float64:
		return floatToValue(val)
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are forbidden: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case []byte:
		out := make(Bytes, len(val))
		copy(out, val)
		return out, nil
	case [IdentifierSize]byte:
		return Identifier(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case []string:
		arr := make(Array, len(val))
		for i, elem := range val {
			arr[i] = String(elem)
		}
		return arr, nil
	case map[string]any:
		m := make(Map, len(val))
		for k, elem := range val {
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("map[%q]: %w", k, err)
			}
			m[k] = conv
		}
		return m, nil
	case map[any]any:
		m := make(Map, len(val))
		for k, elem := range val {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("map key %v: keys must be strings", k)
			}
			conv, err := FromGo(elem)
			if err != nil {
				return nil, fmt.Errorf("map[%q]: %w", ks, err)
			}
			m[ks] = conv
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// MustFromGo is like FromGo but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustFromGo(v any) Value {
	out, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return out
}

func uintToValue(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return nil, fmt.Errorf("number out of int64 range: %d", u)
	}
	return Int(int64(u)), nil
}

func floatToValue(f float64) (Value, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, fmt.Errorf("floats are forbidden: %v", f)
	}
	if f > math.MaxInt64 || f < math.MinInt64 {
		return nil, fmt.Errorf("number out of int64 range: %v", f)
	}
	return Int(int64(f)), nil
}

// ToGo converts a Value into plain Go data suitable for CBOR encoding.
// Identifiers become 32-byte slices.
func ToGo(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Bytes:
		return []byte(val)
	case Identifier:
		return val.Bytes()
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToGo(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToGo(elem)
		}
		return out
	default:
		return nil
	}
}

// ToDisplay converts a Value into JSON-friendly Go data. Identifiers render
// as base58 strings; bytes stay []byte so encoding/json emits base64.
func ToDisplay(v Value) any {
	switch val := v.(type) {
	case Identifier:
		return val.String()
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToDisplay(elem)
		}
		return out
	case Map:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToDisplay(elem)
		}
		return out
	default:
		return ToGo(v)
	}
}

// SortValues sorts values ascending. Values that cannot be compared keep
// their relative order.
func SortValues(vals []Value) {
	sort.SliceStable(vals, func(i, j int) bool {
		c, err := Compare(vals[i], vals[j])
		return err == nil && c < 0
	})
}
