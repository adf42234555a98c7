package value

import (
	"fmt"
	"reflect"

	"github.com/ugorji/go/codec"
)

// cborHandle is shared by every encode/decode. Canonical mode sorts map keys
// so identical values always produce identical bytes.
var cborHandle = newCBORHandle()

func newCBORHandle() *codec.CborHandle {
	h := &codec.CborHandle{}
	h.Canonical = true
	h.SignedInteger = true
	h.MapType = reflect.TypeOf(map[string]any(nil))
	return h
}

// EncodeCBOR serializes v to canonical CBOR. Values are lowered with ToGo;
// structs use their `codec` or `json` tags.
func EncodeCBOR(v any) ([]byte, error) {
	if val, ok := v.(Value); ok {
		v = ToGo(val)
	}
	var out []byte
	if err := codec.NewEncoderBytes(&out, cborHandle).Encode(v); err != nil {
		return nil, fmt.Errorf("cbor encode: %w", err)
	}
	return out, nil
}

// DecodeCBOR parses CBOR into a Value.
func DecodeCBOR(data []byte) (Value, error) {
	var raw any
	if err := codec.NewDecoderBytes(data, cborHandle).Decode(&raw); err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	v, err := FromGo(raw)
	if err != nil {
		return nil, fmt.Errorf("cbor decode: %w", err)
	}
	return v, nil
}

// DecodeCBORInto parses CBOR into a typed Go destination.
func DecodeCBORInto(data []byte, dst any) error {
	if err := codec.NewDecoderBytes(data, cborHandle).Decode(dst); err != nil {
		return fmt.Errorf("cbor decode: %w", err)
	}
	return nil
}
