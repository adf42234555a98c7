package contract

import (
	"encoding/binary"
	"fmt"
)

// EncodeU64 encodes v as 8 big-endian bytes with the top bit flipped. The
// bytes sort in the same order as the numbers only below 2^63; values at or
// above it sort before every smaller one. Timestamps, revisions and token
// amounts stay below that bound.
func EncodeU64(v uint64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, v)
	out[0] ^= 0x80
	return out
}

// DecodeU64 reverses EncodeU64.
func DecodeU64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("decode u64: got %d bytes, expected 8", len(b))
	}
	tmp := [8]byte(b)
	tmp[0] ^= 0x80
	return binary.BigEndian.Uint64(tmp[:]), nil
}

// EncodeI64 encodes v as 8 big-endian bytes with the sign bit flipped, so
// negative numbers sort before positive ones.
func EncodeI64(v int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(v))
	out[0] ^= 0x80
	return out
}

// DecodeI64 reverses EncodeI64.
func DecodeI64(b []byte) (int64, error) {
	u, err := DecodeU64(b)
	return int64(u), err
}
