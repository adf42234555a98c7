// Package value provides the dynamic value model shared by queries,
// documents, contracts, and token transitions.
//
// This package imports nothing internal. Every other internal package may
// import it, so it stays the foundational layer.
//
// Key constraints:
//   - NO float types (integers are int64) so key encodings and hashes stay
//     deterministic
//   - Identifiers are 32 bytes and render as base58 text
//   - Canonical JSON (RFC 8785, NFC strings) is the only input to hashing
//   - CBOR is the wire/storage encoding for queries, documents, and contracts
package value
