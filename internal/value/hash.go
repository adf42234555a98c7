package value

import (
	"encoding/binary"

	"github.com/zeebo/blake3"
)

// Domain prefixes for hashing. The version suffix leaves room for an
// algorithm migration.
const (
	DomainNode     = "docgrove/node/v1"
	DomainItem     = "docgrove/item/v1"
	DomainLayer    = "docgrove/layer/v1"
	DomainAction   = "docgrove/group-action/v1"
	DomainToken    = "docgrove/token/v1"
	DomainDocument = "docgrove/document/v1"
	DomainPath     = "docgrove/path/v1"
)

// HashWithDomain computes BLAKE3(domain || 0x00 || len(p1) || p1 || ...).
// The 0x00 separator and the length prefixes keep domain/part boundaries
// unambiguous.
func HashWithDomain(domain string, parts ...[]byte) [32]byte {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00}) // CRITICAL: separator between domain and data
	var lenBuf [4]byte
	for _, p := range parts {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(p)))
		h.Write(lenBuf[:])
		h.Write(p)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HashIdentifier is HashWithDomain returning an Identifier.
func HashIdentifier(domain string, parts ...[]byte) Identifier {
	return Identifier(HashWithDomain(domain, parts...))
}
