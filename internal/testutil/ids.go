package testutil

import (
	"encoding/binary"
	"sync"

	"github.com/roach88/docgrove/internal/value"
)

const domainTestID = "docgrove/test-id/v1"

// IDGenerator derives a reproducible sequence of identifiers from a seed.
// The same seed always yields the same sequence, so golden snapshots stay
// byte-identical.
//
// Thread-safety: Generate is safe for concurrent use.
type IDGenerator struct {
	mu   sync.Mutex
	seed string
	n    uint64
}

// NewIDGenerator creates a generator for seed. An empty seed uses "default".
func NewIDGenerator(seed string) *IDGenerator {
	if seed == "" {
		seed = "default"
	}
	return &IDGenerator{seed: seed}
}

// Generate returns the next identifier.
func (g *IDGenerator) Generate() value.Identifier {
	g.mu.Lock()
	g.n++
	n := g.n
	g.mu.Unlock()
	return NamedID(g.seed, n)
}

// NamedID derives the n-th identifier for seed without a generator.
func NamedID(seed string, n uint64) value.Identifier {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return value.HashIdentifier(domainTestID, []byte(seed), buf[:])
}

// RepeatedID returns the identifier whose 32 bytes are all b. Sorting such
// ids by b sorts them by bytes.
func RepeatedID(b byte) value.Identifier {
	var id value.Identifier
	for i := range id {
		id[i] = b
	}
	return id
}
