// Hash algorithm implementations backing Composite fingerprints.
//
// Every Composite whose literal byte stream exceeds MaxCompositeSize
// (spec §3) falls back to a 16-byte hashed form instead. Three
// algorithms are available, selectable via Config.HashAlgorithm; the
// Bloom filter (bloomfilter.go) seeds its double hashing from the same
// selection so that a restart with an unchanged Config reproduces
// identical bit positions.
package corestore

import (
	"encoding/binary"
	"hash/fnv"

	"github.com/zeebo/xxh3"
	"golang.org/x/crypto/blake2b"
)

// Hash algorithm constants, persisted in Config and therefore stable
// across restarts — changing a value would make existing Composites
// un-reproducible from their source bytes.
const (
	AlgXXHash3 = 1 // default, fastest
	AlgFNV1a   = 2 // no external dependencies
	AlgBlake2b = 3 // best distribution / collision resistance
)

// hash128 returns a 16-byte digest of data using the specified
// algorithm. Used both for Composite's hashed form and as the Bloom
// filter's seed material.
func hash128(data []byte, alg int) [16]byte {
	var out [16]byte
	switch alg {
	case AlgXXHash3:
		h := xxh3.Hash128(data)
		binary.BigEndian.PutUint64(out[0:8], h.Hi)
		binary.BigEndian.PutUint64(out[8:16], h.Lo)
	case AlgFNV1a:
		h1 := fnv.New64a()
		h1.Write(data)
		binary.BigEndian.PutUint64(out[0:8], h1.Sum64())
		h2 := fnv.New64a()
		h2.Write(data)
		h2.Write([]byte{0xff})
		binary.BigEndian.PutUint64(out[8:16], h2.Sum64())
	case AlgBlake2b:
		sum := blake2b.Sum256(data)
		copy(out[:], sum[:16])
	default:
		// Unknown algorithm: zero digest. Config.HashAlgorithm is not
		// validated, so an unknown value reaches this path.
	}
	return out
}

// hash64 returns the low 8 bytes of hash128, used where a single
// uint64 fingerprint is sufficient (segment manifest surrogates,
// Text.Hash).
func hash64(data []byte, alg int) uint64 {
	h := hash128(data, alg)
	return binary.BigEndian.Uint64(h[8:16])
}
