package partition

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
)

// ContentHash returns the 32-bit content hash stored in image headers and
// announces: the first four bytes of the SHA-256 digest, big-endian.
func ContentHash(payload []byte) uint32 {
	sum := sha256.Sum256(payload)
	return binary.BigEndian.Uint32(sum[:4])
}

// NewContentHasher returns a streaming hasher; finish it with SumContentHash.
func NewContentHasher() hash.Hash {
	return sha256.New()
}

// SumContentHash truncates the digest of h to a content hash.
func SumContentHash(h hash.Hash) uint32 {
	return binary.BigEndian.Uint32(h.Sum(nil)[:4])
}
