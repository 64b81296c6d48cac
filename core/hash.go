package core

import (
	"encoding/binary"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Hash is the stable integer identity of nodes, links and participant
// identities. Link hashes are derived from their endpoint hashes.
type Hash int32

// String returns the decimal representation of the hash.
func (h Hash) String() string {
	return strconv.FormatInt(int64(h), 10)
}

// Combine derives a hash from two hashes. It is deterministic and order
// sensitive: Combine(a, b) and Combine(b, a) differ for a != b.
func Combine(a, b Hash) Hash {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(a))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(b))
	return fold(xxhash.Sum64(buf[:]))
}

// HashString hashes an authoring identifier (node ID, identity name).
func HashString(s string) Hash {
	return fold(xxhash.Sum64String(s))
}

// NewHash returns a fresh random identity for a node created at runtime.
func NewHash() Hash {
	id := uuid.New()
	return fold(xxhash.Sum64(id[:]))
}

func fold(v uint64) Hash {
	return Hash(uint32(v) ^ uint32(v>>32))
}
