package util

import (
	"crypto/rand"
	"encoding/binary"
	"time"
)

// --------------------------------------------------------------------------
// Seeds
// --------------------------------------------------------------------------

// GenerateSeed returns a random seed for shard hashing.
// It falls back to the current time if the system random source fails.
func GenerateSeed() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(b[:])
}

// --------------------------------------------------------------------------
// Hash Functions
// --------------------------------------------------------------------------

// UintKey is the 64 bit hash of a string key
type UintKey uint64

// HashString hashes s with FNV-1a, mixing the seed into the offset basis.
// The same (s, seed) pair always yields the same value.
func HashString(s string, seed uint64) UintKey {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)

	hash := uint64(offset64) ^ seed
	for i := 0; i < len(s); i++ {
		hash ^= uint64(s[i])
		hash *= prime64
	}

	return UintKey(hash)
}

// ShardIndex maps a hash to a shard position in [0, n).
// The low 7 bits are dropped because FNV-1a mixes the high bits better.
func ShardIndex(key UintKey, n int) int {
	if n <= 1 {
		return 0
	}
	return int((uint64(key) >> 7) % uint64(n))
}
