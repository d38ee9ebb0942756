package internal

import (
	"sort"
	"strings"
	"sync"

	"github.com/ValentinKolb/nkv/lib/device/util"
	"github.com/puzpuzpuz/xsync/v3"
)

// --------------------------------------------------------------------------
// Entry Type (stored value)
// --------------------------------------------------------------------------

// Entry is a single stored value
type Entry struct {
	Value []byte
}

// --------------------------------------------------------------------------
// Shard Type (partition of the device)
// --------------------------------------------------------------------------

// Shard represents a partition of the key space.
// Each shard has its own concurrent map, so writers on different shards never contend.
type Shard struct {
	Data *xsync.MapOf[string, Entry]
}

// NewShard creates a new, empty shard
func NewShard() *Shard {
	return &Shard{
		Data: xsync.NewMapOf[string, Entry](),
	}
}

// GetShard returns the appropriate shard for a given key hash
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func GetShard[T any](key util.UintKey, shards []*T) *T {
	return shards[util.ShardIndex(key, len(shards))]
}

// CollectKeys returns all keys of all shards that start with prefix and sort strictly after startAfter.
// The result is sorted lexicographically.
func CollectKeys(shards []*Shard, prefix, startAfter string) []string {
	var keys []string
	for _, shard := range shards {
		shard.Data.Range(func(key string, _ Entry) bool {
			if strings.HasPrefix(key, prefix) && key > startAfter {
				keys = append(keys, key)
			}
			return true
		})
	}
	sort.Strings(keys)
	return keys
}

// --------------------------------------------------------------------------
// Iterator Session (native iterator state)
// --------------------------------------------------------------------------

// IterSession is the state of one open native iterator.
// The key set is captured when the iterator is opened; keys written afterwards are not returned.
type IterSession struct {
	Mu     sync.Mutex
	Prefix string
	Keys   []string
	Pos    int
}

// Remaining returns the number of keys not yet handed out
func (s *IterSession) Remaining() int {
	return len(s.Keys) - s.Pos
}
