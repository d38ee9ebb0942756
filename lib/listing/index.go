package listing

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/nkv/lib/device/util"
	"github.com/google/btree"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("listing")

// RootPrefix is the prefix of all top level children.
// Real prefixes always end in the delimiter, so the empty string can never collide with one.
const RootPrefix = ""

// btreeDegree is the degree of the per prefix child sets
const btreeDegree = 16

// hashSeed is fixed so the shard of a prefix is a pure function of the prefix string
const hashSeed = 0

// childSet is the ordered set of child names of one prefix
type childSet = btree.BTreeG[string]

func newChildSet() *childSet {
	return btree.NewG[string](btreeDegree, func(a, b string) bool { return a < b })
}

// shard is one independently locked partition of the index
type shard struct {
	mu          sync.RWMutex
	entries     map[string]*childSet
	numPrefixes int // distinct prefixes in this shard
	numChildren int // distinct (prefix, child) pairs in this shard
}

// Index is the sharded listing index: for every prefix the ordered set of its direct children.
// A child is either a file name or a directory name ending in the delimiter.
//
// Thread-safety: All methods are thread-safe. At most one shard lock is held at any time.
type Index struct {
	shards []*shard
	closed atomic.Bool
}

// Stats describes the size of the index
type Stats struct {
	Prefixes     int                    `json:"prefixes"`
	Children     int                    `json:"children"`
	ShardSizes   []int                  `json:"shard_sizes"`
	Distribution util.DistributionStats `json:"distribution"`
}

// New creates an index with numShards shards (at least one). The root entry exists from the start.
func New(numShards int) *Index {
	if numShards <= 0 {
		numShards = 1
	}
	idx := &Index{shards: make([]*shard, numShards)}
	for i := range idx.shards {
		idx.shards[i] = &shard{entries: make(map[string]*childSet)}
	}
	root := idx.shardFor(RootPrefix)
	root.entries[RootPrefix] = newChildSet()
	root.numPrefixes = 1
	return idx
}

func (idx *Index) shardFor(prefix string) *shard {
	return idx.shards[util.ShardIndex(util.HashString(prefix, hashSeed), len(idx.shards))]
}

// ShardOf returns the shard number of prefix
func (idx *Index) ShardOf(prefix string) int {
	return util.ShardIndex(util.HashString(prefix, hashSeed), len(idx.shards))
}

// NumShards returns the number of shards
func (idx *Index) NumShards() int {
	return len(idx.shards)
}

// --------------------------------------------------------------------------
// Single link operations
// --------------------------------------------------------------------------

// Insert adds child to the set of prefix, creating the entry if needed.
// An empty child is a no-op. Inserting an existing pair changes nothing.
func (idx *Index) Insert(prefix, child string) error {
	if idx.closed.Load() {
		return ErrClosed
	}
	s := idx.shardFor(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.entries == nil {
		return ErrClosed
	}
	if child == "" {
		return nil
	}

	set, ok := s.entries[prefix]
	if !ok {
		set = newChildSet()
		s.entries[prefix] = set
		s.numPrefixes++
	}
	if _, replaced := set.ReplaceOrInsert(child); !replaced {
		s.numChildren++
	}
	return nil
}

// Remove deletes child from the set of prefix.
// If the set becomes empty and prefix is not the root, the entry is deleted and prefixEmptied is true.
func (idx *Index) Remove(prefix, child string) (prefixEmptied bool, err error) {
	if idx.closed.Load() {
		return false, ErrClosed
	}
	s := idx.shardFor(prefix)
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.entries[prefix]
	if !ok {
		return false, ErrPrefixNotFound
	}
	if _, found := set.Delete(child); !found {
		return false, ErrChildNotFound
	}
	s.numChildren--

	if set.Len() == 0 && prefix != RootPrefix {
		delete(s.entries, prefix)
		s.numPrefixes--
		return true, nil
	}
	return false, nil
}

// Has reports whether prefix has an entry
func (idx *Index) Has(prefix string) bool {
	if idx.closed.Load() {
		return false
	}
	s := idx.shardFor(prefix)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[prefix]
	return ok
}

// Ascend calls fn for the children of prefix that sort strictly after startAfter, in order,
// until fn returns false. The shard read lock is held while fn runs, so fn must not call into the index.
// Callers resume by passing the last child they consumed as startAfter.
// found is false if prefix has no entry.
func (idx *Index) Ascend(prefix, startAfter string, fn func(child string) bool) (found bool, err error) {
	if idx.closed.Load() {
		return false, ErrClosed
	}
	s := idx.shardFor(prefix)
	s.mu.RLock()
	defer s.mu.RUnlock()

	set, ok := s.entries[prefix]
	if !ok {
		return false, nil
	}
	set.AscendGreaterOrEqual(startAfter, func(child string) bool {
		if child == startAfter {
			return true
		}
		return fn(child)
	})
	return true, nil
}

// Children returns a copy of the children of prefix
func (idx *Index) Children(prefix string) ([]string, error) {
	var out []string
	found, err := idx.Ascend(prefix, "", func(child string) bool {
		out = append(out, child)
		return true
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrPrefixNotFound
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Key operations (prefix chains)
// --------------------------------------------------------------------------

// InsertKey links every level of key into the index, most specific prefix first.
func (idx *Index) InsertKey(key string, delim byte) error {
	d := Decompose(key, delim)
	if d.File == "" {
		log.Warningf("key %q ends with the delimiter, not a hierarchical key", key)
	}
	for _, l := range d.Links() {
		if err := idx.Insert(l.Prefix, l.Child); err != nil {
			return err
		}
	}
	return nil
}

// RemoveKey unlinks key and removes every ancestor prefix that became empty, walking up to the root.
// Each level is removed under its own shard lock. If a concurrent InsertKey recreated a prefix after
// it was unlinked from its parent, the link is restored and the walk stops.
func (idx *Index) RemoveKey(key string, delim byte) error {
	links := Decompose(key, delim).Links()

	// the deepest prefix of the key, whose emptiness decides whether the walk continues
	emptied := false
	first := links[0]
	if first.Child == "" {
		// directory marker, nothing was linked at this level
		emptied = !idx.Has(first.Prefix)
	} else {
		var err error
		emptied, err = idx.Remove(first.Prefix, first.Child)
		switch {
		case errors.Is(err, ErrClosed):
			return err
		case err != nil:
			log.Debugf("remove %q: %v", key, err)
			return nil
		}
	}

	for _, l := range links[1:] {
		if !emptied {
			return nil
		}

		var err error
		emptied, err = idx.Remove(l.Prefix, l.Child)
		switch {
		case errors.Is(err, ErrClosed):
			return err
		case err != nil:
			log.Debugf("cascade %q of %q: %v", l.Child, l.Prefix, err)
			return nil
		}

		// self healing: a concurrent insert may have recreated the child prefix
		if idx.Has(l.ChildPrefix) {
			if err := idx.Insert(l.Prefix, l.Child); err != nil {
				return err
			}
			return nil
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Management
// --------------------------------------------------------------------------

// Stats returns the current size of the index
func (idx *Index) Stats() Stats {
	st := Stats{ShardSizes: make([]int, len(idx.shards))}
	sizes := make([]float64, len(idx.shards))
	for i, s := range idx.shards {
		s.mu.RLock()
		st.Prefixes += s.numPrefixes
		st.Children += s.numChildren
		st.ShardSizes[i] = s.numChildren
		s.mu.RUnlock()
		sizes[i] = float64(st.ShardSizes[i])
	}
	st.Distribution = util.NewDistributionStats(sizes)
	return st
}

// Close drops all entries. Every later operation returns ErrClosed.
func (idx *Index) Close() error {
	if idx.closed.Swap(true) {
		return ErrClosed
	}
	for _, s := range idx.shards {
		s.mu.Lock()
		s.entries = nil
		s.numPrefixes, s.numChildren = 0, 0
		s.mu.Unlock()
	}
	return nil
}
