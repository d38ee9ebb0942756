package cache

import (
	"container/list"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/nkv/lib/device/util"
)

// ErrClosed is returned by Put after Close
var ErrClosed = errors.New("cache: closed")

// hotThreshold is the occupancy (in percent of capacity) from which Get keeps exact LRU order
const hotThreshold = 90

// hashSeed is fixed so the shard of a key is stable for the lifetime of the process
const hashSeed = 0x6e6b76

// Entry is a cached value.
// A negative entry remembers a key the device confirmed to be absent.
type Entry struct {
	Value        []byte
	Length       int // number of valid bytes in Value
	ActualLength int // length of the value on the device
	Negative     bool
}

// NegativeEntry returns an entry that marks a confirmed absent key
func NegativeEntry() Entry {
	return Entry{Negative: true}
}

type item struct {
	key   string
	entry Entry
}

// shard is a single LRU: map for lookup, list for recency (front = most recent)
type shard struct {
	mu       sync.RWMutex
	items    map[string]*list.Element
	lru      *list.List
	size     atomic.Int64
	hits     atomic.Uint64
	misses   atomic.Uint64
	evicted  atomic.Uint64
	capacity int

	// gen moves on every write that begins or finishes in this shard, writers counts writes in flight.
	// Both are guarded by mu.
	gen     uint64
	writers int
}

// Ticket is the shard generation seen when a device call started. A cache fill based on that
// call is only applied if the shard saw no write since.
type Ticket struct {
	gen uint64
}

// Cache is a sharded LRU value cache. Every shard holds at most capacity entries.
//
// Thread-safety: All methods are thread-safe.
type Cache struct {
	shards   []*shard
	capacity int
	closed   atomic.Bool
}

// Stats describes the cache contents and its hit rate
type Stats struct {
	Entries      int                    `json:"entries"`
	Capacity     int                    `json:"capacity"`
	Hits         uint64                 `json:"hits"`
	Misses       uint64                 `json:"misses"`
	Evictions    uint64                 `json:"evictions"`
	Distribution util.DistributionStats `json:"distribution"`
}

// New creates a cache with numShards shards of capacity entries each
func New(numShards, capacity int) *Cache {
	if numShards <= 0 {
		numShards = 1
	}
	if capacity <= 0 {
		capacity = 1
	}
	c := &Cache{
		shards:   make([]*shard, numShards),
		capacity: capacity,
	}
	for i := range c.shards {
		c.shards[i] = &shard{
			items:    make(map[string]*list.Element),
			lru:      list.New(),
			capacity: capacity,
		}
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	return c.shards[c.ShardOf(key)]
}

// ShardOf returns the shard number of key
func (c *Cache) ShardOf(key string) int {
	return util.ShardIndex(util.HashString(key, hashSeed), len(c.shards))
}

// hot reports whether the shard is close to eviction
func (s *shard) hot() bool {
	return s.size.Load()*100 >= int64(s.capacity)*hotThreshold
}

// Get looks up key. The returned entry is a copy the caller owns.
// Below 90% occupancy a hit does not change the LRU order; above it the hit entry moves to the front.
func (c *Cache) Get(key string) (Entry, bool) {
	if c.closed.Load() {
		return Entry{}, false
	}
	s := c.shardFor(key)

	var (
		e   *list.Element
		ok  bool
		out Entry
	)
	if s.hot() {
		s.mu.Lock()
		if e, ok = s.items[key]; ok {
			s.lru.MoveToFront(e)
			out = copyEntry(e.Value.(*item).entry)
		}
		s.mu.Unlock()
	} else {
		s.mu.RLock()
		if e, ok = s.items[key]; ok {
			out = copyEntry(e.Value.(*item).entry)
		}
		s.mu.RUnlock()
	}

	if ok {
		s.hits.Add(1)
	} else {
		s.misses.Add(1)
	}
	return out, ok
}

// Put stores a private copy of entry under key, replacing an existing one.
// If the shard exceeds its capacity the least recently used entry is evicted.
func (c *Cache) Put(key string, entry Entry) error {
	if c.closed.Load() {
		return ErrClosed
	}
	entry = copyEntry(entry)
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items == nil {
		return ErrClosed
	}

	if e, ok := s.items[key]; ok {
		e.Value.(*item).entry = entry
		s.lru.MoveToFront(e)
		return nil
	}

	s.insert(key, entry)
	return nil
}

// insert pushes a new entry to the front and evicts the oldest one if the shard is over capacity.
// The caller holds the write lock.
func (s *shard) insert(key string, entry Entry) {
	s.items[key] = s.lru.PushFront(&item{key: key, entry: entry})
	s.size.Add(1)

	if s.lru.Len() > s.capacity {
		oldest := s.lru.Back()
		s.lru.Remove(oldest)
		delete(s.items, oldest.Value.(*item).key)
		s.size.Add(-1)
		s.evicted.Add(1)
	}
}

// Version returns the ticket a read takes before calling the device. The value read is later
// cached with AddIfUnchanged.
func (c *Cache) Version(key string) Ticket {
	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Ticket{gen: s.gen}
}

// AddIfUnchanged caches a value read from the device after Version returned t, unless key is
// already cached.
// Nothing is added while a write of the shard is in flight or if one ran since t.
func (c *Cache) AddIfUnchanged(key string, entry Entry, t Ticket) bool {
	if c.closed.Load() {
		return false
	}
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.items == nil || s.gen != t.gen || s.writers > 0 {
		return false
	}
	if _, ok := s.items[key]; ok {
		return false
	}
	s.insert(key, copyEntry(entry))
	return true
}

// BeginWrite drops the cached entry of key before a device write and returns the ticket for
// FinishWrite.
func (c *Cache) BeginWrite(key string) Ticket {
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.remove(key)
	s.gen++
	s.writers++
	return Ticket{gen: s.gen}
}

// FinishWrite ends a write started with BeginWrite. If entry is not nil and no other write of the
// shard overlapped, entry becomes the cached value of key; otherwise key stays uncached because
// the order in which the overlapping writes reached the device is unknown.
func (c *Cache) FinishWrite(key string, t Ticket, entry *Entry) error {
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writers--
	solo := s.gen == t.gen && s.writers == 0
	s.gen++
	s.remove(key)

	if c.closed.Load() || s.items == nil {
		return ErrClosed
	}
	if entry != nil && solo {
		s.insert(key, copyEntry(*entry))
	}
	return nil
}

// remove drops key from the shard. The caller holds the write lock.
func (s *shard) remove(key string) bool {
	e, ok := s.items[key]
	if !ok {
		return false
	}
	s.lru.Remove(e)
	delete(s.items, key)
	s.size.Add(-1)
	return true
}

// Delete removes key and reports whether it was cached
func (c *Cache) Delete(key string) bool {
	if c.closed.Load() {
		return false
	}
	s := c.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(key)
}

// Len returns the number of cached entries over all shards
func (c *Cache) Len() int {
	n := int64(0)
	for _, s := range c.shards {
		n += s.size.Load()
	}
	return int(n)
}

// Stats returns a snapshot of the cache counters
func (c *Cache) Stats() Stats {
	st := Stats{Capacity: c.capacity * len(c.shards)}
	sizes := make([]float64, len(c.shards))
	for i, s := range c.shards {
		size := s.size.Load()
		st.Entries += int(size)
		st.Hits += s.hits.Load()
		st.Misses += s.misses.Load()
		st.Evictions += s.evicted.Load()
		sizes[i] = float64(size)
	}
	st.Distribution = util.NewDistributionStats(sizes)
	return st
}

// Close drops all entries. Later Gets miss and Puts return ErrClosed.
func (c *Cache) Close() error {
	if c.closed.Swap(true) {
		return ErrClosed
	}
	for _, s := range c.shards {
		s.mu.Lock()
		s.items = nil
		s.lru.Init()
		s.size.Store(0)
		s.mu.Unlock()
	}
	return nil
}

func copyEntry(e Entry) Entry {
	if e.Value != nil {
		e.Value = append([]byte(nil), e.Value...)
	}
	return e
}
