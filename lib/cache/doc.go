// Package cache implements the sharded LRU value cache nKV keeps for every path.
//
// A key maps to one shard by hash. Every shard is an independent LRU (map plus recency list)
// with its own RWMutex and a fixed capacity in entries.
//
// Get takes the read lock and leaves the recency order alone while the shard is below 90% of
// its capacity. From 90% on it takes the write lock and moves a hit to the front, so exact LRU
// order only exists while eviction is near. Put always takes the write lock and evicts at most
// one entry.
//
// Values are copied on Put and on Get; the cache never shares memory with callers.
// Which keys are cached is decided by the caller (see the nkv package), not by the cache.
package cache
