// Package util provides helpers shared by the device engines and the nKV core.
//
// The package contains:
//   - functions: seeded FNV-1a string hashing and shard selection (ShardIndex)
//   - statistics: a SizeHistogram for sampled size distributions and DistributionStats for
//     judging how evenly entries are spread over shards
//   - mapheap: a min-heap with key based access, used to track deadlines (for example idle
//     native iterators)
//   - lockfreempsc: a lock-free multi-producer single-consumer queue, used as the submission
//     queue of asynchronous path operations
package util
