// Package memdev implements an in-memory KV-SSD emulator that satisfies device.IDevice.
// It is the device engine used for local paths, for tests, and as the storage behind
// targets served by `nkv serve`.
//
// Key Components:
//
//   - memdevImpl: The device structure. It owns a fixed set of shards, the table of open
//     native iterator sessions and the optional data file used for persistence.
//
//   - Shard: A partition of the key space backed by an xsync.MapOf. Keys are assigned to
//     shards with the seeded FNV-1a hash from the util package, so writers on different
//     shards never contend.
//
//   - Iterator Sessions: IterateOpen captures the matching key set and hands it out in
//     batches of length-prefixed records, like the slow native iterator of a KV-SSD.
//     The number of concurrently open sessions is limited (StatusBusy beyond the limit).
//
// Internal Mechanisms:
//
//   - Idempotent Writes: Store with StoreOptions.Idempotent is an atomic insert-if-absent
//     performed inside xsync's Compute, which is what the lock manager relies on.
//
//   - Ranged Listing: ListRange scans all shards for matching keys and sorts them. This is
//     O(n log n) per call, which is acceptable for an emulator.
//
//   - Persistence Format: Save writes a compact binary snapshot:
//     1. Magic number "NKVMDEV\x00"
//     2. Version number (currently 1)
//     3. Seed of the shard hash
//     4. Number of entries
//     5. For each entry: key length, key bytes, value length, value bytes
//     The snapshot is fuzzy. Load builds the new shard set aside and swaps it in while
//     holding the device write lock.
//
//   - Data File: With Options.DataFile the device loads the snapshot when it is created and
//     writes it back (temporary file + rename) on Close.
//
//   - Metrics: GetInfo samples entry sizes into a SizeHistogram and reports the shard
//     distribution quality together with the number of open iterators.
package memdev
