// Package device defines the command surface of a key-value device, the storage unit nKV calls a "path".
//
// A device stores opaque keys with raw byte values and offers two ways to enumerate keys:
//
//   - Native batch iterator (IterateOpen / IterateNext / IterateClose): slow, returns batches of
//     length-prefixed key records into a caller buffer. nKV uses it once per path to warm the
//     listing index.
//   - Ranged listing (ListRange): returns keys in lexicographic order strictly after a start key.
//     nKV delegates to it for listings that its local index does not cover (for example remote paths).
//
// Key Components:
//
//   - IDevice Interface: The interface all engines must satisfy. Every error returned by an engine
//     is a *Error carrying a Status code, so callers can map device outcomes without string matching.
//
//   - Feature Flags: The Feature type defines capability flags that engines advertise through
//     SupportsFeature. Multiple flags can be tested at once with a bitwise OR.
//
//   - Batch: The record format of the native iterator (4 byte little endian key length + key bytes).
//
//   - RangeIterators: Emulates the native iterator on top of ListRange for engines that have no
//     native iterator of their own.
//
// Related Packages:
//
// The engines/memdev package provides an in-memory KV-SSD emulator with sharded storage, native
// iterator sessions and binary persistence.
//
// The engines/raftdev package replicates any device implementation across several nodes using raft
// consensus (dragonboat).
//
// The testing package provides a conformance suite (RunDeviceTests) and benchmarks
// (RunDeviceBenchmarks) that every engine runs.
//
// The util package provides hashing, statistics and queue helpers shared by the engines and by nKV.
package device
