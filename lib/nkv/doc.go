// Package nkv is the client library in front of one or more KV devices.
//
// An Instance is opened from a Config and a DeviceOpener. It groups devices ("paths") into
// containers. Every path owns:
//
//   - a listing index (lib/listing) that answers hierarchical, paginated listings without asking
//     the device, kept up to date on every store and delete,
//   - a read cache (lib/cache) that serves retrieves of small or listed keys,
//   - an IndexBuilder that fills the index once from the device's native iterator when the path
//     is opened, either before Open returns or in the background,
//   - a worker for asynchronous operations that completes them in submission order.
//
// Dispatcher:
//
// Path.Store, Path.Retrieve, Path.Delete and Path.Exists validate their input before touching
// anything, call the device, translate the device status into the errors of this package and then
// update index and cache. No index or cache lock is held during a device call. Container methods
// pick the path by hashing the key.
//
// Listing:
//
// Container.List enumerates keys across all paths of a container with a caller owned slot buffer.
// The returned *Iterator is the only continuation state; it is consumed by the next call, so it
// cannot be reused after the enumeration finished. Queries the index covers (configured delimiter,
// prefix inside the indexed namespace) walk the index; all others, and every remote path, use the
// device's ranged listing.
//
// Consistency:
//
// The index is derived data. While the initial build runs, listings may miss keys. Concurrent
// stores and deletes of different keys keep the index exact; operations on the same key from
// different goroutines are not ordered by this package.
//
// Example:
//
//	cfg := nkv.DefaultConfig()
//	cfg.Containers = []nkv.ContainerConfig{{Name: "c", Paths: []nkv.PathConfig{{Address: "p0"}}}}
//
//	inst, err := nkv.Open(cfg, nkv.MemdevOpener)
//	if err != nil { ... }
//	defer inst.Close()
//
//	c, _ := inst.Container("c")
//	_ = c.Store("dir/file", []byte("v"), nkv.StoreOptions{})
//
//	keys, err := c.ListAll(nkv.ListOptions{Prefix: "dir/", Delimiter: "/"}, 100, 256)
package nkv
