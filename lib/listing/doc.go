// Package listing implements the sharded listing index nKV keeps for every path.
//
// The device underneath a path only knows a flat key space. The index turns it into a hierarchy:
// for every prefix (a key truncated after a delimiter, e.g. "bucket/dir/") it keeps the ordered set
// of direct children, which are either file names ("file") or directory names ("sub/"). The top
// level lives under RootPrefix.
//
// Sharding and Locking:
//
// A prefix always maps to the same shard (hash of the prefix modulo the shard count). Every shard
// has its own RWMutex. A key touches one prefix per level, and InsertKey / RemoveKey walk the levels
// from the most specific prefix to the root, taking and releasing one shard lock per level. No two
// shard locks are ever held at the same time.
//
// Cascade Removal:
//
// RemoveKey deletes the file link, and while a prefix becomes empty it deletes the prefix and its
// link in the parent. The root entry is never deleted. If a concurrent InsertKey recreated a prefix
// between the two steps, RemoveKey restores the parent link instead of failing. The index is derived
// data; stale entries are repaired, never reported as errors.
//
// Pagination:
//
// Ascend visits the children of one prefix strictly after a start value. Callers keep the last
// child they consumed and pass it back on the next call, no iterator state lives in the index.
package listing
