package nkv

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/nkv/lib/listing"
)

// ListOptions selects the keys of a listing.
//
//   - Prefix: without Delimiter every key containing Prefix is listed. With Delimiter only keys
//     starting with Prefix are listed, as the part after Prefix.
//   - Delimiter: if set, keys are collapsed to their next path segment ("directories"),
//     each directory is returned once per enumeration.
//   - StartAfter: only keys sorting after StartAfter are listed.
type ListOptions struct {
	Prefix     string
	Delimiter  string
	StartAfter string
}

// Slot is one caller provided output buffer for a listed key
type Slot struct {
	Buf []byte
	N   int    // bytes of Buf in use
}

// Key returns the key stored in the slot
func (s Slot) Key() string {
	return string(s.Buf[:s.N])
}

// NewSlots allocates n slots of size bytes each
func NewSlots(n, size int) []Slot {
	slots := make([]Slot, n)
	for i := range slots {
		slots[i].Buf = make([]byte, size)
	}
	return slots
}

// Keys returns the first n keys of slots
func Keys(slots []Slot, n int) []string {
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = slots[i].Key()
	}
	return keys
}

// Iterator is the continuation handle of a paginated listing.
//
// A handle can be used exactly once: List consumes it and returns a new one if more keys are
// pending. Passing a consumed handle again fails with ErrIteratorConsumed, passing a handle that is
// used by another goroutine at the same time fails with ErrIteratorBusy. A nil handle starts a new
// enumeration; a nil returned handle means the enumeration is complete.
type Iterator struct {
	state atomic.Pointer[iterState]
}

// Close releases an enumeration that will not be continued
func (it *Iterator) Close() {
	if it == nil {
		return
	}
	if st := it.state.Swap(nil); st != nil {
		st.release()
	}
}

// walkMode is how the current path is drained
type walkMode int

const (
	walkIndex  walkMode = iota // ordered children of the local listing index
	walkNative                 // the device's ranged listing
	walkNone                   // nothing to list on this path
)

// iterState is the cross call state of one enumeration
type iterState struct {
	inUse atomic.Bool

	opts          ListOptions
	container     *Container
	paths         []*Path
	visited       map[uint64]bool
	current       *Path           // path being drained, nil between paths
	mode          walkMode
	walkPrefix    string          // index mode: the prefix entry that is walked
	cursor        string          // index mode: last child, native mode: last key
	excess        []string        // filtered names that did not fit into the caller's slots
	dirsEmitted   map[string]bool
	pathsIterated int
	done          bool
}

func (st *iterState) release() {
	st.done = true
	st.paths = nil
	st.current = nil
	st.excess = nil
	st.dirsEmitted = nil
	st.visited = nil
}

// --------------------------------------------------------------------------
// Coordinator
// --------------------------------------------------------------------------

// list runs one step of the enumeration over paths and implements the handle protocol
func list(c *Container, paths []*Path, it *Iterator, opts ListOptions, out []Slot) (int, *Iterator, error) {
	if len(out) == 0 {
		// the handle is not consumed
		return 0, it, &Error{Op: opList, Err: fmt.Errorf("%w: no output slots", ErrInvalidArgument)}
	}

	var st *iterState
	if it == nil {
		if err := c.inst.validateListOptions(opts); err != nil {
			return 0, nil, &Error{Op: opList, Key: opts.Prefix, Err: err}
		}
		st = &iterState{
			opts:        opts,
			container:   c,
			paths:       paths,
			visited:     make(map[uint64]bool),
			dirsEmitted: make(map[string]bool),
		}
		st.inUse.Store(true)
	} else {
		st = it.state.Load()
		if st == nil {
			return 0, nil, &Error{Op: opList, Err: ErrIteratorConsumed}
		}
		if !st.inUse.CompareAndSwap(false, true) {
			return 0, nil, &Error{Op: opList, Err: ErrIteratorBusy}
		}
		if !it.state.CompareAndSwap(st, nil) {
			// closed concurrently
			return 0, nil, &Error{Op: opList, Err: ErrIteratorConsumed}
		}
	}

	n, err := st.step(out)

	if st.done || (err != nil && !IsBufferTooSmall(err)) {
		st.release()
		return n, nil, err
	}
	st.inUse.Store(false)
	next := &Iterator{}
	next.state.Store(st)
	return n, next, err
}

func (in *Instance) validateListOptions(opts ListOptions) error {
	if len(opts.Delimiter) > 1 {
		return fmt.Errorf("%w: delimiter must be a single character", ErrInvalidArgument)
	}
	if len(opts.Prefix) > in.cfg.MaxKeyLength || len(opts.StartAfter) > in.cfg.MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// step fills out and reports the number of slots written.
// st.done is set once every path is drained.
func (st *iterState) step(out []Slot) (int, error) {
	n := 0
	for {
		// names left over from the previous call go first
		for len(st.excess) > 0 {
			if n == len(out) {
				return n, nil
			}
			name := st.excess[0]
			if len(name) > len(out[n].Buf) {
				return n, &Error{Op: opList, Key: name, Size: len(name), Err: ErrBufferTooSmall}
			}
			out[n].N = copy(out[n].Buf, name)
			n++
			st.excess = st.excess[1:]
		}

		if st.current == nil {
			if !st.nextPath() {
				st.done = true
				return n, nil
			}
			// positioning may have queued a name
			continue
		}

		exhausted, err := st.drain(out, &n)
		if err != nil {
			return n, err
		}
		if exhausted {
			st.visited[st.current.Hash] = true
			st.current = nil
		}
	}
}

// nextPath selects the next unvisited path and positions the cursor on it
func (st *iterState) nextPath() bool {
	max := st.container.inst.cfg.MaxPathsToIteratePerContainer
	for _, p := range st.paths {
		if st.visited[p.Hash] {
			continue
		}
		if max > 0 && st.pathsIterated >= max {
			return false
		}
		st.pathsIterated++
		st.current = p
		st.position(p)
		return true
	}
	return false
}

// position chooses how p is drained and where the walk starts
func (st *iterState) position(p *Path) {
	st.mode = walkNative
	st.cursor = st.opts.StartAfter
	if !st.indexCovers(p) {
		return
	}

	walk := st.opts.Prefix
	if walk == "" {
		walk = listing.RootPrefix
	}
	if !p.index.Has(walk) && !p.IndexReady() {
		// not indexed yet, the device knows better
		return
	}

	st.mode = walkIndex
	st.walkPrefix = walk
	switch {
	case strings.HasPrefix(st.opts.StartAfter, walk):
		rest := st.opts.StartAfter[len(walk):]
		j := strings.Index(rest, st.opts.Delimiter)
		if j < 0 {
			st.cursor = rest
			return
		}
		// StartAfter points into a directory: the walk resumes behind it, and the directory
		// itself is listed if it holds keys after StartAfter
		dir := rest[:j+1]
		st.cursor = dir
		if hasKeyAfter(p.index, walk+dir, rest[j+1:], st.opts.Delimiter) {
			if name, ok := st.filter(walk + dir); ok {
				st.excess = append(st.excess, name)
			}
		}
	case st.opts.StartAfter < walk:
		st.cursor = ""
	default:
		// StartAfter sorts behind every key under the prefix
		st.mode = walkNone
	}
}

// hasKeyAfter reports whether the index holds a key below prefix that sorts after prefix+rest
func hasKeyAfter(idx *listing.Index, prefix, rest, delim string) bool {
	j := strings.Index(rest, delim)
	if j < 0 {
		// every child sorting after rest starts keys that sort after prefix+rest
		after := false
		_, _ = idx.Ascend(prefix, rest, func(string) bool {
			after = true
			return false
		})
		return after
	}

	dir := rest[:j+1]
	after := false
	_, _ = idx.Ascend(prefix, dir, func(string) bool {
		after = true
		return false
	})
	return after || hasKeyAfter(idx, prefix+dir, rest[j+1:], delim)
}

// indexCovers reports whether the query can be answered from p's index:
// the path has an index, the query uses the configured delimiter and the prefix is inside the
// indexed namespace and ends with the delimiter.
func (st *iterState) indexCovers(p *Path) bool {
	if p.index == nil || st.opts.Delimiter != p.cfg.HierarchicalDelimiter {
		return false
	}
	if !strings.HasPrefix(st.opts.Prefix, p.cfg.IterationPrefixFilter) {
		return false
	}
	return st.opts.Prefix == "" || strings.HasSuffix(st.opts.Prefix, st.opts.Delimiter)
}

// drain moves names from the current path into out.
// exhausted is true once the path has no more keys, otherwise out is full and the name that
// did not fit waits in excess.
func (st *iterState) drain(out []Slot, n *int) (exhausted bool, err error) {
	p := st.current
	if st.mode == walkNone {
		return true, nil
	}

	emit := func(name string) bool {
		if *n < len(out) && len(name) <= len(out[*n].Buf) {
			out[*n].N = copy(out[*n].Buf, name)
			*n++
			return true
		}
		st.excess = append(st.excess, name)
		return false
	}

	if st.mode == walkIndex {
		full := false
		found, err := p.index.Ascend(st.walkPrefix, st.cursor, func(child string) bool {
			st.cursor = child
			if name, ok := st.filter(st.walkPrefix + child); ok && !emit(name) {
				full = true
				return false
			}
			return true
		})
		if err != nil {
			return false, &Error{Op: opList, Path: p.Address, Key: st.opts.Prefix, Err: mapIndexError(err)}
		}
		return !found || !full, nil
	}

	// a flat prefix query matches anywhere in the key, so the device cannot narrow the range
	rangePrefix := st.opts.Prefix
	if st.opts.Delimiter == "" {
		rangePrefix = ""
	}
	batch := p.cfg.ListBatchSize
	for {
		keys, more, err := p.dev.ListRange(rangePrefix, st.cursor, batch)
		if err != nil {
			return false, &Error{Op: opList, Path: p.Address, Key: st.opts.Prefix, Err: mapDeviceError(err)}
		}
		for _, key := range keys {
			st.cursor = key
			if isLockRecord(key) {
				continue
			}
			if name, ok := st.filter(key); ok && !emit(name) {
				return false, nil
			}
		}
		if !more {
			return true, nil
		}
	}
}

// filter maps a full key to the name that is listed, or reports false if the key is skipped.
// Directories are reported once per enumeration.
func (st *iterState) filter(key string) (string, bool) {
	prefix, delim := st.opts.Prefix, st.opts.Delimiter

	switch {
	case prefix == "" && delim == "":
		return key, true

	case delim == "":
		return key, strings.Contains(key, prefix)

	case prefix == "":
		i := strings.Index(key, delim)
		if i < 0 {
			return key, true
		}
		return st.collapse(key[:i+1])

	default:
		i := strings.Index(key, prefix)
		if i < 0 {
			return "", false
		}
		rest := key[i+len(prefix):]
		if j := strings.Index(rest, delim); j >= 0 {
			return st.collapse(rest[:j+1])
		}
		// the prefix is the whole key
		if rest == "" {
			return "", false
		}
		return rest, true
	}
}

func (st *iterState) collapse(dir string) (string, bool) {
	if st.dirsEmitted[dir] {
		return "", false
	}
	st.dirsEmitted[dir] = true
	return dir, true
}
