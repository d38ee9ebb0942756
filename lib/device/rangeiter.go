package device

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
)

// ListRangeFunc is the ranged listing primitive RangeIterators builds on
type ListRangeFunc func(prefix, startAfter string, max int) (keys []string, more bool, err error)

// rangeCursor is the state of a single emulated iterator
type rangeCursor struct {
	mu     sync.Mutex
	prefix string
	cursor string // last key handed out
	done   bool
}

// RangeIterators implements the IterateOpen/IterateNext/IterateClose surface on top of a ranged listing.
// It is used by devices whose native surface only offers ListRange (replicated and remote devices).
//
// Thread-safety: All methods are thread-safe; a single handle must not be advanced concurrently
// (concurrent calls on the same handle are serialized).
type RangeIterators struct {
	list     ListRangeFunc
	pageSize int
	nextID   atomic.Uint64
	open     *xsync.MapOf[IteratorHandle, *rangeCursor]
}

// NewRangeIterators creates a new iterator table. pageSize is the number of keys fetched per ListRange call.
func NewRangeIterators(list ListRangeFunc, pageSize int) *RangeIterators {
	if pageSize <= 0 {
		pageSize = 128
	}
	return &RangeIterators{
		list:     list,
		pageSize: pageSize,
		open:     xsync.NewMapOf[IteratorHandle, *rangeCursor](),
	}
}

// Open registers a new iterator over all keys with the given prefix
func (r *RangeIterators) Open(prefix string) IteratorHandle {
	h := IteratorHandle(r.nextID.Add(1))
	r.open.Store(h, &rangeCursor{prefix: prefix})
	return h
}

// Next fills buf with as many key records as fit
func (r *RangeIterators) Next(h IteratorHandle, buf []byte) (Batch, error) {
	c, ok := r.open.Load(h)
	if !ok {
		return Batch{}, Errorf(StatusIteratorNotFound, "iterator %d is not open", h)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return Batch{End: true}, nil
	}

	out := buf[:0]
	count := 0
	for {
		keys, more, err := r.list(c.prefix, c.cursor, r.pageSize)
		if err != nil {
			return Batch{}, err
		}
		for _, key := range keys {
			if len(out)+RecordSize(key) > len(buf) {
				if count == 0 {
					return Batch{}, Errorf(StatusBufferTooSmall, "iterator buffer of %d bytes cannot hold key of %d bytes", len(buf), len(key))
				}
				return Batch{Data: out, Count: count}, nil
			}
			out = AppendRecord(out, key)
			c.cursor = key
			count++
		}
		if !more {
			c.done = true
			return Batch{Data: out, Count: count, End: true}, nil
		}
	}
}

// Close releases the iterator
func (r *RangeIterators) Close(h IteratorHandle) error {
	if _, ok := r.open.LoadAndDelete(h); !ok {
		return Errorf(StatusIteratorNotFound, "iterator %d is not open", h)
	}
	return nil
}

// Len returns the number of open iterators
func (r *RangeIterators) Len() int {
	return r.open.Size()
}
