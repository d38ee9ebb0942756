package util

import (
	"container/heap"
	"strconv"
)

// MapHeap is a min-heap of (key, priority) pairs that also supports lookup and removal by key.
// It is used to track deadlines: the priority is a point in time and Peek returns the item
// that expires first.
//
// Complexity: AddItem, RemoveByKey and Pop are O(log n); Contains, GetByKey and Peek are O(1).
//
// MapHeap is not thread-safe, callers must synchronize access.
type MapHeap struct {
	items []*item          // heap ordered slice
	byKey map[uint64]*item // key -> item
}

// item is a single heap entry
type item struct {
	Key      uint64
	Priority uint64
	index    int // position in items, maintained by the heap.Interface methods
}

func (i *item) String() string {
	return "{Key: " + strconv.FormatUint(i.Key, 10) + ", Priority: " + strconv.FormatUint(i.Priority, 10) + "}"
}

// NewMapHeap creates an empty heap
func NewMapHeap() *MapHeap {
	return &MapHeap{
		items: make([]*item, 0),
		byKey: make(map[uint64]*item),
	}
}

// --------------------------------------------------------------------------
// heap.Interface
// --------------------------------------------------------------------------

func (mh *MapHeap) Len() int { return len(mh.items) }

func (mh *MapHeap) Less(i, j int) bool {
	return mh.items[i].Priority < mh.items[j].Priority
}

func (mh *MapHeap) Swap(i, j int) {
	mh.items[i], mh.items[j] = mh.items[j], mh.items[i]
	mh.items[i].index = i
	mh.items[j].index = j
}

func (mh *MapHeap) Push(x interface{}) {
	it := x.(*item)
	it.index = len(mh.items)
	mh.items = append(mh.items, it)
	mh.byKey[it.Key] = it
}

func (mh *MapHeap) Pop() interface{} {
	n := len(mh.items)
	it := mh.items[n-1]
	mh.items[n-1] = nil
	it.index = -1
	mh.items = mh.items[:n-1]
	delete(mh.byKey, it.Key)
	return it
}

// --------------------------------------------------------------------------
// Key based access
// --------------------------------------------------------------------------

// AddItem inserts key with the given priority or moves an existing key to the new priority
func (mh *MapHeap) AddItem(key, priority uint64) {
	if it, exists := mh.byKey[key]; exists {
		it.Priority = priority
		heap.Fix(mh, it.index)
		return
	}
	heap.Push(mh, &item{Key: key, Priority: priority})
}

// RemoveByKey removes key and returns its priority
func (mh *MapHeap) RemoveByKey(key uint64) (uint64, bool) {
	it, exists := mh.byKey[key]
	if !exists {
		return 0, false
	}
	heap.Remove(mh, it.index)
	return it.Priority, true
}

// Peek returns the item with the lowest priority without removing it
func (mh *MapHeap) Peek() (*item, bool) {
	if len(mh.items) == 0 {
		return nil, false
	}
	return mh.items[0], true
}

// Contains reports whether key is in the heap
func (mh *MapHeap) Contains(key uint64) bool {
	_, exists := mh.byKey[key]
	return exists
}

// GetByKey returns the item for key without removing it
func (mh *MapHeap) GetByKey(key uint64) (*item, bool) {
	it, exists := mh.byKey[key]
	return it, exists
}
