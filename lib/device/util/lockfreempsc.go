package util

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// mpscNode is one element of the queue's linked list. The list always starts with a consumed
// (or sentinel) node, so head.next is the oldest queued item.
type mpscNode[T any] struct {
	value *T
	next  atomic.Pointer[mpscNode[T]]
}

// LockFreeMPSC is an unbounded multi-producer single-consumer queue.
//
// Producers link new nodes behind the tail with CAS and never block each other. A forwarding
// goroutine pops from the head and hands items to the channel returned by Recv. Items of one
// producer arrive in push order. After Close, pushes fail and the Recv channel is closed once every
// accepted item has been delivered.
//
// Thread-safety: Push, Close, IsClosed and Len are thread-safe. Recv must be drained by one goroutine.
type LockFreeMPSC[T any] struct {
	head atomic.Pointer[mpscNode[T]]
	tail atomic.Pointer[mpscNode[T]]
	out  chan *T

	closed  atomic.Bool
	pushing atomic.Int64 // producers between the closed check and linking their node

	// the forwarding goroutine parks on idle while nothing is queued
	mu   sync.Mutex
	idle *sync.Cond
}

// NewLockFreeMPSC creates a queue and starts its forwarding goroutine
func NewLockFreeMPSC[T any]() *LockFreeMPSC[T] {
	q := &LockFreeMPSC[T]{out: make(chan *T)}
	q.idle = sync.NewCond(&q.mu)

	sentinel := &mpscNode[T]{}
	q.head.Store(sentinel)
	q.tail.Store(sentinel)

	go q.forward()
	return q
}

// Push appends value. It returns false for a nil value or a closed queue; an accepted value is
// always delivered.
func (q *LockFreeMPSC[T]) Push(value *T) bool {
	if value == nil {
		return false
	}

	q.pushing.Add(1)
	defer q.pushing.Add(-1)
	if q.closed.Load() {
		return false
	}

	n := &mpscNode[T]{value: value}
	for spins := 0; ; spins++ {
		tail := q.tail.Load()
		next := tail.next.Load()
		if next != nil {
			// help a producer that linked its node but did not move the tail yet
			q.tail.CompareAndSwap(tail, next)
			continue
		}
		if tail.next.CompareAndSwap(nil, n) {
			q.tail.CompareAndSwap(tail, n)
			q.signal()
			return true
		}
		if spins > 4 {
			runtime.Gosched()
		}
	}
}

// Recv returns the channel the consumer reads from
func (q *LockFreeMPSC[T]) Recv() <-chan *T {
	return q.out
}

// Close rejects further pushes. Queued items are still delivered.
func (q *LockFreeMPSC[T]) Close() {
	q.closed.Store(true)
	q.signal()
}

// IsClosed reports whether Close was called
func (q *LockFreeMPSC[T]) IsClosed() bool {
	return q.closed.Load()
}

// Len counts queued items by walking the list. O(n) and approximate under concurrent pushes.
func (q *LockFreeMPSC[T]) Len() int {
	count := 0
	for n := q.head.Load().next.Load(); n != nil; n = n.next.Load() {
		count++
	}
	return count
}

// --------------------------------------------------------------------------
// Consumer side
// --------------------------------------------------------------------------

// pop removes the oldest item, or returns nil if the list is empty
func (q *LockFreeMPSC[T]) pop() *T {
	head := q.head.Load()
	next := head.next.Load()
	if next == nil {
		return nil
	}
	q.head.Store(next)
	v := next.value
	next.value = nil // next is the new sentinel
	return v
}

// drained reports whether the queue is closed and no producer can still link a node
func (q *LockFreeMPSC[T]) drained() bool {
	return q.closed.Load() && q.pushing.Load() == 0 && q.head.Load().next.Load() == nil
}

func (q *LockFreeMPSC[T]) forward() {
	defer close(q.out)
	for {
		if v := q.pop(); v != nil {
			q.out <- v
			continue
		}
		if q.drained() {
			return
		}

		q.mu.Lock()
		for q.head.Load().next.Load() == nil && !q.closed.Load() {
			q.idle.Wait()
		}
		q.mu.Unlock()

		if q.closed.Load() && q.head.Load().next.Load() == nil && q.pushing.Load() > 0 {
			// a producer passed the closed check and is about to link its node
			runtime.Gosched()
		}
	}
}

// signal wakes the forwarding goroutine. Holding mu orders the signal after its emptiness check.
func (q *LockFreeMPSC[T]) signal() {
	q.mu.Lock()
	q.idle.Signal()
	q.mu.Unlock()
}
