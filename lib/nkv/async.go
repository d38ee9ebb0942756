package nkv

import (
	"sync/atomic"

	"github.com/ValentinKolb/nkv/lib/device/util"
)

// Result is passed to the callback of an asynchronous operation
type Result struct {
	Op  string
	Key string
	N   int    // retrieve: actual value length
	Ok  bool   // exists: whether the key is present
	Err error
}

type asyncOp struct {
	op    string
	key   string
	value []byte
	buf   []byte
	opts  StoreOptions
	cb    func(Result)
}

// asyncWorker executes the asynchronous operations of one path in submission order.
// Producers push onto a lock-free queue, one goroutine consumes it.
type asyncWorker struct {
	p       *Path
	q       *util.LockFreeMPSC[asyncOp]
	depth   int64
	pending atomic.Int64
	done    chan struct{}
}

func newAsyncWorker(p *Path, depth int) *asyncWorker {
	w := &asyncWorker{
		p:     p,
		q:     util.NewLockFreeMPSC[asyncOp](),
		depth: int64(depth),
		done:  make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *asyncWorker) submit(op *asyncOp) error {
	if w.pending.Add(1) > w.depth {
		w.pending.Add(-1)
		return ErrQueueFull
	}
	if !w.q.Push(op) {
		w.pending.Add(-1)
		return ErrNotOpen
	}
	return nil
}

func (w *asyncWorker) run() {
	defer close(w.done)
	for op := range w.q.Recv() {
		res := Result{Op: op.op, Key: op.key}
		switch op.op {
		case opStore:
			res.Err = w.p.store(op.key, op.value, op.opts)
		case opRetrieve:
			res.N, res.Err = w.p.retrieve(op.key, op.buf)
		case opDelete:
			res.Err = w.p.delete(op.key)
		case opExists:
			res.Ok, res.Err = w.p.exists(op.key)
		}
		w.pending.Add(-1)
		if op.cb != nil {
			op.cb(res)
		}
	}
}

// close rejects new operations and waits until all queued ones have completed
func (w *asyncWorker) close() {
	w.q.Close()
	<-w.done
}

// Pending returns the number of queued asynchronous operations
func (p *Path) Pending() int {
	return int(p.async.pending.Load())
}

// StoreAsync queues a store. value is copied, cb runs on the path's worker goroutine.
// Operations of one path complete in submission order.
func (p *Path) StoreAsync(key string, value []byte, opts StoreOptions, cb func(Result)) error {
	return p.async.submit(&asyncOp{op: opStore, key: key, value: append([]byte(nil), value...), opts: opts, cb: cb})
}

// RetrieveAsync queues a retrieve into buf. buf must not be touched until cb runs.
func (p *Path) RetrieveAsync(key string, buf []byte, cb func(Result)) error {
	return p.async.submit(&asyncOp{op: opRetrieve, key: key, buf: buf, cb: cb})
}

// DeleteAsync queues a delete
func (p *Path) DeleteAsync(key string, cb func(Result)) error {
	return p.async.submit(&asyncOp{op: opDelete, key: key, cb: cb})
}

// ExistsAsync queues an existence check
func (p *Path) ExistsAsync(key string, cb func(Result)) error {
	return p.async.submit(&asyncOp{op: opExists, key: key, cb: cb})
}
