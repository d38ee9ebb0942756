package nkv

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/listing"
	"golang.org/x/time/rate"
)

// maxIterateBuffer bounds the growth of the iterator buffer after StatusBufferTooSmall
const maxIterateBuffer = 4 << 20

// IndexBuilder warms the listing index of a path from the device's native iterator.
//
// Two goroutines run per build: the iterating goroutine drives IterateOpen / IterateNext and pushes
// the decoded keys onto a bounded channel, the feeding goroutine drains the channel into the index.
// A slow device therefore never blocks index maintenance and the other way round.
//
// Live stores and deletes use the same index while the build runs. Until Done reports true a listing
// may miss keys that are not indexed yet.
type IndexBuilder struct {
	dev       device.IDevice
	index     *listing.Index
	prefix    string
	delim     byte
	batchSize int
	include   func(key string) bool
	limiter *rate.Limiter // nil = unlimited
	label   string

	keys   chan string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	startOnce sync.Once
	mu        sync.Mutex
	err       error
	indexed   atomic.Int64
	batches   atomic.Int64
	started   time.Time
	elapsed   atomic.Int64 // build duration in nanoseconds, set when done
}

func newIndexBuilder(p *Path) *IndexBuilder {
	ctx, cancel := context.WithCancel(context.Background())
	b := &IndexBuilder{
		dev:       p.dev,
		index:     p.index,
		prefix:    p.cfg.IterationPrefixFilter,
		delim:     p.cfg.Delimiter(),
		batchSize: p.cfg.IndexBuildBatchSize,
		include:   p.indexable,
		label:     p.container.Name + "/" + p.Address,
		keys:      make(chan string, p.cfg.IndexBuildQueueDepth),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if p.cfg.IndexBuildRateLimit > 0 {
		b.limiter = rate.NewLimiter(rate.Limit(p.cfg.IndexBuildRateLimit), 1)
	}
	return b
}

// Start launches the build. Calling it more than once has no effect.
func (b *IndexBuilder) Start() {
	b.startOnce.Do(func() {
		b.started = time.Now()
		log.Infof("index build for %s started (prefix %q)", b.label, b.prefix)
		go b.iterate()
		go b.feed()
	})
}

// Wait blocks until the build is finished or ctx is done
func (b *IndexBuilder) Wait(ctx context.Context) error {
	select {
	case <-b.done:
		return b.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends the build early. Keys already read from the device are still indexed before Stop returns.
func (b *IndexBuilder) Stop() {
	b.Start() // a never started builder must still close done
	b.cancel()
	<-b.done
}

// Done reports whether the build has finished
func (b *IndexBuilder) Done() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Err returns the error that ended the iteration early, if any
func (b *IndexBuilder) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Indexed returns the number of keys inserted into the index so far
func (b *IndexBuilder) Indexed() int64 {
	return b.indexed.Load()
}

// Elapsed returns the build duration, or zero while the build is running
func (b *IndexBuilder) Elapsed() time.Duration {
	return time.Duration(b.elapsed.Load())
}

func (b *IndexBuilder) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// iterate drives the native iterator. The stop flag is checked between batches.
func (b *IndexBuilder) iterate() {
	defer close(b.keys)

	h, err := b.dev.IterateOpen(b.prefix)
	if err != nil {
		log.Errorf("index build for %s: open iterator: %v", b.label, err)
		b.setErr(mapDeviceError(err))
		return
	}
	defer func() {
		if err := b.dev.IterateClose(h); err != nil {
			log.Warningf("index build for %s: close iterator: %v", b.label, err)
		}
	}()

	buf := make([]byte, b.batchSize)
	for {
		if b.ctx.Err() != nil {
			return
		}
		if b.limiter != nil {
			if err := b.limiter.Wait(b.ctx); err != nil {
				return
			}
		}

		batch, err := b.dev.IterateNext(h, buf)
		if device.StatusOf(err) == device.StatusBufferTooSmall && len(buf) < maxIterateBuffer {
			buf = make([]byte, 2*len(buf))
			continue
		}
		if err != nil {
			log.Errorf("index build for %s: %v", b.label, err)
			b.setErr(mapDeviceError(err))
			return
		}
		b.batches.Add(1)

		err = batch.Each(func(key string) bool {
			select {
			case b.keys <- key:
				return true
			case <-b.ctx.Done():
				return false
			}
		})
		if err != nil {
			log.Errorf("index build for %s: %v", b.label, err)
			b.setErr(&DeviceError{Code: device.StatusInternal, Msg: err.Error()})
			return
		}
		if batch.End {
			return
		}
	}
}

// feed inserts every queued key into the index until the iterating goroutine closes the channel
func (b *IndexBuilder) feed() {
	defer func() {
		b.elapsed.Store(int64(time.Since(b.started)))
		close(b.done)
	}()

	failed := false
	for key := range b.keys {
		if failed || !b.include(key) {
			continue
		}
		if err := b.index.InsertKey(key, b.delim); err != nil {
			// keep draining so the iterating goroutine never blocks
			if errors.Is(err, listing.ErrClosed) {
				failed = true
				continue
			}
			log.Warningf("index build for %s: insert %q: %v", b.label, key, err)
			continue
		}
		b.indexed.Add(1)
	}

	if b.ctx.Err() != nil {
		log.Infof("index build for %s stopped after %d keys", b.label, b.indexed.Load())
	} else {
		log.Infof("index build for %s finished: %d keys in %d batches (%s)",
			b.label, b.indexed.Load(), b.batches.Load(), time.Since(b.started))
	}
}
