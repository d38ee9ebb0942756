package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMPSCDeliversInPushOrder(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	for i := 0; i < 10; i++ {
		v := i
		if !q.Push(&v) {
			t.Fatalf("push %d failed", i)
		}
	}

	for i := 0; i < 10; i++ {
		select {
		case v := <-q.Recv():
			if *v != i {
				t.Fatalf("expected %d, got %d", i, *v)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for item %d", i)
		}
	}
}

func TestMPSCRejectsNilAndClosed(t *testing.T) {
	q := NewLockFreeMPSC[string]()

	if q.Push(nil) {
		t.Error("pushing nil must fail")
	}

	q.Close()
	s := "late"
	if q.Push(&s) {
		t.Error("pushing to a closed queue must fail")
	}
	if !q.IsClosed() {
		t.Error("IsClosed should report true after Close")
	}

	select {
	case _, ok := <-q.Recv():
		if ok {
			t.Error("expected the receive channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("receive channel was not closed after Close")
	}
}

func TestMPSCDrainsAfterClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	for i := 0; i < 100; i++ {
		v := i
		q.Push(&v)
	}
	q.Close()

	count := 0
	for range q.Recv() {
		count++
	}
	if count != 100 {
		t.Errorf("expected 100 queued items to be delivered after Close, got %d", count)
	}
}

func TestMPSCConcurrentProducers(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	const producers = 8
	const perProducer = 500

	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				v := p*perProducer + i
				q.Push(&v)
			}
		}(p)
	}

	seen := make(map[int]bool, producers*perProducer)
	lastPerProducer := make(map[int]int)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for v := range q.Recv() {
			if seen[*v] {
				t.Errorf("duplicate item %d", *v)
			}
			seen[*v] = true

			// items of one producer keep their order
			p := *v / perProducer
			if last, ok := lastPerProducer[p]; ok && *v < last {
				t.Errorf("producer %d: item %d delivered after %d", p, *v, last)
			}
			lastPerProducer[p] = *v
		}
	}()

	wg.Wait()
	q.Close()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
	if len(seen) != producers*perProducer {
		t.Errorf("expected %d items, got %d", producers*perProducer, len(seen))
	}
}

func TestMPSCAcceptedPushesSurviveClose(t *testing.T) {
	q := NewLockFreeMPSC[int]()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				v := i
				if q.Push(&v) {
					accepted.Add(1)
				}
			}
		}()
	}

	delivered := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range q.Recv() {
			delivered++
		}
	}()

	time.Sleep(time.Millisecond)
	q.Close()
	wg.Wait()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not finish")
	}
	if int64(delivered) != accepted.Load() {
		t.Errorf("accepted %d items, delivered %d", accepted.Load(), delivered)
	}
}

func TestMPSCLen(t *testing.T) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	if q.Len() != 0 {
		t.Fatalf("new queue: Len = %d", q.Len())
	}
	// the forwarding goroutine holds at most one popped item while blocked on the channel
	for i := 0; i < 5; i++ {
		v := i
		q.Push(&v)
	}
	if l := q.Len(); l < 4 || l > 5 {
		t.Errorf("Len = %d, want 4 or 5", l)
	}
}

func BenchmarkMPSCMultiProducer(b *testing.B) {
	q := NewLockFreeMPSC[int]()
	defer q.Close()

	go func() {
		for range q.Recv() {
		}
	}()

	b.RunParallel(func(pb *testing.PB) {
		v := 1
		for pb.Next() {
			q.Push(&v)
		}
	})
}
