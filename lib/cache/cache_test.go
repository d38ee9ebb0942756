package cache

import (
	"errors"
	"fmt"
	"sync"
	"testing"
)

func value(s string) Entry {
	return Entry{Value: []byte(s), Length: len(s), ActualLength: len(s)}
}

// mustGet fails the test if key is not cached and returns the cached value
func mustGet(t *testing.T, c *Cache, key string) string {
	t.Helper()
	e, ok := c.Get(key)
	if !ok {
		t.Fatalf("expected %q to be cached", key)
	}
	return string(e.Value)
}

func mustPut(t *testing.T, c *Cache, key string, e Entry) {
	t.Helper()
	if err := c.Put(key, e); err != nil {
		t.Fatalf("Put(%q) failed: %v", key, err)
	}
}

func TestPutGet(t *testing.T) {
	c := New(4, 16)

	mustPut(t, c, "k", value("v1"))
	if got := mustGet(t, c, "k"); got != "v1" {
		t.Errorf("expected v1, got %q", got)
	}

	mustPut(t, c, "k", value("v2"))
	if got := mustGet(t, c, "k"); got != "v2" {
		t.Errorf("expected v2 after replace, got %q", got)
	}
	if c.Len() != 1 {
		t.Errorf("replacing must not add an entry, len = %d", c.Len())
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("unknown key reported as cached")
	}
}

func TestValuesAreCopied(t *testing.T) {
	c := New(1, 4)

	buf := []byte("abc")
	mustPut(t, c, "k", Entry{Value: buf, Length: 3, ActualLength: 3})
	buf[0] = 'X'

	e, _ := c.Get("k")
	if string(e.Value) != "abc" {
		t.Fatalf("cache shares the caller's buffer: %q", e.Value)
	}

	e.Value[1] = 'Y'
	if got := mustGet(t, c, "k"); got != "abc" {
		t.Errorf("Get returned the cached buffer itself: %q", got)
	}
}

func TestNegativeEntry(t *testing.T) {
	c := New(2, 4)

	mustPut(t, c, "gone", NegativeEntry())
	e, ok := c.Get("gone")
	if !ok || !e.Negative {
		t.Fatalf("expected a negative entry, got %+v (ok=%v)", e, ok)
	}
	if e.Value != nil || e.Length != 0 {
		t.Errorf("negative entry carries data: %+v", e)
	}

	if _, ok := c.Get("never"); ok {
		t.Error("a missing entry must differ from a negative one")
	}
}

func TestDelete(t *testing.T) {
	c := New(2, 4)
	mustPut(t, c, "k", value("v"))

	if !c.Delete("k") {
		t.Error("Delete of a cached key reported false")
	}
	if c.Delete("k") {
		t.Error("second Delete reported true")
	}
	if _, ok := c.Get("k"); ok {
		t.Error("deleted key still cached")
	}
	if c.Len() != 0 {
		t.Errorf("expected empty cache, len = %d", c.Len())
	}
}

func TestLRUEviction(t *testing.T) {
	const capacity = 8
	c := New(1, capacity)

	for i := 0; i <= capacity; i++ {
		mustPut(t, c, fmt.Sprintf("k%d", i), value("v"))
	}

	if _, ok := c.Get("k0"); ok {
		t.Error("first key must be evicted")
	}
	for i := 1; i <= capacity; i++ {
		if _, ok := c.Get(fmt.Sprintf("k%d", i)); !ok {
			t.Errorf("key k%d must survive", i)
		}
	}
	if c.Len() != capacity {
		t.Errorf("len = %d, want %d", c.Len(), capacity)
	}
	if ev := c.Stats().Evictions; ev != 1 {
		t.Errorf("evictions = %d, want 1", ev)
	}
}

func TestHotShardKeepsRecency(t *testing.T) {
	const capacity = 10
	c := New(1, capacity)

	for i := 0; i < capacity; i++ {
		mustPut(t, c, fmt.Sprintf("k%d", i), value("v"))
	}

	// shard is full, so this hit moves k0 to the front
	mustGet(t, c, "k0")

	mustPut(t, c, "new", value("v"))
	if _, ok := c.Get("k0"); !ok {
		t.Error("k0 was used last and must survive")
	}
	if _, ok := c.Get("k1"); ok {
		t.Error("k1 is the least recently used entry and must be evicted")
	}
}

func TestColdShardDoesNotReorder(t *testing.T) {
	c := New(1, 100)

	mustPut(t, c, "a", value("v"))
	mustPut(t, c, "b", value("v"))
	mustGet(t, c, "a")

	s := c.shards[0]
	if front := s.lru.Front().Value.(*item).key; front != "b" {
		t.Errorf("front = %q, want b", front)
	}
	if back := s.lru.Back().Value.(*item).key; back != "a" {
		t.Errorf("back = %q, want a", back)
	}
}

func TestStats(t *testing.T) {
	c := New(2, 4)
	mustPut(t, c, "k", value("v"))
	c.Get("k")
	c.Get("x")

	st := c.Stats()
	if st.Entries != 1 || st.Capacity != 8 {
		t.Errorf("entries/capacity = %d/%d, want 1/8", st.Entries, st.Capacity)
	}
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits/misses = %d/%d, want 1/1", st.Hits, st.Misses)
	}
}

func TestClose(t *testing.T) {
	c := New(2, 4)
	mustPut(t, c, "k", value("v"))
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := c.Get("k"); ok {
		t.Error("closed cache still serves entries")
	}
	if err := c.Put("k", value("v")); !errors.Is(err, ErrClosed) {
		t.Errorf("Put after Close: %v, want ErrClosed", err)
	}
	if err := c.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close: %v, want ErrClosed", err)
	}
	tk := c.BeginWrite("k")
	if err := c.FinishWrite("k", tk, &Entry{}); !errors.Is(err, ErrClosed) {
		t.Errorf("FinishWrite after Close: %v, want ErrClosed", err)
	}
}

func TestWriteDropsEntryUntilFinished(t *testing.T) {
	c := New(1, 4)
	mustPut(t, c, "k", value("old"))

	tk := c.BeginWrite("k")
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry must be dropped while the write is in flight")
	}
	if err := c.FinishWrite("k", tk, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("a write without a value leaves the key uncached")
	}

	tk = c.BeginWrite("k")
	e := value("new")
	if err := c.FinishWrite("k", tk, &e); err != nil {
		t.Fatal(err)
	}
	if got := mustGet(t, c, "k"); got != "new" {
		t.Errorf("expected new, got %q", got)
	}
}

func TestOverlappingWritesAreNotCached(t *testing.T) {
	c := New(1, 4)

	first := c.BeginWrite("k")
	second := c.BeginWrite("k")

	v2 := value("second")
	if err := c.FinishWrite("k", second, &v2); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("a write that overlapped another one must not be cached")
	}

	v1 := value("first")
	if err := c.FinishWrite("k", first, &v1); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Get("k"); ok {
		t.Error("the older write finished last and must not be cached")
	}
}

func TestAddIfUnchanged(t *testing.T) {
	c := New(1, 4)

	// no write since the read started
	tk := c.Version("a")
	if !c.AddIfUnchanged("a", value("v"), tk) {
		t.Error("fill without an intervening write must succeed")
	}
	if c.AddIfUnchanged("a", value("other"), tk) {
		t.Error("a fill must not replace a cached value")
	}

	// a delete finished while the device was read
	tk = c.Version("b")
	w := c.BeginWrite("b")
	_ = c.FinishWrite("b", w, nil)
	if c.AddIfUnchanged("b", value("stale"), tk) {
		t.Error("fill after an intervening write must be rejected")
	}

	// a write is still in flight
	w = c.BeginWrite("c")
	tk = c.Version("c")
	if c.AddIfUnchanged("c", value("stale"), tk) {
		t.Error("fill during a write must be rejected")
	}
	_ = c.FinishWrite("c", w, nil)
	if c.AddIfUnchanged("c", value("stale"), tk) {
		t.Error("fill whose read overlapped a write must be rejected")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New(4, 32)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := fmt.Sprintf("k%d", (w*7+i)%64)
				switch i % 4 {
				case 0:
					if err := c.Put(key, value(key)); err != nil {
						errs <- err
						return
					}
				case 1:
					if e, ok := c.Get(key); ok && string(e.Value) != key {
						errs <- fmt.Errorf("key %s holds %q", key, e.Value)
						return
					}
				case 2:
					c.Delete(key)
				case 3:
					tk := c.BeginWrite(key)
					e := value(key)
					_ = c.FinishWrite(key, tk, &e)
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	if c.Len() > 4*32 {
		t.Errorf("cache exceeds its capacity: %d", c.Len())
	}
	for _, s := range c.shards {
		if s.writers != 0 {
			t.Errorf("writers left in flight: %d", s.writers)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	c := New(16, 1024)
	for i := 0; i < 1024; i++ {
		_ = c.Put(fmt.Sprintf("k%d", i), value("value"))
	}
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			c.Get(fmt.Sprintf("k%d", i%1024))
			i++
		}
	})
}
