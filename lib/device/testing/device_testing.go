package testing

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/ValentinKolb/nkv/lib/device"
)

// DeviceFactory creates a new, empty device
type DeviceFactory func() device.IDevice

// RunDeviceTests runs the conformance suite for a device implementation.
func RunDeviceTests(t *testing.T, name string, factory DeviceFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Store&Retrieve", func(t *testing.T) {
			testStoreRetrieve(t, factory())
		})

		t.Run("RetrieveBufferTooSmall", func(t *testing.T) {
			testRetrieveBufferTooSmall(t, factory())
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory())
		})

		t.Run("Exists", func(t *testing.T) {
			testExists(t, factory())
		})

		t.Run("StoreIdempotent", func(t *testing.T) {
			testStoreIdempotent(t, factory())
		})

		t.Run("Iterate", func(t *testing.T) {
			testIterate(t, factory())
		})

		t.Run("IterateSmallBuffer", func(t *testing.T) {
			testIterateSmallBuffer(t, factory())
		})

		t.Run("ListRange", func(t *testing.T) {
			testListRange(t, factory())
		})

		t.Run("SaveLoad", func(t *testing.T) {
			testSaveLoad(t, factory)
		})

		t.Run("EdgeCases", func(t *testing.T) {
			testEdgeCases(t, factory())
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireFeature skips the test if the device does not support the feature
func requireFeature(t testing.TB, dev device.IDevice, feature device.Feature) {
	if !dev.SupportsFeature(feature) {
		t.Skipf("device does not support %s", feature)
	}
}

// retrieve reads a value with a buffer large enough for any test value
func retrieve(t testing.TB, dev device.IDevice, key string) ([]byte, error) {
	t.Helper()
	buf := make([]byte, 64*1024)
	n, err := dev.Retrieve(key, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// drainIterator reads all keys of a native iterator with the given buffer size
func drainIterator(t testing.TB, dev device.IDevice, prefix string, bufSize int) []string {
	t.Helper()
	h, err := dev.IterateOpen(prefix)
	if err != nil {
		t.Fatalf("IterateOpen(%q) failed: %v", prefix, err)
	}
	defer dev.IterateClose(h)

	buf := make([]byte, bufSize)
	var keys []string
	for i := 0; i < 100000; i++ {
		batch, err := dev.IterateNext(h, buf)
		if err != nil {
			t.Fatalf("IterateNext failed: %v", err)
		}
		batchKeys, err := batch.Keys()
		if err != nil {
			t.Fatalf("decoding batch failed: %v", err)
		}
		keys = append(keys, batchKeys...)
		if batch.End {
			return keys
		}
	}
	t.Fatal("iterator did not end")
	return nil
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testStoreRetrieve(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureRetrieve)

	key := "bucket/object"
	value1 := []byte("value-1")
	value2 := []byte("value-2-longer")

	if err := dev.Store(key, value1, device.StoreOptions{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	got, err := retrieve(t, dev, key)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if !bytes.Equal(got, value1) {
		t.Errorf("expected %q, got %q", value1, got)
	}

	// the device must keep its own copy of the value
	value1[0] = 'X'
	got, _ = retrieve(t, dev, key)
	if got[0] == 'X' {
		t.Error("Store must copy the value, the caller buffer was aliased")
	}

	// overwrite
	if err := dev.Store(key, value2, device.StoreOptions{}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	got, _ = retrieve(t, dev, key)
	if !bytes.Equal(got, value2) {
		t.Errorf("expected overwritten value %q, got %q", value2, got)
	}

	_, err = retrieve(t, dev, "missing")
	if device.StatusOf(err) != device.StatusKeyNotFound {
		t.Errorf("expected StatusKeyNotFound for a missing key, got %v", err)
	}
}

func testRetrieveBufferTooSmall(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureRetrieve)

	value := []byte("0123456789")
	if err := dev.Store("k", value, device.StoreOptions{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	buf := make([]byte, 4)
	n, err := dev.Retrieve("k", buf)
	if device.StatusOf(err) != device.StatusBufferTooSmall {
		t.Fatalf("expected StatusBufferTooSmall, got %v", err)
	}
	if n != len(value) {
		t.Errorf("expected actual length %d, got %d", len(value), n)
	}
	if !bytes.Equal(buf, value[:4]) {
		t.Errorf("expected partial copy %q, got %q", value[:4], buf)
	}
}

func testDelete(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureDelete|device.FeatureRetrieve)

	if err := dev.Store("k", []byte("v"), device.StoreOptions{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if err := dev.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := retrieve(t, dev, "k"); device.StatusOf(err) != device.StatusKeyNotFound {
		t.Errorf("expected StatusKeyNotFound after delete, got %v", err)
	}
	if err := dev.Delete("k"); device.StatusOf(err) != device.StatusKeyNotFound {
		t.Errorf("deleting a missing key should return StatusKeyNotFound, got %v", err)
	}
}

func testExists(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureExists)

	ok, err := dev.Exists("k")
	if err != nil || ok {
		t.Fatalf("Exists on empty device = (%v, %v), want (false, nil)", ok, err)
	}
	if err := dev.Store("k", []byte("v"), device.StoreOptions{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	ok, err = dev.Exists("k")
	if err != nil || !ok {
		t.Errorf("Exists after store = (%v, %v), want (true, nil)", ok, err)
	}
}

func testStoreIdempotent(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStoreIfAbsent|device.FeatureRetrieve)

	if err := dev.Store("lock", []byte("owner-1"), device.StoreOptions{Idempotent: true}); err != nil {
		t.Fatalf("first idempotent store failed: %v", err)
	}
	err := dev.Store("lock", []byte("owner-2"), device.StoreOptions{Idempotent: true})
	if device.StatusOf(err) != device.StatusKeyExists {
		t.Fatalf("expected StatusKeyExists, got %v", err)
	}
	got, _ := retrieve(t, dev, "lock")
	if string(got) != "owner-1" {
		t.Errorf("idempotent store must not overwrite, got %q", got)
	}
}

func testIterate(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureIterate)

	want := make([]string, 0, 50)
	for i := 0; i < 50; i++ {
		key := fmt.Sprintf("meta/obj-%03d", i)
		want = append(want, key)
		if err := dev.Store(key, []byte("v"), device.StoreOptions{}); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}
	for i := 0; i < 10; i++ {
		dev.Store(fmt.Sprintf("data/obj-%03d", i), []byte("v"), device.StoreOptions{})
	}

	got := drainIterator(t, dev, "meta/", 4096)
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("expected %d keys with prefix meta/, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("key %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	all := drainIterator(t, dev, "", 4096)
	if len(all) != 60 {
		t.Errorf("expected 60 keys without prefix, got %d", len(all))
	}

	if err := dev.IterateClose(device.IteratorHandle(987654)); device.StatusOf(err) != device.StatusIteratorNotFound {
		t.Errorf("closing an unknown iterator should return StatusIteratorNotFound, got %v", err)
	}
}

func testIterateSmallBuffer(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureIterate)

	for i := 0; i < 20; i++ {
		dev.Store(fmt.Sprintf("k-%02d", i), []byte("v"), device.StoreOptions{})
	}

	// room for exactly two records per batch
	got := drainIterator(t, dev, "k-", 2*device.RecordSize("k-00"))
	if len(got) != 20 {
		t.Errorf("expected 20 keys with a small buffer, got %d", len(got))
	}

	// a buffer that cannot hold a single record
	h, err := dev.IterateOpen("k-")
	if err != nil {
		t.Fatalf("IterateOpen failed: %v", err)
	}
	defer dev.IterateClose(h)
	if _, err := dev.IterateNext(h, make([]byte, 3)); device.StatusOf(err) != device.StatusBufferTooSmall {
		t.Errorf("expected StatusBufferTooSmall for a 3 byte buffer, got %v", err)
	}
}

func testListRange(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureListRange)

	for i := 9; i >= 0; i-- {
		dev.Store(fmt.Sprintf("dir/file-%d", i), []byte("v"), device.StoreOptions{})
	}
	dev.Store("other/file", []byte("v"), device.StoreOptions{})

	keys, more, err := dev.ListRange("dir/", "", 4)
	if err != nil {
		t.Fatalf("ListRange failed: %v", err)
	}
	if !more || len(keys) != 4 || keys[0] != "dir/file-0" || keys[3] != "dir/file-3" {
		t.Fatalf("first page = %v (more=%v), want dir/file-0..3 with more", keys, more)
	}

	// page through the rest using the last key as cursor
	var all []string
	all = append(all, keys...)
	for more {
		keys, more, err = dev.ListRange("dir/", all[len(all)-1], 4)
		if err != nil {
			t.Fatalf("ListRange failed: %v", err)
		}
		all = append(all, keys...)
	}
	if len(all) != 10 {
		t.Fatalf("expected 10 keys in total, got %d: %v", len(all), all)
	}
	if !sort.StringsAreSorted(all) {
		t.Errorf("ListRange must return keys in lexicographic order: %v", all)
	}

	if _, _, err := dev.ListRange("dir/", "", 0); device.StatusOf(err) != device.StatusInvalidArgument {
		t.Errorf("max=0 should return StatusInvalidArgument, got %v", err)
	}
}

func testSaveLoad(t *testing.T, factory DeviceFactory) {
	dev := factory()
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureRetrieve|device.FeatureSave|device.FeatureLoad)

	values := map[string][]byte{
		"a":           []byte("1"),
		"dir/b":       []byte("22"),
		"dir/sub/c":   bytes.Repeat([]byte("x"), 4096),
		"binary\x00k": {0, 1, 2, 3},
	}
	for k, v := range values {
		if err := dev.Store(k, v, device.StoreOptions{}); err != nil {
			t.Fatalf("Store(%q) failed: %v", k, err)
		}
	}

	var snapshot bytes.Buffer
	if err := dev.Save(&snapshot); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	restored := factory()
	defer restored.Close()
	if err := restored.Load(bytes.NewReader(snapshot.Bytes())); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for k, v := range values {
		got, err := retrieve(t, restored, k)
		if err != nil {
			t.Fatalf("Retrieve(%q) after Load failed: %v", k, err)
		}
		if !bytes.Equal(got, v) {
			t.Errorf("key %q: expected %d bytes, got %d", k, len(v), len(got))
		}
	}

	if err := restored.Load(bytes.NewReader([]byte("garbage"))); err == nil {
		t.Error("loading garbage should fail")
	}
}

func testEdgeCases(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureRetrieve)

	if err := dev.Store("", []byte("v"), device.StoreOptions{}); device.StatusOf(err) != device.StatusInvalidArgument {
		t.Errorf("empty key should return StatusInvalidArgument, got %v", err)
	}

	// zero length values are legal on the device level
	if err := dev.Store("empty", nil, device.StoreOptions{}); err != nil {
		t.Fatalf("storing an empty value failed: %v", err)
	}
	n, err := dev.Retrieve("empty", make([]byte, 8))
	if err != nil || n != 0 {
		t.Errorf("Retrieve(empty) = (%d, %v), want (0, nil)", n, err)
	}

	// keys are opaque bytes
	odd := "key/with\xffbytes/\x01"
	if err := dev.Store(odd, []byte("v"), device.StoreOptions{}); err != nil {
		t.Fatalf("storing a binary key failed: %v", err)
	}
	if got, err := retrieve(t, dev, odd); err != nil || string(got) != "v" {
		t.Errorf("binary key roundtrip = (%q, %v)", got, err)
	}
}

func testConcurrent(t *testing.T, dev device.IDevice) {
	defer dev.Close()

	requireFeature(t, dev, device.FeatureStore|device.FeatureRetrieve|device.FeatureDelete)

	const workers = 8
	const perWorker = 200

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := fmt.Sprintf("w%d/k%d", w, i)
				if err := dev.Store(key, []byte(key), device.StoreOptions{}); err != nil {
					t.Errorf("Store(%q) failed: %v", key, err)
					return
				}
				if i%2 == 1 {
					if err := dev.Delete(key); err != nil {
						t.Errorf("Delete(%q) failed: %v", key, err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()

	for w := 0; w < workers; w++ {
		for i := 0; i < perWorker; i++ {
			key := fmt.Sprintf("w%d/k%d", w, i)
			got, err := retrieve(t, dev, key)
			if i%2 == 1 {
				if device.StatusOf(err) != device.StatusKeyNotFound {
					t.Fatalf("key %q should be deleted, got %v", key, err)
				}
				continue
			}
			if err != nil || string(got) != key {
				t.Fatalf("key %q: got (%q, %v)", key, got, err)
			}
		}
	}
}
