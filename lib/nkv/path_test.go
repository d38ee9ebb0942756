package nkv

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/engines/memdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxValueLength = 8
	_, c := openTest(t, cfg, nil)
	buf := make([]byte, 16)

	tests := []struct {
		name string
		err  error
		call func() error
	}{
		{"store empty key", ErrKeyEmpty, func() error { return c.Store("", []byte("v"), StoreOptions{}) }},
		{"store long key", ErrKeyTooLong, func() error { return c.Store(strings.Repeat("k", 256), []byte("v"), StoreOptions{}) }},
		{"store empty value", ErrValueEmpty, func() error { return c.Store("k", nil, StoreOptions{}) }},
		{"store long value", ErrValueTooLong, func() error { return c.Store("k", []byte("123456789"), StoreOptions{}) }},
		{"retrieve empty key", ErrKeyEmpty, func() error { _, err := c.Retrieve("", buf); return err }},
		{"retrieve empty buffer", ErrValueEmpty, func() error { _, err := c.Retrieve("k", nil); return err }},
		{"delete long key", ErrKeyTooLong, func() error { return c.Delete(strings.Repeat("k", 300)) }},
		{"exists empty key", ErrKeyEmpty, func() error { _, err := c.Exists(""); return err }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			assert.ErrorIs(t, err, tc.err)
			assert.True(t, IsLengthError(err))
		})
	}

	// the longest allowed key is fine
	assert.NoError(t, c.Store(strings.Repeat("k", 255), []byte("12345678"), StoreOptions{}))
}

func TestStoreRetrieveDelete(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)

	require.NoError(t, c.Store("a/b", []byte("hello world"), StoreOptions{}))

	buf := make([]byte, 64)
	n, err := c.Retrieve("a/b", buf)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(buf[:n]))

	ok, err := c.Exists("a/b")
	require.NoError(t, err)
	assert.True(t, ok)

	// a short buffer gets the prefix of the value and the actual length
	small := make([]byte, 5)
	n, err = c.Retrieve("a/b", small)
	assert.True(t, IsBufferTooSmall(err))
	assert.Equal(t, 11, n)
	assert.Equal(t, "hello", string(small))

	require.NoError(t, c.Store("a/b", []byte("bye"), StoreOptions{}))
	n, err = c.Retrieve("a/b", buf)
	require.NoError(t, err)
	assert.Equal(t, "bye", string(buf[:n]))

	require.NoError(t, c.Delete("a/b"))
	_, err = c.Retrieve("a/b", buf)
	assert.True(t, IsNotFound(err))
	ok, err = c.Exists("a/b")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, c.Delete("a/b"), ErrKeyNotFound)
}

func TestIdempotentStore(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)

	require.NoError(t, c.Store("k", []byte("1"), StoreOptions{Idempotent: true}))
	err := c.Store("k", []byte("2"), StoreOptions{Idempotent: true})
	assert.ErrorIs(t, err, ErrKeyExists)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, opStore, e.Op)
	assert.Equal(t, "k", e.Key)

	buf := make([]byte, 8)
	n, err := c.Retrieve("k", buf)
	require.NoError(t, err)
	assert.Equal(t, "1", string(buf[:n]))
}

func TestRetrieveServedFromCache(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)
	p := c.PathFor("dir/k")

	require.NoError(t, c.Store("dir/k", []byte("cached"), StoreOptions{}))
	// remove the key behind nKV's back
	require.NoError(t, p.Device().Delete("dir/k"))

	buf := make([]byte, 16)
	n, err := c.Retrieve("dir/k", buf)
	require.NoError(t, err)
	assert.Equal(t, "cached", string(buf[:n]))

	ok, err := c.Exists("dir/k")
	require.NoError(t, err)
	assert.True(t, ok)

	st := p.cache.Stats()
	assert.GreaterOrEqual(t, st.Hits, uint64(2))
}

func TestCacheEligibility(t *testing.T) {
	cfg := testConfig()
	cfg.IterationPrefixFilter = "data/"
	cfg.CacheValueSizeThreshold = 8
	_, c := openTest(t, cfg, nil)
	buf := make([]byte, 64)
	big := []byte("0123456789abcdef")

	cached := func(key string, value []byte) bool {
		require.NoError(t, c.Store(key, value, StoreOptions{}))
		require.NoError(t, c.PathFor(key).Device().Delete(key))
		_, err := c.Retrieve(key, buf)
		return err == nil
	}

	assert.True(t, cached("data/big", big), "keys in the listed namespace are always cached")
	assert.True(t, cached("other/small", []byte("tiny")), "small values are cached")
	assert.False(t, cached("other/big", big), "large values outside the namespace are not cached")
	assert.False(t, cached("data/.nkv.sys/meta", []byte("x")), "system metadata is never cached")
}

func TestStoreDropsStaleCacheEntry(t *testing.T) {
	cfg := testConfig()
	cfg.IterationPrefixFilter = "data/"
	cfg.CacheValueSizeThreshold = 8
	_, c := openTest(t, cfg, nil)
	buf := make([]byte, 64)

	require.NoError(t, c.Store("k", []byte("small"), StoreOptions{}))
	// too large to be cached, the old value must not survive in the cache
	require.NoError(t, c.Store("k", []byte("0123456789abcdef"), StoreOptions{}))

	n, err := c.Retrieve("k", buf)
	require.NoError(t, err)
	assert.Equal(t, "0123456789abcdef", string(buf[:n]))
}

func TestRetrieveRacingDeleteIsNotCached(t *testing.T) {
	dev := &hookDevice{IDevice: memdev.MustNewMemDevice(nil)}
	_, c := openTest(t, testConfig(), map[string]device.IDevice{"p0": dev})
	require.NoError(t, c.Store("k", []byte("v1"), StoreOptions{}))
	p := c.PathFor("k")
	p.cache.Delete("k") // force the next read to the device

	// the delete completes between the device read and the cache fill
	dev.afterRetrieve = func(key string) {
		concurrently(t, func() error { return p.Delete(key) })
	}

	buf := make([]byte, 16)
	n, err := p.Retrieve("k", buf)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(buf[:n]), "the read was served before the delete")

	_, err = p.Retrieve("k", buf)
	assert.True(t, IsNotFound(err), "a deleted key must not be served from the cache, got %v", err)
	ok, err := p.Exists("k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRetrieveRacingStoreIsNotCached(t *testing.T) {
	dev := &hookDevice{IDevice: memdev.MustNewMemDevice(nil)}
	_, c := openTest(t, testConfig(), map[string]device.IDevice{"p0": dev})
	require.NoError(t, c.Store("k", []byte("v1"), StoreOptions{}))
	p := c.PathFor("k")
	p.cache.Delete("k")

	dev.afterRetrieve = func(key string) {
		concurrently(t, func() error { return p.Store(key, []byte("v2"), StoreOptions{}) })
	}

	buf := make([]byte, 16)
	_, err := p.Retrieve("k", buf)
	require.NoError(t, err)

	n, err := p.Retrieve("k", buf)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(buf[:n]))
}

func TestOverlappingStoresLeaveCacheConsistent(t *testing.T) {
	dev := &hookDevice{IDevice: memdev.MustNewMemDevice(nil)}
	_, c := openTest(t, testConfig(), map[string]device.IDevice{"p0": dev})
	p := c.PathFor("k")

	// the second store reaches the device after the first one and finishes before it
	dev.afterStore = func(key string) {
		concurrently(t, func() error { return p.Store(key, []byte("second"), StoreOptions{}) })
	}
	require.NoError(t, p.Store("k", []byte("first"), StoreOptions{}))

	onDevice := make([]byte, 16)
	m, err := dev.IDevice.Retrieve("k", onDevice)
	require.NoError(t, err)
	require.Equal(t, "second", string(onDevice[:m]))

	buf := make([]byte, 16)
	n, err := p.Retrieve("k", buf)
	require.NoError(t, err)
	assert.Equal(t, "second", string(buf[:n]), "the cache must agree with the device")
}

func TestNegativeCache(t *testing.T) {
	for _, enabled := range []bool{true, false} {
		cfg := testConfig()
		cfg.NegativeCacheEnabled = enabled
		_, c := openTest(t, cfg, nil)
		buf := make([]byte, 16)

		_, err := c.Retrieve("missing", buf)
		require.True(t, IsNotFound(err))

		// the key appears on the device without nKV noticing
		require.NoError(t, c.PathFor("missing").Device().Store("missing", []byte("v"), device.StoreOptions{}))

		_, err = c.Retrieve("missing", buf)
		if enabled {
			assert.True(t, IsNotFound(err), "the miss is remembered")
			ok, err := c.Exists("missing")
			require.NoError(t, err)
			assert.False(t, ok)
		} else {
			assert.NoError(t, err)
		}

		// a store through nKV replaces the negative entry
		require.NoError(t, c.Store("missing", []byte("new"), StoreOptions{}))
		n, err := c.Retrieve("missing", buf)
		require.NoError(t, err)
		assert.Equal(t, "new", string(buf[:n]))
	}
}

func TestRetrieveRetriesZeroLength(t *testing.T) {
	dev := &zeroLengthDevice{IDevice: memdev.MustNewMemDevice(nil)}
	cfg := testConfig()
	cfg.ReadCacheEnabled = false
	_, c := openTest(t, cfg, map[string]device.IDevice{"p0": dev})

	require.NoError(t, c.Store("k", []byte("value"), StoreOptions{}))
	buf := make([]byte, 16)

	dev.zeros.Store(1)
	n, err := c.Retrieve("k", buf)
	require.NoError(t, err)
	assert.Equal(t, "value", string(buf[:n]))
	assert.Equal(t, int64(2), dev.calls.Load())

	dev.zeros.Store(2)
	dev.calls.Store(0)
	_, err = c.Retrieve("k", buf)
	status, ok := DeviceStatus(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, device.StatusInternal, status)
	assert.Equal(t, int64(2), dev.calls.Load())
}

func TestDeviceErrorPassThrough(t *testing.T) {
	dev := &failingDevice{IDevice: memdev.MustNewMemDevice(nil), status: device.StatusBusy}
	_, c := openTest(t, testConfig(), map[string]device.IDevice{"p0": dev})

	err := c.Store("k", []byte("v"), StoreOptions{})
	status, ok := DeviceStatus(err)
	require.True(t, ok)
	assert.Equal(t, device.StatusBusy, status)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "p0", e.Path)

	// a failed store leaves no trace in the index
	assert.False(t, c.PathFor("k").index.Has("k"))
}

func TestDispatcherMaintainsIndex(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)
	p := c.PathFor("a/b/c")

	require.NoError(t, c.Store("a/b/c", []byte("v"), StoreOptions{}))
	assert.True(t, p.index.Has("a/"))
	assert.True(t, p.index.Has("a/b/"))

	require.NoError(t, c.Delete("a/b/c"))
	assert.False(t, p.index.Has("a/b/"))
	assert.False(t, p.index.Has("a/"))
	assert.True(t, p.index.Has(""))

	children, err := p.index.Children("")
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestIndexIgnoresKeysOutsideFilter(t *testing.T) {
	cfg := testConfig()
	cfg.IterationPrefixFilter = "data/"
	_, c := openTest(t, cfg, nil)

	require.NoError(t, c.Store("other/x", []byte("v"), StoreOptions{}))
	require.NoError(t, c.Store("data/x", []byte("v"), StoreOptions{}))

	assert.False(t, c.PathFor("other/x").index.Has("other/"))
	assert.True(t, c.PathFor("data/x").index.Has("data/"))
}

func TestLockKVP(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)

	ok, owner, err := c.LockKVP("res", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, owner, 16)

	ok, _, err = c.LockKVP("res", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	ok, err = c.UnlockKVP("res", []byte("0123456789abcdef"))
	require.NoError(t, err)
	assert.False(t, ok, "foreign owner cannot release")

	ok, err = c.UnlockKVP("res", owner)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _, err = c.LockKVP("res", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, err = c.LockKVP("", time.Minute)
	assert.ErrorIs(t, err, ErrKeyEmpty)
}

func TestLockRecordsAreHidden(t *testing.T) {
	_, c := openTest(t, testConfig("p0", "p1"), nil)
	mustStore(t, c, "visible")

	ok, _, err := c.LockKVP("visible", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, []string{"visible"}, listAll(t, c, ListOptions{}, 8))
	assert.Equal(t, []string{"visible"}, listAll(t, c, ListOptions{Delimiter: "/"}, 8))
}
