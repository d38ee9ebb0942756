package nkv

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/engines/memdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListScenario(t *testing.T) {
	for _, paths := range [][]string{{"p0"}, {"p0", "p1", "p2"}} {
		t.Run(fmt.Sprintf("%d paths", len(paths)), func(t *testing.T) {
			_, c := openTest(t, testConfig(paths...), nil)
			mustStore(t, c, "root/file1", "dir/file2", "dir/file3")

			assert.ElementsMatch(t, []string{"root/", "dir/"}, listAll(t, c, ListOptions{Delimiter: "/"}, 10))
			assert.ElementsMatch(t, []string{"file2", "file3"}, listAll(t, c, ListOptions{Prefix: "dir/", Delimiter: "/"}, 10))
			assert.Equal(t, []string{"file1"}, listAll(t, c, ListOptions{Prefix: "root/", Delimiter: "/"}, 10))
			assert.Empty(t, listAll(t, c, ListOptions{Prefix: "nothing/", Delimiter: "/"}, 10))

			require.NoError(t, c.Delete("root/file1"))
			assert.Equal(t, []string{"dir/"}, listAll(t, c, ListOptions{Delimiter: "/"}, 10))
		})
	}
}

// paginationFixture stores files, nested directories and a directory spread over all paths
func paginationFixture(t *testing.T, c *Container) []string {
	t.Helper()
	var expected []string
	for i := 0; i < 50; i++ {
		mustStore(t, c, fmt.Sprintf("bucket/k%03d", i))
		expected = append(expected, fmt.Sprintf("k%03d", i))
	}
	for i := 0; i < 5; i++ {
		mustStore(t, c, fmt.Sprintf("bucket/sub%d/x", i), fmt.Sprintf("bucket/sub%d/y/z", i))
		expected = append(expected, fmt.Sprintf("sub%d/", i))
	}
	for i := 0; i < 12; i++ {
		mustStore(t, c, fmt.Sprintf("bucket/shared/%d", i))
	}
	expected = append(expected, "shared/")
	mustStore(t, c, "other/k", "bucketx/k")
	return expected
}

func TestListPagination(t *testing.T) {
	_, c := openTest(t, testConfig("p0", "p1", "p2"), nil)
	expected := paginationFixture(t, c)
	opts := ListOptions{Prefix: "bucket/", Delimiter: "/"}

	for _, pageSize := range []int{1, 3, 7, 100} {
		t.Run(fmt.Sprintf("page %d", pageSize), func(t *testing.T) {
			keys := listAll(t, c, opts, pageSize)
			assert.Equal(t, sorted(expected), sorted(keys), "every name exactly once")
		})
	}

	t.Run("single call", func(t *testing.T) {
		slots := NewSlots(len(expected), 64)
		n, next, err := c.List(nil, opts, slots)
		require.NoError(t, err)
		assert.Nil(t, next)
		assert.Equal(t, sorted(expected), sorted(Keys(slots, n)))
	})

	t.Run("pages never overflow", func(t *testing.T) {
		slots := NewSlots(3, 64)
		var it *Iterator
		for {
			n, next, err := c.List(it, opts, slots)
			require.NoError(t, err)
			assert.LessOrEqual(t, n, 3)
			if next == nil {
				return
			}
			assert.Equal(t, 3, n, "only the last page may be short")
			it = next
		}
	})
}

func TestListFlat(t *testing.T) {
	_, c := openTest(t, testConfig("p0", "p1"), nil)
	keys := []string{"a", "b/c", "b/d/e", "f/g"}
	mustStore(t, c, keys...)

	assert.Equal(t, keys, sorted(listAll(t, c, ListOptions{}, 2)))
	assert.Equal(t, []string{"b/c", "b/d/e"}, sorted(listAll(t, c, ListOptions{Prefix: "b/"}, 2)))
}

func TestListFlatPrefixMatchesAnywhere(t *testing.T) {
	for _, listing := range []bool{true, false} {
		t.Run(fmt.Sprintf("listing=%v", listing), func(t *testing.T) {
			cfg := testConfig("p0", "p1")
			cfg.ListingEnabled = listing
			_, c := openTest(t, cfg, nil)
			mustStore(t, c, "ab", "b1", "x/b/y", "cd")

			assert.Equal(t, []string{"ab", "b1", "x/b/y"}, sorted(listAll(t, c, ListOptions{Prefix: "b"}, 2)))
			assert.Equal(t, []string{"x/b/y"}, listAll(t, c, ListOptions{Prefix: "b", StartAfter: "b1"}, 2))
		})
	}
}

func TestListStartAfter(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)
	mustStore(t, c, "dir/a", "dir/b", "dir/c", "dir/d/x", "dir/e")

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"inside prefix", ListOptions{Prefix: "dir/", Delimiter: "/", StartAfter: "dir/b"}, []string{"c", "d/", "e"}},
		{"before prefix", ListOptions{Prefix: "dir/", Delimiter: "/", StartAfter: "a"}, []string{"a", "b", "c", "d/", "e"}},
		{"behind prefix", ListOptions{Prefix: "dir/", Delimiter: "/", StartAfter: "zzz"}, nil},
		{"flat", ListOptions{Prefix: "dir/", StartAfter: "dir/c"}, []string{"dir/d/x", "dir/e"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, listAll(t, c, tc.opts, 2))
		})
	}
}

func TestListStartAfterInsideDirectory(t *testing.T) {
	keys := []string{"dir/sub/x", "dir/sub/y", "dir/sub.x", "dir/z", "dir/deep/a/b", "dir/deep/c"}

	tests := []struct {
		name string
		opts ListOptions
		want []string
	}{
		{"directory with later keys", ListOptions{Prefix: "dir/", Delimiter: "/", StartAfter: "dir/sub/x"}, []string{"sub/", "z"}},
		{"last key of directory", ListOptions{Prefix: "dir/", Delimiter: "/", StartAfter: "dir/sub/y"}, []string{"z"}},
		{"directory itself", ListOptions{Prefix: "dir/", Delimiter: "/", StartAfter: "dir/sub/"}, []string{"sub/", "z"}},
		{"nested directory", ListOptions{Prefix: "dir/", Delimiter: "/", StartAfter: "dir/deep/a/b"}, []string{"deep/", "sub.x", "sub/", "z"}},
		{"nested directory exhausted", ListOptions{Prefix: "dir/", Delimiter: "/", StartAfter: "dir/deep/c"}, []string{"sub.x", "sub/", "z"}},
		{"from root", ListOptions{Delimiter: "/", StartAfter: "dir/sub/x"}, []string{"dir/"}},
	}

	// the index walk and the device's ranged listing must agree
	for _, listing := range []bool{true, false} {
		cfg := testConfig()
		cfg.ListingEnabled = listing
		_, c := openTest(t, cfg, nil)
		mustStore(t, c, keys...)
		require.Equal(t, listing, c.Paths()[0].HasIndex())

		for _, tc := range tests {
			t.Run(fmt.Sprintf("%s/listing=%v", tc.name, listing), func(t *testing.T) {
				assert.Equal(t, tc.want, listAll(t, c, tc.opts, 1))
			})
		}
	}
}

func TestListBufferTooSmall(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)
	long := strings.Repeat("z", 40)
	mustStore(t, c, "a/short", "a/"+long)
	opts := ListOptions{Prefix: "a/", Delimiter: "/"}

	n, next, err := c.List(nil, opts, NewSlots(4, 8))
	require.True(t, IsBufferTooSmall(err), "got %v", err)
	require.NotNil(t, next, "the enumeration can be continued")
	assert.Equal(t, 1, n)

	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, len(long), e.Size)

	slots := NewSlots(4, 64)
	n, next, err = c.List(next, opts, slots)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, []string{long}, Keys(slots, n))
}

func TestListHandleProtocol(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)
	for i := 0; i < 10; i++ {
		mustStore(t, c, fmt.Sprintf("k%d", i))
	}
	opts := ListOptions{Delimiter: "/"}
	slots := NewSlots(3, 16)

	_, first, err := c.List(nil, opts, slots)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, second, err := c.List(first, opts, slots)
	require.NoError(t, err)
	require.NotNil(t, second)

	t.Run("consumed", func(t *testing.T) {
		_, next, err := c.List(first, opts, slots)
		assert.ErrorIs(t, err, ErrIteratorConsumed)
		assert.Nil(t, next)
	})

	t.Run("busy", func(t *testing.T) {
		st := second.state.Load()
		st.inUse.Store(true)
		_, _, err := c.List(second, opts, slots)
		assert.ErrorIs(t, err, ErrIteratorBusy)
		st.inUse.Store(false)
	})

	t.Run("no slots", func(t *testing.T) {
		n, same, err := c.List(second, opts, nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Zero(t, n)
		assert.Same(t, second, same, "the handle is not consumed")
	})

	third, err := func() (*Iterator, error) {
		_, next, err := c.List(second, opts, slots)
		return next, err
	}()
	require.NoError(t, err)
	require.NotNil(t, third)

	t.Run("closed", func(t *testing.T) {
		third.Close()
		_, _, err := c.List(third, opts, slots)
		assert.ErrorIs(t, err, ErrIteratorConsumed)
	})
}

func TestListInvalidOptions(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)

	_, _, err := c.List(nil, ListOptions{Delimiter: "::"}, NewSlots(1, 8))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, _, err = c.List(nil, ListOptions{Prefix: strings.Repeat("p", 256)}, NewSlots(1, 8))
	assert.ErrorIs(t, err, ErrKeyTooLong)
}

func TestListMaxPaths(t *testing.T) {
	cfg := testConfig("p0", "p1", "p2")
	cfg.MaxPathsToIteratePerContainer = 1
	_, c := openTest(t, cfg, nil)

	first := c.Paths()[0]
	var expected []string
	for i := 0; i < 30; i++ {
		key := fmt.Sprintf("k%02d", i)
		mustStore(t, c, key)
		if c.PathFor(key) == first {
			expected = append(expected, key)
		}
	}
	require.NotEmpty(t, expected)

	assert.Equal(t, expected, listAll(t, c, ListOptions{Delimiter: "/"}, 4))
}

func TestListNativePath(t *testing.T) {
	cfg := testConfig()
	cfg.Containers[0].Paths = []PathConfig{{Address: "r", Kind: PathKindRemote, Endpoint: "test"}}
	_, c := openTest(t, cfg, map[string]device.IDevice{"r": memdev.MustNewMemDevice(nil)})
	require.False(t, c.Paths()[0].HasIndex())

	mustStore(t, c, "dir/a", "dir/b/c", "dir/b/d", "dirx/e", "f")

	assert.Equal(t, []string{"dir/", "dirx/", "f"}, listAll(t, c, ListOptions{Delimiter: "/"}, 2))
	assert.Equal(t, []string{"a", "b/"}, listAll(t, c, ListOptions{Prefix: "dir/", Delimiter: "/"}, 2))
	assert.Equal(t, []string{"c", "d"}, listAll(t, c, ListOptions{Prefix: "dir/b/", Delimiter: "/"}, 1))
}

func TestListOtherDelimiter(t *testing.T) {
	dev := &countingDevice{IDevice: memdev.MustNewMemDevice(nil)}
	_, c := openTest(t, testConfig(), map[string]device.IDevice{"p0": dev})
	mustStore(t, c, "x:1", "x:2", "y")

	// only "/" is indexed, ":" is answered by the device
	assert.Equal(t, []string{"x:", "y"}, listAll(t, c, ListOptions{Delimiter: ":"}, 4))
	assert.Positive(t, dev.lists.Load())

	dev.lists.Store(0)
	listAll(t, c, ListOptions{Delimiter: "/"}, 4)
	assert.Zero(t, dev.lists.Load(), "indexed listings never reach the device")
}

func TestListDeviceError(t *testing.T) {
	cfg := testConfig()
	cfg.Containers[0].Paths = []PathConfig{{Address: "r", Kind: PathKindRemote, Endpoint: "test"}}
	dev := &failingDevice{IDevice: memdev.MustNewMemDevice(nil), status: device.StatusBusy}
	_, c := openTest(t, cfg, map[string]device.IDevice{"r": dev})

	n, next, err := c.List(nil, ListOptions{}, NewSlots(2, 8))
	assert.Zero(t, n)
	assert.Nil(t, next)
	status, ok := DeviceStatus(err)
	require.True(t, ok)
	assert.Equal(t, device.StatusBusy, status)
}
