package nkv

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/nkv/lib/device"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenErrors(t *testing.T) {
	_, err := Open(DefaultConfig(), nil)
	assert.ErrorIs(t, err, ErrInvalidConfig, "no containers")

	cfg := testConfig()
	cfg.HierarchicalDelimiter = "ab"
	_, err = Open(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	// the default opener only knows memdev paths
	cfg = testConfig()
	cfg.Containers[0].Paths = []PathConfig{{Address: "r", Kind: PathKindRemote, Endpoint: "localhost:1"}}
	_, err = Open(cfg, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	boom := errors.New("boom")
	_, err = Open(testConfig("p0", "p1"), func(_ ContainerConfig, p PathConfig) (device.IDevice, error) {
		if p.Address == "p1" {
			return nil, boom
		}
		return MemdevOpener(ContainerConfig{}, p)
	})
	assert.ErrorIs(t, err, boom)
}

func TestContainers(t *testing.T) {
	cfg := testConfig("p0", "p1")
	cfg.Containers = append(cfg.Containers, ContainerConfig{Name: "d", Paths: []PathConfig{{Address: "p0"}}})
	inst, c := openTest(t, cfg, nil)

	assert.Len(t, inst.Containers(), 2)
	_, err := inst.Container("missing")
	assert.ErrorIs(t, err, ErrUnknownContainer)

	for _, p := range c.Paths() {
		got, ok := inst.Path(p.Hash)
		require.True(t, ok)
		assert.Same(t, p, got)
		assert.Same(t, c, p.Container())
	}

	// containers are separate namespaces even on equally named paths
	d, err := inst.Container("d")
	require.NoError(t, err)
	mustStore(t, c, "only-in-c")
	ok, err := d.Exists("only-in-c")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClose(t *testing.T) {
	inst, c := openTest(t, testConfig(), nil)
	mustStore(t, c, "k")
	require.NoError(t, inst.Close())

	assert.ErrorIs(t, c.Store("k", []byte("v"), StoreOptions{}), ErrNotOpen)
	_, err := c.Retrieve("k", make([]byte, 4))
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, c.Delete("k"), ErrNotOpen)
	_, _, err = c.List(nil, ListOptions{}, NewSlots(1, 8))
	assert.ErrorIs(t, err, ErrNotOpen)

	assert.ErrorIs(t, inst.Close(), ErrNotOpen)
}

func TestConcurrentStoreDeleteList(t *testing.T) {
	_, c := openTest(t, testConfig("p0", "p1", "p2"), nil)

	const (
		workers = 8
		perDir  = 40
		dirs    = 4
	)
	stop := make(chan struct{})
	listErr := make(chan error, 1)
	go func() {
		defer close(listErr)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := c.ListAll(ListOptions{Prefix: "shared/", Delimiter: "/"}, 5, 64); err != nil {
				listErr <- err
				return
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perDir; i++ {
				key := fmt.Sprintf("shared/d%d/w%d-%03d", w%dirs, w, i)
				if err := c.Store(key, []byte("v"), StoreOptions{}); err != nil {
					t.Error(err)
					return
				}
				if i%2 == 0 {
					if err := c.Delete(key); err != nil {
						t.Error(err)
						return
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	require.NoError(t, <-listErr)

	var dirNames []string
	for d := 0; d < dirs; d++ {
		dirNames = append(dirNames, fmt.Sprintf("d%d/", d))

		var want []string
		for w := d; w < workers; w += dirs {
			for i := 1; i < perDir; i += 2 {
				want = append(want, fmt.Sprintf("w%d-%03d", w, i))
			}
		}
		got := listAll(t, c, ListOptions{Prefix: fmt.Sprintf("shared/d%d/", d), Delimiter: "/"}, 7)
		assert.Equal(t, sorted(want), sorted(got), "dir d%d", d)
	}
	assert.Equal(t, dirNames, sorted(listAll(t, c, ListOptions{Prefix: "shared/", Delimiter: "/"}, 3)))
}

func TestConcurrentCascade(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)
	p := c.Paths()[0]

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = c.Store("x/y/a", []byte("v"), StoreOptions{})
			_ = c.Delete("x/y/a")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = c.Store("x/y/b", []byte("v"), StoreOptions{})
		}
	}()
	wg.Wait()

	assert.True(t, p.index.Has("x/"))
	assert.True(t, p.index.Has("x/y/"))
	assert.Equal(t, []string{"b"}, listAll(t, c, ListOptions{Prefix: "x/y/", Delimiter: "/"}, 4))
	assert.Equal(t, []string{"x/"}, listAll(t, c, ListOptions{Delimiter: "/"}, 4))
}

func TestWritePrometheus(t *testing.T) {
	inst, c := openTest(t, testConfig(), nil)
	mustStore(t, c, "k")
	_, err := c.Retrieve("k", make([]byte, 16))
	require.NoError(t, err)
	_, err = c.Retrieve("missing", make([]byte, 16))
	require.True(t, IsNotFound(err))

	var buf bytes.Buffer
	inst.WritePrometheus(&buf)
	out := buf.String()

	assert.Contains(t, out, `nkv_ops_total{container="c",path="p0",op="store"} 1`)
	assert.Contains(t, out, `nkv_ops_total{container="c",path="p0",op="retrieve"} 2`)
	assert.Contains(t, out, `nkv_cache_hits_total{container="c",path="p0"} 1`)
	assert.NotContains(t, out, `nkv_errors_total{container="c",path="p0",op="retrieve"}`, "a miss is not an error")
	assert.Contains(t, out, `nkv_index_children{container="c",path="p0"}`)
}

func TestStats(t *testing.T) {
	registry := gometrics.NewRegistry()
	inst, c := openTest(t, testConfig(), nil, WithRegistry(registry))
	mustStore(t, c, "a/b", "a/c")

	stats := inst.Stats()
	require.Len(t, stats, 1)
	st := stats[0]
	assert.Equal(t, "c", st.Container)
	assert.Equal(t, "p0", st.Address)
	assert.True(t, st.IndexReady)
	require.NotNil(t, st.Index)
	assert.Equal(t, 3, st.Index.Children)
	require.NotNil(t, st.Cache)
	assert.Equal(t, 2, st.Cache.Entries)
	assert.Equal(t, int64(2), st.Latency[opStore].Count)
	assert.Contains(t, st.String(), "C/p0")

	assert.NotNil(t, registry.Get("c.p0.store"))
}
