package nkv

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAsyncSubmissionOrder(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)
	p := c.Paths()[0]

	const n = 200
	var (
		mu      sync.Mutex
		results []Result
		wg      sync.WaitGroup
	)
	collect := func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
		wg.Done()
	}

	wg.Add(n + 3)
	for i := 0; i < n; i++ {
		require.NoError(t, p.StoreAsync(fmt.Sprintf("a/k%03d", i), []byte(fmt.Sprintf("v%d", i)), StoreOptions{}, collect))
	}
	buf := make([]byte, 16)
	require.NoError(t, p.RetrieveAsync("a/k007", buf, collect))
	require.NoError(t, p.DeleteAsync("a/k007", collect))
	require.NoError(t, p.ExistsAsync("a/k007", collect))
	wg.Wait()

	require.Len(t, results, n+3)
	for i := 0; i < n; i++ {
		assert.Equal(t, opStore, results[i].Op)
		assert.Equal(t, fmt.Sprintf("a/k%03d", i), results[i].Key)
		assert.NoError(t, results[i].Err)
	}

	get := results[n]
	require.NoError(t, get.Err)
	assert.Equal(t, "v7", string(buf[:get.N]))

	assert.Equal(t, opDelete, results[n+1].Op)
	assert.NoError(t, results[n+1].Err)

	assert.Equal(t, opExists, results[n+2].Op)
	assert.False(t, results[n+2].Ok)
	assert.Zero(t, p.Pending())
}

func TestAsyncValueIsCopied(t *testing.T) {
	_, c := openTest(t, testConfig(), nil)
	p := c.Paths()[0]

	done := make(chan Result, 1)
	value := []byte("original")
	require.NoError(t, p.StoreAsync("k", value, StoreOptions{}, func(r Result) { done <- r }))
	copy(value, "modified")
	require.NoError(t, (<-done).Err)

	buf := make([]byte, 16)
	n, err := p.Retrieve("k", buf)
	require.NoError(t, err)
	assert.Equal(t, "original", string(buf[:n]))
}

func TestAsyncQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.AsyncQueueDepth = 1
	_, c := openTest(t, cfg, nil)
	p := c.Paths()[0]

	running := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, p.ExistsAsync("k", func(Result) {
		close(running)
		<-release
	}))
	<-running

	// the first operation is done and blocks in its callback, one more fits
	require.NoError(t, p.ExistsAsync("k", nil))
	assert.ErrorIs(t, p.ExistsAsync("k", nil), ErrQueueFull)
	close(release)
}

func TestAsyncDrainedOnClose(t *testing.T) {
	inst, c := openTest(t, testConfig(), nil)
	p := c.Paths()[0]

	var mu sync.Mutex
	completed := 0
	for i := 0; i < 50; i++ {
		require.NoError(t, p.StoreAsync(fmt.Sprintf("k%d", i), []byte("v"), StoreOptions{}, func(Result) {
			mu.Lock()
			completed++
			mu.Unlock()
		}))
	}
	require.NoError(t, inst.Close())

	mu.Lock()
	assert.Equal(t, 50, completed)
	mu.Unlock()
	assert.ErrorIs(t, p.StoreAsync("late", []byte("v"), StoreOptions{}, nil), ErrNotOpen)
}
