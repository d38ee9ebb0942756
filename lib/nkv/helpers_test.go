package nkv

import (
	"fmt"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/engines/memdev"
	"github.com/stretchr/testify/require"
)

// testConfig returns a config with one container "c" and the given path addresses
func testConfig(addresses ...string) Config {
	if len(addresses) == 0 {
		addresses = []string{"p0"}
	}
	cfg := DefaultConfig()
	cfg.NumListingShards = 8
	cfg.NumCacheShards = 4
	cfg.CacheCapacity = 64
	cfg.ListBatchSize = 4
	cc := ContainerConfig{Name: "c"}
	for _, a := range addresses {
		cc.Paths = append(cc.Paths, PathConfig{Address: a, Kind: PathKindMemdev})
	}
	cfg.Containers = []ContainerConfig{cc}
	return cfg
}

// deviceOpener hands out prepared devices by path address and falls back to fresh memdevs
type deviceOpener struct {
	devices map[string]device.IDevice
}

func (o *deviceOpener) open(_ ContainerConfig, p PathConfig) (device.IDevice, error) {
	if dev, ok := o.devices[p.Address]; ok {
		return dev, nil
	}
	return memdev.NewMemDevice(&memdev.Options{NumShards: 4})
}

func openTest(t *testing.T, cfg Config, devices map[string]device.IDevice, opts ...OpenOption) (*Instance, *Container) {
	t.Helper()
	o := &deviceOpener{devices: devices}
	inst, err := Open(cfg, o.open, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = inst.Close() })

	c, err := inst.Container("c")
	require.NoError(t, err)
	return inst, c
}

// listAll lists with pages of pageSize slots of 64 bytes
func listAll(t *testing.T, c *Container, opts ListOptions, pageSize int) []string {
	t.Helper()
	keys, err := c.ListAll(opts, pageSize, 64)
	require.NoError(t, err)
	return keys
}

func sorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	return out
}

func mustStore(t *testing.T, c *Container, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.NoError(t, c.Store(k, []byte("value-of-"+k), StoreOptions{}))
	}
}

// prefilledDevice returns a memdev holding n keys built by format
func prefilledDevice(t *testing.T, n int, format string) device.IDevice {
	t.Helper()
	dev := memdev.MustNewMemDevice(&memdev.Options{NumShards: 4})
	for i := 0; i < n; i++ {
		require.NoError(t, dev.Store(fmt.Sprintf(format, i), []byte("v"), device.StoreOptions{}))
	}
	return dev
}

// --------------------------------------------------------------------------
// Fake devices
// --------------------------------------------------------------------------

// countingDevice counts device calls
type countingDevice struct {
	device.IDevice
	retrieves atomic.Int64
	lists     atomic.Int64
}

func (d *countingDevice) Retrieve(key string, buf []byte) (int, error) {
	d.retrieves.Add(1)
	return d.IDevice.Retrieve(key, buf)
}

func (d *countingDevice) ListRange(prefix, startAfter string, max int) ([]string, bool, error) {
	d.lists.Add(1)
	return d.IDevice.ListRange(prefix, startAfter, max)
}

// zeroLengthDevice reports success with length zero for the first `zeros` retrieves
type zeroLengthDevice struct {
	device.IDevice
	zeros atomic.Int64
	calls atomic.Int64
}

func (d *zeroLengthDevice) Retrieve(key string, buf []byte) (int, error) {
	d.calls.Add(1)
	if d.zeros.Add(-1) >= 0 {
		return 0, nil
	}
	return d.IDevice.Retrieve(key, buf)
}

// failingDevice fails every call with the given status
type failingDevice struct {
	device.IDevice
	status device.Status
}

func (d *failingDevice) Store(string, []byte, device.StoreOptions) error {
	return device.NewError(d.status, "injected")
}

func (d *failingDevice) Retrieve(string, []byte) (int, error) {
	return 0, device.NewError(d.status, "injected")
}

func (d *failingDevice) ListRange(string, string, int) ([]string, bool, error) {
	return nil, false, device.NewError(d.status, "injected")
}

// hookDevice runs a hook once right after a device call returned, while the dispatcher has not
// seen the result yet
type hookDevice struct {
	device.IDevice
	afterRetrieve func(key string)
	afterStore    func(key string)
}

func (d *hookDevice) Retrieve(key string, buf []byte) (int, error) {
	n, err := d.IDevice.Retrieve(key, buf)
	if hook := d.afterRetrieve; hook != nil {
		d.afterRetrieve = nil
		hook(key)
	}
	return n, err
}

func (d *hookDevice) Store(key string, value []byte, opts device.StoreOptions) error {
	err := d.IDevice.Store(key, value, opts)
	if hook := d.afterStore; hook != nil {
		d.afterStore = nil
		hook(key)
	}
	return err
}

// concurrently runs fn in another goroutine and waits for it
func concurrently(t *testing.T, fn func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	require.NoError(t, <-done)
}
