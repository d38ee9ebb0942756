package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/nkv/lib/device"
	"github.com/ValentinKolb/nkv/lib/device/engines/memdev"
	"github.com/ValentinKolb/nkv/lib/nkv"
	"github.com/ValentinKolb/nkv/rpc/client"
	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/ValentinKolb/nkv/rpc/server"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
}

// startServer serves one memdev target with id 1 on a unix socket and returns the socket path
func startServer(t *testing.T) string {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "nkv.sock")

	tr, err := client.NewServerTransport("unix")
	require.NoError(t, err)
	ser, err := client.NewSerializer("binary")
	require.NoError(t, err)

	srv := server.NewRPCServer(common.ServerConfig{
		TimeoutSecond: 5,
		Transport:     common.ServerTransportConfig{Endpoint: socket},
	}, tr, ser)
	require.NoError(t, srv.RegisterTarget(1, memdev.MustNewMemDevice(nil)))

	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()
	t.Cleanup(func() {
		require.NoError(t, srv.Shutdown())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})

	require.Eventually(t, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	return socket
}

func TestWrapString(t *testing.T) {
	text := strings.Repeat("word ", 30)
	for _, line := range strings.Split(WrapString(text), "\n") {
		assert.LessOrEqual(t, len(line), Wrap)
	}
	assert.Equal(t, "short text", WrapString("  short   text "))
	assert.Equal(t, "", WrapString(""))
}

func TestGetClientConfig(t *testing.T) {
	resetViper(t)
	viper.Set("timeout", 7)
	viper.Set("transport-retries", 2)
	viper.Set("transport-write-buffer", 4)
	viper.Set("transport-read-buffer", 8)
	viper.Set("transport-tcp-linger", -1)

	cfg := GetClientConfig()
	assert.Equal(t, 7, cfg.TimeoutSecond)
	assert.Equal(t, 2, cfg.Transport.RetryCount)
	assert.Equal(t, 4096, cfg.Transport.WriteBufferSize)
	assert.Equal(t, 8192, cfg.Transport.ReadBufferSize)
	assert.Equal(t, -1, cfg.Transport.TCPLingerSec)
	assert.Empty(t, cfg.Transport.Endpoints)
}

func TestLoadInstanceConfigWithoutFile(t *testing.T) {
	resetViper(t)
	viper.Set("endpoint", "/tmp/nkv.sock")
	viper.Set("transport", "unix")
	viper.Set("serializer", "gob")
	viper.Set("target", 7)

	cfg, err := LoadInstanceConfig()
	require.NoError(t, err)
	require.Len(t, cfg.Containers, 1)
	assert.Equal(t, DefaultContainer, cfg.Containers[0].Name)

	require.Len(t, cfg.Containers[0].Paths, 1)
	p := cfg.Containers[0].Paths[0]
	assert.True(t, p.Remote())
	assert.Equal(t, "/tmp/nkv.sock", p.Endpoint)
	assert.Equal(t, "unix", p.Transport)
	assert.Equal(t, "gob", p.Serializer)
	assert.Equal(t, uint64(7), p.TargetID)
}

func TestLoadInstanceConfigFromFile(t *testing.T) {
	resetViper(t)
	path := filepath.Join(t.TempDir(), "nkv.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
cache_capacity: 16
containers:
  - name: photos
    paths:
      - address: a
      - address: b
`), 0o644))
	viper.Set("config", path)
	viper.Set("log-level", "debug")

	cfg, err := LoadInstanceConfig()
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.CacheCapacity)
	assert.Equal(t, "debug", cfg.LogLevel)
	require.Len(t, cfg.Containers, 1)
	assert.Equal(t, "photos", cfg.Containers[0].Name)
	assert.Equal(t, nkv.PathKindMemdev, cfg.Containers[0].Paths[1].Kind)

	viper.Set("config", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err = LoadInstanceConfig()
	assert.Error(t, err)
}

func TestRemoteOpenerRejectsUnknownTransport(t *testing.T) {
	opener := RemoteOpener(common.ClientConfig{}, "carrier-pigeon", "binary")
	_, err := opener(nkv.ContainerConfig{Name: "c"}, nkv.PathConfig{Address: "r", Kind: nkv.PathKindRemote, Endpoint: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "c/r")
}

func TestRemoteOpenerMixedContainer(t *testing.T) {
	socket := startServer(t)

	cfg := nkv.DefaultConfig()
	cfg.Containers = []nkv.ContainerConfig{{
		Name: "mixed",
		Paths: []nkv.PathConfig{
			{Address: "local", Kind: nkv.PathKindMemdev},
			{Address: "remote", Kind: nkv.PathKindRemote, Endpoint: socket, Transport: "unix", TargetID: 1},
		},
	}}

	clientCfg := common.ClientConfig{TimeoutSecond: 5, Transport: common.ClientTransportConfig{RetryCount: 1}}
	inst, err := nkv.Open(cfg, RemoteOpener(clientCfg, "tcp", "binary"))
	require.NoError(t, err)
	defer inst.Close()

	c, err := inst.Container("mixed")
	require.NoError(t, err)

	paths := c.Paths()
	require.Len(t, paths, 2)
	assert.True(t, paths[0].HasIndex())
	assert.False(t, paths[1].HasIndex())

	keys := []string{"a/1", "a/2", "b/1", "c", "d/e/f"}
	for _, k := range keys {
		require.NoError(t, c.Store(k, []byte("v-"+k), nkv.StoreOptions{}))
	}

	buf := make([]byte, 16)
	for _, k := range keys {
		n, err := c.Retrieve(k, buf)
		require.NoError(t, err)
		assert.Equal(t, "v-"+k, string(buf[:n]))
	}

	listed, err := c.ListAll(nkv.ListOptions{}, 2, 32)
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, listed)

	// the remote path reports itself through GetInfo
	info, err := paths[1].Device().GetInfo()
	require.NoError(t, err)
	assert.Equal(t, device.ImplRemote, info.DeviceType)
}
