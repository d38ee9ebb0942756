package base

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unixConnector is a minimal connector for both sides
type unixConnector struct{}

func (unixConnector) GetName() string { return "unix-test" }

func (unixConnector) Connect(endpoint string) (net.Conn, error) { return net.Dial("unix", endpoint) }

func (unixConnector) Listen(endpoint string) (net.Listener, error) { return net.Listen("unix", endpoint) }

func (unixConnector) UpgradeConnection(net.Conn, common.ClientTransportConfig) error { return nil }

type unixServerConnector struct{ unixConnector }

func (unixServerConnector) UpgradeConnection(net.Conn, common.ServerTransportConfig) error { return nil }

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		_ = writeFrame(client, 42, 7, []byte("hello"))
		_ = writeFrame(client, 1, 2, nil)
	}()

	h, data, err := readFrame(server, make([]byte, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), h.targetID)
	assert.Equal(t, uint64(7), h.requestID)
	assert.Equal(t, "hello", string(data))

	h, data, err = readFrame(server, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), h.targetID)
	assert.Empty(t, data)

	// a header announcing an oversized payload is rejected before reading it
	hdr := frameHeader{targetID: 1, requestID: 1}.encode()
	binary.BigEndian.PutUint32(hdr[16:20], maxFrameSize+1)
	buf.Write(hdr)
	_, _, err = readFrame(&buf, nil)
	assert.Error(t, err)
}

func startEchoServer(t *testing.T, workers int) string {
	socket := filepath.Join(t.TempDir(), "base.sock")
	srv := NewBaseServerTransport(unixServerConnector{}, 64)
	srv.RegisterHandler(func(targetID uint64, req []byte) []byte {
		// later requests answer first, so responses arrive out of order
		if bytes.HasPrefix(req, []byte("slow")) {
			time.Sleep(50 * time.Millisecond)
		}
		return []byte(fmt.Sprintf("%d:%s", targetID, req))
	})

	done := make(chan error, 1)
	go func() {
		done <- srv.Listen(common.ServerConfig{Transport: common.ServerTransportConfig{Endpoint: socket, WorkersPerConn: workers}})
	}()
	t.Cleanup(func() {
		require.NoError(t, srv.Shutdown())
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return socket
}

func connect(t *testing.T, socket string, conns int) *clientTransport {
	c := NewBaseClientTransport(unixConnector{}).(*clientTransport)
	cfg := common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{socket}, ConnectionsPerEndpoint: conns, RetryCount: 1},
	}
	require.Eventually(t, func() bool { return c.Connect(cfg) == nil }, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMultiplexedRequests(t *testing.T) {
	socket := startEchoServer(t, 16)
	c := connect(t, socket, 2)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := fmt.Sprintf("req-%d", i)
			if i%4 == 0 {
				payload = "slow-" + payload
			}
			resp, err := c.Send(uint64(i), []byte(payload))
			if assert.NoError(t, err) {
				assert.Equal(t, fmt.Sprintf("%d:%s", i, payload), string(resp))
			}
		}(i)
	}
	wg.Wait()
}

func TestLargePayloadExceedsPoolBuffer(t *testing.T) {
	socket := startEchoServer(t, 1)
	c := connect(t, socket, 1)

	payload := bytes.Repeat([]byte("x"), 10_000) // pool buffers are 64 bytes
	resp, err := c.Send(3, payload)
	require.NoError(t, err)
	assert.Equal(t, "3:"+string(payload), string(resp))
}

func TestSendAfterClose(t *testing.T) {
	socket := startEchoServer(t, 1)
	c := connect(t, socket, 1)
	require.NoError(t, c.Close())

	_, err := c.Send(1, []byte("x"))
	assert.ErrorIs(t, err, errTransportClosed)
	assert.NoError(t, c.Close())
}

func TestReconnectAfterServerRestart(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "restart.sock")
	handler := func(targetID uint64, req []byte) []byte { return req }
	listen := func() (*serverTransport, chan error) {
		srv := NewBaseServerTransport(unixServerConnector{}, 64).(*serverTransport)
		srv.RegisterHandler(handler)
		done := make(chan error, 1)
		go func() {
			done <- srv.Listen(common.ServerConfig{Transport: common.ServerTransportConfig{Endpoint: socket}})
		}()
		return srv, done
	}

	first, firstDone := listen()
	c := connect(t, socket, 1)
	resp, err := c.Send(1, []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, "a", string(resp))

	require.NoError(t, first.Shutdown())
	require.NoError(t, <-firstDone)

	second, secondDone := listen()
	defer func() {
		_ = second.Shutdown()
		<-secondDone
	}()

	// the broken link is dropped and dialed again
	require.Eventually(t, func() bool {
		resp, err := c.Send(1, []byte("b"))
		return err == nil && string(resp) == "b"
	}, 5*time.Second, 20*time.Millisecond)
}
