package base

import (
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/nkv/rpc/common"
	"github.com/ValentinKolb/nkv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("transport/rpc")

var (
	errTransportClosed = errors.New("transport is closed")
	errRequestTimeout  = errors.New("request timed out")
)

// -----------------------------------------------------------
// Interface Definitions for dependency injection
// -----------------------------------------------------------

// IClientConnector defines the interface for transport-specific connection operations
type IClientConnector interface {
	// Connect establishes a single connection to the endpoint
	Connect(endpoint string) (net.Conn, error)

	// GetName returns the name of the transport type (e.g., "unix", "tcp")
	GetName() string

	// UpgradeConnection applies protocol-specific settings to an established connection
	UpgradeConnection(conn net.Conn, config common.ClientTransportConfig) error
}

// -----------------------------------------------------------
// Helper Types
// -----------------------------------------------------------

// responseResult contains the result of a request
type responseResult struct {
	data []byte
	err  error
}

// link is one established net connection together with the requests waiting for a response on it
type link struct {
	conn    net.Conn
	pending *xsync.MapOf[uint64, chan responseResult]
}

// fail delivers err to all waiting requests
func (l *link) fail(err error) {
	l.pending.Range(func(id uint64, _ chan responseResult) bool {
		if ch, ok := l.pending.LoadAndDelete(id); ok {
			ch <- responseResult{err: err}
		}
		return true
	})
}

// clientConnection is a slot for one connection to an endpoint. A broken link is replaced on the next send.
type clientConnection struct {
	endpoint string
	parent   *clientTransport

	mu   sync.Mutex // protects link and serializes writes
	link *link
}

// clientTransport implements the core client transport functionality
// independent of the specific transport medium (unix, tcp, etc.)
type clientTransport struct {
	connector     IClientConnector
	config        common.ClientConfig
	connections   []*clientConnection
	nextConnIndex atomic.Uint64
	nextRequestID atomic.Uint64
	closed        atomic.Bool
}

// -----------------------------------------------------------
// Transport Factory Method (used for tcp, unix, etc.)
// -----------------------------------------------------------

// NewBaseClientTransport creates a new base client transport with the specified connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	if len(config.Transport.Endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}
	if len(t.connections) > 0 {
		return fmt.Errorf("transport is already connected")
	}
	t.config = config

	perEndpoint := max(1, config.Transport.ConnectionsPerEndpoint)
	connected := 0
	for _, endpoint := range config.Transport.Endpoints {
		for i := 0; i < perEndpoint; i++ {
			c := &clientConnection{endpoint: endpoint, parent: t}
			if _, err := c.current(); err != nil {
				// the slot stays and is dialed again on the next send
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, perEndpoint, err)
			} else {
				connected++
			}
			t.connections = append(t.connections, c)
		}
	}

	if connected == 0 {
		t.connections = nil
		return fmt.Errorf("failed to connect to any endpoint")
	}

	Logger.Infof("Connected %d out of %d connections to %d endpoints using %s transport",
		connected, len(t.connections), len(config.Transport.Endpoints), t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(targetID uint64, req []byte) ([]byte, error) {
	if t.closed.Load() {
		return nil, errTransportClosed
	}
	if len(t.connections) == 0 {
		return nil, fmt.Errorf("transport is not connected")
	}

	attempts := max(1, t.config.Transport.RetryCount)
	backoff := 50 * time.Millisecond
	var lastErr error

	for i := 0; i < attempts; i++ {
		conn := t.getNextConnection()
		data, err := conn.roundTrip(targetID, t.nextRequestID.Add(1), req)
		if err == nil {
			return data, nil
		}
		if errors.Is(err, errTransportClosed) {
			return nil, err
		}
		lastErr = err
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, attempts, err)

		if i+1 < attempts {
			// exponential backoff with +-10% jitter
			jitter := 0.9 + 0.2*rand.Float64()
			time.Sleep(time.Duration(float64(backoff) * jitter))
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("failed to send request after %d attempts: %w", attempts, lastErr)
}

func (t *clientTransport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// getNextConnection selects the next connection via Round Robin
func (t *clientTransport) getNextConnection() *clientConnection {
	if len(t.connections) == 1 {
		return t.connections[0]
	}
	return t.connections[t.nextConnIndex.Add(1)%uint64(len(t.connections))]
}

// closeConnections closes all links. Waiting requests fail with errTransportClosed.
func (t *clientTransport) closeConnections() {
	for _, c := range t.connections {
		c.mu.Lock()
		if l := c.link; l != nil {
			c.link = nil
			_ = l.conn.Close()
			l.fail(errTransportClosed)
		}
		c.mu.Unlock()
	}
}

func (t *clientTransport) timeout() time.Duration {
	return time.Duration(t.config.TimeoutSecond) * time.Second
}

// current returns the established link, dialing a new one if there is none
func (c *clientConnection) current() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentLocked()
}

func (c *clientConnection) currentLocked() (*link, error) {
	if c.parent.closed.Load() {
		return nil, errTransportClosed
	}
	if c.link != nil {
		return c.link, nil
	}

	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %v", c.endpoint, err)
	}
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config.Transport); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %v", c.endpoint, err)
	}

	l := &link{conn: conn, pending: xsync.NewMapOf[uint64, chan responseResult]()}
	c.link = l
	go c.readResponses(l)
	return l, nil
}

// drop removes l if it is still the current link and fails its waiting requests
func (c *clientConnection) drop(l *link, err error) {
	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()
	_ = l.conn.Close()
	l.fail(err)
}

// roundTrip writes one request and waits for the matching response
func (c *clientConnection) roundTrip(targetID, requestID uint64, req []byte) ([]byte, error) {
	respCh := make(chan responseResult, 1)
	timeout := c.parent.timeout()

	c.mu.Lock()
	l, err := c.currentLocked()
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	l.pending.Store(requestID, respCh)
	if timeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	err = writeFrame(l.conn, targetID, requestID, req)
	c.mu.Unlock()

	if err != nil {
		l.pending.Delete(requestID)
		c.drop(l, fmt.Errorf("connection to %s failed: %v", c.endpoint, err))
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-timeoutCh:
		l.pending.Delete(requestID)
		return nil, errRequestTimeout
	}
}

// readResponses distributes the responses of one link until it breaks
func (c *clientConnection) readResponses(l *link) {
	for {
		h, data, err := readFrame(l.conn, nil)
		if err != nil {
			if !c.parent.closed.Load() {
				Logger.Warningf("Connection to %s lost: %v", c.endpoint, err)
			}
			c.drop(l, fmt.Errorf("error reading response: %v", err))
			return
		}

		if respCh, found := l.pending.LoadAndDelete(h.requestID); found {
			respCh <- responseResult{data: data}
		} else {
			Logger.Warningf("Received response for unknown request ID %d with target ID %d", h.requestID, h.targetID)
		}
	}
}
