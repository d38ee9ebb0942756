package base

import (
	"net"
	"time"

	"github.com/ValentinKolb/nkv/rpc/common"
)

// ApplySocketOptions applies buffer sizes and, for TCP connections, the TCP options.
// Connections of other types only get the buffer sizes (if supported).
func ApplySocketOptions(conn net.Conn, sock common.SocketConf, tcp *common.TCPConf) error {
	type bufferSetter interface {
		SetReadBuffer(bytes int) error
		SetWriteBuffer(bytes int) error
	}
	if bs, ok := conn.(bufferSetter); ok {
		if sock.WriteBufferSize > 0 {
			if err := bs.SetWriteBuffer(sock.WriteBufferSize); err != nil {
				return err
			}
		}
		if sock.ReadBufferSize > 0 {
			if err := bs.SetReadBuffer(sock.ReadBufferSize); err != nil {
				return err
			}
		}
	}

	tcpConn, ok := conn.(*net.TCPConn)
	if !ok || tcp == nil {
		return nil
	}
	if err := tcpConn.SetNoDelay(tcp.TCPNoDelay); err != nil {
		return err
	}
	if tcp.TCPKeepAliveSec > 0 {
		if err := tcpConn.SetKeepAlive(true); err != nil {
			return err
		}
		if err := tcpConn.SetKeepAlivePeriod(time.Duration(tcp.TCPKeepAliveSec) * time.Second); err != nil {
			return err
		}
	}
	if tcp.TCPLingerSec >= 0 {
		if err := tcpConn.SetLinger(tcp.TCPLingerSec); err != nil {
			return err
		}
	}
	return nil
}
