package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameHeaderSize is the size of a frame header:
// target id (8 bytes) | request id (8 bytes) | payload length (4 bytes), all big endian
const frameHeaderSize = 20

// maxFrameSize bounds the payload of a single frame
const maxFrameSize = 1 << 30

type frameHeader struct {
	targetID  uint64
	requestID uint64
	length    uint32
}

func (h frameHeader) encode() []byte {
	b := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(b[0:8], h.targetID)
	binary.BigEndian.PutUint64(b[8:16], h.requestID)
	binary.BigEndian.PutUint32(b[16:20], h.length)
	return b
}

func decodeFrameHeader(b []byte) frameHeader {
	return frameHeader{
		targetID:  binary.BigEndian.Uint64(b[0:8]),
		requestID: binary.BigEndian.Uint64(b[8:16]),
		length:    binary.BigEndian.Uint32(b[16:20]),
	}
}

// writeFrame writes header and payload with a single vectored write
func writeFrame(conn net.Conn, targetID, requestID uint64, data []byte) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", len(data), maxFrameSize)
	}
	h := frameHeader{targetID: targetID, requestID: requestID, length: uint32(len(data))}
	bufs := net.Buffers{h.encode(), data}
	_, err := bufs.WriteTo(conn)
	return err
}

// readFrame reads one frame. The payload is read into buf if it is large enough,
// otherwise a new slice is allocated.
func readFrame(r io.Reader, buf []byte) (frameHeader, []byte, error) {
	var hb [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hb[:]); err != nil {
		return frameHeader{}, nil, err
	}
	h := decodeFrameHeader(hb[:])
	if h.length > maxFrameSize {
		return h, nil, fmt.Errorf("frame of %d bytes exceeds the limit of %d bytes", h.length, maxFrameSize)
	}
	if int(h.length) > len(buf) {
		buf = make([]byte, h.length)
	}
	payload := buf[:h.length]
	if _, err := io.ReadFull(r, payload); err != nil {
		return h, nil, err
	}
	return h, payload, nil
}
