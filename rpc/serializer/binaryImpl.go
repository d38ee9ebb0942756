package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/nkv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format.
//
// Layout: MsgType (1 byte) | flags (2 bytes, big endian) | present fields in flag order.
// Strings and byte slices are length prefixed with 4 bytes, Keys with a 4 byte count.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasKey        uint16 = 1 << 0
	hasStartAfter uint16 = 1 << 1
	hasValue      uint16 = 1 << 2
	hasSize       uint16 = 1 << 3
	hasKeys       uint16 = 1 << 4
	hasOk         uint16 = 1 << 5
	hasStatus     uint16 = 1 << 6
	hasErr        uint16 = 1 << 7
	hasMeta       uint16 = 1 << 8
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Name() string { return "binary" }

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	out := make([]byte, headerSize, b.sizeBytes(msg))
	out[0] = byte(msg.MsgType)

	var flags uint16
	if msg.Key != "" {
		flags |= hasKey
		out = appendString(out, msg.Key)
	}
	if msg.StartAfter != "" {
		flags |= hasStartAfter
		out = appendString(out, msg.StartAfter)
	}
	if msg.Value != nil {
		flags |= hasValue
		out = appendBytes(out, msg.Value)
	}
	if msg.Size > 0 {
		flags |= hasSize
		out = binary.BigEndian.AppendUint64(out, msg.Size)
	}
	if msg.Keys != nil {
		flags |= hasKeys
		out = binary.BigEndian.AppendUint32(out, uint32(len(msg.Keys)))
		for _, k := range msg.Keys {
			out = appendString(out, k)
		}
	}
	if msg.Ok {
		flags |= hasOk
	}
	if msg.Status != 0 {
		flags |= hasStatus
		out = binary.BigEndian.AppendUint32(out, msg.Status)
	}
	if msg.Err != "" {
		flags |= hasErr
		out = appendString(out, msg.Err)
	}
	if msg.Meta != nil {
		flags |= hasMeta
		out = appendBytes(out, msg.Meta)
	}

	binary.BigEndian.PutUint16(out[1:3], flags)
	return out, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}
	*msg = common.Message{MsgType: common.MessageType(data[0])}
	flags := binary.BigEndian.Uint16(data[1:3])
	r := reader{data: data, pos: headerSize}

	if flags&hasKey != 0 {
		msg.Key = r.string("key")
	}
	if flags&hasStartAfter != 0 {
		msg.StartAfter = r.string("start after")
	}
	if flags&hasValue != 0 {
		msg.Value = r.bytes("value")
	}
	if flags&hasSize != 0 {
		msg.Size = r.uint64("size")
	}
	if flags&hasKeys != 0 {
		n := r.uint32("key count")
		if r.err == nil && int(n) > len(data)/4 {
			r.err = fmt.Errorf("data too short for %d keys", n)
		}
		if r.err == nil {
			msg.Keys = make([]string, 0, n)
			for i := uint32(0); i < n && r.err == nil; i++ {
				msg.Keys = append(msg.Keys, r.string("keys"))
			}
		}
	}
	msg.Ok = flags&hasOk != 0
	if flags&hasStatus != 0 {
		msg.Status = r.uint32("status")
	}
	if flags&hasErr != 0 {
		msg.Err = r.string("error")
	}
	if flags&hasMeta != 0 {
		msg.Meta = r.bytes("meta")
	}
	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// sizeBytes calculates the total size needed for serialization
func (b binarySerializerImpl) sizeBytes(msg common.Message) int {
	size := headerSize
	if msg.Key != "" {
		size += 4 + len(msg.Key)
	}
	if msg.StartAfter != "" {
		size += 4 + len(msg.StartAfter)
	}
	if msg.Value != nil {
		size += 4 + len(msg.Value)
	}
	if msg.Size > 0 {
		size += 8
	}
	if msg.Keys != nil {
		size += 4
		for _, k := range msg.Keys {
			size += 4 + len(k)
		}
	}
	if msg.Status != 0 {
		size += 4
	}
	if msg.Err != "" {
		size += 4 + len(msg.Err)
	}
	if msg.Meta != nil {
		size += 4 + len(msg.Meta)
	}
	return size
}

func appendString(out []byte, s string) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(s)))
	return append(out, s...)
}

func appendBytes(out, p []byte) []byte {
	out = binary.BigEndian.AppendUint32(out, uint32(len(p)))
	return append(out, p...)
}

// reader decodes fields sequentially. After the first error all reads return zero values.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) take(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return nil
	}
	p := r.data[r.pos : r.pos+n]
	r.pos += n
	return p
}

func (r *reader) uint32(field string) uint32 {
	p := r.take(4, field)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint32(p)
}

func (r *reader) uint64(field string) uint64 {
	p := r.take(8, field)
	if p == nil {
		return 0
	}
	return binary.BigEndian.Uint64(p)
}

// bytes returns a copy, so the message never aliases the transport buffer
func (r *reader) bytes(field string) []byte {
	n := r.uint32(field + " length")
	p := r.take(int(n), field)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

func (r *reader) string(field string) string {
	n := r.uint32(field + " length")
	return string(r.take(int(n), field))
}
