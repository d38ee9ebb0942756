package device

import (
	"encoding/binary"
	"fmt"
)

// recordHeaderSize is the size of the length prefix in front of every key record
const recordHeaderSize = 4

// Batch is the result of a single IterateNext call.
// Data holds Count key records, each encoded as a 4 byte little endian key length followed by the key bytes.
type Batch struct {
	Data  []byte
	Count int
	End   bool // the iterator is exhausted after this batch
}

// RecordSize returns the number of bytes a key occupies inside a batch
func RecordSize(key string) int {
	return recordHeaderSize + len(key)
}

// AppendRecord appends a single key record to buf and returns the extended slice
func AppendRecord(buf []byte, key string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(key)))
	return append(buf, key...)
}

// Keys decodes all records of the batch
func (b Batch) Keys() ([]string, error) {
	keys := make([]string, 0, b.Count)
	err := b.Each(func(key string) bool {
		keys = append(keys, key)
		return true
	})
	return keys, err
}

// Each calls fn for every record of the batch until fn returns false.
// A truncated record is reported as an error.
func (b Batch) Each(fn func(key string) bool) error {
	data := b.Data
	for i := 0; i < b.Count; i++ {
		if len(data) < recordHeaderSize {
			return fmt.Errorf("batch truncated at record %d of %d", i, b.Count)
		}
		keyLen := int(binary.LittleEndian.Uint32(data[:recordHeaderSize]))
		data = data[recordHeaderSize:]
		if len(data) < keyLen {
			return fmt.Errorf("batch record %d truncated: need %d bytes, have %d", i, keyLen, len(data))
		}
		if !fn(string(data[:keyLen])) {
			return nil
		}
		data = data[keyLen:]
	}
	return nil
}
