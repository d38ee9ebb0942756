package lockmgr

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultNamespace is the key prefix under which lock records are stored
const DefaultNamespace = ".nkv.sys/lock/"

const (
	ownerIDLength = 16
	recordLength  = ownerIDLength + 8
)

// generateOwnerID creates a new unique owner ID (random uuid, 16 bytes)
func generateOwnerID() ([]byte, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, err
	}
	return id[:], nil
}

// lockRecord is the value stored for a held lock.
// expiresAt is the zero time for locks without timeout.
type lockRecord struct {
	owner     []byte
	expiresAt time.Time
}

// encode layout: 16 byte owner id + 8 byte big endian unix nano expiry (0 = never)
func (r lockRecord) encode() []byte {
	buf := make([]byte, 0, recordLength)
	buf = append(buf, r.owner...)
	var exp int64
	if !r.expiresAt.IsZero() {
		exp = r.expiresAt.UnixNano()
	}
	return binary.BigEndian.AppendUint64(buf, uint64(exp))
}

func decodeRecord(data []byte) (lockRecord, error) {
	if len(data) != recordLength {
		return lockRecord{}, fmt.Errorf("lock record has %d bytes, expected %d", len(data), recordLength)
	}
	r := lockRecord{owner: append([]byte(nil), data[:ownerIDLength]...)}
	if exp := int64(binary.BigEndian.Uint64(data[ownerIDLength:])); exp != 0 {
		r.expiresAt = time.Unix(0, exp)
	}
	return r, nil
}

func (r lockRecord) expired(now time.Time) bool {
	return !r.expiresAt.IsZero() && !now.Before(r.expiresAt)
}

// OwnerString formats an owner id for humans (uuid notation)
func OwnerString(ownerID []byte) string {
	id, err := uuid.FromBytes(ownerID)
	if err != nil {
		return fmt.Sprintf("%x", ownerID)
	}
	return id.String()
}

// ParseOwner is the inverse of OwnerString
func ParseOwner(s string) ([]byte, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return id[:], nil
}
