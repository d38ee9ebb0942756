package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/nkv/lib/device"
)

// CommandType defines the write operations of the replicated state machine.
type CommandType uint8

const (
	CommandTStore  CommandType = iota // Insert or overwrite an entry.
	CommandTDelete                    // Delete an entry.
)

func (ct CommandType) String() string {
	switch ct {
	case CommandTStore:
		return "Store"
	case CommandTDelete:
		return "Delete"
	default:
		return fmt.Sprintf("Unknown(%d)", ct)
	}
}

// ToFeature returns the device feature a command requires.
func (ct CommandType) ToFeature(flags CommandFlags) (device.Feature, error) {
	switch ct {
	case CommandTStore:
		if flags&FlagIdempotent != 0 {
			return device.FeatureStore | device.FeatureStoreIfAbsent, nil
		}
		return device.FeatureStore, nil
	case CommandTDelete:
		return device.FeatureDelete, nil
	default:
		return 0, fmt.Errorf("unknown command type %d", ct)
	}
}

// CommandFlags modify a command
type CommandFlags uint8

const (
	FlagIdempotent CommandFlags = 1 << iota // Store only if the key is absent
)

// headerSize is type (1) + flags (1) + key length (4)
const headerSize = 6

// Command is a single entry in the raft log
type Command struct {
	Type  CommandType
	Flags CommandFlags
	Key   string
	Value []byte
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	return headerSize + len(command.Key) + len(command.Value)
}

// Serialize encodes the command as:
// 1 byte type, 1 byte flags, 4 bytes key length (big endian), key bytes, value bytes (rest)
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	result[0] = byte(command.Type)
	result[1] = byte(command.Flags)
	binary.BigEndian.PutUint32(result[2:headerSize], uint32(len(command.Key)))
	n := copy(result[headerSize:], command.Key)
	copy(result[headerSize+n:], command.Value)

	return result
}

// Deserialize decodes a command produced by Serialize.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("data too short for command")
	}

	command.Type = CommandType(data[0])
	command.Flags = CommandFlags(data[1])
	keyLen := int(binary.BigEndian.Uint32(data[2:headerSize]))

	if len(data) < headerSize+keyLen {
		return fmt.Errorf("data too short for key of length %d", keyLen)
	}
	command.Key = string(data[headerSize : headerSize+keyLen])

	rest := data[headerSize+keyLen:]
	if len(rest) == 0 {
		command.Value = nil
		return nil
	}
	// reuse the existing buffer when possible
	if cap(command.Value) < len(rest) {
		command.Value = make([]byte, len(rest))
	} else {
		command.Value = command.Value[:len(rest)]
	}
	copy(command.Value, rest)

	return nil
}
