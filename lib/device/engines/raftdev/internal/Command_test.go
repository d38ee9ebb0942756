package internal

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/ValentinKolb/nkv/lib/device"
)

func TestSizeBytes(t *testing.T) {
	cmd := Command{Type: CommandTStore, Key: "testkey", Value: []byte("testvalue")}
	if got, want := cmd.SizeBytes(), 6+7+9; got != want {
		t.Errorf("SizeBytes() = %d, want %d", got, want)
	}
	if got := len(cmd.Serialize()); got != cmd.SizeBytes() {
		t.Errorf("serialized length %d does not match SizeBytes() %d", got, cmd.SizeBytes())
	}
}

func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{"store", Command{Type: CommandTStore, Key: "bucket/obj", Value: []byte("payload")}},
		{"idempotent store", Command{Type: CommandTStore, Flags: FlagIdempotent, Key: ".nkv.sys/lock/a", Value: []byte("owner")}},
		{"delete without value", Command{Type: CommandTDelete, Key: "bucket/obj"}},
		{"binary key and value", Command{Type: CommandTStore, Key: "k\x00\xff", Value: []byte{0, 1, 254, 255}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Command
			if err := got.Deserialize(tt.command.Serialize()); err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}
			if got.Type != tt.command.Type || got.Flags != tt.command.Flags || got.Key != tt.command.Key {
				t.Errorf("header mismatch: got %+v, want %+v", got, tt.command)
			}
			if !bytes.Equal(got.Value, tt.command.Value) {
				t.Errorf("value mismatch: got %v, want %v", got.Value, tt.command.Value)
			}
		})
	}
}

func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{"empty", []byte{}, "data too short for command"},
		{"short header", []byte{0, 0, 0}, "data too short for command"},
		{
			"key length beyond data",
			func() []byte {
				data := make([]byte, headerSize)
				binary.BigEndian.PutUint32(data[2:headerSize], 1000)
				return data
			}(),
			"data too short for key of length 1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)
			if err == nil || !strings.Contains(err.Error(), tt.expectedErr) {
				t.Errorf("Deserialize() error = %v, want %q", err, tt.expectedErr)
			}
		})
	}
}

func TestToFeature(t *testing.T) {
	f, err := CommandTStore.ToFeature(FlagIdempotent)
	if err != nil || f != device.FeatureStore|device.FeatureStoreIfAbsent {
		t.Errorf("idempotent store feature = (%v, %v)", f, err)
	}
	f, err = CommandTDelete.ToFeature(0)
	if err != nil || f != device.FeatureDelete {
		t.Errorf("delete feature = (%v, %v)", f, err)
	}
	if _, err := CommandType(99).ToFeature(0); err == nil {
		t.Error("unknown command type should fail")
	}
}
