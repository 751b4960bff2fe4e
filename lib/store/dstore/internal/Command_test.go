package internal

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/ValentinKolb/dKVcheck/lib/db"
)

// TestSizeBytes tests the SizeBytes method
func TestSizeBytes(t *testing.T) {
	tests := []struct {
		name     string
		command  Command
		expected int
	}{
		{
			name: "Command with key and value",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpPut, Key: "testkey", Value: []byte("testvalue")},
			}},
			expected: 4 + 1 + 8 + 4 + 7 + 4 + 9, // OpCount + Kind + Version + KeyLen + Key + ValueLen + Value
		},
		{
			name: "Command with empty key and no value",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpDeletePrefix, Key: ""},
			}},
			expected: 4 + 1 + 8 + 4 + 0 + 4 + 0,
		},
		{
			name: "Batch",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpPut, Key: "a", Value: []byte("1")},
				{Kind: db.OpDeleteIfVersion, Key: "bb", Version: 7},
			}},
			expected: 4 + (17 + 1 + 1) + (17 + 2 + 0),
		},
		{
			name:     "Empty command",
			command:  Command{},
			expected: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.command.SizeBytes()
			if size != tt.expected {
				t.Errorf("SizeBytes() = %v, want %v", size, tt.expected)
			}
		})
	}
}

// TestSerializeDeserialize tests both Serialize and Deserialize methods
func TestSerializeDeserialize(t *testing.T) {
	tests := []struct {
		name    string
		command Command
	}{
		{
			name: "Standard command with value",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpPut, Key: "testkey", Value: []byte("testvalue")},
			}},
		},
		{
			name: "Command without value",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpDelete, Key: "testkey"},
			}},
		},
		{
			name: "Command with empty value",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpPut, Key: "testkey", Value: []byte{}},
			}},
		},
		{
			name: "Command with large version",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpPutIfVersion, Key: "testkey", Value: []byte("v"), Version: 18446744073709551615},
			}},
		},
		{
			name: "Command with binary value and Unicode key",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpPutIfAbsent, Key: "你好世界", Value: []byte{0, 1, 2, 3, 254, 255}},
			}},
		},
		{
			name: "Batch with all kinds",
			command: Command{Ops: []db.Operation{
				{Kind: db.OpPut, Key: "/a/0", Value: []byte("x")},
				{Kind: db.OpPutIfAbsent, Key: "/a/1", Value: []byte("y")},
				{Kind: db.OpPutIfPresent, Key: "/a/2", Value: []byte("z")},
				{Kind: db.OpPutIfVersion, Key: "/a/3", Value: []byte("w"), Version: 3},
				{Kind: db.OpDelete, Key: "/a/4"},
				{Kind: db.OpDeleteIfVersion, Key: "/a/5", Version: 9},
				{Kind: db.OpDeletePrefix, Key: "/b/"},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Serialize
			data := tt.command.Serialize()

			// Deserialize into a new command
			var newCommand Command
			err := newCommand.Deserialize(data)
			if err != nil {
				t.Fatalf("Deserialize() error = %v", err)
			}

			if len(newCommand.Ops) != len(tt.command.Ops) {
				t.Fatalf("Op count mismatch: got %d, want %d", len(newCommand.Ops), len(tt.command.Ops))
			}

			for i, want := range tt.command.Ops {
				got := newCommand.Ops[i]
				if got.Kind != want.Kind {
					t.Errorf("Kind mismatch: got %v, want %v", got.Kind, want.Kind)
				}
				if got.Key != want.Key {
					t.Errorf("Key mismatch: got %q, want %q", got.Key, want.Key)
				}
				if got.Version != want.Version {
					t.Errorf("Version mismatch: got %v, want %v", got.Version, want.Version)
				}
				if (got.Value == nil) != (want.Value == nil) {
					t.Errorf("Value nil mismatch: got %v, want %v", got.Value, want.Value)
				}
				if !bytes.Equal(got.Value, want.Value) {
					t.Errorf("Value mismatch: got %v, want %v", got.Value, want.Value)
				}
			}

			// Verify that SizeBytes matches the serialized data length
			if tt.command.SizeBytes() != len(data) {
				t.Errorf("SizeBytes() = %d, but serialized data length = %d",
					tt.command.SizeBytes(), len(data))
			}
		})
	}
}

// TestDeserializeErrors tests error cases in Deserialize
func TestDeserializeErrors(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		expectedErr string
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectedErr: "data too short for command",
		},
		{
			name:        "Op count without ops",
			data:        []byte{0, 0, 0, 2},
			expectedErr: "data too short for 2 operations",
		},
		{
			name: "Invalid key length",
			data: func() []byte {
				data := make([]byte, 4+opHeaderSize)
				binary.BigEndian.PutUint32(data[0:4], 1)
				data[4] = byte(db.OpPut)
				// Set key length to a large value that exceeds the data
				binary.BigEndian.PutUint32(data[13:17], 1000)
				return data
			}(),
			expectedErr: "data too short for key of length 1000",
		},
		{
			name: "Invalid value length",
			data: func() []byte {
				data := make([]byte, 4+opHeaderSize)
				binary.BigEndian.PutUint32(data[0:4], 1)
				binary.BigEndian.PutUint32(data[17:21], 100)
				return data
			}(),
			expectedErr: "data too short for value of length 100",
		},
		{
			name: "Trailing bytes",
			data: func() []byte {
				cmd := Command{Ops: []db.Operation{{Kind: db.OpDelete, Key: "k"}}}
				return append(cmd.Serialize(), 0xff)
			}(),
			expectedErr: "1 trailing bytes after command",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cmd Command
			err := cmd.Deserialize(tt.data)

			// Check if we got the expected error
			if err == nil {
				t.Fatalf("Expected error but got nil")
			}
			if err.Error() != tt.expectedErr {
				t.Errorf("Expected error %q, got %q", tt.expectedErr, err.Error())
			}
		})
	}
}

// TestBinaryFormat tests the exact binary format of serialized commands
func TestBinaryFormat(t *testing.T) {
	// Create a command
	cmd := Command{Ops: []db.Operation{
		{Kind: db.OpPutIfVersion, Key: "testkey", Value: []byte("testvalue"), Version: 12345},
	}}

	// Manually create the expected byte array
	expected := make([]byte, cmd.SizeBytes())
	// Op count
	binary.BigEndian.PutUint32(expected[0:4], 1)
	// Kind
	expected[4] = byte(db.OpPutIfVersion)
	// Version
	binary.BigEndian.PutUint64(expected[5:13], 12345)
	// Key length
	binary.BigEndian.PutUint32(expected[13:17], 7) // "testkey" length
	// Key
	copy(expected[17:24], "testkey")
	// Value length
	binary.BigEndian.PutUint32(expected[24:28], 9)
	// Value
	copy(expected[28:], "testvalue")

	// Serialize and compare
	serialized := cmd.Serialize()
	if !bytes.Equal(serialized, expected) {
		t.Errorf("Binary format does not match:\nGot:      %v\nExpected: %v", serialized, expected)
	}
}

// TestFeatures tests the features a command needs
func TestFeatures(t *testing.T) {
	single := Command{Ops: []db.Operation{{Kind: db.OpDeletePrefix, Key: "/"}}}
	feat, err := single.Features()
	if err != nil || feat != db.FeatureDeletePrefix {
		t.Errorf("Features() = %v, %v, want DeletePrefix", feat, err)
	}

	batch := Command{Ops: []db.Operation{{Kind: db.OpPut}, {Kind: db.OpDelete}}}
	feat, err = batch.Features()
	if err != nil || feat != db.FeatureBatch|db.FeaturePut|db.FeatureDelete {
		t.Errorf("Features() = %v, %v, want Batch|Put|Delete", feat, err)
	}

	unknown := Command{Ops: []db.Operation{{Kind: db.OpKind(200)}}}
	if _, err := unknown.Features(); err == nil {
		t.Errorf("Expected error for unknown operation kind")
	}
}

// TestResultEncoding tests EncodeResults and DecodeResults
func TestResultEncoding(t *testing.T) {
	results := []db.Result{
		{Applied: true, Existed: true, Previous: []byte("old"), PreviousVersion: 4, Version: 9},
		{Applied: false, Existed: true, Previous: []byte{}, PreviousVersion: 5, Version: 5},
		{Applied: true, Existed: false, Version: 9},
		{Applied: true, Existed: true, Deleted: 42},
	}

	decoded, err := DecodeResults(EncodeResults(results))
	if err != nil {
		t.Fatalf("DecodeResults() error = %v", err)
	}
	if len(decoded) != len(results) {
		t.Fatalf("Result count mismatch: got %d, want %d", len(decoded), len(results))
	}

	for i, want := range results {
		got := decoded[i]
		if got.Applied != want.Applied || got.Existed != want.Existed {
			t.Errorf("Flags mismatch for result %d: got %+v, want %+v", i, got, want)
		}
		if got.PreviousVersion != want.PreviousVersion || got.Version != want.Version || got.Deleted != want.Deleted {
			t.Errorf("Counters mismatch for result %d: got %+v, want %+v", i, got, want)
		}
		if (got.Previous == nil) != (want.Previous == nil) || !bytes.Equal(got.Previous, want.Previous) {
			t.Errorf("Previous mismatch for result %d: got %v, want %v", i, got.Previous, want.Previous)
		}
	}

	if _, err := DecodeResults([]byte{0, 0, 0, 1}); err == nil {
		t.Errorf("Expected error for truncated results")
	}
}
