package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dKVcheck/lib/db"
)

// opHeaderSize is the fixed part of a serialized operation:
// Kind + Version + KeyLen + ValueLen
const opHeaderSize = 1 + 8 + 4 + 4

// nilValue marks an operation without value in the value length field
const nilValue = ^uint32(0)

// Command represents a command to be executed by the state machine (a single entry in the raft log).
// All operations of a command are applied atomically with the raft log index as write index.
type Command struct {
	Ops []db.Operation
}

// Features returns the db features needed to apply the command.
func (command *Command) Features() (db.Feature, error) {
	var features db.Feature
	if len(command.Ops) > 1 {
		features |= db.FeatureBatch
	}
	for _, op := range command.Ops {
		feat, err := op.Kind.ToFeature()
		if err != nil {
			return 0, err
		}
		features |= feat
	}
	return features, nil
}

// SizeBytes returns the exact number of bytes needed to serialize this command
func (command *Command) SizeBytes() int {
	size := 4 // OpCount
	for _, op := range command.Ops {
		size += opHeaderSize + len(op.Key) + len(op.Value)
	}
	return size
}

// Serialize serializes a command into a byte array with the format:
// 4 bytes for the number of operations (big endian), then for each operation
// 1 byte for the operation kind,
// 8 bytes for the expected version,
// 4 bytes for key length (big endian),
// N bytes for key data,
// 4 bytes for value length (big endian, 0xffffffff for no value),
// M bytes for value data
func (command *Command) Serialize() []byte {
	result := make([]byte, command.SizeBytes())

	binary.BigEndian.PutUint32(result[0:4], uint32(len(command.Ops)))
	pos := 4

	for _, op := range command.Ops {
		result[pos] = byte(op.Kind)
		binary.BigEndian.PutUint64(result[pos+1:pos+9], op.Version)
		binary.BigEndian.PutUint32(result[pos+9:pos+13], uint32(len(op.Key)))
		pos += 13

		pos += copy(result[pos:], op.Key)

		if op.Value == nil {
			binary.BigEndian.PutUint32(result[pos:pos+4], nilValue)
		} else {
			binary.BigEndian.PutUint32(result[pos:pos+4], uint32(len(op.Value)))
		}
		pos += 4

		pos += copy(result[pos:], op.Value)
	}

	return result
}

// Deserialize extracts all Command fields from a byte array.
func (command *Command) Deserialize(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("data too short for command")
	}

	count := binary.BigEndian.Uint32(data[0:4])
	pos := 4

	// every operation needs at least its header
	if uint64(len(data)-pos) < uint64(count)*opHeaderSize {
		return fmt.Errorf("data too short for %d operations", count)
	}

	command.Ops = make([]db.Operation, count)
	for i := range command.Ops {
		if len(data)-pos < 13 {
			return fmt.Errorf("data too short for operation %d", i)
		}
		op := db.Operation{
			Kind:    db.OpKind(data[pos]),
			Version: binary.BigEndian.Uint64(data[pos+1 : pos+9]),
		}
		keyLen := int(binary.BigEndian.Uint32(data[pos+9 : pos+13]))
		pos += 13

		if len(data)-pos < keyLen+4 {
			return fmt.Errorf("data too short for key of length %d", keyLen)
		}
		op.Key = string(data[pos : pos+keyLen])
		pos += keyLen

		valueLen := binary.BigEndian.Uint32(data[pos : pos+4])
		pos += 4

		if valueLen != nilValue {
			if uint64(len(data)-pos) < uint64(valueLen) {
				return fmt.Errorf("data too short for value of length %d", valueLen)
			}
			op.Value = make([]byte, valueLen)
			copy(op.Value, data[pos:pos+int(valueLen)])
			pos += int(valueLen)
		}

		command.Ops[i] = op
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after command", len(data)-pos)
	}
	return nil
}
