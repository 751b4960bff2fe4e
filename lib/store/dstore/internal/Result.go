package internal

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/dKVcheck/lib/db"
)

const (
	flagApplied     = 1 << 0
	flagExisted     = 1 << 1
	flagHasPrevious = 1 << 2
)

// resultHeaderSize is the fixed part of a serialized result:
// Flags + PreviousVersion + Version + Deleted + PreviousLen
const resultHeaderSize = 1 + 8 + 8 + 4 + 4

// EncodeResults serializes the results of a command. The encoding is
// returned to the proposer in the Data field of the raft result.
func EncodeResults(results []db.Result) []byte {
	size := 4
	for _, r := range results {
		size += resultHeaderSize + len(r.Previous)
	}

	data := make([]byte, size)
	binary.BigEndian.PutUint32(data[0:4], uint32(len(results)))
	pos := 4

	for _, r := range results {
		var flags byte
		if r.Applied {
			flags |= flagApplied
		}
		if r.Existed {
			flags |= flagExisted
		}
		if r.Previous != nil {
			flags |= flagHasPrevious
		}
		data[pos] = flags
		binary.BigEndian.PutUint64(data[pos+1:pos+9], r.PreviousVersion)
		binary.BigEndian.PutUint64(data[pos+9:pos+17], r.Version)
		binary.BigEndian.PutUint32(data[pos+17:pos+21], uint32(r.Deleted))
		binary.BigEndian.PutUint32(data[pos+21:pos+25], uint32(len(r.Previous)))
		pos += resultHeaderSize
		pos += copy(data[pos:], r.Previous)
	}
	return data
}

// DecodeResults is the inverse of EncodeResults.
func DecodeResults(data []byte) ([]db.Result, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("data too short for results")
	}
	count := binary.BigEndian.Uint32(data[0:4])
	pos := 4

	if uint64(len(data)-pos) < uint64(count)*resultHeaderSize {
		return nil, fmt.Errorf("data too short for %d results", count)
	}

	results := make([]db.Result, count)
	for i := range results {
		if len(data)-pos < resultHeaderSize {
			return nil, fmt.Errorf("data too short for result %d", i)
		}
		flags := data[pos]
		r := db.Result{
			Applied:         flags&flagApplied != 0,
			Existed:         flags&flagExisted != 0,
			PreviousVersion: binary.BigEndian.Uint64(data[pos+1 : pos+9]),
			Version:         binary.BigEndian.Uint64(data[pos+9 : pos+17]),
			Deleted:         int(binary.BigEndian.Uint32(data[pos+17 : pos+21])),
		}
		prevLen := int(binary.BigEndian.Uint32(data[pos+21 : pos+25]))
		pos += resultHeaderSize

		if len(data)-pos < prevLen {
			return nil, fmt.Errorf("data too short for previous value of length %d", prevLen)
		}
		if flags&flagHasPrevious != 0 {
			r.Previous = make([]byte, prevLen)
			copy(r.Previous, data[pos:pos+prevLen])
		}
		pos += prevLen

		results[i] = r
	}
	return results, nil
}
