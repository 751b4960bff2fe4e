package ops

import (
	"bytes"
	"fmt"
	"strconv"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
)

// Value is a value as written to or read from the store. A nil Value means
// the key is absent, an empty non-nil Value is a present key without data.
type Value []byte

// Present reports whether the value denotes an existing entry.
func (v Value) Present() bool {
	return v != nil
}

// Equal compares two values including the absent/present distinction.
func (v Value) Equal(o Value) bool {
	if v == nil || o == nil {
		return v == nil && o == nil
	}
	return bytes.Equal(v, o)
}

func (v Value) String() string {
	if v == nil {
		return "<absent>"
	}
	return fmt.Sprintf("%q", []byte(v))
}

// phase tags
const (
	tagPopulate = "pp"
	tagThreadA  = "ea"
	tagThreadB  = "eb"
)

// PopulateValue returns the value the populate phase writes for index.
func PopulateValue(index int64) Value {
	return encode(tagPopulate, index)
}

// ExerciseValue returns the value the given exercise thread writes for
// index, independent of the selected update operation.
func ExerciseValue(index int64, thread keynum.Thread) Value {
	if thread == keynum.ThreadA {
		return encode(tagThreadA, index)
	}
	return encode(tagThreadB, index)
}

// DecodeValue returns the phase tag and the index encoded in a value
// produced by PopulateValue or ExerciseValue.
func DecodeValue(v Value) (string, int64, bool) {
	if len(v) != 15 || v[2] != ':' {
		return "", 0, false
	}
	tag := string(v[:2])
	if tag != tagPopulate && tag != tagThreadA && tag != tagThreadB {
		return "", 0, false
	}
	index, err := strconv.ParseUint(string(v[3:]), 16, 48)
	if err != nil {
		return "", 0, false
	}
	return tag, int64(index), true
}

func encode(tag string, index int64) Value {
	return Value(fmt.Sprintf("%s:%012x", tag, index))
}
