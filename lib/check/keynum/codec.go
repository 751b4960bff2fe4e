package keynum

import (
	"fmt"
	"strconv"

	"github.com/ValentinKolb/dKVcheck/lib/check/permutation"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// MaxIndex is the exclusive upper bound of valid indices
	MaxIndex int64 = 0x7fffffff8000
	// BlockCount is the number of indices per block
	BlockCount int64 = 0x8000
	// BlockMax is the number of keynums per block
	BlockMax int64 = 0x10000
	// MinorKeyMax is the number of minor keys per major key
	MinorKeyMax = 256
	// MinorKeyCount is the number of minor keys per major key that are populated on average
	MinorKeyCount = 128

	maxKeynum  = MaxIndex << 1
	blockBits  = 16
	minorBits  = 8
	minorMask  = MinorKeyMax - 1
	blockMask  = BlockMax - 1
	parentBits = 32
)

// --------------------------------------------------------------------------
// Threads
// --------------------------------------------------------------------------

// Thread identifies one of the two racing exercise threads of a block.
// The numeric values are part of the per block permutation key.
type Thread uint8

const (
	ThreadA Thread = 1
	ThreadB Thread = 2
)

// Other returns the concurrent counterpart of the thread.
func (t Thread) Other() Thread {
	if t == ThreadA {
		return ThreadB
	}
	return ThreadA
}

func (t Thread) String() string {
	switch t {
	case ThreadA:
		return "A"
	case ThreadB:
		return "B"
	default:
		return fmt.Sprintf("Thread(%d)", uint8(t))
	}
}

// --------------------------------------------------------------------------
// Index <-> Keynum
// --------------------------------------------------------------------------

// ValidIndex reports whether index can be mapped to a keynum.
func ValidIndex(index int64) bool {
	return index >= 0 && index < MaxIndex
}

// IndexToKeynum returns the base keynum of an index. Panics if the index
// is out of range, callers are expected to validate their index bounds.
func IndexToKeynum(index int64) int64 {
	if !ValidIndex(index) {
		panic(fmt.Sprintf("keynum: index %#x out of range [0, %#x)", index, MaxIndex))
	}
	return index << 1
}

// KeynumToIndex returns the index whose base keynum is keynum, or -1 if
// keynum is odd or out of range.
func KeynumToIndex(keynum int64) int64 {
	if keynum < 0 || keynum >= maxKeynum || keynum&1 != 0 {
		return -1
	}
	return keynum >> 1
}

// BlockStart returns the first index of the block that contains index.
func BlockStart(index int64) int64 {
	return index &^ (BlockCount - 1)
}

// --------------------------------------------------------------------------
// Codec
// --------------------------------------------------------------------------

// Codec maps keynums to store keys and exercise indices to keynums.
// All mappings are pure functions of the run seed.
type Codec struct {
	major *permutation.Permutation
}

// NewCodec creates the codec for a run seed.
func NewCodec(seed int64) *Codec {
	return &Codec{major: permutation.New(seed)}
}

func blockPermutation(block int64, thread Thread) *permutation.Permutation {
	return permutation.New(block<<8 | int64(thread))
}

// ExerciseIndexToKeynum returns the keynum the given thread updates at
// index. Within a block both threads visit the same keynums in two
// different orders.
func (c *Codec) ExerciseIndexToKeynum(index int64, thread Thread) int64 {
	base := IndexToKeynum(index)
	block := base >> blockBits
	low := blockPermutation(block, thread).Transform16(uint16(base & blockMask))
	return block<<blockBits | int64(low)
}

// KeynumToExerciseIndex is the inverse of ExerciseIndexToKeynum. It returns
// -1 if the thread never updates keynum.
func (c *Codec) KeynumToExerciseIndex(keynum int64, thread Thread) int64 {
	if keynum < 0 || keynum >= maxKeynum {
		return -1
	}
	block := keynum >> blockBits
	low := blockPermutation(block, thread).Untransform16(uint16(keynum & blockMask))
	return KeynumToIndex(block<<blockBits | int64(low))
}

// --------------------------------------------------------------------------
// Keynum <-> Key
// --------------------------------------------------------------------------

func (c *Codec) majorComponents(keynum int64) []string {
	permuted := c.major.Transform40(uint64(keynum) >> minorBits)
	return []string{
		formatParent(permuted >> minorBits),
		formatByte(permuted & minorMask),
	}
}

// KeynumToKey returns the full store key of keynum.
func (c *Codec) KeynumToKey(keynum int64) Key {
	return Key{
		Major: c.majorComponents(keynum),
		Minor: []string{formatByte(uint64(keynum) & minorMask)},
	}
}

// KeynumToMajorKey returns the key shared by all keynums that only differ
// in their minor value.
func (c *Codec) KeynumToMajorKey(keynum int64) Key {
	return Key{Major: c.majorComponents(keynum)}
}

// KeynumToParentKey returns the key consisting of the parent component only.
func (c *Codec) KeynumToParentKey(keynum int64) Key {
	return Key{Major: c.majorComponents(keynum)[:1]}
}

// KeyToKeynum is the inverse of KeynumToKey. It returns -1 for every key
// the codec could not have produced and never fails otherwise.
func (c *Codec) KeyToKeynum(key Key) int64 {
	if len(key.Major) != 2 || len(key.Minor) != 1 {
		return -1
	}
	parentStr := key.Major[0]
	if len(parentStr) != 9 || parentStr[0] != 'k' {
		return -1
	}
	parent, ok := parseHex(parentStr[1:], parentBits)
	if !ok {
		return -1
	}
	child, ok := parseHex(key.Major[1], minorBits)
	if !ok {
		return -1
	}
	minor, ok := parseHex(key.Minor[0], minorBits)
	if !ok {
		return -1
	}

	major := c.major.Untransform40(parent<<minorBits | child)
	keynum := int64(major<<minorBits | minor)
	if keynum >= maxKeynum {
		return -1
	}
	return keynum
}

// KeyStringToKeynum parses a store path and maps it to a keynum, -1 if the
// path is not a key of this scheme.
func (c *Codec) KeyStringToKeynum(s string) int64 {
	key, ok := ParseKey(s)
	if !ok {
		return -1
	}
	return c.KeyToKeynum(key)
}

// parseHex parses a fixed width lowercase hex component with exactly
// bits/4 digits. Keys are case sensitive, so uppercase digits would alias a
// different store entry.
func parseHex(s string, bits int) (uint64, bool) {
	if len(s) != bits/4 {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if !('0' <= s[i] && s[i] <= '9' || 'a' <= s[i] && s[i] <= 'f') {
			return 0, false
		}
	}
	v, err := strconv.ParseUint(s, 16, bits)
	if err != nil {
		return 0, false
	}
	return v, true
}
