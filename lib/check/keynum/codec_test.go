package keynum

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomIndex(rng *rand.Rand) int64 {
	return rng.Int63n(MaxIndex)
}

func TestIndexKeynumRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, index := range []int64{0, 1, BlockCount - 1, BlockCount, MaxIndex - 1} {
		require.Equal(t, index, KeynumToIndex(IndexToKeynum(index)))
	}
	for i := 0; i < 10000; i++ {
		index := randomIndex(rng)
		require.Equal(t, index, KeynumToIndex(IndexToKeynum(index)))
	}
}

func TestKeynumToIndexRejectsOddAndOutOfRange(t *testing.T) {
	assert.Equal(t, int64(-1), KeynumToIndex(1))
	assert.Equal(t, int64(-1), KeynumToIndex(0x41))
	assert.Equal(t, int64(-1), KeynumToIndex(-2))
	assert.Equal(t, int64(-1), KeynumToIndex(MaxIndex<<1))
}

func TestIndexToKeynumPanicsOnInvalidIndex(t *testing.T) {
	assert.Panics(t, func() { IndexToKeynum(-1) })
	assert.Panics(t, func() { IndexToKeynum(MaxIndex) })
}

func TestKeyRoundTrip(t *testing.T) {
	codec := NewCodec(0x5eed)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 10000; i++ {
		keynum := rng.Int63n(MaxIndex << 1)
		key := codec.KeynumToKey(keynum)
		require.Equal(t, keynum, codec.KeyToKeynum(key), "key %s", key)
		require.Equal(t, keynum, codec.KeyStringToKeynum(key.String()))
	}
}

func TestKeyFormat(t *testing.T) {
	codec := NewCodec(7)
	key := codec.KeynumToKey(0x1234)

	require.Len(t, key.Major, 2)
	require.Len(t, key.Minor, 1)
	assert.Regexp(t, `^k[0-9a-f]{8}$`, key.Major[0])
	assert.Regexp(t, `^[0-9a-f]{2}$`, key.Major[1])
	assert.Equal(t, "34", key.Minor[0])

	s := key.String()
	assert.True(t, strings.HasPrefix(s, key.Prefix()))
	assert.Equal(t, key.Prefix()+"34", s)

	major := codec.KeynumToMajorKey(0x1234)
	assert.Equal(t, key.Major, major.Major)
	assert.Empty(t, major.Minor)

	parent := codec.KeynumToParentKey(0x1234)
	assert.Equal(t, key.Major[:1], parent.Major)

	// keynums that only differ in the minor value share the major key
	assert.Equal(t, major.String(), codec.KeynumToMajorKey(0x12ff).String())
}

func TestKeyToKeynumRejectsMalformedKeys(t *testing.T) {
	codec := NewCodec(3)
	valid := codec.KeynumToKey(0x4242)

	for _, s := range []string{
		"",
		"/",
		"plain",
		"/_dkvcheck/seed",
		valid.Prefix(),
		valid.Prefix() + "4",
		valid.Prefix() + "zz",
		valid.Prefix() + "042",
		valid.Prefix() + "04/05",
		"/" + valid.Major[0] + "/-/" + valid.Minor[0],
		"/x" + valid.Major[0][1:] + "/" + valid.Major[1] + "/-/" + valid.Minor[0],
		"/k+1234567/" + valid.Major[1] + "/-/" + valid.Minor[0],
		"/" + valid.Major[0] + "/" + valid.Major[1] + "/00/-/" + valid.Minor[0],
		valid.String() + "/",
	} {
		assert.Equal(t, int64(-1), codec.KeyStringToKeynum(s), "key %q", s)
	}

	assert.Equal(t, int64(-1), codec.KeyToKeynum(Key{}))
	assert.Equal(t, int64(-1), codec.KeyToKeynum(Key{Major: valid.Major}))
}

func TestKeyToKeynumRejectsUppercaseHex(t *testing.T) {
	codec := NewCodec(5)
	upper := func(key Key, component int) Key {
		alias := Key{Major: append([]string(nil), key.Major...), Minor: append([]string(nil), key.Minor...)}
		switch component {
		case 0:
			alias.Major[0] = "k" + strings.ToUpper(key.Major[0][1:])
		case 1:
			alias.Major[1] = strings.ToUpper(key.Major[1])
		default:
			alias.Minor[0] = strings.ToUpper(key.Minor[0])
		}
		return alias
	}

	aliased := [3]int{}
	for kn := int64(0); kn < 1<<12; kn += 2 {
		key := codec.KeynumToKey(kn)
		require.Equal(t, kn, codec.KeyToKeynum(key))
		for component := range aliased {
			alias := upper(key, component)
			if alias.String() == key.String() {
				continue
			}
			aliased[component]++
			assert.Equal(t, int64(-1), codec.KeyToKeynum(alias), "key %s", alias)
			assert.Equal(t, int64(-1), codec.KeyStringToKeynum(alias.String()), "key %s", alias)
		}
	}
	for component, n := range aliased {
		assert.Positive(t, n, "component %d never contained a hex letter", component)
	}
}

func TestKeyToKeynumRejectsKeysBeyondMaxIndex(t *testing.T) {
	codec := NewCodec(11)
	// the last block of the 48-bit space is not reachable from a valid index
	for keynum := MaxIndex << 1; keynum < MaxIndex<<1+512; keynum += 37 {
		key := codec.KeynumToKey(keynum)
		assert.Equal(t, int64(-1), codec.KeyToKeynum(key))
	}
}

func TestExerciseIndexRoundTrip(t *testing.T) {
	codec := NewCodec(1)
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 10000; i++ {
		index := randomIndex(rng)
		for _, thread := range []Thread{ThreadA, ThreadB} {
			keynum := codec.ExerciseIndexToKeynum(index, thread)
			require.Equal(t, index, codec.KeynumToExerciseIndex(keynum, thread))
			// the keynum stays in the block of the index
			require.Equal(t, IndexToKeynum(index)>>16, keynum>>16)
		}
	}
}

func TestExerciseKeynumsCoverBlockInDifferentOrders(t *testing.T) {
	codec := NewCodec(5)
	start := 3 * BlockCount

	seenA := make(map[int64]bool)
	seenB := make(map[int64]bool)
	sameOrder := 0
	for index := start; index < start+BlockCount; index++ {
		a := codec.ExerciseIndexToKeynum(index, ThreadA)
		b := codec.ExerciseIndexToKeynum(index, ThreadB)
		require.False(t, seenA[a])
		require.False(t, seenB[b])
		seenA[a], seenB[b] = true, true
		if a == b {
			sameOrder++
		}
	}
	require.Len(t, seenA, int(BlockCount))
	require.Len(t, seenB, int(BlockCount))
	assert.Less(t, sameOrder, 10)

	// about half of the exercised keynums of each thread are populated (even)
	populated := 0
	for keynum := range seenA {
		if KeynumToIndex(keynum) != -1 {
			populated++
		}
	}
	assert.InDelta(t, BlockCount/2, populated, float64(BlockCount)/10)
}

func TestKeynumToExerciseIndexOutOfRange(t *testing.T) {
	codec := NewCodec(1)
	assert.Equal(t, int64(-1), codec.KeynumToExerciseIndex(-1, ThreadA))
	assert.Equal(t, int64(-1), codec.KeynumToExerciseIndex(MaxIndex<<1, ThreadB))
}

func TestThread(t *testing.T) {
	assert.Equal(t, ThreadB, ThreadA.Other())
	assert.Equal(t, ThreadA, ThreadB.Other())
	assert.Equal(t, "A", ThreadA.String())
	assert.Equal(t, "B", ThreadB.String())
}

func TestParseKey(t *testing.T) {
	key, ok := ParseKey("/a/b/-/c")
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, key.Major)
	assert.Equal(t, []string{"c"}, key.Minor)

	key, ok = ParseKey("/a")
	require.True(t, ok)
	assert.Equal(t, "/a", key.String())

	for _, s := range []string{"", "a/b", "//", "/a//b", "/a/-", "/-/a"} {
		_, ok := ParseKey(s)
		assert.False(t, ok, s)
	}
}

func TestBlockStart(t *testing.T) {
	assert.Equal(t, int64(0), BlockStart(BlockCount-1))
	assert.Equal(t, BlockCount, BlockStart(BlockCount))
	assert.Equal(t, 2*BlockCount, BlockStart(2*BlockCount+17))
}
