package oracle

import (
	"testing"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/ops"
	"github.com/ValentinKolb/dKVcheck/lib/check/stats"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounds(t *testing.T) {
	b := Bounds{Start: keynum.BlockCount, End: 3 * keynum.BlockCount, PerBlock: 0x100}
	assert.False(t, b.Contains(0))
	assert.True(t, b.Contains(keynum.BlockCount))
	assert.True(t, b.Contains(keynum.BlockCount+0xff))
	assert.False(t, b.Contains(keynum.BlockCount+0x100))
	assert.True(t, b.Contains(2*keynum.BlockCount+1))
	assert.False(t, b.Contains(3*keynum.BlockCount))

	whole := Bounds{Start: 0, End: keynum.BlockCount}
	assert.True(t, whole.Contains(keynum.BlockCount-1))
	assert.Equal(t, Positions{A: keynum.BlockCount, B: keynum.BlockCount}, whole.Final())
}

func TestInitialPositions(t *testing.T) {
	bounds := Bounds{Start: 0, End: keynum.BlockCount}
	d := NewDerivation(5, bounds)

	// before the exercise phase every populated slot holds its populate value in order
	for _, index := range []int64{0, 1, 0x4000, keynum.BlockCount - 1} {
		slot := d.Slot(keynum.IndexToKeynum(index))
		out := Reconcile(slot, ops.PopulateValue(index), bounds.Initial(), false, false)
		assert.Equal(t, InOrder, out.Class, "index %#x: %s", index, out)
	}
}

func TestDerivationSlot(t *testing.T) {
	d := NewDerivation(17, Bounds{Start: 0, End: keynum.BlockCount})

	index := int64(0x123)
	slot := d.Slot(keynum.IndexToKeynum(index))
	assert.Equal(t, index, slot.Populate)
	assert.True(t, slot.Initial().Equal(ops.PopulateValue(index)))

	// the exercise ops of a slot point back at the slot
	for _, thread := range []keynum.Thread{keynum.ThreadA, keynum.ThreadB} {
		exercised := d.Slot(d.Codec().ExerciseIndexToKeynum(index, thread))
		op := exercised.Op(thread)
		require.True(t, op.Happens())
		assert.Equal(t, index, op.Index)
		assert.Equal(t, d.Selector().UpdateOpType(index, thread), op.Type)
		assert.True(t, op.Value.Equal(ops.ExerciseValue(index, thread)))

		if other := exercised.Op(thread.Other()); other.Happens() {
			assert.Equal(t, exercised.Keynum, d.Codec().ExerciseIndexToKeynum(other.Index, thread.Other()))
		}
	}

	// odd keynums are never populated
	odd := d.Slot(keynum.IndexToKeynum(index) + 1)
	assert.Equal(t, int64(-1), odd.Populate)
	assert.Nil(t, odd.Initial())

	// keynums outside the bounds are never written
	outside := d.Slot(keynum.IndexToKeynum(keynum.BlockCount + 5))
	assert.Equal(t, int64(-1), outside.Populate)
	assert.False(t, outside.A.Happens())
	assert.False(t, outside.B.Happens())
}

func newTestChecker(bounds Bounds, failFast bool) (*Checker, *stats.Stats) {
	st := stats.New()
	return NewChecker(Config{Seed: 99, Bounds: bounds, FailFast: failFast}, st), st
}

func TestCheckValueInOrder(t *testing.T) {
	c, st := newTestChecker(Bounds{Start: 0, End: keynum.BlockCount}, false)
	d := c.Derivation()

	// find an index of A whose keynum B only reaches later
	var slot Slot
	var index int64
	for index = 0x10; index < 0x1000; index++ {
		slot = d.Slot(d.Codec().ExerciseIndexToKeynum(index, keynum.ThreadA))
		if slot.B.Index > index {
			break
		}
	}
	require.Greater(t, slot.B.Index, index)

	key := d.Codec().KeynumToKey(slot.Keynum)
	observed := slot.A.Apply(slot.Initial())
	out, err := c.CheckValue(key, observed, Positions{A: index + 1, B: index}, false, false)
	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, InOrder, out.Class)
	assert.Equal(t, int64(1), st.CheckCount())
	assert.Zero(t, st.LagCount())
	assert.True(t, st.Passed())
}

func TestCheckValuePopulatedKeyUntouchedByB(t *testing.T) {
	c, _ := newTestChecker(Bounds{Start: 0, End: keynum.BlockCount}, false)
	d := c.Derivation()

	// a populated keynum that B never visits and whose op of A keeps the
	// populated value
	for index := int64(0x10); index < 0x1000; index++ {
		slot := d.Slot(d.Codec().ExerciseIndexToKeynum(index, keynum.ThreadA))
		if slot.B.Happens() || slot.Populate < 0 || !slot.A.Apply(slot.Initial()).Equal(slot.Initial()) {
			continue
		}
		out, err := c.CheckValue(d.Codec().KeynumToKey(slot.Keynum), slot.Initial(), Positions{A: index + 0x10, B: 0}, false, false)
		require.NoError(t, err)
		assert.True(t, out.OK)
		assert.Equal(t, InOrder, out.Class)
		assert.Zero(t, out.Lag)
		return
	}
	t.Fatal("no suitable keynum found")
}

func TestCheckValueRecordsLag(t *testing.T) {
	c, st := newTestChecker(Bounds{Start: 0, End: keynum.BlockCount}, false)
	d := c.Derivation()

	// A's write observed by a reader that has not seen A get there
	for index := int64(0x40); index < 0x1000; index++ {
		slot := d.Slot(d.Codec().ExerciseIndexToKeynum(index, keynum.ThreadA))
		after := slot.A.Apply(slot.Initial())
		if after.Equal(slot.Initial()) || (slot.B.Happens() && slot.B.Index <= index+3) {
			continue
		}
		out, err := c.CheckValue(d.Codec().KeynumToKey(slot.Keynum), after, Positions{A: index - 3, B: index}, false, false)
		require.NoError(t, err)
		assert.Equal(t, Lagging, out.Class)
		assert.Equal(t, int64(3), out.Lag)
		assert.Equal(t, int64(1), st.LagCount())
		assert.Equal(t, int64(3), st.LagMax())
		return
	}
	t.Fatal("no suitable keynum found")
}

func TestCheckValueUnexpectedKey(t *testing.T) {
	c, st := newTestChecker(Bounds{Start: 0, End: keynum.BlockCount}, false)

	key := keynum.Key{Major: []string{"_dkvcheck"}, Minor: []string{"x"}}
	out, err := c.CheckValue(key, nil, Positions{}, false, false)
	require.NoError(t, err)
	assert.True(t, out.OK)

	out, err = c.CheckValue(key, ops.Value("v"), Positions{}, false, false)
	require.NoError(t, err)
	assert.Equal(t, UnexpectedKey, out.Class)
	assert.Equal(t, int64(1), st.UnexpectedResultCount())
	assert.False(t, st.Passed())
}

func TestCheckerFailFast(t *testing.T) {
	c, st := newTestChecker(Bounds{Start: 0, End: keynum.BlockCount}, true)
	d := c.Derivation()

	key := d.Codec().KeynumToKey(keynum.IndexToKeynum(5))
	_, err := c.CheckValue(key, ops.Value("corrupted"), d.Bounds().Final(), false, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedResult))
	assert.Contains(t, err.Error(), key.String())
	assert.Equal(t, int64(1), st.UnexpectedResultCount())
}

func TestCheckPreviousValueOtherRetry(t *testing.T) {
	c, st := newTestChecker(Bounds{Start: 0, End: keynum.BlockCount}, false)
	d := c.Derivation()

	index := int64(0x77)
	kn := d.Codec().ExerciseIndexToKeynum(index, keynum.ThreadB)
	key := d.Codec().KeynumToKey(kn)
	own := ops.ExerciseValue(index, keynum.ThreadB)

	out, err := c.CheckPreviousValue(key, keynum.ThreadB, own, 0, true, false)
	require.NoError(t, err)
	assert.Equal(t, OtherRetryResult, out.Class)
	assert.Equal(t, int64(1), st.OtherRetryResultCount())
	assert.True(t, st.Passed())
}
