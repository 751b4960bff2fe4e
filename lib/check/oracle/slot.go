package oracle

import (
	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/ops"
)

// --------------------------------------------------------------------------
// Bounds and Positions
// --------------------------------------------------------------------------

// Bounds describe which indices a run executes: every index in
// [Start, End) whose offset inside its block is below PerBlock.
// A PerBlock of zero means whole blocks.
type Bounds struct {
	Start    int64
	End      int64
	PerBlock int64
}

// Contains reports whether index is executed by the run.
func (b Bounds) Contains(index int64) bool {
	if index < b.Start || index >= b.End {
		return false
	}
	return b.PerBlock <= 0 || index%keynum.BlockCount < b.PerBlock
}

// filter maps indices the run never executes to -1
func (b Bounds) filter(index int64) int64 {
	if index < 0 || !b.Contains(index) {
		return -1
	}
	return index
}

// Positions are the current indices of the two exercise threads as seen by
// a reader. An operation at index ex of thread T has happened for the
// reader iff ex < Positions.Of(T).
type Positions struct {
	A int64
	B int64
}

// Of returns the position of thread.
func (p Positions) Of(thread keynum.Thread) int64 {
	if thread == keynum.ThreadA {
		return p.A
	}
	return p.B
}

// Final returns the positions after every thread finished the run.
func (b Bounds) Final() Positions {
	return Positions{A: b.End, B: b.End}
}

// Initial returns the positions before any exercise op ran.
func (b Bounds) Initial() Positions {
	return Positions{A: b.Start - 1, B: b.Start - 1}
}

// --------------------------------------------------------------------------
// Slot
// --------------------------------------------------------------------------

// Op is a write a thread performs on a slot. Index is -1 if the thread
// never writes the slot.
type Op struct {
	Index int64
	Type  ops.UpdateOpType
	Value ops.Value
}

// Happens reports whether the op is part of the run.
func (o Op) Happens() bool {
	return o.Index >= 0
}

// Apply returns the value of the slot after the op was applied to prev.
func (o Op) Apply(prev ops.Value) ops.Value {
	return o.Type.Result(o.Value, prev)
}

// Slot is everything the run does to a single keynum: the populate write
// and the exercise op of each thread.
type Slot struct {
	Keynum   int64
	Populate int64
	A        Op
	B        Op
}

// Op returns the exercise op of thread.
func (s Slot) Op(thread keynum.Thread) Op {
	if thread == keynum.ThreadA {
		return s.A
	}
	return s.B
}

// Initial returns the value of the slot after the populate phase.
func (s Slot) Initial() ops.Value {
	if s.Populate < 0 {
		return nil
	}
	return ops.PopulateValue(s.Populate)
}

// Derivation derives slots from keynums for one run.
type Derivation struct {
	codec    *keynum.Codec
	selector *ops.Selector
	bounds   Bounds
}

// NewDerivation creates the derivation of the run with the given seed and
// bounds.
func NewDerivation(seed int64, bounds Bounds) *Derivation {
	return &Derivation{
		codec:    keynum.NewCodec(seed),
		selector: ops.NewSelector(ops.OperationSeed(seed)),
		bounds:   bounds,
	}
}

func (d *Derivation) Codec() *keynum.Codec     { return d.codec }
func (d *Derivation) Selector() *ops.Selector { return d.selector }
func (d *Derivation) Bounds() Bounds          { return d.bounds }

// ExerciseOp returns the op thread performs at index.
func (d *Derivation) ExerciseOp(index int64, thread keynum.Thread) Op {
	return Op{
		Index: index,
		Type:  d.selector.UpdateOpType(index, thread),
		Value: ops.ExerciseValue(index, thread),
	}
}

// Slot derives the slot of keynum. Writes outside the bounds of the run
// are left out.
func (d *Derivation) Slot(kn int64) Slot {
	slot := Slot{
		Keynum:   kn,
		Populate: d.bounds.filter(keynum.KeynumToIndex(kn)),
		A:        Op{Index: -1},
		B:        Op{Index: -1},
	}
	if index := d.bounds.filter(d.codec.KeynumToExerciseIndex(kn, keynum.ThreadA)); index >= 0 {
		slot.A = d.ExerciseOp(index, keynum.ThreadA)
	}
	if index := d.bounds.filter(d.codec.KeynumToExerciseIndex(kn, keynum.ThreadB)); index >= 0 {
		slot.B = d.ExerciseOp(index, keynum.ThreadB)
	}
	return slot
}
