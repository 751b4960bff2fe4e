package ops

import (
	"fmt"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/permutation"
)

// --------------------------------------------------------------------------
// Update Operation Types
// --------------------------------------------------------------------------

// UpdateOpType is the closed set of update operations the exercise phase
// performs. Everything that depends on the kind of operation is stored
// as data in opInfos.
type UpdateOpType uint8

const (
	Put UpdateOpType = iota
	PutExecute
	PutIfAbsent
	PutIfAbsentExecute
	PutIfPresent
	PutIfPresentExecute
	PutIfVersion
	PutIfVersionExecute
	Delete
	DeleteExecute
	DeleteIfVersion
	DeleteIfVersionExecute
	MultiDelete
	BulkPut
)

// Effect describes how an operation changes the number of entries.
type Effect uint8

const (
	EffectNeutral Effect = iota // never changes presence
	EffectAdd                   // creates the entry if absent
	EffectRemove                // removes the entry if present
)

// PreviousKind describes what an operation reports about the entry it
// replaced.
type PreviousKind uint8

const (
	PreviousValue    PreviousKind = iota // the previous value
	PreviousPresence                     // only whether an entry existed
	PreviousNone                         // nothing
)

// transition computes the value after an operation from the value it
// writes and the value that was present before (nil = absent)
type transition func(newValue, previous Value) Value

type opInfo struct {
	name      string
	versioned bool
	execute   bool
	effect    Effect
	previous  PreviousKind
	result    transition
}

var (
	always = func(newValue, _ Value) Value {
		return newValue
	}
	ifAbsent = func(newValue, previous Value) Value {
		if previous.Present() {
			return previous
		}
		return newValue
	}
	ifPresent = func(newValue, previous Value) Value {
		if previous.Present() {
			return newValue
		}
		return nil
	}
	remove = func(_, _ Value) Value {
		return nil
	}
)

var opInfos = [...]opInfo{
	Put:                    {"Put", false, false, EffectAdd, PreviousValue, always},
	PutExecute:             {"PutExecute", false, true, EffectAdd, PreviousValue, always},
	PutIfAbsent:            {"PutIfAbsent", false, false, EffectAdd, PreviousValue, ifAbsent},
	PutIfAbsentExecute:     {"PutIfAbsentExecute", false, true, EffectAdd, PreviousValue, ifAbsent},
	PutIfPresent:           {"PutIfPresent", false, false, EffectNeutral, PreviousValue, ifPresent},
	PutIfPresentExecute:    {"PutIfPresentExecute", false, true, EffectNeutral, PreviousValue, ifPresent},
	PutIfVersion:           {"PutIfVersion", true, false, EffectNeutral, PreviousValue, ifPresent},
	PutIfVersionExecute:    {"PutIfVersionExecute", true, true, EffectNeutral, PreviousValue, ifPresent},
	Delete:                 {"Delete", false, false, EffectRemove, PreviousValue, remove},
	DeleteExecute:          {"DeleteExecute", false, true, EffectRemove, PreviousValue, remove},
	DeleteIfVersion:        {"DeleteIfVersion", true, false, EffectRemove, PreviousValue, remove},
	DeleteIfVersionExecute: {"DeleteIfVersionExecute", true, true, EffectRemove, PreviousValue, remove},
	MultiDelete:            {"MultiDelete", false, false, EffectRemove, PreviousPresence, remove},
	BulkPut:                {"BulkPut", false, false, EffectAdd, PreviousNone, always},
}

func (t UpdateOpType) info() opInfo {
	if int(t) >= len(opInfos) {
		panic(fmt.Sprintf("ops: unknown update operation type %d", t))
	}
	return opInfos[t]
}

func (t UpdateOpType) String() string {
	if int(t) >= len(opInfos) {
		return fmt.Sprintf("UpdateOpType(%d)", uint8(t))
	}
	return opInfos[t].name
}

// Versioned reports whether the operation reads the current version of the
// entry before it acts.
func (t UpdateOpType) Versioned() bool { return t.info().versioned }

// Execute reports whether the operation is sent as an atomic batch.
func (t UpdateOpType) Execute() bool { return t.info().execute }

// Effect returns the effect of the operation on the number of entries.
func (t UpdateOpType) Effect() Effect { return t.info().effect }

// Previous returns what the operation reports about the replaced entry.
func (t UpdateOpType) Previous() PreviousKind { return t.info().previous }

// Result returns the value of the entry after the operation wrote newValue
// on top of previous. nil means the entry is absent afterwards.
func (t UpdateOpType) Result(newValue, previous Value) Value {
	return t.info().result(newValue, previous)
}

// --------------------------------------------------------------------------
// Catalogue
// --------------------------------------------------------------------------

// catalogue lists the operations in pairs. Each pair is either an adding
// and a removing operation or two neutral ones, so every run of
// len(catalogue) consecutive selections is neutral with respect to the
// number of entries.
var catalogue = []UpdateOpType{
	Put, Delete,
	PutExecute, DeleteExecute,
	PutIfAbsent, DeleteIfVersion,
	PutIfAbsentExecute, DeleteIfVersionExecute,
	BulkPut, MultiDelete,
	PutIfPresent, PutIfVersion,
	PutIfPresentExecute, PutIfVersionExecute,
}

// Catalogue returns a copy of the ordered operation catalogue.
func Catalogue() []UpdateOpType {
	return append([]UpdateOpType(nil), catalogue...)
}

// OpTypeAt returns the catalogue entry selected by a permuted index.
func OpTypeAt(permuted uint64) UpdateOpType {
	return catalogue[permuted%uint64(len(catalogue))]
}

// --------------------------------------------------------------------------
// Selector
// --------------------------------------------------------------------------

// operationSeedSalt separates the operation permutation from the key
// permutation of the same run seed
const operationSeedSalt = 0x6f70732d73656564

// OperationSeed derives the per run operation seed from the run seed.
func OperationSeed(seed int64) int64 {
	return seed ^ operationSeedSalt
}

// Selector chooses the update operation of an exercise index.
type Selector struct {
	perm *permutation.Permutation
}

// NewSelector creates a selector for an operation seed.
func NewSelector(operationSeed int64) *Selector {
	return &Selector{perm: permutation.New(operationSeed)}
}

// UpdateOpType returns the operation thread performs at index. The upper
// half of the permuted index ranks thread A, the lower half thread B.
func (s *Selector) UpdateOpType(index int64, thread keynum.Thread) UpdateOpType {
	permuted := s.perm.Transform48(uint64(index))
	if thread == keynum.ThreadA {
		return OpTypeAt(permuted >> 24)
	}
	return OpTypeAt(permuted & 0xffffff)
}
