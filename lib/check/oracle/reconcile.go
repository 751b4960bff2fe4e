package oracle

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/ops"
)

// --------------------------------------------------------------------------
// Outcome
// --------------------------------------------------------------------------

// Classification is the verdict of a single check.
type Classification uint8

const (
	// InOrder: the value is explained by an ordering consistent with the
	// reader positions
	InOrder Classification = iota
	// Lagging: the value is explained, but only by reordering operations
	Lagging
	// OtherRetryResult: the value is only explained because the operation
	// was retried
	OtherRetryResult
	// UnexpectedKey: a value was found under a key the run never writes
	UnexpectedKey
	// MissingValue: no value was found but every explanation has one
	MissingValue
	// UnexpectedValue: a value was found that no explanation produces
	UnexpectedValue
)

var classNames = [...]string{
	InOrder:          "in order",
	Lagging:          "lagging",
	OtherRetryResult: "other retry result",
	UnexpectedKey:    "unexpected key",
	MissingValue:     "missing value",
	UnexpectedValue:  "unexpected value",
}

func (c Classification) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("Classification(%d)", uint8(c))
}

// Anomaly reports whether the classification is a failure of the store.
func (c Classification) Anomaly() bool {
	return c >= UnexpectedKey
}

// Candidate is one explanation the oracle considered.
type Candidate struct {
	Name  string
	Value ops.Value
	Lag   int64
}

func (c Candidate) String() string {
	if c.Lag > 0 {
		return fmt.Sprintf("%s=%s (lag %d)", c.Name, c.Value, c.Lag)
	}
	return fmt.Sprintf("%s=%s", c.Name, c.Value)
}

// Outcome is the result of reconciling an observed value.
type Outcome struct {
	OK    bool
	Class Classification
	// Lag is the minimal reordering distance of the matching explanation,
	// zero if the explanation is in order
	Lag int64
	// Match names the matching explanation
	Match string
	// Detail describes anomalies
	Detail string
	// Candidates lists every explanation considered, set for anomalies
	Candidates []Candidate
}

func (o Outcome) String() string {
	switch {
	case o.Class == InOrder:
		return fmt.Sprintf("%s (%s)", o.Class, o.Match)
	case o.Class == Lagging:
		return fmt.Sprintf("%s by %d (%s)", o.Class, o.Lag, o.Match)
	case o.Class == OtherRetryResult:
		return fmt.Sprintf("%s (%s)", o.Class, o.Match)
	default:
		return fmt.Sprintf("%s: %s", o.Class, o.Detail)
	}
}

// --------------------------------------------------------------------------
// Ordering constraints
// --------------------------------------------------------------------------

// happened is the lag needed for the op at ex to have happened before a
// reader at pos. Equal indices cannot be ordered and cost a lag of one.
func happened(ex, pos int64) int64 {
	if ex < pos {
		return 0
	}
	return max(1, ex-pos)
}

// pending is the lag needed for the op at ex to still be outstanding for a
// reader at pos.
func pending(ex, pos int64) int64 {
	if ex > pos {
		return 0
	}
	return max(1, pos-ex)
}

// precedes is the lag needed for the op at first to happen before the op at
// second of the other thread.
func precedes(first, second int64) int64 {
	if first < second {
		return 0
	}
	return max(1, first-second)
}

func matches(expected, observed ops.Value, presentOnly bool) bool {
	if presentOnly {
		return expected.Present() == observed.Present()
	}
	return expected.Equal(observed)
}

// reconcile picks the best matching candidate. An in-order candidate wins
// immediately, otherwise the one with the smallest lag. If nothing
// matches and the operation was retried the widened candidates are tried
// in their given order.
func reconcile(candidates, widened []Candidate, observed ops.Value, retrying, presentOnly bool) Outcome {
	best := -1
	for i, c := range candidates {
		if !matches(c.Value, observed, presentOnly) {
			continue
		}
		if c.Lag == 0 {
			return Outcome{OK: true, Class: InOrder, Match: c.Name}
		}
		if best < 0 || c.Lag < candidates[best].Lag {
			best = i
		}
	}
	if best >= 0 {
		c := candidates[best]
		return Outcome{OK: true, Class: Lagging, Lag: c.Lag, Match: c.Name}
	}

	if retrying {
		for _, c := range widened {
			if matches(c.Value, observed, presentOnly) {
				return Outcome{OK: true, Class: OtherRetryResult, Match: c.Name}
			}
		}
	}

	out := Outcome{Class: UnexpectedValue, Candidates: candidates}
	expectsValue := false
	for _, c := range candidates {
		expectsValue = expectsValue || c.Value.Present()
	}
	switch {
	case !observed.Present():
		out.Class = MissingValue
		out.Detail = fmt.Sprintf("expected one of %s", describe(candidates))
	case !expectsValue:
		out.Detail = fmt.Sprintf("observed %s, no value expected", observed)
	default:
		out.Detail = fmt.Sprintf("observed %s, expected one of %s", observed, describe(candidates))
	}
	return out
}

func describe(candidates []Candidate) string {
	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// --------------------------------------------------------------------------
// Reconcile
// --------------------------------------------------------------------------

// Reconcile checks the current value of a slot as seen by a reader at pos.
// The value is explained by one of: no exercise op, A only, B only,
// A then B or B then A, each constrained by the reader positions.
func Reconcile(slot Slot, observed ops.Value, pos Positions, retrying, presentOnly bool) Outcome {
	if slot.Keynum < 0 {
		return unexpectedKey(observed)
	}

	initial := slot.Initial()
	a, b := slot.A, slot.B

	// lag of "op has not happened", zero for ops the run never performs
	notYet := func(op Op, p int64) int64 {
		if !op.Happens() {
			return 0
		}
		return pending(op.Index, p)
	}

	candidates := []Candidate{{
		Name:  "populate",
		Value: initial,
		Lag:   max(notYet(a, pos.A), notYet(b, pos.B)),
	}}
	if a.Happens() {
		candidates = append(candidates, Candidate{
			Name:  "A",
			Value: a.Apply(initial),
			Lag:   max(happened(a.Index, pos.A), notYet(b, pos.B)),
		})
	}
	if b.Happens() {
		candidates = append(candidates, Candidate{
			Name:  "B",
			Value: b.Apply(initial),
			Lag:   max(notYet(a, pos.A), happened(b.Index, pos.B)),
		})
	}
	if a.Happens() && b.Happens() {
		both := max(happened(a.Index, pos.A), happened(b.Index, pos.B))
		candidates = append(candidates,
			Candidate{
				Name:  "A->B",
				Value: b.Apply(a.Apply(initial)),
				Lag:   max(both, precedes(a.Index, b.Index)),
			},
			Candidate{
				Name:  "B->A",
				Value: a.Apply(b.Apply(initial)),
				Lag:   max(both, precedes(b.Index, a.Index)),
			},
		)
	}

	widened := []Candidate{{Name: "retry:absent"}}
	if a.Happens() {
		widened = append(widened, Candidate{Name: "retry:A", Value: a.Value})
	}
	if b.Happens() {
		widened = append(widened, Candidate{Name: "retry:B", Value: b.Value})
	}

	return reconcile(candidates, widened, observed, retrying, presentOnly)
}

// ReconcilePrevious checks the value thread found in the slot right before
// its own op was applied. otherIndex is the position of the other thread.
// The previous value is explained by the other thread's op either still
// outstanding or already applied.
func ReconcilePrevious(slot Slot, thread keynum.Thread, observed ops.Value, otherIndex int64, retrying, presentOnly bool) Outcome {
	if slot.Keynum < 0 {
		return unexpectedKey(observed)
	}
	self, other := slot.Op(thread), slot.Op(thread.Other())
	if !self.Happens() {
		return Outcome{
			Class:  UnexpectedKey,
			Detail: fmt.Sprintf("keynum %#x is not updated by thread %s", slot.Keynum, thread),
		}
	}

	initial := slot.Initial()
	candidates := []Candidate{{Name: "before " + thread.Other().String(), Value: initial}}
	if other.Happens() {
		before := pending(other.Index, otherIndex)
		// a versioned op of the other thread with a smaller index would
		// have had to wait for this op
		if other.Type.Versioned() && other.Index < self.Index {
			before = max(before, self.Index-other.Index)
		}
		candidates[0].Lag = before
		candidates = append(candidates, Candidate{
			Name:  "after " + thread.Other().String(),
			Value: other.Apply(initial),
			Lag:   happened(other.Index, otherIndex),
		})
	}

	widened := []Candidate{{Name: "retry:absent"}}
	if other.Happens() {
		widened = append(widened, Candidate{Name: "retry:" + thread.Other().String(), Value: other.Value})
	}
	widened = append(widened, Candidate{Name: "retry:" + thread.String(), Value: self.Value})

	return reconcile(candidates, widened, observed, retrying, presentOnly)
}

func unexpectedKey(observed ops.Value) Outcome {
	if !observed.Present() {
		return Outcome{OK: true, Class: InOrder, Match: "absent"}
	}
	return Outcome{Class: UnexpectedKey, Detail: fmt.Sprintf("value %s under a key the run never writes", observed)}
}
