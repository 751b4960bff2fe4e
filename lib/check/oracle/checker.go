package oracle

import (
	"fmt"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/ops"
	"github.com/ValentinKolb/dKVcheck/lib/check/stats"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("oracle")

// ErrUnexpectedResult is returned by the checker in fail fast mode for the
// first anomaly. Callers stop the run when errors.Is(err, ErrUnexpectedResult).
var ErrUnexpectedResult = errors.New("unexpected result")

// Config configures a Checker.
type Config struct {
	Seed     int64
	Bounds   Bounds
	FailFast bool
}

// Checker reconciles observed values of a run and records the outcomes.
// It is safe for concurrent use.
type Checker struct {
	derive   *Derivation
	stats    *stats.Stats
	failFast bool
}

// NewChecker creates a checker recording into st.
func NewChecker(cfg Config, st *stats.Stats) *Checker {
	return &Checker{
		derive:   NewDerivation(cfg.Seed, cfg.Bounds),
		stats:    st,
		failFast: cfg.FailFast,
	}
}

// Derivation returns the derivation the checker derives slots with.
func (c *Checker) Derivation() *Derivation { return c.derive }

// Stats returns the aggregator the checker records into.
func (c *Checker) Stats() *stats.Stats { return c.stats }

// CheckValue checks the value observed under key by a reader at pos. The
// returned error is only set in fail fast mode and wraps
// ErrUnexpectedResult.
func (c *Checker) CheckValue(key keynum.Key, observed ops.Value, pos Positions, retrying, presentOnly bool) (Outcome, error) {
	kn := c.derive.codec.KeyToKeynum(key)
	var slot Slot
	if kn < 0 {
		slot = Slot{Keynum: -1}
	} else {
		slot = c.derive.Slot(kn)
	}
	out := Reconcile(slot, observed, pos, retrying, presentOnly)
	return out, c.record(key, kn, "value", out)
}

// CheckPreviousValue checks the value thread replaced with its op on key.
// otherIndex is the current index of the other thread.
func (c *Checker) CheckPreviousValue(key keynum.Key, thread keynum.Thread, observed ops.Value, otherIndex int64, retrying, presentOnly bool) (Outcome, error) {
	kn := c.derive.codec.KeyToKeynum(key)
	var slot Slot
	if kn < 0 {
		slot = Slot{Keynum: -1}
	} else {
		slot = c.derive.Slot(kn)
	}
	out := ReconcilePrevious(slot, thread, observed, otherIndex, retrying, presentOnly)
	return out, c.record(key, kn, "previous value of "+thread.String(), out)
}

func (c *Checker) record(key keynum.Key, kn int64, what string, out Outcome) error {
	c.stats.RecordCheck()
	switch out.Class {
	case InOrder:
	case Lagging:
		c.stats.RecordLag(out.Lag)
		Logger.Debugf("%s of %s (keynum %#x) lagging by %d (%s)", what, key, kn, out.Lag, out.Match)
	case OtherRetryResult:
		c.stats.RecordOtherRetryResult(fmt.Sprintf("%s of %s (keynum %#x) matched %s", what, key, kn, out.Match))
	default:
		msg := fmt.Sprintf("%s of %s (keynum %#x): %s", what, key, kn, out)
		c.stats.RecordUnexpectedResult(msg)
		if c.failFast {
			return errors.Wrap(ErrUnexpectedResult, msg)
		}
	}
	return nil
}
