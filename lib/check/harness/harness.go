package harness

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/ValentinKolb/dKVcheck/lib/check/keynum"
	"github.com/ValentinKolb/dKVcheck/lib/check/oracle"
	"github.com/ValentinKolb/dKVcheck/lib/check/stats"
	"github.com/ValentinKolb/dKVcheck/lib/common"
	"github.com/ValentinKolb/dKVcheck/lib/store"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("harness")

var (
	// ErrTooManyResults is reported when a major key holds more than
	// keynum.MinorKeyMax entries.
	ErrTooManyResults = errors.New("too many results")
	// ErrBarrierTimeout is returned when the threads of a pair do not meet
	// at the end of a block in time.
	ErrBarrierTimeout = errors.New("barrier timeout")
	// ErrSeedMismatch is returned when the configured seed differs from the
	// seed the store was populated with.
	ErrSeedMismatch = errors.New("seed mismatch")
	// ErrPhaseFailed is returned by a phase that recorded unexpected results
	// or exceptions.
	ErrPhaseFailed = errors.New("phase failed")
)

// keys of the run state, outside of the key space of the codec
const (
	statePrefix = "/_dkvcheck/"
	seedKey     = statePrefix + "seed"
	phaseKey    = statePrefix + "phase"
)

// values of phaseKey
const (
	stateExercising = "exercising"
	stateExercised  = "exercised"
)

// Phase is the phase the harness currently executes.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePopulate
	PhaseExercise
	PhaseCheck
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePopulate:
		return "populate"
	case PhaseExercise:
		return "exercise"
	case PhaseCheck:
		return "check"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Harness runs the phases of a data check against a store. A harness is
// used for a single run; its statistics accumulate over all phases.
type Harness struct {
	store store.IStore
	cfg   common.CheckConfig
	stats *stats.Stats

	checker *oracle.Checker // set once the seed is known
	seed    atomic.Int64

	phase      atomic.Int32
	blocksDone atomic.Int64
	// published positions of the blocks the exercise phase currently runs
	active *xsync.MapOf[int64, *blockProgress]
}

// New creates a harness for the store. The configuration is validated
// before anything is written.
func New(s store.IStore, cfg common.CheckConfig) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid check configuration")
	}
	return &Harness{
		store:  s,
		cfg:    cfg,
		stats:  stats.New(),
		active: xsync.NewMapOf[int64, *blockProgress](),
	}, nil
}

// Stats returns the aggregator of the run.
func (h *Harness) Stats() *stats.Stats { return h.stats }

// Seed returns the seed of the run, zero before the first phase resolved it.
func (h *Harness) Seed() int64 { return h.seed.Load() }

// Phase returns the phase the harness currently executes.
func (h *Harness) Phase() Phase { return Phase(h.phase.Load()) }

// Run executes populate, exercise and check. A MaxExecutionTime stops all
// workers once it is exceeded.
func (h *Harness) Run(ctx context.Context) error {
	if h.cfg.MaxExecutionTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.MaxExecutionTime)
		defer cancel()
	}

	for _, phase := range []func(context.Context) error{h.Populate, h.Exercise, h.Check} {
		if err := phase(ctx); err != nil {
			return err
		}
	}
	h.phase.Store(int32(PhaseDone))
	return nil
}

// --------------------------------------------------------------------------
// Run state
// --------------------------------------------------------------------------

// resolveSeed determines the seed of the run. The populate phase writes a
// configured or freshly generated seed, every other phase loads it from
// the store. Both fail with ErrSeedMismatch if store and config disagree.
func (h *Harness) resolveSeed(ctx context.Context, populate bool) error {
	if h.checker != nil {
		return nil
	}

	var stored []byte
	var found bool
	err := retry(ctx, h.cfg.RequestTimeout, func(bool) (err error) {
		stored, _, found, err = h.store.Get(seedKey)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "failed to read the seed")
	}

	seed := h.cfg.Seed
	if found {
		parsed, err := strconv.ParseUint(string(stored), 16, 64)
		if err != nil {
			return errors.Wrapf(err, "invalid seed %q in store", stored)
		}
		if seed != 0 && seed != int64(parsed) {
			return errors.Wrapf(ErrSeedMismatch, "store was populated with seed %#x, configured %#x", parsed, uint64(seed))
		}
		seed = int64(parsed)
	}

	switch {
	case seed == 0 && !populate:
		return errors.New("store holds no seed, run the populate phase first")
	case seed == 0:
		for seed == 0 {
			seed = rand.Int64()
		}
	}

	if populate && !found {
		value := []byte(formatSeed(seed))
		err := retry(ctx, h.cfg.RequestTimeout, func(bool) error {
			_, err := h.store.Put(seedKey, value)
			return err
		})
		if err != nil {
			return errors.Wrap(err, "failed to write the seed")
		}
	}

	h.seed.Store(seed)
	h.checker = oracle.NewChecker(oracle.Config{
		Seed:     seed,
		Bounds:   h.cfg.Bounds(),
		FailFast: h.cfg.FailFast,
	}, h.stats)
	Logger.Infof("using seed %s", formatSeed(seed))
	return nil
}

func formatSeed(seed int64) string {
	return fmt.Sprintf("%016x", uint64(seed))
}

// readState returns the value of phaseKey, empty if unset
func (h *Harness) readState(ctx context.Context) (string, error) {
	var value []byte
	err := retry(ctx, h.cfg.RequestTimeout, func(bool) (err error) {
		value, _, _, err = h.store.Get(phaseKey)
		return err
	})
	return string(value), err
}

func (h *Harness) writeState(ctx context.Context, state string) error {
	return retry(ctx, h.cfg.RequestTimeout, func(bool) error {
		if state == "" {
			_, err := h.store.Delete(phaseKey)
			return err
		}
		_, err := h.store.Put(phaseKey, []byte(state))
		return err
	})
}

func isStateKey(key string) bool {
	return strings.HasPrefix(key, statePrefix)
}

// --------------------------------------------------------------------------
// Verdicts
// --------------------------------------------------------------------------

// unexpected records an anomaly the oracle cannot express. In fail fast
// mode the returned error stops the run.
func (h *Harness) unexpected(cause error, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	h.stats.RecordUnexpectedResult(msg)
	Logger.Errorf("%s", msg)
	if h.cfg.FailFast {
		return errors.Mark(errors.Wrap(cause, msg), oracle.ErrUnexpectedResult)
	}
	return nil
}

// exception records a store failure that outlived its retries. In fail
// fast mode the returned error stops the run.
func (h *Harness) exception(err error, format string, args ...interface{}) error {
	err = errors.Wrapf(err, format, args...)
	h.stats.RecordUnexpectedException(err)
	Logger.Errorf("%v", err)
	if h.cfg.FailFast {
		return err
	}
	return nil
}

// verdict fails a finished phase that recorded unexpected results or
// exceptions.
func (h *Harness) verdict(phase Phase) error {
	snap := h.stats.Snapshot()
	Logger.Infof("%s phase finished\n%s", phase, snap)
	if !snap.Passed {
		return errors.Wrapf(ErrPhaseFailed, "%s: %d unexpected results, %d unexpected exceptions",
			phase, snap.UnexpectedResults, snap.UnexpectedExceptions)
	}
	return nil
}

// --------------------------------------------------------------------------
// Key space helpers
// --------------------------------------------------------------------------

// blocks returns the first index of every block in bounds
func (h *Harness) blocks() []int64 {
	bounds := h.cfg.Bounds()
	var starts []int64
	for start := bounds.Start; start < bounds.End; start += keynum.BlockCount {
		starts = append(starts, start)
	}
	return starts
}

// majors returns the major key numbers (keynum >> 8) of a block
func majors(blockStart int64) (first, last int64) {
	first = keynum.IndexToKeynum(blockStart) / keynum.MinorKeyMax
	return first, first + keynum.BlockMax/keynum.MinorKeyMax
}
